package logging

import (
	"os"

	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

// Appender is an output for log entries. This is a subset of the `zapcore.Core` interface, so any
// zapcore.Core (e.g. an observer core in tests) is also an Appender.
type Appender interface {
	// Write submits a structured log entry to the appender for logging.
	Write(zapcore.Entry, []zapcore.Field) error
	// Sync is for signaling that any buffered logs to `Write` should be flushed. E.g. at shutdown.
	Sync() error
}

// ConsoleAppender will create human readable lines from log events and write them to the desired output.
type ConsoleAppender struct {
	io zapcore.WriteSyncer
}

// NewStdoutAppender creates a new appender that prints to stdout.
func NewStdoutAppender() ConsoleAppender {
	return ConsoleAppender{zapcore.Lock(os.Stdout)}
}

// NewWriterAppender creates a new appender that prints to the given writer.
func NewWriterAppender(writer zapcore.WriteSyncer) ConsoleAppender {
	return ConsoleAppender{writer}
}

var consoleEncoder = zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
	TimeKey:        "ts",
	LevelKey:       "level",
	NameKey:        "logger",
	CallerKey:      "caller",
	FunctionKey:    zapcore.OmitKey,
	MessageKey:     "msg",
	StacktraceKey:  "stacktrace",
	LineEnding:     zapcore.DefaultLineEnding,
	EncodeLevel:    zapcore.CapitalLevelEncoder,
	EncodeTime:     zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z0700"),
	EncodeDuration: zapcore.StringDurationEncoder,
	EncodeCaller:   zapcore.ShortCallerEncoder,
})

func (appender ConsoleAppender) encode(entry zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	return consoleEncoder.EncodeEntry(entry, fields)
}

// Write outputs the log entry to the underlying stream.
func (appender ConsoleAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	buf, err := appender.encode(entry, fields)
	if err != nil {
		return err
	}
	defer buf.Free()
	_, err = appender.io.Write(buf.Bytes())
	return err
}

// Sync is a no-op; console writes are unbuffered.
func (appender ConsoleAppender) Sync() error {
	return nil
}
