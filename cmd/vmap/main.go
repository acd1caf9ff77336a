// The vmap command inspects and exercises fiducial marker maps: dump renders a map file as a table,
// solve runs a synthetic localization pass through the factor-graph or, with --sam=false, the geometric
// backend.
package main

import (
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/clydemcqueen/fiducial-vlam-sam/fvmap"
	"github.com/clydemcqueen/fiducial-vlam-sam/internal/logging"
	"github.com/clydemcqueen/fiducial-vlam-sam/msg"
	"github.com/clydemcqueen/fiducial-vlam-sam/observation"
	"github.com/clydemcqueen/fiducial-vlam-sam/solver"
	"github.com/clydemcqueen/fiducial-vlam-sam/spatialmath"
	"github.com/clydemcqueen/fiducial-vlam-sam/twc"
	"github.com/clydemcqueen/fiducial-vlam-sam/vmap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

var logLevel string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "vmap",
		Short: "Inspect and exercise fiducial marker maps",
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, or error")
	root.AddCommand(newDumpCmd(), newSolveCmd(), newSimulateCmd())
	return root
}

func newLogger() (logging.Logger, error) {
	logger := logging.NewLogger("vmap")
	level, err := logging.LevelFromString(logLevel)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(level)
	return logger, nil
}

func newDumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump <map.yaml>",
		Short: "Render a map file as a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := vmap.LoadFile(args[0])
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"ID", "Fixed", "Updates", "X", "Y", "Z", "Roll", "Pitch", "Yaw"})

			var markers []*fvmap.Marker
			m.Each(func(marker *fvmap.Marker) { markers = append(markers, marker) })
			for _, marker := range sortedByID(markers) {
				mean := marker.TMapMarker.Vector6()
				t.AppendRow(table.Row{
					marker.ID, marker.IsFixed, marker.UpdateCount,
					fmt.Sprintf("%.4f", mean[0]), fmt.Sprintf("%.4f", mean[1]), fmt.Sprintf("%.4f", mean[2]),
					fmt.Sprintf("%.4f", mean[3]), fmt.Sprintf("%.4f", mean[4]), fmt.Sprintf("%.4f", mean[5]),
				})
			}
			t.AppendFooter(table.Row{"", "", "", "", "", "", "length", "", fmt.Sprintf("%.3f m", m.MarkerLength())})
			t.Render()
			return nil
		},
	}
}

func sortedByID(markers []*fvmap.Marker) []*fvmap.Marker {
	sort.Slice(markers, func(i, j int) bool { return markers[i].ID < markers[j].ID })
	return markers
}

func newSolveCmd() *cobra.Command {
	var useSAM bool
	cmd := &cobra.Command{
		Use:   "solve",
		Short: "Run one synthetic localization pass and log the recovered pose",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger()
			if err != nil {
				return err
			}

			ci := observation.CameraInfo{Fx: 600, Fy: 600, Cx: 320, Cy: 240}
			cfg := solver.DefaultConfig()
			cfg.SamNotCV = useSAM
			fm, err := solver.New(cfg, ci, logger)
			if err != nil {
				return err
			}

			// One fixed marker at the map origin, camera half a meter up looking straight down at it.
			const markerLength = 0.1
			m := fvmap.NewMap(markerLength, fvmap.StylePose)
			if err := m.Insert(&fvmap.Marker{ID: 0, TMapMarker: twc.Identity(), IsFixed: true}); err != nil {
				return err
			}
			tMapCamera := spatialmath.NewPose(
				r3.Vector{Z: 0.5},
				&spatialmath.EulerAngles{Roll: math.Pi},
			)
			obs := renderObservation(0, tMapCamera, twc.Identity(), markerLength, ci)

			result := fm.SolveTMapCamera(observation.Observations{obs}, m)
			if !result.IsValid() {
				logger.Error("localization failed")
				return nil
			}
			mean := result.Vector6()
			logger.Infow("localized",
				"backend", backendName(useSAM),
				"xyz", fmt.Sprintf("(%.4f, %.4f, %.4f)", mean[0], mean[1], mean[2]),
				"rpy", fmt.Sprintf("(%.4f, %.4f, %.4f)", mean[3], mean[4], mean[5]))
			return nil
		},
	}
	cmd.Flags().BoolVar(&useSAM, "sam", true, "use the factor-graph backend instead of the geometric one")
	return cmd
}

func newSimulateCmd() *cobra.Command {
	var outFile string
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Build a map from synthetic frames of a moving camera and optionally save it",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger()
			if err != nil {
				return err
			}

			ci := observation.CameraInfo{Fx: 600, Fy: 600, Cx: 320, Cy: 240}
			fm, err := solver.New(solver.DefaultConfig(), ci, logger)
			if err != nil {
				return err
			}

			const markerLength = 0.1
			init, err := vmap.NewInitializer(vmap.InitConfig{
				Mode:         vmap.InitFixedMarker,
				MarkerLength: markerLength,
				MapStyle:     fvmap.StyleCovariance,
				MarkerID:     0,
				TMapMarker:   twc.Identity(),
			}, logger)
			if err != nil {
				return err
			}
			m := init.Map()

			// A second marker the camera discovers as it slides sideways above the plane.
			truth1 := twc.New(spatialmath.NewPoseFromPoint(r3.Vector{X: 0.2}), nil)
			for step := 0; step < 5; step++ {
				tMapCamera := spatialmath.NewPose(
					r3.Vector{X: 0.05 * float64(step), Z: 0.8},
					&spatialmath.EulerAngles{Roll: math.Pi},
				)
				obsList := observation.Observations{
					renderObservation(0, tMapCamera, twc.Identity(), markerLength, ci),
					renderObservation(1, tMapCamera, truth1, markerLength, ci),
				}

				pose := fm.SolveTMapCamera(obsList, m)
				if !pose.IsValid() {
					logger.Warnw("localization failed", "step", step)
					continue
				}
				fm.UpdateMap(pose, obsList, m)

				mapMsg := msg.NewMapMsg(msg.Header{Stamp: time.Now(), FrameID: "map"}, m)
				logger.Infow("frame processed", "step", step, "markers", len(mapMsg.IDs))
			}

			if marker := m.Find(1); marker != nil {
				mean := marker.TMapMarker.Vector6()
				logger.Infow("discovered marker",
					"id", 1,
					"updates", marker.UpdateCount,
					"xyz", fmt.Sprintf("(%.4f, %.4f, %.4f)", mean[0], mean[1], mean[2]))
			}

			if outFile != "" {
				if err := vmap.SaveFile(m, outFile); err != nil {
					return err
				}
				logger.Infow("map saved", "file", outFile)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&outFile, "out", "", "write the resulting map to this YAML file")
	return cmd
}

func backendName(useSAM bool) string {
	if useSAM {
		return "sam"
	}
	return "cv"
}

// renderObservation projects a marker's corners through an ideal camera at tMapCamera.
func renderObservation(
	id int32,
	tMapCamera spatialmath.Pose,
	tMapMarker twc.TWC,
	markerLength float64,
	ci observation.CameraInfo,
) observation.Observation {
	camFromMap := spatialmath.PoseInverse(tMapCamera)
	corners := fvmap.MarkerCornersInFrame(tMapMarker, markerLength)
	var imageCorners [observation.CornerCount]r2.Point
	for i, c := range corners {
		camPt := spatialmath.Compose(camFromMap, spatialmath.NewPoseFromPoint(c)).Point()
		imageCorners[i] = r2.Point{
			X: camPt.X/camPt.Z*ci.Fx + ci.Cx,
			Y: camPt.Y/camPt.Z*ci.Fy + ci.Cy,
		}
	}
	return observation.NewObservation(id, imageCorners)
}
