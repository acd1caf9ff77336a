// Package vmap persists marker maps as YAML files and resolves the configured map initialization mode at
// node startup.
package vmap

import (
	"io"
	"os"
	"sort"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/clydemcqueen/fiducial-vlam-sam/fvmap"
	"github.com/clydemcqueen/fiducial-vlam-sam/twc"
)

// markerYAML is one marker entry in the map file: id, update count, fixed flag, pose as xyz + rpy Euler
// angles in radians, and a 36-entry covariance when the map style persists one.
type markerYAML struct {
	ID  int32     `yaml:"id"`
	U   uint32    `yaml:"u"`
	F   int       `yaml:"f"`
	XYZ []float64 `yaml:"xyz,flow"`
	RPY []float64 `yaml:"rpy,flow"`
	Cov []float64 `yaml:"cov,flow,omitempty"`
}

type mapYAML struct {
	MarkerLength float64      `yaml:"marker_length"`
	MapStyle     int          `yaml:"map_style"`
	Markers      []markerYAML `yaml:"markers"`
}

// Save writes the map to w. Markers are emitted in ascending id order so output is deterministic;
// covariances are omitted when the map style is Pose.
func Save(m *fvmap.Map, w io.Writer) error {
	doc := mapYAML{
		MarkerLength: m.MarkerLength(),
		MapStyle:     int(m.MapStyle()),
	}

	var markers []*fvmap.Marker
	m.Each(func(marker *fvmap.Marker) {
		markers = append(markers, marker)
	})
	sort.Slice(markers, func(i, j int) bool { return markers[i].ID < markers[j].ID })

	for _, marker := range markers {
		mean := marker.TMapMarker.Vector6()
		entry := markerYAML{
			ID:  marker.ID,
			U:   marker.UpdateCount,
			XYZ: []float64{mean[0], mean[1], mean[2]},
			RPY: []float64{mean[3], mean[4], mean[5]},
		}
		if marker.IsFixed {
			entry.F = 1
		}
		if m.MapStyle() != fvmap.StylePose {
			entry.Cov = marker.TMapMarker.Cov36()
		}
		doc.Markers = append(doc.Markers, entry)
	}

	enc := yaml.NewEncoder(w)
	defer enc.Close()
	if err := enc.Encode(&doc); err != nil {
		return errors.Wrap(err, "map emit failed")
	}
	return nil
}

// SaveFile writes the map to the named file.
func SaveFile(m *fvmap.Map, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return errors.Wrapf(err, "can not open map file for writing: %s", filename)
	}
	defer f.Close()
	return Save(m, f)
}

// Load parses a map from r. A missing map_style key is read as Pose; a missing or malformed
// marker_length or marker entry is a parse error.
func Load(r io.Reader) (*fvmap.Map, error) {
	var doc mapYAML
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "map parse failed")
	}
	if doc.MarkerLength <= 0 {
		return nil, errors.Errorf("marker_length must be positive, got %f", doc.MarkerLength)
	}
	style := fvmap.Style(doc.MapStyle)
	if style < fvmap.StylePose || style > fvmap.StyleCorners {
		return nil, errors.Errorf("unknown map_style %d", doc.MapStyle)
	}

	m := fvmap.NewMap(doc.MarkerLength, style)
	for _, entry := range doc.Markers {
		marker, err := markerFromYAML(entry, style)
		if err != nil {
			return nil, err
		}
		if err := m.Insert(marker); err != nil {
			return nil, errors.Wrapf(err, "marker %d", entry.ID)
		}
	}
	return m, nil
}

func markerFromYAML(entry markerYAML, style fvmap.Style) (*fvmap.Marker, error) {
	if len(entry.XYZ) != 3 {
		return nil, errors.Errorf("marker %d: xyz incorrect size %d", entry.ID, len(entry.XYZ))
	}
	if len(entry.RPY) != 3 {
		return nil, errors.Errorf("marker %d: rpy incorrect size %d", entry.ID, len(entry.RPY))
	}
	var cov []float64
	if style != fvmap.StylePose {
		if len(entry.Cov) != 36 {
			return nil, errors.Errorf("marker %d: cov incorrect size %d", entry.ID, len(entry.Cov))
		}
		cov = entry.Cov
	}

	mean := [6]float64{
		entry.XYZ[0], entry.XYZ[1], entry.XYZ[2],
		entry.RPY[0], entry.RPY[1], entry.RPY[2],
	}
	return &fvmap.Marker{
		ID:          entry.ID,
		TMapMarker:  twc.NewFromVector(mean, cov),
		UpdateCount: entry.U,
		IsFixed:     entry.F != 0,
	}, nil
}

// LoadFile parses a map from the named file.
func LoadFile(filename string) (*fvmap.Map, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "can not open map file for reading: %s", filename)
	}
	defer f.Close()
	return Load(f)
}
