// File: internal/calibration/calibration.go

// Package calibration maps named screen regions from a user-maintained
// calibration file to absolute display coordinates, and derives the
// logical-to-capture scale factor for HiDPI displays.
package calibration

import (
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/fusion-pilot/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Retina-style captures report roughly twice the logical resolution. Ratios
// outside this band are treated as 1:1 rather than guessed at.
const (
	minHiDPIRatio = 1.8
	maxHiDPIRatio = 2.2
)

// Store holds the calibrated regions keyed by name (canvas, timeline,
// browser, viewcube, measure_panel, ...).
type Store struct {
	path    string
	regions map[string]schemas.Region
}

// Load reads the calibration file. A missing file yields an empty store, not
// an error: the loop degrades to whatever regions exist.
func Load(path string) (*Store, error) {
	store := &Store{path: path, regions: map[string]schemas.Region{}}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return store, nil
		}
		return nil, fmt.Errorf("read calibration %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &store.regions); err != nil {
		return nil, fmt.Errorf("parse calibration %s: %w", path, err)
	}
	return store, nil
}

// Path returns the file this store was loaded from.
func (s *Store) Path() string { return s.path }

// Has reports whether a named region is calibrated.
func (s *Store) Has(name string) bool {
	_, ok := s.regions[name]
	return ok
}

// Region returns the named region or ErrRegionNotFound.
func (s *Store) Region(name string) (schemas.Region, error) {
	region, ok := s.regions[name]
	if !ok {
		return schemas.Region{}, fmt.Errorf("%w: %s", schemas.ErrRegionNotFound, name)
	}
	return region, nil
}

// Names returns the calibrated region names in no particular order.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.regions))
	for name := range s.regions {
		names = append(names, name)
	}
	return names
}

// DeriveScale computes the factor that converts capture-image pixels to
// logical display points. The width and height ratios are averaged; only a
// ratio inside the HiDPI band produces a non-unit factor. The raw ratio is
// returned for logging.
func DeriveScale(info schemas.ScreenInfo, capture schemas.CaptureResult) (float64, float64) {
	if info.Width == 0 || info.Height == 0 || capture.Width == 0 || capture.Height == 0 {
		return 1.0, 0.0
	}
	ratioW := float64(capture.Width) / float64(info.Width)
	ratioH := float64(capture.Height) / float64(info.Height)
	ratio := (ratioW + ratioH) / 2.0
	if ratio >= minHiDPIRatio && ratio <= maxHiDPIRatio {
		return float64(info.Width) / float64(capture.Width), ratio
	}
	return 1.0, ratio
}

// RegionPoint converts a relative position inside a region to absolute
// display coordinates, applying the scale factor to the final point.
func RegionPoint(region schemas.Region, relX, relY, scale float64) (float64, float64) {
	absX := float64(region.X) + float64(region.Width)*relX
	absY := float64(region.Y) + float64(region.Height)*relY
	return absX * scale, absY * scale
}

// BBoxCenterPoint converts a bounding box detected inside a region's capture
// image to the absolute display point of its center. Only the image-relative
// part is scaled; the region origin is already in display points.
func BBoxCenterPoint(region schemas.Region, bbox schemas.BBox, scale float64) (float64, float64) {
	centerX, centerY := bbox.Center()
	return float64(region.X) + centerX*scale, float64(region.Y) + centerY*scale
}

// ShiftBelowPanel moves a y coordinate out of an obstructing panel: first
// below it with clearance, clamped to the canvas, otherwise above it.
func ShiftBelowPanel(panel, canvas schemas.Region) float64 {
	newY := float64(panel.Y+panel.Height) + 40
	maxY := float64(canvas.Y+canvas.Height) - 10
	if newY > maxY {
		above := float64(panel.Y) - 40
		floor := float64(canvas.Y) + 10
		if above < floor {
			return floor
		}
		return above
	}
	return newY
}
