// File: api/schemas/common.go
package schemas

import "errors"

// Canonical calibration region names. Calibration files may carry any subset;
// callers must treat a referenced-but-missing region as a hard precondition
// failure.
const (
	RegionCanvas          = "canvas"
	RegionTimeline        = "timeline"
	RegionBrowser         = "browser"
	RegionViewcube        = "viewcube"
	RegionMeasurePanel    = "measure_panel"
	RegionSketchPalette   = "sketch_palette"
	RegionSketchDimension = "sketch_dimension"
)

// Region is a named rectangle in physical display pixels, loaded once from
// persisted calibration and read-only for the lifetime of a run.
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Contains reports whether the point (x, y) falls inside the region.
func (r Region) Contains(x, y float64) bool {
	return x >= float64(r.X) && x <= float64(r.X+r.Width) &&
		y >= float64(r.Y) && y <= float64(r.Y+r.Height)
}

// ScreenInfo is the display's logical size as reported by the tool channel.
type ScreenInfo struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// CaptureResult is the outcome of a capture_screen tool call.
type CaptureResult struct {
	ImagePath string `json:"image_path"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// Sentinel errors shared across packages. Wrapped with context at the point
// of failure; matched with errors.Is at decision points.
var (
	// ErrRegionNotFound marks a calibration lookup for an absent region.
	ErrRegionNotFound = errors.New("region not found in calibration")
	// ErrNoCredentials marks a vision call attempted without an API key.
	ErrNoCredentials = errors.New("vision API key is not set")
	// ErrSchemaViolation marks an observation that failed schema validation.
	ErrSchemaViolation = errors.New("observation schema violation")
	// ErrBootstrapFailed marks an aborted run: wrong frontmost application or
	// required panels not visible. No recovery action can fix it.
	ErrBootstrapFailed = errors.New("bootstrap precondition failed")
)
