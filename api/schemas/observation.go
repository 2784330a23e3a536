// File: api/schemas/observation.go
package schemas

// SchemaVersion is the version tag every normalized observation carries.
const SchemaVersion = "1.0"

// BBox is a screen-space bounding box in pixels, always relative to the
// source image it was extracted from, never to the full display.
type BBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Center returns the midpoint of the box.
func (b BBox) Center() (float64, float64) {
	return float64(b.X) + float64(b.Width)/2.0, float64(b.Y) + float64(b.Height)/2.0
}

// SelectionSummary describes what the application currently has selected.
type SelectionSummary struct {
	SelectionType string `json:"selection_type"`
	Count         int    `json:"count"`
}

// ViewMode captures the camera and rendering style the canvas is showing.
type ViewMode struct {
	Camera      string `json:"camera"`
	VisualStyle string `json:"visual_style"`
}

// UIState is the believed top-level state of the target application's UI.
type UIState struct {
	App              string           `json:"app"`
	DocumentName     string           `json:"document_name,omitempty"`
	Workspace        string           `json:"workspace"`
	ActiveTab        string           `json:"active_tab"`
	ActiveCommand    string           `json:"active_command,omitempty"`
	SelectionSummary SelectionSummary `json:"selection_summary"`
	PanelsVisible    map[string]bool  `json:"panels_visible"`
	ViewMode         ViewMode         `json:"view_mode"`
}

// SketchContext describes sketch-editing state extracted from the canvas.
type SketchContext struct {
	IsEditingSketch     bool     `json:"is_editing_sketch"`
	SketchName          string   `json:"sketch_name,omitempty"`
	DimensionsDetected  []string `json:"dimensions_detected"`
	ConstraintsDetected []string `json:"constraints_detected"`
}

// MeasurementEntry is a single numeric readout from the measure dialog.
type MeasurementEntry struct {
	Metric     string  `json:"metric"`
	Value      float64 `json:"value"`
	Units      string  `json:"units"`
	Label      string  `json:"label,omitempty"`
	ScreenBBox *BBox   `json:"screen_bbox,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Measurements groups the measure-dialog state and its extracted entries.
type Measurements struct {
	MeasureDialogOpen bool               `json:"measure_dialog_open"`
	Entries           []MeasurementEntry `json:"entries"`
}

// TimelineFeature is one feature chip read off the parametric timeline.
type TimelineFeature struct {
	Name         string  `json:"name"`
	TypeHint     string  `json:"type_hint"`
	IsSuppressed bool    `json:"is_suppressed"`
	ScreenBBox   BBox    `json:"screen_bbox"`
	Confidence   float64 `json:"confidence"`
}

// Timeline is the extracted state of the parametric timeline strip.
type Timeline struct {
	Visible            bool              `json:"visible"`
	HighlightedFeature string            `json:"highlighted_feature,omitempty"`
	FeaturesVisible    []TimelineFeature `json:"features_visible"`
}

// ViewcubeTarget is a clickable label on the viewcube widget.
type ViewcubeTarget struct {
	Label      string `json:"label"`
	ScreenBBox *BBox  `json:"screen_bbox,omitempty"`
}

// Viewcube is the extracted state of the orientation cube.
type Viewcube struct {
	Visible bool             `json:"visible"`
	Face    string           `json:"face"`
	Targets []ViewcubeTarget `json:"targets"`
}

// PostClickVerdict is the vision model's judgement of a post-click crop:
// whether the click landed on the model silhouette and produced a highlight.
type PostClickVerdict struct {
	Label            string  `json:"label"`
	OnSilhouette     bool    `json:"on_silhouette"`
	HighlightVisible bool    `json:"highlight_visible"`
	Confidence       float64 `json:"confidence"`
}

// Alert is an error or warning marker visible somewhere in the UI.
type Alert struct {
	Severity   string `json:"severity"`
	Text       string `json:"text"`
	ScreenBBox *BBox  `json:"screen_bbox,omitempty"`
}

// Extraction is the structured per-feature data pulled out of the captures.
type Extraction struct {
	SketchContext SketchContext      `json:"sketch_context"`
	Measurements  Measurements       `json:"measurements"`
	Timeline      Timeline           `json:"timeline"`
	Viewcube      Viewcube           `json:"viewcube"`
	PostClick     []PostClickVerdict `json:"post_click"`
	Alerts        []Alert            `json:"alerts"`
}

// Requirements captures the goal's constraints and tolerances.
type Requirements struct {
	Units        string             `json:"units"`
	MustPreserve []string           `json:"must_preserve"`
	MustFit      []string           `json:"must_fit"`
	Tolerances   map[string]float64 `json:"tolerances"`
}

// TaskState tracks the active goal and believed progress toward it.
type TaskState struct {
	Goal         string          `json:"goal"`
	Requirements Requirements    `json:"requirements"`
	KnownTargets map[string]any  `json:"known_targets"`
	Progress     map[string]bool `json:"progress"`
}

// ProposedStep is a next-step suggestion emitted by the vision model.
type ProposedStep struct {
	Intent            string  `json:"intent"`
	Target            string  `json:"target,omitempty"`
	Why               string  `json:"why,omitempty"`
	NeedsConfirmation bool    `json:"needs_confirmation"`
	Confidence        float64 `json:"confidence"`
}

// RecaptureRequest asks the control loop to re-capture a named region.
type RecaptureRequest struct {
	RegionName      string `json:"region_name"`
	Reason          string `json:"reason,omitempty"`
	PreferredAction string `json:"preferred_action,omitempty"`
}

// Observation is a versioned snapshot of believed UI state. Every
// observation, however constructed, conforms to this shape: partial or
// malformed model output is coerced into a fully shaped value before it is
// allowed to reach the planner.
type Observation struct {
	SchemaVersion     string             `json:"schema_version"`
	Timestamp         string             `json:"timestamp"`
	UIState           UIState            `json:"ui_state"`
	Extraction        Extraction         `json:"extraction"`
	TaskState         TaskState          `json:"task_state"`
	ProposedNextSteps []ProposedStep     `json:"proposed_next_steps"`
	RecapturePlan     []RecaptureRequest `json:"recapture_plan"`
	Confidence        float64            `json:"confidence"`
	Notes             string             `json:"notes"`
	ImagePaths        []string           `json:"image_paths"`
}

// BestMeasurement returns the highest-confidence measurement entry, or nil
// when no entries were extracted.
func (o *Observation) BestMeasurement() *MeasurementEntry {
	var best *MeasurementEntry
	for i := range o.Extraction.Measurements.Entries {
		entry := &o.Extraction.Measurements.Entries[i]
		if best == nil || entry.Confidence > best.Confidence {
			best = entry
		}
	}
	return best
}
