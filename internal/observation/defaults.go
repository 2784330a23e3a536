// File: internal/observation/defaults.go

// Package observation produces structurally valid observations from raw,
// untrusted vision-model output. The contract is "always coerce, never
// reject": whatever the model returns, the planner receives a fully shaped
// Observation, at worst with zero confidence.
package observation

import (
	"fmt"
	"time"

	"github.com/xkilldash9x/fusion-pilot/api/schemas"
)

// DefaultApp is the application identity assumed when the model omits it.
const DefaultApp = "Autodesk Fusion"

// progressKeys are the task-progress flags tracked for the CAD-editing goal.
// The planner's stuck detection compares these maps between observations.
var progressKeys = []string{
	"identified_back_plate_component",
	"located_mount_feature",
	"updated_hole_pattern",
	"updated_port_cutouts",
	"verification_passed",
}

// nowFunc is injectable for tests.
var nowFunc = time.Now

func timestamp() string {
	return nowFunc().UTC().Format(time.RFC3339Nano)
}

func defaultProgress() map[string]bool {
	progress := make(map[string]bool, len(progressKeys))
	for _, key := range progressKeys {
		progress[key] = false
	}
	return progress
}

// Default builds a fully shaped observation with type-appropriate empty
// values for the given goal and source images. Every construction path
// starts here and overlays on top.
func Default(goal string, imagePaths []string) *schemas.Observation {
	if imagePaths == nil {
		imagePaths = []string{}
	}
	return &schemas.Observation{
		SchemaVersion: schemas.SchemaVersion,
		Timestamp:     timestamp(),
		UIState: schemas.UIState{
			App:              DefaultApp,
			Workspace:        "Unknown",
			ActiveTab:        "Unknown",
			SelectionSummary: schemas.SelectionSummary{SelectionType: "unknown"},
			PanelsVisible: map[string]bool{
				"browser":        false,
				"timeline":       false,
				"sketch_palette": false,
				"inspect_panel":  false,
				"measure_dialog": false,
			},
			ViewMode: schemas.ViewMode{Camera: "unknown", VisualStyle: "unknown"},
		},
		Extraction: schemas.Extraction{
			SketchContext: schemas.SketchContext{
				DimensionsDetected:  []string{},
				ConstraintsDetected: []string{},
			},
			Measurements: schemas.Measurements{Entries: []schemas.MeasurementEntry{}},
			Timeline:     schemas.Timeline{FeaturesVisible: []schemas.TimelineFeature{}},
			Viewcube:     schemas.Viewcube{Face: "Unknown", Targets: []schemas.ViewcubeTarget{}},
			PostClick:    []schemas.PostClickVerdict{},
			Alerts:       []schemas.Alert{},
		},
		TaskState: schemas.TaskState{
			Goal: goal,
			Requirements: schemas.Requirements{
				Units:        "mm",
				MustPreserve: []string{},
				MustFit:      []string{},
				Tolerances:   map[string]float64{},
			},
			KnownTargets: map[string]any{},
			Progress:     defaultProgress(),
		},
		ProposedNextSteps: []schemas.ProposedStep{},
		RecapturePlan:     []schemas.RecaptureRequest{},
		Confidence:        0.0,
		ImagePaths:        imagePaths,
	}
}

// ErrorObservation builds a fully defaulted, zero-confidence observation for
// a perception-channel failure, so downstream consumers still receive a
// well-formed input.
func ErrorObservation(goal string, imagePaths []string, err error) *schemas.Observation {
	obs := Default(goal, imagePaths)
	obs.Notes = fmt.Sprintf("Vision error: %v", err)
	return obs
}

// Degrade keeps an observation usable after a validation failure: force the
// confidence to zero and record the error text instead of rejecting.
func Degrade(obs *schemas.Observation, err error) *schemas.Observation {
	obs.Confidence = 0.0
	obs.Notes = fmt.Sprintf("Invalid observation: %v", err)
	return obs
}
