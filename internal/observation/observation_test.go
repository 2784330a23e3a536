// File: internal/observation/observation_test.go
package observation

import (
	stdjson "encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/fusion-pilot/api/schemas"
)

func TestObservationSurvivesRoundTrip(t *testing.T) {
	original := Default("fit the board", []string{"canvas.png"})
	original.Confidence = 0.83
	original.Extraction.Measurements.Entries = []schemas.MeasurementEntry{
		{Metric: "distance", Value: 58.0, Units: "mm", Label: "hole spacing", Confidence: 0.9},
	}
	original.Extraction.Timeline.FeaturesVisible = []schemas.TimelineFeature{
		{Name: "Extrude1", TypeHint: "extrude", ScreenBBox: schemas.BBox{X: 4, Y: 8, Width: 16, Height: 16}, Confidence: 0.8},
	}

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded schemas.Observation
	require.NoError(t, json.Unmarshal(data, &decoded))

	if diff := cmp.Diff(*original, decoded); diff != "" {
		t.Errorf("observation changed across marshal/unmarshal (-want +got):\n%s", diff)
	}
}

func TestNormalizeCoercesNumberTokens(t *testing.T) {
	// Decoders in UseNumber mode hand back json.Number instead of float64;
	// coercion must accept both flavors.
	raw := map[string]any{
		"confidence": stdjson.Number("0.75"),
		"extraction": map[string]any{
			"timeline": map[string]any{
				"features_visible": []any{
					map[string]any{
						"name": "Extrude1",
						"screen_bbox": []any{
							stdjson.Number("4"), stdjson.Number("8"),
							stdjson.Number("16"), stdjson.Number("16"),
						},
						"confidence": stdjson.Number("0.8"),
					},
				},
			},
		},
	}

	obs := Normalize(raw, "goal", nil)
	assert.Equal(t, 0.75, obs.Confidence)
	require.Len(t, obs.Extraction.Timeline.FeaturesVisible, 1)
	feature := obs.Extraction.Timeline.FeaturesVisible[0]
	assert.Equal(t, schemas.BBox{X: 4, Y: 8, Width: 16, Height: 16}, feature.ScreenBBox)
	assert.Equal(t, 0.8, feature.Confidence)
}

func TestDefaultShape(t *testing.T) {
	nowFunc = func() time.Time { return time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC) }
	defer func() { nowFunc = time.Now }()

	obs := Default("fit the board", []string{"a.png"})

	assert.Equal(t, schemas.SchemaVersion, obs.SchemaVersion)
	assert.Equal(t, "2026-08-29T12:00:00Z", obs.Timestamp)
	assert.Equal(t, DefaultApp, obs.UIState.App)
	assert.Equal(t, "fit the board", obs.TaskState.Goal)
	assert.Equal(t, []string{"a.png"}, obs.ImagePaths)
	assert.Zero(t, obs.Confidence)

	// Every panel flag present and false, every progress key present and false.
	for _, panel := range []string{"browser", "timeline", "sketch_palette", "inspect_panel", "measure_dialog"} {
		visible, ok := obs.UIState.PanelsVisible[panel]
		require.True(t, ok, "panel %s missing", panel)
		assert.False(t, visible)
	}
	assert.Len(t, obs.TaskState.Progress, 5)
	for key, done := range obs.TaskState.Progress {
		assert.False(t, done, "progress %s should start false", key)
	}

	// Collections are empty, never nil, so marshaling emits [] not null.
	assert.NotNil(t, obs.Extraction.Timeline.FeaturesVisible)
	assert.NotNil(t, obs.Extraction.Measurements.Entries)
	assert.NotNil(t, obs.Extraction.Alerts)
	assert.NotNil(t, obs.ProposedNextSteps)
	assert.NotNil(t, obs.RecapturePlan)
	assert.Equal(t, "Unknown", obs.Extraction.Viewcube.Face)
}

func TestDefaultNilImagePaths(t *testing.T) {
	obs := Default("goal", nil)
	assert.NotNil(t, obs.ImagePaths)
	assert.Empty(t, obs.ImagePaths)
}

func TestNormalizeEmptyInput(t *testing.T) {
	obs := Normalize(nil, "goal", nil)
	require.NoError(t, Validate(obs))
	assert.Equal(t, "goal", obs.TaskState.Goal)
}

func TestNormalizeOverlay(t *testing.T) {
	raw := map[string]any{
		"confidence": 0.82,
		"notes":      "looks good",
		"ui_state": map[string]any{
			"app":       "Autodesk Fusion",
			"workspace": "Design",
			"panels_visible": map[string]any{
				"browser": true,
			},
		},
		"extraction": map[string]any{
			"timeline": map[string]any{
				"features_visible": []any{
					map[string]any{
						"name":        "Extrude1",
						"screen_bbox": []any{10, 20, 30, 40},
						"confidence":  0.9,
					},
				},
			},
			"measurements": map[string]any{
				"measure_dialog_open": true,
				"entries": []any{
					map[string]any{"metric": "distance", "value": 58.2, "units": "mm", "confidence": 0.8},
					map[string]any{"metric": "angle", "value": 12.0, "units": "deg", "confidence": 0.4},
				},
			},
		},
		"task_state": map[string]any{
			"progress": map[string]any{"identified_back_plate_component": true},
		},
	}

	obs := Normalize(raw, "goal", []string{"canvas.png"})

	assert.Equal(t, 0.82, obs.Confidence)
	assert.Equal(t, "looks good", obs.Notes)
	assert.Equal(t, "Design", obs.UIState.Workspace)
	assert.True(t, obs.UIState.PanelsVisible["browser"])

	// Array-form bbox is coerced to the canonical record.
	require.Len(t, obs.Extraction.Timeline.FeaturesVisible, 1)
	feature := obs.Extraction.Timeline.FeaturesVisible[0]
	assert.Equal(t, schemas.BBox{X: 10, Y: 20, Width: 30, Height: 40}, feature.ScreenBBox)
	assert.True(t, obs.Extraction.Timeline.Visible)

	// Timeline features imply the timeline panel even if the model forgot.
	assert.True(t, obs.UIState.PanelsVisible["timeline"])

	require.Len(t, obs.Extraction.Measurements.Entries, 2)
	best := obs.BestMeasurement()
	require.NotNil(t, best)
	assert.Equal(t, 58.2, best.Value)

	assert.True(t, obs.TaskState.Progress["identified_back_plate_component"])
	assert.False(t, obs.TaskState.Progress["verification_passed"])

	require.NoError(t, Validate(obs))
}

func TestNormalizeCapsTimelineFeatures(t *testing.T) {
	features := make([]any, 0, 12)
	for i := 0; i < 12; i++ {
		features = append(features, map[string]any{
			"name":        fmt.Sprintf("Feature%d", i),
			"screen_bbox": map[string]any{"x": i, "y": 0, "width": 5, "height": 5},
		})
	}
	raw := map[string]any{
		"extraction": map[string]any{
			"timeline": map[string]any{"features_visible": features},
		},
	}

	obs := Normalize(raw, "goal", nil)
	assert.Len(t, obs.Extraction.Timeline.FeaturesVisible, maxTimelineFeatures)
}

func TestNormalizeKeepsConfidenceUnclamped(t *testing.T) {
	obs := Normalize(map[string]any{"confidence": 1.5}, "goal", nil)
	assert.Equal(t, 1.5, obs.Confidence)

	err := Validate(obs)
	require.Error(t, err)
	assert.True(t, errors.Is(err, schemas.ErrSchemaViolation))

	Degrade(obs, err)
	assert.Zero(t, obs.Confidence)
	assert.Contains(t, obs.Notes, "Invalid observation")
	require.NoError(t, Validate(obs))
}

func TestNormalizeAlertsFromTimeline(t *testing.T) {
	raw := map[string]any{
		"extraction": map[string]any{
			"timeline": map[string]any{
				"alerts": []any{
					map[string]any{"severity": "error", "text": "Compute Failed"},
				},
			},
		},
	}
	obs := Normalize(raw, "goal", nil)
	require.Len(t, obs.Extraction.Alerts, 1)
	assert.Equal(t, "Compute Failed", obs.Extraction.Alerts[0].Text)
}

func TestValidateDocumentRejectsFloatBBox(t *testing.T) {
	doc := []byte(`{
		"schema_version": "1.0",
		"timestamp": "2026-08-29T00:00:00Z",
		"confidence": 0.9,
		"ui_state": {"app": "Autodesk Fusion", "panels_visible": {"browser": true}},
		"task_state": {},
		"extraction": {
			"timeline": {
				"features_visible": [
					{"name": "Extrude1", "screen_bbox": {"x": 1.5, "y": 2, "width": 3, "height": 4}}
				]
			}
		}
	}`)
	err := ValidateDocument(doc)
	require.Error(t, err)
	assert.True(t, errors.Is(err, schemas.ErrSchemaViolation))
}

func TestValidateDocumentRejectsMissingRequired(t *testing.T) {
	err := ValidateDocument([]byte(`{"schema_version": "1.0"}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, schemas.ErrSchemaViolation))
}

func TestErrorObservation(t *testing.T) {
	obs := ErrorObservation("goal", []string{"x.png"}, errors.New("connection refused"))
	assert.Zero(t, obs.Confidence)
	assert.Contains(t, obs.Notes, "Vision error")
	assert.Contains(t, obs.Notes, "connection refused")
	require.NoError(t, Validate(obs))
}
