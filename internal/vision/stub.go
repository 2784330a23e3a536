// File: internal/vision/stub.go
package vision

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/fusion-pilot/api/schemas"
	"github.com/xkilldash9x/fusion-pilot/internal/observation"
)

// StubObservation builds a plausible canned observation for running the loop
// without a live vision endpoint. It seeds the requirement and target data
// the real extractor would eventually discover.
func StubObservation(goal string, imagePaths []string) *schemas.Observation {
	obs := observation.Default(goal, imagePaths)
	obs.Notes = "Vision model not yet connected."
	obs.Confidence = 0.4
	obs.UIState.PanelsVisible["browser"] = true
	obs.UIState.PanelsVisible["timeline"] = true
	obs.Extraction.Timeline.Visible = true
	obs.TaskState.Requirements.MustPreserve = []string{
		"front_frame_interface",
		"middle_plate_alignment",
		"overall_back_plate_outer_dimensions",
	}
	obs.TaskState.Requirements.MustFit = []string{
		"raspberry_pi_3b_board_outline",
		"mount_hole_pattern",
		"ports_clearance",
	}
	obs.TaskState.Requirements.Tolerances = map[string]float64{
		"general_clearance_mm": 0.8,
		"port_clearance_mm":    1.2,
		"screw_clearance_mm":   0.4,
	}
	obs.TaskState.KnownTargets["pi3b_mount_hole_spacing_mm"] = map[string]float64{
		"x": 58.0,
		"y": 49.0,
	}
	obs.ProposedNextSteps = []schemas.ProposedStep{{
		Intent:     schemas.IntentRequestBetterView,
		Target:     "canvas",
		Why:        "Stub observation only.",
		Confidence: 0.2,
	}}
	obs.RecapturePlan = []schemas.RecaptureRequest{{
		RegionName:      schemas.RegionCanvas,
		Reason:          "Ensure we can see the model.",
		PreferredAction: schemas.ToolCaptureScreen,
	}}
	return obs
}

// ObserveOrStub calls the vision client and, when allowed, substitutes a
// zero-confidence stub on failure so the loop keeps a well-formed input. With
// the stub disallowed the client error propagates unchanged.
func ObserveOrStub(ctx context.Context, client schemas.VisionClient, req schemas.ObserveRequest, allowStub bool) (*schemas.Observation, error) {
	obs, err := client.Observe(ctx, req)
	if err == nil {
		return obs, nil
	}
	if !allowStub {
		return nil, err
	}
	fallback := StubObservation(req.Goal, req.ImagePaths)
	fallback.Confidence = 0.0
	fallback.Notes = fmt.Sprintf("Vision fallback: %v", err)
	return fallback, nil
}
