// File: internal/vision/prompt.go

// Package vision obtains raw model observations of the current UI from a
// remote multimodal inference endpoint, with bounded retry, and hands them
// through the observation package so callers only ever see fully shaped
// values.
package vision

import (
	"strings"

	"github.com/xkilldash9x/fusion-pilot/api/schemas"
)

// basePrompt is the fixed system instruction describing the required
// observation schema. A focus hint appends a priority suffix.
const basePrompt = "You are a vision extractor for Autodesk Fusion UI. " +
	"Return JSON only, strictly matching VisionObservation schema v1.0. " +
	"Include all required top-level fields: schema_version, timestamp, ui_state, " +
	"extraction, task_state, proposed_next_steps, recapture_plan, confidence, notes. " +
	"Focus primarily on the timeline image: identify up to 8 feature names, " +
	"estimate their bounding boxes relative to the timeline image, and detect any error alerts. " +
	"For timeline features, populate extraction.timeline.features_visible with name, " +
	"type_hint, is_suppressed, screen_bbox {x,y,width,height} as integers, and confidence. " +
	"Set ui_state.panels_visible.timeline true if the timeline is visible. " +
	"If the browser panel is visible, set ui_state.panels_visible.browser true. " +
	"If a viewcube image is provided, set extraction.viewcube.visible and extraction.viewcube.face " +
	"(Front|Top|Right|Home|Unknown) and include extraction.viewcube.targets with label " +
	"and screen_bbox {x,y,width,height} relative to the viewcube image. " +
	"If measure panel images are provided, extract numeric measurement entries into " +
	"extraction.measurements.entries with metric, value, units, label, screen_bbox {x,y,width,height}, and confidence. " +
	"If the Results section shows Distance/Angle, always include them as entries. " +
	"If post-click crop images are provided, include extraction.post_click entries with " +
	"label, on_silhouette (true/false), highlight_visible (true/false), and confidence. " +
	"If error markers are visible, add them to extraction.alerts with severity and text. " +
	"If unsure, leave fields empty and lower confidence. No extra text."

// systemPrompt returns the extractor instruction, biased by focus.
func systemPrompt(focus string) string {
	var b strings.Builder
	b.WriteString(basePrompt)
	switch focus {
	case schemas.FocusMeasurePanel:
		b.WriteString(" Focus on the measure panel images; measurements are the top priority.")
	case schemas.FocusViewcube:
		b.WriteString(" Focus on the viewcube image; viewcube face and targets are the top priority.")
	}
	return b.String()
}

// userText states the goal plus the focus-specific extraction request.
func userText(goal, focus string) string {
	var b strings.Builder
	b.WriteString("Goal: ")
	b.WriteString(goal)
	switch focus {
	case schemas.FocusMeasurePanel:
		b.WriteString(". Focus on measurements from the measure panel.")
		b.WriteString(" Post-click crops follow the measure panel images.")
	case schemas.FocusViewcube:
		b.WriteString(". Focus on viewcube targets and face.")
	default:
		b.WriteString(". Extract only timeline-focused data for now (timeline features + alerts).")
	}
	b.WriteString(" Return JSON-only VisionObservation.")
	return b.String()
}
