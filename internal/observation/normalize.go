// File: internal/observation/normalize.go
package observation

import (
	"github.com/xkilldash9x/fusion-pilot/api/schemas"
)

// maxTimelineFeatures caps how many timeline features a single observation
// may carry; anything beyond is noise from an over-eager extraction.
const maxTimelineFeatures = 8

// Normalize builds a fully shaped observation for the given goal and images,
// then overlays every recognizable field present in raw, coercing loose
// types along the way (bounding boxes given as 4-element arrays or partial
// objects, numeric confidences of any JSON number flavor). Confidence is
// copied unclamped so Validate can still reject out-of-range values.
func Normalize(raw map[string]any, goal string, imagePaths []string) *schemas.Observation {
	obs := Default(goal, imagePaths)
	if raw == nil {
		return obs
	}

	obs.Notes = asString(raw["notes"], "")
	obs.SchemaVersion = asString(raw["schema_version"], schemas.SchemaVersion)
	obs.Timestamp = asString(raw["timestamp"], obs.Timestamp)

	if uiState, ok := asMap(raw["ui_state"]); ok {
		overlayUIState(&obs.UIState, uiState)
	}
	if obs.UIState.App == "" {
		obs.UIState.App = DefaultApp
	}

	extraction, _ := asMap(raw["extraction"])
	timeline, _ := asMap(extraction["timeline"])
	overlayTimeline(&obs.Extraction.Timeline, timeline)
	if len(obs.Extraction.Timeline.FeaturesVisible) > 0 {
		obs.UIState.PanelsVisible["timeline"] = true
	}

	// Alerts may arrive at the extraction level or tucked under the timeline.
	if alerts := normalizeAlerts(extraction["alerts"]); len(alerts) > 0 {
		obs.Extraction.Alerts = alerts
	}
	if alerts := normalizeAlerts(timeline["alerts"]); len(alerts) > 0 {
		obs.Extraction.Alerts = alerts
	}

	if sketch, ok := asMap(extraction["sketch_context"]); ok {
		overlaySketchContext(&obs.Extraction.SketchContext, sketch)
	}
	if measurements, ok := asMap(extraction["measurements"]); ok {
		overlayMeasurements(&obs.Extraction.Measurements, measurements)
	}
	if viewcube, ok := asMap(extraction["viewcube"]); ok {
		overlayViewcube(&obs.Extraction.Viewcube, viewcube)
	}
	if postClick, ok := raw2list(extraction["post_click"]); ok {
		obs.Extraction.PostClick = normalizePostClick(postClick)
	}

	if confidence, ok := raw["confidence"]; ok {
		obs.Confidence = asFloat(confidence, 0.0)
	}

	if taskState, ok := asMap(raw["task_state"]); ok {
		overlayTaskState(&obs.TaskState, taskState)
	}
	if steps, ok := raw2list(raw["proposed_next_steps"]); ok {
		obs.ProposedNextSteps = normalizeSteps(steps)
	}
	if plan, ok := raw2list(raw["recapture_plan"]); ok {
		obs.RecapturePlan = normalizeRecapturePlan(plan)
	}

	return obs
}

func overlayUIState(state *schemas.UIState, raw map[string]any) {
	state.App = asString(raw["app"], state.App)
	state.DocumentName = asString(raw["document_name"], state.DocumentName)
	state.Workspace = asString(raw["workspace"], state.Workspace)
	state.ActiveTab = asString(raw["active_tab"], state.ActiveTab)
	state.ActiveCommand = asString(raw["active_command"], state.ActiveCommand)
	if selection, ok := asMap(raw["selection_summary"]); ok {
		state.SelectionSummary.SelectionType = asString(selection["selection_type"], state.SelectionSummary.SelectionType)
		state.SelectionSummary.Count = asInt(selection["count"], state.SelectionSummary.Count)
	}
	if panels, ok := asMap(raw["panels_visible"]); ok {
		for name, visible := range panels {
			state.PanelsVisible[name] = asBool(visible)
		}
	}
	if viewMode, ok := asMap(raw["view_mode"]); ok {
		state.ViewMode.Camera = asString(viewMode["camera"], state.ViewMode.Camera)
		state.ViewMode.VisualStyle = asString(viewMode["visual_style"], state.ViewMode.VisualStyle)
	}
}

func overlaySketchContext(sketch *schemas.SketchContext, raw map[string]any) {
	sketch.IsEditingSketch = asBool(raw["is_editing_sketch"])
	sketch.SketchName = asString(raw["sketch_name"], sketch.SketchName)
	if dims, ok := raw2list(raw["dimensions_detected"]); ok {
		sketch.DimensionsDetected = asStringList(dims)
	}
	if constraints, ok := raw2list(raw["constraints_detected"]); ok {
		sketch.ConstraintsDetected = asStringList(constraints)
	}
}

func overlayTimeline(timeline *schemas.Timeline, raw map[string]any) {
	features, _ := raw2list(raw["features_visible"])
	normalized := make([]schemas.TimelineFeature, 0, maxTimelineFeatures)
	for _, item := range features {
		if len(normalized) == maxTimelineFeatures {
			break
		}
		feature, ok := asMap(item)
		if !ok {
			continue
		}
		bbox := coerceBBox(feature["screen_bbox"])
		if bbox == nil {
			bbox = &schemas.BBox{}
		}
		normalized = append(normalized, schemas.TimelineFeature{
			Name:         asString(feature["name"], ""),
			TypeHint:     asString(feature["type_hint"], "unknown"),
			IsSuppressed: asBool(feature["is_suppressed"]),
			ScreenBBox:   *bbox,
			Confidence:   asFloat(feature["confidence"], 0.0),
		})
	}

	timeline.FeaturesVisible = normalized
	timeline.Visible = len(normalized) > 0
	if visible, ok := raw["visible"]; ok {
		timeline.Visible = asBool(visible)
	}
	timeline.HighlightedFeature = asString(raw["highlighted_feature"], "")
}

func overlayMeasurements(measurements *schemas.Measurements, raw map[string]any) {
	measurements.MeasureDialogOpen = asBool(raw["measure_dialog_open"])
	entries, ok := raw2list(raw["entries"])
	if !ok {
		return
	}
	normalized := make([]schemas.MeasurementEntry, 0, len(entries))
	for _, item := range entries {
		entry, ok := asMap(item)
		if !ok {
			continue
		}
		normalized = append(normalized, schemas.MeasurementEntry{
			Metric:     asString(entry["metric"], ""),
			Value:      asFloat(entry["value"], 0.0),
			Units:      asString(entry["units"], ""),
			Label:      asString(entry["label"], ""),
			ScreenBBox: coerceBBox(entry["screen_bbox"]),
			Confidence: asFloat(entry["confidence"], 0.0),
		})
	}
	measurements.Entries = normalized
}

func overlayViewcube(viewcube *schemas.Viewcube, raw map[string]any) {
	viewcube.Visible = asBool(raw["visible"])
	viewcube.Face = asString(raw["face"], viewcube.Face)
	targets, ok := raw2list(raw["targets"])
	if !ok {
		return
	}
	normalized := make([]schemas.ViewcubeTarget, 0, len(targets))
	for _, item := range targets {
		target, ok := asMap(item)
		if !ok {
			continue
		}
		normalized = append(normalized, schemas.ViewcubeTarget{
			Label:      asString(target["label"], ""),
			ScreenBBox: coerceBBox(target["screen_bbox"]),
		})
	}
	viewcube.Targets = normalized
}

func normalizePostClick(items []any) []schemas.PostClickVerdict {
	verdicts := make([]schemas.PostClickVerdict, 0, len(items))
	for _, item := range items {
		verdict, ok := asMap(item)
		if !ok {
			continue
		}
		verdicts = append(verdicts, schemas.PostClickVerdict{
			Label:            asString(verdict["label"], ""),
			OnSilhouette:     asBool(verdict["on_silhouette"]),
			HighlightVisible: asBool(verdict["highlight_visible"]),
			Confidence:       asFloat(verdict["confidence"], 0.0),
		})
	}
	return verdicts
}

func normalizeAlerts(value any) []schemas.Alert {
	items, ok := raw2list(value)
	if !ok {
		return nil
	}
	alerts := make([]schemas.Alert, 0, len(items))
	for _, item := range items {
		alert, ok := asMap(item)
		if !ok {
			continue
		}
		alerts = append(alerts, schemas.Alert{
			Severity:   asString(alert["severity"], ""),
			Text:       asString(alert["text"], ""),
			ScreenBBox: coerceBBox(alert["screen_bbox"]),
		})
	}
	return alerts
}

func overlayTaskState(task *schemas.TaskState, raw map[string]any) {
	task.Goal = asString(raw["goal"], task.Goal)
	if requirements, ok := asMap(raw["requirements"]); ok {
		task.Requirements.Units = asString(requirements["units"], task.Requirements.Units)
		if preserve, ok := raw2list(requirements["must_preserve"]); ok {
			task.Requirements.MustPreserve = asStringList(preserve)
		}
		if fit, ok := raw2list(requirements["must_fit"]); ok {
			task.Requirements.MustFit = asStringList(fit)
		}
		if tolerances, ok := asMap(requirements["tolerances"]); ok {
			for name, value := range tolerances {
				task.Requirements.Tolerances[name] = asFloat(value, 0.0)
			}
		}
	}
	if targets, ok := asMap(raw["known_targets"]); ok {
		for name, value := range targets {
			task.KnownTargets[name] = value
		}
	}
	if progress, ok := asMap(raw["progress"]); ok {
		for name, value := range progress {
			task.Progress[name] = asBool(value)
		}
	}
}

func normalizeSteps(items []any) []schemas.ProposedStep {
	steps := make([]schemas.ProposedStep, 0, len(items))
	for _, item := range items {
		step, ok := asMap(item)
		if !ok {
			continue
		}
		steps = append(steps, schemas.ProposedStep{
			Intent:            asString(step["intent"], ""),
			Target:            asString(step["target"], ""),
			Why:               asString(step["why"], ""),
			NeedsConfirmation: asBool(step["needs_confirmation"]),
			Confidence:        asFloat(step["confidence"], 0.0),
		})
	}
	return steps
}

func normalizeRecapturePlan(items []any) []schemas.RecaptureRequest {
	plan := make([]schemas.RecaptureRequest, 0, len(items))
	for _, item := range items {
		request, ok := asMap(item)
		if !ok {
			continue
		}
		plan = append(plan, schemas.RecaptureRequest{
			RegionName:      asString(request["region_name"], ""),
			Reason:          asString(request["reason"], ""),
			PreferredAction: asString(request["preferred_action"], ""),
		})
	}
	return plan
}
