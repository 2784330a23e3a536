// File: internal/runner/tools.go
package runner

import (
	"context"
	"fmt"
	"math"

	"github.com/xkilldash9x/fusion-pilot/api/schemas"
	"github.com/xkilldash9x/fusion-pilot/internal/calibration"
)

// Thin wrappers over the tool channel. Every wrapper mirrors its call into
// the actions.jsonl audit trail so a run can be replayed offline.

func decodeCapture(result map[string]any) schemas.CaptureResult {
	var capture schemas.CaptureResult
	data, err := json.Marshal(result)
	if err != nil {
		return capture
	}
	_ = json.Unmarshal(data, &capture)
	return capture
}

func (r *Runner) captureRegion(ctx context.Context, name string) (schemas.CaptureResult, error) {
	result, err := r.tools.Call(ctx, schemas.ToolCaptureScreen, map[string]any{"region_name": name})
	if err != nil {
		return schemas.CaptureResult{}, fmt.Errorf("capture %s: %w", name, err)
	}
	r.store.LogAction(map[string]any{
		"tool": schemas.ToolCaptureScreen, "region_name": name, "result": result,
	})
	return decodeCapture(result), nil
}

// captureClickCrop grabs a 240x240 crop centered on a click point, used to
// let the extractor judge whether the click landed on the silhouette.
func (r *Runner) captureClickCrop(ctx context.Context, x, y float64, label string) string {
	crop := map[string]any{
		"x":      int(math.Max(0, x-120)),
		"y":      int(math.Max(0, y-120)),
		"width":  240,
		"height": 240,
	}
	result, err := r.tools.Call(ctx, schemas.ToolCaptureScreen, map[string]any{"region": crop})
	if err != nil {
		r.logger.Debug("Post-click crop capture failed")
		return ""
	}
	r.store.LogAction(map[string]any{
		"tool": schemas.ToolCaptureScreen, "region_name": "post_click_crop",
		"label": label, "result": result,
	})
	return decodeCapture(result).ImagePath
}

func (r *Runner) clickPoint(ctx context.Context, x, y float64) error {
	_, err := r.tools.Call(ctx, schemas.ToolMouseClick, map[string]any{
		"x": int(math.Round(x)),
		"y": int(math.Round(y)),
	})
	return err
}

func (r *Runner) clickRegionRelative(ctx context.Context, regionName string, relX, relY, scale float64) error {
	region, err := r.cal.Region(regionName)
	if err != nil {
		return err
	}
	x, y := calibration.RegionPoint(region, relX, relY, scale)
	if err := r.clickPoint(ctx, x, y); err != nil {
		return fmt.Errorf("click %s: %w", regionName, err)
	}
	return nil
}

func (r *Runner) clickCanvasFocus(ctx context.Context, scale float64) error {
	if err := r.clickRegionRelative(ctx, schemas.RegionCanvas, 0.5, 0.5, scale); err != nil {
		return err
	}
	r.store.LogAction(map[string]any{
		"tool": schemas.ToolMouseClick, "region_name": schemas.RegionCanvas, "target": "focus",
	})
	return nil
}

func (r *Runner) keyPress(ctx context.Context, keys ...string) error {
	_, err := r.tools.Call(ctx, schemas.ToolKeyPress, map[string]any{"keys": keys})
	if err != nil {
		return fmt.Errorf("key press %v: %w", keys, err)
	}
	r.store.LogAction(map[string]any{"tool": schemas.ToolKeyPress, "keys": keys})
	return nil
}

func (r *Runner) toolWait(ctx context.Context, milliseconds int) {
	_, err := r.tools.Call(ctx, schemas.ToolWait, map[string]any{"milliseconds": milliseconds})
	if err != nil {
		r.logger.Debug("Wait tool call failed")
		return
	}
	r.store.LogAction(map[string]any{
		"tool": schemas.ToolWait, "arguments": map[string]any{"milliseconds": milliseconds},
	})
}

func (r *Runner) scroll(ctx context.Context, deltaY, steps int) error {
	args := map[string]any{"delta_y": deltaY, "steps": steps}
	if _, err := r.tools.Call(ctx, schemas.ToolMouseScroll, args); err != nil {
		return fmt.Errorf("scroll: %w", err)
	}
	r.store.LogAction(map[string]any{"tool": schemas.ToolMouseScroll, "arguments": args})
	return nil
}

func (r *Runner) screenInfo(ctx context.Context) schemas.ScreenInfo {
	result, err := r.tools.Call(ctx, schemas.ToolGetScreenInfo, map[string]any{})
	if err != nil {
		r.logger.Debug("Screen info unavailable")
		return schemas.ScreenInfo{}
	}
	r.store.LogAction(map[string]any{"tool": schemas.ToolGetScreenInfo, "result": result})
	var info schemas.ScreenInfo
	data, marshalErr := json.Marshal(result)
	if marshalErr == nil {
		_ = json.Unmarshal(data, &info)
	}
	return info
}

// logScaleCheck records a scale derivation for post-run diagnosis.
func (r *Runner) logScaleCheck(info schemas.ScreenInfo, capture schemas.CaptureResult, ratio, scale float64) {
	r.store.LogAction(map[string]any{
		"tool":         "scale_check",
		"display":      map[string]any{"width": info.Width, "height": info.Height},
		"capture":      map[string]any{"width": capture.Width, "height": capture.Height},
		"ratio":        ratio,
		"scale_factor": scale,
	})
}
