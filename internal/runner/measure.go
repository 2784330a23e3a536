// File: internal/runner/measure.go
package runner

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/xkilldash9x/fusion-pilot/api/schemas"
	"github.com/xkilldash9x/fusion-pilot/internal/calibration"
	"github.com/xkilldash9x/fusion-pilot/internal/imaging"
)

// measureResult carries what the baseline-measurement sequence produced: the
// post-measure panel capture, optional post-click crops, and how far apart
// the two silhouette clicks landed in capture pixels.
type measureResult struct {
	panelPaths    []string
	cropPaths     []string
	clickDistance float64
}

// measureBaseline drives the point-to-point measure flow: open the Measure
// dialog, arm snap points and the vertex filter, pick two opposite points on
// the model silhouette, click them, and capture the panel for the extractor.
// Variant 1 uses wider margins and a higher click row for the retry pass.
func (r *Runner) measureBaseline(ctx context.Context, scale float64, canvasPath string, variant int) (*measureResult, error) {
	if err := r.clickCanvasFocus(ctx, scale); err != nil {
		return nil, err
	}
	r.sleep(100 * millisecond)

	if err := r.keyPress(ctx, "escape"); err != nil {
		return nil, err
	}
	if err := r.keyPress(ctx, "escape"); err != nil {
		return nil, err
	}
	if err := r.keyPress(ctx, "i"); err != nil {
		return nil, err
	}
	r.sleep(200 * millisecond)

	// Confirm the dialog actually opened before clicking; the shortcut is
	// swallowed when another command is active.
	panelCheck, err := r.captureRegion(ctx, schemas.RegionMeasurePanel)
	if err != nil {
		return nil, err
	}
	if !imaging.LooksLikeMeasurePanel(panelCheck.ImagePath) {
		r.logger.Info("Measure panel not detected, retrying shortcut")
		if err := r.keyPress(ctx, "i"); err != nil {
			return nil, err
		}
		r.sleep(200 * millisecond)
		if panelCheck, err = r.captureRegion(ctx, schemas.RegionMeasurePanel); err != nil {
			return nil, err
		}
	}

	// Best effort: selection filter to vertex, snap points on.
	for _, target := range []struct {
		relX, relY float64
		name       string
	}{
		{0.14, 0.30, "selection_filter"},
		{0.42, 0.30, "vertex_filter"},
		{0.12, 0.22, "show_snap_points"},
	} {
		if err := r.clickRegionRelative(ctx, schemas.RegionMeasurePanel, target.relX, target.relY, scale); err != nil {
			return nil, err
		}
		r.store.LogAction(map[string]any{
			"tool": schemas.ToolMouseClick, "region_name": schemas.RegionMeasurePanel,
			"target": target.name,
		})
		r.sleep(100 * millisecond)
	}
	r.sleep(250 * millisecond)

	leftX, rightX, clickY, reason := r.pickClickTargets(canvasPath, variant)

	canvas, err := r.cal.Region(schemas.RegionCanvas)
	if err != nil {
		return nil, err
	}
	panel, err := r.cal.Region(schemas.RegionMeasurePanel)
	if err != nil {
		return nil, err
	}

	absLeftX := float64(canvas.X) + leftX*scale
	absRightX := float64(canvas.X) + rightX*scale
	absY := float64(canvas.Y) + clickY*scale
	panelAvoid := false
	if panel.Contains(absLeftX, absY) {
		absY = calibration.ShiftBelowPanel(panel, canvas)
		panelAvoid = true
	}
	if panel.Contains(absRightX, absY) {
		absY = calibration.ShiftBelowPanel(panel, canvas)
		panelAvoid = true
	}

	r.store.LogAction(map[string]any{
		"tool":         "silhouette_targets",
		"left":         map[string]any{"x": leftX, "y": clickY},
		"right":        map[string]any{"x": rightX, "y": clickY},
		"scale_factor": scale,
		"panel_avoid":  panelAvoid,
		"bbox_reason":  reason,
	})

	result := &measureResult{clickDistance: math.Abs(rightX - leftX)}

	if err := r.clickPoint(ctx, absLeftX, absY); err != nil {
		return nil, err
	}
	r.store.LogAction(map[string]any{
		"tool": schemas.ToolMouseClick, "region_name": schemas.RegionCanvas,
		"target":  "left_silhouette",
		"applied": map[string]any{"x": int(math.Round(absLeftX)), "y": int(math.Round(absY))},
	})
	if variant > 0 {
		if crop := r.captureClickCrop(ctx, absLeftX, absY, "left"); crop != "" {
			result.cropPaths = append(result.cropPaths, crop)
		}
	}
	r.sleep(150 * millisecond)

	if err := r.clickPoint(ctx, absRightX, absY); err != nil {
		return nil, err
	}
	r.store.LogAction(map[string]any{
		"tool": schemas.ToolMouseClick, "region_name": schemas.RegionCanvas,
		"target":  "right_silhouette",
		"applied": map[string]any{"x": int(math.Round(absRightX)), "y": int(math.Round(absY))},
	})
	if variant > 0 {
		if crop := r.captureClickCrop(ctx, absRightX, absY, "right"); crop != "" {
			result.cropPaths = append(result.cropPaths, crop)
		}
	}

	post, err := r.captureRegion(ctx, schemas.RegionMeasurePanel)
	if err != nil {
		return nil, err
	}
	if post.ImagePath != "" {
		result.panelPaths = append(result.panelPaths, post.ImagePath)
	}
	return result, nil
}

// pickClickTargets chooses the two click x positions and the shared y. The
// dark-row scan wins when it finds a qualifying row; the silhouette box is
// the fallback; bare image fractions are the last resort. The returned
// reason string goes to the audit trail.
func (r *Runner) pickClickTargets(canvasPath string, variant int) (float64, float64, float64, string) {
	margin := 20.0
	yRatio := 0.5
	if variant != 0 {
		margin = 30.0
		yRatio = 0.4
	}

	var row *imaging.DarkRow
	var box *imaging.SilhouetteBox
	if canvasPath != "" {
		var err error
		if row, err = imaging.FindDarkRow(canvasPath, r.cfg.Measurement.MinRowSpan); err != nil {
			r.logger.Debug("Dark-row scan failed", zap.Error(err))
		}
		if box, err = imaging.Silhouette(canvasPath); err != nil {
			r.logger.Debug("Silhouette scan failed", zap.Error(err))
		}
	}

	reason := "ok"
	if box != nil {
		if degenerate, why := box.Degenerate(); degenerate {
			box = nil
			reason = why
		}
	} else {
		reason = "none"
	}

	if row != nil {
		const rowMargin = 5.0
		left := math.Max(float64(row.Left)+rowMargin, 0)
		right := math.Max(float64(row.Right)-rowMargin, left+1)
		return left, right, float64(row.Y), "row_scan_dark_pixels"
	}
	if box != nil {
		left := math.Max(float64(box.Left)+margin, 0)
		right := math.Min(float64(box.Right)-margin, float64(box.Width))
		clickY := float64(box.Top) + float64(box.Bottom-box.Top)*yRatio
		return left, right, clickY, reason
	}
	if canvasPath != "" {
		if w, h, err := imaging.Size(canvasPath); err == nil {
			fallbackY := 0.6
			if variant != 0 {
				fallbackY = 0.45
			}
			return float64(w) * 0.2, float64(w) * 0.8, float64(h) * fallbackY, reason
		}
	}
	return 200, 800, 420, reason
}
