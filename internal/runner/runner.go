// File: internal/runner/runner.go

// Package runner drives the observe-decide-act loop against a live Fusion
// session: capture calibrated regions, ask the vision extractor what they
// show, let the planner pick an action, and carry it out over the tool
// channel. Everything that happens is mirrored into the run's artifact
// directory.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/fusion-pilot/api/schemas"
	"github.com/xkilldash9x/fusion-pilot/internal/calibration"
	"github.com/xkilldash9x/fusion-pilot/internal/config"
	"github.com/xkilldash9x/fusion-pilot/internal/observation"
	"github.com/xkilldash9x/fusion-pilot/internal/planner"
	"github.com/xkilldash9x/fusion-pilot/internal/vision"
)

const millisecond = time.Millisecond

// Runner wires the tool channel, vision client, calibration, and planner
// into one session. It is single-goroutine by design: GUI automation cannot
// overlap input events, so there is exactly one in-flight action at a time.
type Runner struct {
	cfg     *config.Config
	logger  *zap.Logger
	tools   schemas.ToolClient
	vision  schemas.VisionClient
	cal     *calibration.Store
	store   *ArtifactStore
	planner *planner.Planner

	out   io.Writer
	sleep func(time.Duration)
}

// New builds a runner around already-constructed collaborators. The out
// writer receives the human-facing observation dump in observe mode.
func New(cfg *config.Config, tools schemas.ToolClient, visionClient schemas.VisionClient,
	cal *calibration.Store, store *ArtifactStore, out io.Writer, logger *zap.Logger) *Runner {
	return &Runner{
		cfg:     cfg,
		logger:  logger.Named("runner"),
		tools:   tools,
		vision:  visionClient,
		cal:     cal,
		store:   store,
		planner: planner.New(cfg.Planner, logger),
		out:     out,
		sleep:   time.Sleep,
	}
}

// observe runs one perception pass, substituting a degraded stub or error
// observation on failure so the caller always gets a usable value.
func (r *Runner) observe(ctx context.Context, focus string, imagePaths []string, rawPath string) *schemas.Observation {
	req := schemas.ObserveRequest{
		Goal:       r.cfg.App.Goal,
		Focus:      focus,
		ImagePaths: imagePaths,
		RawPath:    rawPath,
	}
	obs, err := vision.ObserveOrStub(ctx, r.vision, req, r.cfg.Vision.AllowStub)
	if err != nil {
		r.logger.Warn("Perception pass failed", zap.Error(err))
		return observation.ErrorObservation(r.cfg.App.Goal, imagePaths, err)
	}
	return obs
}

// Bootstrap verifies the session preconditions: focus the canvas, dismiss
// any active command, capture the primary regions, and confirm through
// vision that Fusion is frontmost with the browser and timeline panels
// visible. The observation is returned even on failure so callers can show
// what was seen.
func (r *Runner) Bootstrap(ctx context.Context) (*schemas.Observation, error) {
	if err := r.tools.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("tool channel handshake: %w", err)
	}
	if err := r.clickCanvasFocus(ctx, 1.0); err != nil {
		return nil, err
	}
	r.sleep(100 * millisecond)
	if err := r.keyPress(ctx, "escape"); err != nil {
		return nil, err
	}
	if err := r.keyPress(ctx, "escape"); err != nil {
		return nil, err
	}

	var imagePaths []string
	for _, name := range []string{schemas.RegionTimeline, schemas.RegionCanvas, schemas.RegionBrowser} {
		capture, err := r.captureRegion(ctx, name)
		if err != nil {
			return nil, err
		}
		if capture.ImagePath != "" {
			imagePaths = append(imagePaths, capture.ImagePath)
		}
	}

	// Bootstrap must see the real screen: no stub substitution here, or the
	// precondition gate would pass on canned data with the endpoint down.
	obs, err := r.vision.Observe(ctx, schemas.ObserveRequest{
		Goal:       r.cfg.App.Goal,
		ImagePaths: imagePaths,
		RawPath:    r.store.BootstrapRawPath(),
	})
	if err != nil {
		r.logger.Warn("Bootstrap perception failed", zap.Error(err))
		obs = observation.ErrorObservation(r.cfg.App.Goal, imagePaths, err)
	}
	r.store.SaveObservation("observation.json", obs)

	isTargetApp := obs.UIState.App == r.cfg.App.Name
	panelsOK := obs.UIState.PanelsVisible["browser"] && obs.UIState.PanelsVisible["timeline"]
	if !isTargetApp || !panelsOK {
		r.logger.Error("Bootstrap preconditions not met",
			zap.String("app", obs.UIState.App),
			zap.Bool("browser", obs.UIState.PanelsVisible["browser"]),
			zap.Bool("timeline", obs.UIState.PanelsVisible["timeline"]))
		return obs, fmt.Errorf("%w: ensure %s is frontmost with Browser and Timeline visible",
			schemas.ErrBootstrapFailed, r.cfg.App.Name)
	}
	return obs, nil
}

// Observe performs bootstrap only and writes the resulting observation to
// the output writer. This is the one-shot diagnostic mode.
func (r *Runner) Observe(ctx context.Context) error {
	obs, err := r.Bootstrap(ctx)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(obs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode observation: %w", err)
	}
	fmt.Fprintln(r.out, string(data))
	return nil
}

// Run executes the full control loop for up to MaxSteps iterations.
func (r *Runner) Run(ctx context.Context) error {
	bootstrapObs, err := r.Bootstrap(ctx)
	if err != nil {
		if errors.Is(err, schemas.ErrBootstrapFailed) {
			return err
		}
		return fmt.Errorf("bootstrap: %w", err)
	}
	r.planner.VisionConfirmed = true
	if r.cfg.Run.StartMeasure {
		r.planner.State = planner.StateMeasureBaseline
	}

	lastObservation := bootstrapObs
	for step := 1; step <= r.cfg.Run.MaxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		done, err := r.runStep(ctx, step, &lastObservation)
		if err != nil {
			return err
		}
		if done {
			break
		}
	}
	r.logger.Info("Run finished", zap.String("state", string(r.planner.State)))
	return nil
}

// runStep performs one loop iteration. Returns done=true when the planner
// has nothing left to do.
func (r *Runner) runStep(ctx context.Context, step int, lastObservation **schemas.Observation) (bool, error) {
	info := r.screenInfo(ctx)
	captureMap := map[string]schemas.CaptureResult{}
	scale := r.planner.ScaleFactor
	obs := *lastObservation
	skipVision := false

	if r.planner.State == planner.StateMeasureBaseline &&
		!r.planner.BaselineMeasured && !r.planner.AwaitingMeasurement {
		if !r.planner.NavDone {
			if err := r.navPhase(ctx, info, scale); err != nil {
				return false, err
			}
			return false, nil
		}
		skipVision = true
	}

	var captureRegions []string
	focus := ""
	if r.planner.AwaitingMeasurement {
		captureRegions = []string{schemas.RegionMeasurePanel}
		focus = schemas.FocusMeasurePanel
	} else {
		captureRegions = r.capturePlan(obs)
	}

	var captures []schemas.CaptureResult
	if !skipVision {
		for _, name := range captureRegions {
			capture, err := r.captureRegion(ctx, name)
			if err != nil {
				return false, err
			}
			captures = append(captures, capture)
			captureMap[name] = capture
		}
	}

	if len(captures) > 0 && info.Width > 0 {
		var ratio float64
		scale, ratio = calibration.DeriveScale(info, captures[0])
		r.planner.ScaleFactor = scale
		r.logScaleCheck(info, captures[0], ratio, scale)
	}

	var imagePaths []string
	for _, capture := range captures {
		if capture.ImagePath != "" {
			imagePaths = append(imagePaths, capture.ImagePath)
		}
	}

	var action *schemas.Action
	if skipVision {
		action = &schemas.Action{Intent: schemas.IntentMeasureBaseline}
	} else {
		obs = r.observe(ctx, focus, imagePaths, r.store.RawVisionPath(step, ""))
		r.refineViewcube(ctx, step, obs, captureMap)
		annotateBestMeasurement(obs)
		r.store.SaveObservation(StepObservationName(step, ""), obs)
		r.planner.UpdateProgress(obs.TaskState.Progress)
		action = r.planner.Decide(obs)
	}
	*lastObservation = obs

	if action == nil {
		return true, nil
	}

	if r.planner.AwaitingMeasurement {
		outcome := r.planner.ResolveMeasurement(obs.BestMeasurement(), r.cfg.Measurement)
		if outcome == planner.MeasurementGiveUp {
			r.store.LogAction(map[string]any{
				"tool":   schemas.IntentRequestBetterView,
				"reason": "Measurement failed or confidence below threshold",
			})
			r.sleep(500 * millisecond)
			return false, nil
		}
	}

	if !r.planner.VisionConfirmed && !planner.AllowedUnconfirmed(action.Intent) {
		downgraded := schemas.WaitAction(schemas.IntentWait, int(r.cfg.Planner.StepWait.Milliseconds()))
		action = &downgraded
	}

	// A failed physical action never ends the session; the next observation
	// sees whatever state the miss left behind.
	if err := r.dispatch(ctx, step, action, captureMap, scale); err != nil {
		r.logger.Warn("Action failed, continuing",
			zap.String("intent", action.Intent), zap.Error(err))
		r.store.LogAction(map[string]any{
			"tool": action.Tool, "intent": action.Intent, "error": err.Error(),
		})
	}
	r.sleep(50 * millisecond)
	return false, nil
}

// navPhase frames the model before measuring: fit view, switch to the home
// view, zoom out, and record the resulting canvas capture and scale. Runs
// once per session, without vision.
func (r *Runner) navPhase(ctx context.Context, info schemas.ScreenInfo, scale float64) error {
	if r.cal.Has(schemas.RegionCanvas) {
		if _, err := r.captureRegion(ctx, schemas.RegionCanvas); err != nil {
			return err
		}
	}
	if err := r.clickCanvasFocus(ctx, scale); err != nil {
		return err
	}
	if err := r.keyPress(ctx, "f6"); err != nil {
		return err
	}
	r.toolWait(ctx, 350)
	if err := r.keyPress(ctx, "command", "6"); err != nil {
		return err
	}
	r.toolWait(ctx, 350)
	if err := r.scroll(ctx, -120, 6); err != nil {
		return err
	}

	navCanvas, err := r.captureRegion(ctx, schemas.RegionCanvas)
	if err != nil {
		return err
	}
	if info.Width > 0 {
		factor, ratio := calibration.DeriveScale(info, navCanvas)
		r.planner.ScaleFactor = factor
		r.logScaleCheck(info, navCanvas, ratio, factor)
	}
	r.planner.LastCanvasPath = navCanvas.ImagePath
	r.planner.NavDone = true
	r.logger.Info("Navigation phase complete",
		zap.Float64("scale_factor", r.planner.ScaleFactor))
	return nil
}

// capturePlan picks which calibrated regions to capture this step, based on
// the planner phase and what the last observation showed.
func (r *Runner) capturePlan(obs *schemas.Observation) []string {
	regions := []string{schemas.RegionTimeline, schemas.RegionCanvas}
	for _, optional := range []string{schemas.RegionBrowser, schemas.RegionViewcube} {
		if r.cal.Has(optional) {
			regions = append(regions, optional)
		}
	}

	measureOpen := obs != nil && obs.Extraction.Measurements.MeasureDialogOpen
	if (r.cfg.Run.ForceMeasure || measureOpen ||
		r.planner.State == planner.StateVerify || r.planner.State == planner.StateMeasureBaseline) &&
		r.cal.Has(schemas.RegionMeasurePanel) {
		regions = append(regions, schemas.RegionMeasurePanel)
	}

	sketchEdit := obs != nil && obs.Extraction.SketchContext.IsEditingSketch
	if sketchEdit || r.planner.State == planner.StateEdit {
		for _, name := range []string{schemas.RegionSketchPalette, schemas.RegionSketchDimension} {
			if r.cal.Has(name) {
				regions = append(regions, name)
			}
		}
	}
	return regions
}

// refineViewcube overrides the main observation's viewcube block with a
// focused pass over the viewcube capture, when one exists. Best effort.
func (r *Runner) refineViewcube(ctx context.Context, step int, obs *schemas.Observation, captureMap map[string]schemas.CaptureResult) {
	capture, ok := captureMap[schemas.RegionViewcube]
	if !ok || capture.ImagePath == "" {
		return
	}
	req := schemas.ObserveRequest{
		Goal:       "Extract viewcube only",
		Focus:      schemas.FocusViewcube,
		ImagePaths: []string{capture.ImagePath},
		RawPath:    r.store.RawVisionPath(step, "viewcube"),
	}
	focused, err := r.vision.Observe(ctx, req)
	if err != nil {
		r.logger.Debug("Focused viewcube pass failed", zap.Error(err))
		return
	}
	obs.Extraction.Viewcube = focused.Extraction.Viewcube
}

// annotateBestMeasurement surfaces the highest-confidence measurement in the
// observation notes, where run summaries pick it up.
func annotateBestMeasurement(obs *schemas.Observation) {
	best := obs.BestMeasurement()
	if best == nil {
		return
	}
	obs.Notes = fmt.Sprintf("Measurement: %g %s (%s, confidence %g)",
		best.Value, best.Units, best.Metric, best.Confidence)
}

// dispatch carries out a decided action.
func (r *Runner) dispatch(ctx context.Context, step int, action *schemas.Action, captureMap map[string]schemas.CaptureResult, scale float64) error {
	switch action.Intent {
	case schemas.IntentFitView:
		return r.handleFitView(ctx)
	case schemas.IntentSetViewFront, schemas.IntentSetViewTop, schemas.IntentSetViewRight:
		return r.handleSetView(ctx, action.Intent)
	case schemas.IntentZoomIn, schemas.IntentZoomOut:
		return r.handleZoom(ctx, action)
	case schemas.IntentMeasureBaseline:
		return r.handleMeasureBaseline(ctx, step, captureMap, scale)
	case schemas.IntentEdit:
		// Snapshot the document first; the edit itself runs next iteration.
		result, err := r.tools.Call(ctx, schemas.ToolSaveSnapshot, map[string]any{"label": "pre-edit"})
		if err != nil {
			return fmt.Errorf("pre-edit snapshot: %w", err)
		}
		r.store.LogAction(map[string]any{"tool": schemas.ToolSaveSnapshot, "result": result})
		r.planner.Defer(*action)
		return nil
	}

	if action.Tool == "" {
		return nil
	}
	result, err := r.tools.Call(ctx, action.Tool, action.Args)
	if err != nil {
		return fmt.Errorf("action %s: %w", action.Intent, err)
	}
	r.store.LogAction(map[string]any{
		"tool": action.Tool, "arguments": action.Args, "result": result,
	})
	return nil
}

func (r *Runner) handleFitView(ctx context.Context) error {
	if err := r.keyPress(ctx, "f6"); err != nil {
		return err
	}
	r.toolWait(ctx, 350)
	for _, name := range []string{schemas.RegionCanvas, schemas.RegionViewcube} {
		if !r.cal.Has(name) {
			continue
		}
		if _, err := r.captureRegion(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// viewShortcuts maps a named view to its keyboard shortcut digit.
var viewShortcuts = map[string]string{
	"front": "1",
	"top":   "3",
	"right": "6",
}

func (r *Runner) handleSetView(ctx context.Context, intent string) error {
	parts := strings.Split(intent, "_")
	target := parts[len(parts)-1]
	if shortcut, ok := viewShortcuts[target]; ok {
		if err := r.keyPress(ctx, "command", shortcut); err != nil {
			return err
		}
	}
	r.toolWait(ctx, 350)

	capture, err := r.captureRegion(ctx, schemas.RegionViewcube)
	if err != nil {
		return err
	}
	// Verify through a focused pass and retry the shortcut once on mismatch.
	verifyObs, err := r.vision.Observe(ctx, schemas.ObserveRequest{
		Goal:       "Verify viewcube face",
		Focus:      schemas.FocusViewcube,
		ImagePaths: []string{capture.ImagePath},
	})
	if err != nil {
		r.logger.Debug("View verification pass failed", zap.Error(err))
		return nil
	}
	if !strings.EqualFold(verifyObs.Extraction.Viewcube.Face, target) {
		if shortcut, ok := viewShortcuts[target]; ok {
			if err := r.keyPress(ctx, "command", shortcut); err != nil {
				return err
			}
			r.toolWait(ctx, 350)
		}
	}
	return nil
}

func (r *Runner) handleZoom(ctx context.Context, action *schemas.Action) error {
	steps := action.Steps
	if steps <= 0 {
		steps = 3
	}
	delta := -120
	if action.Intent == schemas.IntentZoomOut {
		delta = 120
	}
	if err := r.scroll(ctx, delta, steps); err != nil {
		return err
	}
	_, err := r.captureRegion(ctx, schemas.RegionCanvas)
	return err
}

func (r *Runner) handleMeasureBaseline(ctx context.Context, step int, captureMap map[string]schemas.CaptureResult, scale float64) error {
	canvasPath := captureMap[schemas.RegionCanvas].ImagePath
	if canvasPath == "" {
		canvasPath = r.planner.LastCanvasPath
	}
	if scale == 0 {
		scale = 1.0
	}

	result, err := r.measureBaseline(ctx, scale, canvasPath, r.planner.MeasureVariant)
	if err != nil {
		return fmt.Errorf("baseline measurement: %w", err)
	}
	r.planner.AwaitingMeasurement = true
	r.planner.LastClickDistance = result.clickDistance
	r.planner.LastPostClickCrops = result.cropPaths

	// Focused pass on the freshest panel capture so the confirmation step
	// next iteration has measurement entries to judge.
	if len(result.panelPaths) == 0 {
		return nil
	}
	obs := r.observe(ctx, schemas.FocusMeasurePanel,
		result.panelPaths[len(result.panelPaths)-1:],
		r.store.RawVisionPath(step, "measure"))
	r.store.SaveObservation(StepObservationName(step, "measure"), obs)
	return nil
}
