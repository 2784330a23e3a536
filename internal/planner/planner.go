// File: internal/planner/planner.go

// Package planner holds the control-loop state machine. The planner owns no
// I/O: it consumes observations and emits actions, and the runner carries
// them out. It is deliberately conservative: when the observation is weak it
// waits rather than acting.
package planner

import (
	"maps"

	"go.uber.org/zap"

	"github.com/xkilldash9x/fusion-pilot/api/schemas"
	"github.com/xkilldash9x/fusion-pilot/internal/config"
)

// State names a phase of the editing session.
type State string

const (
	StateBootstrap       State = "BOOTSTRAP"
	StateLocate          State = "LOCATE"
	StateMeasureBaseline State = "MEASURE_BASELINE"
	StateEdit            State = "EDIT"
	StateVerify          State = "VERIFY"
	StateDone            State = "DONE"
	StateRecover         State = "RECOVER"
)

// MeasurementOutcome is the result of judging a baseline-measurement pass.
type MeasurementOutcome int

const (
	// MeasurementConfirmed accepts the reading and advances to VERIFY.
	MeasurementConfirmed MeasurementOutcome = iota
	// MeasurementRetry queues a reframe-and-remeasure sequence.
	MeasurementRetry
	// MeasurementGiveUp means retries are exhausted; the runner should ask
	// for a better view and move on.
	MeasurementGiveUp
)

// Planner tracks session phase, queued work, and stuck detection. All fields
// are owned by the single loop goroutine; there is no locking.
type Planner struct {
	cfg    config.PlannerConfig
	logger *zap.Logger

	State State

	queue    []schemas.Action
	deferred *schemas.Action

	stuckCount   int
	lastProgress map[string]bool

	// Session facts the runner records as it works.
	VisionConfirmed     bool
	BaselineMeasured    bool
	AwaitingMeasurement bool
	MeasurementAttempts int
	MeasureVariant      int
	NavDone             bool
	LastCanvasPath      string
	LastPostClickCrops  []string
	ScaleFactor         float64

	// LastClickDistance is the horizontal spread of the most recent
	// measurement click pair in capture pixels; negative means no pair yet.
	LastClickDistance float64
}

func New(cfg config.PlannerConfig, logger *zap.Logger) *Planner {
	return &Planner{
		cfg:               cfg,
		logger:            logger.Named("planner"),
		State:             StateBootstrap,
		LastClickDistance: -1,
		ScaleFactor:       1.0,
	}
}

// Enqueue appends actions to the front-of-line queue. Queued actions win
// over everything else in Decide, including the confidence gate.
func (p *Planner) Enqueue(actions ...schemas.Action) {
	p.queue = append(p.queue, actions...)
}

// Defer stages a single action to be emitted on the next Decide call, after
// the queue drains. Used for two-phase actions like snapshot-then-edit.
func (p *Planner) Defer(action schemas.Action) {
	p.deferred = &action
}

// Stuck returns the count of consecutive observations with unchanged
// progress.
func (p *Planner) Stuck() int { return p.stuckCount }

// UpdateProgress compares the task-progress map against the previous
// observation's. Any change resets the stuck counter; reaching the
// configured threshold without change flips the planner into RECOVER.
func (p *Planner) UpdateProgress(progress map[string]bool) {
	if p.lastProgress == nil {
		p.lastProgress = maps.Clone(progress)
		return
	}
	if maps.Equal(progress, p.lastProgress) {
		p.stuckCount++
	} else {
		p.stuckCount = 0
		p.lastProgress = maps.Clone(progress)
	}
	if p.stuckCount >= p.cfg.StuckThreshold && p.State != StateRecover {
		p.logger.Warn("No progress across consecutive observations, entering recovery",
			zap.Int("stuck_count", p.stuckCount))
		p.State = StateRecover
	}
}

// Decide picks the next action. Precedence: queued actions, then the
// deferred action, then recovery, then the low-confidence gate, then the
// state machine. A nil return means the session is finished.
func (p *Planner) Decide(obs *schemas.Observation) *schemas.Action {
	if len(p.queue) > 0 {
		action := p.queue[0]
		p.queue = p.queue[1:]
		return &action
	}
	if p.deferred != nil {
		action := *p.deferred
		p.deferred = nil
		return &action
	}
	if p.State == StateRecover {
		action := schemas.WaitAction(schemas.IntentRecover, int(p.cfg.RecoverWait.Milliseconds()))
		return &action
	}
	if obs.Confidence < p.cfg.ConfidenceGate {
		action := schemas.WaitAction(schemas.IntentWait, int(p.cfg.Wait.Milliseconds()))
		return &action
	}

	stepWait := int(p.cfg.StepWait.Milliseconds())
	switch p.State {
	case StateBootstrap:
		p.State = StateLocate
		action := schemas.KeyPressAction(schemas.IntentEscape, "escape")
		return &action
	case StateLocate:
		p.State = StateMeasureBaseline
		action := schemas.WaitAction(schemas.IntentNavigate, stepWait)
		return &action
	case StateMeasureBaseline:
		action := schemas.WaitAction(schemas.IntentMeasure, stepWait)
		return &action
	case StateEdit:
		p.State = StateVerify
		action := schemas.WaitAction(schemas.IntentEdit, stepWait)
		return &action
	case StateVerify:
		p.State = StateDone
		action := schemas.WaitAction(schemas.IntentVerify, stepWait)
		return &action
	}
	return nil
}

// ResolveMeasurement judges the focused measurement pass that follows a
// measure_baseline action. A reading is accepted only when the extractor is
// confident, the value is physically plausible, and the click pair was far
// enough apart to have hit two distinct silhouette edges. The first failure
// queues a reframe (fit view, zoom in, remeasure) with the alternate click
// variant; later failures give up.
func (p *Planner) ResolveMeasurement(best *schemas.MeasurementEntry, rules config.MeasurementConfig) MeasurementOutcome {
	p.AwaitingMeasurement = false

	distanceOK := p.LastClickDistance < 0 || p.LastClickDistance >= float64(rules.MinClickDistance)
	if best != nil && best.Confidence >= rules.MinConfidence && best.Value >= rules.MinValueMM && distanceOK {
		p.BaselineMeasured = true
		p.State = StateVerify
		p.logger.Info("Baseline measurement confirmed",
			zap.Float64("value", best.Value),
			zap.String("units", best.Units),
			zap.Float64("confidence", best.Confidence))
		return MeasurementConfirmed
	}

	p.MeasurementAttempts++
	if p.MeasurementAttempts <= 1 {
		p.MeasureVariant = 1
		p.Enqueue(
			schemas.Action{Intent: schemas.IntentFitView},
			schemas.Action{Intent: schemas.IntentZoomIn, Steps: 2},
			schemas.Action{Intent: schemas.IntentMeasureBaseline},
		)
		p.logger.Info("Measurement rejected, queueing reframe and retry",
			zap.Int("attempts", p.MeasurementAttempts))
		return MeasurementRetry
	}
	p.logger.Warn("Measurement retries exhausted",
		zap.Int("attempts", p.MeasurementAttempts))
	return MeasurementGiveUp
}

// AllowedUnconfirmed reports whether an intent may run before vision has
// confirmed the application state. Until then only passive or reversible
// intents are allowed; anything else is downgraded by the runner to a wait.
func AllowedUnconfirmed(intent string) bool {
	switch intent {
	case schemas.IntentNavigate, schemas.IntentMeasure, schemas.IntentRequestBetterView,
		schemas.IntentWait, schemas.IntentEscape:
		return true
	}
	return false
}
