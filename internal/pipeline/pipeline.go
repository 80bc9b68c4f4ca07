// Package pipeline runs the extract, geocode and export stages in order and
// reports a typed result for the whole run.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/preschool-etl/internal/config"
	"github.com/sells-group/preschool-etl/internal/monitoring"
)

// State is a position in the run state machine.
type State string

const (
	StateInit    State = "init"
	StateExtract State = "extract"
	StateGeocode State = "geocode"
	StateExport  State = "export"
	StateDone    State = "done"
	StateFailed  State = "failed"
)

// Policy decides what a stage failure does to the run.
type Policy int

const (
	// Fatal stops the run and ends it in StateFailed.
	Fatal Policy = iota
	// BestEffort logs the failure and continues with the next stage.
	BestEffort
)

func (p Policy) String() string {
	if p == BestEffort {
		return "best_effort"
	}
	return "fatal"
}

// Stage is one unit of pipeline work.
type Stage interface {
	Name() string
	Run(ctx context.Context) error
}

// Step binds a stage to the state it runs in and its failure policy. When
// LogFile is set, log lines emitted while the stage runs are also appended
// to that file.
type Step struct {
	State   State
	Stage   Stage
	Policy  Policy
	LogFile string
}

// StageStatus is the outcome of a single stage.
type StageStatus string

const (
	StageComplete StageStatus = "complete"
	StageFailed   StageStatus = "failed"
	StageSkipped  StageStatus = "skipped"
)

// StageOutcome records how one stage went.
type StageOutcome struct {
	Name       string        `json:"name"`
	Status     StageStatus   `json:"status"`
	Policy     string        `json:"policy"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"-"`
	DurationMs int64         `json:"duration_ms"`
}

// Result is the outcome of one orchestrated run.
type Result struct {
	RunID      string         `json:"run_id"`
	State      State          `json:"state"`
	Stages     []StageOutcome `json:"stages"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// Succeeded reports whether the run reached StateDone.
func (r *Result) Succeeded() bool { return r.State == StateDone }

// Degraded lists best-effort stages that failed in an otherwise successful run.
func (r *Result) Degraded() []string {
	var names []string
	for _, s := range r.Stages {
		if s.Status == StageFailed && s.Policy == BestEffort.String() {
			names = append(names, s.Name)
		}
	}
	return names
}

// Standard returns the extract, geocode, export sequence. Geocoding is
// best-effort so a provider outage still produces an export.
func Standard(extract, geocode, export Stage) []Step {
	return []Step{
		{State: StateExtract, Stage: extract, Policy: Fatal},
		{State: StateGeocode, Stage: geocode, Policy: BestEffort},
		{State: StateExport, Stage: export, Policy: Fatal},
	}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock sets the time source for durations and timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithMetrics records per-stage outcomes.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogConfig sets the level used for per-step log files.
func WithLogConfig(cfg config.LogConfig) Option {
	return func(o *Orchestrator) { o.logCfg = cfg }
}

// Orchestrator executes steps sequentially.
type Orchestrator struct {
	steps   []Step
	clock   clockwork.Clock
	metrics *monitoring.Metrics
	logCfg  config.LogConfig
}

// New creates an Orchestrator over steps.
func New(steps []Step, opts ...Option) *Orchestrator {
	o := &Orchestrator{steps: steps, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes every step. The returned error is non-nil only when a fatal
// stage failed; the Result is returned either way.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	res := &Result{
		RunID:     uuid.NewString(),
		State:     StateInit,
		StartedAt: o.clock.Now(),
	}
	log := zap.L().With(zap.String("component", "pipeline"), zap.String("run_id", res.RunID))
	log.Info("pipeline: starting run", zap.Int("stages", len(o.steps)))

	var runErr error
	for _, step := range o.steps {
		name := step.Stage.Name()
		if runErr != nil {
			res.Stages = append(res.Stages, StageOutcome{Name: name, Status: StageSkipped, Policy: step.Policy.String()})
			continue
		}

		res.State = step.State
		out, err := o.runStage(ctx, step)
		res.Stages = append(res.Stages, out)

		switch {
		case err == nil:
			log.Info("pipeline: stage complete", zap.String("stage", name), zap.Int64("duration_ms", out.DurationMs))
		case step.Policy == BestEffort && ctx.Err() == nil:
			log.Warn("pipeline: stage failed, continuing", zap.String("stage", name), zap.Int64("duration_ms", out.DurationMs), zap.Error(err))
		default:
			log.Error("pipeline: stage failed", zap.String("stage", name), zap.Int64("duration_ms", out.DurationMs), zap.Error(err))
			runErr = eris.Wrapf(err, "pipeline: stage %s", name)
		}
	}

	res.FinishedAt = o.clock.Now()
	if runErr != nil {
		res.State = StateFailed
	} else {
		res.State = StateDone
	}

	log.Info("pipeline: run finished",
		zap.String("state", string(res.State)),
		zap.Duration("elapsed", res.FinishedAt.Sub(res.StartedAt)),
		zap.Strings("degraded", res.Degraded()),
	)
	return res, runErr
}

func (o *Orchestrator) runStage(ctx context.Context, step Step) (StageOutcome, error) {
	out := StageOutcome{Name: step.Stage.Name(), Policy: step.Policy.String()}

	if step.LogFile != "" {
		detach, err := config.AttachLogFile(o.logCfg, step.LogFile)
		if err != nil {
			zap.L().Warn("pipeline: stage log file unavailable", zap.String("stage", out.Name), zap.String("path", step.LogFile), zap.Error(err))
		} else {
			defer detach()
		}
	}

	start := o.clock.Now()
	err := ctx.Err()
	if err == nil {
		err = step.Stage.Run(ctx)
	}
	out.Duration = o.clock.Since(start)
	out.DurationMs = out.Duration.Milliseconds()
	o.metrics.ObserveStage(out.Name, out.Duration, err, o.clock.Now())

	if err != nil {
		out.Status = StageFailed
		out.Error = err.Error()
		return out, err
	}
	out.Status = StageComplete
	return out, nil
}
