package pipeline

import (
	"context"
	"runtime/debug"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/portfolio-discovery/internal/model"
)

// Registry is the run-state surface the Driver writes through.
// *registry.Registry implements it.
type Registry interface {
	GetRun(ctx context.Context, runID string) (*model.RunState, error)
	StartRun(ctx context.Context, runID string) error
	StepStart(ctx context.Context, runID string, step model.StepID) error
	StepComplete(ctx context.Context, runID string, step model.StepID, count *int, delta *model.Totals) error
	StepError(ctx context.Context, runID string, step model.StepID, msg string) error
	CompleteRun(ctx context.Context, runID string) error
	FailRun(ctx context.Context, runID, msg string) error
	IsCancelled(ctx context.Context, runID string) bool
	SetSponsorID(ctx context.Context, runID string, id int64) error
	NotifyUser(ctx context.Context, userID string, evt model.UserEvent)
}

// SummarySaver persists the audit record of a completed run.
type SummarySaver interface {
	SaveRunSummary(ctx context.Context, s model.RunSummary) error
}

// Request identifies the run to execute and its inputs.
type Request struct {
	RunID        string
	SponsorName  string
	SponsorID    *int64
	PortfolioURL string
	Mode         model.WriteMode
	UserID       string
}

// Driver runs the stages of one run in order, writing every transition
// through the Registry.
type Driver struct {
	registry  Registry
	summaries SummarySaver
	stages    []Stage
}

// NewDriver creates a Driver. summaries may be nil.
func NewDriver(reg Registry, summaries SummarySaver, stages ...Stage) *Driver {
	return &Driver{registry: reg, summaries: summaries, stages: stages}
}

// Run executes the pipeline synchronously. It returns nil when the run
// completes or is cancelled, and the failing stage's error otherwise; in
// that case the run has already been marked as errored.
//
// Stages observe ctx. Run-state writes do not: they use a context detached
// from ctx so that a dropped request or an interrupted CLI still leaves the
// run in a terminal state.
func (d *Driver) Run(ctx context.Context, req Request) error {
	log := zap.L().With(zap.String("run_id", req.RunID), zap.String("sponsor", req.SponsorName))
	log.Info("pipeline: starting run", zap.String("mode", string(req.Mode)))
	rctx := context.WithoutCancel(ctx)

	if err := d.registry.StartRun(rctx, req.RunID); err != nil {
		log.Warn("pipeline: start run", zap.Error(err))
	}

	state := NewState(req)
	for _, stage := range d.stages {
		step := stage.Name()
		if d.registry.IsCancelled(rctx, req.RunID) {
			log.Info("pipeline: run cancelled, stopping", zap.String("before_step", string(step)))
			return nil
		}
		if err := ctx.Err(); err != nil {
			return d.fail(rctx, req, step, eris.Wrap(err, "interrupted"), log)
		}
		if err := d.registry.StepStart(rctx, req.RunID, step); err != nil {
			log.Warn("pipeline: step start", zap.String("step", string(step)), zap.Error(err))
		}

		next, err := stage.Run(ctx, state)
		if err != nil {
			return d.fail(rctx, req, step, err, log)
		}

		count, delta := stepTotals(step, next)
		if err := d.registry.StepComplete(rctx, req.RunID, step, count, delta); err != nil {
			log.Warn("pipeline: step complete", zap.String("step", string(step)), zap.Error(err))
		}
		if step == model.StepWriter && next.SponsorID != nil {
			if err := d.registry.SetSponsorID(rctx, req.RunID, *next.SponsorID); err != nil {
				log.Warn("pipeline: set sponsor id", zap.Error(err))
			}
		}
		state = next
	}

	if err := d.registry.CompleteRun(rctx, req.RunID); err != nil {
		log.Warn("pipeline: complete run", zap.Error(err))
	}

	run, err := d.registry.GetRun(rctx, req.RunID)
	switch {
	case err != nil:
		log.Warn("pipeline: reload run", zap.Error(err))
	case run.Status != model.RunStatusCompleted:
		// Cancelled while the last stage was running.
		log.Info("pipeline: run ended without completing", zap.String("status", string(run.Status)))
		return nil
	default:
		d.saveSummary(rctx, run, log)
	}
	d.notify(rctx, req, model.UserEvent{Type: "completed", Added: state.Added})

	log.Info("pipeline: run complete", zap.Int("added", state.Added))
	return nil
}

// fail records err against step, which also ends the run.
func (d *Driver) fail(ctx context.Context, req Request, step model.StepID, err error, log *zap.Logger) error {
	log.Error("pipeline: step failed", zap.String("step", string(step)), zap.Error(err))
	if regErr := d.registry.StepError(ctx, req.RunID, step, err.Error()); regErr != nil {
		log.Warn("pipeline: record step error", zap.Error(regErr))
	}
	d.notify(ctx, req, model.UserEvent{Type: "error", Error: err.Error()})
	return eris.Wrapf(err, "pipeline: %s", step)
}

// Go runs the pipeline on a detached goroutine. The caller's cancellation
// does not stop it. A returned error or panic is recorded with FailRun. The
// returned channel receives the outcome once and is then closed; callers
// that do not care may ignore it.
func (d *Driver) Go(ctx context.Context, req Request) <-chan error {
	done := make(chan error, 1)
	bg := context.WithoutCancel(ctx)

	go func() {
		var err error
		defer func() {
			if r := recover(); r != nil {
				err = eris.Errorf("pipeline: panic: %v", r)
				zap.L().Error("pipeline: run panicked",
					zap.String("run_id", req.RunID),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()),
				)
			}
			if err != nil {
				if failErr := d.registry.FailRun(bg, req.RunID, err.Error()); failErr != nil {
					zap.L().Warn("pipeline: fail run", zap.String("run_id", req.RunID), zap.Error(failErr))
				}
			}
			done <- err
			close(done)
		}()
		err = d.Run(bg, req)
	}()

	return done
}

func (d *Driver) saveSummary(ctx context.Context, run *model.RunState, log *zap.Logger) {
	if d.summaries == nil {
		return
	}
	if err := d.summaries.SaveRunSummary(ctx, model.SummaryFromState(run)); err != nil {
		log.Warn("pipeline: save run summary", zap.Error(err))
	}
}

func (d *Driver) notify(ctx context.Context, req Request, evt model.UserEvent) {
	if req.UserID == "" {
		return
	}
	evt.RunID = req.RunID
	evt.SponsorName = req.SponsorName
	d.registry.NotifyUser(ctx, req.UserID, evt)
}
