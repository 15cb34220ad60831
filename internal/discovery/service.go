// Package discovery starts discovery runs. A start takes the per-sponsor
// lock, reuses a live run for the same sponsor when there is one, and
// otherwise creates a run and hands it to the pipeline driver.
package discovery

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/portfolio-discovery/internal/lock"
	"github.com/sells-group/portfolio-discovery/internal/model"
	"github.com/sells-group/portfolio-discovery/internal/pipeline"
	"github.com/sells-group/portfolio-discovery/internal/registry"
)

// Runs is the registry surface used to create or find runs.
type Runs interface {
	CreateRun(ctx context.Context, p registry.CreateParams) (*model.RunState, error)
	ActiveRunForSponsor(ctx context.Context, sponsorName string) (*model.RunState, error)
}

// Runner executes a created run. *pipeline.Driver implements it.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) error
	Go(ctx context.Context, req pipeline.Request) <-chan error
}

// StartRequest is the input for a new run.
type StartRequest struct {
	SponsorName  string
	SponsorID    *int64
	PortfolioURL string
	Mode         string
	UserID       string
}

// StartResult identifies the run serving a start request. Existing is true
// when a live run for the sponsor was returned instead of a new one.
type StartResult struct {
	RunID    string `json:"runId"`
	Existing bool   `json:"existing,omitempty"`
}

// Service starts runs.
type Service struct {
	runs   Runs
	locks  *lock.Coordinator
	runner Runner
}

// NewService creates a Service. locks may be nil, which disables locking.
func NewService(runs Runs, locks *lock.Coordinator, runner Runner) *Service {
	return &Service{runs: runs, locks: locks, runner: runner}
}

// Start creates a run and executes it in the background. The returned run
// id is available to observers immediately.
func (s *Service) Start(ctx context.Context, req StartRequest) (StartResult, error) {
	res, preq, err := s.claim(ctx, req)
	if err != nil || res.Existing {
		return res, err
	}
	s.runner.Go(ctx, preq)
	return res, nil
}

// RunSync creates a run and executes it before returning. When a live run
// for the sponsor already exists it is returned and nothing is executed.
// The error is the failing stage's error.
func (s *Service) RunSync(ctx context.Context, req StartRequest) (StartResult, error) {
	res, preq, err := s.claim(ctx, req)
	if err != nil || res.Existing {
		return res, err
	}
	if err := s.runner.Run(ctx, preq); err != nil {
		return res, eris.Wrapf(err, "discovery: run %s", res.RunID)
	}
	return res, nil
}

type claimed struct {
	result  StartResult
	request pipeline.Request
}

// claim returns the sponsor's live run or creates one, under the start lock.
func (s *Service) claim(ctx context.Context, req StartRequest) (StartResult, pipeline.Request, error) {
	name := strings.TrimSpace(req.SponsorName)
	if name == "" {
		return StartResult{}, pipeline.Request{}, eris.New("discovery: sponsor name is required")
	}
	mode, err := model.ParseWriteMode(req.Mode)
	if err != nil {
		return StartResult{}, pipeline.Request{}, eris.Wrap(err, "discovery: start")
	}

	c, err := lock.WithLock(ctx, s.locks, lock.SponsorKey(name), func(ctx context.Context) (claimed, error) {
		active, err := s.runs.ActiveRunForSponsor(ctx, name)
		if err != nil {
			zap.L().Warn("discovery: active run lookup failed", zap.String("sponsor", name), zap.Error(err))
		}
		if active != nil {
			return claimed{result: StartResult{RunID: active.RunID, Existing: true}}, nil
		}

		run, err := s.runs.CreateRun(ctx, registry.CreateParams{
			SponsorName: name,
			Mode:        mode,
			SponsorID:   req.SponsorID,
			UserID:      req.UserID,
		})
		if err != nil {
			return claimed{}, eris.Wrap(err, "discovery: create run")
		}
		return claimed{
			result: StartResult{RunID: run.RunID},
			request: pipeline.Request{
				RunID:        run.RunID,
				SponsorName:  name,
				SponsorID:    req.SponsorID,
				PortfolioURL: strings.TrimSpace(req.PortfolioURL),
				Mode:         mode,
				UserID:       req.UserID,
			},
		}, nil
	})
	if err != nil {
		return StartResult{}, pipeline.Request{}, err
	}

	if c.result.Existing {
		zap.L().Info("discovery: returning active run",
			zap.String("sponsor", name), zap.String("run_id", c.result.RunID))
	}
	return c.result, c.request, nil
}
