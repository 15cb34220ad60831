// Package registry is the run state machine: it creates runs, records step
// transitions, tracks the active run per sponsor and per user, and publishes
// a full snapshot after every write.
package registry

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/portfolio-discovery/internal/events"
	"github.com/sells-group/portfolio-discovery/internal/model"
	"github.com/sells-group/portfolio-discovery/internal/runstore"
)

// ErrRunNotFound is returned by reads and explicit commands on an unknown or
// expired run.
var ErrRunNotFound = eris.New("registry: run not found")

// DefaultRetention is how long run state and active mappings are kept.
const DefaultRetention = 24 * time.Hour

const (
	runKeyPrefix     = "run:"
	sponsorKeyPrefix = "active:sponsor:"
	userKeyPrefix    = "active:user:"

	stripes = 64
)

// Registry owns every read and write of run state.
type Registry struct {
	store     runstore.Store
	pub       events.Publisher
	retention time.Duration
	now       func() time.Time
	newID     func() string

	mu [stripes]sync.Mutex
}

// Option configures a Registry.
type Option func(*Registry)

// WithRetention overrides DefaultRetention.
func WithRetention(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.retention = d
		}
	}
}

// WithClock injects a time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithIDFunc injects a run ID generator.
func WithIDFunc(f func() string) Option {
	return func(r *Registry) { r.newID = f }
}

// New creates a Registry. A nil publisher discards events.
func New(store runstore.Store, pub events.Publisher, opts ...Option) *Registry {
	if pub == nil {
		pub = events.Nop{}
	}
	r := &Registry{
		store:     store,
		pub:       pub,
		retention: DefaultRetention,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func runKey(runID string) string   { return runKeyPrefix + runID }
func sponsorKey(name string) string { return sponsorKeyPrefix + model.FoldName(name) }
func userKey(userID string) string  { return userKeyPrefix + userID }

func (r *Registry) lockFor(runID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(runID))
	return &r.mu[h.Sum32()%stripes]
}

// CreateParams describes a new run.
type CreateParams struct {
	SponsorName string
	Mode        model.WriteMode
	SponsorID   *int64
	UserID      string
}

// CreateRun allocates a pending run and records it as the active run for
// its sponsor and user.
func (r *Registry) CreateRun(ctx context.Context, p CreateParams) (*model.RunState, error) {
	if p.Mode == "" {
		p.Mode = model.WriteModeAppend
	}
	state := model.NewRunState(r.newID(), p.SponsorName, p.Mode, r.now())
	state.SponsorID = p.SponsorID
	state.UserID = p.UserID

	mu := r.lockFor(state.RunID)
	mu.Lock()
	defer mu.Unlock()

	if err := r.save(ctx, state); err != nil {
		return nil, err
	}
	if err := r.store.Put(ctx, sponsorKey(p.SponsorName), []byte(state.RunID), r.retention); err != nil {
		return nil, eris.Wrap(err, "registry: set sponsor mapping")
	}
	if p.UserID != "" {
		if err := r.store.Put(ctx, userKey(p.UserID), []byte(state.RunID), r.retention); err != nil {
			return nil, eris.Wrap(err, "registry: set user mapping")
		}
	}

	zap.L().Info("registry: run created",
		zap.String("run_id", state.RunID),
		zap.String("sponsor", p.SponsorName),
		zap.String("mode", string(p.Mode)),
	)
	return state, nil
}

// GetRun returns the current state or ErrRunNotFound.
func (r *Registry) GetRun(ctx context.Context, runID string) (*model.RunState, error) {
	state, err := r.load(ctx, runID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, ErrRunNotFound
	}
	return state, nil
}

// StartRun moves a pending run to running.
func (r *Registry) StartRun(ctx context.Context, runID string) error {
	return r.update(ctx, runID, func(s *model.RunState) bool {
		if s.Status != model.RunStatusPending {
			return false
		}
		s.Status = model.RunStatusRunning
		return true
	})
}

// StepStart marks step running and makes it the current step.
func (r *Registry) StepStart(ctx context.Context, runID string, step model.StepID) error {
	return r.updateStep(ctx, runID, func(s *model.RunState, now time.Time) {
		st := s.Step(step)
		st.Status = model.StepStatusRunning
		st.StartedAt = &now
		st.EndedAt = nil
		s.CurrentStepID = step
	})
}

// StepProgress records an item count and merges totals without changing
// any status.
func (r *Registry) StepProgress(ctx context.Context, runID string, step model.StepID, count int, delta *model.Totals) error {
	return r.updateStep(ctx, runID, func(s *model.RunState, _ time.Time) {
		s.Step(step).Count = model.IntPtr(count)
		s.Totals.Merge(delta)
	})
}

// StepComplete marks step completed. count and delta are optional.
func (r *Registry) StepComplete(ctx context.Context, runID string, step model.StepID, count *int, delta *model.Totals) error {
	return r.updateStep(ctx, runID, func(s *model.RunState, now time.Time) {
		st := s.Step(step)
		st.Status = model.StepStatusCompleted
		st.EndedAt = &now
		if count != nil {
			st.Count = model.IntPtr(*count)
		}
		s.Totals.Merge(delta)
	})
}

// StepAnnotate attaches a non-fatal message to a step.
func (r *Registry) StepAnnotate(ctx context.Context, runID string, step model.StepID, msg string) error {
	return r.updateStep(ctx, runID, func(s *model.RunState, _ time.Time) {
		s.Step(step).Error = msg
	})
}

// StepError marks step failed and fails the whole run.
func (r *Registry) StepError(ctx context.Context, runID string, step model.StepID, msg string) error {
	return r.terminate(ctx, runID, func(s *model.RunState, now time.Time) {
		st := s.Step(step)
		st.Status = model.StepStatusError
		st.Error = msg
		st.EndedAt = &now
		s.Status = model.RunStatusError
		s.Error = msg
	})
}

// CompleteRun marks the run completed.
func (r *Registry) CompleteRun(ctx context.Context, runID string) error {
	return r.terminate(ctx, runID, func(s *model.RunState, _ time.Time) {
		s.Status = model.RunStatusCompleted
		s.CurrentStepID = ""
	})
}

// FailRun marks the run failed with msg.
func (r *Registry) FailRun(ctx context.Context, runID, msg string) error {
	return r.terminate(ctx, runID, func(s *model.RunState, _ time.Time) {
		s.Status = model.RunStatusError
		s.Error = msg
	})
}

// CancelRun sets the cancel flag and moves a live run to cancelled. A run
// that already finished keeps its status. Returns ErrRunNotFound for an
// unknown run.
func (r *Registry) CancelRun(ctx context.Context, runID string) error {
	mu := r.lockFor(runID)
	mu.Lock()
	defer mu.Unlock()

	state, err := r.load(ctx, runID)
	if err != nil {
		return err
	}
	if state == nil {
		return ErrRunNotFound
	}
	if state.Status.IsTerminal() {
		return nil
	}

	now := r.now()
	state.Cancelled = true
	state.Status = model.RunStatusCancelled
	state.EndedAt = &now
	state.UpdatedAt = now
	if err := r.save(ctx, state); err != nil {
		return err
	}
	r.clearActive(ctx, state)
	zap.L().Info("registry: run cancelled", zap.String("run_id", runID))
	return nil
}

// IsCancelled reports whether cancellation was requested. Read errors are
// logged and treated as not cancelled.
func (r *Registry) IsCancelled(ctx context.Context, runID string) bool {
	state, err := r.load(ctx, runID)
	if err != nil {
		zap.L().Warn("registry: cancel check failed", zap.String("run_id", runID), zap.Error(err))
		return false
	}
	if state == nil {
		return false
	}
	return state.Cancelled || state.Status == model.RunStatusCancelled
}

// SetSponsorID records the sponsor resolved by the writer.
func (r *Registry) SetSponsorID(ctx context.Context, runID string, id int64) error {
	return r.update(ctx, runID, func(s *model.RunState) bool {
		if s.SponsorID != nil && *s.SponsorID == id {
			return false
		}
		s.SponsorID = &id
		return true
	})
}

// ActiveRunForSponsor returns the live run for a sponsor name, or nil.
func (r *Registry) ActiveRunForSponsor(ctx context.Context, sponsorName string) (*model.RunState, error) {
	return r.activeRun(ctx, sponsorKey(sponsorName))
}

// ActiveRunForUser returns the live run owned by userID, or nil.
func (r *Registry) ActiveRunForUser(ctx context.Context, userID string) (*model.RunState, error) {
	if userID == "" {
		return nil, nil
	}
	return r.activeRun(ctx, userKey(userID))
}

// NotifyUser publishes a lifecycle event on the user's topic.
func (r *Registry) NotifyUser(ctx context.Context, userID string, evt model.UserEvent) {
	if userID == "" {
		return
	}
	if evt.At.IsZero() {
		evt.At = r.now()
	}
	b, err := json.Marshal(evt)
	if err != nil {
		zap.L().Warn("registry: marshal user event", zap.Error(err))
		return
	}
	r.pub.Publish(ctx, events.UserTopic(userID), b)
}

func (r *Registry) activeRun(ctx context.Context, key string) (*model.RunState, error) {
	b, ok, err := r.store.Get(ctx, key)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: get %s", key)
	}
	if !ok {
		return nil, nil
	}
	state, err := r.load(ctx, string(b))
	if err != nil {
		return nil, err
	}
	if state == nil || state.Status.IsTerminal() {
		if delErr := r.store.Delete(ctx, key); delErr != nil {
			zap.L().Debug("registry: drop stale mapping", zap.String("key", key), zap.Error(delErr))
		}
		return nil, nil
	}
	return state, nil
}

// update applies fn under the run's stripe lock and persists when fn reports
// a change. A missing run is a no-op.
func (r *Registry) update(ctx context.Context, runID string, fn func(*model.RunState) bool) error {
	mu := r.lockFor(runID)
	mu.Lock()
	defer mu.Unlock()

	state, err := r.load(ctx, runID)
	if err != nil {
		return err
	}
	if state == nil {
		zap.L().Debug("registry: update on missing run", zap.String("run_id", runID))
		return nil
	}
	if !fn(state) {
		return nil
	}
	state.UpdatedAt = r.now()
	return r.save(ctx, state)
}

// updateStep is update restricted to live runs.
func (r *Registry) updateStep(ctx context.Context, runID string, fn func(*model.RunState, time.Time)) error {
	return r.update(ctx, runID, func(s *model.RunState) bool {
		if s.Status.IsTerminal() {
			return false
		}
		fn(s, r.now())
		return true
	})
}

// terminate applies a terminal transition, stamps EndedAt and clears the
// active mappings. Already-terminal runs are left untouched.
func (r *Registry) terminate(ctx context.Context, runID string, fn func(*model.RunState, time.Time)) error {
	mu := r.lockFor(runID)
	mu.Lock()
	defer mu.Unlock()

	state, err := r.load(ctx, runID)
	if err != nil {
		return err
	}
	if state == nil {
		zap.L().Debug("registry: terminate on missing run", zap.String("run_id", runID))
		return nil
	}
	if state.Status.IsTerminal() {
		return nil
	}

	now := r.now()
	fn(state, now)
	state.EndedAt = &now
	state.UpdatedAt = now
	if err := r.save(ctx, state); err != nil {
		return err
	}
	r.clearActive(ctx, state)

	zap.L().Info("registry: run finished",
		zap.String("run_id", runID),
		zap.String("status", string(state.Status)),
		zap.String("error", state.Error),
	)
	return nil
}

// clearActive removes the sponsor and user mappings if they still point at
// this run.
func (r *Registry) clearActive(ctx context.Context, state *model.RunState) {
	keys := []string{sponsorKey(state.SponsorName)}
	if state.UserID != "" {
		keys = append(keys, userKey(state.UserID))
	}
	for _, k := range keys {
		b, ok, err := r.store.Get(ctx, k)
		if err != nil || !ok || string(b) != state.RunID {
			continue
		}
		if err := r.store.Delete(ctx, k); err != nil {
			zap.L().Warn("registry: clear mapping", zap.String("key", k), zap.Error(err))
		}
	}
}

func (r *Registry) load(ctx context.Context, runID string) (*model.RunState, error) {
	b, ok, err := r.store.Get(ctx, runKey(runID))
	if err != nil {
		return nil, eris.Wrapf(err, "registry: get run %s", runID)
	}
	if !ok {
		return nil, nil
	}
	var state model.RunState
	if err := json.Unmarshal(b, &state); err != nil {
		return nil, eris.Wrapf(err, "registry: decode run %s", runID)
	}
	return &state, nil
}

// save persists state and publishes exactly one snapshot.
func (r *Registry) save(ctx context.Context, state *model.RunState) error {
	b, err := json.Marshal(state)
	if err != nil {
		return eris.Wrap(err, "registry: encode run")
	}
	if err := r.store.Put(ctx, runKey(state.RunID), b, r.retention); err != nil {
		return eris.Wrapf(err, "registry: put run %s", state.RunID)
	}
	r.pub.Publish(ctx, events.RunTopic(state.RunID), b)
	return nil
}
