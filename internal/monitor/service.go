package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hamed0406/urlmonitor/internal/domain"
	"github.com/hamed0406/urlmonitor/internal/notify"
	"github.com/hamed0406/urlmonitor/internal/repo"
	"github.com/hamed0406/urlmonitor/internal/scheduler"
	"github.com/hamed0406/urlmonitor/internal/urlutil"
)

// ErrNoScheduler is returned by schedule operations when the process runs
// without a scheduler.
var ErrNoScheduler = errors.New("scheduler disabled")

// Cycler runs one check cycle. *checker.Orchestrator satisfies it.
type Cycler interface {
	RunCycle(ctx context.Context) (domain.CycleSummary, error)
}

type Options struct {
	DefaultTimeout time.Duration
	Retention      time.Duration
	AutoCleanup    bool
	Notifier       notify.Notifier
}

// Service is the operation surface consumed by the HTTP API and the CLI.
type Service struct {
	log   *zap.Logger
	store repo.Store
	cycle Cycler
	opts  Options
	sched *scheduler.Scheduler
	now   func() time.Time

	closers []func() error
}

func New(log *zap.Logger, store repo.Store, cycle Cycler, opts Options) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 10 * time.Second
	}
	return &Service{
		log:   log,
		store: store,
		cycle: cycle,
		opts:  opts,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// SetScheduler attaches the scheduler that ConfigureSchedule and
// ScheduleInfo operate on.
func (s *Service) SetScheduler(sc *scheduler.Scheduler) { s.sched = sc }

type RegisterParams struct {
	URL     string        `json:"url"`
	Name    string        `json:"name"`
	Timeout time.Duration `json:"-"`
	Active  *bool         `json:"active"`
}

// RegisterTarget normalizes the URL and stores a new target. Timeout zero
// means the configured default.
func (s *Service) RegisterTarget(ctx context.Context, p RegisterParams) (domain.TargetID, error) {
	norm, err := urlutil.Normalize(p.URL)
	if err != nil {
		return "", err
	}
	if p.Timeout < 0 {
		return "", fmt.Errorf("%w: timeout must be positive", domain.ErrValidation)
	}
	timeout := p.Timeout
	if timeout == 0 {
		timeout = s.opts.DefaultTimeout
	}
	name := p.Name
	if name == "" {
		name = urlutil.Host(norm)
	}
	active := true
	if p.Active != nil {
		active = *p.Active
	}

	now := s.now()
	t := &domain.Target{
		ID:        domain.TargetID(uuid.NewString()),
		URL:       norm,
		Name:      name,
		Timeout:   timeout,
		Active:    active,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Add(ctx, t); err != nil {
		return "", err
	}
	s.log.Info("target_registered",
		zap.String("target_id", string(t.ID)),
		zap.String("url", t.URL),
		zap.Duration("timeout", t.Timeout),
		zap.Bool("active", t.Active),
	)
	return t.ID, nil
}

type UpdateParams struct {
	Name    *string
	Timeout *time.Duration
	Active  *bool
}

func (s *Service) UpdateTarget(ctx context.Context, id domain.TargetID, p UpdateParams) (*domain.Target, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Name != nil {
		t.Name = *p.Name
	}
	if p.Timeout != nil {
		if *p.Timeout <= 0 {
			return nil, fmt.Errorf("%w: timeout must be positive", domain.ErrValidation)
		}
		t.Timeout = *p.Timeout
	}
	if p.Active != nil {
		t.Active = *p.Active
	}
	if err := s.store.Update(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// DeactivateTarget keeps the target and its history but excludes it from
// future cycles.
func (s *Service) DeactivateTarget(ctx context.Context, id domain.TargetID) error {
	if err := s.store.Deactivate(ctx, id); err != nil {
		return err
	}
	s.log.Info("target_deactivated", zap.String("target_id", string(id)))
	return nil
}

// RemoveTarget hard-deletes the target together with its history.
func (s *Service) RemoveTarget(ctx context.Context, id domain.TargetID) error {
	if err := s.store.Remove(ctx, id); err != nil {
		return err
	}
	s.log.Info("target_removed", zap.String("target_id", string(id)))
	return nil
}

func (s *Service) Target(ctx context.Context, id domain.TargetID) (*domain.Target, error) {
	return s.store.Get(ctx, id)
}

// TargetByURL looks a target up by its normalized URL.
func (s *Service) TargetByURL(ctx context.Context, raw string) (*domain.Target, error) {
	norm, err := urlutil.Normalize(raw)
	if err != nil {
		return nil, err
	}
	return s.store.GetByURL(ctx, norm)
}

func (s *Service) Targets(ctx context.Context, activeOnly bool) ([]domain.Target, error) {
	return s.store.List(ctx, activeOnly)
}

// TriggerCheckNow runs a cycle immediately. It shares the single-flight
// guard with scheduled runs and returns domain.ErrAlreadyRunning when a
// cycle is in flight.
func (s *Service) TriggerCheckNow(ctx context.Context) (domain.CycleSummary, error) {
	s.log.Info("manual_cycle_requested")
	return s.RunCycle(ctx)
}

// RunCycle runs one cycle followed by retention cleanup and notification.
// Neither follows a cycle whose ctx was cancelled. It is the scheduler's
// RunFunc.
func (s *Service) RunCycle(ctx context.Context) (domain.CycleSummary, error) {
	sum, err := s.cycle.RunCycle(ctx)
	if errors.Is(err, domain.ErrAlreadyRunning) {
		return sum, err
	}
	if ctx.Err() != nil {
		// a cancelled cycle says nothing about the targets
		return sum, err
	}
	s.afterCycle(ctx, sum)
	return sum, err
}

func (s *Service) afterCycle(ctx context.Context, sum domain.CycleSummary) {
	if s.opts.AutoCleanup && !sum.Failed() {
		if _, err := s.Prune(ctx); err != nil {
			s.log.Warn("auto_prune_error", zap.Error(err))
		}
	}
	if s.opts.Notifier == nil {
		return
	}
	urls := make(map[domain.TargetID]string, len(sum.Results))
	if ts, err := s.store.List(ctx, false); err == nil {
		for _, t := range ts {
			urls[t.ID] = t.URL
		}
	}
	title, text, ok := notify.CycleMessage(sum, urls)
	if !ok {
		return
	}
	nctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := s.opts.Notifier.Send(nctx, title, text); err != nil {
		s.log.Warn("notify_error", zap.Error(err))
	}
}

func (s *Service) StatusSnapshot(ctx context.Context) ([]domain.StatusRow, error) {
	return s.store.StatusSnapshot(ctx)
}

// History returns a target's results newest first. A removed target is
// domain.ErrNotFound rather than an empty list of stale rows.
func (s *Service) History(ctx context.Context, id domain.TargetID, since time.Time, limit int) ([]domain.CheckResult, error) {
	if limit < 0 {
		return nil, fmt.Errorf("%w: limit must not be negative", domain.ErrValidation)
	}
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.History(ctx, id, since, limit)
}

func (s *Service) UptimeStats(ctx context.Context, id domain.TargetID, since time.Time) (domain.UptimeStats, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return domain.UptimeStats{}, err
	}
	return s.store.UptimeStats(ctx, id, since)
}

func (s *Service) Stats(ctx context.Context) (domain.StoreStats, error) {
	return s.store.Stats(ctx, s.now())
}

// Prune applies the retention window.
func (s *Service) Prune(ctx context.Context) (int64, error) {
	if s.opts.Retention <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-s.opts.Retention)
	n, err := s.store.Prune(ctx, cutoff)
	if err != nil {
		return n, err
	}
	s.log.Info("retention_pruned", zap.Int64("deleted", n), zap.Time("cutoff", cutoff))
	return n, nil
}

func (s *Service) ConfigureSchedule(times []scheduler.TimeOfDay, tz string) error {
	if s.sched == nil {
		return ErrNoScheduler
	}
	return s.sched.Configure(times, tz)
}

type ScheduleInfo struct {
	Times    []scheduler.TimeOfDay `json:"times"`
	Timezone string                `json:"timezone"`
	State    scheduler.State       `json:"state"`
	NextRun  *time.Time            `json:"next_run"`
	LastRun  *scheduler.Run        `json:"last_run"`
}

func (s *Service) ScheduleInfo() (ScheduleInfo, error) {
	if s.sched == nil {
		return ScheduleInfo{}, ErrNoScheduler
	}
	times, loc := s.sched.Times()
	info := ScheduleInfo{Times: times, Timezone: loc.String(), State: s.sched.State()}
	if next := s.sched.NextRun(s.now()); !next.IsZero() {
		info.NextRun = &next
	}
	if last, ok := s.sched.LastRun(); ok {
		info.LastRun = &last
	}
	return info, nil
}

// OnClose registers fn to run during Close, before the store is released.
func (s *Service) OnClose(fn func() error) { s.closers = append(s.closers, fn) }

// Close stops the scheduler, runs the OnClose hooks in reverse order and
// releases the store. Every failure is reported.
func (s *Service) Close() error {
	if s.sched != nil {
		s.sched.Stop()
	}
	var err error
	for i := len(s.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, s.closers[i]())
	}
	return multierr.Append(err, s.store.Close())
}
