package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/hamed0406/urlmonitor/internal/domain"
)

type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateCooldown State = "cooldown"
)

// RunFunc runs one check cycle. checker.Orchestrator.RunCycle fits.
type RunFunc func(ctx context.Context) (domain.CycleSummary, error)

// Run is the record of one scheduler-initiated cycle.
type Run struct {
	Trigger    string              `json:"trigger"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	Summary    domain.CycleSummary `json:"summary"`
	Err        string              `json:"error,omitempty"`
}

type Options struct {
	Times        []TimeOfDay
	Timezone     string
	RunOnStartup bool
	// Cooldown keeps the scheduler from starting another cycle for a
	// while after one finishes. Zero goes straight back to idle.
	Cooldown time.Duration
	// OnRun, if set, is called after every cycle the scheduler starts.
	OnRun func(Run)
}

// Scheduler fires check cycles at fixed times of day. A trigger that lands
// while a cycle is running or cooling down is logged and dropped, never
// queued. Missed slots are not replayed.
type Scheduler struct {
	log  *zap.Logger
	run  RunFunc
	opts Options

	mu        sync.Mutex
	cron      *cron.Cron
	times     []TimeOfDay
	loc       *time.Location
	state     State
	last      *Run
	started   bool
	ctx       context.Context
	cancel    context.CancelFunc
	inflight  sync.WaitGroup
	cooldownT *time.Timer
}

func New(log *zap.Logger, run RunFunc, opts Options) (*Scheduler, error) {
	if log == nil {
		log = zap.NewNop()
	}
	loc, err := loadLocation(opts.Timezone)
	if err != nil {
		return nil, err
	}
	s := &Scheduler{
		log:   log,
		run:   run,
		opts:  opts,
		times: normalizeTimes(opts.Times),
		loc:   loc,
		state: StateIdle,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

func loadLocation(tz string) (*time.Location, error) {
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", domain.ErrValidation, tz, err)
	}
	return loc, nil
}

func normalizeTimes(in []TimeOfDay) []TimeOfDay {
	seen := make(map[TimeOfDay]bool, len(in))
	out := make([]TimeOfDay, 0, len(in))
	for _, t := range in {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Hour != out[j].Hour {
			return out[i].Hour < out[j].Hour
		}
		return out[i].Minute < out[j].Minute
	})
	return out
}

// Start installs the cron entries. The parent ctx bounds every cycle the
// scheduler starts.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	if err := s.rebuildLocked(); err != nil {
		return err
	}
	s.started = true
	s.log.Info("scheduler_started",
		zap.Stringers("times", s.times),
		zap.String("timezone", s.loc.String()),
		zap.Bool("run_on_startup", s.opts.RunOnStartup),
	)
	if s.opts.RunOnStartup {
		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			s.Trigger("startup")
		}()
	}
	return nil
}

// Stop removes the cron entries, cancels any running cycle and waits for
// it to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.started = false
	if s.cooldownT != nil {
		s.cooldownT.Stop()
	}
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	s.cancel()
	s.inflight.Wait()
	s.log.Info("scheduler_stopped")
}

// Configure replaces the trigger times and timezone. It takes effect
// immediately when the scheduler is running; an in-flight cycle is not
// affected.
func (s *Scheduler) Configure(times []TimeOfDay, tz string) error {
	loc, err := loadLocation(tz)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.times = normalizeTimes(times)
	s.loc = loc
	if s.started {
		if err := s.rebuildLocked(); err != nil {
			return err
		}
	}
	s.log.Info("schedule_configured",
		zap.Stringers("times", s.times),
		zap.String("timezone", loc.String()),
	)
	return nil
}

// rebuildLocked swaps in a fresh cron with the current times and location.
func (s *Scheduler) rebuildLocked() error {
	c := cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(cronLogger{s.log.Sugar()}),
		cron.WithChain(cron.Recover(cronLogger{s.log.Sugar()})),
	)
	for _, t := range s.times {
		at := t
		if _, err := c.AddFunc(at.cronSpec(), func() { s.fire("schedule:" + at.String()) }); err != nil {
			return fmt.Errorf("schedule %s: %w", at, err)
		}
	}
	if old := s.cron; old != nil {
		// don't wait: a running cycle belongs to the state machine, not cron
		old.Stop()
	}
	s.cron = c
	c.Start()
	return nil
}

func (s *Scheduler) fire(trigger string) {
	s.inflight.Add(1)
	defer s.inflight.Done()
	s.Trigger(trigger)
}

// Trigger attempts a cycle now, as if a scheduled time had been crossed.
// It reports whether a cycle was started.
func (s *Scheduler) Trigger(trigger string) bool {
	s.mu.Lock()
	if s.state != StateIdle {
		st := s.state
		s.mu.Unlock()
		s.log.Info("schedule_trigger_skipped", zap.String("trigger", trigger), zap.String("state", string(st)))
		return false
	}
	s.state = StateRunning
	ctx := s.ctx
	s.mu.Unlock()

	run, err := s.execute(ctx, trigger)

	if errors.Is(err, domain.ErrAlreadyRunning) {
		// a manual cycle holds the orchestrator; treat as a skip
		s.mu.Lock()
		s.state = StateIdle
		s.mu.Unlock()
		s.log.Info("schedule_trigger_skipped", zap.String("trigger", trigger), zap.String("reason", "cycle already running"))
		return false
	}

	s.mu.Lock()
	s.last = &run
	if s.opts.Cooldown > 0 && ctx.Err() == nil {
		s.state = StateCooldown
		s.cooldownT = time.AfterFunc(s.opts.Cooldown, func() {
			s.mu.Lock()
			if s.state == StateCooldown {
				s.state = StateIdle
			}
			s.mu.Unlock()
		})
	} else {
		s.state = StateIdle
	}
	s.mu.Unlock()

	if errors.Is(err, context.Canceled) {
		s.log.Info("scheduled_cycle_cancelled", zap.String("trigger", trigger))
	} else if run.Err != "" {
		s.log.Error("scheduled_cycle_failed", zap.String("trigger", trigger), zap.String("error", run.Err))
	} else {
		s.log.Info("scheduled_cycle_done",
			zap.String("trigger", trigger),
			zap.Int("checked", run.Summary.TargetsChecked),
			zap.Duration("duration", run.FinishedAt.Sub(run.StartedAt)),
		)
	}
	if s.opts.OnRun != nil {
		s.opts.OnRun(run)
	}
	return true
}

// execute runs one cycle and turns errors and panics into the Run record.
func (s *Scheduler) execute(ctx context.Context, trigger string) (run Run, err error) {
	run = Run{Trigger: trigger, StartedAt: time.Now().UTC()}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
			run.Err = err.Error()
		}
		run.FinishedAt = time.Now().UTC()
	}()
	run.Summary, err = s.run(ctx)
	if err != nil {
		run.Err = err.Error()
	}
	return run, err
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastRun returns the most recent cycle the scheduler started.
func (s *Scheduler) LastRun() (Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Run{}, false
	}
	return *s.last, true
}

// Times returns the configured trigger times and timezone.
func (s *Scheduler) Times() ([]TimeOfDay, *time.Location) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TimeOfDay, len(s.times))
	copy(out, s.times)
	return out, s.loc
}

// NextRun is the first trigger time strictly after now, or zero when no
// times are configured.
func (s *Scheduler) NextRun(now time.Time) time.Time {
	times, loc := s.Times()
	var next time.Time
	for _, t := range times {
		sched, err := cron.ParseStandard(t.cronSpec())
		if err != nil {
			continue
		}
		n := sched.Next(now.In(loc))
		if next.IsZero() || n.Before(next) {
			next = n
		}
	}
	return next
}

// cronLogger routes robfig/cron's logging into zap.
type cronLogger struct{ s *zap.SugaredLogger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw("cron_"+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw("cron_"+msg, append(keysAndValues, "error", err)...)
}
