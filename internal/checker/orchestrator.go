package checker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/urlmonitor/internal/domain"
	"github.com/hamed0406/urlmonitor/internal/repo"
)

const DefaultConcurrency = 20

// Prober checks one target. *probe.Prober satisfies it.
type Prober interface {
	Probe(ctx context.Context, t domain.Target) domain.CheckResult
}

// Observer is told about cycle progress. Calls come from the goroutine
// running the cycle and must not block for long.
type Observer interface {
	CycleStarted(at time.Time, targets int)
	ResultRecorded(r domain.CheckResult)
	CycleFinished(s domain.CycleSummary)
}

// Orchestrator runs check cycles over the active targets. At most one
// cycle is in flight per Orchestrator; callers that lose the race get
// domain.ErrAlreadyRunning.
type Orchestrator struct {
	Logger      *zap.Logger
	Targets     repo.TargetStore
	History     repo.HistoryStore
	Prober      Prober
	Concurrency int
	Observer    Observer
	Now         func() time.Time

	running atomic.Bool
}

func NewOrchestrator(
	logger *zap.Logger,
	ts repo.TargetStore,
	hs repo.HistoryStore,
	prober Prober,
	concurrency int,
) *Orchestrator {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		Logger:      logger,
		Targets:     ts,
		History:     hs,
		Prober:      prober,
		Concurrency: concurrency,
		Now:         func() time.Time { return time.Now().UTC() },
	}
}

// Running reports whether a cycle is in flight.
func (o *Orchestrator) Running() bool { return o.running.Load() }

// RunCycle probes every active target once and records each result as it
// arrives. Only a failure to enumerate targets fails the cycle; per-target
// storage errors drop that result and the cycle continues.
//
// When ctx is cancelled mid-cycle nothing further is recorded: results that
// arrive after cancellation, and targets never dispatched, are counted as
// Abandoned and the cycle returns ctx's error.
func (o *Orchestrator) RunCycle(ctx context.Context) (domain.CycleSummary, error) {
	if !o.running.CompareAndSwap(false, true) {
		return domain.CycleSummary{}, domain.ErrAlreadyRunning
	}
	defer o.running.Store(false)

	sum := domain.CycleSummary{StartedAt: o.Now()}

	// snapshot: targets added after this point wait for the next cycle
	targets, err := o.Targets.List(ctx, true)
	if err != nil {
		o.finish(&sum)
		sum.Err = fmt.Sprintf("list targets: %v", err)
		o.Logger.Error("cycle_failed", zap.Error(err))
		if o.Observer != nil {
			o.Observer.CycleFinished(sum)
		}
		return sum, fmt.Errorf("list targets: %w", err)
	}

	o.Logger.Info("cycle_started", zap.Int("targets", len(targets)))
	if o.Observer != nil {
		o.Observer.CycleStarted(sum.StartedAt, len(targets))
	}
	sum.Results = make([]domain.CheckResult, 0, len(targets))

	for r := range o.dispatch(ctx, targets) {
		if ctx.Err() != nil {
			// the check was cut short by shutdown, not by the target
			continue
		}
		sum.Add(r)
		if err := o.History.Record(ctx, &r); err != nil {
			sum.Dropped++
			o.Logger.Warn("record_dropped",
				zap.String("target_id", string(r.TargetID)),
				zap.String("outcome", string(r.Outcome)),
				zap.Error(err),
			)
			continue
		}
		sum.Results[len(sum.Results)-1].ID = r.ID
		o.Logger.Debug("check_recorded",
			zap.String("target_id", string(r.TargetID)),
			zap.String("outcome", string(r.Outcome)),
			zap.Intp("status", r.StatusCode),
			zap.Float64p("latency_ms", r.LatencyMS),
			zap.Stringp("error", r.Error),
			zap.Int("attempts", r.Attempts),
		)
		if o.Observer != nil {
			o.Observer.ResultRecorded(r)
		}
	}

	o.finish(&sum)
	if err := ctx.Err(); err != nil {
		sum.Abandoned = len(targets) - sum.TargetsChecked
		sum.Err = fmt.Sprintf("cycle cancelled: %v", err)
		o.Logger.Warn("cycle_cancelled",
			zap.Int("checked", sum.TargetsChecked),
			zap.Int("abandoned", sum.Abandoned),
			zap.Duration("duration", sum.Duration),
		)
		if o.Observer != nil {
			o.Observer.CycleFinished(sum)
		}
		return sum, fmt.Errorf("cycle cancelled: %w", err)
	}
	o.Logger.Info("cycle_finished",
		zap.Int("checked", sum.TargetsChecked),
		zap.Int("up", sum.UpCount),
		zap.Int("down", sum.DownCount),
		zap.Int("error", sum.ErrorCount),
		zap.Int("dropped", sum.Dropped),
		zap.Duration("duration", sum.Duration),
	)
	if o.Observer != nil {
		o.Observer.CycleFinished(sum)
	}
	return sum, nil
}

// dispatch fans targets out to a bounded worker pool and returns a channel
// of results in completion order. The channel closes once every dispatched
// target has produced exactly one result; after ctx is cancelled no further
// targets are dispatched.
func (o *Orchestrator) dispatch(ctx context.Context, targets []domain.Target) <-chan domain.CheckResult {
	jobs := make(chan domain.Target)
	results := make(chan domain.CheckResult)

	workers := o.Concurrency
	if workers > len(targets) {
		workers = len(targets)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range jobs {
				results <- o.Prober.Probe(ctx, t)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, t := range targets {
			select {
			case jobs <- t:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()
	return results
}

func (o *Orchestrator) finish(sum *domain.CycleSummary) {
	sum.FinishedAt = o.Now()
	sum.Duration = sum.FinishedAt.Sub(sum.StartedAt)
}
