package checker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/urlmonitor/internal/domain"
	"github.com/hamed0406/urlmonitor/internal/probe"
	"github.com/hamed0406/urlmonitor/internal/repo/memory"
)

// --- fakes ---

type fakeProber struct {
	delay    time.Duration
	outcomes map[string]domain.Outcome

	inFlight atomic.Int32
	peak     atomic.Int32
	calls    atomic.Int32
}

func (f *fakeProber) Probe(ctx context.Context, t domain.Target) domain.CheckResult {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	defer f.inFlight.Add(-1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	o := domain.OutcomeUp
	if v, ok := f.outcomes[t.URL]; ok {
		o = v
	}
	r := domain.CheckResult{TargetID: t.ID, Outcome: o, Attempts: 1, CheckedAt: time.Now().UTC()}
	if o == domain.OutcomeError {
		r.Error = domain.StringPtr("request timed out")
	} else {
		r.StatusCode = domain.IntPtr(200)
		r.LatencyMS = domain.Float64Ptr(1)
	}
	return r
}

type failingTargets struct{ *memory.Store }

func (failingTargets) List(ctx context.Context, activeOnly bool) ([]domain.Target, error) {
	return nil, errors.New("disk on fire")
}

type recordingObserver struct {
	mu       sync.Mutex
	started  int
	recorded int
	finished []domain.CycleSummary
}

func (r *recordingObserver) CycleStarted(time.Time, int) {
	r.mu.Lock()
	r.started++
	r.mu.Unlock()
}

func (r *recordingObserver) ResultRecorded(domain.CheckResult) {
	r.mu.Lock()
	r.recorded++
	r.mu.Unlock()
}

func (r *recordingObserver) CycleFinished(s domain.CycleSummary) {
	r.mu.Lock()
	r.finished = append(r.finished, s)
	r.mu.Unlock()
}

func seed(t *testing.T, s *memory.Store, urls ...string) []*domain.Target {
	t.Helper()
	var out []*domain.Target
	for i, u := range urls {
		tgt := &domain.Target{
			ID:        domain.TargetID(u),
			URL:       u,
			Active:    true,
			Timeout:   time.Second,
			CreatedAt: time.Unix(int64(i), 0).UTC(),
		}
		if err := s.Add(context.Background(), tgt); err != nil {
			t.Fatalf("Add: %v", err)
		}
		out = append(out, tgt)
	}
	return out
}

// --- tests ---

func TestOrchestrator_OneResultPerTarget(t *testing.T) {
	store := memory.New()
	seed(t, store, "https://a.example", "https://b.example", "https://c.example", "https://d.example", "https://e.example")
	prober := &fakeProber{
		delay: 20 * time.Millisecond,
		outcomes: map[string]domain.Outcome{
			"https://b.example": domain.OutcomeDown,
			"https://c.example": domain.OutcomeError,
		},
	}
	obs := &recordingObserver{}
	o := NewOrchestrator(zap.NewNop(), store, store, prober, 2)
	o.Observer = obs

	sum, err := o.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if sum.TargetsChecked != 5 || len(sum.Results) != 5 {
		t.Fatalf("want 5 results, got %d (%d)", sum.TargetsChecked, len(sum.Results))
	}
	if sum.UpCount != 3 || sum.DownCount != 1 || sum.ErrorCount != 1 {
		t.Fatalf("unexpected counts: %+v", sum)
	}
	if got := prober.peak.Load(); got > 2 {
		t.Fatalf("concurrency limit exceeded: %d probes in flight", got)
	}

	seen := map[domain.TargetID]int{}
	for _, r := range sum.Results {
		seen[r.TargetID]++
		if r.ID == 0 {
			t.Fatalf("result for %s was not recorded", r.TargetID)
		}
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("target %s checked %d times", id, n)
		}
	}

	st, _ := store.Stats(context.Background(), time.Now())
	if st.TotalChecks != 5 {
		t.Fatalf("want 5 stored results, got %d", st.TotalChecks)
	}
	if obs.started != 1 || obs.recorded != 5 || len(obs.finished) != 1 {
		t.Fatalf("observer not notified: %+v", obs)
	}
}

func TestOrchestrator_RejectsConcurrentCycle(t *testing.T) {
	store := memory.New()
	seed(t, store, "https://slow.example")
	o := NewOrchestrator(zap.NewNop(), store, store, &fakeProber{delay: 300 * time.Millisecond}, 4)

	done := make(chan error, 1)
	go func() {
		_, err := o.RunCycle(context.Background())
		done <- err
	}()

	deadline := time.Now().Add(time.Second)
	for !o.Running() {
		if time.Now().After(deadline) {
			t.Fatalf("first cycle never started")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := o.RunCycle(context.Background()); !errors.Is(err, domain.ErrAlreadyRunning) {
		t.Fatalf("want ErrAlreadyRunning, got %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("first cycle: %v", err)
	}

	st, _ := store.Stats(context.Background(), time.Now())
	if st.TotalChecks != 1 {
		t.Fatalf("want exactly one stored result, got %d", st.TotalChecks)
	}

	// guard released after the cycle
	if _, err := o.RunCycle(context.Background()); err != nil {
		t.Fatalf("second cycle after first finished: %v", err)
	}
}

func TestOrchestrator_RegistryFailureFailsCycle(t *testing.T) {
	store := memory.New()
	obs := &recordingObserver{}
	o := NewOrchestrator(zap.NewNop(), failingTargets{store}, store, &fakeProber{}, 4)
	o.Observer = obs

	sum, err := o.RunCycle(context.Background())
	if err == nil {
		t.Fatalf("want error when targets cannot be listed")
	}
	if !sum.Failed() || sum.TargetsChecked != 0 {
		t.Fatalf("want failed empty summary, got %+v", sum)
	}
	if len(obs.finished) != 1 || !obs.finished[0].Failed() {
		t.Fatalf("observer should see the failed cycle")
	}
	if o.Running() {
		t.Fatalf("guard not released after failure")
	}
}

func TestOrchestrator_DeactivatedTargetsSkipped(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	ts := seed(t, store, "https://a.example", "https://b.example")
	if err := store.Deactivate(ctx, ts[1].ID); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	prober := &fakeProber{}
	o := NewOrchestrator(zap.NewNop(), store, store, prober, 4)

	sum, err := o.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if sum.TargetsChecked != 1 || prober.calls.Load() != 1 {
		t.Fatalf("deactivated target should not be probed: %+v", sum)
	}
	h, _ := store.History(ctx, ts[1].ID, time.Time{}, 10)
	if len(h) != 0 {
		t.Fatalf("deactivated target got new history")
	}
}

// removingProber deletes its target mid-probe, so Record fails.
type removingProber struct {
	store *memory.Store
	fakeProber
}

func (p *removingProber) Probe(ctx context.Context, t domain.Target) domain.CheckResult {
	if t.URL == "https://gone.example" {
		_ = p.store.Remove(ctx, t.ID)
	}
	return p.fakeProber.Probe(ctx, t)
}

func TestOrchestrator_StorageErrorDropsResult(t *testing.T) {
	store := memory.New()
	seed(t, store, "https://a.example", "https://gone.example")
	o := NewOrchestrator(zap.NewNop(), store, store, &removingProber{store: store}, 1)

	sum, err := o.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("storage errors must not fail the cycle: %v", err)
	}
	if sum.Dropped != 1 || sum.TargetsChecked != 2 {
		t.Fatalf("want one dropped result, got %+v", sum)
	}
	st, _ := store.Stats(context.Background(), time.Now())
	if st.TotalChecks != 1 {
		t.Fatalf("want only the surviving target recorded, got %d", st.TotalChecks)
	}
}

func TestOrchestrator_NoTargets(t *testing.T) {
	store := memory.New()
	o := NewOrchestrator(zap.NewNop(), store, store, &fakeProber{}, 4)
	sum, err := o.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if sum.TargetsChecked != 0 || sum.Failed() {
		t.Fatalf("unexpected summary: %+v", sum)
	}
}

func TestOrchestrator_CancelledCycleRecordsNothing(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	store := memory.New()
	seed(t, store, srv.URL+"/hang", srv.URL+"/never")
	prober := probe.NewProber(probe.NewHTTPChecker(probe.HTTPOptions{}), probe.RetryPolicy{Retries: 2, Delay: 10 * time.Millisecond}, 5*time.Second)
	obs := &recordingObserver{}
	o := NewOrchestrator(zap.NewNop(), store, store, prober, 1)
	o.Observer = obs

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	sum, err := o.RunCycle(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if sum.ErrorCount != 0 || sum.TargetsChecked != 0 {
		t.Fatalf("cancelled check must not count as an outcome: %+v", sum)
	}
	if sum.Abandoned != 2 || !sum.Failed() {
		t.Fatalf("want both targets abandoned, got %+v", sum)
	}
	st, _ := store.Stats(context.Background(), time.Now())
	if st.TotalChecks != 0 {
		t.Fatalf("no row should be written, got %d", st.TotalChecks)
	}
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.recorded != 0 || len(obs.finished) != 1 {
		t.Fatalf("observer saw recorded=%d finished=%d", obs.recorded, len(obs.finished))
	}
	if o.Running() {
		t.Fatal("guard not released after cancellation")
	}
}
