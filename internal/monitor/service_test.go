package monitor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/urlmonitor/internal/checker"
	"github.com/hamed0406/urlmonitor/internal/domain"
	"github.com/hamed0406/urlmonitor/internal/probe"
	"github.com/hamed0406/urlmonitor/internal/repo/memory"
	"github.com/hamed0406/urlmonitor/internal/scheduler"
)

type captureNotifier struct {
	mu    sync.Mutex
	title string
	text  string
	n     int
}

func (c *captureNotifier) Send(ctx context.Context, title, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.title, c.text = title, text
	c.n++
	return nil
}

func newService(t *testing.T, opts Options) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	prober := probe.NewProber(
		probe.NewHTTPChecker(probe.HTTPOptions{UserAgent: "URLMonitor/1.0"}),
		probe.RetryPolicy{Retries: 1, Delay: 10 * time.Millisecond},
		2*time.Second,
	)
	orch := checker.NewOrchestrator(zap.NewNop(), store, store, prober, 4)
	return New(zap.NewNop(), store, orch, opts), store
}

func TestService_OkAndBadScenario(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer ok.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer bad.Close()

	notifier := &captureNotifier{}
	svc, _ := newService(t, Options{Notifier: notifier})
	ctx := context.Background()

	okID, err := svc.RegisterTarget(ctx, RegisterParams{URL: ok.URL, Name: "ok"})
	if err != nil {
		t.Fatalf("register ok: %v", err)
	}
	badID, err := svc.RegisterTarget(ctx, RegisterParams{URL: bad.URL, Name: "bad"})
	if err != nil {
		t.Fatalf("register bad: %v", err)
	}

	start := time.Now().UTC()
	sum, err := svc.TriggerCheckNow(ctx)
	if err != nil {
		t.Fatalf("TriggerCheckNow: %v", err)
	}
	end := time.Now().UTC()
	if sum.TargetsChecked != 2 || sum.UpCount != 1 || sum.DownCount != 1 {
		t.Fatalf("unexpected summary: %+v", sum)
	}

	rows, err := svc.StatusSnapshot(ctx)
	if err != nil {
		t.Fatalf("StatusSnapshot: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("want 2 rows, got %d", len(rows))
	}
	want := map[domain.TargetID]struct {
		outcome domain.Outcome
		status  int
	}{
		okID:  {domain.OutcomeUp, 200},
		badID: {domain.OutcomeDown, 503},
	}
	for _, row := range rows {
		w := want[row.Target.ID]
		if row.Latest == nil || row.Latest.Outcome != w.outcome || *row.Latest.StatusCode != w.status {
			t.Fatalf("row %s: got %+v, want %v", row.Target.URL, row.Latest, w)
		}
		if row.Latest.Error != nil {
			t.Fatalf("row %s: error must be nil, got %q", row.Target.URL, *row.Latest.Error)
		}
		lc := row.Target.LastChecked
		if lc == nil || lc.Before(start) || lc.After(end) {
			t.Fatalf("row %s: last_checked %v outside cycle window [%v, %v]", row.Target.URL, lc, start, end)
		}
	}

	if notifier.n != 1 || !strings.Contains(notifier.text, "down (HTTP 503)") {
		t.Fatalf("expected a notification for the failing target, got %d %q", notifier.n, notifier.text)
	}
}

func TestService_RegisterValidation(t *testing.T) {
	svc, _ := newService(t, Options{DefaultTimeout: 7 * time.Second})
	ctx := context.Background()

	for _, raw := range []string{"", "not a url", "ftp://example.com", "https://"} {
		if _, err := svc.RegisterTarget(ctx, RegisterParams{URL: raw}); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("RegisterTarget(%q): want ErrValidation, got %v", raw, err)
		}
	}
	if _, err := svc.RegisterTarget(ctx, RegisterParams{URL: "https://example.com", Timeout: -time.Second}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("negative timeout: want ErrValidation, got %v", err)
	}

	id, err := svc.RegisterTarget(ctx, RegisterParams{URL: "HTTPS://Example.com/"})
	if err != nil {
		t.Fatalf("RegisterTarget: %v", err)
	}
	tgt, _ := svc.Target(ctx, id)
	if tgt.URL != "https://example.com" || tgt.Name != "example.com" || tgt.Timeout != 7*time.Second || !tgt.Active {
		t.Fatalf("unexpected target: %+v", tgt)
	}

	// same URL after normalization
	if _, err := svc.RegisterTarget(ctx, RegisterParams{URL: "https://example.com:443"}); !errors.Is(err, domain.ErrDuplicate) {
		t.Fatalf("want ErrDuplicate, got %v", err)
	}
}

func TestService_DeactivateKeepsHistoryRemoveDropsIt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	svc, _ := newService(t, Options{})
	ctx := context.Background()

	id, _ := svc.RegisterTarget(ctx, RegisterParams{URL: srv.URL})
	if _, err := svc.TriggerCheckNow(ctx); err != nil {
		t.Fatalf("TriggerCheckNow: %v", err)
	}
	if err := svc.DeactivateTarget(ctx, id); err != nil {
		t.Fatalf("DeactivateTarget: %v", err)
	}
	sum, _ := svc.TriggerCheckNow(ctx)
	if sum.TargetsChecked != 0 {
		t.Fatalf("deactivated target was checked")
	}
	h, err := svc.History(ctx, id, time.Time{}, 10)
	if err != nil || len(h) != 1 {
		t.Fatalf("history should survive deactivation: %v %d", err, len(h))
	}

	if err := svc.RemoveTarget(ctx, id); err != nil {
		t.Fatalf("RemoveTarget: %v", err)
	}
	if _, err := svc.History(ctx, id, time.Time{}, 10); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("want ErrNotFound after removal, got %v", err)
	}
	if err := svc.RemoveTarget(ctx, id); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("second remove: want ErrNotFound, got %v", err)
	}
}

func TestService_AutoCleanupPrunesAfterCycle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	svc, store := newService(t, Options{Retention: 24 * time.Hour, AutoCleanup: true})
	ctx := context.Background()

	id, _ := svc.RegisterTarget(ctx, RegisterParams{URL: srv.URL})
	old := &domain.CheckResult{TargetID: id, Outcome: domain.OutcomeUp, Attempts: 1,
		CheckedAt: time.Now().UTC().Add(-48 * time.Hour)}
	if err := store.Record(ctx, old); err != nil {
		t.Fatalf("Record: %v", err)
	}

	if _, err := svc.TriggerCheckNow(ctx); err != nil {
		t.Fatalf("TriggerCheckNow: %v", err)
	}
	h, _ := svc.History(ctx, id, time.Time{}, 10)
	if len(h) != 1 || h[0].ID == old.ID {
		t.Fatalf("want only the fresh result after cleanup, got %+v", h)
	}

	rows, _ := svc.StatusSnapshot(ctx)
	if len(rows) != 1 || rows[0].Latest == nil || rows[0].Latest.ID != h[0].ID {
		t.Fatalf("snapshot should show the newest remaining result")
	}
}

func TestService_CancelledCycleSkipsCleanupAndNotify(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	notifier := &captureNotifier{}
	svc, store := newService(t, Options{Retention: 24 * time.Hour, AutoCleanup: true, Notifier: notifier})
	id, _ := svc.RegisterTarget(context.Background(), RegisterParams{URL: srv.URL})
	old := &domain.CheckResult{TargetID: id, Outcome: domain.OutcomeUp, Attempts: 1,
		CheckedAt: time.Now().UTC().Add(-48 * time.Hour)}
	if err := store.Record(context.Background(), old); err != nil {
		t.Fatalf("Record: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if _, err := svc.RunCycle(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline error, got %v", err)
	}

	h, _ := svc.History(context.Background(), id, time.Time{}, 10)
	if len(h) != 1 || h[0].ID != old.ID {
		t.Fatalf("cancelled cycle must leave history untouched, got %+v", h)
	}
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if notifier.n != 0 {
		t.Fatalf("cancelled cycle must not notify, got %q", notifier.title)
	}
}

func TestService_ScheduleWithoutScheduler(t *testing.T) {
	svc, _ := newService(t, Options{})
	if err := svc.ConfigureSchedule([]scheduler.TimeOfDay{{Hour: 6}}, "UTC"); !errors.Is(err, ErrNoScheduler) {
		t.Fatalf("want ErrNoScheduler, got %v", err)
	}
}

func TestService_ConfigureSchedule(t *testing.T) {
	svc, _ := newService(t, Options{})
	sched, err := scheduler.New(zap.NewNop(), svc.RunCycle, scheduler.Options{Times: []scheduler.TimeOfDay{{Hour: 6}}})
	if err != nil {
		t.Fatalf("scheduler.New: %v", err)
	}
	svc.SetScheduler(sched)

	if err := svc.ConfigureSchedule([]scheduler.TimeOfDay{{Hour: 9, Minute: 15}}, "Asia/Tokyo"); err != nil {
		t.Fatalf("ConfigureSchedule: %v", err)
	}
	info, err := svc.ScheduleInfo()
	if err != nil {
		t.Fatalf("ScheduleInfo: %v", err)
	}
	if info.Timezone != "Asia/Tokyo" || len(info.Times) != 1 || info.Times[0].String() != "09:15" {
		t.Fatalf("unexpected schedule: %+v", info)
	}
	if info.State != scheduler.StateIdle || info.NextRun == nil {
		t.Fatalf("unexpected state: %+v", info)
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
