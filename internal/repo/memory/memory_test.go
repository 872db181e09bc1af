package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hamed0406/urlmonitor/internal/domain"
)

var base = time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)

func addTarget(t *testing.T, s *Store, id, url string, active bool) *domain.Target {
	t.Helper()
	tgt := &domain.Target{ID: domain.TargetID(id), URL: url, Active: active, Timeout: 10 * time.Second, CreatedAt: base}
	if err := s.Add(context.Background(), tgt); err != nil {
		t.Fatalf("Add target: %v", err)
	}
	return tgt
}

func result(id domain.TargetID, o domain.Outcome, at time.Time) *domain.CheckResult {
	r := &domain.CheckResult{TargetID: id, Outcome: o, CheckedAt: at, Attempts: 1}
	if o != domain.OutcomeError {
		r.StatusCode = domain.IntPtr(200)
		r.LatencyMS = domain.Float64Ptr(10)
	}
	return r
}

func TestMemoryStore_AddAndListTargets(t *testing.T) {
	ctx := context.Background()
	s := New()

	addTarget(t, s, "a", "https://example.com", true)
	addTarget(t, s, "b", "https://example.org", false)

	all, err := s.List(ctx, false)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 targets, got %d", len(all))
	}
	active, _ := s.List(ctx, true)
	if len(active) != 1 || active[0].URL != "https://example.com" {
		t.Fatalf("unexpected active list: %+v", active)
	}

	err = s.Add(ctx, &domain.Target{ID: "c", URL: "https://example.com"})
	if !errors.Is(err, domain.ErrDuplicate) {
		t.Fatalf("want ErrDuplicate, got %v", err)
	}
}

func TestMemoryStore_RecordUpdatesLastChecked(t *testing.T) {
	ctx := context.Background()
	s := New()
	tgt := addTarget(t, s, "a", "https://example.com", true)

	r := result(tgt.ID, domain.OutcomeUp, base.Add(time.Minute))
	if err := s.Record(ctx, r); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if r.ID == 0 {
		t.Fatalf("expected result ID to be assigned")
	}
	got, _ := s.Get(ctx, tgt.ID)
	if got.LastChecked == nil || !got.LastChecked.Equal(r.CheckedAt) {
		t.Fatalf("last_checked not updated: %v", got.LastChecked)
	}
}

func TestMemoryStore_RecordMissingTarget(t *testing.T) {
	err := New().Record(context.Background(), result("gone", domain.OutcomeUp, base))
	if !errors.Is(err, domain.ErrStorage) || !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("want storage/not-found error, got %v", err)
	}
}

func TestMemoryStore_RecordRejectsUnknownOutcome(t *testing.T) {
	ctx := context.Background()
	s := New()
	tgt := addTarget(t, s, "a", "https://a.example", true)
	err := s.Record(ctx, result(tgt.ID, domain.Outcome("sideways"), base))
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("want validation error, got %v", err)
	}
	h, _ := s.History(ctx, tgt.ID, time.Time{}, 10)
	if len(h) != 0 {
		t.Fatalf("no row should be stored, got %d", len(h))
	}
}

func TestMemoryStore_HistoryNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := New()
	tgt := addTarget(t, s, "a", "https://example.com", true)
	for i := 0; i < 5; i++ {
		if err := s.Record(ctx, result(tgt.ID, domain.OutcomeUp, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	h, err := s.History(ctx, tgt.ID, base.Add(time.Hour), 3)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(h) != 3 {
		t.Fatalf("want 3 rows, got %d", len(h))
	}
	if !h[0].CheckedAt.Equal(base.Add(4 * time.Hour)) {
		t.Fatalf("want newest first, got %v", h[0].CheckedAt)
	}
	for i := 1; i < len(h); i++ {
		if h[i].CheckedAt.After(h[i-1].CheckedAt) {
			t.Fatalf("history not ordered newest first: %v", h)
		}
	}
}

func TestMemoryStore_StatusSnapshot(t *testing.T) {
	ctx := context.Background()
	s := New()
	a := addTarget(t, s, "a", "https://a.example", true)
	addTarget(t, s, "b", "https://b.example", true)
	c := addTarget(t, s, "c", "https://c.example", false)

	_ = s.Record(ctx, result(a.ID, domain.OutcomeDown, base))
	_ = s.Record(ctx, result(a.ID, domain.OutcomeUp, base.Add(time.Hour)))
	_ = s.Record(ctx, result(c.ID, domain.OutcomeUp, base))

	rows, err := s.StatusSnapshot(ctx)
	if err != nil {
		t.Fatalf("StatusSnapshot: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("want only active targets, got %d rows", len(rows))
	}
	if rows[0].Latest == nil || rows[0].Latest.Outcome != domain.OutcomeUp {
		t.Fatalf("want newest result for a, got %+v", rows[0].Latest)
	}
	if rows[1].Latest != nil {
		t.Fatalf("unchecked target should have no result, got %+v", rows[1].Latest)
	}
}

func TestMemoryStore_PruneAndRemove(t *testing.T) {
	ctx := context.Background()
	s := New()
	tgt := addTarget(t, s, "a", "https://example.com", true)
	for i := 0; i < 1200; i++ {
		_ = s.Record(ctx, result(tgt.ID, domain.OutcomeUp, base.Add(time.Duration(i)*time.Minute)))
	}

	n, err := s.Prune(ctx, base.Add(1100*time.Minute))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1100 {
		t.Fatalf("want 1100 pruned, got %d", n)
	}
	h, _ := s.History(ctx, tgt.ID, time.Time{}, 1000)
	if len(h) != 100 {
		t.Fatalf("want 100 rows left, got %d", len(h))
	}

	if err := s.Remove(ctx, tgt.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	h, _ = s.History(ctx, tgt.ID, time.Time{}, 0)
	if len(h) != 0 {
		t.Fatalf("want history removed with target, got %d rows", len(h))
	}
}

func TestMemoryStore_UptimeStats(t *testing.T) {
	ctx := context.Background()
	s := New()
	tgt := addTarget(t, s, "a", "https://example.com", true)
	_ = s.Record(ctx, result(tgt.ID, domain.OutcomeUp, base))
	_ = s.Record(ctx, result(tgt.ID, domain.OutcomeUp, base.Add(time.Minute)))
	_ = s.Record(ctx, result(tgt.ID, domain.OutcomeDown, base.Add(2*time.Minute)))
	_ = s.Record(ctx, result(tgt.ID, domain.OutcomeError, base.Add(3*time.Minute)))

	st, err := s.UptimeStats(ctx, tgt.ID, base)
	if err != nil {
		t.Fatalf("UptimeStats: %v", err)
	}
	if st.TotalChecks != 4 || st.UpChecks != 2 || st.DownChecks != 1 || st.ErrorChecks != 1 {
		t.Fatalf("unexpected counts: %+v", st)
	}
	if st.UptimePercentage != 50 {
		t.Fatalf("want 50%%, got %v", st.UptimePercentage)
	}
	if st.AvgLatencyMS == nil || *st.AvgLatencyMS != 10 {
		t.Fatalf("want avg latency 10, got %v", st.AvgLatencyMS)
	}
}
