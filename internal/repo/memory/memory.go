package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hamed0406/urlmonitor/internal/domain"
	"github.com/hamed0406/urlmonitor/internal/repo"
)

var _ repo.Store = (*Store)(nil)

// Store keeps targets and results in process memory. A single RWMutex makes
// every read a consistent snapshot and serializes writers.
type Store struct {
	mu      sync.RWMutex
	targets map[domain.TargetID]*domain.Target
	byURL   map[string]domain.TargetID
	results map[domain.TargetID][]domain.CheckResult // oldest first
	nextID  int64
}

func New() *Store {
	return &Store{
		targets: make(map[domain.TargetID]*domain.Target),
		byURL:   make(map[string]domain.TargetID),
		results: make(map[domain.TargetID][]domain.CheckResult),
	}
}

func (m *Store) Close() error { return nil }

func (m *Store) Add(ctx context.Context, t *domain.Target) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byURL[t.URL]; ok {
		return fmt.Errorf("%w: %s", domain.ErrDuplicate, t.URL)
	}
	if t.ID == "" {
		t.ID = domain.TargetID(time.Now().UTC().Format("20060102T150405.000000000"))
	}
	if _, ok := m.targets[t.ID]; ok {
		return fmt.Errorf("%w: id %s", domain.ErrDuplicate, t.ID)
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	cp := *t
	m.targets[t.ID] = &cp
	m.byURL[t.URL] = t.ID
	return nil
}

func (m *Store) Get(ctx context.Context, id domain.TargetID) (*domain.Target, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.targets[id]
	if !ok {
		return nil, fmt.Errorf("target %s: %w", id, domain.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (m *Store) GetByURL(ctx context.Context, url string) (*domain.Target, error) {
	m.mu.RLock()
	id, ok := m.byURL[url]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("target %s: %w", url, domain.ErrNotFound)
	}
	return m.Get(ctx, id)
}

func (m *Store) List(ctx context.Context, activeOnly bool) ([]domain.Target, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Target, 0, len(m.targets))
	for _, t := range m.targets {
		if activeOnly && !t.Active {
			continue
		}
		out = append(out, *t)
	}
	sortTargets(out)
	return out, nil
}

func (m *Store) Update(ctx context.Context, t *domain.Target) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.targets[t.ID]
	if !ok {
		return fmt.Errorf("target %s: %w", t.ID, domain.ErrNotFound)
	}
	cur.Name = t.Name
	cur.Timeout = t.Timeout
	cur.Active = t.Active
	cur.UpdatedAt = time.Now().UTC()
	t.UpdatedAt = cur.UpdatedAt
	return nil
}

func (m *Store) Deactivate(ctx context.Context, id domain.TargetID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.targets[id]
	if !ok {
		return fmt.Errorf("target %s: %w", id, domain.ErrNotFound)
	}
	cur.Active = false
	cur.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Store) Remove(ctx context.Context, id domain.TargetID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.targets[id]
	if !ok {
		return fmt.Errorf("target %s: %w", id, domain.ErrNotFound)
	}
	delete(m.byURL, cur.URL)
	delete(m.targets, id)
	delete(m.results, id)
	return nil
}

func (m *Store) Record(ctx context.Context, r *domain.CheckResult) error {
	if err := repo.ValidateResult(r); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.targets[r.TargetID]
	if !ok {
		return fmt.Errorf("%w: target %s: %w", domain.ErrStorage, r.TargetID, domain.ErrNotFound)
	}
	m.nextID++
	r.ID = m.nextID
	m.results[r.TargetID] = append(m.results[r.TargetID], *r)
	at := r.CheckedAt
	t.LastChecked = &at
	return nil
}

func (m *Store) History(ctx context.Context, id domain.TargetID, since time.Time, limit int) ([]domain.CheckResult, error) {
	if limit <= 0 {
		limit = repo.DefaultHistoryLimit
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rs := m.results[id]
	out := make([]domain.CheckResult, 0, min(limit, len(rs)))
	for _, r := range newestFirst(rs) {
		if len(out) == limit {
			break
		}
		if r.CheckedAt.Before(since) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *Store) StatusSnapshot(ctx context.Context) ([]domain.StatusRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.StatusRow, 0, len(m.targets))
	for id, t := range m.targets {
		if !t.Active {
			continue
		}
		row := domain.StatusRow{Target: *t}
		if rs := newestFirst(m.results[id]); len(rs) > 0 {
			latest := rs[0]
			row.Latest = &latest
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return lessTarget(out[i].Target, out[j].Target) })
	return out, nil
}

// Prune drops old rows one batch per lock acquisition so Record is never
// held off for longer than a single batch.
func (m *Store) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n := m.pruneBatch(olderThan, repo.DefaultPruneBatch)
		total += int64(n)
		if n < repo.DefaultPruneBatch {
			return total, nil
		}
	}
}

func (m *Store) pruneBatch(olderThan time.Time, batch int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, rs := range m.results {
		kept := rs[:0]
		for _, r := range rs {
			if removed < batch && r.CheckedAt.Before(olderThan) {
				removed++
				continue
			}
			kept = append(kept, r)
		}
		m.results[id] = kept
		if removed == batch {
			break
		}
	}
	return removed
}

func (m *Store) UptimeStats(ctx context.Context, id domain.TargetID, since time.Time) (domain.UptimeStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := domain.UptimeStats{TargetID: id, Since: since}
	var sum float64
	var n int
	for _, r := range m.results[id] {
		if r.CheckedAt.Before(since) {
			continue
		}
		st.TotalChecks++
		switch r.Outcome {
		case domain.OutcomeUp:
			st.UpChecks++
			if r.LatencyMS != nil {
				v := *r.LatencyMS
				sum += v
				n++
				if st.MinLatencyMS == nil || v < *st.MinLatencyMS {
					st.MinLatencyMS = domain.Float64Ptr(v)
				}
				if st.MaxLatencyMS == nil || v > *st.MaxLatencyMS {
					st.MaxLatencyMS = domain.Float64Ptr(v)
				}
			}
		case domain.OutcomeDown:
			st.DownChecks++
		default:
			st.ErrorChecks++
		}
	}
	if n > 0 {
		st.AvgLatencyMS = domain.Float64Ptr(sum / float64(n))
	}
	st.UptimePercentage = repo.UptimePercent(st.UpChecks, st.TotalChecks)
	return st, nil
}

func (m *Store) Stats(ctx context.Context, now time.Time) (domain.StoreStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var st domain.StoreStats
	dayAgo := now.Add(-24 * time.Hour)
	for id, t := range m.targets {
		st.TotalTargets++
		if t.Active {
			st.ActiveTargets++
		}
		for _, r := range m.results[id] {
			st.TotalChecks++
			if !r.CheckedAt.Before(dayAgo) {
				st.ChecksLast24h++
			}
		}
	}
	return st, nil
}

// newestFirst orders by checked_at desc, then insertion order desc.
func newestFirst(rs []domain.CheckResult) []domain.CheckResult {
	out := make([]domain.CheckResult, len(rs))
	copy(out, rs)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CheckedAt.Equal(out[j].CheckedAt) {
			return out[i].CheckedAt.After(out[j].CheckedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func sortTargets(ts []domain.Target) {
	sort.Slice(ts, func(i, j int) bool { return lessTarget(ts[i], ts[j]) })
}

func lessTarget(a, b domain.Target) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
