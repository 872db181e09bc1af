package repo

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/hamed0406/urlmonitor/internal/domain"
)

const (
	// DefaultHistoryLimit applies when History is called with limit <= 0.
	DefaultHistoryLimit = 100
	DefaultPruneBatch   = 500
)

// TargetStore is the target registry.
type TargetStore interface {
	// Add inserts t. It fails with domain.ErrDuplicate when t.URL is taken.
	Add(ctx context.Context, t *domain.Target) error
	Get(ctx context.Context, id domain.TargetID) (*domain.Target, error)
	GetByURL(ctx context.Context, url string) (*domain.Target, error)
	List(ctx context.Context, activeOnly bool) ([]domain.Target, error)
	// Update rewrites name, timeout and active.
	Update(ctx context.Context, t *domain.Target) error
	Deactivate(ctx context.Context, id domain.TargetID) error
	// Remove deletes the target and all of its results.
	Remove(ctx context.Context, id domain.TargetID) error
}

// HistoryStore is the append-only log of check results.
type HistoryStore interface {
	// Record inserts r and sets the target's last_checked in one
	// transaction. A missing target yields ErrStorage wrapping ErrNotFound.
	Record(ctx context.Context, r *domain.CheckResult) error
	// History returns results newest first, checked_at >= since.
	History(ctx context.Context, id domain.TargetID, since time.Time, limit int) ([]domain.CheckResult, error)
	// StatusSnapshot returns every active target with its newest result,
	// read in a single consistent view.
	StatusSnapshot(ctx context.Context) ([]domain.StatusRow, error)
	// Prune deletes results with checked_at < olderThan in batches and
	// returns the number of rows removed.
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
	UptimeStats(ctx context.Context, id domain.TargetID, since time.Time) (domain.UptimeStats, error)
	Stats(ctx context.Context, now time.Time) (domain.StoreStats, error)
}

// Store is what a storage adapter provides.
type Store interface {
	TargetStore
	HistoryStore
	Close() error
}

// UptimePercent returns up/total as a percentage rounded to two decimals.
func UptimePercent(up, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(up)/float64(total)*10000) / 100
}

// ValidateResult rejects a result whose outcome is not up, down or error.
func ValidateResult(r *domain.CheckResult) error {
	if !r.Outcome.Valid() {
		return fmt.Errorf("%w: unknown outcome %q for target %s", domain.ErrValidation, r.Outcome, r.TargetID)
	}
	return nil
}
