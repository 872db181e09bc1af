package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hamed0406/urlmonitor/internal/domain"
	"github.com/hamed0406/urlmonitor/internal/repo"
)

var _ repo.Store = (*Store)(nil)

type Store struct {
	pool       *pgxpool.Pool
	log        *zap.Logger
	PruneBatch int
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS targets (
  id           TEXT PRIMARY KEY,
  url          TEXT NOT NULL UNIQUE,
  name         TEXT NOT NULL DEFAULT '',
  timeout_ms   INTEGER NOT NULL,
  active       BOOLEAN NOT NULL DEFAULT TRUE,
  created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
  last_checked TIMESTAMPTZ NULL
);

CREATE TABLE IF NOT EXISTS check_results (
  id          BIGSERIAL PRIMARY KEY,
  target_id   TEXT NOT NULL REFERENCES targets(id) ON DELETE CASCADE,
  outcome     TEXT NOT NULL CHECK (outcome IN ('up', 'down', 'error')),
  status_code INTEGER NULL,
  latency_ms  DOUBLE PRECISION NULL,
  error       TEXT NULL,
  attempts    INTEGER NOT NULL DEFAULT 1,
  checked_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_check_results_target_time ON check_results (target_id, checked_at DESC);
CREATE INDEX IF NOT EXISTS idx_check_results_checked_at  ON check_results (checked_at);
`

func New(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool, log: log, PruneBatch: repo.DefaultPruneBatch}, nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrStorage, op, err)
}

// ---- TargetStore ----

const targetCols = `id, url, name, timeout_ms, active, created_at, updated_at, last_checked`

func scanTarget(row pgx.Row) (*domain.Target, error) {
	var (
		t         domain.Target
		id        string
		timeoutMS int32
	)
	if err := row.Scan(&id, &t.URL, &t.Name, &timeoutMS, &t.Active, &t.CreatedAt, &t.UpdatedAt, &t.LastChecked); err != nil {
		return nil, err
	}
	t.ID = domain.TargetID(id)
	t.Timeout = time.Duration(timeoutMS) * time.Millisecond
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	if t.LastChecked != nil {
		lc := t.LastChecked.UTC()
		t.LastChecked = &lc
	}
	return &t, nil
}

func (s *Store) Add(ctx context.Context, t *domain.Target) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO targets (id, url, name, timeout_ms, active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (url) DO NOTHING`,
		string(t.ID), t.URL, t.Name, t.Timeout.Milliseconds(), t.Active, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return storageErr("insert target", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", domain.ErrDuplicate, t.URL)
	}
	return nil
}

func (s *Store) getWhere(ctx context.Context, where string, arg any, key string) (*domain.Target, error) {
	t, err := scanTarget(s.pool.QueryRow(ctx, `SELECT `+targetCols+` FROM targets WHERE `+where, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("target %s: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("get target", err)
	}
	return t, nil
}

func (s *Store) Get(ctx context.Context, id domain.TargetID) (*domain.Target, error) {
	return s.getWhere(ctx, `id = $1`, string(id), string(id))
}

func (s *Store) GetByURL(ctx context.Context, url string) (*domain.Target, error) {
	return s.getWhere(ctx, `url = $1`, url, url)
}

func (s *Store) List(ctx context.Context, activeOnly bool) ([]domain.Target, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+targetCols+`
		   FROM targets
		  WHERE ($1 = FALSE OR active)
		  ORDER BY created_at, id`, activeOnly)
	if err != nil {
		return nil, storageErr("list targets", err)
	}
	defer rows.Close()

	var out []domain.Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, storageErr("scan target", err)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list targets", err)
	}
	return out, nil
}

func (s *Store) Update(ctx context.Context, t *domain.Target) error {
	t.UpdatedAt = time.Now().UTC()
	return s.execTarget(ctx, "update target", t.ID,
		`UPDATE targets SET name = $1, timeout_ms = $2, active = $3, updated_at = $4 WHERE id = $5`,
		t.Name, t.Timeout.Milliseconds(), t.Active, t.UpdatedAt, string(t.ID))
}

func (s *Store) Deactivate(ctx context.Context, id domain.TargetID) error {
	return s.execTarget(ctx, "deactivate target", id,
		`UPDATE targets SET active = FALSE, updated_at = now() WHERE id = $1`, string(id))
}

func (s *Store) Remove(ctx context.Context, id domain.TargetID) error {
	return s.execTarget(ctx, "remove target", id, `DELETE FROM targets WHERE id = $1`, string(id))
}

func (s *Store) execTarget(ctx context.Context, op string, id domain.TargetID, q string, args ...any) error {
	tag, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return storageErr(op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("target %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ---- HistoryStore ----

func (s *Store) Record(ctx context.Context, r *domain.CheckResult) error {
	if err := repo.ValidateResult(r); err != nil {
		return err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storageErr("begin", err)
	}
	defer tx.Rollback(ctx)

	// the row lock on the target orders concurrent writers for one target
	tag, err := tx.Exec(ctx, `UPDATE targets SET last_checked = $1 WHERE id = $2`, r.CheckedAt, string(r.TargetID))
	if err != nil {
		return storageErr("touch target", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: target %s: %w", domain.ErrStorage, r.TargetID, domain.ErrNotFound)
	}

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO check_results
		   (target_id, outcome, status_code, latency_ms, error, attempts, checked_at)
		 VALUES
		   ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		string(r.TargetID), string(r.Outcome), r.StatusCode, r.LatencyMS, r.Error, r.Attempts, r.CheckedAt,
	).Scan(&id)
	if err != nil {
		return storageErr("insert result", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return storageErr("commit", err)
	}
	r.ID = id
	return nil
}

type resultRow struct {
	id        *int64
	outcome   *string
	status    *int32
	latency   *float64
	errText   *string
	attempts  *int32
	checkedAt *time.Time
}

func (rr resultRow) toResult(target domain.TargetID) (*domain.CheckResult, error) {
	if rr.id == nil {
		return nil, nil
	}
	r := &domain.CheckResult{
		ID:        *rr.id,
		TargetID:  target,
		Outcome:   domain.Outcome(*rr.outcome),
		LatencyMS: rr.latency,
		Error:     rr.errText,
		Attempts:  int(*rr.attempts),
		CheckedAt: rr.checkedAt.UTC(),
	}
	if rr.status != nil {
		r.StatusCode = domain.IntPtr(int(*rr.status))
	}
	if !r.Outcome.Valid() {
		return nil, fmt.Errorf("result %d has unknown outcome %q", r.ID, r.Outcome)
	}
	return r, nil
}

func (s *Store) History(ctx context.Context, id domain.TargetID, since time.Time, limit int) ([]domain.CheckResult, error) {
	if limit <= 0 {
		limit = repo.DefaultHistoryLimit
	}
	rows, err := s.pool.Query(ctx, `
SELECT id, outcome, status_code, latency_ms, error, attempts, checked_at
  FROM check_results
 WHERE target_id = $1 AND checked_at >= $2
 ORDER BY checked_at DESC, id DESC
 LIMIT $3`, string(id), since, limit)
	if err != nil {
		return nil, storageErr("history", err)
	}
	defer rows.Close()

	out := make([]domain.CheckResult, 0, limit)
	for rows.Next() {
		var rr resultRow
		if err := rows.Scan(&rr.id, &rr.outcome, &rr.status, &rr.latency, &rr.errText, &rr.attempts, &rr.checkedAt); err != nil {
			return nil, storageErr("scan result", err)
		}
		r, err := rr.toResult(id)
		if err != nil {
			return nil, storageErr("scan result", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("history", err)
	}
	return out, nil
}

func (s *Store) StatusSnapshot(ctx context.Context) ([]domain.StatusRow, error) {
	rows, err := s.pool.Query(ctx, `
SELECT t.id, t.url, t.name, t.timeout_ms, t.active, t.created_at, t.updated_at, t.last_checked,
       r.id, r.outcome, r.status_code, r.latency_ms, r.error, r.attempts, r.checked_at
  FROM targets t
  LEFT JOIN LATERAL (
        SELECT id, outcome, status_code, latency_ms, error, attempts, checked_at
          FROM check_results
         WHERE target_id = t.id
         ORDER BY checked_at DESC, id DESC
         LIMIT 1) r ON TRUE
 WHERE t.active
 ORDER BY t.created_at, t.id`)
	if err != nil {
		return nil, storageErr("status snapshot", err)
	}
	defer rows.Close()

	var out []domain.StatusRow
	for rows.Next() {
		var (
			t         domain.Target
			id        string
			timeoutMS int32
			rr        resultRow
		)
		if err := rows.Scan(&id, &t.URL, &t.Name, &timeoutMS, &t.Active, &t.CreatedAt, &t.UpdatedAt, &t.LastChecked,
			&rr.id, &rr.outcome, &rr.status, &rr.latency, &rr.errText, &rr.attempts, &rr.checkedAt); err != nil {
			return nil, storageErr("scan status", err)
		}
		t.ID = domain.TargetID(id)
		t.Timeout = time.Duration(timeoutMS) * time.Millisecond
		t.CreatedAt = t.CreatedAt.UTC()
		t.UpdatedAt = t.UpdatedAt.UTC()
		latest, err := rr.toResult(t.ID)
		if err != nil {
			return nil, storageErr("scan status", err)
		}
		out = append(out, domain.StatusRow{Target: t, Latest: latest})
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("status snapshot", err)
	}
	return out, nil
}

func (s *Store) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	batch := s.PruneBatch
	if batch <= 0 {
		batch = repo.DefaultPruneBatch
	}
	var total int64
	for {
		tag, err := s.pool.Exec(ctx, `
DELETE FROM check_results
 WHERE id IN (SELECT id FROM check_results WHERE checked_at < $1 ORDER BY id LIMIT $2)`, olderThan, batch)
		if err != nil {
			return total, storageErr("prune", err)
		}
		n := tag.RowsAffected()
		total += n
		if n < int64(batch) {
			break
		}
	}
	if total > 0 {
		s.log.Info("prune_done", zap.Int64("deleted", total), zap.Time("older_than", olderThan))
	}
	return total, nil
}

func (s *Store) UptimeStats(ctx context.Context, id domain.TargetID, since time.Time) (domain.UptimeStats, error) {
	st := domain.UptimeStats{TargetID: id, Since: since}
	var total, up, down, errs int64
	err := s.pool.QueryRow(ctx, `
SELECT COUNT(*),
       COUNT(*) FILTER (WHERE outcome = 'up'),
       COUNT(*) FILTER (WHERE outcome = 'down'),
       COUNT(*) FILTER (WHERE outcome = 'error'),
       AVG(latency_ms) FILTER (WHERE outcome = 'up'),
       MIN(latency_ms) FILTER (WHERE outcome = 'up'),
       MAX(latency_ms) FILTER (WHERE outcome = 'up')
  FROM check_results
 WHERE target_id = $1 AND checked_at >= $2`, string(id), since).
		Scan(&total, &up, &down, &errs, &st.AvgLatencyMS, &st.MinLatencyMS, &st.MaxLatencyMS)
	if err != nil {
		return st, storageErr("uptime stats", err)
	}
	st.TotalChecks, st.UpChecks, st.DownChecks, st.ErrorChecks = int(total), int(up), int(down), int(errs)
	st.UptimePercentage = repo.UptimePercent(st.UpChecks, st.TotalChecks)
	return st, nil
}

func (s *Store) Stats(ctx context.Context, now time.Time) (domain.StoreStats, error) {
	var total, active, checks, recent int64
	err := s.pool.QueryRow(ctx, `
SELECT (SELECT COUNT(*) FROM targets),
       (SELECT COUNT(*) FROM targets WHERE active),
       (SELECT COUNT(*) FROM check_results),
       (SELECT COUNT(*) FROM check_results WHERE checked_at >= $1)`, now.Add(-24*time.Hour)).
		Scan(&total, &active, &checks, &recent)
	if err != nil {
		return domain.StoreStats{}, storageErr("stats", err)
	}
	return domain.StoreStats{
		TotalTargets:  int(total),
		ActiveTargets: int(active),
		TotalChecks:   int(checks),
		ChecksLast24h: int(recent),
	}, nil
}
