package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/hamed0406/urlmonitor/internal/domain"
	"github.com/hamed0406/urlmonitor/internal/repo"
)

var _ repo.Store = (*Store)(nil)

// timeLayout is fixed width so TEXT comparison orders like time.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store is the embedded SQLite adapter. Writes are serialized through
// writeMu; reads go straight to the pool and see WAL snapshots.
type Store struct {
	db         *sql.DB
	log        *zap.Logger
	writeMu    sync.Mutex
	PruneBatch int
}

// New opens (creating if needed) the database at path and applies the schema.
func New(ctx context.Context, path string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if path == ":memory:" {
		// every connection would get its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &Store{db: db, log: log, PruneBatch: repo.DefaultPruneBatch}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS targets (
	id           TEXT PRIMARY KEY,
	url          TEXT NOT NULL UNIQUE,
	name         TEXT NOT NULL DEFAULT '',
	timeout_ms   INTEGER NOT NULL,
	active       INTEGER NOT NULL DEFAULT 1,
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL,
	last_checked TEXT
);
CREATE INDEX IF NOT EXISTS idx_targets_active ON targets (active);

CREATE TABLE IF NOT EXISTS check_results (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	target_id   TEXT NOT NULL,
	outcome     TEXT NOT NULL CHECK (outcome IN ('up', 'down', 'error')),
	status_code INTEGER,
	latency_ms  REAL,
	error       TEXT,
	attempts    INTEGER NOT NULL DEFAULT 1,
	checked_at  TEXT NOT NULL,
	FOREIGN KEY(target_id) REFERENCES targets(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_check_results_target_checked ON check_results (target_id, checked_at DESC);
CREATE INDEX IF NOT EXISTS idx_check_results_checked_at ON check_results (checked_at);
`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func fmtTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(v string) time.Time {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, v)
	}
	return t.UTC()
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrStorage, op, err)
}

// ---- TargetStore ----

const targetCols = `id, url, name, timeout_ms, active, created_at, updated_at, last_checked`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTarget(sc rowScanner) (*domain.Target, error) {
	var (
		t           domain.Target
		id          string
		timeoutMS   int64
		active      int
		createdAt   string
		updatedAt   string
		lastChecked sql.NullString
	)
	if err := sc.Scan(&id, &t.URL, &t.Name, &timeoutMS, &active, &createdAt, &updatedAt, &lastChecked); err != nil {
		return nil, err
	}
	t.ID = domain.TargetID(id)
	t.Timeout = time.Duration(timeoutMS) * time.Millisecond
	t.Active = active != 0
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	if lastChecked.Valid {
		lc := parseTime(lastChecked.String)
		t.LastChecked = &lc
	}
	return &t, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *Store) Add(ctx context.Context, t *domain.Target) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO targets (id, url, name, timeout_ms, active, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(url) DO NOTHING`,
		string(t.ID), t.URL, t.Name, t.Timeout.Milliseconds(), boolInt(t.Active),
		fmtTime(t.CreatedAt), fmtTime(t.UpdatedAt))
	if err != nil {
		return storageErr("insert target", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrDuplicate, t.URL)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id domain.TargetID) (*domain.Target, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+targetCols+` FROM targets WHERE id = ?`, string(id))
	t, err := scanTarget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("target %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("get target", err)
	}
	return t, nil
}

func (s *Store) GetByURL(ctx context.Context, url string) (*domain.Target, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+targetCols+` FROM targets WHERE url = ?`, url)
	t, err := scanTarget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("target %s: %w", url, domain.ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("get target by url", err)
	}
	return t, nil
}

func (s *Store) List(ctx context.Context, activeOnly bool) ([]domain.Target, error) {
	q := `SELECT ` + targetCols + ` FROM targets`
	if activeOnly {
		q += ` WHERE active = 1`
	}
	q += ` ORDER BY created_at, id`
	rows, err := s.db.QueryContext(ctx, q)
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
		`UPDATE targets SET name = ?, timeout_ms = ?, active = ?, updated_at = ? WHERE id = ?`,
		t.Name, t.Timeout.Milliseconds(), boolInt(t.Active), fmtTime(t.UpdatedAt), string(t.ID))
}

func (s *Store) Deactivate(ctx context.Context, id domain.TargetID) error {
	return s.execTarget(ctx, "deactivate target", id,
		`UPDATE targets SET active = 0, updated_at = ? WHERE id = ?`,
		fmtTime(time.Now()), string(id))
}

// Remove relies on ON DELETE CASCADE to drop the target's results.
func (s *Store) Remove(ctx context.Context, id domain.TargetID) error {
	return s.execTarget(ctx, "remove target", id, `DELETE FROM targets WHERE id = ?`, string(id))
}

func (s *Store) execTarget(ctx context.Context, op string, id domain.TargetID, q string, args ...any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return storageErr(op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("target %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ---- HistoryStore ----

func (s *Store) Record(ctx context.Context, r *domain.CheckResult) error {
	if err := repo.ValidateResult(r); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin", err)
	}
	defer tx.Rollback()

	at := fmtTime(r.CheckedAt)
	res, err := tx.ExecContext(ctx, `UPDATE targets SET last_checked = ? WHERE id = ?`, at, string(r.TargetID))
	if err != nil {
		return storageErr("touch target", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: target %s: %w", domain.ErrStorage, r.TargetID, domain.ErrNotFound)
	}

	res, err = tx.ExecContext(ctx, `
INSERT INTO check_results (target_id, outcome, status_code, latency_ms, error, attempts, checked_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(r.TargetID), string(r.Outcome), r.StatusCode, r.LatencyMS, r.Error, r.Attempts, at)
	if err != nil {
		return storageErr("insert result", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return storageErr("insert result", err)
	}
	if err := tx.Commit(); err != nil {
		return storageErr("commit", err)
	}
	r.ID = id
	return nil
}

const resultCols = `id, target_id, outcome, status_code, latency_ms, error, attempts, checked_at`

func scanResult(sc rowScanner) (domain.CheckResult, error) {
	var (
		r         domain.CheckResult
		targetID  string
		outcome   string
		status    sql.NullInt64
		latency   sql.NullFloat64
		errText   sql.NullString
		checkedAt string
	)
	if err := sc.Scan(&r.ID, &targetID, &outcome, &status, &latency, &errText, &r.Attempts, &checkedAt); err != nil {
		return r, err
	}
	r.TargetID = domain.TargetID(targetID)
	r.Outcome = domain.Outcome(outcome)
	if !r.Outcome.Valid() {
		return r, fmt.Errorf("result %d has unknown outcome %q", r.ID, outcome)
	}
	if status.Valid {
		r.StatusCode = domain.IntPtr(int(status.Int64))
	}
	if latency.Valid {
		r.LatencyMS = domain.Float64Ptr(latency.Float64)
	}
	if errText.Valid {
		r.Error = domain.StringPtr(errText.String)
	}
	r.CheckedAt = parseTime(checkedAt)
	return r, nil
}

func (s *Store) History(ctx context.Context, id domain.TargetID, since time.Time, limit int) ([]domain.CheckResult, error) {
	if limit <= 0 {
		limit = repo.DefaultHistoryLimit
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT `+resultCols+`
  FROM check_results
 WHERE target_id = ? AND checked_at >= ?
 ORDER BY checked_at DESC, id DESC
 LIMIT ?`, string(id), fmtTime(since), limit)
	if err != nil {
		return nil, storageErr("history", err)
	}
	defer rows.Close()

	out := make([]domain.CheckResult, 0, limit)
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, storageErr("scan result", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("history", err)
	}
	return out, nil
}

// StatusSnapshot is one statement, so it reads a single WAL snapshot.
func (s *Store) StatusSnapshot(ctx context.Context) ([]domain.StatusRow, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT t.id, t.url, t.name, t.timeout_ms, t.active, t.created_at, t.updated_at, t.last_checked,
       r.id, r.outcome, r.status_code, r.latency_ms, r.error, r.attempts, r.checked_at
  FROM targets t
  LEFT JOIN check_results r ON r.id = (
        SELECT id FROM check_results
         WHERE target_id = t.id
         ORDER BY checked_at DESC, id DESC
         LIMIT 1)
 WHERE t.active = 1
 ORDER BY t.created_at, t.id`)
	if err != nil {
		return nil, storageErr("status snapshot", err)
	}
	defer rows.Close()

	var out []domain.StatusRow
	for rows.Next() {
		var (
			t           domain.Target
			id          string
			timeoutMS   int64
			active      int
			createdAt   string
			updatedAt   string
			lastChecked sql.NullString
			rid         sql.NullInt64
			outcome     sql.NullString
			status      sql.NullInt64
			latency     sql.NullFloat64
			errText     sql.NullString
			attempts    sql.NullInt64
			checkedAt   sql.NullString
		)
		if err := rows.Scan(&id, &t.URL, &t.Name, &timeoutMS, &active, &createdAt, &updatedAt, &lastChecked,
			&rid, &outcome, &status, &latency, &errText, &attempts, &checkedAt); err != nil {
			return nil, storageErr("scan status", err)
		}
		t.ID = domain.TargetID(id)
		t.Timeout = time.Duration(timeoutMS) * time.Millisecond
		t.Active = active != 0
		t.CreatedAt = parseTime(createdAt)
		t.UpdatedAt = parseTime(updatedAt)
		if lastChecked.Valid {
			lc := parseTime(lastChecked.String)
			t.LastChecked = &lc
		}
		row := domain.StatusRow{Target: t}
		if rid.Valid {
			r := &domain.CheckResult{
				ID:        rid.Int64,
				TargetID:  t.ID,
				Outcome:   domain.Outcome(outcome.String),
				Attempts:  int(attempts.Int64),
				CheckedAt: parseTime(checkedAt.String),
			}
			if !r.Outcome.Valid() {
				return nil, storageErr("scan status", fmt.Errorf("result %d has unknown outcome %q", r.ID, outcome.String))
			}
			if status.Valid {
				r.StatusCode = domain.IntPtr(int(status.Int64))
			}
			if latency.Valid {
				r.LatencyMS = domain.Float64Ptr(latency.Float64)
			}
			if errText.Valid {
				r.Error = domain.StringPtr(errText.String)
			}
			row.Latest = r
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("status snapshot", err)
	}
	return out, nil
}

// Prune deletes in batches, releasing the write lock between batches so
// Record calls interleave.
func (s *Store) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	batch := s.PruneBatch
	if batch <= 0 {
		batch = repo.DefaultPruneBatch
	}
	cutoff := fmtTime(olderThan)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := s.pruneBatch(ctx, cutoff, batch)
		total += n
		if err != nil {
			return total, err
		}
		if n < int64(batch) {
			break
		}
	}
	if total > 0 {
		s.log.Info("prune_done", zap.Int64("deleted", total), zap.Time("older_than", olderThan))
	}
	return total, nil
}

func (s *Store) pruneBatch(ctx context.Context, cutoff string, batch int) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	res, err := s.db.ExecContext(ctx, `
DELETE FROM check_results
 WHERE id IN (SELECT id FROM check_results WHERE checked_at < ? LIMIT ?)`, cutoff, batch)
	if err != nil {
		return 0, storageErr("prune", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Store) UptimeStats(ctx context.Context, id domain.TargetID, since time.Time) (domain.UptimeStats, error) {
	st := domain.UptimeStats{TargetID: id, Since: since}
	var avg, minL, maxL sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*),
       COALESCE(SUM(CASE WHEN outcome = 'up' THEN 1 ELSE 0 END), 0),
       COALESCE(SUM(CASE WHEN outcome = 'down' THEN 1 ELSE 0 END), 0),
       COALESCE(SUM(CASE WHEN outcome = 'error' THEN 1 ELSE 0 END), 0),
       AVG(CASE WHEN outcome = 'up' THEN latency_ms END),
       MIN(CASE WHEN outcome = 'up' THEN latency_ms END),
       MAX(CASE WHEN outcome = 'up' THEN latency_ms END)
  FROM check_results
 WHERE target_id = ? AND checked_at >= ?`, string(id), fmtTime(since)).
		Scan(&st.TotalChecks, &st.UpChecks, &st.DownChecks, &st.ErrorChecks, &avg, &minL, &maxL)
	if err != nil {
		return st, storageErr("uptime stats", err)
	}
	if avg.Valid {
		st.AvgLatencyMS = domain.Float64Ptr(avg.Float64)
		st.MinLatencyMS = domain.Float64Ptr(minL.Float64)
		st.MaxLatencyMS = domain.Float64Ptr(maxL.Float64)
	}
	st.UptimePercentage = repo.UptimePercent(st.UpChecks, st.TotalChecks)
	return st, nil
}

func (s *Store) Stats(ctx context.Context, now time.Time) (domain.StoreStats, error) {
	var st domain.StoreStats
	err := s.db.QueryRowContext(ctx, `
SELECT (SELECT COUNT(*) FROM targets),
       (SELECT COUNT(*) FROM targets WHERE active = 1),
       (SELECT COUNT(*) FROM check_results),
       (SELECT COUNT(*) FROM check_results WHERE checked_at >= ?)`,
		fmtTime(now.Add(-24*time.Hour))).
		Scan(&st.TotalTargets, &st.ActiveTargets, &st.TotalChecks, &st.ChecksLast24h)
	if err != nil {
		return st, storageErr("stats", err)
	}
	return st, nil
}
