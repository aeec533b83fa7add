// Package buildlog records builds and per-page renders in a SQLite database
// so past builds can be inspected from the command line.
package buildlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Build statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Render statuses.
const (
	RenderOK      = "ok"
	RenderSkipped = "skipped"
	RenderFailed  = "failed"
)

// ErrUnknownBuild is returned when a build id does not exist.
var ErrUnknownBuild = errors.New("unknown build")

// SetupSchema creates the build history tables. It is idempotent.
func SetupSchema(db *sql.DB) error {
	const (
		schemaBuilds = `
CREATE TABLE IF NOT EXISTS sundew_builds (
    build_id INTEGER PRIMARY KEY,
    version TEXT NOT NULL,
    started_at INTEGER NOT NULL,
    finished_at INTEGER,
    status TEXT NOT NULL,
    rendered INTEGER NOT NULL DEFAULT 0,
    skipped INTEGER NOT NULL DEFAULT 0,
    warnings INTEGER NOT NULL DEFAULT 0,
    errors INTEGER NOT NULL DEFAULT 0,
    cache_hits INTEGER NOT NULL DEFAULT 0,
    cache_misses INTEGER NOT NULL DEFAULT 0
);
`
		schemaRenders = `
CREATE TABLE IF NOT EXISTS sundew_renders (
    render_id INTEGER PRIMARY KEY,
    build_id INTEGER NOT NULL REFERENCES sundew_builds(build_id) ON DELETE CASCADE,
    url TEXT NOT NULL,
    format TEXT NOT NULL,
    template TEXT NOT NULL,
    origin TEXT NOT NULL,
    status TEXT NOT NULL,
    bytes INTEGER NOT NULL DEFAULT 0,
    duration_us INTEGER NOT NULL DEFAULT 0,
    warnings INTEGER NOT NULL DEFAULT 0,
    error TEXT NOT NULL DEFAULT ''
);
`
		indexRenders = `CREATE INDEX IF NOT EXISTS idx_sundew_renders_url ON sundew_renders (url, build_id);`
	)

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	for _, stmt := range []string{schemaBuilds, schemaRenders, indexRenders} {
		if _, err = tx.Exec(stmt); err != nil {
			return fmt.Errorf("could not create schema: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}
	return nil
}

// Build is one row of build history.
type Build struct {
	ID          int64
	Version     string
	StartedAt   time.Time
	FinishedAt  time.Time
	Status      string
	Rendered    int
	Skipped     int
	Warnings    int
	Errors      int
	CacheHits   uint64
	CacheMisses uint64
}

// Duration is the wall time of a finished build.
func (b Build) Duration() time.Duration {
	if b.FinishedAt.IsZero() {
		return 0
	}
	return b.FinishedAt.Sub(b.StartedAt)
}

// Summary holds the totals written when a build finishes.
type Summary struct {
	Status      string
	FinishedAt  time.Time
	Rendered    int
	Skipped     int
	Warnings    int
	Errors      int
	CacheHits   uint64
	CacheMisses uint64
}

// Render is one output file written (or skipped) by a build.
type Render struct {
	BuildID  int64
	URL      string
	Format   string
	Template string
	Origin   string
	Status   string
	Bytes    int
	Duration time.Duration
	Warnings int
	Error    string
}

// Store reads and writes build history. It holds prepared statements for
// the hot paths and is safe for concurrent use.
type Store struct {
	db               *sql.DB
	stmtBeginBuild   *sql.Stmt
	stmtFinishBuild  *sql.Stmt
	stmtRecordRender *sql.Stmt
	stmtRecentBuilds *sql.Stmt
	stmtPageHistory  *sql.Stmt
	stmtGetBuild     *sql.Stmt
	logger           *slog.Logger
}

// NewStore prepares the statements used by the Store. SetupSchema must have
// been called on db.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	stmts := []struct {
		dst   **sql.Stmt
		query string
	}{
		{&s.stmtBeginBuild, `INSERT INTO sundew_builds (version, started_at, status) VALUES (?, ?, ?) RETURNING build_id;`},
		{&s.stmtFinishBuild, `UPDATE sundew_builds SET finished_at = ?, status = ?, rendered = ?, skipped = ?, warnings = ?, errors = ?, cache_hits = ?, cache_misses = ? WHERE build_id = ?;`},
		{&s.stmtRecordRender, `INSERT INTO sundew_renders (build_id, url, format, template, origin, status, bytes, duration_us, warnings, error) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`},
		{&s.stmtRecentBuilds, `SELECT build_id, version, started_at, coalesce(finished_at, 0), status, rendered, skipped, warnings, errors, cache_hits, cache_misses FROM sundew_builds ORDER BY build_id DESC LIMIT ?;`},
		{&s.stmtPageHistory, `SELECT build_id, url, format, template, origin, status, bytes, duration_us, warnings, error FROM sundew_renders WHERE url = ? ORDER BY build_id DESC, render_id DESC LIMIT ?;`},
		{&s.stmtGetBuild, `SELECT build_id, version, started_at, coalesce(finished_at, 0), status, rendered, skipped, warnings, errors, cache_hits, cache_misses FROM sundew_builds WHERE build_id = ?;`},
	}
	for _, st := range stmts {
		prepared, err := db.Prepare(st.query)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to prepare statement: %w", err)
		}
		*st.dst = prepared
	}
	return s, nil
}

// Close releases the prepared statements.
func (s *Store) Close() {
	for _, stmt := range []*sql.Stmt{s.stmtBeginBuild, s.stmtFinishBuild, s.stmtRecordRender, s.stmtRecentBuilds, s.stmtPageHistory, s.stmtGetBuild} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
}

// SetLogger sets the logger. By default, all logs are discarded.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// BeginBuild inserts a running build and returns its id.
func (s *Store) BeginBuild(ctx context.Context, version string, startedAt time.Time) (int64, error) {
	var id int64
	if err := s.stmtBeginBuild.QueryRowContext(ctx, version, startedAt.UnixMilli(), StatusRunning).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to begin build: %w", err)
	}
	s.logger.DebugContext(ctx, "Build recorded", "build_id", id)
	return id, nil
}

// RecordRender stores one render result.
func (s *Store) RecordRender(ctx context.Context, r Render) error {
	_, err := s.stmtRecordRender.ExecContext(ctx, r.BuildID, r.URL, r.Format, r.Template, r.Origin, r.Status,
		r.Bytes, r.Duration.Microseconds(), r.Warnings, r.Error)
	if err != nil {
		return fmt.Errorf("failed to record render of %s: %w", r.URL, err)
	}
	return nil
}

// FinishBuild writes the totals for a build.
func (s *Store) FinishBuild(ctx context.Context, id int64, sum Summary) error {
	res, err := s.stmtFinishBuild.ExecContext(ctx, sum.FinishedAt.UnixMilli(), sum.Status,
		sum.Rendered, sum.Skipped, sum.Warnings, sum.Errors, int64(sum.CacheHits), int64(sum.CacheMisses), id)
	if err != nil {
		return fmt.Errorf("failed to finish build %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("build %d: %w", id, ErrUnknownBuild)
	}
	s.logger.InfoContext(ctx, "Build history updated", "build_id", id, "status", sum.Status)
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBuild(row scanner) (Build, error) {
	var (
		b                   Build
		started, finished   int64
		cacheHits, cacheMis int64
	)
	err := row.Scan(&b.ID, &b.Version, &started, &finished, &b.Status,
		&b.Rendered, &b.Skipped, &b.Warnings, &b.Errors, &cacheHits, &cacheMis)
	if err != nil {
		return Build{}, err
	}
	b.StartedAt = time.UnixMilli(started)
	if finished > 0 {
		b.FinishedAt = time.UnixMilli(finished)
	}
	b.CacheHits, b.CacheMisses = uint64(cacheHits), uint64(cacheMis)
	return b, nil
}

// GetBuild returns a single build.
func (s *Store) GetBuild(ctx context.Context, id int64) (Build, error) {
	b, err := scanBuild(s.stmtGetBuild.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Build{}, fmt.Errorf("build %d: %w", id, ErrUnknownBuild)
	}
	return b, err
}

// RecentBuilds returns up to limit builds, newest first.
func (s *Store) RecentBuilds(ctx context.Context, limit int) ([]Build, error) {
	rows, err := s.stmtRecentBuilds.QueryContext(ctx, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var builds []Build
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, err
		}
		builds = append(builds, b)
	}
	return builds, rows.Err()
}

// PageHistory returns up to limit renders of url, newest build first.
func (s *Store) PageHistory(ctx context.Context, url string, limit int) ([]Render, error) {
	rows, err := s.stmtPageHistory.QueryContext(ctx, url, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var renders []Render
	for rows.Next() {
		var (
			r  Render
			us int64
		)
		if err := rows.Scan(&r.BuildID, &r.URL, &r.Format, &r.Template, &r.Origin, &r.Status,
			&r.Bytes, &us, &r.Warnings, &r.Error); err != nil {
			return nil, err
		}
		r.Duration = time.Duration(us) * time.Microsecond
		renders = append(renders, r)
	}
	return renders, rows.Err()
}

// Prune deletes all but the newest keep builds and their renders. It returns
// the number of builds removed.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	const cutoff = `SELECT build_id FROM sundew_builds ORDER BY build_id DESC LIMIT -1 OFFSET ?`
	if _, err = tx.ExecContext(ctx, `DELETE FROM sundew_renders WHERE build_id IN (`+cutoff+`)`, keep); err != nil {
		return 0, fmt.Errorf("failed to prune renders: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sundew_builds WHERE build_id IN (`+cutoff+`)`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune builds: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	s.logger.InfoContext(ctx, "Build history pruned", "removed", removed, "kept", keep)
	return removed, nil
}
