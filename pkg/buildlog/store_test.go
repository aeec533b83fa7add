package buildlog

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore opens a fresh database with the schema applied.
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dbFile := filepath.Join(t.TempDir(), "history.db")
	db, err := sql.Open("sqlite3", dbFile+"?_journal_mode=WAL&_busy_timeout=5000")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, SetupSchema(db))
	require.NoError(t, SetupSchema(db), "schema setup is idempotent")

	s, err := NewStore(db)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestBuildLifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	id, err := s.BeginBuild(ctx, "v1.2.0", started)
	require.NoError(t, err)
	assert.Positive(t, id)

	b, err := s.GetBuild(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, b.Status)
	assert.True(t, b.FinishedAt.IsZero())
	assert.Zero(t, b.Duration())

	err = s.FinishBuild(ctx, id, Summary{
		Status:      StatusSucceeded,
		FinishedAt:  started.Add(1500 * time.Millisecond),
		Rendered:    12,
		Skipped:     1,
		Warnings:    3,
		CacheHits:   40,
		CacheMisses: 7,
	})
	require.NoError(t, err)

	b, err = s.GetBuild(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, b.Status)
	assert.Equal(t, "v1.2.0", b.Version)
	assert.Equal(t, 12, b.Rendered)
	assert.Equal(t, 1, b.Skipped)
	assert.Equal(t, uint64(40), b.CacheHits)
	assert.Equal(t, 1500*time.Millisecond, b.Duration())
	assert.True(t, started.Equal(b.StartedAt))

	assert.ErrorIs(t, s.FinishBuild(ctx, id+100, Summary{Status: StatusFailed}), ErrUnknownBuild)
	_, err = s.GetBuild(ctx, id+100)
	assert.ErrorIs(t, err, ErrUnknownBuild)
}

func TestRecentBuilds(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 5; i++ {
		id, err := s.BeginBuild(ctx, "dev", time.Now())
		require.NoError(t, err)
		ids = append(ids, id)
	}

	builds, err := s.RecentBuilds(ctx, 3)
	require.NoError(t, err)
	require.Len(t, builds, 3)
	assert.Equal(t, ids[4], builds[0].ID, "newest first")
	assert.Equal(t, ids[2], builds[2].ID)
}

func TestPageHistory(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id, err := s.BeginBuild(ctx, "dev", time.Now())
		require.NoError(t, err)
		require.NoError(t, s.RecordRender(ctx, Render{
			BuildID: id, URL: "/posts/a/", Format: "html", Template: "_default/single.html",
			Origin: "theme", Status: RenderOK, Bytes: 1000 + i, Duration: 250 * time.Microsecond,
		}))
		require.NoError(t, s.RecordRender(ctx, Render{
			BuildID: id, URL: "/posts/b/", Format: "html", Template: "_default.html",
			Origin: "builtin", Status: RenderSkipped, Error: "render page.html: divide by zero",
		}))
	}

	history, err := s.PageHistory(ctx, "/posts/a/", 10)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, 1002, history[0].Bytes, "newest build first")
	assert.Equal(t, 250*time.Microsecond, history[0].Duration)
	assert.Equal(t, "theme", history[0].Origin)

	history, err = s.PageHistory(ctx, "/posts/b/", 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, RenderSkipped, history[0].Status)
	assert.Contains(t, history[0].Error, "divide by zero")

	history, err = s.PageHistory(ctx, "/nope/", 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestPrune(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		id, err := s.BeginBuild(ctx, "dev", time.Now())
		require.NoError(t, err)
		require.NoError(t, s.RecordRender(ctx, Render{BuildID: id, URL: "/", Format: "html", Template: "home.html", Origin: "builtin", Status: RenderOK}))
	}

	removed, err := s.Prune(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)

	builds, err := s.RecentBuilds(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, builds, 1)
	history, err := s.PageHistory(ctx, "/", 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestConcurrentRecordRender(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	id, err := s.BeginBuild(ctx, "dev", time.Now())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.RecordRender(ctx, Render{BuildID: id, URL: "/same/", Format: "html", Template: "x", Origin: "site", Status: RenderOK}))
		}()
	}
	wg.Wait()

	history, err := s.PageHistory(ctx, "/same/", 100)
	require.NoError(t, err)
	assert.Len(t, history, 8)
}
