package db

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tsmap/internal/timeutil"
)

var epoch = time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)

func newTestDB(t *testing.T) (*DB, *timeutil.MockClock) {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "tsmap.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	clock := timeutil.NewMockClock(epoch)
	db.Clock = clock
	return db, clock
}

// ---------------------------------------------------------------------------
// Migrations
// ---------------------------------------------------------------------------

func TestMigrations(t *testing.T) {
	t.Parallel()
	db, err := OpenDB(filepath.Join(t.TempDir(), "tsmap.db"))
	require.NoError(t, err)
	defer db.Close()
	mfs := MigrationsFS()

	latest, err := LatestMigrationVersion(mfs)
	require.NoError(t, err)
	assert.Equal(t, uint(2), latest)

	st, err := db.Status(mfs)
	require.NoError(t, err)
	assert.True(t, st.Pending())
	assert.Equal(t, "version 0 of 2 (2 pending)", st.String())

	require.NoError(t, db.MigrateUp(mfs))
	require.NoError(t, db.MigrateUp(mfs), "second up is a no-op")
	st, err = db.Status(mfs)
	require.NoError(t, err)
	assert.False(t, st.Pending())
	assert.False(t, st.Dirty)
	assert.Equal(t, "version 2 of 2 (up to date)", st.String())

	require.NoError(t, db.MigrateDown(mfs))
	v, _, err := db.MigrateVersion(mfs)
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name = 'tsmap_peaks'`).Scan(&n))
	assert.Equal(t, 0, n)

	require.NoError(t, db.MigrateForce(mfs, 2))
	v, _, err = db.MigrateVersion(mfs)
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)

	assert.Error(t, db.MigrateUp(nil))
}

func TestMigrationStatus_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "version 3 of 3 (dirty)", MigrationStatus{Current: 3, Latest: 3, Dirty: true}.String())
	assert.Equal(t, "version 4 of 3 (ahead of available migrations)", MigrationStatus{Current: 4, Latest: 3}.String())
}

// ---------------------------------------------------------------------------
// Runs and peaks
// ---------------------------------------------------------------------------

func TestRunLifecycle(t *testing.T) {
	t.Parallel()
	db, clock := newTestDB(t)
	ctx := context.Background()

	r := &Run{Name: "crab", Dataset: "crab.fits", Model: `{"components":[]}`, KernelWidth: 0.2, DownsamplingFactor: 2, EnergyGroups: 3, NX: 100, NY: 80}
	require.NoError(t, db.StartRun(ctx, r))
	require.NotEmpty(t, r.ID)
	assert.Equal(t, StatusRunning, r.Status)

	got, err := db.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "crab", got.Name)
	assert.Equal(t, 2, got.DownsamplingFactor)
	assert.True(t, got.StartedAt.Equal(epoch))
	assert.True(t, got.FinishedAt.IsZero())
	assert.True(t, math.IsNaN(got.MaxTS))

	clock.Advance(42 * time.Second)
	require.NoError(t, db.FinishRun(ctx, r.ID, 123.5, "out/crab.fits", nil))
	got, err = db.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, got.Status)
	assert.Equal(t, 123.5, got.MaxTS)
	assert.Equal(t, "out/crab.fits", got.OutputPath)
	assert.Equal(t, 42*time.Second, got.FinishedAt.Sub(got.StartedAt))

	failed := &Run{Name: "broken", Dataset: "x.fits", Model: "{}"}
	clock.Advance(time.Minute)
	require.NoError(t, db.StartRun(ctx, failed))
	require.NoError(t, db.FinishRun(ctx, failed.ID, math.NaN(), "", errors.New("kernel too large")))

	runs, err := db.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, failed.ID, runs[0].ID, "newest first")
	assert.Equal(t, StatusFailed, runs[0].Status)
	assert.Equal(t, "kernel too large", runs[0].Error)
	assert.True(t, math.IsNaN(runs[0].MaxTS))

	runs, err = db.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	_, err = db.GetRun(ctx, "nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, db.FinishRun(ctx, "nope", 0, "", nil), ErrRunNotFound)
}

func TestPeaks(t *testing.T) {
	t.Parallel()
	db, _ := newTestDB(t)
	ctx := context.Background()

	r := &Run{Name: "crab", Dataset: "crab.fits", Model: "{}"}
	require.NoError(t, db.StartRun(ctx, r))

	peaks := []Peak{
		{Slice: 0, Rank: 0, X: 50, Y: 40, Lon: 83.63, Lat: 22.01, TS: 400, Flux: 2e-11, FluxErr: 1e-12},
		{Slice: 0, Rank: 1, X: 10, Y: 12, Lon: 82.1, Lat: 21.3, TS: 30, Flux: math.NaN(), FluxErr: math.NaN()},
		{Slice: 1, Rank: 0, X: 50, Y: 41, Lon: 83.63, Lat: 22.03, TS: 90},
	}
	require.NoError(t, db.InsertPeaks(ctx, r.ID, peaks))

	got, err := db.ListPeaks(ctx, r.ID, -1)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 400.0, got[0].TS)
	assert.Equal(t, r.ID, got[0].RunID)
	assert.True(t, math.IsNaN(got[1].Flux))
	assert.Equal(t, 1, got[2].Slice)

	got, err = db.ListPeaks(ctx, r.ID, 50)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	// inserting again replaces
	require.NoError(t, db.InsertPeaks(ctx, r.ID, peaks[:1]))
	got, err = db.ListPeaks(ctx, r.ID, -1)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	require.NoError(t, db.DeleteRun(ctx, r.ID))
	got, err = db.ListPeaks(ctx, r.ID, -1)
	require.NoError(t, err)
	assert.Empty(t, got, "peaks cascade with their run")
	assert.ErrorIs(t, db.DeleteRun(ctx, r.ID), ErrRunNotFound)
}

// ---------------------------------------------------------------------------
// Admin routes
// ---------------------------------------------------------------------------

func TestBackup(t *testing.T) {
	t.Parallel()
	db, _ := newTestDB(t)
	ctx := context.Background()
	r := &Run{Name: "crab", Dataset: "crab.fits", Model: "{}"}
	require.NoError(t, db.StartRun(ctx, r))

	path := filepath.Join(t.TempDir(), "backup.db")
	require.NoError(t, db.Backup(path))
	restored, err := OpenDB(path)
	require.NoError(t, err)
	defer restored.Close()
	got, err := restored.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "crab", got.Name)

	rec := httptest.NewRecorder()
	db.serveBackup(rec, httptest.NewRequest(http.MethodGet, "/debug/backup", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "tsmap-")
	zr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("SQLite format 3")))
}

func TestAttachAdminRoutes(t *testing.T) {
	t.Parallel()
	db, _ := newTestDB(t)
	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))
}
