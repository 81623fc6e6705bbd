package db

import (
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/nanofit/internal/catalogue"
	"github.com/banshee-data/nanofit/internal/evaluate"
	"github.com/banshee-data/nanofit/internal/fit"
	"github.com/banshee-data/nanofit/internal/monitoring"
)

func init() {
	monitoring.SetLogger(nil)
}

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPragmasApplied(t *testing.T) {
	db := newTestDB(t)

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("Failed to query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("Expected journal_mode=wal, got %s", journalMode)
	}

	var busyTimeout int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout); err != nil {
		t.Fatalf("Failed to query busy_timeout: %v", err)
	}
	if busyTimeout != 5000 {
		t.Errorf("Expected busy_timeout=5000, got %d", busyTimeout)
	}

	var foreignKeys int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys); err != nil {
		t.Fatalf("Failed to query foreign_keys: %v", err)
	}
	if foreignKeys != 1 {
		t.Errorf("Expected foreign_keys=1, got %d", foreignKeys)
	}
}

func TestMigrations(t *testing.T) {
	db := newTestDB(t)
	migrations, err := MigrationsFS()
	require.NoError(t, err)

	version, dirty, err := db.MigrateVersion(migrations)
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	// Re-running is a no-op.
	require.NoError(t, db.MigrateUp(migrations))

	require.NoError(t, db.MigrateDown(migrations))
	version, _, err = db.MigrateVersion(migrations)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	var n int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='candidate_fits'`).Scan(&n)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, db.MigrateUp(migrations))
	version, _, err = db.MigrateVersion(migrations)
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)

	_, err = db.newMigrate(nil)
	assert.Error(t, err)
}

func TestRuns(t *testing.T) {
	db := newTestDB(t)
	seed := uint64(42)
	run := &FitRun{StructurePath: "parent.xyz", DataPath: "data.gr", Seed: &seed}
	require.NoError(t, db.CreateRun(run))
	assert.Len(t, run.RunID, 36)
	assert.False(t, run.StartedAt.IsZero())

	got, err := db.GetRun(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, "parent.xyz", got.StructurePath)
	assert.Equal(t, "{}", got.ConfigJSON)
	require.NotNil(t, got.Seed)
	assert.Equal(t, uint64(42), *got.Seed)
	assert.Nil(t, got.CompletedAt)
	assert.Equal(t, run.StartedAt.UnixNano(), got.StartedAt.UnixNano())

	done := time.Now()
	require.NoError(t, db.CompleteRun(run.RunID, done))
	got, err = db.GetRun(run.RunID)
	require.NoError(t, err)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, done.UnixNano(), got.CompletedAt.UnixNano())

	other := &FitRun{StructurePath: "b.xyz", DataPath: "b.gr", StartedAt: run.StartedAt.Add(time.Hour)}
	require.NoError(t, db.CreateRun(other))
	runs, err := db.ListRuns()
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, other.RunID, runs[0].RunID)
	assert.Nil(t, runs[0].Seed)

	_, err = db.GetRun("missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(db.CompleteRun("missing", done), ErrNotFound))
}

func TestCandidateFits(t *testing.T) {
	db := newTestDB(t)
	run := &FitRun{StructurePath: "p.xyz", DataPath: "d.gr"}
	require.NoError(t, db.CreateRun(run))

	spec := fit.Spec{Parameters: []fit.Parameter{{Name: "scale", Value: 1.5}}}
	outcomes := []*evaluate.Outcome{
		{Index: 0, Vector: catalogue.OccupancyVector{2, 1, 1, 0}, MetalCount: 2, NonMetalCount: 4, RFactor: 0.3, Status: "ok"},
		{Index: 1, Vector: catalogue.OccupancyVector{0, 0, 0, 0}, Status: "degenerate", Err: errors.New("degenerate structure")},
		{Index: 2, Vector: catalogue.OccupancyVector{1, 0, 0, 1}, MetalCount: 1, NonMetalCount: 2, RFactor: 0.1, Status: "ok",
			Result: &fit.Result{Parameters: spec}},
	}
	for _, o := range outcomes {
		require.NoError(t, db.RecordOutcome(run.RunID, o))
	}

	all, err := db.CandidateFits(run.RunID)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, catalogue.OccupancyVector{2, 1, 1, 0}, all[0].Occupancy)
	assert.Nil(t, all[1].RFactor)
	assert.Equal(t, "degenerate structure", all[1].Error)
	assert.JSONEq(t, `{"scale":1.5}`, all[2].ParamsJSON)

	best, err := db.BestCandidates(run.RunID, 5)
	require.NoError(t, err)
	require.Len(t, best, 2)
	assert.Equal(t, 2, best[0].CandidateIndex)
	assert.InDelta(t, 0.1, *best[0].RFactor, 1e-12)

	counts, err := db.StatusCounts(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"ok": 2, "degenerate": 1}, counts)

	// Re-recording an index replaces it.
	outcomes[0].RFactor = 0.05
	require.NoError(t, db.RecordOutcome(run.RunID, outcomes[0]))
	best, err = db.BestCandidates(run.RunID, 1)
	require.NoError(t, err)
	require.Len(t, best, 1)
	assert.Equal(t, 0, best[0].CandidateIndex)

	// Candidates must belong to an existing run.
	err = db.RecordOutcome("no-such-run", outcomes[0])
	assert.Error(t, err)
}

func TestRetryOnBusy(t *testing.T) {
	calls := 0
	err := retryOnBusy(3, func() error {
		calls++
		if calls < 2 {
			return errors.New("database is locked (5) (SQLITE_BUSY)")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)

	calls = 0
	boom := errors.New("constraint failed")
	assert.ErrorIs(t, retryOnBusy(3, func() error { calls++; return boom }), boom)
	assert.Equal(t, 1, calls)
	assert.False(t, isBusy(nil))
}

func TestAttachAdminRoutes(t *testing.T) {
	db := newTestDB(t)
	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	for _, path := range []string{"/debug/", "/debug/tailsql/", "/debug/backup"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)
		// Might be 403 from the debug access check, but never unregistered.
		if w.Code == http.StatusNotFound {
			t.Errorf("Route %s should be registered, got 404", path)
		}
	}
}

func TestHandleBackup(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.CreateRun(&FitRun{StructurePath: "p", DataPath: "d"}))

	w := httptest.NewRecorder()
	db.handleBackup(w, httptest.NewRequest(http.MethodGet, "/debug/backup", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/gzip", w.Header().Get("Content-Type"))

	gz, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	data, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Equal(t, "SQLite format 3\x00", string(data[:16]))
}
