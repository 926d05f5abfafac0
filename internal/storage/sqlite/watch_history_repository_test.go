package sqlite_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cinepipe/cinepipe/internal/storage"
	"github.com/cinepipe/cinepipe/internal/storage/sqlite"
)

func newHistoryRepo(t *testing.T) *sqlite.WatchHistoryRepository {
	t.Helper()

	db, err := sqlite.InitDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return sqlite.NewWatchHistoryRepository(db)
}

func TestWatchHistoryRepository_UpsertInsertsThenUpdates(t *testing.T) {
	repo := newHistoryRepo(t)

	require.NoError(t, repo.Upsert(&storage.WatchHistory{
		UserID:          3,
		IMDBID:          "tt0133093",
		MovieTitle:      "The Matrix",
		ProgressSeconds: 600,
		DurationSeconds: 8160,
		Watched:         true,
	}))

	found, err := repo.Find(3, "tt0133093")
	require.NoError(t, err)
	assert.Equal(t, int64(600), found.ProgressSeconds)
	assert.True(t, found.Watched)
	assert.False(t, found.Completed)

	require.NoError(t, repo.Upsert(&storage.WatchHistory{
		UserID:          3,
		IMDBID:          "tt0133093",
		MovieTitle:      "The Matrix",
		ProgressSeconds: 7400,
		DurationSeconds: 8160,
		Watched:         true,
		Completed:       true,
	}))

	found, err = repo.Find(3, "tt0133093")
	require.NoError(t, err)
	assert.Equal(t, int64(7400), found.ProgressSeconds)
	assert.True(t, found.Completed)
}

func TestWatchHistoryRepository_PerUserRows(t *testing.T) {
	repo := newHistoryRepo(t)

	require.NoError(t, repo.Upsert(&storage.WatchHistory{UserID: 1, IMDBID: "tt0133093", ProgressSeconds: 100}))
	require.NoError(t, repo.Upsert(&storage.WatchHistory{UserID: 2, IMDBID: "tt0133093", ProgressSeconds: 900}))

	first, err := repo.Find(1, "tt0133093")
	require.NoError(t, err)
	assert.Equal(t, int64(100), first.ProgressSeconds)

	second, err := repo.Find(2, "tt0133093")
	require.NoError(t, err)
	assert.Equal(t, int64(900), second.ProgressSeconds)
}

func TestWatchHistoryRepository_FindMissing(t *testing.T) {
	repo := newHistoryRepo(t)

	_, err := repo.Find(1, "tt0000000")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
