package cleanup_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cinepipe/cinepipe/internal/cleanup"
	"github.com/cinepipe/cinepipe/internal/storage"
)

type memRepo struct {
	records []storage.DownloadRecord
	deleted []int64
}

func (r *memRepo) FindByIMDBID(imdbID string) (*storage.DownloadRecord, error) {
	return nil, storage.ErrNotFound
}

func (r *memRepo) FindByID(id int64) (*storage.DownloadRecord, error) {
	return nil, storage.ErrNotFound
}

func (r *memRepo) Create(record *storage.DownloadRecord) error { return nil }
func (r *memRepo) Save(record *storage.DownloadRecord) error   { return nil }

func (r *memRepo) Touch(imdbID string, at time.Time) error { return nil }

func (r *memRepo) GetDownloads() ([]storage.DownloadRecord, error) { return r.records, nil }

func (r *memRepo) Delete(id int64) error {
	r.deleted = append(r.deleted, id)

	return nil
}

type fakeRemover struct {
	removed [][]int64
}

func (f *fakeRemover) Remove(ctx context.Context, ids []int64, deleteLocalData bool) error {
	f.removed = append(f.removed, ids)

	return nil
}

func writeFile(t *testing.T, path string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestSweep_ReclaimsExpiredDownloads(t *testing.T) {
	downloadsDir := t.TempDir()
	hlsDir := t.TempDir()

	mediaPath := filepath.Join(downloadsDir, "The.Matrix.1999.mkv")
	writeFile(t, mediaPath)
	writeFile(t, filepath.Join(hlsDir, "tt0133093", "playlist.m3u8"))

	repo := &memRepo{records: []storage.DownloadRecord{{
		ID:             1,
		IMDBID:         "tt0133093",
		DaemonID:       7,
		Status:         storage.StatusCompleted,
		FilePath:       mediaPath,
		LastAccessedAt: time.Now().Add(-48 * time.Hour),
	}}}
	remover := &fakeRemover{}

	sweeper := cleanup.NewSweeper(repo, remover, hlsDir, 24*time.Hour)
	require.NoError(t, sweeper.Sweep(context.Background()))

	assert.NoFileExists(t, mediaPath)
	assert.NoDirExists(t, filepath.Join(hlsDir, "tt0133093"))
	assert.Equal(t, [][]int64{{7}}, remover.removed)
	assert.Equal(t, []int64{1}, repo.deleted)
}

func TestSweep_KeepsRecentlyWatched(t *testing.T) {
	downloadsDir := t.TempDir()
	hlsDir := t.TempDir()

	mediaPath := filepath.Join(downloadsDir, "The.Matrix.1999.mkv")
	writeFile(t, mediaPath)

	repo := &memRepo{records: []storage.DownloadRecord{{
		ID:             1,
		IMDBID:         "tt0133093",
		Status:         storage.StatusCompleted,
		FilePath:       mediaPath,
		LastAccessedAt: time.Now().Add(-time.Hour),
	}}}
	remover := &fakeRemover{}

	sweeper := cleanup.NewSweeper(repo, remover, hlsDir, 24*time.Hour)
	require.NoError(t, sweeper.Sweep(context.Background()))

	assert.FileExists(t, mediaPath)
	assert.Empty(t, remover.removed)
	assert.Empty(t, repo.deleted)
}

func TestSweep_SkipsActiveDownloads(t *testing.T) {
	downloadsDir := t.TempDir()
	hlsDir := t.TempDir()

	mediaPath := filepath.Join(downloadsDir, "The.Matrix.1999.mkv")
	writeFile(t, mediaPath)

	repo := &memRepo{records: []storage.DownloadRecord{{
		ID:             1,
		IMDBID:         "tt0133093",
		Status:         storage.StatusDownloading,
		FilePath:       mediaPath,
		LastAccessedAt: time.Now().Add(-72 * time.Hour),
	}}}
	remover := &fakeRemover{}

	sweeper := cleanup.NewSweeper(repo, remover, hlsDir, 24*time.Hour)
	require.NoError(t, sweeper.Sweep(context.Background()))

	assert.FileExists(t, mediaPath)
	assert.Empty(t, repo.deleted)
}
