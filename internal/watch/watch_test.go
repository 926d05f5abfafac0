package watch_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cinepipe/cinepipe/internal/daemon"
	"github.com/cinepipe/cinepipe/internal/metadata/omdb"
	"github.com/cinepipe/cinepipe/internal/resolver"
	"github.com/cinepipe/cinepipe/internal/storage"
	"github.com/cinepipe/cinepipe/internal/watch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMetadata struct {
	movies map[string]*omdb.Movie
}

func (f *fakeMetadata) ByIMDBID(ctx context.Context, imdbID string) (*omdb.Movie, error) {
	movie, ok := f.movies[imdbID]
	if !ok {
		return nil, omdb.ErrNotFound
	}

	return movie, nil
}

type fakeIndex struct {
	candidates []resolver.Candidate
}

func (f *fakeIndex) Candidates(ctx context.Context, imdbID, titleHint string) []resolver.Candidate {
	return f.candidates
}

type fakeDaemon struct {
	addResult daemon.AddResult
	addedURLs []string
}

func (f *fakeDaemon) Add(ctx context.Context, url, downloadDir string) daemon.AddResult {
	f.addedURLs = append(f.addedURLs, url)

	return f.addResult
}

func (f *fakeDaemon) AddMetainfo(ctx context.Context, metainfo []byte, filename, downloadDir string) daemon.AddResult {
	return f.addResult
}

func (f *fakeDaemon) Progress(ctx context.Context, hash string) (*daemon.ProgressSnapshot, error) {
	return nil, nil
}

func (f *fakeDaemon) Remove(ctx context.Context, ids []int64, deleteLocalData bool) error {
	return nil
}

type fakeDownloadRepo struct {
	mu      sync.Mutex
	records map[string]*storage.DownloadRecord
}

func newFakeDownloadRepo() *fakeDownloadRepo {
	return &fakeDownloadRepo{records: make(map[string]*storage.DownloadRecord)}
}

func (r *fakeDownloadRepo) FindByIMDBID(imdbID string) (*storage.DownloadRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[imdbID]
	if !ok {
		return nil, storage.ErrNotFound
	}

	copied := *rec

	return &copied, nil
}

func (r *fakeDownloadRepo) FindByID(id int64) (*storage.DownloadRecord, error) {
	return nil, storage.ErrNotFound
}

func (r *fakeDownloadRepo) Create(record *storage.DownloadRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record.ID = int64(len(r.records) + 1)
	copied := *record
	r.records[record.IMDBID] = &copied

	return nil
}

func (r *fakeDownloadRepo) Save(record *storage.DownloadRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *record
	r.records[record.IMDBID] = &copied

	return nil
}

func (r *fakeDownloadRepo) Touch(imdbID string, at time.Time) error { return nil }

func (r *fakeDownloadRepo) GetDownloads() ([]storage.DownloadRecord, error) { return nil, nil }

func (r *fakeDownloadRepo) Delete(id int64) error { return nil }

type fakeHistoryRepo struct {
	histories map[string]*storage.WatchHistory
}

func newFakeHistoryRepo() *fakeHistoryRepo {
	return &fakeHistoryRepo{histories: make(map[string]*storage.WatchHistory)}
}

func (r *fakeHistoryRepo) Find(userID int64, imdbID string) (*storage.WatchHistory, error) {
	h, ok := r.histories[imdbID]
	if !ok || h.UserID != userID {
		return nil, storage.ErrNotFound
	}

	copied := *h

	return &copied, nil
}

func (r *fakeHistoryRepo) Upsert(h *storage.WatchHistory) error {
	copied := *h
	r.histories[h.IMDBID] = &copied

	return nil
}

type fakeTracker struct {
	tracked []*storage.DownloadRecord
}

func (f *fakeTracker) Track(ctx context.Context, record *storage.DownloadRecord) {
	f.tracked = append(f.tracked, record)
}

func matrixMetadata() *fakeMetadata {
	return &fakeMetadata{movies: map[string]*omdb.Movie{
		"tt0133093": {Title: "The Matrix", Year: "1999", IMDBID: "tt0133093"},
	}}
}

func TestWatch_StartsDownload(t *testing.T) {
	repo := newFakeDownloadRepo()
	history := newFakeHistoryRepo()
	tracker := &fakeTracker{}
	dc := &fakeDaemon{addResult: daemon.AddResult{
		Success: true, ID: 9, Hash: "abc123", Name: "The Matrix 1999",
	}}

	index := &fakeIndex{candidates: []resolver.Candidate{
		{Quality: "1080p", Seeders: 50, Hash: "abc123", URL: "http://index/t/abc123", Title: "The Matrix"},
	}}

	svc := watch.NewService(matrixMetadata(), index, dc, repo, history, tracker, "/downloads")

	result, err := svc.Watch(context.Background(), 1, "tt0133093")
	require.NoError(t, err)

	assert.Equal(t, watch.StatusDownloadStarted, result.Status)
	assert.Equal(t, "The Matrix", result.Movie.Title)
	require.NotNil(t, result.Download)
	assert.Equal(t, "abc123", result.Download.TorrentHash)
	assert.Equal(t, int64(9), result.Download.DaemonID)
	assert.Equal(t, storage.StatusPending, result.Download.Status)

	require.Len(t, tracker.tracked, 1)
	require.Len(t, dc.addedURLs, 1)
	assert.Contains(t, dc.addedURLs[0], "magnet:?xt=urn:btih:abc123")
	assert.Contains(t, dc.addedURLs[0], "dn=The+Matrix")

	stored, err := repo.FindByIMDBID("tt0133093")
	require.NoError(t, err)
	assert.Equal(t, "The Matrix", stored.MovieTitle)
}

func TestWatch_ExistingRecordShortCircuits(t *testing.T) {
	repo := newFakeDownloadRepo()
	require.NoError(t, repo.Create(&storage.DownloadRecord{
		IMDBID: "tt0133093", Status: storage.StatusDownloading, Progress: 33,
	}))

	tracker := &fakeTracker{}
	dc := &fakeDaemon{}

	svc := watch.NewService(matrixMetadata(), &fakeIndex{}, dc, repo, newFakeHistoryRepo(), tracker, "/downloads")

	result, err := svc.Watch(context.Background(), 1, "tt0133093")
	require.NoError(t, err)

	assert.Equal(t, watch.StatusAlreadyDownloading, result.Status)
	require.NotNil(t, result.Download)
	assert.Equal(t, float64(33), result.Download.Progress)
	assert.Empty(t, tracker.tracked)
	assert.Empty(t, dc.addedURLs)
}

func TestWatch_NoTorrentsFound(t *testing.T) {
	svc := watch.NewService(matrixMetadata(), &fakeIndex{}, &fakeDaemon{},
		newFakeDownloadRepo(), newFakeHistoryRepo(), &fakeTracker{}, "/downloads")

	result, err := svc.Watch(context.Background(), 1, "tt0133093")
	require.NoError(t, err)

	assert.Equal(t, watch.StatusNoTorrentsFound, result.Status)
	assert.Nil(t, result.Download)
}

func TestWatch_TorrentAddFailedCreatesNoRecord(t *testing.T) {
	repo := newFakeDownloadRepo()
	dc := &fakeDaemon{addResult: daemon.AddResult{Error: "daemon unreachable"}}

	index := &fakeIndex{candidates: []resolver.Candidate{
		{Quality: "720p", Seeders: 3, Hash: "abc", URL: "http://index/t/abc"},
	}}

	svc := watch.NewService(matrixMetadata(), index, dc, repo, newFakeHistoryRepo(), &fakeTracker{}, "/downloads")

	result, err := svc.Watch(context.Background(), 1, "tt0133093")
	require.NoError(t, err)

	assert.Equal(t, watch.StatusTorrentAddFailed, result.Status)

	_, err = repo.FindByIMDBID("tt0133093")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestWatch_UnknownMovie(t *testing.T) {
	svc := watch.NewService(matrixMetadata(), &fakeIndex{}, &fakeDaemon{},
		newFakeDownloadRepo(), newFakeHistoryRepo(), &fakeTracker{}, "/downloads")

	_, err := svc.Watch(context.Background(), 1, "tt7777777")
	assert.ErrorIs(t, err, watch.ErrMovieNotFound)
}

func TestSaveProgress_CompletionThreshold(t *testing.T) {
	tests := []struct {
		name            string
		progressSeconds int64
		durationSeconds int64
		expectCompleted bool
	}{
		{"below threshold", 5000, 6000, false},
		{"exactly 90 percent", 5400, 6000, true},
		{"above threshold", 5990, 6000, true},
		{"no known duration", 5400, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			history := newFakeHistoryRepo()
			svc := watch.NewService(matrixMetadata(), &fakeIndex{}, &fakeDaemon{},
				newFakeDownloadRepo(), history, &fakeTracker{}, "/downloads")

			require.NoError(t, svc.SaveProgress(context.Background(), 1, "tt0133093", tt.progressSeconds, tt.durationSeconds))

			saved, err := history.Find(1, "tt0133093")
			require.NoError(t, err)
			assert.Equal(t, tt.expectCompleted, saved.Completed)
			assert.True(t, saved.Watched)
			assert.Equal(t, tt.progressSeconds, saved.ProgressSeconds)
		})
	}
}

func TestSaveProgress_KeepsKnownDuration(t *testing.T) {
	history := newFakeHistoryRepo()
	svc := watch.NewService(matrixMetadata(), &fakeIndex{}, &fakeDaemon{},
		newFakeDownloadRepo(), history, &fakeTracker{}, "/downloads")

	require.NoError(t, svc.SaveProgress(context.Background(), 1, "tt0133093", 100, 6000))
	require.NoError(t, svc.SaveProgress(context.Background(), 1, "tt0133093", 5500, 0))

	saved, err := history.Find(1, "tt0133093")
	require.NoError(t, err)
	assert.Equal(t, int64(6000), saved.DurationSeconds)
	assert.True(t, saved.Completed)
}
