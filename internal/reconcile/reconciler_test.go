package reconcile_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cinepipe/cinepipe/internal/daemon"
	"github.com/cinepipe/cinepipe/internal/reconcile"
	"github.com/cinepipe/cinepipe/internal/storage"
	"github.com/cinepipe/cinepipe/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRepo struct {
	mu      sync.Mutex
	records map[int64]storage.DownloadRecord
	saves   int
}

func newMemRepo() *memRepo {
	return &memRepo{records: make(map[int64]storage.DownloadRecord)}
}

func (r *memRepo) FindByIMDBID(imdbID string) (*storage.DownloadRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range r.records {
		if rec.IMDBID == imdbID {
			copied := rec

			return &copied, nil
		}
	}

	return nil, storage.ErrNotFound
}

func (r *memRepo) FindByID(id int64) (*storage.DownloadRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, storage.ErrNotFound
	}

	copied := rec

	return &copied, nil
}

func (r *memRepo) Create(record *storage.DownloadRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record.ID = int64(len(r.records) + 1)
	r.records[record.ID] = *record

	return nil
}

func (r *memRepo) Save(record *storage.DownloadRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.saves++
	r.records[record.ID] = *record

	return nil
}

func (r *memRepo) Touch(imdbID string, at time.Time) error { return nil }

func (r *memRepo) GetDownloads() ([]storage.DownloadRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []storage.DownloadRecord
	for _, rec := range r.records {
		out = append(out, rec)
	}

	return out, nil
}

func (r *memRepo) Delete(id int64) error { return nil }

func (r *memRepo) saveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.saves
}

type pollStep struct {
	snapshot *daemon.ProgressSnapshot
	err      error
}

type scriptedQuerier struct {
	mu    sync.Mutex
	steps []pollStep
	calls int
}

func (q *scriptedQuerier) Progress(ctx context.Context, hash string) (*daemon.ProgressSnapshot, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	step := q.steps[0]
	if len(q.steps) > 1 {
		q.steps = q.steps[1:]
	}

	q.calls++

	return step.snapshot, step.err
}

func (q *scriptedQuerier) callCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.calls
}

func snapshot(percent float64, files ...string) *daemon.ProgressSnapshot {
	status := daemon.StatusDownloading
	if percent >= 100 {
		status = daemon.StatusSeeding
	}

	return &daemon.ProgressSnapshot{
		Hash:            "abc",
		Percent:         percent,
		Status:          status,
		DownloadedBytes: int64(percent * 1e7),
		TotalBytes:      1e9,
		Files:           files,
	}
}

func newReconciler(repo storage.DownloadRepository, q reconcile.Querier, maxFailures int) *reconcile.Reconciler {
	return reconcile.NewReconciler(context.Background(), repo, q, &telemetry.Telemetry{},
		"/downloads", 5*time.Millisecond, 10*time.Millisecond, maxFailures)
}

func trackedRecord(t *testing.T, repo *memRepo) *storage.DownloadRecord {
	t.Helper()

	record := &storage.DownloadRecord{
		IMDBID:      "tt0133093",
		TorrentHash: "abc",
		Status:      storage.StatusPending,
	}
	require.NoError(t, repo.Create(record))

	return record
}

func TestTrack_PollsUntilCompletion(t *testing.T) {
	repo := newMemRepo()
	record := trackedRecord(t, repo)

	querier := &scriptedQuerier{steps: []pollStep{
		{snapshot: snapshot(10, "Some.Movie.2020/cover.jpg", "Some.Movie.2020/Some.Movie.2020.MKV")},
		{snapshot: snapshot(55, "Some.Movie.2020/Some.Movie.2020.MKV")},
		{snapshot: snapshot(100, "Some.Movie.2020/Some.Movie.2020.MKV")},
	}}

	r := newReconciler(repo, querier, 0)
	r.Track(context.Background(), record)

	select {
	case completed := <-r.OnDownloadCompleted:
		assert.Equal(t, storage.StatusCompleted, completed.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion event")
	}

	rec, err := repo.FindByID(record.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusCompleted, rec.Status)
	assert.Equal(t, float64(100), rec.Progress)
	assert.Equal(t, filepath.Join("/downloads", "Some.Movie.2020/Some.Movie.2020.MKV"), rec.FilePath)
	assert.GreaterOrEqual(t, repo.saveCount(), 3)
}

func TestTrack_LookupFailureBacksOffWithoutStateChange(t *testing.T) {
	repo := newMemRepo()
	record := trackedRecord(t, repo)

	querier := &scriptedQuerier{steps: []pollStep{
		{snapshot: snapshot(40)},
		{err: errors.New("connection refused")},
		{snapshot: nil}, // daemon forgot the hash
		{snapshot: snapshot(100)},
	}}

	r := newReconciler(repo, querier, 0)
	r.Track(context.Background(), record)

	select {
	case <-r.OnDownloadCompleted:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion event")
	}

	// Two failed polls in the script, each answered by a reschedule only:
	// 4 polls, 2 persisted snapshots.
	assert.Equal(t, 2, repo.saveCount())

	rec, err := repo.FindByID(record.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusCompleted, rec.Status)
	assert.Empty(t, rec.Error)
}

func TestTrack_MaxFailuresMarksFailed(t *testing.T) {
	repo := newMemRepo()
	record := trackedRecord(t, repo)

	querier := &scriptedQuerier{steps: []pollStep{
		{err: errors.New("connection refused")},
	}}

	r := newReconciler(repo, querier, 3)
	r.Track(context.Background(), record)

	require.Eventually(t, func() bool {
		rec, err := repo.FindByID(record.ID)

		return err == nil && rec.Status == storage.StatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	rec, err := repo.FindByID(record.ID)
	require.NoError(t, err)
	assert.Contains(t, rec.Error, "3 consecutive")
	assert.Equal(t, 3, querier.callCount())
}

func TestTrack_SameRecordTrackedOnce(t *testing.T) {
	repo := newMemRepo()
	record := trackedRecord(t, repo)

	querier := &scriptedQuerier{steps: []pollStep{
		{snapshot: snapshot(100)},
	}}

	r := newReconciler(repo, querier, 0)
	r.Track(context.Background(), record)
	r.Track(context.Background(), record)

	select {
	case <-r.OnDownloadCompleted:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion event")
	}

	assert.Equal(t, 1, querier.callCount())
}

func TestTrack_SurvivesCallerContextCancellation(t *testing.T) {
	repo := newMemRepo()
	record := trackedRecord(t, repo)

	querier := &scriptedQuerier{steps: []pollStep{
		{snapshot: snapshot(10)},
		{snapshot: snapshot(55)},
		{snapshot: snapshot(100)},
	}}

	r := newReconciler(repo, querier, 0)

	// Tracking usually starts inside an HTTP handler whose context dies as
	// soon as the response is written. The poll task must not die with it.
	callerCtx, cancel := context.WithCancel(context.Background())
	r.Track(callerCtx, record)
	cancel()

	select {
	case completed := <-r.OnDownloadCompleted:
		assert.Equal(t, storage.StatusCompleted, completed.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion event")
	}

	assert.GreaterOrEqual(t, querier.callCount(), 3)
}

func TestTrack_StopsOnShutdown(t *testing.T) {
	repo := newMemRepo()
	record := trackedRecord(t, repo)

	querier := &scriptedQuerier{steps: []pollStep{
		{snapshot: snapshot(10)},
	}}

	baseCtx, shutdown := context.WithCancel(context.Background())
	r := reconcile.NewReconciler(baseCtx, repo, querier, &telemetry.Telemetry{},
		"/downloads", 5*time.Millisecond, 10*time.Millisecond, 0)

	r.Track(context.Background(), record)

	require.Eventually(t, func() bool {
		return querier.callCount() >= 1
	}, 2*time.Second, time.Millisecond)

	shutdown()
	time.Sleep(20 * time.Millisecond)

	polled := querier.callCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, polled, querier.callCount())
}

func TestResume_SkipsTerminalRecords(t *testing.T) {
	repo := newMemRepo()

	done := &storage.DownloadRecord{IMDBID: "tt1", TorrentHash: "h1", Status: storage.StatusCompleted}
	require.NoError(t, repo.Create(done))

	failed := &storage.DownloadRecord{IMDBID: "tt2", TorrentHash: "h2", Status: storage.StatusFailed}
	require.NoError(t, repo.Create(failed))

	active := &storage.DownloadRecord{IMDBID: "tt3", TorrentHash: "h3", Status: storage.StatusDownloading}
	require.NoError(t, repo.Create(active))

	querier := &scriptedQuerier{steps: []pollStep{
		{snapshot: snapshot(100)},
	}}

	r := newReconciler(repo, querier, 0)
	require.NoError(t, r.Resume(context.Background()))

	select {
	case completed := <-r.OnDownloadCompleted:
		assert.Equal(t, "tt3", completed.IMDBID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion event")
	}
}
