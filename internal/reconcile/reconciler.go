package reconcile

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"runtime/debug"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/cinepipe/cinepipe/internal/daemon"
	"github.com/cinepipe/cinepipe/internal/logctx"
	"github.com/cinepipe/cinepipe/internal/storage"
	"github.com/cinepipe/cinepipe/internal/telemetry"
)

var videoFileRe = regexp.MustCompile(`(?i)\.(mp4|mkv|avi|mov)$`)

// Querier is the slice of the daemon boundary the reconciler needs.
type Querier interface {
	Progress(ctx context.Context, hash string) (*daemon.ProgressSnapshot, error)
}

// Reconciler drives one poll task per tracked download. Polls for a record
// are serialized inside its task; tasks for different records run
// concurrently.
type Reconciler struct {
	repo      storage.DownloadRepository
	daemon    Querier
	telemetry *telemetry.Telemetry

	// baseCtx bounds every poll task. Tasks are often started from short-lived
	// request contexts, so they must outlive the caller and die only with the
	// process.
	baseCtx context.Context

	downloadsDir    string
	pollInterval    time.Duration
	backoffInterval time.Duration
	maxFailures     int

	mu    sync.Mutex
	tasks map[string]struct{}

	OnDownloadCompleted chan *storage.DownloadRecord
}

func NewReconciler(baseCtx context.Context, repo storage.DownloadRepository, querier Querier, tel *telemetry.Telemetry,
	downloadsDir string, pollInterval, backoffInterval time.Duration, maxFailures int,
) *Reconciler {
	return &Reconciler{
		repo:            repo,
		daemon:          querier,
		telemetry:       tel,
		baseCtx:         baseCtx,
		downloadsDir:    downloadsDir,
		pollInterval:    pollInterval,
		backoffInterval: backoffInterval,
		maxFailures:     maxFailures,

		tasks: make(map[string]struct{}),

		OnDownloadCompleted: make(chan *storage.DownloadRecord, 16),
	}
}

// Resume picks up every non-terminal record after a restart.
func (r *Reconciler) Resume(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	records, err := r.repo.GetDownloads()
	if err != nil {
		return fmt.Errorf("failed to load downloads for resume: %w", err)
	}

	resumed := 0

	for i := range records {
		if records[i].IsTerminal() {
			continue
		}

		record := records[i]
		r.Track(ctx, &record)

		resumed++
	}

	logger.Info("resumed download reconciliation", "task_count", resumed)

	return nil
}

// Track starts the poll task for a record. A record already being tracked is
// left alone, so calling this twice never doubles the polling.
func (r *Reconciler) Track(ctx context.Context, record *storage.DownloadRecord) {
	logger := logctx.LoggerFromContext(ctx).With("imdb_id", record.IMDBID, "torrent_hash", record.TorrentHash)

	r.mu.Lock()
	if _, tracked := r.tasks[record.IMDBID]; tracked {
		r.mu.Unlock()
		logger.Debug("record already tracked")

		return
	}

	r.tasks[record.IMDBID] = struct{}{}
	r.mu.Unlock()

	r.telemetry.IncrementActiveDownloads()

	// Detach from the caller's context: a poll task started from an HTTP
	// request has to keep running long after the response is written. Only the
	// request-scoped logger carries over.
	taskCtx := logctx.WithLogger(r.baseCtx, logctx.LoggerFromContext(ctx))

	go func() {
		defer func() {
			r.mu.Lock()
			delete(r.tasks, record.IMDBID)
			r.mu.Unlock()

			r.telemetry.DecrementActiveDownloads()
		}()

		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("reconcile task panic",
					"panic", rec,
					"stack", string(debug.Stack()))
			}
		}()

		r.pollLoop(taskCtx, record)
	}()
}

// pollLoop owns the record until it reaches a terminal state or the context
// is cancelled. The timer is reset after each poll so failures stretch the
// cadence without stacking ticks.
func (r *Reconciler) pollLoop(ctx context.Context, record *storage.DownloadRecord) {
	logger := logctx.LoggerFromContext(ctx).With("imdb_id", record.IMDBID, "torrent_hash", record.TorrentHash)

	timer := time.NewTimer(r.pollInterval)
	defer timer.Stop()

	failures := 0

	for {
		select {
		case <-ctx.Done():
			logger.Info("reconcile task shutdown", "reason", "context_cancelled")

			return
		case <-timer.C:
			snapshot, err := r.daemon.Progress(ctx, record.TorrentHash)
			if err != nil || snapshot == nil {
				failures++

				r.telemetry.RecordPoll("failure")

				if err != nil {
					logger.Warn("progress lookup failed", "attempt", failures, "err", err)
				} else {
					logger.Warn("daemon no longer knows torrent", "attempt", failures)
				}

				if r.maxFailures > 0 && failures >= r.maxFailures {
					r.fail(ctx, record, failures)

					return
				}

				// No state change on a failed poll, only a slower retry.
				timer.Reset(r.backoffInterval)

				continue
			}

			failures = 0

			r.telemetry.RecordPoll("success")
			r.apply(ctx, record, snapshot)

			if record.IsTerminal() {
				logger.Info("download finished", "status", record.Status, "file_path", record.FilePath)

				select {
				case r.OnDownloadCompleted <- record:
				default:
					logger.Warn("completion event dropped, channel full")
				}

				return
			}

			timer.Reset(r.pollInterval)
		}
	}
}

// apply folds one daemon snapshot into the record and persists it. Writes
// are idempotent, so repeating a poll after a crash is harmless.
func (r *Reconciler) apply(ctx context.Context, record *storage.DownloadRecord, snapshot *daemon.ProgressSnapshot) {
	logger := logctx.LoggerFromContext(ctx).With("imdb_id", record.IMDBID)

	record.Progress = snapshot.Percent
	record.DownloadedBytes = snapshot.DownloadedBytes
	record.TotalBytes = snapshot.TotalBytes
	record.DownloadRate = snapshot.DownloadRate
	record.Seeders = snapshot.Seeders
	record.Leechers = snapshot.Peers

	switch {
	case snapshot.Done():
		record.Status = storage.StatusCompleted
		record.Progress = 100
	case snapshot.Percent > 0:
		record.Status = storage.StatusDownloading
	}

	if name := findVideoFile(snapshot.Files); name != "" {
		// File paths in snapshots are relative to the daemon's download dir.
		if path := filepath.Join(r.downloadsDir, name); path != record.FilePath {
			record.FilePath = path

			logger.Info("discovered media file", "file_path", path)
		}
	}

	if err := r.repo.Save(record); err != nil {
		logger.Error("failed to persist progress", "err", err)

		return
	}

	logger.Debug("progress reconciled",
		"progress", record.Progress,
		"status", record.Status,
		"downloaded", humanize.Bytes(uint64(record.DownloadedBytes)),
		"total", humanize.Bytes(uint64(record.TotalBytes)),
		"rate", humanize.Bytes(uint64(record.DownloadRate))+"/s",
	)
}

func (r *Reconciler) fail(ctx context.Context, record *storage.DownloadRecord, failures int) {
	logger := logctx.LoggerFromContext(ctx).With("imdb_id", record.IMDBID)

	record.Status = storage.StatusFailed
	record.Error = fmt.Sprintf("gave up after %d consecutive failed progress lookups", failures)

	if err := r.repo.Save(record); err != nil {
		logger.Error("failed to persist failed download", "err", err)
	}

	logger.Error("download marked failed", "attempts", failures)
}

// findVideoFile returns the first playable media file in the torrent's file
// list. Paths are relative to the daemon's download directory.
func findVideoFile(files []string) string {
	for _, f := range files {
		if videoFileRe.MatchString(f) {
			return f
		}
	}

	return ""
}
