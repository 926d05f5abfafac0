package watch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cinepipe/cinepipe/internal/daemon"
	"github.com/cinepipe/cinepipe/internal/logctx"
	"github.com/cinepipe/cinepipe/internal/metadata/omdb"
	"github.com/cinepipe/cinepipe/internal/resolver"
	"github.com/cinepipe/cinepipe/internal/storage"
)

// Outcomes of a watch request's acquisition step.
const (
	StatusDownloadStarted    = "download_started"
	StatusAlreadyDownloading = "already_downloading"
	StatusNoTorrentsFound    = "no_torrents_found"
	StatusNoSuitableTorrent  = "no_suitable_torrent"
	StatusTorrentAddFailed   = "torrent_add_failed"
)

// ErrMovieNotFound means the id resolved to no known movie.
var ErrMovieNotFound = errors.New("movie not found")

// Result is what a watch request learns about a movie: its metadata, the
// acquisition outcome, and whatever record and history already exist.
type Result struct {
	Status   string
	Movie    *omdb.Movie
	Download *storage.DownloadRecord
	History  *storage.WatchHistory
}

// Metadata is the slice of the metadata client the service needs.
type Metadata interface {
	ByIMDBID(ctx context.Context, imdbID string) (*omdb.Movie, error)
}

// Tracker hands freshly created records to the reconciliation loop.
type Tracker interface {
	Track(ctx context.Context, record *storage.DownloadRecord)
}

// Service orchestrates the watch flow: metadata lookup, release resolution,
// daemon submission, record creation.
type Service struct {
	metadata Metadata
	index    resolver.Index
	daemon   daemon.Client
	repo     storage.DownloadRepository
	history  storage.WatchHistoryRepository
	tracker  Tracker

	downloadDir string
}

func NewService(metadata Metadata, index resolver.Index, dc daemon.Client,
	repo storage.DownloadRepository, history storage.WatchHistoryRepository,
	tracker Tracker, downloadDir string,
) *Service {
	return &Service{
		metadata:    metadata,
		index:       index,
		daemon:      dc,
		repo:        repo,
		history:     history,
		tracker:     tracker,
		downloadDir: downloadDir,
	}
}

// Watch resolves a movie and makes sure an acquisition is underway for it.
// Index and daemon problems come back as statuses, not errors: the caller
// still gets the metadata and can surface the failure to the user.
func (s *Service) Watch(ctx context.Context, userID int64, imdbID string) (*Result, error) {
	logger := logctx.LoggerFromContext(ctx).With("imdb_id", imdbID)

	movie, err := s.metadata.ByIMDBID(ctx, imdbID)
	if err != nil {
		if errors.Is(err, omdb.ErrNotFound) {
			return nil, ErrMovieNotFound
		}

		return nil, fmt.Errorf("metadata lookup failed: %w", err)
	}

	result := &Result{Movie: movie}

	if history, err := s.history.Find(userID, imdbID); err == nil {
		result.History = history
	}

	record, err := s.repo.FindByIMDBID(imdbID)
	if err == nil {
		result.Status = StatusAlreadyDownloading
		result.Download = record

		return result, nil
	}

	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("record lookup failed: %w", err)
	}

	candidates := s.index.Candidates(ctx, imdbID, movie.Title)
	if len(candidates) == 0 {
		logger.Warn("no releases found for movie", "title", movie.Title)

		result.Status = StatusNoTorrentsFound

		return result, nil
	}

	best := resolver.SelectBest(candidates)
	if best == nil {
		result.Status = StatusNoSuitableTorrent

		return result, nil
	}

	logger.Info("selected release",
		"quality", best.Quality,
		"seeders", best.Seeders,
		"hash", best.Hash,
	)

	// Submit a magnet built from the release hash when we have one; magnets
	// survive a dead index, a .torrent URL does not.
	source := best.URL
	if best.Hash != "" {
		source = daemon.BuildMagnet(best.Hash, movie.Title)
	}

	added := s.daemon.Add(ctx, source, s.downloadDir)
	if !added.Success {
		logger.Error("daemon rejected torrent", "err", added.Error)

		result.Status = StatusTorrentAddFailed

		return result, nil
	}

	hash := added.Hash
	if hash == "" {
		hash = best.Hash
	}

	record = &storage.DownloadRecord{
		IMDBID:      imdbID,
		MovieTitle:  movie.Title,
		TorrentHash: hash,
		MagnetURI:   source,
		DaemonID:    added.ID,
		Status:      storage.StatusPending,
	}

	if err := s.repo.Create(record); err != nil {
		return nil, fmt.Errorf("failed to create download record: %w", err)
	}

	s.tracker.Track(ctx, record)

	result.Status = StatusDownloadStarted
	result.Download = record

	return result, nil
}

// StartWatching marks the movie as watched by the user without moving the
// playback position.
func (s *Service) StartWatching(ctx context.Context, userID int64, imdbID string) error {
	history, err := s.history.Find(userID, imdbID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		history = &storage.WatchHistory{UserID: userID, IMDBID: imdbID}
	}

	if record, err := s.repo.FindByIMDBID(imdbID); err == nil {
		history.MovieTitle = record.MovieTitle
	}

	history.Watched = true
	history.LastWatchedAt = time.Now().UTC()

	return s.history.Upsert(history)
}

// StopWatching records the final playback position of a session and derives
// the completed flag.
func (s *Service) StopWatching(ctx context.Context, userID int64, imdbID string, progressSeconds, durationSeconds int64) error {
	return s.SaveProgress(ctx, userID, imdbID, progressSeconds, durationSeconds)
}

// SaveProgress upserts the playback position. Completion flips at 90% of the
// known duration and never flips back.
func (s *Service) SaveProgress(ctx context.Context, userID int64, imdbID string, progressSeconds, durationSeconds int64) error {
	history, err := s.history.Find(userID, imdbID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		history = &storage.WatchHistory{UserID: userID, IMDBID: imdbID}
	}

	if record, err := s.repo.FindByIMDBID(imdbID); err == nil {
		history.MovieTitle = record.MovieTitle
	}

	history.Watched = true
	history.ProgressSeconds = progressSeconds

	if durationSeconds > 0 {
		history.DurationSeconds = durationSeconds
	}

	if history.DurationSeconds > 0 &&
		float64(history.ProgressSeconds) >= 0.9*float64(history.DurationSeconds) {
		history.Completed = true
	}

	history.LastWatchedAt = time.Now().UTC()

	return s.history.Upsert(history)
}
