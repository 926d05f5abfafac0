package sqlite

import (
	"database/sql"
	"time"

	"github.com/cinepipe/cinepipe/internal/storage"
)

type WatchHistoryRepository struct {
	db *sql.DB
}

func NewWatchHistoryRepository(dbConn *sql.DB) *WatchHistoryRepository {
	return &WatchHistoryRepository{db: dbConn}
}

func (r *WatchHistoryRepository) Find(userID int64, imdbID string) (*storage.WatchHistory, error) {
	row := r.db.QueryRow(`SELECT id, user_id, imdb_id, movie_title, progress_seconds,
		duration_seconds, watched, completed, last_watched_at
	FROM watch_history WHERE user_id = ? AND imdb_id = ?`, userID, imdbID)

	var h storage.WatchHistory

	err := row.Scan(
		&h.ID, &h.UserID, &h.IMDBID, &h.MovieTitle, &h.ProgressSeconds,
		&h.DurationSeconds, &h.Watched, &h.Completed, &h.LastWatchedAt,
	)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	return &h, nil
}

// Upsert writes the playback position, keyed by (user_id, imdb_id).
func (r *WatchHistoryRepository) Upsert(h *storage.WatchHistory) error {
	if h.LastWatchedAt.IsZero() {
		h.LastWatchedAt = time.Now().UTC()
	}

	_, err := r.db.Exec(`
		INSERT INTO watch_history (user_id, imdb_id, movie_title, progress_seconds,
			duration_seconds, watched, completed, last_watched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, imdb_id) DO UPDATE SET
			movie_title = excluded.movie_title,
			progress_seconds = excluded.progress_seconds,
			duration_seconds = excluded.duration_seconds,
			watched = excluded.watched,
			completed = excluded.completed,
			last_watched_at = excluded.last_watched_at
	`, h.UserID, h.IMDBID, h.MovieTitle, h.ProgressSeconds,
		h.DurationSeconds, h.Watched, h.Completed, h.LastWatchedAt.UTC())

	return err
}
