package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned by repositories when no record matches the lookup.
var ErrNotFound = errors.New("record not found")

// Download statuses. Seeding is a valid post-completion label reported by the
// acquisition daemon; a record never transitions from it back to downloading.
const (
	StatusPending     = "pending"
	StatusDownloading = "downloading"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
	StatusSeeding     = "seeding"
)

// DownloadRecord tracks a movie acquisition from torrent submission through
// local playback readiness.
type DownloadRecord struct {
	ID              int64
	IMDBID          string
	MovieTitle      string
	TorrentHash     string
	MagnetURI       string
	DaemonID        int64
	Status          string
	Progress        float64
	DownloadedBytes int64
	TotalBytes      int64
	DownloadRate    int64
	Seeders         int64
	Leechers        int64
	FilePath        string
	HLSPath         string
	IsConverted     bool
	Error           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastAccessedAt  time.Time
}

// IsTerminal reports whether the record no longer needs progress polling.
func (r *DownloadRecord) IsTerminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}

// WatchHistory tracks playback position per user and movie. Completed flips
// once the position crosses 90% of the known duration.
type WatchHistory struct {
	ID              int64
	UserID          int64
	IMDBID          string
	MovieTitle      string
	ProgressSeconds int64
	DurationSeconds int64
	Watched         bool
	Completed       bool
	LastWatchedAt   time.Time
}

// DownloadRepository persists download records. No business rules live here.
type DownloadRepository interface {
	FindByIMDBID(imdbID string) (*DownloadRecord, error)
	FindByID(id int64) (*DownloadRecord, error)
	Create(record *DownloadRecord) error
	Save(record *DownloadRecord) error
	Touch(imdbID string, at time.Time) error
	GetDownloads() ([]DownloadRecord, error)
	Delete(id int64) error
}

// WatchHistoryRepository persists per-user playback positions.
type WatchHistoryRepository interface {
	Find(userID int64, imdbID string) (*WatchHistory, error)
	Upsert(history *WatchHistory) error
}
