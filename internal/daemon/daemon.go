package daemon

import "context"

// Client is the boundary to the acquisition daemon. Add never returns an
// error: failures are folded into the result so callers can report them
// without aborting the watch flow.
type Client interface {
	Add(ctx context.Context, url, downloadDir string) AddResult
	AddMetainfo(ctx context.Context, metainfo []byte, filename, downloadDir string) AddResult
	Progress(ctx context.Context, hash string) (*ProgressSnapshot, error)
	Remove(ctx context.Context, ids []int64, deleteLocalData bool) error
}

// AddResult is the normalized outcome of a torrent submission. Both the
// freshly-added and the duplicate response shapes collapse into it.
type AddResult struct {
	Success bool
	ID      int64
	Hash    string
	Name    string
	Error   string
}

// ProgressSnapshot is one observation of a torrent known to the daemon.
type ProgressSnapshot struct {
	ID              int64
	Name            string
	Hash            string
	Percent         float64
	Status          string
	DownloadRate    int64
	UploadRate      int64
	Seeders         int64
	Peers           int64
	DownloadedBytes int64
	TotalBytes      int64
	ETA             int64
	Files           []string
}

// Done reports whether the torrent has finished downloading.
func (s *ProgressSnapshot) Done() bool {
	return s.Percent >= 100
}

// Status labels for the daemon's numeric torrent states.
const (
	StatusStopped        = "Stopped"
	StatusCheckQueued    = "CheckQueued"
	StatusChecking       = "Checking"
	StatusDownloadQueued = "DownloadQueued"
	StatusDownloading    = "Downloading"
	StatusSeedQueued     = "SeedQueued"
	StatusSeeding        = "Seeding"
	StatusUnknown        = "Unknown"
)
