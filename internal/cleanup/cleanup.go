package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/cinepipe/cinepipe/internal/logctx"
	"github.com/cinepipe/cinepipe/internal/storage"
)

// Remover is the slice of the daemon boundary the sweeper needs.
type Remover interface {
	Remove(ctx context.Context, ids []int64, deleteLocalData bool) error
}

// Sweeper reclaims disk from movies nobody has watched in a while: the HLS
// rendition, the downloaded media, the daemon's torrent, and the record.
type Sweeper struct {
	repo    storage.DownloadRepository
	daemon  Remover
	hlsDir  string
	keepFor time.Duration
}

func NewSweeper(repo storage.DownloadRepository, daemon Remover, hlsDir string, keepFor time.Duration) *Sweeper {
	return &Sweeper{
		repo:    repo,
		daemon:  daemon,
		hlsDir:  hlsDir,
		keepFor: keepFor,
	}
}

// Sweep deletes everything belonging to records whose last access is older
// than the retention window. Active downloads are left alone.
func (s *Sweeper) Sweep(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)
	now := time.Now()

	records, err := s.repo.GetDownloads()
	if err != nil {
		return err
	}

	for i := range records {
		rec := &records[i]

		if !rec.IsTerminal() {
			continue
		}

		if now.Sub(rec.LastAccessedAt) <= s.keepFor {
			continue
		}

		recLogger := logger.With("imdb_id", rec.IMDBID, "last_accessed_at", rec.LastAccessedAt)

		if rec.FilePath != "" {
			if err := os.Remove(rec.FilePath); err != nil && !os.IsNotExist(err) {
				recLogger.Error("failed to delete expired media file", "file", rec.FilePath, "err", err)

				continue
			}
		}

		hlsOut := filepath.Join(s.hlsDir, rec.IMDBID)
		if err := os.RemoveAll(hlsOut); err != nil {
			recLogger.Error("failed to delete expired hls output", "dir", hlsOut, "err", err)

			continue
		}

		if rec.DaemonID != 0 {
			if err := s.daemon.Remove(ctx, []int64{rec.DaemonID}, true); err != nil {
				// The daemon may have been reset since; the files are gone
				// either way.
				recLogger.Warn("failed to remove torrent from daemon", "daemon_id", rec.DaemonID, "err", err)
			}
		}

		if err := s.repo.Delete(rec.ID); err != nil {
			recLogger.Error("failed to delete expired record", "err", err)

			continue
		}

		recLogger.Info("reclaimed expired download")
	}

	return nil
}
