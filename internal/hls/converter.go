package hls

import (
	"context"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/cinepipe/cinepipe/internal/logctx"
	"github.com/cinepipe/cinepipe/internal/storage"
	"github.com/cinepipe/cinepipe/internal/stream"
	"github.com/cinepipe/cinepipe/internal/telemetry"
)

// PlaylistName is the master playlist file written into each movie's output dir.
const PlaylistName = "playlist.m3u8"

// Runner executes the actual transcode of a source file into an HLS output
// directory. Split out so the coordinator can be tested without ffmpeg.
type Runner interface {
	Run(ctx context.Context, sourcePath, outputDir string) error
}

// Converter coordinates HLS transcodes: at most one per movie at a time,
// skipped entirely once a complete playlist exists.
type Converter struct {
	repo      storage.DownloadRepository
	runner    Runner
	outputDir string
	telemetry *telemetry.Telemetry

	// baseCtx bounds running transcodes. Conversions are triggered from HTTP
	// requests whose contexts die with the response, so ffmpeg runs on this
	// one instead, limited only by the runner's own timeout.
	baseCtx context.Context

	mu         sync.Mutex
	converting map[string]struct{}
}

func NewConverter(baseCtx context.Context, repo storage.DownloadRepository, runner Runner, outputDir string, tel *telemetry.Telemetry) *Converter {
	return &Converter{
		repo:       repo,
		runner:     runner,
		outputDir:  outputDir,
		telemetry:  tel,
		baseCtx:    baseCtx,
		converting: make(map[string]struct{}),
	}
}

// PlaylistPath returns where the playlist for a movie lives, whether or not
// it exists yet.
func (c *Converter) PlaylistPath(imdbID string) string {
	return filepath.Join(c.outputDir, imdbID, PlaylistName)
}

// MaybeStart kicks off a transcode for the record when it is eligible:
// enough of the file on disk, not already converted, no transcode running
// for the same movie. Returns whether a transcode was started.
func (c *Converter) MaybeStart(ctx context.Context, record *storage.DownloadRecord) bool {
	logger := logctx.LoggerFromContext(ctx).With("imdb_id", record.IMDBID)

	if record.IsConverted || record.FilePath == "" {
		return false
	}

	if !stream.CanStream(record.Progress, record.Status) {
		return false
	}

	if !c.tryLock(record.IMDBID) {
		logger.Debug("conversion already running")

		return false
	}

	// The fast path only trusts a playlist carrying the end marker. ffmpeg
	// writes the playlist incrementally, so a crashed run leaves a truncated
	// one behind that has to be transcoded again.
	playlist := c.PlaylistPath(record.IMDBID)
	if PlaylistComplete(playlist) {
		record.HLSPath = playlist
		record.IsConverted = true

		if err := c.repo.Save(record); err != nil {
			logger.Error("failed to persist existing conversion", "err", err)
		}

		c.unlock(record.IMDBID)

		return false
	}

	if _, err := os.Stat(record.FilePath); err != nil {
		logger.Debug("source file not on disk yet", "file_path", record.FilePath)

		c.unlock(record.IMDBID)

		return false
	}

	// Hand the transcode the converter's own context so it survives the
	// request that triggered it. The request logger carries over.
	go c.convert(logctx.WithLogger(c.baseCtx, logctx.LoggerFromContext(ctx)), record)

	return true
}

// tryLock atomically claims the per-movie conversion slot.
func (c *Converter) tryLock(imdbID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, held := c.converting[imdbID]; held {
		return false
	}

	c.converting[imdbID] = struct{}{}

	return true
}

func (c *Converter) unlock(imdbID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.converting, imdbID)
}

func (c *Converter) convert(ctx context.Context, record *storage.DownloadRecord) {
	logger := logctx.LoggerFromContext(ctx).With("imdb_id", record.IMDBID)

	// The lock is released exactly once, whatever path the transcode takes.
	defer c.unlock(record.IMDBID)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("conversion panic",
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()

	outDir := filepath.Dir(c.PlaylistPath(record.IMDBID))
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		logger.Error("failed to create conversion output dir", "dir", outDir, "err", err)

		return
	}

	// Persist the expected playlist location up front so playback surfaces
	// can report it while the transcode runs.
	record.HLSPath = c.PlaylistPath(record.IMDBID)
	if err := c.repo.Save(record); err != nil {
		logger.Error("failed to persist conversion target", "err", err)

		return
	}

	logger.Info("starting hls conversion", "source", record.FilePath, "out_dir", outDir)

	err := c.telemetry.InstrumentConversion(ctx, func(ctx context.Context) error {
		return c.runner.Run(ctx, record.FilePath, outDir)
	})
	if err != nil {
		// Leave IsConverted false so a later MaybeStart can retry.
		logger.Error("hls conversion failed", "err", err)

		return
	}

	record.IsConverted = true
	if err := c.repo.Save(record); err != nil {
		logger.Error("failed to persist finished conversion", "err", err)

		return
	}

	logger.Info("hls conversion finished", "playlist", record.HLSPath)
}

// PlaylistComplete reports whether the playlist at path has been fully
// written. ffmpeg appends segments as it goes and only writes the end marker
// after the last one.
func PlaylistComplete(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}

	return strings.Contains(string(data), "#EXT-X-ENDLIST")
}

// Converting reports whether a transcode for the movie is currently running.
func (c *Converter) Converting(imdbID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, held := c.converting[imdbID]

	return held
}
