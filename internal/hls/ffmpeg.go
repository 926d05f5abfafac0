package hls

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"time"
)

// FFmpegRunner shells out to ffmpeg to produce a VOD-style HLS rendition:
// H.264 video, AAC audio, 10-second segments, unbounded playlist.
type FFmpegRunner struct {
	Path    string
	Timeout time.Duration
}

func NewFFmpegRunner(path string, timeout time.Duration) *FFmpegRunner {
	return &FFmpegRunner{Path: path, Timeout: timeout}
}

func (f *FFmpegRunner) Run(ctx context.Context, sourcePath, outputDir string) error {
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)

		defer cancel()
	}

	args := []string{
		"-i", sourcePath,
		"-c:v", "libx264",
		"-c:a", "aac",
		"-hls_time", "10",
		"-hls_list_size", "0",
		"-hls_segment_filename", filepath.Join(outputDir, "segment_%03d.ts"),
		"-f", "hls",
		filepath.Join(outputDir, PlaylistName),
	}

	cmd := exec.CommandContext(ctx, f.Path, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("ffmpeg timed out after %s", f.Timeout)
		}

		return fmt.Errorf("ffmpeg failed: %w: %s", err, lastLine(stderr.Bytes()))
	}

	return nil
}

// lastLine trims ffmpeg's noisy stderr down to its final line, which carries
// the actual error.
func lastLine(out []byte) string {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 {
		return ""
	}

	if i := bytes.LastIndexByte(trimmed, '\n'); i >= 0 {
		trimmed = trimmed[i+1:]
	}

	return string(bytes.TrimSpace(trimmed))
}
