package stream

import "github.com/cinepipe/cinepipe/internal/storage"

// MinStartProgress is the download percentage at which playback may begin
// while the download is still running.
const MinStartProgress = 5.0

// CanStream is the single gate for every playback surface: direct file
// serving, HLS, and availability reporting all go through it.
func CanStream(progress float64, status string) bool {
	return progress >= MinStartProgress || status == storage.StatusCompleted
}
