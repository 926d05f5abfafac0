package stream_test

import (
	"fmt"
	"testing"

	"github.com/cinepipe/cinepipe/internal/storage"
	"github.com/cinepipe/cinepipe/internal/stream"
	"github.com/stretchr/testify/assert"
)

func TestCanStream(t *testing.T) {
	tests := []struct {
		progress float64
		status   string
		expect   bool
	}{
		{0, storage.StatusPending, false},
		{0, storage.StatusDownloading, false},
		{4.99, storage.StatusDownloading, false},
		{5, storage.StatusDownloading, true},
		{5.01, storage.StatusDownloading, true},
		{100, storage.StatusDownloading, true},
		{0, storage.StatusCompleted, true},
		{4.99, storage.StatusCompleted, true},
		{100, storage.StatusCompleted, true},
		{4.99, storage.StatusFailed, false},
		{5, storage.StatusFailed, true},
		{0, storage.StatusSeeding, false},
	}

	for _, tt := range tests {
		name := fmt.Sprintf("%.2f%% %s", tt.progress, tt.status)
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.expect, stream.CanStream(tt.progress, tt.status))
		})
	}
}
