package rest

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/cinepipe/cinepipe/internal/logctx"
	"github.com/cinepipe/cinepipe/internal/storage"
)

func respondJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to encode response", "err", err)
	}
}

func decodeJSON(r *http.Request, out any) error {
	defer r.Body.Close()

	return json.NewDecoder(r.Body).Decode(out)
}

// userID reads the authenticated user from the gateway-provided header.
// Anonymous requests fall back to user 0.
func userID(r *http.Request) int64 {
	id, err := strconv.ParseInt(r.Header.Get("X-User-ID"), 10, 64)
	if err != nil {
		return 0
	}

	return id
}

// downloadView is the wire shape of a download record.
type downloadView struct {
	IMDBID          string  `json:"imdbId"`
	MovieTitle      string  `json:"movieTitle"`
	Status          string  `json:"status"`
	Progress        float64 `json:"progress"`
	DownloadedBytes int64   `json:"downloadedBytes"`
	TotalBytes      int64   `json:"totalBytes"`
	DownloadRate    int64   `json:"downloadRate"`
	Seeders         int64   `json:"seeders"`
	Leechers        int64   `json:"leechers"`
	IsConverted     bool    `json:"isConverted"`
	Error           string  `json:"error,omitempty"`
}

func newDownloadView(record *storage.DownloadRecord) *downloadView {
	if record == nil {
		return nil
	}

	return &downloadView{
		IMDBID:          record.IMDBID,
		MovieTitle:      record.MovieTitle,
		Status:          record.Status,
		Progress:        record.Progress,
		DownloadedBytes: record.DownloadedBytes,
		TotalBytes:      record.TotalBytes,
		DownloadRate:    record.DownloadRate,
		Seeders:         record.Seeders,
		Leechers:        record.Leechers,
		IsConverted:     record.IsConverted,
		Error:           record.Error,
	}
}

// historyView is the wire shape of a watch history row.
type historyView struct {
	ProgressSeconds int64 `json:"progressSeconds"`
	DurationSeconds int64 `json:"durationSeconds"`
	Watched         bool  `json:"watched"`
	Completed       bool  `json:"completed"`
}

func newHistoryView(history *storage.WatchHistory) *historyView {
	if history == nil {
		return nil
	}

	return &historyView{
		ProgressSeconds: history.ProgressSeconds,
		DurationSeconds: history.DurationSeconds,
		Watched:         history.Watched,
		Completed:       history.Completed,
	}
}
