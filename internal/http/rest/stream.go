package rest

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cinepipe/cinepipe/internal/hls"
	"github.com/cinepipe/cinepipe/internal/logctx"
	"github.com/cinepipe/cinepipe/internal/storage"
	"github.com/cinepipe/cinepipe/internal/stream"
	"github.com/cinepipe/cinepipe/internal/watch"
)

// StreamHandler serves playback: availability info, HLS playlists and
// segments, direct byte-range video, and playback progress updates.
type StreamHandler struct {
	repo      storage.DownloadRepository
	history   storage.WatchHistoryRepository
	converter *hls.Converter
	watchSvc  *watch.Service
}

func NewStreamHandler(repo storage.DownloadRepository, history storage.WatchHistoryRepository,
	converter *hls.Converter, watchSvc *watch.Service,
) *StreamHandler {
	return &StreamHandler{
		repo:      repo,
		history:   history,
		converter: converter,
		watchSvc:  watchSvc,
	}
}

func (h *StreamHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/{id}/info", h.info)
	r.Get("/{id}/playlist.m3u8", h.playlist)
	r.Get("/{id}/video", h.video)
	r.Post("/{id}/progress", h.progress)
	r.Get("/{id}/{segment}", h.segment)

	return r
}

func (h *StreamHandler) lookup(w http.ResponseWriter, r *http.Request) *storage.DownloadRecord {
	imdbID := chi.URLParam(r, "id")

	record, err := h.repo.FindByIMDBID(imdbID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "download not found", http.StatusNotFound)
		} else {
			logctx.LoggerFromContext(r.Context()).Error("record lookup failed", "imdb_id", imdbID, "err", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}

		return nil
	}

	return record
}

type streamInfoResponse struct {
	IMDBID      string        `json:"imdbId"`
	CanStream   bool          `json:"canStream"`
	HLSReady    bool          `json:"hlsReady"`
	PlaylistURL string        `json:"playlistUrl,omitempty"`
	VideoURL    string        `json:"videoUrl,omitempty"`
	Download    *downloadView `json:"download"`
	History     *historyView  `json:"history,omitempty"`
}

// info reports availability for a movie. Asking about a movie counts as
// interest, so it bumps the retention clock and may kick off a conversion.
func (h *StreamHandler) info(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logctx.LoggerFromContext(ctx)

	record := h.lookup(w, r)
	if record == nil {
		return
	}

	if err := h.repo.Touch(record.IMDBID, time.Now()); err != nil {
		logger.Error("failed to touch record", "imdb_id", record.IMDBID, "err", err)
	}

	h.converter.MaybeStart(ctx, record)

	resp := streamInfoResponse{
		IMDBID:    record.IMDBID,
		CanStream: stream.CanStream(record.Progress, record.Status),
		HLSReady:  h.hlsReady(record),
		Download:  newDownloadView(record),
	}

	if resp.CanStream {
		resp.VideoURL = fmt.Sprintf("/stream/%s/video", record.IMDBID)
	}

	if resp.HLSReady {
		resp.PlaylistURL = fmt.Sprintf("/stream/%s/playlist.m3u8", record.IMDBID)
	}

	if history, err := h.history.Find(userID(r), record.IMDBID); err == nil {
		resp.History = newHistoryView(history)
	}

	respondJSON(w, r, http.StatusOK, resp)
}

func (h *StreamHandler) hlsReady(record *storage.DownloadRecord) bool {
	path := h.converter.PlaylistPath(record.IMDBID)
	if _, err := os.Stat(path); err != nil {
		return false
	}

	return record.IsConverted || hls.PlaylistComplete(path)
}

// playlist serves the HLS playlist. A playlist mid-transcode is withheld so
// players fall back to direct video instead of stalling at the live edge.
func (h *StreamHandler) playlist(w http.ResponseWriter, r *http.Request) {
	record := h.lookup(w, r)
	if record == nil {
		return
	}

	path := h.converter.PlaylistPath(record.IMDBID)
	if _, err := os.Stat(path); err != nil {
		http.Error(w, "playlist not found", http.StatusNotFound)

		return
	}

	if !record.IsConverted && !hls.PlaylistComplete(path) {
		http.Error(w, "playlist not ready", http.StatusNotFound)

		return
	}

	// The playlist mutates until the transcode ends; never let caches pin it.
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")

	http.ServeFile(w, r, path)
}

// segment serves one HLS media segment. Segments never change once written.
func (h *StreamHandler) segment(w http.ResponseWriter, r *http.Request) {
	imdbID := chi.URLParam(r, "id")
	segment := chi.URLParam(r, "segment")

	// Reject anything that could escape the movie's output dir.
	if segment != filepath.Base(segment) || !strings.HasSuffix(segment, ".ts") {
		http.Error(w, "invalid segment name", http.StatusBadRequest)

		return
	}

	path := filepath.Join(filepath.Dir(h.converter.PlaylistPath(imdbID)), segment)
	if _, err := os.Stat(path); err != nil {
		http.Error(w, "segment not found", http.StatusNotFound)

		return
	}

	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("Content-Type", "video/mp2t")

	http.ServeFile(w, r, path)
}

// video serves the raw media file with byte-range support, the fallback for
// players that cannot do HLS.
func (h *StreamHandler) video(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logctx.LoggerFromContext(ctx)

	record := h.lookup(w, r)
	if record == nil {
		return
	}

	if !stream.CanStream(record.Progress, record.Status) {
		http.Error(w, "download not ready for streaming", http.StatusConflict)

		return
	}

	if record.FilePath == "" {
		http.Error(w, "media file not discovered yet", http.StatusConflict)

		return
	}

	f, err := os.Open(record.FilePath)
	if err != nil {
		logger.Error("failed to open media file", "file_path", record.FilePath, "err", err)
		http.Error(w, "media file unavailable", http.StatusNotFound)

		return
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		http.Error(w, "media file unavailable", http.StatusInternalServerError)

		return
	}

	size := stat.Size()
	contentType := mediaContentType(record.FilePath)

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", contentType)

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)

		if _, err := io.Copy(w, f); err != nil {
			logger.Debug("video stream interrupted", "err", err)
		}

		return
	}

	start, end, err := parseRange(rangeHeader, size)
	if err != nil {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "invalid range", http.StatusRequestedRangeNotSatisfiable)

		return
	}

	if _, err := f.Seek(start, io.SeekStart); err != nil {
		http.Error(w, "media file unavailable", http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	w.WriteHeader(http.StatusPartialContent)

	if _, err := io.CopyN(w, f, end-start+1); err != nil {
		logger.Debug("video stream interrupted", "err", err)
	}
}

// parseRange parses a single "bytes=start-end" range against the file size.
// An omitted end means the rest of the file; an omitted start makes the end a
// suffix length, so "bytes=-500" is the last 500 bytes.
func parseRange(header string, size int64) (int64, int64, error) {
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return 0, 0, fmt.Errorf("unsupported range unit in %q", header)
	}

	startStr, endStr, ok := strings.Cut(spec, "-")
	if !ok {
		return 0, 0, fmt.Errorf("malformed range %q", header)
	}

	if strings.TrimSpace(startStr) == "" {
		n, err := strconv.ParseInt(strings.TrimSpace(endStr), 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, fmt.Errorf("malformed suffix range %q", header)
		}

		start := size - n
		if start < 0 {
			start = 0
		}

		return start, size - 1, nil
	}

	start, err := strconv.ParseInt(strings.TrimSpace(startStr), 10, 64)
	if err != nil || start < 0 {
		return 0, 0, fmt.Errorf("malformed range start in %q", header)
	}

	end := size - 1

	if s := strings.TrimSpace(endStr); s != "" {
		end, err = strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("malformed range end in %q", header)
		}
	}

	if end > size-1 {
		end = size - 1
	}

	if start > end || start >= size {
		return 0, 0, fmt.Errorf("unsatisfiable range %q for size %d", header, size)
	}

	return start, end, nil
}

func mediaContentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4", ".mov":
		return "video/mp4"
	case ".mkv":
		return "video/x-matroska"
	case ".avi":
		return "video/x-msvideo"
	default:
		return "application/octet-stream"
	}
}

type progressRequest struct {
	ProgressSeconds int64 `json:"progressSeconds"`
	DurationSeconds int64 `json:"durationSeconds"`
}

// progress records the player's playback position.
func (h *StreamHandler) progress(w http.ResponseWriter, r *http.Request) {
	imdbID := chi.URLParam(r, "id")

	var req progressRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	if req.ProgressSeconds < 0 {
		http.Error(w, "progressSeconds must not be negative", http.StatusBadRequest)

		return
	}

	if err := h.watchSvc.SaveProgress(r.Context(), userID(r), imdbID, req.ProgressSeconds, req.DurationSeconds); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to save playback progress", "imdb_id", imdbID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}
