package rest

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cinepipe/cinepipe/internal/logctx"
	"github.com/cinepipe/cinepipe/internal/metadata/omdb"
	"github.com/cinepipe/cinepipe/internal/watch"
)

// WatchHandler exposes the watch flow: asking to watch a movie, and marking
// viewing sessions.
type WatchHandler struct {
	svc *watch.Service
}

func NewWatchHandler(svc *watch.Service) *WatchHandler {
	return &WatchHandler{svc: svc}
}

func (h *WatchHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/{id}", h.watch)
	r.Post("/{id}/start", h.start)
	r.Post("/{id}/stop", h.stop)

	return r
}

type movieView struct {
	Title      string `json:"title"`
	Year       string `json:"year"`
	Genre      string `json:"genre,omitempty"`
	Director   string `json:"director,omitempty"`
	Plot       string `json:"plot,omitempty"`
	Poster     string `json:"poster,omitempty"`
	Runtime    string `json:"runtime,omitempty"`
	IMDBRating string `json:"imdbRating,omitempty"`
	IMDBID     string `json:"imdbId"`
}

func newMovieView(movie *omdb.Movie) *movieView {
	if movie == nil {
		return nil
	}

	return &movieView{
		Title:      movie.Title,
		Year:       movie.Year,
		Genre:      movie.Genre,
		Director:   movie.Director,
		Plot:       movie.Plot,
		Poster:     movie.Poster,
		Runtime:    movie.Runtime,
		IMDBRating: movie.IMDBRating,
		IMDBID:     movie.IMDBID,
	}
}

type watchResponse struct {
	Status   string        `json:"status"`
	Movie    *movieView    `json:"movie"`
	Download *downloadView `json:"download,omitempty"`
	History  *historyView  `json:"history,omitempty"`
}

// watch resolves a movie and makes sure its download is underway.
func (h *WatchHandler) watch(w http.ResponseWriter, r *http.Request) {
	imdbID := chi.URLParam(r, "id")

	result, err := h.svc.Watch(r.Context(), userID(r), imdbID)
	if err != nil {
		if errors.Is(err, watch.ErrMovieNotFound) {
			http.Error(w, "movie not found", http.StatusNotFound)

			return
		}

		logctx.LoggerFromContext(r.Context()).Error("watch flow failed", "imdb_id", imdbID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)

		return
	}

	respondJSON(w, r, http.StatusOK, watchResponse{
		Status:   result.Status,
		Movie:    newMovieView(result.Movie),
		Download: newDownloadView(result.Download),
		History:  newHistoryView(result.History),
	})
}

func (h *WatchHandler) start(w http.ResponseWriter, r *http.Request) {
	imdbID := chi.URLParam(r, "id")

	if err := h.svc.StartWatching(r.Context(), userID(r), imdbID); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to start watch session", "imdb_id", imdbID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type stopRequest struct {
	ProgressSeconds int64 `json:"progressSeconds"`
	DurationSeconds int64 `json:"durationSeconds"`
}

func (h *WatchHandler) stop(w http.ResponseWriter, r *http.Request) {
	imdbID := chi.URLParam(r, "id")

	var req stopRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	if err := h.svc.StopWatching(r.Context(), userID(r), imdbID, req.ProgressSeconds, req.DurationSeconds); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to stop watch session", "imdb_id", imdbID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}
