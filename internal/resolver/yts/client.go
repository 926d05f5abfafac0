package yts

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/cinepipe/cinepipe/internal/logctx"
	"github.com/cinepipe/cinepipe/internal/resolver"
	"golang.org/x/time/rate"
)

// Client queries a YTS-style movie index. Lookup failures never abort the
// watch flow: they log and come back as an empty candidate list.
type Client struct {
	BaseURL string

	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		// The public index throttles aggressive clients.
		limiter: rate.NewLimiter(rate.Every(time.Second), 2),
	}
}

type listResponse struct {
	Status string `json:"status"`
	Data   struct {
		MovieCount int     `json:"movie_count"`
		Movies     []movie `json:"movies"`
	} `json:"data"`
}

type movie struct {
	Title    string    `json:"title"`
	IMDBCode string    `json:"imdb_code"`
	Torrents []torrent `json:"torrents"`
}

type torrent struct {
	URL       string `json:"url"`
	Hash      string `json:"hash"`
	Quality   string `json:"quality"`
	Seeds     int64  `json:"seeds"`
	Peers     int64  `json:"peers"`
	SizeBytes int64  `json:"size_bytes"`
}

// Candidates resolves release candidates for a movie. The IMDB id search runs
// first; when it comes back empty the title hint is searched and filtered for
// an exact imdb_code match, falling back to the first result.
func (c *Client) Candidates(ctx context.Context, imdbID, titleHint string) []resolver.Candidate {
	logger := logctx.LoggerFromContext(ctx).With("imdb_id", imdbID)

	found, err := c.search(ctx, imdbID)
	if err != nil {
		logger.Warn("index lookup by imdb id failed", "err", err)

		return nil
	}

	if found == nil && titleHint != "" {
		found, err = c.searchByTitle(ctx, titleHint, imdbID)
		if err != nil {
			logger.Warn("index lookup by title failed", "title", titleHint, "err", err)

			return nil
		}
	}

	if found == nil {
		return nil
	}

	candidates := make([]resolver.Candidate, 0, len(found.Torrents))
	for _, t := range found.Torrents {
		candidates = append(candidates, resolver.Candidate{
			Title:     found.Title,
			Quality:   t.Quality,
			Hash:      strings.ToLower(t.Hash),
			URL:       t.URL,
			Seeders:   t.Seeds,
			Peers:     t.Peers,
			SizeBytes: t.SizeBytes,
		})
	}

	return candidates
}

func (c *Client) search(ctx context.Context, term string) (*movie, error) {
	movies, err := c.listMovies(ctx, term)
	if err != nil {
		return nil, err
	}

	if len(movies) == 0 {
		return nil, nil
	}

	return &movies[0], nil
}

func (c *Client) searchByTitle(ctx context.Context, title, imdbID string) (*movie, error) {
	movies, err := c.listMovies(ctx, title)
	if err != nil {
		return nil, err
	}

	if len(movies) == 0 {
		return nil, nil
	}

	for i := range movies {
		if strings.EqualFold(movies[i].IMDBCode, imdbID) {
			return &movies[i], nil
		}
	}

	return &movies[0], nil
}

func (c *Client) listMovies(ctx context.Context, term string) ([]movie, error) {
	var movies []movie

	err := retry.Do(
		func() error {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}

			reqURL := fmt.Sprintf("%s/list_movies.json?query_term=%s", c.BaseURL, url.QueryEscape(term))

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
			if err != nil {
				return fmt.Errorf("failed to build index request: %w", err)
			}

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return fmt.Errorf("index request failed: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("index request failed with status %d", resp.StatusCode)
			}

			var payload listResponse
			if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
				return fmt.Errorf("failed to decode index response: %w", err)
			}

			if payload.Status != "ok" {
				return fmt.Errorf("index returned status %q", payload.Status)
			}

			movies = payload.Data.Movies

			return nil
		},
		retry.Context(ctx),
		retry.Attempts(2),
		retry.Delay(300*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}

	return movies, nil
}

// Ensure Client implements the resolver index boundary.
var _ resolver.Index = (*Client)(nil)
