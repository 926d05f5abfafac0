package omdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/avast/retry-go"
	"github.com/cinepipe/cinepipe/internal/logctx"
)

// ErrNotFound means the id resolved to no movie, as opposed to a transport
// failure. Callers map it to a 404.
var ErrNotFound = errors.New("movie not found")

// Movie is the subset of OMDB metadata the pipeline cares about.
type Movie struct {
	Title      string `json:"Title"`
	Year       string `json:"Year"`
	Genre      string `json:"Genre"`
	Director   string `json:"Director"`
	Plot       string `json:"Plot"`
	Poster     string `json:"Poster"`
	Runtime    string `json:"Runtime"`
	IMDBRating string `json:"imdbRating"`
	IMDBID     string `json:"imdbID"`
}

type Client struct {
	BaseURL string
	APIKey  string

	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// ByIMDBID fetches movie metadata. Transient transport failures are retried a
// few times with backoff; a definitive "not found" answer is not.
func (c *Client) ByIMDBID(ctx context.Context, imdbID string) (*Movie, error) {
	logger := logctx.LoggerFromContext(ctx).With("imdb_id", imdbID)

	var movie *Movie

	err := retry.Do(
		func() error {
			var err error
			movie, err = c.fetch(ctx, imdbID)

			return err
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(200*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, ErrNotFound)
		}),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("retrying metadata lookup", "attempt", n+1, "err", err)
		}),
	)
	if err != nil {
		return nil, err
	}

	return movie, nil
}

func (c *Client) fetch(ctx context.Context, imdbID string) (*Movie, error) {
	reqURL := fmt.Sprintf("%s/?i=%s&apikey=%s", c.BaseURL, url.QueryEscape(imdbID), url.QueryEscape(c.APIKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build metadata request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("metadata request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metadata request failed with status %d", resp.StatusCode)
	}

	var payload struct {
		Movie

		Response string `json:"Response"`
		Error    string `json:"Error"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode metadata response: %w", err)
	}

	if payload.Response != "True" {
		return nil, ErrNotFound
	}

	movie := payload.Movie

	return &movie, nil
}
