package transmission

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cinepipe/cinepipe/internal/daemon"
	"github.com/cinepipe/cinepipe/internal/logctx"
	"github.com/zeebo/bencode"
)

const sessionIDHeader = "X-Transmission-Session-Id"

// Client talks to a Transmission daemon over its JSON RPC endpoint.
type Client struct {
	RPCURL   string
	Username string
	Password string

	httpClient *http.Client

	// sessionMu guards sessionID, which every concurrent poll task reads and
	// any of them may refresh on a 409.
	sessionMu sync.Mutex
	sessionID string
}

func (c *Client) session() string {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	return c.sessionID
}

func (c *Client) setSession(id string) {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	c.sessionID = id
}

func NewClient(rpcURL, username, password string, timeout time.Duration) *Client {
	return &Client{
		RPCURL:     rpcURL,
		Username:   username,
		Password:   password,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type rpcRequest struct {
	Method    string `json:"method"`
	Arguments any    `json:"arguments,omitempty"`
}

type rpcResponse struct {
	Result    string          `json:"result"`
	Arguments json.RawMessage `json:"arguments"`
}

// call posts an RPC request, negotiating the session id on 409 and retrying
// the request once with the refreshed id.
func (c *Client) call(ctx context.Context, method string, args any, out any) error {
	body, err := json.Marshal(rpcRequest{Method: method, Arguments: args})
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	resp, err := c.post(ctx, method, body)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusConflict {
		c.setSession(resp.Header.Get(sessionIDHeader))
		resp.Body.Close()

		resp, err = c.post(ctx, method, body)
		if err != nil {
			return err
		}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &daemon.AuthenticationError{Operation: method}
	case resp.StatusCode != http.StatusOK:
		b, _ := io.ReadAll(resp.Body)

		return &daemon.NetworkError{Operation: method, StatusCode: resp.StatusCode, APIMessage: string(b)}
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return &daemon.NetworkError{Operation: method, APIMessage: "malformed RPC response", Err: err}
	}

	if rpcResp.Result != "success" {
		return &daemon.NetworkError{Operation: method, APIMessage: rpcResp.Result}
	}

	if out != nil {
		if err := json.Unmarshal(rpcResp.Arguments, out); err != nil {
			return &daemon.NetworkError{Operation: method, APIMessage: "malformed RPC arguments", Err: err}
		}
	}

	return nil
}

func (c *Client) post(ctx context.Context, method string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.RPCURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", method, err)
	}

	req.Header.Set("Content-Type", "application/json")
	if id := c.session(); id != "" {
		req.Header.Set(sessionIDHeader, id)
	}

	if c.Username != "" {
		req.SetBasicAuth(c.Username, c.Password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &daemon.NetworkError{Operation: method, APIMessage: err.Error(), Err: err}
	}

	return resp, nil
}

type torrentInfo struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	HashString string `json:"hashString"`
}

type addResponse struct {
	TorrentAdded     *torrentInfo `json:"torrent-added"`
	TorrentDuplicate *torrentInfo `json:"torrent-duplicate"`
}

// Add submits a magnet URI or torrent file URL. Both the torrent-added and
// torrent-duplicate response shapes normalize into the same result; anything
// else comes back as a failed result, never an error.
func (c *Client) Add(ctx context.Context, url, downloadDir string) daemon.AddResult {
	logger := logctx.LoggerFromContext(ctx).With("method", "torrent-add")

	args := map[string]any{"filename": url}
	if downloadDir != "" {
		args["download-dir"] = downloadDir
	}

	var resp addResponse
	if err := c.call(ctx, "torrent-add", args, &resp); err != nil {
		logger.Error("torrent submission failed", "err", err)

		return daemon.AddResult{Error: err.Error()}
	}

	info := resp.TorrentAdded
	if info == nil {
		info = resp.TorrentDuplicate
	}

	if info == nil {
		logger.Warn("unexpected torrent-add response shape")

		return daemon.AddResult{Error: "unexpected torrent-add response shape"}
	}

	hash := strings.ToLower(info.HashString)
	if hash == "" {
		hash = daemon.ExtractHash(url)
	}

	return daemon.AddResult{
		Success: true,
		ID:      info.ID,
		Hash:    hash,
		Name:    info.Name,
	}
}

// AddMetainfo submits raw torrent metainfo. The payload is validated as
// bencode before upload so obviously broken files never reach the daemon.
func (c *Client) AddMetainfo(ctx context.Context, metainfo []byte, filename, downloadDir string) daemon.AddResult {
	var decoded any
	if err := bencode.DecodeBytes(metainfo, &decoded); err != nil {
		invalidErr := &daemon.InvalidContentError{
			Filename: filename,
			Reason:   "payload is not valid bencode",
			Err:      err,
		}

		return daemon.AddResult{Error: invalidErr.Error()}
	}

	args := map[string]any{"metainfo": base64.StdEncoding.EncodeToString(metainfo)}
	if downloadDir != "" {
		args["download-dir"] = downloadDir
	}

	var resp addResponse
	if err := c.call(ctx, "torrent-add", args, &resp); err != nil {
		return daemon.AddResult{Error: err.Error()}
	}

	info := resp.TorrentAdded
	if info == nil {
		info = resp.TorrentDuplicate
	}

	if info == nil {
		return daemon.AddResult{Error: "unexpected torrent-add response shape"}
	}

	return daemon.AddResult{
		Success: true,
		ID:      info.ID,
		Hash:    strings.ToLower(info.HashString),
		Name:    info.Name,
	}
}

type torrentDetails struct {
	ID             int64        `json:"id"`
	Name           string       `json:"name"`
	HashString     string       `json:"hashString"`
	Status         int          `json:"status"`
	PercentDone    float64      `json:"percentDone"`
	RateDownload   int64        `json:"rateDownload"`
	RateUpload     int64        `json:"rateUpload"`
	Seeders        int64        `json:"seeders"`
	PeersConnected int64        `json:"peersConnected"`
	ETA            int64        `json:"eta"`
	SizeWhenDone   int64        `json:"sizeWhenDone"`
	DownloadedEver int64        `json:"downloadedEver"`
	Files          []fileDetail `json:"files"`
}

type fileDetail struct {
	Name string `json:"name"`
}

var progressFields = []string{
	"id", "name", "hashString", "status", "percentDone",
	"rateDownload", "rateUpload", "seeders", "peersConnected",
	"eta", "sizeWhenDone", "downloadedEver", "files",
}

// Progress looks up one torrent by hash. A nil snapshot with a nil error
// means the daemon no longer knows the hash.
func (c *Client) Progress(ctx context.Context, hash string) (*daemon.ProgressSnapshot, error) {
	var resp struct {
		Torrents []torrentDetails `json:"torrents"`
	}

	if err := c.call(ctx, "torrent-get", map[string]any{"fields": progressFields}, &resp); err != nil {
		return nil, err
	}

	for _, t := range resp.Torrents {
		if !strings.EqualFold(t.HashString, hash) {
			continue
		}

		snapshot := &daemon.ProgressSnapshot{
			ID:              t.ID,
			Name:            t.Name,
			Hash:            strings.ToLower(t.HashString),
			Percent:         math.Round(t.PercentDone*100*100) / 100,
			Status:          statusLabel(t.Status),
			DownloadRate:    t.RateDownload,
			UploadRate:      t.RateUpload,
			Seeders:         t.Seeders,
			Peers:           t.PeersConnected,
			DownloadedBytes: t.DownloadedEver,
			TotalBytes:      t.SizeWhenDone,
			ETA:             t.ETA,
		}

		for _, f := range t.Files {
			snapshot.Files = append(snapshot.Files, f.Name)
		}

		return snapshot, nil
	}

	return nil, nil
}

// Remove deletes torrents from the daemon, optionally with their data.
func (c *Client) Remove(ctx context.Context, ids []int64, deleteLocalData bool) error {
	return c.call(ctx, "torrent-remove", map[string]any{
		"ids":               ids,
		"delete-local-data": deleteLocalData,
	}, nil)
}

// statusLabel maps the daemon's numeric torrent states to stable labels.
func statusLabel(status int) string {
	switch status {
	case 0:
		return daemon.StatusStopped
	case 1:
		return daemon.StatusCheckQueued
	case 2:
		return daemon.StatusChecking
	case 3:
		return daemon.StatusDownloadQueued
	case 4:
		return daemon.StatusDownloading
	case 5:
		return daemon.StatusSeedQueued
	case 6:
		return daemon.StatusSeeding
	default:
		return daemon.StatusUnknown
	}
}

// Ensure Client implements the daemon boundary.
var _ daemon.Client = (*Client)(nil)
