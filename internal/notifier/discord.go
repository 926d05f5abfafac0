package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Notifier pushes user-facing messages about pipeline events.
type Notifier interface {
	Notify(ctx context.Context, content string) error
}

// webhookPayload is the slice of Discord's webhook body the service uses.
type webhookPayload struct {
	Content  string `json:"content"`
	Username string `json:"username,omitempty"`
}

// DiscordNotifier posts messages to a Discord webhook.
type DiscordNotifier struct {
	webhookURL string
	username   string
	httpClient *http.Client
}

func NewDiscordNotifier(webhookURL string) *DiscordNotifier {
	return &DiscordNotifier{
		webhookURL: webhookURL,
		username:   "cinepipe",
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DiscordNotifier) Notify(ctx context.Context, content string) error {
	if d.webhookURL == "" {
		return fmt.Errorf("webhook URL is not set")
	}

	body, err := json.Marshal(webhookPayload{Content: content, Username: d.username})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook failed with status %d", resp.StatusCode)
	}

	return nil
}

// ReadyToStream formats the message sent once a movie has finished
// downloading and converting.
func ReadyToStream(title, imdbID string) string {
	return fmt.Sprintf("✅ Ready to stream: %s (%s)", title, imdbID)
}

var _ Notifier = (*DiscordNotifier)(nil)
