// Package notify delivers push notifications to an ntfy-compatible
// endpoint. Notifications are advisory: failures are logged and
// swallowed, and an unconfigured client is a silent no-op.
package notify

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Client posts messages to <server>/<topic>.
type Client struct {
	server     string
	topic      string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a notification client. Empty server or topic disables it.
func New(server, topic string, logger *slog.Logger) *Client {
	return &Client{
		server:     strings.TrimRight(server, "/"),
		topic:      topic,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With("component", "notify"),
	}
}

// Enabled reports whether a target is configured.
func (c *Client) Enabled() bool {
	return c.server != "" && c.topic != ""
}

// Send delivers a notification. tag and clickURL are optional. Errors
// never propagate to the caller.
func (c *Client) Send(ctx context.Context, title, body, tag, clickURL string) {
	if !c.Enabled() {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.server+"/"+c.topic, strings.NewReader(body))
	if err != nil {
		c.logger.Warn("building notification request failed", "error", err)
		return
	}
	req.Header.Set("X-Title", title)
	if tag != "" {
		req.Header.Set("X-Tags", tag)
	}
	if clickURL != "" {
		req.Header.Set("X-Click", clickURL)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("notification delivery failed", "title", title, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		c.logger.Warn("notification rejected", "title", title, "status", resp.StatusCode)
		return
	}
	c.logger.Debug("notification sent", "title", title, "tag", tag)
}
