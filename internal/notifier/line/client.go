// Package line pushes notices and command replies through the LINE
// Messaging API.
package line

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/notice-notifier/internal/logging"
	"github.com/JakeFAU/notice-notifier/internal/notice"
)

const (
	// DefaultAPIBase is the production Messaging API host.
	DefaultAPIBase = "https://api.line.me"
	pushPath       = "/v2/bot/message/push"
	defaultTimeout = 10 * time.Second
)

// Config holds the channel credentials and endpoint.
type Config struct {
	APIBase            string
	ChannelAccessToken string
	Timeout            time.Duration
}

// Client implements notice.Sender over LINE push messages.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// New builds a Client. A nil httpClient gets one with cfg.Timeout.
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) *Client {
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultAPIBase
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ChannelAccessToken == "" {
		logger.Warn("LINE channel access token is not set; pushes will fail")
	} else {
		logger.Info("LINE channel configured", zap.String("token", logging.Redact(cfg.ChannelAccessToken)))
	}
	return &Client{cfg: cfg, httpClient: httpClient, logger: logger}
}

type pushRequest struct {
	To       string        `json:"to"`
	Messages []TextMessage `json:"messages"`
}

// Push sends messages to one user. Any non-200 response is an error.
func (c *Client) Push(ctx context.Context, to string, messages ...TextMessage) error {
	if c.cfg.ChannelAccessToken == "" {
		return fmt.Errorf("line push: channel access token is not configured")
	}
	if to == "" {
		return fmt.Errorf("line push: recipient is required")
	}
	body, err := json.Marshal(pushRequest{To: to, Messages: messages})
	if err != nil {
		return fmt.Errorf("marshal push request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIBase+pushPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.ChannelAccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("line push: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("line push: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Send pushes a notice for post to recipient and reports success.
func (c *Client) Send(ctx context.Context, recipient string, post notice.Post) bool {
	if err := c.Push(ctx, recipient, NoticeMessage(post)); err != nil {
		c.logger.Warn("notice push failed", zap.String("recipient", recipient), zap.Error(err))
		return false
	}
	c.logger.Debug("notice pushed", zap.String("recipient", recipient), zap.String("link", post.Link))
	return true
}

// Reply pushes a single message and reports success.
func (c *Client) Reply(ctx context.Context, to string, msg TextMessage) bool {
	if err := c.Push(ctx, to, msg); err != nil {
		c.logger.Warn("reply push failed", zap.String("recipient", to), zap.Error(err))
		return false
	}
	return true
}
