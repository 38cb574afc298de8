// Package trigger calls the service's crawl endpoint, once or on a cron
// schedule, for deployments whose scheduler can only run commands.
package trigger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	tokenHeader    = "X-CRON-TOKEN"
	crawlPath      = "/crawl-and-notify"
	defaultTimeout = 60 * time.Second
)

// ErrMissingToken is returned when no scheduler token is configured.
var ErrMissingToken = errors.New("scheduler token is not set")

// Config describes the endpoint to call.
type Config struct {
	ServiceURL string
	Token      string
	Timeout    time.Duration
}

// Response mirrors the JSON body of the crawl endpoint.
type Response struct {
	Status          string `json:"status"`
	Message         string `json:"message"`
	PostsCount      int    `json:"posts_count"`
	TotalSent       int    `json:"total_sent"`
	RecipientsCount int    `json:"recipients_count"`
	Failed          int    `json:"failed"`
}

// StatusError reports a non-200 answer from the service.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("crawl endpoint returned HTTP %d: %s", e.StatusCode, e.Body)
}

// Client posts to the crawl endpoint.
type Client struct {
	url        string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

// New validates cfg and builds a Client. A nil httpClient gets one with
// cfg.Timeout.
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	if cfg.Token == "" {
		return nil, ErrMissingToken
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.ServiceURL), "/")
	if base == "" {
		return nil, errors.New("service url is not set")
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
	return &Client{
		url:        base + crawlPath,
		token:      cfg.Token,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Trigger runs one crawl-and-notify cycle on the service.
func (c *Client) Trigger(ctx context.Context) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(nil))
	if err != nil {
		return Response{}, fmt.Errorf("build trigger request: %w", err)
	}
	req.Header.Set(tokenHeader, c.token)
	req.Header.Set("Content-Type", "application/json")

	c.logger.Info("triggering crawl", zap.String("url", c.url))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("call crawl endpoint: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Response{}, fmt.Errorf("read trigger response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Response{}, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return Response{}, fmt.Errorf("decode trigger response: %w", err)
	}
	if out.Message == "" {
		out.Message = "작업 완료"
	}
	return out, nil
}
