package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/notice-notifier/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{Port: 8080, RequestTimeout: 5},
		Board: config.BoardConfig{
			ListURL:       "http://127.0.0.1:0/list",
			ViewBaseURL:   "https://board.example/view",
			BoardActionID: "BOARD",
			Window:        10,
		},
		Fetch: config.FetchConfig{TimeoutSeconds: 1, MaxAttempts: 1},
		Notifier: config.NotifierConfig{
			Transport:   "line",
			Concurrency: 1,
			Line:        config.LineConfig{ChannelSecret: "secret"},
		},
		Webhook:  config.WebhookConfig{Enabled: true},
		Snapshot: config.SnapshotConfig{Backend: "memory", Prefix: "listings"},
	}
}

func get(t *testing.T, app *App, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestBuildInMemory(t *testing.T) {
	cfg := testConfig(t)
	app, err := BuildWithLogger(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	require.Nil(t, app.pgLedger)
	require.NotNil(t, app.pipeline)

	rec := get(t, app, http.MethodGet, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok","service":"noticebot","platform":"line"}`, rec.Body.String())

	require.Equal(t, http.StatusOK, get(t, app, http.MethodGet, "/readyz").Code)
	// Unsigned webhook calls are rejected once the route is mounted.
	require.Equal(t, http.StatusBadRequest, get(t, app, http.MethodPost, "/line/webhook").Code)
}

func TestBuildWebhookDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Webhook.Enabled = false
	app, err := BuildWithLogger(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)

	require.Equal(t, http.StatusNotFound, get(t, app, http.MethodPost, "/line/webhook").Code)
}

func TestBuildLocalSnapshots(t *testing.T) {
	cfg := testConfig(t)
	cfg.Snapshot = config.SnapshotConfig{Backend: "local", LocalDir: t.TempDir()}
	_, err := BuildWithLogger(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
}

func TestBuildTelegramRequiresToken(t *testing.T) {
	cfg := testConfig(t)
	cfg.Notifier.Transport = "telegram"
	_, err := BuildWithLogger(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	require.Contains(t, err.Error(), "telegram")
}

func TestBuildTelegramWithoutLineSkipsWebhook(t *testing.T) {
	cfg := testConfig(t)
	cfg.Notifier.Transport = "telegram"
	cfg.Notifier.Telegram.BotToken = "123456:ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghi"
	app, err := BuildWithLogger(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)

	rec := get(t, app, http.MethodGet, "/")
	require.Contains(t, rec.Body.String(), `"platform":"telegram"`)
	require.Equal(t, http.StatusNotFound, get(t, app, http.MethodPost, "/line/webhook").Code)
}

func TestNewAppRequiresConfig(t *testing.T) {
	_, err := NewApp(nil, nil)
	require.Error(t, err)
}
