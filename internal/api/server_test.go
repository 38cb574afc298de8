package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/notice-notifier/internal/clock/system"
	"github.com/JakeFAU/notice-notifier/internal/notice"
	"github.com/JakeFAU/notice-notifier/internal/storage/memory"
)

func TestRoot(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestServer(Options{Platform: "line"})
	rec := do(s, http.MethodGet, "/", nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok","service":"noticebot","platform":"line"}`, rec.Body.String())
}

func TestHealthAndReady(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestServer(Options{})
	require.Equal(t, http.StatusOK, do(s, http.MethodGet, "/healthz", nil, nil).Code)

	rec := do(s, http.MethodGet, "/readyz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ready")
}

func TestReadyzLedgerDown(t *testing.T) {
	t.Parallel()

	ledger := &pingFailLedger{Ledger: memory.NewLedger(system.Clock{})}
	s := NewServer(&fakeCycle{}, ledger, Options{}, zap.NewNop())

	rec := do(s, http.MethodGet, "/readyz", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestServer(Options{})
	do(s, http.MethodGet, "/healthz", nil, nil)
	rec := do(s, http.MethodGet, "/metrics", nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestCrawlAndNotifyRequiresToken(t *testing.T) {
	t.Parallel()

	s, cycle, _ := newTestServer(Options{TriggerToken: "cron-secret"})

	rec := do(s, http.MethodPost, "/crawl-and-notify", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.JSONEq(t, `{"status":"error","message":"unauthorized"}`, rec.Body.String())

	rec = do(s, http.MethodPost, "/crawl-and-notify", nil, map[string]string{TriggerTokenHeader: "wrong"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Zero(t, cycle.runs())

	rec = do(s, http.MethodPost, "/crawl-and-notify", nil, map[string]string{TriggerTokenHeader: "cron-secret"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, cycle.runs())
}

func TestCrawlAndNotifyNoNewPosts(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestServer(Options{})
	rec := do(s, http.MethodPost, "/crawl-and-notify", nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t,
		`{"status":"success","message":"새 공지 없음","posts_count":0,"total_sent":0,"recipients_count":0,"failed":0}`,
		rec.Body.String())
}

func TestCrawlAndNotifyReport(t *testing.T) {
	t.Parallel()

	s, cycle, _ := newTestServer(Options{})
	cycle.report = notice.DispatchReport{PostsCount: 2, TotalSent: 5, RecipientsCount: 3, Failed: 1}

	rec := do(s, http.MethodPost, "/crawl-and-notify", nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{
		"status":"success",
		"message":"새 공지 2개 발송 완료",
		"posts_count":2,
		"total_sent":5,
		"recipients_count":3,
		"failed":1
	}`, rec.Body.String())
}

func TestCrawlAndNotifyFailure(t *testing.T) {
	t.Parallel()

	s, cycle, _ := newTestServer(Options{})
	cycle.runErr = notice.LedgerError("mark delivered", errors.New("connection refused"))

	rec := do(s, http.MethodPost, "/crawl-and-notify", nil, nil)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "error", body["status"])
	require.Contains(t, body["message"], "작업 오류: ")
	require.Contains(t, body["message"], "connection refused")
}

func TestCrawlAndNotifyIgnoresClientCancel(t *testing.T) {
	t.Parallel()

	s, cycle, _ := newTestServer(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/crawl-and-notify", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Eventually(t, func() bool { return cycle.runs() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, cycle.ctxErr())
}

func TestStatus(t *testing.T) {
	t.Parallel()

	post := notice.Post{ID: "7", Title: "등록금 납부", Link: "https://board/7"}
	tests := []struct {
		name          string
		status        notice.LatestStatus
		err           error
		code          int
		crawlerStatus string
	}{
		{"working", notice.LatestStatus{Post: post, Delivered: true}, nil, http.StatusOK, "working"},
		{"empty board", notice.LatestStatus{}, notice.ErrNoPosts, http.StatusInternalServerError, "failed"},
		{"fetch failure", notice.LatestStatus{}, &notice.FetchError{Kind: notice.FetchTimeout, Err: context.DeadlineExceeded}, http.StatusInternalServerError, "failed"},
		{"ledger failure", notice.LatestStatus{}, notice.LedgerError("check delivered", errors.New("down")), http.StatusInternalServerError, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, cycle, _ := newTestServer(Options{})
			cycle.latest = tt.status
			cycle.latestErr = tt.err

			rec := do(s, http.MethodGet, "/status", nil, nil)
			require.Equal(t, tt.code, rec.Code)

			var body statusResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Equal(t, tt.crawlerStatus, body.CrawlerStatus)
			if tt.err == nil {
				require.Equal(t, "success", body.Status)
				require.Equal(t, &latestPost{Title: post.Title, Link: post.Link, IsSent: true}, body.LatestPost)
			} else {
				require.Equal(t, "error", body.Status)
				require.Nil(t, body.LatestPost)
			}
		})
	}
}

func TestWebhookMountedOnlyWhenProvided(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestServer(Options{})
	require.Equal(t, http.StatusNotFound, do(s, http.MethodPost, "/line/webhook", nil, nil).Code)

	hook := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	s, _, _ = newTestServer(Options{Webhook: hook})
	require.Equal(t, http.StatusAccepted, do(s, http.MethodPost, "/line/webhook", nil, nil).Code)
}

func TestAdminRequiresToken(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestServer(Options{AdminToken: "admin"})
	require.Equal(t, http.StatusUnauthorized, do(s, http.MethodGet, "/admin/db", nil, nil).Code)
	require.Equal(t, http.StatusOK,
		do(s, http.MethodGet, "/admin/db", nil, map[string]string{AdminTokenHeader: "admin"}).Code)
}

func TestAdminListEmpty(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestServer(Options{})
	rec := do(s, http.MethodGet, "/admin/db", nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"success","subscribers":[],"subscribers_count":0,"sent_posts_count":0}`,
		rec.Body.String())
}

func TestAdminActions(t *testing.T) {
	t.Parallel()

	s, _, ledger := newTestServer(Options{})
	ctx := context.Background()
	require.NoError(t, ledger.MarkDelivered(ctx, "https://board/1", "one"))

	rec := do(s, http.MethodPost, "/admin/db", []byte(`{"action":"add_subscriber","chat_id":"U1"}`), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "구독자 U1 추가됨")

	rec = do(s, http.MethodPost, "/admin/db", []byte(`{"action":"add_subscriber","chat_id":12345}`), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	subs, err := ledger.ListSubscribers(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"U1", "12345"}, subs)

	rec = do(s, http.MethodGet, "/admin/db", nil, nil)
	require.JSONEq(t, `{"status":"success","subscribers":["U1","12345"],"subscribers_count":2,"sent_posts_count":1}`,
		rec.Body.String())

	rec = do(s, http.MethodPost, "/admin/db", []byte(`{"action":"remove_subscriber","chat_id":"U1"}`), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "구독자 U1 제거됨")

	rec = do(s, http.MethodPost, "/admin/db", []byte(`{"action":"clear_subscribers"}`), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"removed":1`)

	rec = do(s, http.MethodPost, "/admin/db", []byte(`{"action":"clear_sent_posts"}`), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	delivered, err := ledger.IsDelivered(ctx, "https://board/1")
	require.NoError(t, err)
	require.False(t, delivered)
	subs, err = ledger.ListSubscribers(ctx)
	require.NoError(t, err)
	require.Empty(t, subs)
}

func TestAdminBadRequests(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestServer(Options{})
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown action", `{"action":"drop_tables"}`, "알 수 없는 액션"},
		{"missing chat id", `{"action":"add_subscriber"}`, "chat_id"},
		{"blank chat id", `{"action":"remove_subscriber","chat_id":"   "}`, "chat_id"},
		{"invalid json", `{`, "invalid JSON"},
	}
	for _, tt := range tests {
		rec := do(s, http.MethodPost, "/admin/db", []byte(tt.body), nil)
		require.Equal(t, http.StatusBadRequest, rec.Code, tt.name)
		require.Contains(t, rec.Body.String(), tt.want, tt.name)
	}
}

func TestAdminAddTrimsChatID(t *testing.T) {
	t.Parallel()

	s, _, ledger := newTestServer(Options{})
	rec := do(s, http.MethodPost, "/admin/db", []byte(`{"action":"add_subscriber","chat_id":"  U7 "}`), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "구독자 U7 추가됨")

	subscribed, err := ledger.IsSubscribed(context.Background(), "U7")
	require.NoError(t, err)
	require.True(t, subscribed)
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestServer(Options{})
	rec := do(s, http.MethodGet, "/healthz", nil, nil)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = do(s, http.MethodGet, "/healthz", nil, map[string]string{"X-Request-ID": "abc-123"})
	require.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

// --- helpers/fakes ---

type fakeCycle struct {
	mu         sync.Mutex
	calls      int
	lastCtxErr error
	report     notice.DispatchReport
	runErr     error
	latest     notice.LatestStatus
	latestErr  error
}

func (c *fakeCycle) Run(ctx context.Context) (notice.DispatchReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.lastCtxErr = ctx.Err()
	return c.report, c.runErr
}

func (c *fakeCycle) Latest(context.Context) (notice.LatestStatus, error) {
	return c.latest, c.latestErr
}

func (c *fakeCycle) ctxErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastCtxErr
}

func (c *fakeCycle) runs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type pingFailLedger struct {
	*memory.Ledger
}

func (pingFailLedger) Ping(context.Context) error {
	return errors.New("no route to host")
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}

func newTestServer(opts Options) (*Server, *fakeCycle, *memory.Ledger) {
	cycle := &fakeCycle{}
	ledger := memory.NewLedger(system.Clock{})
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = 5 * time.Second
	}
	return NewServer(cycle, ledger, opts, zap.NewNop()), cycle, ledger
}

func do(s *Server, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}
