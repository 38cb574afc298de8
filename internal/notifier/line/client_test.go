package line

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/notice-notifier/internal/notice"
)

type capturedPush struct {
	auth string
	body pushRequest
}

func newLineServer(t *testing.T, status int) (*httptest.Server, *[]capturedPush) {
	t.Helper()
	var got []capturedPush
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != pushPath || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var req pushRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		got = append(got, capturedPush{auth: r.Header.Get("Authorization"), body: req})
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestSendPushesNoticeWithQuickReplies(t *testing.T) {
	t.Parallel()

	srv, got := newLineServer(t, http.StatusOK)
	c := New(Config{APIBase: srv.URL + "/", ChannelAccessToken: "tok"}, srv.Client(), nil)

	ok := c.Send(context.Background(), "U123", notice.Post{Title: "수강신청", Link: "https://board/1"})
	require.True(t, ok)
	require.Len(t, *got, 1)

	push := (*got)[0]
	require.Equal(t, "Bearer tok", push.auth)
	require.Equal(t, "U123", push.body.To)
	require.Len(t, push.body.Messages, 1)
	msg := push.body.Messages[0]
	require.Equal(t, "text", msg.Type)
	require.Equal(t, "📢 [새 학사공지]\n\n수강신청\n\n🔗 자세히 보기: https://board/1", msg.Text)
	require.NotNil(t, msg.QuickReply)
	require.Len(t, msg.QuickReply.Items, 2)
	require.Equal(t, KeywordUnsubscribe, msg.QuickReply.Items[0].Action.Text)
	require.Equal(t, "message", msg.QuickReply.Items[0].Action.Type)
}

func TestSendReportsFailureOnNon200(t *testing.T) {
	t.Parallel()

	srv, _ := newLineServer(t, http.StatusBadRequest)
	c := New(Config{APIBase: srv.URL, ChannelAccessToken: "tok"}, srv.Client(), nil)

	require.False(t, c.Send(context.Background(), "U1", notice.Post{Title: "t", Link: "l"}))
}

func TestSendReportsFailureOnNetworkError(t *testing.T) {
	t.Parallel()

	srv, _ := newLineServer(t, http.StatusOK)
	base := srv.URL
	srv.Close()

	c := New(Config{APIBase: base, ChannelAccessToken: "tok"}, nil, nil)
	require.False(t, c.Send(context.Background(), "U1", notice.Post{Title: "t", Link: "l"}))
}

func TestPushWithoutTokenFails(t *testing.T) {
	t.Parallel()

	c := New(Config{}, nil, nil)
	require.Error(t, c.Push(context.Background(), "U1", GreetingMessage()))
	require.False(t, c.Reply(context.Background(), "U1", GreetingMessage()))
}

func TestReplyOmitsEmptyQuickReply(t *testing.T) {
	t.Parallel()

	srv, got := newLineServer(t, http.StatusOK)
	c := New(Config{APIBase: srv.URL, ChannelAccessToken: "tok"}, srv.Client(), nil)

	require.True(t, c.Reply(context.Background(), "U1", GreetingMessage()))
	require.Nil(t, (*got)[0].body.Messages[0].QuickReply)

	raw, err := json.Marshal(GreetingMessage())
	require.NoError(t, err)
	require.NotContains(t, string(raw), "quickReply")
}

func TestHelpMessageButtons(t *testing.T) {
	t.Parallel()

	msg := HelpMessage()
	require.Len(t, msg.QuickReply.Items, 3)
	labels := []string{}
	for _, item := range msg.QuickReply.Items {
		labels = append(labels, item.Action.Label)
	}
	require.Equal(t, []string{"구독하기", "최신공지", "도움말"}, labels)
	require.Equal(t, KeywordSubscribe, UnsubscribedMessage().QuickReply.Items[0].Action.Text)
}
