package notice

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeChecker struct {
	delivered map[string]bool
	calls     []string
	err       error
}

func (f *fakeChecker) IsDelivered(_ context.Context, link string) (bool, error) {
	f.calls = append(f.calls, link)
	if f.err != nil {
		return false, f.err
	}
	return f.delivered[link], nil
}

func makePosts(n int) []Post {
	posts := make([]Post, 0, n)
	for i := 1; i <= n; i++ {
		posts = append(posts, Post{
			ID:    fmt.Sprint(i),
			Title: fmt.Sprintf("post %d", i),
			Link:  fmt.Sprintf("https://board.example/view?schIdx=%d", i),
		})
	}
	return posts
}

func TestNewSinceLedger_StopsAtFirstDelivered(t *testing.T) {
	t.Parallel()

	posts := makePosts(4)
	checker := &fakeChecker{delivered: map[string]bool{posts[2].Link: true}}

	fresh, err := NewSinceLedger(context.Background(), posts, checker)
	require.NoError(t, err)
	require.Equal(t, posts[:2], fresh)
	require.Equal(t, []string{posts[0].Link, posts[1].Link, posts[2].Link}, checker.calls)
}

func TestNewSinceLedger_NewestAlreadyDelivered(t *testing.T) {
	t.Parallel()

	posts := makePosts(3)
	checker := &fakeChecker{delivered: map[string]bool{posts[0].Link: true}}

	fresh, err := NewSinceLedger(context.Background(), posts, checker)
	require.NoError(t, err)
	require.Empty(t, fresh)
	require.Len(t, checker.calls, 1)
}

func TestNewSinceLedger_ColdStartReturnsWholeWindow(t *testing.T) {
	t.Parallel()

	posts := makePosts(10)
	checker := &fakeChecker{delivered: map[string]bool{}}

	fresh, err := NewSinceLedger(context.Background(), posts, checker)
	require.NoError(t, err)
	require.Len(t, fresh, 10)
	require.Equal(t, posts, fresh)
}

func TestNewSinceLedger_EmptyInput(t *testing.T) {
	t.Parallel()

	fresh, err := NewSinceLedger(context.Background(), nil, &fakeChecker{})
	require.NoError(t, err)
	require.Empty(t, fresh)
}

func TestNewSinceLedger_LedgerFailureIsFatal(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection refused")
	_, err := NewSinceLedger(context.Background(), makePosts(2), &fakeChecker{err: boom})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrLedger)
	require.ErrorIs(t, err, boom)
}

func TestFetchErrorMessage(t *testing.T) {
	t.Parallel()

	httpErr := &FetchError{Kind: FetchHTTP, URL: "https://x", Attempts: 3, StatusCode: 503}
	require.Contains(t, httpErr.Error(), "503")

	cause := errors.New("dial tcp: refused")
	netErr := &FetchError{Kind: FetchNetwork, URL: "https://x", Attempts: 2, Err: cause}
	require.ErrorIs(t, netErr, cause)
	require.Contains(t, netErr.Error(), "network")
}
