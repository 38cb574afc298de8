// Package dispatcher contains tests for recipient resolution and fan-out.
package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/notice-notifier/internal/notice"
)

type fakeSender struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls []string
}

func (s *fakeSender) Send(_ context.Context, recipient string, post notice.Post) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, recipient+"|"+post.Link)
	return !s.fail[recipient]
}

type fakeLedger struct {
	mu          sync.Mutex
	subscribers []string
	listErr     error
	markErr     error
	marked      []string
	listCalls   int
}

func (l *fakeLedger) ListSubscribers(context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listCalls++
	if l.listErr != nil {
		return nil, l.listErr
	}
	return append([]string(nil), l.subscribers...), nil
}

func (l *fakeLedger) MarkDelivered(_ context.Context, link, _ string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.markErr != nil {
		return l.markErr
	}
	l.marked = append(l.marked, link)
	return nil
}

type countingPacer struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (p *countingPacer) Wait(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	return p.err
}

var posts = []notice.Post{
	{ID: "2", Title: "second", Link: "https://board/2"},
	{ID: "1", Title: "first", Link: "https://board/1"},
}

func TestDispatchUsesSubscribersWhenNoExplicitList(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	ledger := &fakeLedger{subscribers: []string{"u1", "u2"}}
	d := New(Config{}, sender, ledger, nil, zap.NewNop())

	report, err := d.Dispatch(context.Background(), posts)
	require.NoError(t, err)
	require.Equal(t, notice.DispatchReport{PostsCount: 2, TotalSent: 4, RecipientsCount: 2}, report)
	require.Equal(t, []string{"https://board/2", "https://board/1"}, ledger.marked)
	require.Equal(t, 1, ledger.listCalls)
}

func TestDispatchExplicitRecipientsTakePrecedence(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	ledger := &fakeLedger{subscribers: []string{"sub1", "sub2", "sub3"}}
	d := New(Config{Recipients: []string{" chat-a ", "", "chat-a", "chat-b"}}, sender, ledger, nil, nil)

	report, err := d.Dispatch(context.Background(), posts[:1])
	require.NoError(t, err)
	require.Equal(t, 2, report.RecipientsCount)
	require.Equal(t, 2, report.TotalSent)
	require.Zero(t, ledger.listCalls)
	require.ElementsMatch(t, []string{"chat-a|https://board/2", "chat-b|https://board/2"}, sender.calls)
}

func TestDispatchToleratesPartialFailure(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{fail: map[string]bool{"u2": true}}
	ledger := &fakeLedger{subscribers: []string{"u1", "u2"}}
	d := New(Config{}, sender, ledger, nil, nil)

	report, err := d.Dispatch(context.Background(), posts[:1])
	require.NoError(t, err)
	require.Equal(t, 1, report.TotalSent)
	require.Equal(t, 1, report.Failed)
	require.Equal(t, []string{"https://board/2"}, ledger.marked)
}

func TestDispatchMarksEvenWhenEverySendFails(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{fail: map[string]bool{"u1": true}}
	ledger := &fakeLedger{subscribers: []string{"u1"}}
	d := New(Config{}, sender, ledger, nil, nil)

	report, err := d.Dispatch(context.Background(), posts)
	require.NoError(t, err)
	require.Zero(t, report.TotalSent)
	require.Equal(t, 2, report.Failed)
	require.Len(t, ledger.marked, 2)
}

func TestDispatchWithoutRecipientsStillMarks(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	ledger := &fakeLedger{}
	d := New(Config{}, sender, ledger, nil, nil)

	report, err := d.Dispatch(context.Background(), posts)
	require.NoError(t, err)
	require.Equal(t, notice.DispatchReport{PostsCount: 2}, report)
	require.Empty(t, sender.calls)
	require.Len(t, ledger.marked, 2)
}

func TestDispatchNoPostsTouchesNothing(t *testing.T) {
	t.Parallel()

	ledger := &fakeLedger{subscribers: []string{"u1"}}
	d := New(Config{}, &fakeSender{}, ledger, nil, nil)

	report, err := d.Dispatch(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, notice.DispatchReport{}, report)
	require.Zero(t, ledger.listCalls)
}

func TestDispatchListFailureIsLedgerError(t *testing.T) {
	t.Parallel()

	ledger := &fakeLedger{listErr: errors.New("db down")}
	d := New(Config{}, &fakeSender{}, ledger, nil, nil)

	_, err := d.Dispatch(context.Background(), posts)
	require.ErrorIs(t, err, notice.ErrLedger)
}

func TestDispatchMarkFailureAbortsWithPartialReport(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	ledger := &fakeLedger{subscribers: []string{"u1"}, markErr: errors.New("write failed")}
	d := New(Config{}, sender, ledger, nil, nil)

	report, err := d.Dispatch(context.Background(), posts)
	require.ErrorIs(t, err, notice.ErrLedger)
	require.Equal(t, 1, report.TotalSent)
	require.Zero(t, report.PostsCount)
	require.Len(t, sender.calls, 1)
}

func TestDispatchConcurrentFanOutCountsEverySend(t *testing.T) {
	t.Parallel()

	subs := make([]string, 50)
	for i := range subs {
		subs[i] = string(rune('A'+i%26)) + string(rune('a'+i/26))
	}
	sender := &fakeSender{fail: map[string]bool{subs[0]: true, subs[1]: true}}
	ledger := &fakeLedger{subscribers: subs}
	pacer := &countingPacer{}
	d := New(Config{Concurrency: 8, Transport: "line"}, sender, ledger, pacer, nil)

	report, err := d.Dispatch(context.Background(), posts[:1])
	require.NoError(t, err)
	require.Equal(t, 48, report.TotalSent)
	require.Equal(t, 2, report.Failed)
	require.Len(t, pacer.keys, 50)
	require.Equal(t, "line", pacer.keys[0])
}

func TestDispatchPacerFailureCountsAsFailedSend(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	ledger := &fakeLedger{subscribers: []string{"u1"}}
	pacer := &countingPacer{err: context.Canceled}
	d := New(Config{}, sender, ledger, pacer, nil)

	report, err := d.Dispatch(context.Background(), posts[:1])
	require.NoError(t, err)
	require.Equal(t, 1, report.Failed)
	require.Empty(t, sender.calls)
	require.Len(t, ledger.marked, 1)
}
