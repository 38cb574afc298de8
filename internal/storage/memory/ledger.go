package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/notice-notifier/internal/clock/system"
	"github.com/JakeFAU/notice-notifier/internal/notice"
)

// Ledger is an in-memory notice.AdminLedger. State is lost on restart.
type Ledger struct {
	mu          sync.RWMutex
	clock       notice.Clock
	delivered   map[string]notice.DeliveredPost
	subscribers []notice.Subscriber
}

// NewLedger constructs an empty Ledger. A nil clock uses the system clock.
func NewLedger(clock notice.Clock) *Ledger {
	if clock == nil {
		clock = system.New()
	}
	return &Ledger{
		clock:     clock,
		delivered: make(map[string]notice.DeliveredPost),
	}
}

// IsDelivered reports whether link has been marked.
func (l *Ledger) IsDelivered(_ context.Context, link string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.delivered[link]
	return ok, nil
}

// MarkDelivered records link. The first mark wins.
func (l *Ledger) MarkDelivered(_ context.Context, link, title string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.delivered[link]; ok {
		return nil
	}
	l.delivered[link] = notice.DeliveredPost{Link: link, Title: title, SentAt: l.clock.Now()}
	return nil
}

// Delivered returns the record for link, if any.
func (l *Ledger) Delivered(link string) (notice.DeliveredPost, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.delivered[link]
	return p, ok
}

// ListSubscribers returns ids in subscription order.
func (l *Ledger) ListSubscribers(_ context.Context) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.subscribers))
	for _, s := range l.subscribers {
		out = append(out, s.UserID)
	}
	return out, nil
}

// AddSubscriber adds userID unless it is already present.
func (l *Ledger) AddSubscriber(_ context.Context, userID string) (bool, error) {
	userID = notice.NormalizeSubscriberID(userID)
	if userID == "" {
		return false, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.indexOf(userID) >= 0 {
		return false, nil
	}
	l.subscribers = append(l.subscribers, notice.Subscriber{UserID: userID, SubscribedAt: l.clock.Now()})
	return true, nil
}

// RemoveSubscriber removes userID if present.
func (l *Ledger) RemoveSubscriber(_ context.Context, userID string) (bool, error) {
	userID = notice.NormalizeSubscriberID(userID)
	if userID == "" {
		return false, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	i := l.indexOf(userID)
	if i < 0 {
		return false, nil
	}
	l.subscribers = append(l.subscribers[:i], l.subscribers[i+1:]...)
	return true, nil
}

// IsSubscribed reports whether userID is subscribed.
func (l *Ledger) IsSubscribed(_ context.Context, userID string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.indexOf(notice.NormalizeSubscriberID(userID)) >= 0, nil
}

// ClearSubscribers removes every subscriber and returns how many there were.
func (l *Ledger) ClearSubscribers(_ context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := int64(len(l.subscribers))
	l.subscribers = nil
	return n, nil
}

// ClearDelivered forgets every delivered post.
func (l *Ledger) ClearDelivered(_ context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := int64(len(l.delivered))
	l.delivered = make(map[string]notice.DeliveredPost)
	return n, nil
}

// CountDelivered returns the number of delivered posts.
func (l *Ledger) CountDelivered(_ context.Context) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return int64(len(l.delivered)), nil
}

// Ping always succeeds.
func (l *Ledger) Ping(context.Context) error {
	return nil
}

// indexOf must be called with l.mu held.
func (l *Ledger) indexOf(userID string) int {
	for i, s := range l.subscribers {
		if s.UserID == userID {
			return i
		}
	}
	return -1
}

var _ notice.AdminLedger = (*Ledger)(nil)
