package notice

import (
	"context"
	"time"
)

// Fetcher retrieves the raw markup of the board listing.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Extractor turns listing markup into posts, newest first.
type Extractor interface {
	Extract(markup string, limit int) ([]Post, error)
}

// DeliveryChecker answers whether a link was already delivered.
type DeliveryChecker interface {
	IsDelivered(ctx context.Context, link string) (bool, error)
}

// Ledger is the durable store of delivered posts and subscribers. Every method
// must be safe for concurrent use by overlapping dispatch cycles.
type Ledger interface {
	DeliveryChecker
	// MarkDelivered records the link. Marking an existing link is a no-op.
	MarkDelivered(ctx context.Context, link, title string) error
	// ListSubscribers returns subscriber ids in subscription order.
	ListSubscribers(ctx context.Context) ([]string, error)
	// AddSubscriber reports true when the id was newly added.
	AddSubscriber(ctx context.Context, userID string) (bool, error)
	// RemoveSubscriber reports true when the id existed and was removed.
	RemoveSubscriber(ctx context.Context, userID string) (bool, error)
}

// AdminLedger extends Ledger with the administrative operations exposed by
// the admin endpoint.
type AdminLedger interface {
	Ledger
	IsSubscribed(ctx context.Context, userID string) (bool, error)
	ClearSubscribers(ctx context.Context) (int64, error)
	ClearDelivered(ctx context.Context) (int64, error)
	CountDelivered(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
}

// Sender pushes one post to one recipient. Failures are reported as false and
// never returned as errors.
type Sender interface {
	Send(ctx context.Context, recipient string, post Post) bool
}

// Archiver keeps a copy of listing markup that could not be turned into posts.
type Archiver interface {
	Archive(ctx context.Context, markup string) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
