package notice

import "context"

// NewSinceLedger walks posts newest first and returns the prefix that has not
// been delivered yet. The first already-delivered post is treated as the
// high-water mark: nothing after it is inspected, even if it is new.
func NewSinceLedger(ctx context.Context, posts []Post, ledger DeliveryChecker) ([]Post, error) {
	fresh := make([]Post, 0, len(posts))
	for _, post := range posts {
		delivered, err := ledger.IsDelivered(ctx, post.Link)
		if err != nil {
			return nil, LedgerError("check delivered", err)
		}
		if delivered {
			break
		}
		fresh = append(fresh, post)
	}
	return fresh, nil
}
