package notice

import (
	"strings"
	"time"
)

// Post is a single notice-board entry. Link is the natural key: two posts are
// the same post iff their links match.
type Post struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Link  string `json:"link"`
}

// DeliveredPost records that a post has been through a dispatch pass.
type DeliveredPost struct {
	Link   string    `json:"link"`
	Title  string    `json:"title"`
	SentAt time.Time `json:"sent_at"`
}

// Subscriber is a chat user that opted in to notifications.
type Subscriber struct {
	UserID       string    `json:"user_id"`
	SubscribedAt time.Time `json:"subscribed_at"`
}

// NormalizeSubscriberID trims surrounding whitespace from a chat user id. An
// empty result is not a valid subscriber and ledgers ignore it.
func NormalizeSubscriberID(id string) string {
	return strings.TrimSpace(id)
}

// DispatchReport summarizes one dispatch pass.
type DispatchReport struct {
	PostsCount      int `json:"posts_count"`
	TotalSent       int `json:"total_sent"`
	RecipientsCount int `json:"recipients_count"`
	Failed          int `json:"failed"`
}

// LatestStatus describes the newest post on the board and whether it has
// already been delivered.
type LatestStatus struct {
	Post      Post `json:"post"`
	Delivered bool `json:"is_sent"`
}
