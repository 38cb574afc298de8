package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/notice-notifier/internal/metrics"
	"github.com/JakeFAU/notice-notifier/internal/notice"
	"github.com/JakeFAU/notice-notifier/internal/notifier/line"
)

// SignatureHeader carries the base64 HMAC of the raw request body.
const SignatureHeader = "X-Line-Signature"

const maxBodyBytes = 1 << 20

// SubscriberStore is the part of the ledger the commands mutate.
type SubscriberStore interface {
	AddSubscriber(ctx context.Context, userID string) (bool, error)
	RemoveSubscriber(ctx context.Context, userID string) (bool, error)
}

// Replier sends a reply message to a user.
type Replier interface {
	Reply(ctx context.Context, to string, msg line.TextMessage) bool
}

// LatestProvider looks up the newest post on the board.
type LatestProvider interface {
	Latest(ctx context.Context) (notice.LatestStatus, error)
}

// Handler serves the LINE webhook endpoint.
type Handler struct {
	secret  string
	store   SubscriberStore
	replier Replier
	latest  LatestProvider
	logger  *zap.Logger
}

// New creates a Handler. Requests never verify when secret is empty.
func New(secret string, store SubscriberStore, replier Replier, latest LatestProvider, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if secret == "" {
		logger.Warn("LINE channel secret is not set; every webhook request will be rejected")
	}
	return &Handler{secret: secret, store: store, replier: replier, latest: latest, logger: logger}
}

type payload struct {
	Events []event `json:"events"`
}

type event struct {
	Type   string `json:"type"`
	Source struct {
		UserID string `json:"userId"`
	} `json:"source"`
	Message struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"message"`
}

// ServeHTTP verifies the request and handles every message event in it.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	signature := r.Header.Get(SignatureHeader)
	if signature == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing signature"})
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Unreadable body"})
		return
	}
	if !VerifySignature(h.secret, body, signature) {
		h.logger.Warn("webhook signature mismatch")
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid signature"})
		return
	}

	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		h.logger.Warn("webhook payload is not valid JSON", zap.Error(err))
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	ctx := context.WithoutCancel(r.Context())
	for _, ev := range p.Events {
		userID := notice.NormalizeSubscriberID(ev.Source.UserID)
		if ev.Type != "message" || userID == "" {
			continue
		}
		h.handle(ctx, userID, ev.Message.Text)
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handle(ctx context.Context, userID, text string) {
	cmd := ParseCommand(text)
	metrics.ObserveWebhookCommand(string(cmd))
	logger := h.logger.With(zap.String("user_id", userID), zap.String("command", string(cmd)))
	logger.Info("webhook command received")

	var reply line.TextMessage
	switch cmd {
	case CommandHelp:
		reply = line.HelpMessage()
	case CommandSubscribe:
		if _, err := h.store.AddSubscriber(ctx, userID); err != nil {
			logger.Error("add subscriber failed", zap.Error(err))
			return
		}
		reply = line.SubscribedMessage()
	case CommandUnsubscribe:
		if _, err := h.store.RemoveSubscriber(ctx, userID); err != nil {
			logger.Error("remove subscriber failed", zap.Error(err))
			return
		}
		reply = line.UnsubscribedMessage()
	case CommandLatest:
		reply = h.latestReply(ctx, logger)
	default:
		reply = line.GreetingMessage()
	}

	if !h.replier.Reply(ctx, userID, reply) {
		logger.Warn("reply not delivered")
	}
}

func (h *Handler) latestReply(ctx context.Context, logger *zap.Logger) line.TextMessage {
	if h.latest == nil {
		return line.LatestUnavailableMessage()
	}
	status, err := h.latest.Latest(ctx)
	var fetchErr *notice.FetchError
	switch {
	case err == nil:
		return line.NoticeMessage(status.Post)
	case errors.Is(err, notice.ErrNoPosts), errors.As(err, &fetchErr):
		logger.Warn("latest post unavailable", zap.Error(err))
		return line.LatestUnavailableMessage()
	default:
		logger.Error("latest post lookup failed", zap.Error(err))
		return line.LatestErrorMessage()
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("write JSON failed", zap.Error(err))
	}
}
