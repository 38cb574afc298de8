// Package telegram pushes notices through the Telegram Bot API using telego.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	"go.uber.org/zap"

	"github.com/JakeFAU/notice-notifier/internal/logging"
	"github.com/JakeFAU/notice-notifier/internal/notice"
)

// DefaultAPIBase is the public Bot API server.
const DefaultAPIBase = "https://api.telegram.org"

// Config holds the bot credentials.
type Config struct {
	BotToken string
	APIBase  string
}

type messageSender interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
}

// Client implements notice.Sender over telego.
type Client struct {
	bot    messageSender
	logger *zap.Logger
}

// New validates the token and builds a Client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	if !strings.Contains(cfg.BotToken, ":") {
		return nil, fmt.Errorf("telegram bot token %s is malformed", logging.Redact(cfg.BotToken))
	}
	opts := []telego.BotOption{telego.WithDiscardLogger()}
	if base := strings.TrimRight(cfg.APIBase, "/"); base != "" && base != DefaultAPIBase {
		opts = append(opts, telego.WithAPIServer(base))
	}
	bot, err := telego.NewBot(cfg.BotToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return newWithSender(bot, logger), nil
}

func newWithSender(bot messageSender, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{bot: bot, logger: logger}
}

// FormatNotice renders the plain-text announcement for post.
func FormatNotice(post notice.Post) string {
	return fmt.Sprintf("[새 학사공지]\n%s\n\n🔗 %s", post.Title, post.Link)
}

// Send pushes post to recipient, a numeric chat id or an @channel username.
func (c *Client) Send(ctx context.Context, recipient string, post notice.Post) bool {
	chatID, err := parseChatID(recipient)
	if err != nil {
		c.logger.Warn("invalid telegram chat id", zap.String("recipient", recipient), zap.Error(err))
		return false
	}
	params := &telego.SendMessageParams{
		ChatID: chatID,
		Text:   FormatNotice(post),
	}
	if _, err := c.bot.SendMessage(ctx, params); err != nil {
		c.logger.Warn("telegram send failed", zap.String("recipient", recipient), zap.Error(err))
		return false
	}
	return true
}

func parseChatID(recipient string) (telego.ChatID, error) {
	recipient = strings.TrimSpace(recipient)
	if strings.HasPrefix(recipient, "@") && len(recipient) > 1 {
		return telego.ChatID{Username: recipient}, nil
	}
	id, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return telego.ChatID{}, fmt.Errorf("parse chat id: %w", err)
	}
	return telego.ChatID{ID: id}, nil
}
