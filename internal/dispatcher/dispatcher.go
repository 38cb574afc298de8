// Package dispatcher fans new posts out to recipients and records delivery.
package dispatcher

import (
	"context"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/notice-notifier/internal/metrics"
	"github.com/JakeFAU/notice-notifier/internal/notice"
)

// Ledger is the slice of the delivery ledger the dispatcher needs.
type Ledger interface {
	ListSubscribers(ctx context.Context) ([]string, error)
	MarkDelivered(ctx context.Context, link, title string) error
}

// Pacer throttles outbound sends.
type Pacer interface {
	Wait(ctx context.Context, key string) error
}

// Config controls recipient resolution and fan-out.
type Config struct {
	// Recipients, when non-empty, replaces the subscriber list entirely.
	Recipients []string
	// Concurrency bounds parallel sends for a single post.
	Concurrency int
	// Transport names the outbound channel; it keys the pacer.
	Transport string
}

// Dispatcher sends each post to every recipient, then marks it delivered.
type Dispatcher struct {
	cfg    Config
	sender notice.Sender
	ledger Ledger
	pacer  Pacer
	logger *zap.Logger
}

// New creates a Dispatcher. pacer may be nil.
func New(cfg Config, sender notice.Sender, ledger Ledger, pacer Pacer, logger *zap.Logger) *Dispatcher {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	cfg.Recipients = normalize(cfg.Recipients)
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{cfg: cfg, sender: sender, ledger: ledger, pacer: pacer, logger: logger}
}

// ResolveRecipients returns the configured recipients when set, otherwise a
// snapshot of the current subscribers.
func (d *Dispatcher) ResolveRecipients(ctx context.Context) ([]string, error) {
	if len(d.cfg.Recipients) > 0 {
		return append([]string(nil), d.cfg.Recipients...), nil
	}
	subs, err := d.ledger.ListSubscribers(ctx)
	if err != nil {
		return nil, notice.LedgerError("list subscribers", err)
	}
	return subs, nil
}

// Dispatch delivers posts in the order given. Send failures are tallied and
// never stop the pass; a ledger failure does, and the partial report is
// returned alongside the error.
func (d *Dispatcher) Dispatch(ctx context.Context, posts []notice.Post) (notice.DispatchReport, error) {
	var report notice.DispatchReport
	if len(posts) == 0 {
		return report, nil
	}

	recipients, err := d.ResolveRecipients(ctx)
	if err != nil {
		return report, err
	}
	report.RecipientsCount = len(recipients)
	if len(recipients) == 0 {
		d.logger.Warn("no recipients; posts will be marked delivered without sending",
			zap.Int("posts", len(posts)))
	}

	for _, post := range posts {
		sent, failed := d.fanOut(ctx, post, recipients)
		report.TotalSent += sent
		report.Failed += failed

		if err := d.ledger.MarkDelivered(ctx, post.Link, post.Title); err != nil {
			d.logger.Error("mark delivered failed", zap.String("link", post.Link), zap.Error(err))
			return report, notice.LedgerError("mark delivered", err)
		}
		report.PostsCount++
		d.logger.Info("post dispatched",
			zap.String("link", post.Link),
			zap.Int("sent", sent),
			zap.Int("failed", failed),
		)
	}
	return report, nil
}

func (d *Dispatcher) fanOut(ctx context.Context, post notice.Post, recipients []string) (int, int) {
	var sent, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(d.cfg.Concurrency)

	for _, recipient := range recipients {
		g.Go(func() error {
			if d.pacer != nil {
				if err := d.pacer.Wait(ctx, d.cfg.Transport); err != nil {
					failed.Add(1)
					metrics.ObserveNotification(false)
					d.logger.Warn("send skipped", zap.String("recipient", recipient), zap.Error(err))
					return nil
				}
			}
			ok := d.sender.Send(ctx, recipient, post)
			metrics.ObserveNotification(ok)
			if ok {
				sent.Add(1)
				return nil
			}
			failed.Add(1)
			d.logger.Warn("send failed",
				zap.String("recipient", recipient),
				zap.String("link", post.Link),
			)
			return nil
		})
	}
	_ = g.Wait()
	return int(sent.Load()), int(failed.Load())
}

func normalize(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
