// Package pipeline runs the dispatch cycle: fetch the board listing, extract
// posts, keep the ones not yet delivered, and dispatch them.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/notice-notifier/internal/metrics"
	"github.com/JakeFAU/notice-notifier/internal/notice"
)

// DefaultWindow is the catch-up window used when none is configured.
const DefaultWindow = 10

// Dispatcher delivers new posts and reports the tally.
type Dispatcher interface {
	Dispatch(ctx context.Context, posts []notice.Post) (notice.DispatchReport, error)
}

// Config controls what is fetched and how far back a cycle looks.
type Config struct {
	ListURL string
	Window  int
}

// Pipeline wires the cycle collaborators together.
type Pipeline struct {
	cfg        Config
	fetcher    notice.Fetcher
	extractor  notice.Extractor
	ledger     notice.DeliveryChecker
	dispatcher Dispatcher
	archiver   notice.Archiver
	logger     *zap.Logger
}

// New creates a Pipeline. archiver may be nil.
func New(
	cfg Config,
	fetcher notice.Fetcher,
	extractor notice.Extractor,
	ledger notice.DeliveryChecker,
	dispatcher Dispatcher,
	archiver notice.Archiver,
	logger *zap.Logger,
) *Pipeline {
	if cfg.Window < 1 {
		cfg.Window = DefaultWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		cfg:        cfg,
		fetcher:    fetcher,
		extractor:  extractor,
		ledger:     ledger,
		dispatcher: dispatcher,
		archiver:   archiver,
		logger:     logger,
	}
}

// Run executes one dispatch cycle. A fetch or ledger failure fails the cycle;
// an unreadable listing counts as zero posts.
func (p *Pipeline) Run(ctx context.Context) (notice.DispatchReport, error) {
	start := time.Now()
	report, err := p.run(ctx)
	if err != nil {
		metrics.ObserveCycle(metrics.CycleFailure)
		p.logger.Error("dispatch cycle failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return report, err
	}
	metrics.ObserveCycle(metrics.CycleSuccess)
	p.logger.Info("dispatch cycle finished",
		zap.Int("posts", report.PostsCount),
		zap.Int("sent", report.TotalSent),
		zap.Int("failed", report.Failed),
		zap.Int("recipients", report.RecipientsCount),
		zap.Duration("elapsed", time.Since(start)),
	)
	return report, nil
}

func (p *Pipeline) run(ctx context.Context) (notice.DispatchReport, error) {
	posts, err := p.fetchPosts(ctx, p.cfg.Window, true)
	if err != nil {
		return notice.DispatchReport{}, err
	}

	fresh, err := notice.NewSinceLedger(ctx, posts, p.ledger)
	if err != nil {
		return notice.DispatchReport{}, err
	}
	metrics.ObservePostsDetected(len(fresh))
	if len(fresh) == 0 {
		p.logger.Info("no new posts", zap.Int("fetched", len(posts)))
		return notice.DispatchReport{}, nil
	}
	p.logger.Info("new posts detected", zap.Int("count", len(fresh)))

	report, err := p.dispatcher.Dispatch(ctx, fresh)
	if err != nil {
		return report, fmt.Errorf("dispatch posts: %w", err)
	}
	return report, nil
}

// Latest returns the newest post on the board and whether it was delivered.
func (p *Pipeline) Latest(ctx context.Context) (notice.LatestStatus, error) {
	posts, err := p.fetchPosts(ctx, 1, false)
	if err != nil {
		return notice.LatestStatus{}, err
	}
	if len(posts) == 0 {
		return notice.LatestStatus{}, notice.ErrNoPosts
	}
	delivered, err := p.ledger.IsDelivered(ctx, posts[0].Link)
	if err != nil {
		return notice.LatestStatus{}, notice.LedgerError("check delivered", err)
	}
	return notice.LatestStatus{Post: posts[0], Delivered: delivered}, nil
}

// fetchPosts extracts up to limit posts. Only dispatch cycles archive an empty
// listing; status lookups are polled too often to keep a copy each time.
func (p *Pipeline) fetchPosts(ctx context.Context, limit int, archiveEmpty bool) ([]notice.Post, error) {
	markup, err := p.fetcher.Fetch(ctx, p.cfg.ListURL)
	if err != nil {
		return nil, fmt.Errorf("fetch listing: %w", err)
	}

	posts, err := p.extractor.Extract(markup, limit)
	if err != nil {
		if !errors.Is(err, notice.ErrParse) {
			return nil, fmt.Errorf("extract posts: %w", err)
		}
		p.logger.Warn("listing could not be parsed; treating as empty", zap.Error(err))
		posts = nil
	}
	if len(posts) == 0 && archiveEmpty {
		p.archive(ctx, markup)
	}
	return posts, nil
}

func (p *Pipeline) archive(ctx context.Context, markup string) {
	if p.archiver == nil {
		return
	}
	uri, err := p.archiver.Archive(ctx, markup)
	if err != nil {
		p.logger.Warn("archive empty listing failed", zap.Error(err))
		return
	}
	p.logger.Warn("listing yielded no posts; snapshot archived", zap.String("uri", uri))
}
