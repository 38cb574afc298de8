// Package extractor parses the notice board listing into ordered posts.
package extractor

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/notice-notifier/internal/notice"
)

// Default board layout.
const (
	DefaultRowSelector   = ".ui-list tbody tr.board_new"
	DefaultTitleSelector = ".board-list-title a"
	DefaultIDPattern     = `fn_viewData\('(\d+)'\)`
)

// Config describes where posts live in the listing and how links are built.
type Config struct {
	RowSelector   string
	TitleSelector string
	IDPattern     string
	ViewBaseURL   string
	BoardActionID string
}

// Extractor implements notice.Extractor with goquery.
type Extractor struct {
	cfg    Config
	idRe   *regexp.Regexp
	logger *zap.Logger
}

// New validates cfg and builds an Extractor.
func New(cfg Config, logger *zap.Logger) (*Extractor, error) {
	if cfg.RowSelector == "" {
		cfg.RowSelector = DefaultRowSelector
	}
	if cfg.TitleSelector == "" {
		cfg.TitleSelector = DefaultTitleSelector
	}
	if cfg.IDPattern == "" {
		cfg.IDPattern = DefaultIDPattern
	}
	if cfg.ViewBaseURL == "" || cfg.BoardActionID == "" {
		return nil, fmt.Errorf("extractor: view base url and board action id are required")
	}
	re, err := regexp.Compile(cfg.IDPattern)
	if err != nil {
		return nil, fmt.Errorf("compile id pattern: %w", err)
	}
	if re.NumSubexp() < 1 {
		return nil, fmt.Errorf("id pattern %q must capture the post id", cfg.IDPattern)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{cfg: cfg, idRe: re, logger: logger}, nil
}

// Extract returns at most limit posts in document order, newest first.
// Rows beyond limit are discarded before ids are read, so a malformed row
// inside the window shrinks the result instead of pulling in an older post.
func (e *Extractor) Extract(markup string, limit int) ([]notice.Post, error) {
	if limit < 1 {
		return nil, fmt.Errorf("extract: limit must be >= 1, got %d", limit)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", notice.ErrParse, err)
	}

	rows := doc.Find(e.cfg.RowSelector)
	if rows.Length() > limit {
		rows = rows.Slice(0, limit)
	}

	posts := make([]notice.Post, 0, rows.Length())
	rows.Each(func(i int, row *goquery.Selection) {
		anchor := row.Find(e.cfg.TitleSelector).First()
		if anchor.Length() == 0 {
			e.logger.Warn("listing row has no title anchor", zap.Int("row", i))
			return
		}
		href, _ := anchor.Attr("href")
		match := e.idRe.FindStringSubmatch(href)
		if match == nil {
			e.logger.Warn("listing row has no post id", zap.Int("row", i), zap.String("href", href))
			return
		}
		posts = append(posts, notice.Post{
			ID:    match[1],
			Title: strings.TrimSpace(anchor.Text()),
			Link:  e.Link(match[1]),
		})
	})
	return posts, nil
}

// Link builds the canonical detail URL for a post id.
func (e *Extractor) Link(id string) string {
	q := url.Values{}
	q.Set("action", e.cfg.BoardActionID)
	q.Set("schIdx", id)
	return e.cfg.ViewBaseURL + "?" + q.Encode()
}
