// Package snapshot archives listing markup that yielded no posts so selector
// drift can be diagnosed after the fact.
package snapshot

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/JakeFAU/notice-notifier/internal/notice"
)

// BlobStore persists an object and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Archiver implements notice.Archiver on top of a BlobStore.
type Archiver struct {
	store  BlobStore
	prefix string
	clock  notice.Clock
}

// New creates an Archiver writing below prefix.
func New(store BlobStore, prefix string, clock notice.Clock) *Archiver {
	return &Archiver{store: store, prefix: strings.Trim(prefix, "/"), clock: clock}
}

// Archive stores markup under a timestamped key and returns its URI.
func (a *Archiver) Archive(ctx context.Context, markup string) (string, error) {
	name := a.clock.Now().UTC().Format("20060102T150405.000Z") + ".html"
	key := name
	if a.prefix != "" {
		key = path.Join(a.prefix, name)
	}
	uri, err := a.store.PutObject(ctx, key, "text/html; charset=utf-8", strings.NewReader(markup))
	if err != nil {
		return "", fmt.Errorf("archive listing: %w", err)
	}
	return uri, nil
}
