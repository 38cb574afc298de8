package notice

import (
	"errors"
	"fmt"
)

var (
	// ErrParse marks markup that could not be read as a listing.
	ErrParse = errors.New("parse listing")
	// ErrLedger marks a failure of the delivery ledger.
	ErrLedger = errors.New("ledger unavailable")
	// ErrNoPosts is returned when the board yields no posts at all.
	ErrNoPosts = errors.New("no posts found")
)

// FetchErrorKind classifies why a fetch gave up.
type FetchErrorKind string

// Fetch failure kinds.
const (
	FetchNetwork FetchErrorKind = "network"
	FetchTimeout FetchErrorKind = "timeout"
	FetchHTTP    FetchErrorKind = "http"
)

// FetchError is returned once the fetcher has exhausted its retry budget or hit
// a non-retryable response.
type FetchError struct {
	Kind       FetchErrorKind
	URL        string
	Attempts   int
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Kind == FetchHTTP && e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: http status %d after %d attempt(s)", e.URL, e.StatusCode, e.Attempts)
	}
	return fmt.Sprintf("fetch %s: %s error after %d attempt(s): %v", e.URL, e.Kind, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// LedgerError wraps err so that errors.Is(err, ErrLedger) holds.
func LedgerError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrLedger, err)
}
