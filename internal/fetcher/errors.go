package fetcher

import (
	"errors"
	"fmt"
)

// BlockedError reports a page that looks like a captcha or access-denied
// challenge. It is never retried.
type BlockedError struct {
	URL    string
	Marker string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("fetcher: blocked by portal (%s) at %s; lower the result limit or retry later", e.Marker, e.URL)
}

// FetchFailedError reports that every attempt failed. Cause is the last
// underlying error.
type FetchFailedError struct {
	URL      string
	Attempts int
	Cause    error
}

func (e *FetchFailedError) Error() string {
	return fmt.Sprintf("fetcher: %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Cause)
}

func (e *FetchFailedError) Unwrap() error {
	return e.Cause
}

// IsBlocked reports whether err (or anything it wraps) is a *BlockedError.
func IsBlocked(err error) bool {
	var be *BlockedError
	return errors.As(err, &be)
}
