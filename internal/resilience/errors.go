package resilience

import "net/http"

// TransientError is an HTTP failure worth another attempt.
type TransientError struct {
	Err    error
	Status int
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError tags err with the response status that caused it.
func NewTransientError(err error, status int) *TransientError {
	return &TransientError{Err: err, Status: status}
}

// RetryableStatus reports whether a portal response status deserves another
// attempt: request timeout, throttling or any server error. Other 4xx
// answers carry a usable body and are returned as is.
func RetryableStatus(status int) bool {
	return status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests ||
		status >= http.StatusInternalServerError
}
