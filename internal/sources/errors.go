package sources

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthFailed means credentials are missing, expired or rejected
	ErrAuthFailed = errors.New("authentication failed")
	// ErrNotSupported means the source does not offer the operation
	ErrNotSupported = errors.New("operation not supported")
	// ErrTransient means the call may succeed on retry (network, 5xx, rate limit)
	ErrTransient = errors.New("transient source error")
	// ErrDataCorrupt means a payload could not be decoded
	ErrDataCorrupt = errors.New("corrupt data")
)

// StatusError is returned when a source API answers with a non-2xx status
type StatusError struct {
	Source     string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API request failed with status %d: %s", e.Source, e.StatusCode, e.Body)
}

// Unwrap maps the status code onto the sentinel errors
func (e *StatusError) Unwrap() error {
	switch {
	case e.StatusCode == 401 || e.StatusCode == 403:
		return ErrAuthFailed
	case e.StatusCode == 429 || e.StatusCode >= 500:
		return ErrTransient
	}
	return nil
}

// IsRetryable reports whether err is worth retrying
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}
