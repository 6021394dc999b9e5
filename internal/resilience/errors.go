// Package resilience classifies feed failures and guards outbound calls
// with retry and circuit breaker policies.
package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// TransientError marks a failure worth another attempt, such as a 5xx
// response or a dropped connection. StatusCode is zero for non-HTTP
// failures.
type TransientError struct {
	StatusCode int
	Err        error
}

// NewTransientError wraps err as retryable.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{StatusCode: statusCode, Err: err}
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// RateLimitedError marks a throttled response. It retries like any
// transient failure but is counted separately, so import metrics can
// tell throttling from outages.
type RateLimitedError struct {
	Err error
}

// NewRateLimitedError wraps err as a throttled failure.
func NewRateLimitedError(err error) *RateLimitedError {
	return &RateLimitedError{Err: err}
}

func (e *RateLimitedError) Error() string { return e.Err.Error() }
func (e *RateLimitedError) Unwrap() error { return e.Err }

// IsRateLimited reports whether the chain contains a RateLimitedError.
func IsRateLimited(err error) bool {
	var rl *RateLimitedError
	return errors.As(err, &rl)
}

// IsTimeout reports whether err is a deadline or network timeout. Live
// IO metrics use it to attribute failures.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}

// retryableText matches transport failures that arrive flattened to a
// plain string after an HTTP client wrapped them.
var retryableText = []string{
	"connection reset by peer",
	"connection refused",
	"broken pipe",
	"no such host",
	"temporary failure in name resolution",
	"tls handshake timeout",
	"i/o timeout",
	"unexpected eof",
	"server closed idle connection",
}

// IsTransient reports whether err deserves another attempt: an explicit
// TransientError or RateLimitedError in the chain, a network timeout, a
// reset or refused connection, or a transport failure matching a known
// retryable pattern.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	var rl *RateLimitedError
	if errors.As(err, &te) || errors.As(err, &rl) {
		return true
	}

	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}

	for _, errno := range []syscall.Errno{syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ECONNABORTED} {
		if errors.Is(err, errno) {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range retryableText {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// IsTransientHTTPStatus reports whether an HTTP status is safe to retry.
func IsTransientHTTPStatus(status int) bool {
	switch status {
	case 408, 429, 500, 502, 503, 504:
		return true
	}
	return false
}
