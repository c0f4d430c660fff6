package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
	"time"
)

// Outcome is the result class of one attempt at an external call.
type Outcome int

const (
	// Success means the call completed.
	Success Outcome = iota
	// TransientFailure means the call may succeed if retried later
	// (rate limited, timeout, dropped connection).
	TransientFailure
	// PermanentFailure means retrying will not help (4xx other than 429,
	// malformed response, unknown origin).
	PermanentFailure
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case TransientFailure:
		return "transient"
	case PermanentFailure:
		return "permanent"
	default:
		return "unknown"
	}
}

// Classify maps an error onto an Outcome. A nil error is a Success.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return Success
	case IsTransient(err):
		return TransientFailure
	default:
		return PermanentFailure
	}
}

// TransientError wraps an error that is safe to retry (e.g., 429, network timeout).
// RetryAfter carries a server-suggested cool-down when the API sent one.
type TransientError struct {
	Err        error
	StatusCode int
	RetryAfter time.Duration
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// PermanentError wraps an error that must not be retried. Body holds a
// truncated copy of the response body for the batch summary.
type PermanentError struct {
	Err        error
	StatusCode int
	Body       string
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewPermanentError wraps an error as permanent with an optional HTTP status code.
func NewPermanentError(err error, statusCode int, body string) *PermanentError {
	return &PermanentError{Err: err, StatusCode: statusCode, Body: body}
}

// StatusCode extracts the HTTP status code carried by a Transient or
// Permanent error anywhere in the chain, or 0.
func StatusCode(err error) int {
	var te *TransientError
	if errors.As(err, &te) {
		return te.StatusCode
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return pe.StatusCode
	}
	return 0
}

// RetryAfter returns the server-suggested cool-down carried by err, or 0.
func RetryAfter(err error) time.Duration {
	var te *TransientError
	if errors.As(err, &te) {
		return te.RetryAfter
	}
	return 0
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, or if it matches common transient error patterns (network
// timeouts, connection resets, DNS failures). An explicit PermanentError
// always wins.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var pe *PermanentError
	if errors.As(err, &pe) {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// String-based heuristics for wrapped errors from HTTP clients.
	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"transport connection broken",
		"context deadline exceeded (client.timeout",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}
