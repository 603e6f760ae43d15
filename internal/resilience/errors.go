package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// TransientError marks a failure worth repeating, typically a throttled or
// briefly failing upstream. StatusCode carries the HTTP status when one was
// involved, 0 otherwise.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError tags err as retryable. statusCode may be 0.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// connErrnos are socket-level failures that clear on reconnect.
var connErrnos = []syscall.Errno{
	syscall.ECONNRESET,
	syscall.ECONNREFUSED,
	syscall.ECONNABORTED,
	syscall.EPIPE,
}

// flakySubstrings catches transport failures that surface only as text once
// the HTTP client has wrapped them.
var flakySubstrings = []string{
	"connection reset by peer",
	"broken pipe",
	"no such host",
	"temporary failure in name resolution",
	"i/o timeout",
	"tls handshake timeout",
	"server closed idle connection",
	"transport connection broken",
}

// IsTransient reports whether err looks like a failure a later attempt can
// survive: an explicit TransientError anywhere in the chain, a network
// timeout, a dropped connection, or a DNS hiccup. Anything else is treated
// as permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}

	for _, errno := range connErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}

	text := strings.ToLower(err.Error())
	for _, frag := range flakySubstrings {
		if strings.Contains(text, frag) {
			return true
		}
	}
	return false
}

// IsTransientHTTPStatus reports whether an HTTP status is worth retrying:
// timeout and throttling statuses plus the server errors that tend to clear
// on their own. 501 stays permanent.
func IsTransientHTTPStatus(status int) bool {
	if status == 408 || status == 429 {
		return true
	}
	return status >= 500 && status <= 504 && status != 501
}
