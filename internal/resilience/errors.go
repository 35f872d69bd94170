package resilience

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
)

// TransientError wraps a delivery failure that another attempt may fix.
// StatusCode is the HTTP status that caused it, or 0 for network failures.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// Transient marks err as retryable.
func Transient(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

var retryableStatuses = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

var retryableErrnos = []error{syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ECONNABORTED, syscall.EPIPE}

// Some transports flatten their errors to text before we see them.
var retryableText = []string{
	"connection reset by peer",
	"broken pipe",
	"no such host",
	"i/o timeout",
	"tls handshake timeout",
	"server closed idle connection",
}

// RetryableStatus reports whether a response status is worth retrying.
func RetryableStatus(code int) bool { return retryableStatuses[code] }

// IsTransient reports whether err or anything it wraps is retryable.
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
	for _, errno := range retryableErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, s := range retryableText {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// CheckStatus returns nil for 2xx and an error naming target otherwise.
// Retryable statuses come back as *TransientError.
func CheckStatus(target string, code int) error {
	if code/100 == 2 {
		return nil
	}
	err := eris.Errorf("%s: unexpected status %d", target, code)
	if RetryableStatus(code) {
		return Transient(err, code)
	}
	return err
}
