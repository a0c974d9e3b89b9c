package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// TransportError covers every failed backend call: network failures,
// timeouts, breaker rejections and non-2xx responses.
type TransportError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		if e.Body != "" {
			return fmt.Sprintf("%s: backend returned %d: %s", e.Op, e.StatusCode, e.Body)
		}
		return fmt.Sprintf("%s: backend returned %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) NotFound() bool { return e.StatusCode == http.StatusNotFound }

// IsTransport reports whether err came from talking to the backend.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// Timeout reports whether err was a deadline or network timeout.
func Timeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

var errNon2xx = errors.New("non-2xx response")
