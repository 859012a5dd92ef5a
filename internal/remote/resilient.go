package remote

import (
	"context"
	"errors"
	"io"
	"net"
	"net/url"
	"syscall"
)

// requester runs a request function against a primary base URL and retries
// once against a fallback base URL when the primary fails with an error the
// classifier considers retryable. Both the inspect path and the authenticate
// path share this; neither duplicates the original-URL/IP-URL dance.
type requester struct {
	primary   string
	fallback  func() (string, bool)
	retryable func(error) bool
	onSwitch  func(from, to string)
}

func (r *requester) do(fn func(base string) error) error {
	err := fn(r.primary)
	if err == nil || r.retryable == nil || !r.retryable(err) {
		return err
	}

	if r.fallback == nil {
		return err
	}
	fb, ok := r.fallback()
	if !ok || fb == r.primary {
		return err
	}

	if r.onSwitch != nil {
		r.onSwitch(r.primary, fb)
	}
	return fn(fb)
}

// isConnectionError classifies errors where no HTTP response was obtained:
// refused/reset connections, timeouts, DNS failures, broken streams. Errors
// carrying an HTTP status never land here.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return true
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	// http.Client wraps transport failures in *url.Error; anything that got a
	// response is surfaced as a status error by our caller, never as url.Error.
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
