package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
)

const maxResponseBytes = 50 << 20

// classifyHTTPStatus maps a non-2xx upstream response to an extraction
// error: 5xx and 429 are transient, other statuses fatal.
func classifyHTTPStatus(what string, code int) error {
	msg := fmt.Sprintf("%s returned HTTP %d", what, code)
	if code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout {
		return newTransient(msg, nil)
	}
	return newFatal(msg, nil)
}

// classifyTransportError maps a failed round trip. Timeouts and connection
// failures are transient; cancellation by the caller is not.
func classifyTransportError(what string, err error) error {
	if errors.Is(err, context.Canceled) {
		return newFatal(what+" cancelled", err)
	}
	if IsTransientNetError(err) {
		return newTransient(what+" failed", err)
	}
	return newFatal(what+" failed", err)
}

// IsTransientNetError reports timeouts, refused or reset connections and
// truncated responses.
func IsTransientNetError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary || dnsErr.IsTimeout
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// readLimited reads at most maxResponseBytes of body.
func readLimited(r io.Reader) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, maxResponseBytes+1))
	if err != nil {
		return nil, err
	}
	if len(b) > maxResponseBytes {
		return nil, newFatal(fmt.Sprintf("response exceeds %d bytes", maxResponseBytes), nil)
	}
	return b, nil
}
