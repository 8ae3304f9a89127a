// Package knock decides which backend a fresh connection belongs to by
// inspecting the first bytes it sends (or fails to send).
package knock

import (
	"bytes"
	"net"
	"time"
)

// Detect compares the sniffed bytes against the knock value. It returns
// hidden=true and the remaining bytes with the knock prefix stripped when the
// buffer starts with the full value. In every other case — partial prefix,
// mismatch, or an empty buffer — the buffer is returned untouched and the
// connection routes to the normal backend. A zero-length knock value matches
// any connection that sent at least one byte before the decision event.
func Detect(buf, value []byte) (hidden bool, rest []byte) {
	if len(buf) == 0 || len(buf) < len(value) {
		return false, buf
	}
	if !bytes.Equal(buf[:len(value)], value) {
		return false, buf
	}
	return true, buf[len(value):]
}

// Sniff performs a single read of up to max bytes under a read deadline.
// The decision is made on whatever the first readiness event delivers; Sniff
// never waits for more bytes. A deadline expiry is a routing signal, not an
// error: it returns an empty buffer and a nil error. Any other error with no
// data means the connection should be discarded without dialing a backend.
// The deadline is cleared before returning.
func Sniff(conn net.Conn, max int, timeout time.Duration) ([]byte, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	buf := make([]byte, max)
	n, err := conn.Read(buf)
	if err != nil && n == 0 {
		if ne, ok := err.(net.Error); !ok || !ne.Timeout() {
			return nil, err
		}
	}
	// Data followed by an error (reset right after the first segment) still
	// routes; the error resurfaces on the next read once piped.
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, err
	}
	return buf[:n], nil
}
