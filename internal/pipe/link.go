package pipe

import (
	"net"
	"sync"
	"time"
)

// Endpoint is one leg of a pair: the live connection plus the running count
// of bytes read here and forwarded to the peer.
type Endpoint struct {
	conn      net.Conn
	forwarded int64
}

// Link is the shared state joining the two Endpoints of a pair. All access
// goes through mu; with one goroutine per direction this restores the
// single-mutator-per-pair guarantee the original event loop gave for free.
//
// ends[i] == nil is the explicit gone marker: once a leg is torn down the
// survivor's loop consults the Link and finds nil instead of a freed
// connection. pending[i] records that side i's peer signaled an idle timeout
// that side i has not yet corroborated with a timeout of its own.
type Link struct {
	mu      sync.Mutex
	ends    [2]*Endpoint
	pending [2]bool
}

// forward runs one direction: read from ep, write to the peer. It returns
// once ep has been torn down, by this loop or by the opposite one.
func (l *Link) forward(side int, ep *Endpoint, opts Options) {
	buf := make([]byte, opts.BufSize)
	for {
		l.mu.Lock()
		if l.ends[side] == nil {
			// Torn down by the other direction (write error into us).
			l.mu.Unlock()
			return
		}
		if l.ends[1-side] != nil {
			// ACTIVE: arm the idle timer. While DRAINING the absolute
			// grace deadline set at severing must stay in force.
			_ = ep.conn.SetReadDeadline(time.Now().Add(opts.IdleTimeout))
		}
		l.mu.Unlock()

		n, err := ep.conn.Read(buf)
		if n > 0 {
			l.mu.Lock()
			var dst net.Conn
			if peer := l.ends[1-side]; peer != nil {
				dst = peer.conn
				// Progress here proves this leg is healthy; erase any
				// standing record of its idleness so the peer's next
				// timeout is not wrongly corroborated.
				l.pending[1-side] = false
			}
			l.mu.Unlock()
			if dst != nil {
				if _, werr := dst.Write(buf[:n]); werr != nil {
					// The peer leg broke on write. Tear it down and keep
					// draining this side until its own close is seen.
					l.teardown(1-side, opts.Grace)
					continue
				}
				ep.forwarded += int64(n)
			}
			// Peer gone: read and drop.
		}
		if err == nil {
			continue
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			l.mu.Lock()
			if l.ends[side] == nil {
				l.mu.Unlock()
				return
			}
			if l.ends[1-side] == nil {
				// Grace period exhausted while draining.
				l.mu.Unlock()
				l.teardown(side, opts.Grace)
				return
			}
			if l.pending[side] {
				// The peer had already timed out; both legs are now
				// independently idle.
				l.mu.Unlock()
				l.teardown(side, opts.Grace)
				return
			}
			// First one-sided idle: record it for the peer to corroborate
			// and keep reading.
			l.pending[1-side] = true
			l.mu.Unlock()
			continue
		}
		l.teardown(side, opts.Grace)
		return
	}
}

// teardown severs side from the Link, grants the survivor (if any) the grace
// deadlines, and closes the leg. Idempotent per side; safe from either
// direction's goroutine.
func (l *Link) teardown(side int, grace time.Duration) {
	l.mu.Lock()
	ep := l.ends[side]
	if ep == nil {
		l.mu.Unlock()
		return
	}
	l.ends[side] = nil
	if peer := l.ends[1-side]; peer != nil {
		dl := time.Now().Add(grace)
		_ = peer.conn.SetReadDeadline(dl)
		_ = peer.conn.SetWriteDeadline(dl)
	}
	l.mu.Unlock()
	_ = ep.conn.Close()
}
