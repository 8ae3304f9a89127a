// Package pipe forwards bytes between a client connection and its backend
// connection until both legs are torn down.
//
// Every pair goes through the same life cycle:
//
//	ACTIVE:   both legs live. Bytes read on one leg are written to the other
//	          unmodified. An idle read timeout on one leg alone never closes
//	          the pair; it is recorded on the Link and the leg keeps reading.
//	          Only when the other leg also times out while the record is
//	          still standing is the pair considered dead. Forward progress
//	          on a leg erases that leg's standing timeout record.
//	DRAINING: one leg gone. The Link's reference to it is severed first, so
//	          no callback on the survivor can touch the freed leg. The
//	          survivor gets a bounded grace period (read and write) to flush
//	          whatever is still in flight; bytes it receives are read and
//	          dropped so its own close or error is observed cleanly.
//	CLOSED:   the survivor exhausted its grace period or hit any error.
//	          Both legs freed, the Link is discarded and Run returns.
package pipe

import (
	"net"
	"sync"
	"time"
)

const (
	// DefaultGrace bounds how long a surviving leg may keep flushing after
	// its peer is torn down.
	DefaultGrace = time.Second
	// DefaultBufSize is the per-direction read buffer, the high watermark of
	// unforwarded bytes held for a single read.
	DefaultBufSize = 128 << 10
)

// Options tune a single pair. Zero values fall back to the defaults above;
// IdleTimeout is required.
type Options struct {
	IdleTimeout time.Duration
	Grace       time.Duration
	BufSize     int
}

// Result reports how many bytes each direction forwarded over the lifetime
// of the pair.
type Result struct {
	ClientToBackend int64
	BackendToClient int64
}

// Run pipes client and backend until both legs are torn down. It takes
// ownership of both connections and blocks for the lifetime of the pair.
func Run(client, backend net.Conn, opts Options) Result {
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	if opts.BufSize <= 0 {
		opts.BufSize = DefaultBufSize
	}
	l := &Link{}
	eps := [2]*Endpoint{{conn: client}, {conn: backend}}
	l.ends = eps

	var wg sync.WaitGroup
	wg.Add(2)
	for side := 0; side < 2; side++ {
		go func(side int) {
			defer wg.Done()
			l.forward(side, eps[side], opts)
		}(side)
	}
	wg.Wait()
	return Result{
		ClientToBackend: eps[0].forwarded,
		BackendToClient: eps[1].forwarded,
	}
}
