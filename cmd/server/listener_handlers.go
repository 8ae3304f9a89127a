package main

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/matst80/knockmux/internal/knock"
	"github.com/matst80/knockmux/internal/obs"
	"github.com/matst80/knockmux/internal/pipe"
	"github.com/matst80/knockmux/internal/ratelimit"
)

var activeConns atomic.Int64

func acceptExternal(ctx context.Context, ln net.Listener, state StateStore, limiter *ratelimit.Limiter, knockValue []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		c, err := ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				obs.Error("accept.external.timeout", obs.Fields{"err": err.Error()})
				continue
			}
			return
		}
		if activeConns.Load() >= int64(cfg.MaxConns) {
			// Resource-safety guard, not a protocol decision: past the cap
			// the descriptor is released immediately.
			obs.AcceptRejectsTotal.WithLabelValues("max_conns").Inc()
			_ = c.Close()
			continue
		}
		if limiter != nil && !limiter.AllowConnection(remoteIP(c)) {
			obs.AcceptRejectsTotal.WithLabelValues("ratelimit").Inc()
			_ = c.Close()
			continue
		}
		activeConns.Add(1)
		go func() {
			defer activeConns.Add(-1)
			handleConn(c, state, knockValue)
		}()
	}
}

func remoteIP(c net.Conn) string {
	h, _, err := net.SplitHostPort(c.RemoteAddr().String())
	if err != nil {
		return c.RemoteAddr().String()
	}
	return h
}

// handleConn walks one connection through its whole life cycle: sniff the
// first bytes under the knock timeout, pick a backend, connect, replay the
// buffered bytes, then pipe until both legs are done.
func handleConn(c net.Conn, state StateStore, knockValue []byte) {
	buf, err := knock.Sniff(c, cfg.MaxRecvBuf, cfg.KnockTimeout)
	if err != nil {
		// Peer reset or vanished before routing; no backend is dialed.
		obs.Debug("sniff.error", obs.Fields{"err": err.Error(), "remote": c.RemoteAddr().String()})
		obs.ErrorsTotal.WithLabelValues("sniff").Inc()
		_ = c.Close()
		return
	}
	hidden, rest := knock.Detect(buf, knockValue)
	backendLabel, port := "normal", cfg.NormalPort
	if hidden {
		backendLabel, port = "hidden", cfg.HiddenPort
	}
	obs.RoutesTotal.WithLabelValues(backendLabel).Inc()
	state.recordRoute(hidden)
	obs.Debug("route.decided", obs.Fields{"backend": backendLabel, "buffered": len(rest), "remote": c.RemoteAddr().String()})

	backend, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		// No retry and no fallback to the other backend.
		obs.Error("backend.dial", obs.Fields{"backend": backendLabel, "port": port, "err": err.Error()})
		obs.DialErrorsTotal.Inc()
		state.recordDialFailure()
		_ = c.Close()
		return
	}
	if tc, ok := backend.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	if len(rest) > 0 {
		// Replay bytes buffered during detection before any pipe traffic.
		if _, err := backend.Write(rest); err != nil {
			obs.Error("backend.forward_initial", obs.Fields{"backend": backendLabel, "err": err.Error()})
			obs.ErrorsTotal.WithLabelValues("forward_initial").Inc()
			_ = backend.Close()
			_ = c.Close()
			return
		}
	}

	obs.ActivePipes.Inc()
	start := time.Now()
	res := pipe.Run(c, backend, pipe.Options{IdleTimeout: cfg.IdleTimeout, BufSize: cfg.MaxRecvBuf})
	obs.ActivePipes.Dec()
	obs.PipeDurationSeconds.Observe(time.Since(start).Seconds())
	toBackend := res.ClientToBackend + int64(len(rest))
	obs.BytesForwardedTotal.WithLabelValues("client_to_backend").Add(float64(toBackend))
	obs.BytesForwardedTotal.WithLabelValues("backend_to_client").Add(float64(res.BackendToClient))
	state.recordPipeClosed(toBackend, res.BackendToClient)
	obs.Debug("pipe.closed", obs.Fields{"backend": backendLabel, "to_backend": toBackend, "to_client": res.BackendToClient})
}
