package main

import "sync"

// serverState is the in-memory StateStore. Counters vanish with the process;
// nothing here is meant to survive a restart.
type serverState struct {
	mu      sync.Mutex
	stats   Stats
	closing bool
	ready   bool
}

func newServerState() *serverState { return &serverState{} }

var _ StateStore = (*serverState)(nil)

func (s *serverState) recordRoute(hidden bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if hidden {
		s.stats.HiddenRoutes++
	} else {
		s.stats.NormalRoutes++
	}
}

func (s *serverState) recordDialFailure() {
	s.mu.Lock()
	s.stats.DialFailures++
	s.mu.Unlock()
}

func (s *serverState) recordPipeClosed(bytesToBackend, bytesToClient int64) {
	s.mu.Lock()
	s.stats.PipesClosed++
	s.stats.BytesToBackend += bytesToBackend
	s.stats.BytesToClient += bytesToClient
	s.mu.Unlock()
}

func (s *serverState) setClosing(closing bool) { s.mu.Lock(); s.closing = closing; s.mu.Unlock() }
func (s *serverState) setReady(ready bool)     { s.mu.Lock(); s.ready = ready; s.mu.Unlock() }
func (s *serverState) isClosing() bool         { s.mu.Lock(); defer s.mu.Unlock(); return s.closing }
func (s *serverState) isReady() bool           { s.mu.Lock(); defer s.mu.Unlock(); return s.ready }

func (s *serverState) getStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
