package main

// StateStore abstracts the aggregate counters so multiple instances can share
// them. Per-connection state never leaves the process; a store only ever sees
// totals.
type StateStore interface {
	recordRoute(hidden bool)
	recordDialFailure()
	recordPipeClosed(bytesToBackend, bytesToClient int64)
	setClosing(closing bool)
	setReady(ready bool)
	isClosing() bool
	isReady() bool
	getStats() Stats
}
