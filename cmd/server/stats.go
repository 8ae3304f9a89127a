package main

import "time"

// Stats represents current server stats for the /api/state endpoint.
type Stats struct {
	NormalRoutes   int64  `json:"normal_routes"`
	HiddenRoutes   int64  `json:"hidden_routes"`
	DialFailures   int64  `json:"dial_failures"`
	PipesClosed    int64  `json:"pipes_closed"`
	BytesToBackend int64  `json:"bytes_to_backend"`
	BytesToClient  int64  `json:"bytes_to_client"`
	Now            string `json:"now"`
}

func collectStats(s StateStore) Stats {
	st := s.getStats()
	st.Now = time.Now().UTC().Format(time.RFC3339)
	return st
}
