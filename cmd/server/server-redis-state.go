package main

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/matst80/knockmux/internal/obs"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "knockmux:"

var redisStatKeys = []string{
	"normal_routes", "hidden_routes", "dial_failures",
	"pipes_closed", "bytes_to_backend", "bytes_to_client",
}

// redisStateStore shares the aggregate counters between instances behind one
// public address. Connections themselves stay local; redis holds only totals,
// so a restarted instance keeps counting where the fleet left off.
type redisStateStore struct {
	client  *redis.Client
	mu      sync.Mutex
	closing bool
	ready   bool
}

func newRedisStateStore(addr, password string, db int) (*redisStateStore, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &redisStateStore{client: rdb}, nil
}

var _ StateStore = (*redisStateStore)(nil)

func (r *redisStateStore) incr(key string, n int64) {
	if n == 0 {
		return
	}
	if err := r.client.IncrBy(context.Background(), redisKeyPrefix+key, n).Err(); err != nil {
		obs.Error("redis.incr", obs.Fields{"err": err.Error(), "key": key})
	}
}

func (r *redisStateStore) recordRoute(hidden bool) {
	if hidden {
		r.incr("hidden_routes", 1)
	} else {
		r.incr("normal_routes", 1)
	}
}

func (r *redisStateStore) recordDialFailure() { r.incr("dial_failures", 1) }

func (r *redisStateStore) recordPipeClosed(bytesToBackend, bytesToClient int64) {
	r.incr("pipes_closed", 1)
	r.incr("bytes_to_backend", bytesToBackend)
	r.incr("bytes_to_client", bytesToClient)
}

func (r *redisStateStore) setClosing(closing bool) { r.mu.Lock(); r.closing = closing; r.mu.Unlock() }
func (r *redisStateStore) setReady(ready bool)     { r.mu.Lock(); r.ready = ready; r.mu.Unlock() }
func (r *redisStateStore) isClosing() bool         { r.mu.Lock(); defer r.mu.Unlock(); return r.closing }
func (r *redisStateStore) isReady() bool           { r.mu.Lock(); defer r.mu.Unlock(); return r.ready }

func (r *redisStateStore) getStats() Stats {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	keys := make([]string, len(redisStatKeys))
	for i, k := range redisStatKeys {
		keys[i] = redisKeyPrefix + k
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		obs.Error("redis.mget", obs.Fields{"err": err.Error()})
		return Stats{}
	}
	n := func(i int) int64 {
		s, ok := vals[i].(string)
		if !ok {
			return 0
		}
		v, _ := strconv.ParseInt(s, 10, 64)
		return v
	}
	return Stats{
		NormalRoutes:   n(0),
		HiddenRoutes:   n(1),
		DialFailures:   n(2),
		PipesClosed:    n(3),
		BytesToBackend: n(4),
		BytesToClient:  n(5),
	}
}
