package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/matst80/knockmux/internal/obs"
	"github.com/matst80/knockmux/internal/ratelimit"
)

func main() {
	flag.Parse()
	if cfg.ConfigFile != "" {
		if err := applyConfigFile(cfg.ConfigFile, &cfg); err != nil {
			obs.Error("config.file", obs.Fields{"err": err.Error(), "path": cfg.ConfigFile})
			os.Exit(1)
		}
	}
	if cfg.Debug {
		obs.EnableDebug(true)
	}
	knockValue, err := cfg.knockValue()
	if err != nil {
		obs.Error("config.knock", obs.Fields{"err": err.Error()})
		os.Exit(1)
	}
	obs.Info("server.start", obs.Fields{
		"listen": cfg.ListenAddr, "normal": cfg.NormalPort, "hidden": cfg.HiddenPort,
		"knock_size": len(knockValue), "metrics": cfg.MetricsAddr,
	})

	state, err := newStateStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		obs.Error("state.init", obs.Fields{"err": err.Error()})
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start external listener
	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		obs.Error("listen.external", obs.Fields{"err": err.Error(), "addr": cfg.ListenAddr})
		os.Exit(1)
	}
	defer ln.Close()

	var limiter *ratelimit.Limiter
	if cfg.RateLimit > 0 || cfg.RateLimitPerIP > 0 {
		limiter = ratelimit.NewLimiter(cfg.RateLimit, cfg.RateLimitPerIP, cfg.RateBurst)
		go runLimiterSweep(ctx, limiter, time.Minute)
	}

	// Metrics / health server (readiness stays false until the accept loop runs)
	go startMetricsServer(cfg.MetricsAddr, state)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() { defer wg.Done(); acceptExternal(ctx, ln, state, limiter, knockValue) }()

	state.setReady(true)
	obs.Info("server.ready", obs.Fields{})

	<-ctx.Done()
	obs.Info("server.shutdown.signal", obs.Fields{})
	state.setClosing(true)
	_ = ln.Close()
	wg.Wait()
	obs.Info("server.shutdown.complete", obs.Fields{})
}

func runLimiterSweep(ctx context.Context, l *ratelimit.Limiter, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if removed := l.Sweep(10 * time.Minute); removed > 0 {
				obs.Debug("ratelimit.sweep", obs.Fields{"removed": removed})
			}
		}
	}
}
