package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all runtime configuration derived from flags, optionally
// overridden by a YAML file (-config).
type Config struct {
	ListenAddr     string
	NormalPort     int
	HiddenPort     int
	Knock          string // hex encoded; the decoded length is the knock size
	KnockTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxRecvBuf     int
	MaxConns       int
	MetricsAddr    string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RateLimit      int
	RateLimitPerIP int
	RateBurst      int
	Debug          bool
	ConfigFile     string
}

var cfg Config

// init registers flags into the global flag set. main() parses and uses cfg.
func init() {
	flag.StringVar(&cfg.ListenAddr, "listen", ":8022", "external listen address")
	flag.IntVar(&cfg.NormalPort, "normal-port", 22, "loopback port for clients that do not knock")
	flag.IntVar(&cfg.HiddenPort, "hidden-port", 2222, "loopback port for clients that knock")
	flag.StringVar(&cfg.Knock, "knock", "deadbeef", "hex encoded knock prefix; an empty value routes any client that sends data to the hidden port")
	flag.DurationVar(&cfg.KnockTimeout, "knock-timeout", 2*time.Second, "how long to wait for the first bytes before routing to the normal backend")
	flag.DurationVar(&cfg.IdleTimeout, "idle-timeout", 10*time.Minute, "idle read timeout per pipe leg; both legs must idle out before a pair is closed")
	flag.IntVar(&cfg.MaxRecvBuf, "max-recv-buf", 128<<10, "read buffer high watermark per direction")
	flag.IntVar(&cfg.MaxConns, "max-conns", 1024, "concurrent connection cap; accepts beyond it are closed immediately")
	flag.StringVar(&cfg.MetricsAddr, "metrics", ":9100", "metrics and health listen address")
	flag.StringVar(&cfg.RedisAddr, "redis", "", "redis address for shared counters; empty keeps counters in memory")
	flag.StringVar(&cfg.RedisPassword, "redis-password", "", "redis password")
	flag.IntVar(&cfg.RedisDB, "redis-db", 0, "redis database")
	flag.IntVar(&cfg.RateLimit, "rate-limit", 0, "global new-connection rate per second (0 disables)")
	flag.IntVar(&cfg.RateLimitPerIP, "rate-limit-ip", 0, "per source IP new-connection rate per second (0 disables)")
	flag.IntVar(&cfg.RateBurst, "rate-burst", 10, "rate limiter burst capacity")
	flag.BoolVar(&cfg.Debug, "debug", false, "enable debug logs")
	flag.StringVar(&cfg.ConfigFile, "config", "", "YAML config file; values set in it override flags")
}

// knockValue decodes the configured knock prefix.
func (c *Config) knockValue() ([]byte, error) {
	v, err := hex.DecodeString(c.Knock)
	if err != nil {
		return nil, fmt.Errorf("invalid knock %q: %w", c.Knock, err)
	}
	return v, nil
}

// fileConfig mirrors Config for the YAML overlay. Pointer fields distinguish
// "set in the file" from "absent"; durations are parsed from strings ("2s").
type fileConfig struct {
	Listen         *string `yaml:"listen"`
	NormalPort     *int    `yaml:"normal_port"`
	HiddenPort     *int    `yaml:"hidden_port"`
	Knock          *string `yaml:"knock"`
	KnockTimeout   *string `yaml:"knock_timeout"`
	IdleTimeout    *string `yaml:"idle_timeout"`
	MaxRecvBuf     *int    `yaml:"max_recv_buf"`
	MaxConns       *int    `yaml:"max_conns"`
	Metrics        *string `yaml:"metrics"`
	Redis          *string `yaml:"redis"`
	RedisPassword  *string `yaml:"redis_password"`
	RedisDB        *int    `yaml:"redis_db"`
	RateLimit      *int    `yaml:"rate_limit"`
	RateLimitPerIP *int    `yaml:"rate_limit_ip"`
	RateBurst      *int    `yaml:"rate_burst"`
	Debug          *bool   `yaml:"debug"`
}

func applyConfigFile(path string, c *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	setStr := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	setInt := func(dst *int, src *int) {
		if src != nil {
			*dst = *src
		}
	}
	setStr(&c.ListenAddr, fc.Listen)
	setInt(&c.NormalPort, fc.NormalPort)
	setInt(&c.HiddenPort, fc.HiddenPort)
	setStr(&c.Knock, fc.Knock)
	if fc.KnockTimeout != nil {
		d, err := time.ParseDuration(*fc.KnockTimeout)
		if err != nil {
			return fmt.Errorf("knock_timeout: %w", err)
		}
		c.KnockTimeout = d
	}
	if fc.IdleTimeout != nil {
		d, err := time.ParseDuration(*fc.IdleTimeout)
		if err != nil {
			return fmt.Errorf("idle_timeout: %w", err)
		}
		c.IdleTimeout = d
	}
	setInt(&c.MaxRecvBuf, fc.MaxRecvBuf)
	setInt(&c.MaxConns, fc.MaxConns)
	setStr(&c.MetricsAddr, fc.Metrics)
	setStr(&c.RedisAddr, fc.Redis)
	setStr(&c.RedisPassword, fc.RedisPassword)
	setInt(&c.RedisDB, fc.RedisDB)
	setInt(&c.RateLimit, fc.RateLimit)
	setInt(&c.RateLimitPerIP, fc.RateLimitPerIP)
	setInt(&c.RateBurst, fc.RateBurst)
	if fc.Debug != nil {
		c.Debug = *fc.Debug
	}
	return nil
}
