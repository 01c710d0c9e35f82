package config

import (
	"os"
	"strconv"
	"time"
)

// RateLimitConfig drives the Redis token bucket.  Booking writes use a
// tighter bucket than the global one so a single client cannot hammer the
// capacity ledger.
type RateLimitConfig struct {
	Enabled        bool
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
	TTL            time.Duration
	KeyStrategy    string
	Prefix         string
	Debug          bool
	// BookingCapacity is the burst size for POST /v1/bookings and cancels.
	BookingCapacity int
}

func LoadRateLimitConfig() RateLimitConfig {
	def := RateLimitConfig{
		Enabled:         envBool("RATE_LIMIT_ENABLED", true),
		Capacity:        envInt("RATE_LIMIT_CAPACITY", 60),
		RefillTokens:    envInt("RATE_LIMIT_REFILL_TOKENS", 1),
		RefillInterval:  envDur("RATE_LIMIT_REFILL_INTERVAL", time.Second),
		TTL:             envDur("RATE_LIMIT_TTL", 10*time.Minute),
		KeyStrategy:     envStr("RATE_LIMIT_KEY_STRATEGY", "ip_user_route"),
		Prefix:          envStr("RATE_LIMIT_PREFIX", "rl"),
		Debug:           envBool("RATE_LIMIT_DEBUG", false),
		BookingCapacity: envInt("RATE_LIMIT_BOOKING_CAPACITY", 10),
	}
	return def.normalize()
}

func (c RateLimitConfig) normalize() RateLimitConfig {
	if b := envInt("RATE_LIMIT_BURST", -1); b > 0 {
		c.Capacity = b
	}
	if every := envDur("RATE_LIMIT_REFILL_EVERY", 0); every > 0 {
		c.RefillTokens = 1
		c.RefillInterval = every
	}
	if c.Capacity < 1 {
		c.Capacity = 1
	}
	if c.BookingCapacity < 1 {
		c.BookingCapacity = 1
	}
	if c.RefillTokens < 1 {
		c.RefillTokens = 1
	}
	if c.RefillInterval <= 0 {
		c.RefillInterval = time.Second
	}
	minTTL := 5 * c.RefillInterval
	if c.TTL < minTTL {
		c.TTL = minTTL
	}
	return c
}

// Booking returns a copy of c using the booking bucket size and prefix.
func (c RateLimitConfig) Booking() RateLimitConfig {
	b := c
	b.Capacity = c.BookingCapacity
	b.Prefix = c.Prefix + ":booking"
	b.KeyStrategy = "user_route"
	return b
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "on", "ON":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "off", "OFF":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}
