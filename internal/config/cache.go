package config

import (
	"strings"
	"time"
)

// CacheConfig defines settings for the response cache middleware.
// When Enabled is false or no Redis client is configured, caching will be disabled.
// Only the public catalogue (weekly schedule, packages) is cached; booking
// mutations purge the schedule entries because they change available spots.
type CacheConfig struct {
	Enabled      bool
	Methods      map[string]bool
	TTL          time.Duration
	KeyStrategy  string
	Prefix       string
	MaxBodyBytes int
}

// LoadCacheConfig reads environment variables to build a CacheConfig.  Defaults
// are used when variables are not set.  All methods are upper-cased.
func LoadCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:      envBool("CACHE_ENABLED", true),
		Methods:      parseMethods(envStr("CACHE_METHODS", "GET")),
		TTL:          envDur("CACHE_TTL", 30*time.Second),
		KeyStrategy:  envStr("CACHE_KEY_STRATEGY", "route_query"),
		Prefix:       envStr("CACHE_PREFIX", "cache"),
		MaxBodyBytes: envInt("CACHE_MAX_BODY_BYTES", 1<<20),
	}
}

func parseMethods(s string) map[string]bool {
	m := map[string]bool{}
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(strings.ToUpper(p))
		if p != "" {
			m[p] = true
		}
	}
	return m
}

// QueueConfig points the booking event publisher and consumer at RabbitMQ.
type QueueConfig struct {
	URL             string
	ConsumerEnabled bool
	LogPath         string
}

// LoadQueueConfig reads RABBITMQ_URL (or the AMQP_URL alias).  An empty URL
// disables event publishing.
func LoadQueueConfig() QueueConfig {
	url := envStr("RABBITMQ_URL", envStr("AMQP_URL", ""))
	return QueueConfig{
		URL:             url,
		ConsumerEnabled: url != "" && envBool("QUEUE_CONSUMER_ENABLED", true),
		LogPath:         envStr("BOOKING_LOG_PATH", "logs/booking.log"),
	}
}
