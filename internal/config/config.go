package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenPort      string        // ex: ":8080", empty disables the HTTP API
	ShutdownTimeout time.Duration // ex: 5s

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	// Subscriptions
	Subscription   string        // "state" | "info" | "serverinfo"
	DumpInterval   time.Duration // how often the snapshot file is rewritten
	DialTimeout    time.Duration // websocket dial + connection_ack wait
	RequestTimeout time.Duration // one-shot GraphQL requests and pings
	PingOnStart    bool          // check every instance is reachable before subscribing

	// Redis mirror (optional)
	RedisAddr             string        // ex: "localhost:6379", empty disables the mirror
	RedisUser             string        // optional
	RedisPassword         string        // optional
	RedisPasswordRequired bool          // true => require password
	RedisDB               int           // Redis DB number
	RedisDT               time.Duration // Redis dial timeout (ex: 5s)
	RedisRT               time.Duration // Redis read timeout (ex: 3s)
	RedisWT               time.Duration // Redis write timeout (ex: 3s)
	RedisMaxWait          time.Duration // max wait between retries (ex: 10s)
	RedisPingTimeout      time.Duration // timeout for each ping attempt (ex: 5s)
	RedisPoolSize         int           // Redis connection pool size
	RedisConnectTimeout   time.Duration // total time to retry connecting (ex: 30s)
	RedisRetryInterval    time.Duration // initial wait between retries (ex: 2s, grows exponentially)
	RedisWarnThreshold    int           // warn after this many attempts
	RedisMirrorInterval   time.Duration // how often the snapshot is pushed to Redis

	AllowedCIDRS []string // optional, restrict the API to these IPs/CIDRs
	TrustProxy   bool     // true => trust X-Forwarded-For headers
}

// Load reads the configuration from the environment. It panics on values
// that are set but invalid.
func Load() *Config {
	cfg := &Config{
		// Server settings
		ListenPort:      os.Getenv("EPHYR_LISTEN_PORT"),
		ShutdownTimeout: mustDuration("EPHYR_SHUTDOWN_TIMEOUT", 5*time.Second),

		// Logging
		LogLevel:  getenv("EPHYR_LOG_LEVEL", "info"),
		PrettyLog: mustBool("EPHYR_PRETTY_LOG", true),

		// Subscriptions
		Subscription:   strings.ToLower(getenv("EPHYR_SUBSCRIPTION", "state")),
		DumpInterval:   mustDuration("EPHYR_DUMP_INTERVAL", time.Second),
		DialTimeout:    mustDuration("EPHYR_DIAL_TIMEOUT", 10*time.Second),
		RequestTimeout: mustDuration("EPHYR_REQUEST_TIMEOUT", 10*time.Second),
		PingOnStart:    mustBool("EPHYR_PING_ON_START", false),

		// Redis settings
		RedisAddr:             os.Getenv("EPHYR_REDIS_ADDR"),
		RedisUser:             getenv("EPHYR_REDIS_USERNAME", "default"),
		RedisPasswordRequired: mustBool("EPHYR_REDIS_PASSWORD_REQUIRED", false),
		RedisPassword:         getenv("EPHYR_REDIS_PASSWORD", ""),
		RedisDB:               mustInt("EPHYR_REDIS_DB", 0),
		RedisDT:               mustDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisRT:               mustDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWT:               mustDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		RedisMaxWait:          mustDuration("REDIS_MAX_WAIT", 10*time.Second),
		RedisPingTimeout:      mustDuration("REDIS_PING_TIMEOUT", 5*time.Second),
		RedisPoolSize:         getenvInt("REDIS_POOL_SIZE", 10),
		RedisConnectTimeout:   mustDuration("REDIS_CONNECT_TIMEOUT", 30*time.Second),
		RedisRetryInterval:    mustDuration("REDIS_RETRY_INTERVAL", 2*time.Second),
		RedisWarnThreshold:    getenvInt("REDIS_WARN_THRESHOLD", 3),
		RedisMirrorInterval:   mustDuration("EPHYR_REDIS_MIRROR_INTERVAL", 5*time.Second),

		// Access restrictions
		AllowedCIDRS: splitAndTrim(getenv("EPHYR_ALLOWED_CIDRS", "")),
		TrustProxy:   mustBool("EPHYR_TRUST_PROXY", false),
	}

	if cfg.ListenPort != "" && !strings.Contains(cfg.ListenPort, ":") {
		cfg.ListenPort = ":" + cfg.ListenPort
	}

	if cfg.RedisAddr != "" && cfg.RedisPasswordRequired && cfg.RedisPassword == "" {
		panic("❌ FATAL: EPHYR_REDIS_PASSWORD is required when EPHYR_REDIS_PASSWORD_REQUIRED=true")
	}

	// Log config only in debug mode with redacted sensitive fields
	if cfg.LogLevel == "debug" {
		cfgCopy := *cfg
		if cfgCopy.RedisPassword != "" {
			cfgCopy.RedisPassword = "***REDACTED***"
		}
		log.Printf("[DEBUG] cfg: %+v\n", cfgCopy)
	}

	return cfg
}

// RedisEnabled reports whether the Redis mirror is configured.
func (c *Config) RedisEnabled() bool { return c.RedisAddr != "" }

// HTTPEnabled reports whether the HTTP API should be served.
func (c *Config) HTTPEnabled() bool { return c.ListenPort != "" }

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func mustInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		panic(fmt.Sprintf("❌ FATAL: Invalid integer value for %s: %s", key, v))
	}
	return i
}

func mustBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		panic(fmt.Sprintf("❌ FATAL: Invalid boolean value for %s: %s", key, v))
	}
	return b
}

func mustDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		panic(fmt.Sprintf("❌ FATAL: Invalid duration value for %s: %s", key, v))
	}
	return d
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
