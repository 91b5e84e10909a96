package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration derived from environment variables.
type Config struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	ServiceName  string
	// Document fetching and parsing
	FetchTimeout     time.Duration
	MaxDocumentBytes int64
	MaxWrapperDepth  int
	// Tracking beacons
	TrackingTimeout     time.Duration
	TrackingMaxInFlight int
	TrackingUserAgent   string
	PlayableMIMETypes   []string
	// Macro expansion: fixed-value macros (NAME=value) and whether an
	// unresolved macro drops the URL instead of being stripped
	CustomMacros    map[string]string
	MacroStrictMode bool
	// Redis document cache
	RedisAddr            string
	DocumentCacheEnabled bool
	DocumentCacheTTL     time.Duration
	// ClickHouse beacon log
	ClickHouseDSN     string
	BeaconLogEnabled  bool
	CHMaxOpenConns    int
	CHMaxIdleConns    int
	CHConnMaxLifetime time.Duration
	CHConnMaxIdleTime time.Duration
	// Client error reporting; empty disables it
	ErrorReportURL string
	// Server-side tracking sessions idle longer than this are abandoned
	SessionTTL time.Duration
	// How often sampled-log statistics are logged; zero disables it
	SamplingStatsInterval time.Duration
	// Tracing configuration
	TracingEnabled    bool
	TempoEndpoint     string
	TracingSampleRate float64
}

// DefaultPlayableMIMETypes lists the containers a typical mobile player can decode.
var DefaultPlayableMIMETypes = []string{"video/mp4", "video/3gpp", "video/quicktime", "video/x-m4v"}

// Load parses environment variables and returns a Config populated with
// defaults when variables are absent.
func Load() Config {
	cfg := Config{}

	cfg.Port = getenv("PORT", "8787")
	cfg.ReadTimeout = envDuration("READ_TIMEOUT", 5*time.Second)
	cfg.WriteTimeout = envDuration("WRITE_TIMEOUT", 30*time.Second)
	cfg.ServiceName = getenv("SERVICE_NAME", "openvast")

	cfg.FetchTimeout = envDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.MaxDocumentBytes = int64(envInt("MAX_DOCUMENT_BYTES", 1<<20))
	cfg.MaxWrapperDepth = envInt("MAX_WRAPPER_DEPTH", 5)

	cfg.TrackingTimeout = envDuration("TRACKING_TIMEOUT", 5*time.Second)
	cfg.TrackingMaxInFlight = envInt("TRACKING_MAX_INFLIGHT", 8)
	cfg.TrackingUserAgent = getenv("TRACKING_USER_AGENT", "openvast/1.0")
	cfg.PlayableMIMETypes = envList("PLAYABLE_MIME_TYPES", DefaultPlayableMIMETypes)
	cfg.CustomMacros = envMap("CUSTOM_MACROS")
	cfg.MacroStrictMode = envBool("MACRO_STRICT_MODE", false)

	cfg.RedisAddr = getenv("REDIS_ADDR", "localhost:6379")
	cfg.DocumentCacheEnabled = envBool("DOCUMENT_CACHE_ENABLED", false)
	// wrapper responses are usually per-impression, keep the cache short
	cfg.DocumentCacheTTL = envDuration("DOCUMENT_CACHE_TTL", 30*time.Second)

	cfg.ClickHouseDSN = getenv("CLICKHOUSE_DSN", "clickhouse://default:@localhost:9000/default?async_insert=1&wait_for_async_insert=0")
	cfg.BeaconLogEnabled = envBool("BEACON_LOG_ENABLED", false)
	cfg.CHMaxOpenConns = envInt("CH_MAX_OPEN_CONNS", 50)
	cfg.CHMaxIdleConns = envInt("CH_MAX_IDLE_CONNS", 10)
	cfg.CHConnMaxLifetime = envDuration("CH_CONN_MAX_LIFETIME", 5*time.Minute)
	cfg.CHConnMaxIdleTime = envDuration("CH_CONN_MAX_IDLE_TIME", 1*time.Minute)

	cfg.ErrorReportURL = getenv("ERROR_REPORT_URL", "")
	cfg.SessionTTL = envDuration("SESSION_TTL", 15*time.Minute)
	cfg.SamplingStatsInterval = envDuration("SAMPLING_STATS_INTERVAL", 5*time.Minute)

	cfg.TracingEnabled = envBool("TRACING_ENABLED", false)
	cfg.TempoEndpoint = getenv("TEMPO_ENDPOINT", "tempo:4317")
	cfg.TracingSampleRate = envFloat("TRACING_SAMPLE_RATE", 1.0)

	return cfg
}

// getenv returns the value of the environment variable if set, otherwise def.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envDuration parses an environment variable into a time.Duration.
// The value can be a duration string (e.g. "5s") or a number of seconds.
// If the variable is unset or invalid, def is returned.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

// envBool parses a boolean environment variable. Accepted values are those
// supported by strconv.ParseBool. When unset or invalid, def is returned.
func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return def
}

// envInt parses an integer environment variable. When unset or invalid, def is returned.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if i, err := strconv.Atoi(v); err == nil {
		return i
	}
	return def
}

// envFloat parses a float64 environment variable. When unset or invalid, def is returned.
func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return def
}

// envList splits a comma separated variable, dropping empty entries.
func envList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return append([]string(nil), def...)
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), def...)
	}
	return out
}

// envMap parses a comma separated list of NAME=value pairs. Entries without
// a name or an '=' are skipped.
func envMap(key string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(os.Getenv(key), ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if name = strings.TrimSpace(name); !ok || name == "" {
			continue
		}
		out[name] = strings.TrimSpace(value)
	}
	return out
}
