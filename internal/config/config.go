// Package config handles ratefeed configuration via environment variables,
// with an optional YAML file overlay for operators who prefer a file.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"ratefeed/internal/logging"
)

// Conf is a namespaced view over environment variables.
type Conf struct{ prefix string }

// New creates a root Conf (no prefix).
func New() Conf { return Conf{} }

// Prefix creates a child Conf with an additional prefix, e.g. New().Prefix("WS_").
func (c Conf) Prefix(p string) Conf { return Conf{prefix: c.prefix + p} }

func (c Conf) key(k string) string { return c.prefix + k }

// MayString returns the value or def if missing/empty.
func (c Conf) MayString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(c.key(key)))
	if v == "" {
		return def
	}
	return v
}

// MayInt returns the value or def if missing/empty; warns and returns def if invalid.
func (c Conf) MayInt(key string, def int) int {
	s := strings.TrimSpace(os.Getenv(c.key(key)))
	if s == "" {
		return def
	}
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	logging.Get().Warn().Str("key", c.key(key)).Str("value", s).Int("default", def).Msg("invalid int; using default")
	return def
}

// MayFloat64 returns the value or def if missing/empty; warns and returns def if invalid.
func (c Conf) MayFloat64(key string, def float64) float64 {
	s := strings.TrimSpace(os.Getenv(c.key(key)))
	if s == "" {
		return def
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v
	}
	logging.Get().Warn().Str("key", c.key(key)).Str("value", s).Float64("default", def).Msg("invalid float; using default")
	return def
}

// MayDurationSeconds returns a duration parsed from seconds (to match the spec's
// float-seconds env keys) or def if missing/empty/invalid.
func (c Conf) MayDurationSeconds(key string, def time.Duration) time.Duration {
	s := strings.TrimSpace(os.Getenv(c.key(key)))
	if s == "" {
		return def
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil && v >= 0 {
		return time.Duration(v * float64(time.Second))
	}
	logging.Get().Warn().Str("key", c.key(key)).Str("value", s).Dur("default", def).Msg("invalid duration seconds; using default")
	return def
}

// Symbol is one entry of the static symbol table.
type Symbol struct {
	ID   int    `yaml:"id"`
	Name string `yaml:"name"`
}

var defaultSymbols = []Symbol{
	{ID: 1, Name: "EURUSD"},
	{ID: 2, Name: "USDJPY"},
	{ID: 3, Name: "GBPUSD"},
	{ID: 4, Name: "AUDUSD"},
	{ID: 5, Name: "USDCAD"},
}

// Settings holds every configuration value the process needs, sourced from
// the environment per spec and optionally overlaid by a YAML file named by
// CONFIG_FILE (env always wins on conflict, so the file only fills gaps).
type Settings struct {
	HistoryPeriod             time.Duration
	NotifierWorkerConcurrency int
	DBWorkerConcurrency       int
	PoolQueueDepth            int

	PollInterval time.Duration
	PollTimeout  time.Duration
	UpstreamURL  string

	LogLevel  string
	LogFormat string

	Host string
	Port string

	DB        string // "mongo" | "redis"
	MongoURI  string
	RedisHost string
	RedisPort string

	WSRateLimitRPS   float64
	WSRateLimitBurst int

	Symbols []Symbol
}

type fileOverlay struct {
	HistoryPeriod int      `yaml:"history_period"`
	UpstreamURL   string   `yaml:"upstream_url"`
	Symbols       []Symbol `yaml:"available_symbols"`
}

// Load builds Settings from the environment, optionally overlaid by the
// YAML file at CONFIG_FILE.
func Load() (*Settings, error) {
	c := New()

	overlay := fileOverlay{}
	if path := c.MayString("CONFIG_FILE", ""); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &overlay); err != nil {
			return nil, err
		}
	}

	historyPeriodSec := c.MayInt("HISTORY_PERIOD", firstNonZero(overlay.HistoryPeriod, 1800))

	upstreamURL := c.MayString("UPSTREAM_URL", overlay.UpstreamURL)
	if upstreamURL == "" {
		upstreamURL = "https://rates.emcont.com/"
	}

	symbols := overlay.Symbols
	if len(symbols) == 0 {
		symbols = defaultSymbols
	}

	s := &Settings{
		HistoryPeriod:             time.Duration(historyPeriodSec) * time.Second,
		NotifierWorkerConcurrency: c.MayInt("NOTIFIER_WORKER_CONCURRENCY", 5),
		DBWorkerConcurrency:       c.MayInt("DB_WORKER_CONCURRENCY", 1),
		PoolQueueDepth:            c.MayInt("POOL_QUEUE_DEPTH", 1000),

		PollInterval: c.MayDurationSeconds("PARSER_INTERVAL", 1*time.Second),
		PollTimeout:  c.MayDurationSeconds("PARSER_TIMEOUT", 500*time.Millisecond),
		UpstreamURL:  upstreamURL,

		LogLevel:  c.MayString("LOG_LEVEL", "info"),
		LogFormat: c.MayString("LOG_FORMAT", "console"),

		Host: c.MayString("HOST", "0.0.0.0"),
		Port: c.MayString("PORT", "8080"),

		DB:        strings.ToLower(c.MayString("DB", "redis")),
		MongoURI:  c.MayString("MONGO_URI", "mongodb://mongo:27017"),
		RedisHost: c.MayString("REDIS_HOST", "redis"),
		RedisPort: c.MayString("REDIS_PORT", "6379"),

		WSRateLimitRPS:   c.MayFloat64("WS_RATE_LIMIT_RPS", 20),
		WSRateLimitBurst: c.MayInt("WS_RATE_LIMIT_BURST", 40),

		Symbols: symbols,
	}

	return s, nil
}

func firstNonZero(v, def int) int {
	if v != 0 {
		return v
	}
	return def
}
