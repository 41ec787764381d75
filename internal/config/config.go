// Package config loads the server configuration. Values are layered:
// defaults, then an optional YAML file, then a .env file, then the process
// environment. The result is validated before use.
package config

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/juju/errors"
	"gopkg.in/yaml.v3"
)

// Environment variables read by Load.
const (
	EnvPort         = "PORT"
	EnvProduction   = "PRODUCTION"
	EnvUserAgent    = "REQ_UA"
	EnvStaticDir    = "STATIC_DIR"
	EnvFeedURL      = "VEHICLE_FEED_URL"
	EnvFeedFormat   = "VEHICLE_FEED_FORMAT"
	EnvPollInterval = "POLL_INTERVAL"
	EnvLogConfig    = "LOG_CONFIG"
	EnvOrigin       = "CORS_ORIGIN"
	EnvStaleAfter   = "STALE_AFTER"
)

// Config is the complete server configuration.
type Config struct {
	Port       int    `yaml:"port" validate:"min=1,max=65535"`
	Production bool   `yaml:"production"`
	StaticDir  string `yaml:"staticDir" validate:"required_if=Production true"`
	// Origin is the only CORS origin allowed in production.
	Origin          string            `yaml:"origin" validate:"required,url"`
	SocketPath      string            `yaml:"socketPath" validate:"required,startswith=/"`
	Logging         string            `yaml:"logging"`
	UserAgent       string            `yaml:"userAgent"`
	Headers         map[string]string `yaml:"headers"`
	ShutdownTimeout time.Duration     `yaml:"shutdownTimeout" validate:"gt=0"`

	Feed  FeedConfig  `yaml:"feed"`
	Relay RelayConfig `yaml:"relay"`
	Push  PushConfig  `yaml:"push"`
	Proxy ProxyConfig `yaml:"proxy"`
}

// FeedConfig configures the upstream vehicle feed and the poll loop.
type FeedConfig struct {
	URL          string        `yaml:"url" validate:"required,url"`
	Format       string        `yaml:"format" validate:"oneof=foli siri-json siri-xml gtfsrt"`
	PollInterval time.Duration `yaml:"pollInterval" validate:"gt=0"`
	Timeout      time.Duration `yaml:"timeout" validate:"gt=0"`
}

// RelayConfig configures the stale vehicle sweep. A zero StaleAfter
// disables it.
type RelayConfig struct {
	StaleAfter    time.Duration `yaml:"staleAfter" validate:"gte=0"`
	SweepSchedule string        `yaml:"sweepSchedule" validate:"required"`
}

// PushConfig configures the WebSocket transport.
type PushConfig struct {
	QueueSize int `yaml:"queueSize" validate:"min=1"`
}

// ProxyConfig configures the caching proxy.
type ProxyConfig struct {
	LongTTL   time.Duration `yaml:"longTTL" validate:"gt=0"`
	ShortTTL  time.Duration `yaml:"shortTTL" validate:"gt=0"`
	CacheSize int           `yaml:"cacheSize" validate:"min=1"`
	Timeout   time.Duration `yaml:"timeout" validate:"gt=0"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Port:            3000,
		Origin:          "https://pysakil.akaseli.dev",
		SocketPath:      "/api/socket/",
		StaticDir:       "../frontend",
		Logging:         "<root>=INFO",
		ShutdownTimeout: 10 * time.Second,
		Feed: FeedConfig{
			URL:          "https://data.foli.fi/siri/vm",
			Format:       "foli",
			PollInterval: 5 * time.Second,
			Timeout:      10 * time.Second,
		},
		Relay: RelayConfig{
			SweepSchedule: "@every 1m",
		},
		Push: PushConfig{
			QueueSize: 16,
		},
		Proxy: ProxyConfig{
			LongTTL:   time.Hour,
			ShortTTL:  60 * time.Second,
			CacheSize: 4096,
			Timeout:   10 * time.Second,
		},
	}
}

// Load builds the configuration. An empty path skips the YAML layer; a
// missing env file is ignored.
func Load(path, envFile string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Annotate(err, "reading config")
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, errors.Annotatef(err, "parsing %s", path)
		}
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return Config{}, errors.Annotatef(err, "loading %s", envFile)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, errors.Trace(err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Trace(err)
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
	}
	if v, ok := get(EnvPort); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return errors.NotValidf("%s %q", EnvPort, v)
		}
		c.Port = port
	}
	if _, ok := get(EnvProduction); ok {
		c.Production = true
	}
	if v, ok := get(EnvUserAgent); ok {
		c.UserAgent = v
	}
	if v, ok := get(EnvStaticDir); ok {
		c.StaticDir = v
	}
	if v, ok := get(EnvFeedURL); ok {
		c.Feed.URL = v
	}
	if v, ok := get(EnvFeedFormat); ok {
		c.Feed.Format = v
	}
	if v, ok := get(EnvPollInterval); ok {
		d, err := parseDuration(v)
		if err != nil {
			return errors.NewNotValid(err, EnvPollInterval)
		}
		c.Feed.PollInterval = d
	}
	if v, ok := get(EnvLogConfig); ok {
		c.Logging = v
	}
	if v, ok := get(EnvOrigin); ok {
		c.Origin = v
	}
	if v, ok := get(EnvStaleAfter); ok {
		d, err := parseDuration(v)
		if err != nil {
			return errors.NewNotValid(err, EnvStaleAfter)
		}
		c.Relay.StaleAfter = d
	}
	return nil
}

// parseDuration accepts a Go duration or a bare number of seconds.
func parseDuration(s string) (time.Duration, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	return d, errors.Trace(err)
}

// Validate checks every field constraint.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.NewNotValid(err, "invalid configuration")
	}
	return nil
}

// Header returns the headers sent with every upstream request.
func (c Config) Header() http.Header {
	h := make(http.Header)
	for k, v := range c.Headers {
		h.Set(k, v)
	}
	if c.UserAgent != "" {
		h.Set("User-Agent", c.UserAgent)
	}
	return h
}

// AllowedOrigins returns the CORS and WebSocket origins.
func (c Config) AllowedOrigins() []string {
	if c.Production {
		return []string{c.Origin}
	}
	return []string{"*"}
}
