package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration for the streamecho server.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	HTTPPort       int
	PublicBaseURL  string        // http(s) base the platform uses for the status actionHook
	StreamBaseURL  string        // ws(s) base the platform connects the listen stream to
	RedirectDelay  time.Duration // delay before the redirect command
	RedirectNumber string        // fixed phone number the redirect dials
	SampleRate     int
	WriteTimeout   time.Duration // per-frame WebSocket write deadline
	SendQueueSize  int           // per-connection outbound frame queue
	RateLimit      float64       // webhook requests per second per IP, 0 disables
	RateBurst      int
	TLSCert        string
	TLSKey         string
	LogLevel       string
	LogFormat      string // log output format: "text" or "json"
	CORSOrigins    string
}

// defaults
const (
	defaultHTTPPort       = 3000
	defaultPublicBaseURL  = "http://localhost:3000"
	defaultStreamBaseURL  = "ws://localhost:3000"
	defaultRedirectDelay  = 5 * time.Second
	defaultRedirectNumber = "1111962797073022"
	defaultSampleRate     = 16000
	defaultWriteTimeout   = 5 * time.Second
	defaultSendQueueSize  = 256
	defaultRateLimit      = 20
	defaultRateBurst      = 40
	defaultLogLevel       = "info"
	defaultLogFormat      = "text"
)

// envPrefix is the prefix for all streamecho environment variables.
const envPrefix = "STREAMECHO_"

// Load parses configuration from os.Args and environment variables.
func Load() (*Config, error) {
	return load(os.Args[1:], os.LookupEnv)
}

// load parses args and applies env overrides looked up through lookupEnv.
func load(args []string, lookupEnv func(string) (string, bool)) (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("streamecho", flag.ContinueOnError)

	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP and WebSocket listen port")
	fs.StringVar(&cfg.PublicBaseURL, "public-base-url", defaultPublicBaseURL, "public http(s) base URL used in the status actionHook")
	fs.StringVar(&cfg.StreamBaseURL, "stream-base-url", defaultStreamBaseURL, "public ws(s) base URL the platform opens audio streams to")
	fs.DurationVar(&cfg.RedirectDelay, "redirect-delay", defaultRedirectDelay, "delay after stream connect before the redirect command is sent")
	fs.StringVar(&cfg.RedirectNumber, "redirect-number", defaultRedirectNumber, "phone number the redirect command dials")
	fs.IntVar(&cfg.SampleRate, "sample-rate", defaultSampleRate, "L16 sample rate for listen streams")
	fs.DurationVar(&cfg.WriteTimeout, "write-timeout", defaultWriteTimeout, "per-frame WebSocket write timeout")
	fs.IntVar(&cfg.SendQueueSize, "send-queue-size", defaultSendQueueSize, "outbound frame queue length per stream")
	fs.Float64Var(&cfg.RateLimit, "rate-limit", defaultRateLimit, "webhook requests per second per client IP (0 disables)")
	fs.IntVar(&cfg.RateBurst, "rate-burst", defaultRateBurst, "webhook request burst per client IP")
	fs.StringVar(&cfg.TLSCert, "tls-cert", "", "path to TLS certificate file")
	fs.StringVar(&cfg.TLSKey, "tls-key", "", "path to TLS private key file")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.StringVar(&cfg.CORSOrigins, "cors-origins", "", "comma-separated list of allowed CORS origins (use * for all)")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Apply env var overrides for any flags not explicitly set on the command line.
	applyEnvOverrides(fs, cfg, lookupEnv)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. Unparseable numeric values are
// ignored and the flag value is kept.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config, lookupEnv func(string) (string, bool)) {
	// Track which flags were explicitly set via CLI.
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	fs.VisitAll(func(f *flag.Flag) {
		if set[f.Name] {
			return
		}
		envVar := envPrefix + strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
		val, ok := lookupEnv(envVar)
		if !ok || val == "" {
			return
		}
		switch f.Name {
		case "http-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.HTTPPort = v
			}
		case "public-base-url":
			cfg.PublicBaseURL = val
		case "stream-base-url":
			cfg.StreamBaseURL = val
		case "redirect-delay":
			if v, err := time.ParseDuration(val); err == nil {
				cfg.RedirectDelay = v
			}
		case "redirect-number":
			cfg.RedirectNumber = val
		case "sample-rate":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.SampleRate = v
			}
		case "write-timeout":
			if v, err := time.ParseDuration(val); err == nil {
				cfg.WriteTimeout = v
			}
		case "send-queue-size":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.SendQueueSize = v
			}
		case "rate-limit":
			if v, err := strconv.ParseFloat(val, 64); err == nil {
				cfg.RateLimit = v
			}
		case "rate-burst":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.RateBurst = v
			}
		case "tls-cert":
			cfg.TLSCert = val
		case "tls-key":
			cfg.TLSKey = val
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		case "cors-origins":
			cfg.CORSOrigins = val
		}
	})
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}
	if err := validateBaseURL("public-base-url", c.PublicBaseURL, "http", "https"); err != nil {
		return err
	}
	if err := validateBaseURL("stream-base-url", c.StreamBaseURL, "ws", "wss"); err != nil {
		return err
	}
	if c.RedirectDelay <= 0 {
		return fmt.Errorf("redirect-delay must be positive, got %s", c.RedirectDelay)
	}
	if strings.TrimSpace(c.RedirectNumber) == "" {
		return fmt.Errorf("redirect-number must not be empty")
	}
	switch c.SampleRate {
	case 8000, 16000, 24000, 32000, 48000, 64000:
	default:
		return fmt.Errorf("sample-rate must be one of 8000, 16000, 24000, 32000, 48000, 64000; got %d", c.SampleRate)
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write-timeout must be positive, got %s", c.WriteTimeout)
	}
	if c.SendQueueSize < 1 {
		return fmt.Errorf("send-queue-size must be at least 1, got %d", c.SendQueueSize)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate-limit must not be negative, got %v", c.RateLimit)
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		return fmt.Errorf("rate-burst must be at least 1 when rate-limit is set, got %d", c.RateBurst)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	// TLS cert and key must both be set or both be empty.
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return fmt.Errorf("tls-cert and tls-key must both be provided or both be omitted")
	}

	return nil
}

func validateBaseURL(name, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("%s must include a host, got %q", name, raw)
			}
			return nil
		}
	}
	return fmt.Errorf("%s must use scheme %s, got %q", name, strings.Join(schemes, " or "), raw)
}

// TLSEnabled returns true if a TLS certificate is configured.
func (c *Config) TLSEnabled() bool {
	return c.TLSCert != ""
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
