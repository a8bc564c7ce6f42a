package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/cascadia"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Browser   BrowserConfig   `yaml:"browser"`
	Scraper   ScraperConfig   `yaml:"scraper"`
	Site      SiteConfig      `yaml:"site"`
	Queue     QueueConfig     `yaml:"queue"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Cache     CacheConfig     `yaml:"cache"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string `yaml:"host"` // default: "0.0.0.0"
	Port int    `yaml:"port"` // default: 3000
	Mode string `yaml:"mode"` // "debug", "release", "test"; default: "release"
}

// BrowserConfig controls how the shared browser session is obtained.
type BrowserConfig struct {
	// WSEndpoint is the DevTools WebSocket URL of a remote browser.
	// When empty, a local Chromium is launched instead.
	WSEndpoint string `yaml:"ws_endpoint"`

	// Headless controls whether a locally launched browser runs headless.
	Headless bool `yaml:"headless"` // default: true

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool `yaml:"no_sandbox"` // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string `yaml:"browser_bin"`

	// Proxy is passed to a locally launched browser.
	Proxy string `yaml:"proxy"`

	// Stealth injects anti-bot-detection evasions into every new page.
	Stealth bool `yaml:"stealth"` // default: true

	// AcceptLanguage is sent with every page request.
	AcceptLanguage string `yaml:"accept_language"` // default: "es-CO,es;q=0.9"

	// ConnectTimeout bounds a single connect or launch attempt.
	ConnectTimeout time.Duration `yaml:"connect_timeout"` // default: 30s
}

// ScraperConfig controls step timing of the automation runner.
type ScraperConfig struct {
	// NavigationTimeout bounds navigation plus the first quiescence wait.
	NavigationTimeout time.Duration `yaml:"navigation_timeout"` // default: 30s

	// StepTimeout bounds each wait-for-control step of the form.
	StepTimeout time.Duration `yaml:"step_timeout"` // default: 30s

	// ResultsTimeout bounds the wait for the results table.
	ResultsTimeout time.Duration `yaml:"results_timeout"` // default: 10s

	// IdleWindow is how long the network must be quiet to count as idle.
	IdleWindow time.Duration `yaml:"idle_window"` // default: 500ms

	// BlockedResourceTypes lists resource types to block.
	// default: ["Image", "Font", "Media"]
	//
	// Blocking installs a request hijack router on every page. Request-idle
	// waits conflict with hijacking, so while anything is blocked (including
	// trackers) the network quiescence waits fall back to DOM stability. Set
	// this empty and BlockTrackers false to wait on request idleness instead.
	BlockedResourceTypes []string `yaml:"blocked_resource_types"`

	// BlockTrackers drops requests to known analytics hosts.
	BlockTrackers bool `yaml:"block_trackers"` // default: true
}

// SiteConfig describes the target form. Defaults match the live site.
type SiteConfig struct {
	EntryURL string `yaml:"entry_url"`

	DocumentTypeSelector string `yaml:"document_type_selector"`
	SubjectInputSelector string `yaml:"subject_input_selector"`
	SearchSelector       string `yaml:"search_selector"`
	YearSelector         string `yaml:"year_selector"`
	MonthSelector        string `yaml:"month_selector"`
	SubmitSelector       string `yaml:"submit_selector"`
	ResultsTableSelector string `yaml:"results_table_selector"`

	// NotFoundSelector, when set, marks the page state the site shows for an
	// unknown subject after the first search.
	NotFoundSelector string `yaml:"not_found_selector"`

	// DocumentTypeValues maps a document type to its <option> value.
	DocumentTypeValues map[string]string `yaml:"document_type_values"`
}

// QueueConfig controls the serial lookup queue.
type QueueConfig struct {
	// MaxRetries is the number of reconnect-and-retry cycles per request
	// after a session loss.
	MaxRetries int `yaml:"max_retries"` // default: 1
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool `yaml:"enabled"` // default: true

	// APIKeys is the list of valid API keys.
	APIKeys []string `yaml:"api_keys"`
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key.
	RequestsPerSecond float64 `yaml:"requests_per_second"` // default: 2

	// Burst is the maximum burst size per API key.
	Burst int `yaml:"burst"` // default: 5
}

// CacheConfig controls the outcome cache.
type CacheConfig struct {
	// MaxEntries is the maximum number of cached outcomes.
	MaxEntries int `yaml:"max_entries"` // default: 1000
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // default: "info"
	Format string `yaml:"format"` // "json" or "text"; default: "json"
}

// TelemetryConfig controls tracing.
type TelemetryConfig struct {
	// TraceStdout exports spans to stdout.
	TraceStdout bool `yaml:"trace_stdout"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 3000,
			Mode: "release",
		},
		Browser: BrowserConfig{
			Headless:       true,
			Stealth:        true,
			AcceptLanguage: "es-CO,es;q=0.9",
			ConnectTimeout: 30 * time.Second,
		},
		Scraper: ScraperConfig{
			NavigationTimeout:    30 * time.Second,
			StepTimeout:          30 * time.Second,
			ResultsTimeout:       10 * time.Second,
			IdleWindow:           500 * time.Millisecond,
			BlockedResourceTypes: []string{"Image", "Font", "Media"},
			BlockTrackers:        true,
		},
		Site: SiteConfig{
			EntryURL:             "https://servicio.nuevosoi.com.co/soi/consultarplanillas.do",
			DocumentTypeSelector: "select#tipoDocumento",
			SubjectInputSelector: "input#numeroDocumento",
			SearchSelector:       "a#planillasDisponiblesPago",
			YearSelector:         "select#periodoLiqOtrosSubsAnno",
			MonthSelector:        "select#periodoLiqOtrosSubsMess",
			SubmitSelector:       "button#btnGuardar",
			ResultsTableSelector: "table#tablaPlanillaAsistida",
			DocumentTypeValues: map[string]string{
				"NATIONAL_ID": "1",
				"PASSPORT":    "5",
			},
		},
		Queue: QueueConfig{
			MaxRetries: 1,
		},
		Auth: AuthConfig{
			Enabled: true,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 2,
			Burst:             5,
		},
		Cache: CacheConfig{
			MaxEntries: 1000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file named
// by PLANILLAS_CONFIG, and environment variables, in that order.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("PLANILLAS_CONFIG"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides fields whose environment variable is set.
// BROWSER_WS_ENDPOINT and PORT are honoured for compatibility with
// existing deployments.
func (c *Config) applyEnv() {
	c.Server.Host = envOr("PLANILLAS_HOST", c.Server.Host)
	c.Server.Port = envIntOr("PORT", c.Server.Port)
	c.Server.Port = envIntOr("PLANILLAS_PORT", c.Server.Port)
	c.Server.Mode = envOr("PLANILLAS_MODE", c.Server.Mode)

	c.Browser.WSEndpoint = envOr("BROWSER_WS_ENDPOINT", c.Browser.WSEndpoint)
	c.Browser.WSEndpoint = envOr("PLANILLAS_WS_ENDPOINT", c.Browser.WSEndpoint)
	c.Browser.Headless = envBoolOr("PLANILLAS_HEADLESS", c.Browser.Headless)
	c.Browser.NoSandbox = envBoolOr("PLANILLAS_NO_SANDBOX", c.Browser.NoSandbox)
	c.Browser.BrowserBin = envOr("PLANILLAS_BROWSER_BIN", c.Browser.BrowserBin)
	c.Browser.Proxy = envOr("PLANILLAS_PROXY", c.Browser.Proxy)
	c.Browser.Stealth = envBoolOr("PLANILLAS_STEALTH", c.Browser.Stealth)
	c.Browser.AcceptLanguage = envOr("PLANILLAS_ACCEPT_LANGUAGE", c.Browser.AcceptLanguage)
	c.Browser.ConnectTimeout = envDurationOr("PLANILLAS_CONNECT_TIMEOUT", c.Browser.ConnectTimeout)

	c.Scraper.NavigationTimeout = envDurationOr("PLANILLAS_NAV_TIMEOUT", c.Scraper.NavigationTimeout)
	c.Scraper.StepTimeout = envDurationOr("PLANILLAS_STEP_TIMEOUT", c.Scraper.StepTimeout)
	c.Scraper.ResultsTimeout = envDurationOr("PLANILLAS_RESULTS_TIMEOUT", c.Scraper.ResultsTimeout)
	c.Scraper.IdleWindow = envDurationOr("PLANILLAS_IDLE_WINDOW", c.Scraper.IdleWindow)
	c.Scraper.BlockedResourceTypes = envSliceOr("PLANILLAS_BLOCKED_RESOURCES", c.Scraper.BlockedResourceTypes)
	c.Scraper.BlockTrackers = envBoolOr("PLANILLAS_BLOCK_TRACKERS", c.Scraper.BlockTrackers)

	c.Site.EntryURL = envOr("PLANILLAS_ENTRY_URL", c.Site.EntryURL)
	c.Site.NotFoundSelector = envOr("PLANILLAS_NOT_FOUND_SELECTOR", c.Site.NotFoundSelector)

	c.Queue.MaxRetries = envIntOr("PLANILLAS_MAX_RETRIES", c.Queue.MaxRetries)

	c.Auth.Enabled = envBoolOr("PLANILLAS_AUTH_ENABLED", c.Auth.Enabled)
	c.Auth.APIKeys = envSliceOr("PLANILLAS_API_KEYS", c.Auth.APIKeys)

	c.RateLimit.RequestsPerSecond = envFloatOr("PLANILLAS_RATE_RPS", c.RateLimit.RequestsPerSecond)
	c.RateLimit.Burst = envIntOr("PLANILLAS_RATE_BURST", c.RateLimit.Burst)

	c.Cache.MaxEntries = envIntOr("PLANILLAS_CACHE_MAX_ENTRIES", c.Cache.MaxEntries)

	c.Log.Level = envOr("PLANILLAS_LOG_LEVEL", c.Log.Level)
	c.Log.Format = envOr("PLANILLAS_LOG_FORMAT", c.Log.Format)

	c.Telemetry.TraceStdout = envBoolOr("PLANILLAS_TRACE_STDOUT", c.Telemetry.TraceStdout)
}

// Validate rejects configurations the runner cannot work with.
func (c *Config) Validate() error {
	var errs []error

	if c.Site.EntryURL == "" {
		errs = append(errs, errors.New("site.entry_url is required"))
	}
	selectors := map[string]string{
		"document_type_selector": c.Site.DocumentTypeSelector,
		"subject_input_selector": c.Site.SubjectInputSelector,
		"search_selector":        c.Site.SearchSelector,
		"year_selector":          c.Site.YearSelector,
		"month_selector":         c.Site.MonthSelector,
		"submit_selector":        c.Site.SubmitSelector,
		"results_table_selector": c.Site.ResultsTableSelector,
	}
	for name, sel := range selectors {
		if sel == "" {
			errs = append(errs, fmt.Errorf("site.%s is required", name))
			continue
		}
		if _, err := cascadia.Parse(sel); err != nil {
			errs = append(errs, fmt.Errorf("site.%s: invalid selector %q: %w", name, sel, err))
		}
	}
	if c.Site.NotFoundSelector != "" {
		if _, err := cascadia.Parse(c.Site.NotFoundSelector); err != nil {
			errs = append(errs, fmt.Errorf("site.not_found_selector: invalid selector %q: %w", c.Site.NotFoundSelector, err))
		}
	}
	for _, dt := range []string{"NATIONAL_ID", "PASSPORT"} {
		if c.Site.DocumentTypeValues[dt] == "" {
			errs = append(errs, fmt.Errorf("site.document_type_values: missing value for %s", dt))
		}
	}

	if c.Scraper.StepTimeout <= 0 || c.Scraper.ResultsTimeout <= 0 || c.Scraper.NavigationTimeout <= 0 {
		errs = append(errs, errors.New("scraper timeouts must be positive"))
	}
	if c.Queue.MaxRetries < 0 {
		errs = append(errs, errors.New("queue.max_retries must not be negative"))
	}
	return errors.Join(errs...)
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
