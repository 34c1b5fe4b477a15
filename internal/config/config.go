package config

/*
Builder + DTO pattern, adapted from the extraction-tuning Config this
package replaces: a builder with chainable With* setters plus a JSON-backed DTO that
only overrides non-zero fields on top of WithDefault's baseline. The
extraction-scoring fields the original config carried have no home in
this revision's Document model and are dropped; the key set below is the
crawl engine's own (target, database, user agent, timeouts, rate-limiter
backend selection, per-source scraper config).
*/

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// ScraperConfig is the per-source block under scrapers.<source_id>.*.
type ScraperConfig struct {
	Strategy string            `json:"strategy,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
	ProxyURL string            `json:"proxyUrl,omitempty"`
}

type Config struct {
	target                string
	database              string
	userAgent             string
	requestTimeout        time.Duration
	requestDelayMs        time.Duration
	rateLimitBackend      string
	brokerURL             string
	defaultRefreshTTLDays int
	concurrency           int
	scrapers              map[string]ScraperConfig
}

type configDTO struct {
	Target                string                   `json:"target"`
	Database              string                   `json:"database,omitempty"`
	UserAgent             string                   `json:"userAgent,omitempty"`
	RequestTimeout        time.Duration            `json:"requestTimeout,omitempty"`
	RequestDelayMs        time.Duration            `json:"requestDelayMs,omitempty"`
	RateLimitBackend      string                   `json:"rateLimitBackend,omitempty"`
	BrokerURL             string                   `json:"brokerUrl,omitempty"`
	DefaultRefreshTTLDays int                      `json:"defaultRefreshTtlDays,omitempty"`
	Concurrency           int                      `json:"concurrency,omitempty"`
	Scrapers              map[string]ScraperConfig `json:"scrapers,omitempty"`
}

// WithDefault seeds a builder for target (a source's base URL or name)
// with the engine's defaults.
func WithDefault(target string) *Config {
	return &Config{
		target:                target,
		database:              "crawlcore.db",
		userAgent:             "crawlcore/1.0",
		requestTimeout:        30 * time.Second,
		requestDelayMs:        0,
		rateLimitBackend:      "sqlite",
		defaultRefreshTTLDays: 7,
		concurrency:           8,
		scrapers:              map[string]ScraperConfig{},
	}
}

func WithConfigFile(path string) (Config, error) {
	if _, err := os.Stat(path); err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrFileDoesNotExist, err.Error())
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrReadConfigFail, err.Error())
	}

	var dto configDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrConfigParsingFail, err.Error())
	}
	return newConfigFromDTO(dto)
}

func newConfigFromDTO(dto configDTO) (Config, error) {
	cfg, err := WithDefault(dto.Target).Build()
	if err != nil {
		return Config{}, err
	}

	if dto.Database != "" {
		cfg.database = dto.Database
	}
	if dto.UserAgent != "" {
		cfg.userAgent = dto.UserAgent
	}
	if dto.RequestTimeout != 0 {
		cfg.requestTimeout = dto.RequestTimeout
	}
	if dto.RequestDelayMs != 0 {
		cfg.requestDelayMs = dto.RequestDelayMs
	}
	if dto.RateLimitBackend != "" {
		cfg.rateLimitBackend = dto.RateLimitBackend
	}
	if dto.BrokerURL != "" {
		cfg.brokerURL = dto.BrokerURL
	}
	if dto.DefaultRefreshTTLDays != 0 {
		cfg.defaultRefreshTTLDays = dto.DefaultRefreshTTLDays
	}
	if dto.Concurrency != 0 {
		cfg.concurrency = dto.Concurrency
	}
	if len(dto.Scrapers) > 0 {
		cfg.scrapers = dto.Scrapers
	}

	return cfg, nil
}

func (c *Config) WithDatabase(path string) *Config {
	c.database = path
	return c
}

func (c *Config) WithUserAgent(agent string) *Config {
	c.userAgent = agent
	return c
}

func (c *Config) WithRequestTimeout(d time.Duration) *Config {
	c.requestTimeout = d
	return c
}

func (c *Config) WithRequestDelayMs(d time.Duration) *Config {
	c.requestDelayMs = d
	return c
}

func (c *Config) WithRateLimitBackend(backend string) *Config {
	c.rateLimitBackend = backend
	return c
}

func (c *Config) WithBrokerURL(brokerURL string) *Config {
	c.brokerURL = brokerURL
	return c
}

func (c *Config) WithDefaultRefreshTTLDays(days int) *Config {
	c.defaultRefreshTTLDays = days
	return c
}

func (c *Config) WithConcurrency(n int) *Config {
	c.concurrency = n
	return c
}

func (c *Config) WithScraper(sourceID string, sc ScraperConfig) *Config {
	if c.scrapers == nil {
		c.scrapers = map[string]ScraperConfig{}
	}
	c.scrapers[sourceID] = sc
	return c
}

func (c *Config) Build() (Config, error) {
	if c.target == "" {
		return Config{}, fmt.Errorf("%w: target cannot be empty", ErrInvalidConfig)
	}
	if c.rateLimitBackend != "sqlite" && c.rateLimitBackend != "memory" {
		return Config{}, fmt.Errorf("%w: unsupported rateLimitBackend %q", ErrInvalidConfig, c.rateLimitBackend)
	}
	return *c, nil
}

func (c Config) Target() string               { return c.target }
func (c Config) Database() string              { return c.database }
func (c Config) UserAgent() string             { return c.userAgent }
func (c Config) RequestTimeout() time.Duration { return c.requestTimeout }
func (c Config) RequestDelayMs() time.Duration { return c.requestDelayMs }
func (c Config) RateLimitBackend() string      { return c.rateLimitBackend }
func (c Config) BrokerURL() string             { return c.brokerURL }
func (c Config) DefaultRefreshTTLDays() int    { return c.defaultRefreshTTLDays }
func (c Config) Concurrency() int              { return c.concurrency }

func (c Config) Scraper(sourceID string) (ScraperConfig, bool) {
	sc, ok := c.scrapers[sourceID]
	return sc, ok
}

// Hashable serializes the fields that, when changed, should invalidate an
// in-progress crawl's frontier (per frontier.CheckConfigChanged). Runtime
// collaborator wiring (broker URL, rate-limiter backend choice) does not
// affect crawl semantics and is excluded.
func (c Config) Hashable() map[string]any {
	return map[string]any{
		"target":    c.target,
		"userAgent": c.userAgent,
		"scrapers":  c.scrapers,
	}
}
