package config_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rohmanhakim/crawlcore/internal/config"
)

func TestWithDefault(t *testing.T) {
	cfg, err := config.WithDefault("https://example.org").Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Target() != "https://example.org" {
		t.Errorf("expected target to round-trip, got %q", cfg.Target())
	}
	if cfg.RateLimitBackend() != "sqlite" {
		t.Errorf("expected default rate limit backend sqlite, got %q", cfg.RateLimitBackend())
	}
	if cfg.RequestTimeout() != 30*time.Second {
		t.Errorf("expected default timeout 30s, got %v", cfg.RequestTimeout())
	}
}

func TestBuildRejectsEmptyTarget(t *testing.T) {
	_, err := (&config.Config{}).Build()
	if err == nil || !errors.Is(err, config.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestBuildRejectsUnknownRateLimitBackend(t *testing.T) {
	_, err := config.WithDefault("https://example.org").WithRateLimitBackend("redis-but-unimplemented").Build()
	if err == nil || !errors.Is(err, config.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestWithConfigFileOverridesOnlyProvidedFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	payload := map[string]any{
		"target":    "https://docs.example.org",
		"userAgent": "custom-agent/2.0",
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.WithConfigFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.UserAgent() != "custom-agent/2.0" {
		t.Errorf("expected overridden user agent, got %q", cfg.UserAgent())
	}
	if cfg.Database() != "crawlcore.db" {
		t.Errorf("expected default database to survive, got %q", cfg.Database())
	}
}

func TestWithConfigFileMissingFile(t *testing.T) {
	_, err := config.WithConfigFile(filepath.Join(t.TempDir(), "missing.json"))
	if !errors.Is(err, config.ErrFileDoesNotExist) {
		t.Fatalf("expected ErrFileDoesNotExist, got %v", err)
	}
}

func TestScraperLookup(t *testing.T) {
	cfg, err := config.WithDefault("https://example.org").
		WithScraper("src1", config.ScraperConfig{Strategy: "link"}).
		Build()
	if err != nil {
		t.Fatal(err)
	}
	sc, ok := cfg.Scraper("src1")
	if !ok || sc.Strategy != "link" {
		t.Errorf("expected scraper config for src1, got %+v ok=%v", sc, ok)
	}
}
