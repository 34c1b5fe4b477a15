package cliapp

import (
	"errors"
	"testing"

	"github.com/rohmanhakim/crawlcore/internal/config"
)

func TestBuildConfigRequiresTargetWithoutConfigFile(t *testing.T) {
	ResetFlags()

	_, err := buildConfig()
	if err == nil || !errors.Is(err, config.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestBuildConfigAppliesFlagOverrides(t *testing.T) {
	ResetFlags()
	SetTargetForTest("https://example.org")
	concurrency = 4
	databasePath = "custom.db"

	cfg, err := buildConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Target() != "https://example.org" {
		t.Errorf("expected target to round-trip, got %q", cfg.Target())
	}
	if cfg.Concurrency() != 4 {
		t.Errorf("expected concurrency override 4, got %d", cfg.Concurrency())
	}
	if cfg.Database() != "custom.db" {
		t.Errorf("expected database override, got %q", cfg.Database())
	}
}

func TestBuildConfigUsesConfigFileWhenSet(t *testing.T) {
	ResetFlags()
	SetConfigFileForTest("/path/that/does/not/exist/config.json")

	_, err := buildConfig()
	if !errors.Is(err, config.ErrFileDoesNotExist) {
		t.Fatalf("expected ErrFileDoesNotExist, got %v", err)
	}
}

func TestResetFlagsClearsOverrides(t *testing.T) {
	SetTargetForTest("https://example.org")
	SetDatabaseForTest("custom.db")
	SetConcurrencyForTest(9)

	ResetFlags()

	if target != "" || databasePath != "" || concurrency != 0 {
		t.Fatalf("expected ResetFlags to clear all overrides, got target=%q database=%q concurrency=%d", target, databasePath, concurrency)
	}
}
