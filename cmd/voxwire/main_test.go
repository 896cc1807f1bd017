package main

import (
	"testing"

	"github.com/voxwire/voxwire/internal/config"
)

func TestApplyLogLevel(t *testing.T) {
	t.Parallel()

	t.Run("empty flag keeps configured level", func(t *testing.T) {
		cfg := &config.Config{}
		cfg.Server.LogLevel = config.LogWarn
		if err := applyLogLevel(cfg, ""); err != nil {
			t.Fatalf("applyLogLevel: %v", err)
		}
		if cfg.Server.LogLevel != config.LogWarn {
			t.Fatalf("log level = %q, want %q", cfg.Server.LogLevel, config.LogWarn)
		}
	})

	t.Run("flag overrides configured level", func(t *testing.T) {
		cfg := &config.Config{}
		cfg.Server.LogLevel = config.LogInfo
		if err := applyLogLevel(cfg, "DEBUG"); err != nil {
			t.Fatalf("applyLogLevel: %v", err)
		}
		if cfg.Server.LogLevel != config.LogDebug {
			t.Fatalf("log level = %q, want %q", cfg.Server.LogLevel, config.LogDebug)
		}
	})

	t.Run("unknown level rejected", func(t *testing.T) {
		cfg := &config.Config{}
		if err := applyLogLevel(cfg, "verbose"); err == nil {
			t.Fatal("expected an error for an unknown level")
		}
	})
}
