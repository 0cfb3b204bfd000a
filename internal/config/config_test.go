// Askrelay - Durable Question Queue and Auto-Posting Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/askrelay

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Server.Port != 8470 {
		t.Errorf("Unexpected default port %d", cfg.Server.Port)
	}
	if cfg.Queue.MaxSize != 200 || cfg.Queue.MaxTextLength != 500 {
		t.Errorf("Unexpected queue defaults: %+v", cfg.Queue)
	}
	if cfg.Scheduler.IntervalSeconds != 60 {
		t.Errorf("Unexpected scheduler interval %d", cfg.Scheduler.IntervalSeconds)
	}
	if cfg.Store.FlushInterval != 100*time.Millisecond {
		t.Errorf("Unexpected flush interval %s", cfg.Store.FlushInterval)
	}
}

func TestLoad_DefaultsOnly(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, "/nonexistent/config.yaml")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Unexpected logging defaults: %+v", cfg.Logging)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, "/nonexistent/config.yaml")
	t.Setenv("ASKRELAY_SERVER_PORT", "9000")
	t.Setenv("ASKRELAY_SCHEDULER_MAX_RETRY_ATTEMPTS", "7")
	t.Setenv("ASKRELAY_SCHEDULER_NG_KEYWORDS", "spam, scam ,phish")
	t.Setenv("ASKRELAY_POSTER_ENDPOINT", "https://example.com/post")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Expected port 9000, got %d", cfg.Server.Port)
	}
	if cfg.Scheduler.MaxRetryAttempts != 7 {
		t.Errorf("Expected 7 retry attempts, got %d", cfg.Scheduler.MaxRetryAttempts)
	}
	want := []string{"spam", "scam", "phish"}
	if len(cfg.Scheduler.NGKeywords) != len(want) {
		t.Fatalf("Expected %v, got %v", want, cfg.Scheduler.NGKeywords)
	}
	for i, k := range want {
		if cfg.Scheduler.NGKeywords[i] != k {
			t.Errorf("Keyword %d: expected %q, got %q", i, k, cfg.Scheduler.NGKeywords[i])
		}
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte("server:\n  port: 8100\nscheduler:\n  prefix: \"[ask] \"\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("Writing config file failed: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 8100 {
		t.Errorf("Expected port 8100 from file, got %d", cfg.Server.Port)
	}
	if cfg.Scheduler.Prefix != "[ask] " {
		t.Errorf("Expected prefix from file, got %q", cfg.Scheduler.Prefix)
	}
}

func TestLoad_EnvBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 8100\n"), 0o600); err != nil {
		t.Fatalf("Writing config file failed: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("ASKRELAY_SERVER_PORT", "8200")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 8200 {
		t.Errorf("Environment must beat file, got port %d", cfg.Server.Port)
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, "/nonexistent/config.yaml")
	t.Setenv("ASKRELAY_SCHEDULER_INTERVAL_SECONDS", "5")

	if _, err := Load(); err == nil {
		t.Error("Expected validation failure for sub-minimum interval")
	}
}

func TestValidate_StorePathRequired(t *testing.T) {
	cfg := Default()
	cfg.Store.Path = ""
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error when store path empty and not in-memory")
	}
	cfg.Store.InMemory = true
	if err := cfg.Validate(); err != nil {
		t.Errorf("In-memory store needs no path, got %v", err)
	}
}

func TestValidate_PosterEndpoint(t *testing.T) {
	cfg := Default()
	cfg.Poster.Endpoint = "ftp://example.com"
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for non-http endpoint")
	}

	cfg.Poster.Endpoint = ""
	cfg.Scheduler.AutoStart = true
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for auto_start without endpoint")
	}
}

func TestEnvTransform(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ASKRELAY_SERVER_PORT", "server.port"},
		{"ASKRELAY_SCHEDULER_MAX_RETRY_ATTEMPTS", "scheduler.max_retry_attempts"},
		{"ASKRELAY_STORE_CACHE_TTL", "store.cache_ttl"},
	}
	for _, tt := range tests {
		if got := envTransform(tt.in); got != tt.want {
			t.Errorf("envTransform(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
