// Askrelay - Durable Question Queue and Auto-Posting Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/askrelay

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/tomtom215/askrelay/internal/validation"
)

// DefaultConfigPaths lists where config files are searched, first
// match wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/askrelay/config.yaml",
	"/etc/askrelay/config.yml",
}

// ConfigPathEnvVar overrides the config file search.
const ConfigPathEnvVar = "ASKRELAY_CONFIG"

// envPrefix scopes environment overrides to this service.
const envPrefix = "ASKRELAY_"

// Default returns built-in defaults, applied before file and
// environment layers.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8470,
			Timeout:         30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Store: StoreConfig{
			Path:            "/data/askrelay",
			SyncWrites:      false,
			CacheTTL:        5 * time.Minute,
			CacheMaxEntries: 1024,
			FlushInterval:   100 * time.Millisecond,
			CloseTimeout:    30 * time.Second,
		},
		Queue: QueueConfig{
			MaxSize:         200,
			MaxTextLength:   500,
			DedupWindow:     24 * time.Hour,
			RetentionWindow: 24 * time.Hour,
		},
		Poster: PosterConfig{
			Timeout:           30 * time.Second,
			MinPostSpacing:    5 * time.Second,
			MaxNetworkRetries: 3,
		},
		Scheduler: SchedulerConfig{
			IntervalSeconds:     60,
			MaxRetryAttempts:    3,
			HealthCheckInterval: 30 * time.Second,
			CleanupInterval:     10 * time.Minute,
			AutoStart:           false,
		},
		Notify: NotifyConfig{
			MaxEntries: 100,
			TTL:        7 * 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file,
// and ASKRELAY_-prefixed environment variables, in rising precedence.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider(envPrefix, ".", envTransform)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := validation.ValidateStruct(cfg); err != nil {
		return nil, fmt.Errorf("configuration invalid: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration invalid: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransform maps ASKRELAY_SECTION_KEY to section.key. Only the
// first underscore separates the section; the rest stay in the key:
// ASKRELAY_SCHEDULER_MAX_RETRY_ATTEMPTS -> scheduler.max_retry_attempts.
func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	parts := strings.SplitN(key, "_", 2)
	if len(parts) != 2 {
		return key
	}
	return parts[0] + "." + parts[1]
}

// sliceConfigPaths are fields that accept comma-separated values from
// the environment.
var sliceConfigPaths = []string{
	"scheduler.ng_keywords",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("set %s: %w", path, err)
			}
		}
	}
	return nil
}
