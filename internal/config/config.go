// Askrelay - Durable Question Queue and Auto-Posting Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/askrelay

// Package config loads layered configuration: built-in defaults, an
// optional YAML file, then ASKRELAY_-prefixed environment variables.
package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Store     StoreConfig     `koanf:"store"`
	Queue     QueueConfig     `koanf:"queue"`
	Poster    PosterConfig    `koanf:"poster"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Notify    NotifyConfig    `koanf:"notify"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig configures the HTTP control plane.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout         time.Duration `koanf:"timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"min=1"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// StoreConfig configures the persistence layer.
type StoreConfig struct {
	Path            string        `koanf:"path"`
	InMemory        bool          `koanf:"in_memory"`
	SyncWrites      bool          `koanf:"sync_writes"`
	CacheTTL        time.Duration `koanf:"cache_ttl"`
	CacheMaxEntries int           `koanf:"cache_max_entries" validate:"min=1"`
	FlushInterval   time.Duration `koanf:"flush_interval"`
	CloseTimeout    time.Duration `koanf:"close_timeout"`
}

// QueueConfig configures the question queue.
type QueueConfig struct {
	MaxSize         int           `koanf:"max_size" validate:"min=1"`
	MaxTextLength   int           `koanf:"max_text_length" validate:"min=1"`
	DedupWindow     time.Duration `koanf:"dedup_window"`
	RetentionWindow time.Duration `koanf:"retention_window"`
}

// PosterConfig configures the posting client.
type PosterConfig struct {
	Endpoint          string        `koanf:"endpoint" validate:"omitempty,url"`
	Token             string        `koanf:"token"`
	Timeout           time.Duration `koanf:"timeout"`
	MinPostSpacing    time.Duration `koanf:"min_post_spacing"`
	MaxNetworkRetries int           `koanf:"max_network_retries" validate:"min=1"`
}

// SchedulerConfig configures the posting scheduler.
type SchedulerConfig struct {
	IntervalSeconds     int           `koanf:"interval_seconds" validate:"min=10"`
	MaxRetryAttempts    int           `koanf:"max_retry_attempts" validate:"min=1"`
	Prefix              string        `koanf:"prefix"`
	NGKeywords          []string      `koanf:"ng_keywords"`
	HealthCheckInterval time.Duration `koanf:"health_check_interval"`
	CleanupInterval     time.Duration `koanf:"cleanup_interval"`
	AutoStart           bool          `koanf:"auto_start"`
}

// NotifyConfig configures operator notifications.
type NotifyConfig struct {
	MaxEntries int           `koanf:"max_entries" validate:"min=1"`
	TTL        time.Duration `koanf:"ttl"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Validate checks constraints the struct tags cannot express.
func (c *Config) Validate() error {
	if !c.Store.InMemory && c.Store.Path == "" {
		return fmt.Errorf("store.path is required unless store.in_memory is set")
	}
	if c.Poster.Endpoint != "" {
		u, err := url.Parse(c.Poster.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("poster.endpoint must be an http(s) URL, got %q", c.Poster.Endpoint)
		}
	}
	if c.Scheduler.AutoStart && c.Poster.Endpoint == "" {
		return fmt.Errorf("scheduler.auto_start requires poster.endpoint")
	}
	return nil
}
