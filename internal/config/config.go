// Connlens - Network Connection Telemetry and Geographic Visualization
// Copyright 2026 Connlens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/connlens/connlens

// Package config loads layered configuration: built-in defaults, an
// optional YAML file, then CONNLENS_-prefixed environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the full runtime configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Security SecurityConfig `koanf:"security"`
	GeoIP    GeoIPConfig    `koanf:"geoip"`
	Database DatabaseConfig `koanf:"database"`
	NATS     NATSConfig     `koanf:"nats"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host              string        `koanf:"host" validate:"required"`
	Port              int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout           time.Duration `koanf:"timeout" validate:"min=1s"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout" validate:"min=1s"`
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitRequests int           `koanf:"rate_limit_requests" validate:"min=0"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// SecurityConfig holds tenant-resolution settings. An empty JWT secret
// disables token validation; tenants then come from the X-Tenant-ID
// header alone.
type SecurityConfig struct {
	JWTSecret string `koanf:"jwt_secret"`
}

// GeoIPConfig points at the local lookup tables. Missing or unreadable
// tables are not a startup error; lookups degrade to misses until the
// tables appear.
type GeoIPConfig struct {
	CityDBPath       string  `koanf:"city_db_path"`
	ASNDBPath        string  `koanf:"asn_db_path"`
	LookupsPerSecond float64 `koanf:"lookups_per_second" validate:"min=0"`
}

// DatabaseConfig holds durable-storage settings.
type DatabaseConfig struct {
	Path           string `koanf:"path" validate:"required"`
	InMemory       bool   `koanf:"in_memory"`
	RehydrateLimit int    `koanf:"rehydrate_limit" validate:"min=0"`
}

// NATSConfig holds the optional message-bus ingestion settings.
type NATSConfig struct {
	Enabled        bool   `koanf:"enabled"`
	URL            string `koanf:"url"`
	EmbeddedServer bool   `koanf:"embedded_server"`
	StoreDir       string `koanf:"store_dir"`
	Topic          string `koanf:"topic"`
	QueueGroup     string `koanf:"queue_group"`
	DurableName    string `koanf:"durable_name"`
}

// MetricsConfig holds snapshot-retention settings.
type MetricsConfig struct {
	Retention int `koanf:"retention" validate:"min=0"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal panic"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns the built-in defaults, applied before the config
// file and environment overrides.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8080,
			Timeout:           30 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			CORSOrigins:       []string{},
			RateLimitRequests: 300,
			RateLimitWindow:   time.Minute,
		},
		Security: SecurityConfig{
			JWTSecret: "",
		},
		GeoIP: GeoIPConfig{
			CityDBPath:       "/data/geoip/city.mmdb",
			ASNDBPath:        "/data/geoip/asn.mmdb",
			LookupsPerSecond: 0, // unlimited
		},
		Database: DatabaseConfig{
			Path:           "/data/connlens",
			RehydrateLimit: 500,
		},
		NATS: NATSConfig{
			Enabled:        false,
			URL:            "nats://127.0.0.1:4222",
			EmbeddedServer: true,
			StoreDir:       "/data/nats/jetstream",
			Topic:          "connections.ingest",
			QueueGroup:     "ingesters",
			DurableName:    "connlens-ingest",
		},
		Metrics: MetricsConfig{
			Retention: 168,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Validate checks the configuration against the struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
