// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at AquaOps (https://www.aquaops.io/).
// Copyright 2025-present AquaOps, Inc.

// Package config holds the global agent configuration. Every setting is
// bound to an environment variable (prefix AQ, dots become underscores)
// and may also come from an optional aquaops.yaml file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Aquaops is the global configuration object.
var Aquaops = NewConfig()

// Config wraps viper with the env binding conventions used across the agent.
type Config struct {
	*viper.Viper
}

// NewConfig returns a Config with every known setting bound and defaulted.
func NewConfig() *Config {
	c := &Config{viper.New()}
	c.SetEnvPrefix("AQ")
	c.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	c.SetConfigName("aquaops")
	c.SetConfigType("yaml")

	c.bindEnvAndSetDefault("log_level", "info")
	c.bindEnvAndSetDefault("run_path", "/var/run/aquaops-agent")

	c.bindEnvAndSetDefault("api.host", "0.0.0.0")
	c.bindEnvAndSetDefault("api.port", 8050)

	c.bindEnvAndSetDefault("database.host", "localhost")
	c.bindEnvAndSetDefault("database.port", 5432)
	c.bindEnvAndSetDefault("database.name", "operations")
	c.bindEnvAndSetDefault("database.user", "")
	c.bindEnvAndSetDefault("database.password", "")
	c.bindEnvAndSetDefault("database.sslmode", "disable")
	c.bindEnvAndSetDefault("database.type", "postgresql")
	c.bindEnvAndSetDefault("database.connect_timeout_seconds", 10)
	c.bindEnvAndSetDefault("database.max_open_conns", 10)

	c.bindEnvAndSetDefault("cep_service_url", "http://localhost:8088")

	c.bindEnvAndSetDefault("remote_process.command", "uvx")
	c.bindEnvAndSetDefault("remote_process.args", []string{"work-assistant-mcp"})
	c.bindEnvAndSetDefault("remote_process.call_timeout_seconds", 30)
	c.bindEnvAndSetDefault("supabase_url", "")
	c.bindEnvAndSetDefault("supabase_anon_key", "")

	c.bindEnvAndSetDefault("poller.query_timeout_seconds", 60)
	c.bindEnvAndSetDefault("poller.error_backoff_seconds", 60)

	c.bindEnvAndSetDefault("notifications.max", 10000)

	return c
}

func (c *Config) bindEnvAndSetDefault(key string, val interface{}) {
	c.SetDefault(key, val)
	c.BindEnv(key) //nolint:errcheck
}

// Load reads the optional config file from the given directories. A
// missing file is not an error; a malformed one is.
func Load(c *Config, paths ...string) error {
	for _, p := range paths {
		c.AddConfigPath(p)
	}
	if err := c.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); notFound {
			return nil
		}
		return fmt.Errorf("unable to load config file: %w", err)
	}
	return nil
}

// DSN builds the database connection string from the config components.
func DSN(c *Config) string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.GetString("database.host"),
		c.GetInt("database.port"),
		c.GetString("database.name"),
		c.GetString("database.user"),
		c.GetString("database.password"),
		c.GetString("database.sslmode"),
	)
}

// QueryTimeout returns the hard deadline applied to every polling query.
func QueryTimeout(c *Config) time.Duration {
	return time.Duration(c.GetInt("poller.query_timeout_seconds")) * time.Second
}

// ErrorBackoff returns how long a polling task sleeps after a failure.
func ErrorBackoff(c *Config) time.Duration {
	return time.Duration(c.GetInt("poller.error_backoff_seconds")) * time.Second
}
