// Package base carries the dependencies shared by every CLI command.
package base

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"

	"github.com/docfoundry/docfoundry/pkg/database"
)

// Command is embedded by each subcommand.
type Command struct {
	UI  cli.Ui
	Log hclog.Logger
}

// DatabaseConfigFromEnv builds the database configuration from the
// DOCFOUNDRY_DB_* environment variables. DOCFOUNDRY_DB_DSN overrides the
// individual fields.
func DatabaseConfigFromEnv() database.Config {
	cfg := database.Config{
		DSN:      os.Getenv("DOCFOUNDRY_DB_DSN"),
		Host:     envOr("DOCFOUNDRY_DB_HOST", "localhost"),
		Port:     envInt("DOCFOUNDRY_DB_PORT", 5432),
		User:     envOr("DOCFOUNDRY_DB_USER", "postgres"),
		Password: os.Getenv("DOCFOUNDRY_DB_PASSWORD"),
		DBName:   envOr("DOCFOUNDRY_DB_NAME", "docfoundry"),
		SSLMode:  envOr("DOCFOUNDRY_DB_SSLMODE", "disable"),
	}
	if timeout := os.Getenv("DOCFOUNDRY_DB_CONNECT_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			cfg.ConnectTimeout = d
		}
	}
	return cfg
}

// ErrorOut prints an error through the UI and returns the error exit
// code.
func (c *Command) ErrorOut(err error) int {
	c.UI.Error(fmt.Sprintf("error: %v", err))
	return 1
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
