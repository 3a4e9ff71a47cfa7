// Package config loads configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Env holds the configuration values for the application.
type Env struct {
	Region   string `env:"AWS_REGION" envDefault:"us-east-1"`
	Endpoint string `env:"AWS_ENDPOINT_URL"` // e.g., http://localstack:4566
	Table    string `env:"DDB_TABLE" envDefault:"timesheetstrings"`

	// ArchiveBucket enables chain snapshots to S3 when set.
	ArchiveBucket string `env:"CHAIN_ARCHIVE_BUCKET"`

	ConditionalWrites bool          `env:"CONDITIONAL_WRITES" envDefault:"false"`
	ValidateTable     bool          `env:"VALIDATE_TABLE" envDefault:"false"`
	DevBypassAuth     bool          `env:"DEV_BYPASS_AUTH" envDefault:"false"`
	RequestTimeout    time.Duration `env:"REQUEST_TIMEOUT" envDefault:"0s"`
	MaxChainDepth     int           `env:"MAX_CHAIN_DEPTH" envDefault:"1000"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads an optional .env file and then the process environment.
func Load() (Env, error) {
	_ = godotenv.Load()

	var e Env
	if err := env.Parse(&e); err != nil {
		return e, fmt.Errorf("parse environment: %w", err)
	}

	if e.Table == "" {
		return e, errors.New("missing env DDB_TABLE")
	}
	if e.RequestTimeout < 0 {
		return e, errors.New("REQUEST_TIMEOUT cannot be negative")
	}
	if e.MaxChainDepth < 1 {
		return e, errors.New("MAX_CHAIN_DEPTH must be at least 1")
	}
	return e, nil
}

// MustLoad is like Load but panics on invalid configuration.
func MustLoad() Env {
	e, err := Load()
	if err != nil {
		panic(err)
	}
	return e
}
