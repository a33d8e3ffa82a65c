// Package config loads deadline runtime settings from the environment.
package config

import (
	"fmt"
	"path"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Storage selects and configures the key-value backend.
type Storage struct {
	Driver     string `env:"DEADLINE_STORAGE_DRIVER" envDefault:"sqlite"`
	SQLitePath string `env:"DEADLINE_SQLITE_PATH"    envDefault:"deadline.db"`
	BadgerDir  string `env:"DEADLINE_BADGER_DIR"     envDefault:"deadline-badger"`
}

// S3 configures the s3 blob driver.
type S3 struct {
	Bucket    string `env:"DEADLINE_BLOB_S3_BUCKET"`
	Region    string `env:"DEADLINE_BLOB_S3_REGION"     envDefault:"us-east-1"`
	Endpoint  string `env:"DEADLINE_BLOB_S3_ENDPOINT"`
	PathStyle bool   `env:"DEADLINE_BLOB_S3_PATH_STYLE"`
}

// Blob selects where the dataset bundle is read from.
type Blob struct {
	Driver string `env:"DEADLINE_BLOB_DRIVER"  envDefault:"fs"`
	FSRoot string `env:"DEADLINE_BLOB_FS_ROOT" envDefault:"./data"`
	S3     S3
}

// Config is the full process configuration.
type Config struct {
	Storage    Storage
	Blob       Blob
	DatasetKey string `env:"DEADLINE_DATASET_KEY" envDefault:"data.json"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects unknown drivers and incomplete driver settings.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "sqlite", "badger":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Blob.Driver {
	case "fs":
	case "s3":
		if c.Blob.S3.Bucket == "" {
			return fmt.Errorf("DEADLINE_BLOB_S3_BUCKET required for s3 blob driver")
		}
	default:
		return fmt.Errorf("unknown blob driver %q", c.Blob.Driver)
	}
	if strings.TrimSpace(c.DatasetKey) == "" {
		return fmt.Errorf("dataset key required")
	}
	switch strings.ToLower(path.Ext(c.DatasetKey)) {
	case ".json", ".yaml", ".yml":
	default:
		return fmt.Errorf("dataset key %q must end in .json, .yaml or .yml", c.DatasetKey)
	}
	return nil
}
