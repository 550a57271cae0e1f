// Copyright (C) 2025 Cisco Systems, Inc.
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package server

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds the server's startup settings. Values load from an
// optional YAML file, then environment variables override.
type Config struct {
	// Port is the HTTP listen port.
	Port int `yaml:"port"`

	// DatabasePath is the SQLite file backing the relational store.
	DatabasePath string `yaml:"database_path"`

	// IndexPath is the BadgerDB directory backing the engine indexes.
	IndexPath string `yaml:"index_path"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `yaml:"log_level"`

	// LogDir, when set, adds a JSON file handler beside stderr.
	LogDir string `yaml:"log_dir"`

	// OTLPEndpoint, when set, enables trace export over OTLP gRPC.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// DefaultConfig returns the settings used with no file and no env.
func DefaultConfig() Config {
	return Config{
		Port:         13332,
		DatabasePath: "data/first.db",
		IndexPath:    "data/index",
		LogLevel:     "info",
	}
}

// LoadConfig reads the YAML file at path (skipped when path is empty or
// missing) and applies environment overrides on top of the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if v := os.Getenv("FIRST_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("FIRST_PORT: %w", err)
		}
		cfg.Port = port
	}
	if v := os.Getenv("FIRST_DB_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("FIRST_INDEX_PATH"); v != "" {
		cfg.IndexPath = v
	}
	if v := os.Getenv("FIRST_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("FIRST_LOG_DIR"); v != "" {
		cfg.LogDir = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.OTLPEndpoint = v
	}
	return cfg, nil
}
