// Copyright (C) 2025 Cisco Systems, Inc.
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

// Command first-server starts the FIRST HTTP server.
//
// Configuration loads from an optional YAML file, then environment
// variables override:
//
//   - FIRST_CONFIG: path to the YAML config (default: first.yaml)
//   - FIRST_PORT: HTTP listen port (default: 13332)
//   - FIRST_DB_PATH: SQLite database file (default: data/first.db)
//   - FIRST_INDEX_PATH: engine index directory (default: data/index)
//   - FIRST_LOG_LEVEL: debug, info, warn, error (default: info)
//   - FIRST_LOG_DIR: when set, adds a JSON log file beside stderr
//   - OTEL_EXPORTER_OTLP_ENDPOINT: when set, exports traces over OTLP
package main

import (
	"log"
	"os"

	"github.com/Cisco-Talos/FIRST-server/services/server"
)

func main() {
	configPath := os.Getenv("FIRST_CONFIG")
	if configPath == "" {
		configPath = "first.yaml"
	}

	cfg, err := server.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	srv, err := server.New(cfg)
	if err != nil {
		log.Fatalf("Failed to start FIRST server: %v", err)
	}
	defer srv.Close()

	if err := srv.Run(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
