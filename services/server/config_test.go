// Copyright (C) 2025 Cisco Systems, Inc.
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 13332, cfg.Port)
	assert.Equal(t, "data/first.db", cfg.DatabasePath)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadConfigMissingFileIsFine(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "first.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"port: 9000\ndatabase_path: /var/lib/first/first.db\nlog_level: debug\n"), 0600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "/var/lib/first/first.db", cfg.DatabasePath)
	assert.Equal(t, "debug", cfg.LogLevel)
	// Untouched keys keep defaults.
	assert.Equal(t, "data/index", cfg.IndexPath)
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "first.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9000\n"), 0600))

	t.Setenv("FIRST_PORT", "9001")
	t.Setenv("FIRST_DB_PATH", "/tmp/override.db")
	t.Setenv("FIRST_LOG_LEVEL", "warn")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9001, cfg.Port)
	assert.Equal(t, "/tmp/override.db", cfg.DatabasePath)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadConfigBadPort(t *testing.T) {
	t.Setenv("FIRST_PORT", "not-a-port")
	_, err := LoadConfig("")
	assert.Error(t, err)
}

func TestLoadConfigBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "first.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: [broken"), 0600))
	_, err := LoadConfig(path)
	assert.Error(t, err)
}
