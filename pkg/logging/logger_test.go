// Copyright (C) 2025 Cisco Systems, Inc.
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel("warn"))
	assert.Equal(t, LevelWarn, ParseLevel("warning"))
	assert.Equal(t, LevelError, ParseLevel("error"))
	assert.Equal(t, LevelInfo, ParseLevel(""))
	assert.Equal(t, LevelInfo, ParseLevel("bogus"))
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: LevelWarn, Stderr: &buf})
	require.NoError(t, err)
	defer logger.Close()

	logger.Info("should be dropped")
	logger.Warn("should appear")

	out := buf.String()
	assert.NotContains(t, out, "should be dropped")
	assert.Contains(t, out, "should appear")
}

func TestFileLogging(t *testing.T) {
	dir := t.TempDir()

	var buf bytes.Buffer
	logger, err := New(Config{
		Level:   LevelInfo,
		LogDir:  dir,
		Service: "first-test",
		Stderr:  &buf,
	})
	require.NoError(t, err)

	logger.Info("indexed function", "engine", "ExactMatch")
	require.NoError(t, logger.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "first-test_"))

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)

	// File output is JSON, one record per line.
	var record map[string]any
	line := bytes.SplitN(data, []byte("\n"), 2)[0]
	require.NoError(t, json.Unmarshal(line, &record))
	assert.Equal(t, "indexed function", record["msg"])
	assert.Equal(t, "ExactMatch", record["engine"])
	assert.Equal(t, "first-test", record["service"])
}

func TestCloseIsIdempotent(t *testing.T) {
	logger, err := New(Config{LogDir: t.TempDir(), Stderr: &bytes.Buffer{}})
	require.NoError(t, err)
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close())
}
