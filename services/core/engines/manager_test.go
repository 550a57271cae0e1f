// Copyright (C) 2025 Cisco Systems, Inc.
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package engines

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cisco-Talos/FIRST-server/services/core/store"
)

// stockCatalog installs and activates the four stock engines.
func stockCatalog(t *testing.T, s *store.Store) {
	t.Helper()
	ctx := context.Background()
	for name, class := range map[string]string{
		"ExactMatch":   "exact_match",
		"MnemonicHash": "mnemonic_hash",
		"BasicMasking": "basic_masking",
		"Catalog1":     "catalog1",
	} {
		_, err := s.InstallEngine(ctx, name, name+" engine", class, 0)
		require.NoError(t, err)
		require.NoError(t, s.SetEngineActive(ctx, name, true))
	}
}

func newTestManager(t *testing.T, env *engineEnv) *Manager {
	t.Helper()
	stockCatalog(t, env.deps.Store)
	m, err := LoadActiveEngines(context.Background(), env.deps)
	require.NoError(t, err)
	return m
}

func TestLoadActiveEnginesSkipsBadCatalogRows(t *testing.T) {
	env := newEngineEnv(t)
	ctx := context.Background()
	stockCatalog(t, env.deps.Store)
	_, err := env.deps.Store.InstallEngine(ctx, "Broken", "missing class", "gone", 0)
	require.NoError(t, err)
	require.NoError(t, env.deps.Store.SetEngineActive(ctx, "Broken", true))

	m, err := LoadActiveEngines(ctx, env.deps)
	require.NoError(t, err)
	assert.Len(t, m.Engines(), 4)
}

func TestManagerSelfScanScores100AcrossEngines(t *testing.T) {
	env := newEngineEnv(t)
	m := newTestManager(t, env)
	ctx := context.Background()

	opcodes := intelBody()
	fn := env.addAnnotatedFunction(t, opcodes, "intel32", nil)
	failures := m.Add(ctx, fn)
	assert.Empty(t, failures)

	annotations, engineInfo, err := m.Scan(ctx, opcodes, "intel32", nil)
	require.NoError(t, err)
	require.Len(t, annotations, 1)

	ann := annotations[0]
	assert.Equal(t, 100.0, ann.Similarity)
	assert.Contains(t, ann.Engines, "ExactMatch")
	assert.Contains(t, ann.Engines, "MnemonicHash")
	assert.Contains(t, ann.Engines, "BasicMasking")
	assert.Contains(t, ann.Engines, "Catalog1")

	for _, name := range ann.Engines {
		assert.Contains(t, engineInfo, name)
	}
}

func TestManagerMergeTakesMaxSimilarity(t *testing.T) {
	merged := make(map[int64]*Result)
	mergeResult(merged, &Result{FunctionID: 7, Similarity: 80, Engines: []string{"MnemonicHash"}})
	mergeResult(merged, &Result{FunctionID: 7, Similarity: 100, Engines: []string{"ExactMatch"}})
	mergeResult(merged, &Result{FunctionID: 7, Similarity: 90, Engines: []string{"ExactMatch"}})

	require.Len(t, merged, 1)
	r := merged[7]
	assert.Equal(t, 100.0, r.Similarity)
	assert.ElementsMatch(t, []string{"MnemonicHash", "ExactMatch"}, r.Engines)
}

func TestManagerScanOnUnsupportedArchitectureStillRuns(t *testing.T) {
	env := newEngineEnv(t)
	m := newTestManager(t, env)
	ctx := context.Background()

	// No decoder family for sparc: byte-level engines still answer.
	opcodes := intelBody()
	fn := env.addAnnotatedFunction(t, opcodes, "sparc", nil)
	m.Add(ctx, fn)

	annotations, _, err := m.Scan(ctx, opcodes, "sparc", nil)
	require.NoError(t, err)
	require.Len(t, annotations, 1)
	assert.Equal(t, 100.0, annotations[0].Similarity)
	assert.Contains(t, annotations[0].Engines, "ExactMatch")
	assert.Contains(t, annotations[0].Engines, "Catalog1")
	assert.NotContains(t, annotations[0].Engines, "MnemonicHash")
}

func TestManagerScanCapsResults(t *testing.T) {
	env := newEngineEnv(t)
	m := newTestManager(t, env)
	ctx := context.Background()

	// One function annotated by many users exercises the per-function
	// ceiling.
	opcodes := intelBody()
	fn, err := env.deps.Store.GetFunction(ctx, opcodes, "intel32", nil, true)
	require.NoError(t, err)
	for i := 0; i < 15; i++ {
		u, err := env.deps.Store.CreateUser(ctx, "U", fmt.Sprintf("u%d@example.com", i), "scanuser")
		require.NoError(t, err)
		_, err = env.deps.Store.AddMetadataToFunction(ctx, u, fn, fmt.Sprintf("name_%d", i), "", "")
		require.NoError(t, err)
	}
	m.Add(ctx, &FunctionDump{ID: fn.ID, Opcodes: opcodes, Architecture: "intel32"})

	annotations, _, err := m.Scan(ctx, opcodes, "intel32", nil)
	require.NoError(t, err)
	// 15 annotations on one function, capped at 10 per function.
	assert.Len(t, annotations, maxAnnotationsPerFunction)
}
