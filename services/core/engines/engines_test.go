// Copyright (C) 2025 Cisco Systems, Inc.
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package engines

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cisco-Talos/FIRST-server/services/core/disasm"
	"github.com/Cisco-Talos/FIRST-server/services/core/storage/badger"
	"github.com/Cisco-Talos/FIRST-server/services/core/store"
)

type engineEnv struct {
	deps Deps
	user *store.User
}

func newEngineEnv(t *testing.T) *engineEnv {
	t.Helper()
	s, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	index, err := badger.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { index.Close() })

	user, err := s.CreateUser(context.Background(), "Engine Tester", "eng@example.com", "eng")
	require.NoError(t, err)

	return &engineEnv{deps: Deps{Store: s, Index: index}, user: user}
}

// addAnnotatedFunction stores the function with one annotation so engine
// scans do not drop it, and returns its dump.
func (env *engineEnv) addAnnotatedFunction(t *testing.T, opcodes []byte, architecture string, apis []string) *FunctionDump {
	t.Helper()
	ctx := context.Background()

	fn, err := env.deps.Store.GetFunction(ctx, opcodes, architecture, apis, true)
	require.NoError(t, err)
	_, err = env.deps.Store.AddMetadataToFunction(ctx, env.user, fn, "annotated", "", "")
	require.NoError(t, err)

	dump := &FunctionDump{
		ID:           fn.ID,
		SHA256:       fn.SHA256,
		Opcodes:      opcodes,
		Architecture: architecture,
		APIs:         apis,
	}
	if dis, err := disasm.New(architecture, opcodes); err == nil {
		dump.Dis = dis
	}
	return dump
}

// intelBody is a 29-byte intel32 function: prologue, 20 nops, a relative
// call and a ret. Decodes to 24 instructions.
func intelBody() []byte {
	body := []byte{0x55, 0x89, 0xe5}
	body = append(body, bytes.Repeat([]byte{0x90}, 20)...)
	body = append(body, 0xe8, 0x10, 0x20, 0x30, 0x40)
	return append(body, 0xc3)
}

func queryFor(t *testing.T, opcodes []byte, architecture string, apis []string) *Query {
	t.Helper()
	q := &Query{Opcodes: opcodes, Architecture: architecture, APIs: apis}
	if dis, err := disasm.New(architecture, opcodes); err == nil {
		q.Dis = dis
	}
	return q
}

func TestExactMatchScoring(t *testing.T) {
	env := newEngineEnv(t)
	engine, err := NewEngine("exact_match", env.deps)
	require.NoError(t, err)
	ctx := context.Background()

	opcodes := intelBody()
	fn := env.addAnnotatedFunction(t, opcodes, "intel32", []string{"CreateFileA", "ReadFile"})
	require.NoError(t, engine.Add(ctx, fn))

	// Equal api sets: 100.
	results, err := engine.Scan(ctx, queryFor(t, opcodes, "intel32", []string{"ReadFile", "CreateFileA"}))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, fn.ID, results[0].FunctionID)
	assert.Equal(t, 100.0, results[0].Similarity)

	// Differing api sets: 90.
	results, err = engine.Scan(ctx, queryFor(t, opcodes, "intel32", []string{"CreateFileA"}))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 90.0, results[0].Similarity)

	// Unknown opcodes: no result.
	results, err = engine.Scan(ctx, queryFor(t, []byte{0xcc, 0xcc}, "intel32", nil))
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMnemonicHashMatchesExactByteStream(t *testing.T) {
	env := newEngineEnv(t)
	engine, err := NewEngine("mnemonic_hash", env.deps)
	require.NoError(t, err)
	ctx := context.Background()

	opcodes := intelBody()
	fn := env.addAnnotatedFunction(t, opcodes, "intel32", nil)
	require.NoError(t, engine.Add(ctx, fn))

	results, err := engine.Scan(ctx, queryFor(t, opcodes, "intel32", nil))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, fn.ID, results[0].FunctionID)
	// No stored apis: flat +5 over the 75 base.
	assert.Equal(t, 80.0, results[0].Similarity)
}

func TestMnemonicHashSkipsShortFunctions(t *testing.T) {
	env := newEngineEnv(t)
	engine, err := NewEngine("mnemonic_hash", env.deps)
	require.NoError(t, err)
	ctx := context.Background()

	// push / mov / ret: three mnemonics, below the floor of eight.
	short := []byte{0x55, 0x89, 0xe5, 0xc3}
	fn := env.addAnnotatedFunction(t, short, "intel32", nil)
	require.NoError(t, engine.Add(ctx, fn))

	results, err := engine.Scan(ctx, queryFor(t, short, "intel32", nil))
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMnemonicHashAPIBonus(t *testing.T) {
	env := newEngineEnv(t)
	engine, err := NewEngine("mnemonic_hash", env.deps)
	require.NoError(t, err)
	ctx := context.Background()

	opcodes := intelBody()
	fn := env.addAnnotatedFunction(t, opcodes, "intel32", []string{"CreateFileA", "ReadFile"})
	require.NoError(t, engine.Add(ctx, fn))

	// One of two stored apis overlaps: 75 + 10*1/2.
	results, err := engine.Scan(ctx, queryFor(t, opcodes, "intel32", []string{"CreateFileA"}))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 80.0, results[0].Similarity)
}

func TestBasicMaskingIgnoresCallDisplacement(t *testing.T) {
	env := newEngineEnv(t)
	engine, err := NewEngine("basic_masking", env.deps)
	require.NoError(t, err)
	ctx := context.Background()

	original := intelBody()
	fn := env.addAnnotatedFunction(t, original, "intel32", nil)
	require.NoError(t, engine.Add(ctx, fn))

	// Same body, different call target.
	variant := append([]byte(nil), original...)
	copy(variant[24:28], []byte{0xaa, 0xbb, 0xcc, 0xdd})

	results, err := engine.Scan(ctx, queryFor(t, variant, "intel32", nil))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, fn.ID, results[0].FunctionID)
	assert.GreaterOrEqual(t, results[0].Similarity, 85.0)
	assert.LessOrEqual(t, results[0].Similarity, 90.0)
}

func TestBasicMaskingSkipsUndecodableArchitecture(t *testing.T) {
	env := newEngineEnv(t)
	engine, err := NewEngine("basic_masking", env.deps)
	require.NoError(t, err)
	ctx := context.Background()

	results, err := engine.Scan(ctx, queryFor(t, intelBody(), "sparc", nil))
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestScansDropUnannotatedFunctions(t *testing.T) {
	env := newEngineEnv(t)
	ctx := context.Background()

	opcodes := intelBody()
	fn, err := env.deps.Store.GetFunction(ctx, opcodes, "intel32", nil, true)
	require.NoError(t, err)
	dis, err := disasm.New("intel32", opcodes)
	require.NoError(t, err)
	dump := &FunctionDump{ID: fn.ID, Opcodes: opcodes, Architecture: "intel32", Dis: dis}

	for _, class := range []string{"mnemonic_hash", "basic_masking"} {
		engine, err := NewEngine(class, env.deps)
		require.NoError(t, err)
		require.NoError(t, engine.Add(ctx, dump))

		results, err := engine.Scan(ctx, queryFor(t, opcodes, "intel32", nil))
		require.NoError(t, err)
		assert.Empty(t, results, class)
	}
}

func TestNewEngineUnknownClass(t *testing.T) {
	env := newEngineEnv(t)
	_, err := NewEngine("no_such_engine", env.deps)
	require.Error(t, err)
}

func TestRegisteredClasses(t *testing.T) {
	classes := RegisteredClasses()
	assert.Contains(t, classes, "exact_match")
	assert.Contains(t, classes, "mnemonic_hash")
	assert.Contains(t, classes, "basic_masking")
	assert.Contains(t, classes, "catalog1")
}
