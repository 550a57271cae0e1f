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
)

func TestCatalog1PermIsDeterministic(t *testing.T) {
	for p := 0; p < catalog1Perms; p++ {
		first := catalog1Perm(p, 0xdeadbeef)
		second := catalog1Perm(p, 0xdeadbeef)
		assert.Equal(t, first, second)
	}
	// Different permutation keys disagree on at least some inputs.
	assert.NotEqual(t, catalog1Perm(0, 0xdeadbeef), catalog1Perm(1, 0xdeadbeef))
}

func TestSlowSignRequiresOneWindow(t *testing.T) {
	_, err := slowSign([]byte{1, 2, 3}, catalog1Perms)
	require.Error(t, err)

	sig, err := slowSign([]byte{1, 2, 3, 4}, catalog1Perms)
	require.NoError(t, err)
	assert.Len(t, sig, catalog1Perms)
}

func TestSlowSignReproducible(t *testing.T) {
	data := bytes.Repeat([]byte("reversing"), 8)
	a, err := slowSign(data, catalog1Perms)
	require.NoError(t, err)
	b, err := slowSign(data, catalog1Perms)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, signatureSHA(a), signatureSHA(b))
}

func TestCatalog1ExactSignatureScores100(t *testing.T) {
	env := newEngineEnv(t)
	engine, err := NewEngine("catalog1", env.deps)
	require.NoError(t, err)

	opcodes := bytes.Repeat([]byte{0x55, 0x89, 0xe5, 0x83, 0xec, 0x10}, 10)
	fn := env.addAnnotatedFunction(t, opcodes, "intel32", nil)
	require.NoError(t, engine.Add(context.Background(), fn))

	results, err := engine.Scan(context.Background(), &Query{
		Opcodes: opcodes, Architecture: "intel32",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, fn.ID, results[0].FunctionID)
	assert.Equal(t, 100.0, results[0].Similarity)
	assert.Equal(t, []string{"Catalog1"}, results[0].Engines)
}

func TestCatalog1NearMatchScoresAbove80(t *testing.T) {
	env := newEngineEnv(t)
	engine, err := NewEngine("catalog1", env.deps)
	require.NoError(t, err)

	// A long body so that a single flipped byte disturbs only a few of
	// the sliding windows feeding the minima.
	opcodes := bytes.Repeat([]byte("U1\xd2\x89\xe5\x8bE\x08V\x8buU"), 10)
	fn := env.addAnnotatedFunction(t, opcodes, "intel32", nil)
	require.NoError(t, engine.Add(context.Background(), fn))

	mutated := append([]byte(nil), opcodes...)
	mutated[6] = 0xaf

	results, err := engine.Scan(context.Background(), &Query{
		Opcodes: mutated, Architecture: "intel32",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, fn.ID, results[0].FunctionID)
	assert.Greater(t, results[0].Similarity, 80.0)
	assert.Less(t, results[0].Similarity, 100.0)
}

func TestCatalog1ArchitecturesDoNotCross(t *testing.T) {
	env := newEngineEnv(t)
	engine, err := NewEngine("catalog1", env.deps)
	require.NoError(t, err)

	opcodes := bytes.Repeat([]byte{0xde, 0xad, 0xbe, 0xef}, 12)
	fn := env.addAnnotatedFunction(t, opcodes, "mips", nil)
	require.NoError(t, engine.Add(context.Background(), fn))

	results, err := engine.Scan(context.Background(), &Query{
		Opcodes: opcodes, Architecture: "sparc",
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}
