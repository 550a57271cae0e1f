// Copyright (C) 2025 Cisco Systems, Inc.
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package disasm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupported(t *testing.T) {
	for _, arch := range []string{"intel16", "intel32", "intel64", "arm32", "arm64", "ppc", "ppc32", "ppc64"} {
		assert.True(t, Supported(arch), arch)
	}
	for _, arch := range []string{"mips", "mips64", "sparc", "sysz", "", "z80"} {
		assert.False(t, Supported(arch), arch)
	}
}

func TestNewUnsupported(t *testing.T) {
	_, err := New("sparc", []byte{0x90})
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestDecodeIntel32(t *testing.T) {
	// push ebp; mov ebp, esp; xor eax, eax; pop ebp; ret
	code := []byte{0x55, 0x89, 0xe5, 0x31, 0xc0, 0x5d, 0xc3}

	d, err := New("intel32", code)
	require.NoError(t, err)

	insts := d.Instructions()
	require.Len(t, insts, 5)
	assert.Equal(t, "push", insts[0].Mnemonic)
	assert.Equal(t, "mov", insts[1].Mnemonic)
	assert.Equal(t, "xor", insts[2].Mnemonic)
	assert.Equal(t, "pop", insts[3].Mnemonic)
	assert.Equal(t, "ret", insts[4].Mnemonic)

	// Raw bytes round-trip.
	var total int
	for _, i := range insts {
		total += len(i.Bytes)
	}
	assert.Equal(t, len(code), total)
}

func TestDecodeRelativeCall(t *testing.T) {
	// call rel32 (e8 xx xx xx xx)
	code := []byte{0xe8, 0x10, 0x20, 0x30, 0x40}

	d, err := New("intel32", code)
	require.NoError(t, err)

	insts := d.Instructions()
	require.Len(t, insts, 1)
	assert.Equal(t, "call", insts[0].Mnemonic)
	assert.True(t, insts[0].Call)
	assert.False(t, insts[0].Jump)
	assert.Equal(t, 1, insts[0].RelOff)
	assert.Equal(t, 4, insts[0].RelSize)
}

func TestDecodeConditionalJump(t *testing.T) {
	// jne rel8 (75 xx)
	code := []byte{0x75, 0x05}

	d, err := New("intel32", code)
	require.NoError(t, err)

	insts := d.Instructions()
	require.Len(t, insts, 1)
	assert.Equal(t, "jne", insts[0].Mnemonic)
	assert.True(t, insts[0].Jump)
	assert.Equal(t, 1, insts[0].RelOff)
	assert.Equal(t, 1, insts[0].RelSize)
}

func TestDecodeRegisterCallHasNoRel(t *testing.T) {
	// call eax (ff d0)
	code := []byte{0xff, 0xd0}

	d, err := New("intel32", code)
	require.NoError(t, err)

	insts := d.Instructions()
	require.Len(t, insts, 1)
	assert.True(t, insts[0].Call)
	assert.Equal(t, 0, insts[0].RelSize)
}

func TestDecodeStopsAtInvalid(t *testing.T) {
	// nop; nop; then bytes x86asm rejects mid-stream.
	code := []byte{0x90, 0x90, 0x0f, 0x0b, 0x06}

	d, err := New("intel64", code)
	require.NoError(t, err)

	insts := d.Instructions()
	require.GreaterOrEqual(t, len(insts), 2)
	assert.Equal(t, "nop", insts[0].Mnemonic)
	assert.Equal(t, "nop", insts[1].Mnemonic)
}

func TestInstructionsCached(t *testing.T) {
	d, err := New("intel32", []byte{0x90, 0x90})
	require.NoError(t, err)

	first := d.Instructions()
	second := d.Instructions()
	require.Len(t, first, 2)
	// Same backing slice both times.
	assert.Equal(t, &first[0], &second[0])
}

func TestDecodeTextAsCode(t *testing.T) {
	// ASCII text decodes as valid intel32; clients rely on this when
	// exercising the pipeline with synthetic opcode buffers.
	code := []byte("The quick brown fox jumps over 13 lazy dogs.")

	d, err := New("intel32", code)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(d.Instructions()), 8)
}
