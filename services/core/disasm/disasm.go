// Copyright (C) 2025 Cisco Systems, Inc.
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

// Package disasm turns (architecture tag, opcode bytes) into a decoded
// instruction stream for the similarity engines.
//
// Decoding is backed by golang.org/x/arch. The supported decoder families
// are intel16/intel32/intel64 (x86asm), arm32 (armasm), arm64 (arm64asm)
// and ppc/ppc32/ppc64 (ppc64asm). Architecture tags outside these families
// yield ErrUnsupported; engines treat that as a skip, not a failure.
//
// A Disassembly is created once per request and shared read-only across
// engines. Decoding is lazy and cached: the first Instructions call decodes
// the whole buffer, later calls return the cached slice. Decoding stops at
// the first invalid instruction, so the stream is the ordered valid-only
// prefix of the buffer.
package disasm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/arch/arm/armasm"
	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/ppc64/ppc64asm"
	"golang.org/x/arch/x86/x86asm"
)

// ErrUnsupported marks architecture tags with no decoder family.
var ErrUnsupported = errors.New("disasm: unsupported architecture")

// Instruction is one decoded instruction.
type Instruction struct {
	// Mnemonic is the lower-case instruction mnemonic.
	Mnemonic string

	// Bytes is the raw encoding of this instruction.
	Bytes []byte

	// Call and Jump classify control transfers for the masking engine.
	// Only the intel family populates these today.
	Call bool
	Jump bool

	// RelOff and RelSize locate a PC-relative branch immediate inside
	// Bytes. RelSize is zero when the operand is not an immediate
	// (register or memory targets keep their bytes unmasked).
	RelOff  int
	RelSize int
}

type decodeFunc func(code []byte) []Instruction

var families = map[string]decodeFunc{
	"intel16": func(code []byte) []Instruction { return decodeX86(code, 16) },
	"intel32": func(code []byte) []Instruction { return decodeX86(code, 32) },
	"intel64": func(code []byte) []Instruction { return decodeX86(code, 64) },
	"arm32":   decodeARM,
	"arm64":   decodeARM64,
	"ppc":     decodePPC,
	"ppc32":   decodePPC,
	"ppc64":   decodePPC,
}

// Supported reports whether the architecture tag has a decoder family.
func Supported(architecture string) bool {
	_, ok := families[architecture]
	return ok
}

// Disassembly lazily decodes one function body. Safe for concurrent use.
type Disassembly struct {
	architecture string
	code         []byte
	decode       decodeFunc

	once  sync.Once
	insts []Instruction
}

// New builds a Disassembly for the given architecture tag. Returns
// ErrUnsupported when no decoder family covers the tag.
func New(architecture string, code []byte) (*Disassembly, error) {
	decode, ok := families[architecture]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, architecture)
	}
	return &Disassembly{architecture: architecture, code: code, decode: decode}, nil
}

// Architecture returns the tag this Disassembly was built with.
func (d *Disassembly) Architecture() string {
	return d.architecture
}

// Instructions returns the decoded stream, decoding on first use. The
// returned slice is shared; callers must not mutate it.
func (d *Disassembly) Instructions() []Instruction {
	d.once.Do(func() {
		d.insts = d.decode(d.code)
	})
	return d.insts
}

//
// intel family
//

var x86Jumps = map[x86asm.Op]bool{
	x86asm.JMP: true, x86asm.LJMP: true,
	x86asm.JA: true, x86asm.JAE: true, x86asm.JB: true, x86asm.JBE: true,
	x86asm.JCXZ: true, x86asm.JECXZ: true, x86asm.JRCXZ: true,
	x86asm.JE: true, x86asm.JNE: true,
	x86asm.JG: true, x86asm.JGE: true, x86asm.JL: true, x86asm.JLE: true,
	x86asm.JNO: true, x86asm.JNP: true, x86asm.JNS: true,
	x86asm.JO: true, x86asm.JP: true, x86asm.JS: true,
}

func decodeX86(code []byte, mode int) []Instruction {
	var out []Instruction
	for pos := 0; pos < len(code); {
		inst, err := x86asm.Decode(code[pos:], mode)
		if err != nil || inst.Len == 0 {
			break
		}

		ins := Instruction{
			Mnemonic: strings.ToLower(inst.Op.String()),
			Bytes:    code[pos : pos+inst.Len],
			Call:     inst.Op == x86asm.CALL,
			Jump:     x86Jumps[inst.Op],
		}
		if (ins.Call || ins.Jump) && inst.PCRel > 0 {
			ins.RelOff = inst.PCRelOff
			ins.RelSize = inst.PCRel
		}
		out = append(out, ins)
		pos += inst.Len
	}
	return out
}

//
// arm family
//

func decodeARM(code []byte) []Instruction {
	var out []Instruction
	for pos := 0; pos+4 <= len(code); {
		inst, err := armasm.Decode(code[pos:], armasm.ModeARM)
		if err != nil || inst.Len == 0 {
			break
		}
		out = append(out, Instruction{
			Mnemonic: strings.ToLower(inst.Op.String()),
			Bytes:    code[pos : pos+inst.Len],
		})
		pos += inst.Len
	}
	return out
}

func decodeARM64(code []byte) []Instruction {
	var out []Instruction
	for pos := 0; pos+4 <= len(code); pos += 4 {
		inst, err := arm64asm.Decode(code[pos : pos+4])
		if err != nil {
			break
		}
		out = append(out, Instruction{
			Mnemonic: strings.ToLower(inst.Op.String()),
			Bytes:    code[pos : pos+4],
		})
	}
	return out
}

//
// ppc family
//

func decodePPC(code []byte) []Instruction {
	var out []Instruction
	for pos := 0; pos+4 <= len(code); {
		inst, err := ppc64asm.Decode(code[pos:], binary.BigEndian)
		if err != nil || inst.Len == 0 {
			break
		}
		out = append(out, Instruction{
			Mnemonic: strings.ToLower(inst.Op.String()),
			Bytes:    code[pos : pos+inst.Len],
		})
		pos += inst.Len
	}
	return out
}
