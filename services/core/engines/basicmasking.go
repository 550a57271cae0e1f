// Copyright (C) 2025 Cisco Systems, Inc.
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package engines

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/Cisco-Talos/FIRST-server/services/core/disasm"
	"github.com/Cisco-Talos/FIRST-server/services/core/storage/badger"
	"github.com/Cisco-Talos/FIRST-server/services/core/store"
)

// minMaskedInstructions is the shortest normalized stream worth
// indexing.
const minMaskedInstructions = 8

func init() {
	Register("basic_masking", func(deps Deps) (Engine, error) {
		if deps.Store == nil || deps.Index == nil {
			return nil, errors.New("basic_masking: store and index are required")
		}
		return &basicMasking{store: deps.Store, index: deps.Index}, nil
	})
}

// basicMasking zeroes the immediate operands of calls and jumps before
// hashing, so functions that differ only in control-flow displacements
// collide. Register and memory branch targets keep their bytes.
//
// An earlier design additionally masked stack-relative displacements and
// image-base-range immediates. That masker is not wired in; the masked
// function shape here is calls and jumps only.
type basicMasking struct {
	store *store.Store
	index *badger.DB
}

func (e *basicMasking) Name() string { return "BasicMasking" }

func (e *basicMasking) Description() string {
	return "Masks calls/jmps offsets. Requires at least 8 instructions."
}

// maskedStream is the normalization result for one function body.
type maskedStream struct {
	key         string
	changedBits int
	totalBits   int
}

// normalize masks branch immediates and digests the resulting byte
// stream. Returns false when decoding is unavailable or fewer than
// minMaskedInstructions instructions decode.
func normalize(dis *disasm.Disassembly, opcodes []byte) (maskedStream, bool) {
	if dis == nil {
		return maskedStream{}, false
	}
	insts := dis.Instructions()
	if len(insts) < minMaskedInstructions {
		return maskedStream{}, false
	}

	digest := sha256.New()
	changedBits := 0
	for _, ins := range insts {
		if (ins.Call || ins.Jump) && ins.RelSize > 0 {
			digest.Write(ins.Bytes[:ins.RelOff])
			digest.Write(make([]byte, ins.RelSize))
			digest.Write(ins.Bytes[ins.RelOff+ins.RelSize:])
			changedBits += ins.RelSize * 8
			continue
		}
		digest.Write(ins.Bytes)
	}

	return maskedStream{
		key:         hex.EncodeToString(digest.Sum(nil)),
		changedBits: changedBits,
		totalBits:   len(opcodes) * 8,
	}, true
}

func (e *basicMasking) Add(ctx context.Context, fn *FunctionDump) error {
	stream, ok := normalize(fn.Dis, fn.Opcodes)
	if !ok {
		return nil
	}
	return e.index.WithTxn(ctx, func(txn *badgerdb.Txn) error {
		if err := addMember(txn, functionIDMember(fn.ID), "bm", fn.Architecture, stream.key); err != nil {
			return err
		}
		// Total input size rides along for score diagnostics.
		return txn.Set(setKey("bmt", fn.Architecture, stream.key),
			[]byte(strconv.Itoa(len(fn.Opcodes))))
	})
}

// Scan matches the masked stream. The base score discounts the masked
// bit fraction, capped at 90, plus an api-overlap bonus of up to 10.
func (e *basicMasking) Scan(ctx context.Context, q *Query) ([]*Result, error) {
	stream, ok := normalize(q.Dis, q.Opcodes)
	if !ok {
		return nil, nil
	}

	var ids []int64
	err := e.index.WithReadTxn(ctx, func(txn *badgerdb.Txn) error {
		var err error
		ids, err = functionIDMembers(txn, "bm", q.Architecture, stream.key)
		return err
	})
	if err != nil {
		return nil, err
	}

	base := 100.0 * (1.0 - float64(stream.changedBits)/float64(stream.totalBits))
	if base > 90.0 {
		base = 90.0
	}

	var results []*Result
	for _, id := range ids {
		annotated, err := e.store.HasAnnotations(ctx, id)
		if err != nil {
			return nil, err
		}
		if !annotated {
			continue
		}

		apis, err := e.store.FunctionAPIs(ctx, id)
		if err != nil {
			return nil, err
		}
		similarity := base
		if len(apis) > 0 {
			similarity += 10.0 * float64(apiOverlap(q.APIs, apis)) / float64(len(apis))
		}
		if similarity > 100.0 {
			similarity = 100.0
		}
		results = append(results, &Result{
			FunctionID: id,
			Similarity: similarity,
			Engines:    []string{e.Name()},
		})
	}
	return results, nil
}
