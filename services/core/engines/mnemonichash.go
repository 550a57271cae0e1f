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
	"strings"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/Cisco-Talos/FIRST-server/services/core/disasm"
	"github.com/Cisco-Talos/FIRST-server/services/core/storage/badger"
	"github.com/Cisco-Talos/FIRST-server/services/core/store"
)

// minMnemonics is the shortest mnemonic sequence worth indexing. Tiny
// functions hash-collide across unrelated code.
const minMnemonics = 8

func init() {
	Register("mnemonic_hash", func(deps Deps) (Engine, error) {
		if deps.Store == nil || deps.Index == nil {
			return nil, errors.New("mnemonic_hash: store and index are required")
		}
		return &mnemonicHash{store: deps.Store, index: deps.Index}, nil
	})
}

// mnemonicHash fingerprints the ordered mnemonic sequence of a function,
// ignoring operands. Catches recompiles where register allocation or
// immediates changed but the instruction skeleton did not.
type mnemonicHash struct {
	store *store.Store
	index *badger.DB
}

func (e *mnemonicHash) Name() string { return "MnemonicHash" }

func (e *mnemonicHash) Description() string {
	return "Uses mnemonics from the opcodes to generate a hash " +
		"(architecture support limited to: intel16, intel32, intel64, " +
		"arm32, arm64, ppc, ppc32, ppc64). Requires at least 8 mnemonics."
}

// mnemonicKey digests the concatenated mnemonic stream. Returns false
// when the architecture cannot be decoded or the stream is too short.
func mnemonicKey(dis *disasm.Disassembly) (string, bool) {
	if dis == nil {
		return "", false
	}
	insts := dis.Instructions()
	if len(insts) < minMnemonics {
		return "", false
	}
	var stream strings.Builder
	for _, ins := range insts {
		stream.WriteString(ins.Mnemonic)
	}
	sum := sha256.Sum256([]byte(stream.String()))
	return hex.EncodeToString(sum[:]), true
}

func (e *mnemonicHash) Add(ctx context.Context, fn *FunctionDump) error {
	key, ok := mnemonicKey(fn.Dis)
	if !ok {
		return nil
	}
	return e.index.WithTxn(ctx, func(txn *badgerdb.Txn) error {
		return addMember(txn, functionIDMember(fn.ID), "mh", fn.Architecture, key)
	})
}

// Scan matches the exact mnemonic stream. Base similarity 75, plus an
// api-overlap bonus of up to 10 (flat 5 when the stored function has no
// apis). Functions without annotations are dropped.
func (e *mnemonicHash) Scan(ctx context.Context, q *Query) ([]*Result, error) {
	key, ok := mnemonicKey(q.Dis)
	if !ok {
		return nil, nil
	}

	var ids []int64
	err := e.index.WithReadTxn(ctx, func(txn *badgerdb.Txn) error {
		var err error
		ids, err = functionIDMembers(txn, "mh", q.Architecture, key)
		return err
	})
	if err != nil {
		return nil, err
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
		similarity := 75.0
		if len(apis) > 0 {
			similarity += 10.0 * float64(apiOverlap(q.APIs, apis)) / float64(len(apis))
		} else {
			similarity += 5.0
		}
		results = append(results, &Result{
			FunctionID: id,
			Similarity: similarity,
			Engines:    []string{e.Name()},
		})
	}
	return results, nil
}
