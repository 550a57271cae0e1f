// Copyright (C) 2025 Cisco Systems, Inc.
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package engines

import (
	"context"
	"errors"

	"github.com/Cisco-Talos/FIRST-server/services/core/store"
)

func init() {
	Register("exact_match", func(deps Deps) (Engine, error) {
		if deps.Store == nil {
			return nil, errors.New("exact_match: store is required")
		}
		return &exactMatch{store: deps.Store}, nil
	})
}

// exactMatch matches on the sha256 of the raw opcode bytes. The function
// table already carries that hash, so Add has nothing to index.
type exactMatch struct {
	store *store.Store
}

func (e *exactMatch) Name() string { return "ExactMatch" }

func (e *exactMatch) Description() string {
	return "Hashes the function's opcodes and finds direct matches"
}

func (e *exactMatch) Add(ctx context.Context, fn *FunctionDump) error {
	return nil
}

// Scan resolves the opcode hash to the unique function for the
// architecture. Base similarity 90, plus 10 when the api sets are equal.
func (e *exactMatch) Scan(ctx context.Context, q *Query) ([]*Result, error) {
	fn, err := e.store.FindFunctionByOpcodes(ctx, q.Opcodes, q.Architecture)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	apis, err := e.store.FunctionAPIs(ctx, fn.ID)
	if err != nil {
		return nil, err
	}
	similarity := 90.0
	if apiSetsEqual(q.APIs, apis) {
		similarity = 100.0
	}
	return []*Result{{
		FunctionID: fn.ID,
		Similarity: similarity,
		Engines:    []string{e.Name()},
	}}, nil
}
