// Copyright (C) 2025 Cisco Systems, Inc.
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
)

// Function is a canonical function entity, keyed by
// (sha256(opcodes), architecture). Immutable once created.
type Function struct {
	ID           int64
	SHA256       string
	Opcodes      []byte
	Architecture string
}

// OpcodeHash returns the lowercase hex sha256 of a function body.
func OpcodeHash(opcodes []byte) string {
	sum := sha256.Sum256(opcodes)
	return hex.EncodeToString(sum[:])
}

// GetFunction fetches the function keyed by (sha256(opcodes),
// architecture). When create is set and no row exists, the function is
// inserted and the api strings are attached (creating missing entries in
// the api dictionary). The api set is not part of the uniqueness key.
func (s *Store) GetFunction(ctx context.Context, opcodes []byte, architecture string, apis []string, create bool) (*Function, error) {
	hash := OpcodeHash(opcodes)

	fn, err := s.FindFunctionBySHA(ctx, hash, architecture)
	if err == nil {
		return fn, nil
	}
	if !errors.Is(err, ErrNotFound) || !create {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO functions (sha256, opcodes, architecture) VALUES (?, ?, ?)`,
		hash, opcodes, architecture); err != nil {
		return nil, fmt.Errorf("create function: %w", err)
	}

	var id int64
	if err := tx.QueryRowContext(ctx,
		`SELECT id FROM functions WHERE sha256 = ? AND architecture = ?`,
		hash, architecture).Scan(&id); err != nil {
		return nil, fmt.Errorf("reload function: %w", err)
	}

	for _, api := range apis {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO function_apis (api) VALUES (?)`, api); err != nil {
			return nil, fmt.Errorf("insert api: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO function_api_link (function_id, api_id)
			 SELECT ?, id FROM function_apis WHERE api = ?`, id, api); err != nil {
			return nil, fmt.Errorf("link api: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &Function{ID: id, SHA256: hash, Opcodes: opcodes, Architecture: architecture}, nil
}

// FindFunctionByID fetches a function row by its storage id.
func (s *Store) FindFunctionByID(ctx context.Context, id int64) (*Function, error) {
	return s.scanFunction(s.db.QueryRowContext(ctx,
		`SELECT id, sha256, opcodes, architecture FROM functions WHERE id = ?`, id))
}

// FindFunctionBySHA fetches the unique function with the given opcode hash
// and architecture. More than one row under the unique key is an
// invariant violation and reported as such.
func (s *Store) FindFunctionBySHA(ctx context.Context, hash, architecture string) (*Function, error) {
	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM functions WHERE sha256 = ? AND architecture = ?`,
		hash, architecture).Scan(&count); err != nil {
		return nil, err
	}
	if count > 1 {
		return nil, fmt.Errorf("%w: %d functions for (%s, %s)",
			ErrInvariant, count, hash, architecture)
	}
	return s.scanFunction(s.db.QueryRowContext(ctx,
		`SELECT id, sha256, opcodes, architecture FROM functions
		 WHERE sha256 = ? AND architecture = ?`, hash, architecture))
}

// FindFunctionByOpcodes resolves a function from its raw body. The api
// set does not participate in row selection; the unique key is the
// opcode hash and architecture alone.
func (s *Store) FindFunctionByOpcodes(ctx context.Context, opcodes []byte, architecture string) (*Function, error) {
	return s.FindFunctionBySHA(ctx, OpcodeHash(opcodes), architecture)
}

// FunctionAPIs returns the imported api names attached to a function,
// sorted by the dictionary order they were interned in.
func (s *Store) FunctionAPIs(ctx context.Context, functionID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.api FROM function_apis a
		 JOIN function_api_link l ON l.api_id = a.id
		 WHERE l.function_id = ? ORDER BY a.id`, functionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var apis []string
	for rows.Next() {
		var api string
		if err := rows.Scan(&api); err != nil {
			return nil, err
		}
		apis = append(apis, api)
	}
	return apis, rows.Err()
}

func (s *Store) scanFunction(row *sql.Row) (*Function, error) {
	var fn Function
	err := row.Scan(&fn.ID, &fn.SHA256, &fn.Opcodes, &fn.Architecture)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &fn, nil
}
