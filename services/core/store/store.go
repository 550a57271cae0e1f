// Copyright (C) 2025 Cisco Systems, Inc.
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

// Package store implements the relational storage layer: users, samples,
// canonical function entities and the versioned per-(function, user)
// annotation records, plus the operator-managed engine catalog.
//
// Storage is SQLite via database/sql. The connection pool is pinned to a
// single connection so SQLite's own locking serializes writers; uniqueness
// invariants (sample by (md5, crc32), function by (sha256, architecture),
// metadata by (function, user), applied by (metadata, sample, user)) are
// enforced with UNIQUE constraints so concurrent callers converge on the
// same row.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"
)

// Sentinel errors distinguished by the REST facade (see the error policy
// in the handlers package).
var (
	// ErrNotFound marks lookups for rows that do not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrInvalidInput marks rejected input (bad hex, length overflow).
	// Operations returning it have no side effects.
	ErrInvalidInput = errors.New("store: invalid input")

	// ErrInvariant marks states that the schema should make impossible,
	// such as multiple rows under a unique key. Fatal to the request.
	ErrInvariant = errors.New("store: invariant violation")
)

// Standard architecture tags always reported by Architectures, regardless
// of what has been stored.
var standardArchitectures = []string{
	"arm32", "arm64", "intel16", "intel32", "intel64",
	"mips", "ppc", "sparc", "sysz",
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id       INTEGER PRIMARY KEY AUTOINCREMENT,
    name     TEXT NOT NULL DEFAULT '',
    email    TEXT NOT NULL DEFAULT '',
    handle   TEXT NOT NULL,
    number   INTEGER NOT NULL,
    api_key  TEXT NOT NULL UNIQUE,
    created  INTEGER NOT NULL,
    rank     INTEGER NOT NULL DEFAULT 0,
    active   INTEGER NOT NULL DEFAULT 1,
    UNIQUE (handle, number)
);
CREATE INDEX IF NOT EXISTS idx_users_email ON users (email);

CREATE TABLE IF NOT EXISTS samples (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    md5       TEXT NOT NULL,
    crc32     INTEGER NOT NULL,
    sha1      TEXT,
    sha256    TEXT,
    last_seen INTEGER NOT NULL,
    UNIQUE (md5, crc32)
);

CREATE TABLE IF NOT EXISTS sample_seen_by (
    sample_id INTEGER NOT NULL REFERENCES samples (id),
    user_id   INTEGER NOT NULL REFERENCES users (id),
    UNIQUE (sample_id, user_id)
);

CREATE TABLE IF NOT EXISTS functions (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    sha256       TEXT NOT NULL,
    opcodes      BLOB NOT NULL,
    architecture TEXT NOT NULL,
    UNIQUE (sha256, architecture)
);

CREATE TABLE IF NOT EXISTS sample_functions (
    sample_id   INTEGER NOT NULL REFERENCES samples (id),
    function_id INTEGER NOT NULL REFERENCES functions (id),
    UNIQUE (sample_id, function_id)
);

CREATE TABLE IF NOT EXISTS function_apis (
    id  INTEGER PRIMARY KEY AUTOINCREMENT,
    api TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS function_api_link (
    function_id INTEGER NOT NULL REFERENCES functions (id),
    api_id      INTEGER NOT NULL REFERENCES function_apis (id),
    UNIQUE (function_id, api_id)
);

CREATE TABLE IF NOT EXISTS metadata (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    function_id INTEGER NOT NULL REFERENCES functions (id),
    user_id     INTEGER NOT NULL REFERENCES users (id),
    UNIQUE (function_id, user_id)
);
CREATE INDEX IF NOT EXISTS idx_metadata_user ON metadata (user_id);

CREATE TABLE IF NOT EXISTS metadata_details (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    metadata_id INTEGER NOT NULL REFERENCES metadata (id) ON DELETE CASCADE,
    name        TEXT NOT NULL,
    prototype   TEXT NOT NULL,
    comment     TEXT NOT NULL,
    committed   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_details_metadata ON metadata_details (metadata_id, committed);

CREATE TABLE IF NOT EXISTS applied_metadata (
    metadata_id INTEGER NOT NULL REFERENCES metadata (id) ON DELETE CASCADE,
    sample_id   INTEGER NOT NULL REFERENCES samples (id),
    user_id     INTEGER NOT NULL REFERENCES users (id),
    UNIQUE (metadata_id, sample_id, user_id)
);

CREATE TABLE IF NOT EXISTS engines (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    name         TEXT NOT NULL UNIQUE,
    description  TEXT NOT NULL DEFAULT '',
    class_name   TEXT NOT NULL,
    developer_id INTEGER REFERENCES users (id),
    active       INTEGER NOT NULL DEFAULT 0,
    rank         INTEGER NOT NULL DEFAULT 0
);
`

// Store is the process-wide handle to the relational backend. Safe for
// concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the SQLite database at path and ensures
// the schema exists. The parent directory is created when missing.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	return open(path)
}

// OpenInMemory opens a private in-memory database. Used by tests.
func OpenInMemory() (*Store, error) {
	return open(":memory:")
}

func open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single connection sidesteps SQLITE_BUSY between our own callers
	// and keeps :memory: databases coherent.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Architectures returns every architecture tag present in storage, merged
// with the hard-coded standards set, sorted.
func (s *Store) Architectures(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT architecture FROM functions`)
	if err != nil {
		return nil, fmt.Errorf("query architectures: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]bool, len(standardArchitectures))
	for _, a := range standardArchitectures {
		seen[a] = true
	}
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		seen[a] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Strings(out)
	return out, nil
}

// now returns the wall clock as stored in the database (unix nanoseconds).
func now() int64 {
	return time.Now().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
