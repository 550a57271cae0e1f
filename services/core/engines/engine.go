// Copyright (C) 2025 Cisco Systems, Inc.
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

// Package engines implements the pluggable similarity pipeline: each
// engine converts raw function bytes into a searchable fingerprint,
// indexes it, and answers nearest-neighbour queries with a similarity
// score in [0, 100]. The Manager composes the active engines, merges
// their results by function and ranks the resulting annotations.
package engines

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/Cisco-Talos/FIRST-server/services/core/disasm"
	"github.com/Cisco-Talos/FIRST-server/services/core/storage/badger"
	"github.com/Cisco-Talos/FIRST-server/services/core/store"
)

// FunctionDump carries everything an engine may index about one stored
// function.
type FunctionDump struct {
	ID           int64
	SHA256       string
	Opcodes      []byte
	Architecture string
	APIs         []string

	// Dis is the shared lazy disassembly. May be nil when the
	// architecture has no decoder family.
	Dis *disasm.Disassembly
}

// Query is one scan request as seen by an engine.
type Query struct {
	Opcodes      []byte
	Architecture string
	APIs         []string
	Dis          *disasm.Disassembly
}

// Result is one candidate function an engine found, with the engines
// that contributed it. Similarity is in [0, 100].
type Result struct {
	FunctionID int64
	Similarity float64
	Engines    []string
}

// Deps is what an engine implementation gets to work with: the
// relational store for function and annotation lookups, the shared
// BadgerDB for its private fingerprint index, and a logger.
type Deps struct {
	Store  *store.Store
	Index  *badger.DB
	Logger *slog.Logger
}

// Engine is the contract every similarity engine satisfies. Add indexes
// one function; Scan answers a query with scored candidates. Both are
// best-effort from the manager's point of view: errors are logged and
// isolated, never fatal to a request.
type Engine interface {
	Name() string
	Description() string
	Add(ctx context.Context, fn *FunctionDump) error
	Scan(ctx context.Context, q *Query) ([]*Result, error)
}

// constructors maps catalog class names to engine factories.
var constructors = map[string]func(Deps) (Engine, error){}

// Register binds a class name to an engine factory. Called from init;
// duplicate registration is a programming error.
func Register(className string, factory func(Deps) (Engine, error)) {
	if _, dup := constructors[className]; dup {
		panic(fmt.Sprintf("engines: duplicate class %q", className))
	}
	constructors[className] = factory
}

// NewEngine instantiates the engine registered under className.
func NewEngine(className string, deps Deps) (Engine, error) {
	factory, ok := constructors[className]
	if !ok {
		return nil, fmt.Errorf("engines: unknown class %q", className)
	}
	return factory(deps)
}

// RegisteredClasses lists the compiled-in class names, sorted. Used by
// the admin CLI when installing the stock catalog.
func RegisteredClasses() []string {
	classes := make([]string, 0, len(constructors))
	for name := range constructors {
		classes = append(classes, name)
	}
	sort.Strings(classes)
	return classes
}

// apiOverlap counts how many of the stored function's apis appear in the
// query's api list.
func apiOverlap(queryAPIs, funcAPIs []string) int {
	if len(queryAPIs) == 0 || len(funcAPIs) == 0 {
		return 0
	}
	seen := make(map[string]bool, len(queryAPIs))
	for _, api := range queryAPIs {
		seen[api] = true
	}
	overlap := 0
	for _, api := range funcAPIs {
		if seen[api] {
			overlap++
		}
	}
	return overlap
}

// apiSetsEqual reports set equality between two api lists, ignoring
// order and duplicates.
func apiSetsEqual(a, b []string) bool {
	as := make(map[string]bool, len(a))
	for _, api := range a {
		as[api] = true
	}
	bs := make(map[string]bool, len(b))
	for _, api := range b {
		bs[api] = true
	}
	if len(as) != len(bs) {
		return false
	}
	for api := range as {
		if !bs[api] {
			return false
		}
	}
	return true
}
