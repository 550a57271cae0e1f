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
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Cisco-Talos/FIRST-server/services/core/disasm"
	"github.com/Cisco-Talos/FIRST-server/services/core/store"
)

// Result list ceilings for one scan: per matched function and across the
// whole response.
const (
	maxAnnotationsPerFunction = 10
	maxScanResults            = 30
)

// Manager owns the loaded engines and composes their results. One
// Manager serves the whole process; Scan and Add are safe to call
// concurrently.
type Manager struct {
	store   *store.Store
	logger  *slog.Logger
	engines []Engine
}

// LoadActiveEngines instantiates every engine the catalog marks active.
// An engine that fails to construct is logged and skipped; one bad
// catalog row must not take the service down.
func LoadActiveEngines(ctx context.Context, deps Deps) (*Manager, error) {
	records, err := deps.Store.Engines(ctx, true)
	if err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{store: deps.Store, logger: logger}
	for _, record := range records {
		engine, err := NewEngine(record.ClassName, deps)
		if err != nil {
			logger.Warn("skipping engine",
				slog.String("engine", record.Name),
				slog.String("class", record.ClassName),
				slog.String("error", err.Error()))
			continue
		}
		m.engines = append(m.engines, engine)
		logger.Info("engine loaded", slog.String("engine", engine.Name()))
	}
	return m, nil
}

// Engines returns the loaded engine names, sorted.
func (m *Manager) Engines() []string {
	names := make([]string, 0, len(m.engines))
	for _, e := range m.engines {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

// Add indexes one function in every engine, best effort. The returned
// map carries the error per failing engine; indexing failures never
// propagate to the caller's request.
func (m *Manager) Add(ctx context.Context, fn *FunctionDump) map[string]error {
	if fn.Dis == nil {
		if dis, err := disasm.New(fn.Architecture, fn.Opcodes); err == nil {
			fn.Dis = dis
		}
	}

	failures := make(map[string]error)
	for _, engine := range m.engines {
		if err := engine.Add(ctx, fn); err != nil {
			m.logger.Error("engine add failed",
				slog.String("engine", engine.Name()),
				slog.Int64("function", fn.ID),
				slog.String("error", err.Error()))
			failures[engine.Name()] = err
		}
	}
	return failures
}

// Scan runs every engine over the query, merges candidates by function,
// resolves them to annotations and ranks. Returns the ranked annotation
// list plus name→description for every engine that contributed a hit.
// Engine failures are logged and dropped.
func (m *Manager) Scan(ctx context.Context, opcodes []byte, architecture string, apis []string) ([]store.Annotation, map[string]string, error) {
	q := &Query{Opcodes: opcodes, Architecture: architecture, APIs: apis}
	if dis, err := disasm.New(architecture, opcodes); err == nil {
		q.Dis = dis
	} else if !errors.Is(err, disasm.ErrUnsupported) {
		return nil, nil, err
	}

	// Engines run in parallel; the disassembly is decoded once behind a
	// sync.Once and shared read-only.
	var mu sync.Mutex
	merged := make(map[int64]*Result)

	g, gctx := errgroup.WithContext(ctx)
	for _, engine := range m.engines {
		engine := engine
		g.Go(func() error {
			results, err := engine.Scan(gctx, q)
			if err != nil {
				m.logger.Error("engine scan failed",
					slog.String("engine", engine.Name()),
					slog.String("error", err.Error()))
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			for _, r := range results {
				mergeResult(merged, r)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var annotations []store.Annotation
	contributed := make(map[string]bool)
	for functionID, result := range merged {
		anns, err := m.store.FunctionAnnotations(ctx, functionID)
		if err != nil {
			return nil, nil, err
		}
		if len(anns) == 0 {
			continue
		}
		for i := range anns {
			anns[i].Similarity = result.Similarity
			anns[i].Engines = append([]string(nil), result.Engines...)
		}
		sortAnnotations(anns)
		if len(anns) > maxAnnotationsPerFunction {
			anns = anns[:maxAnnotationsPerFunction]
		}
		annotations = append(annotations, anns...)
		for _, name := range result.Engines {
			contributed[name] = true
		}
	}

	sortAnnotations(annotations)
	if len(annotations) > maxScanResults {
		annotations = annotations[:maxScanResults]
	}

	engineInfo := make(map[string]string)
	for _, engine := range m.engines {
		if contributed[engine.Name()] {
			engineInfo[engine.Name()] = engine.Description()
		}
	}
	return annotations, engineInfo, nil
}

// mergeResult folds r into the per-function map: max similarity, union
// of contributing engines.
func mergeResult(merged map[int64]*Result, r *Result) {
	existing, ok := merged[r.FunctionID]
	if !ok {
		merged[r.FunctionID] = &Result{
			FunctionID: r.FunctionID,
			Similarity: r.Similarity,
			Engines:    append([]string(nil), r.Engines...),
		}
		return
	}
	if r.Similarity > existing.Similarity {
		existing.Similarity = r.Similarity
	}
	for _, name := range r.Engines {
		found := false
		for _, have := range existing.Engines {
			if have == name {
				found = true
				break
			}
		}
		if !found {
			existing.Engines = append(existing.Engines, name)
		}
	}
}

// sortAnnotations orders by similarity descending, then rank descending.
// Stable so equal entries keep their storage order.
func sortAnnotations(anns []store.Annotation) {
	sort.SliceStable(anns, func(i, j int) bool {
		if anns[i].Similarity != anns[j].Similarity {
			return anns[i].Similarity > anns[j].Similarity
		}
		return anns[i].Rank > anns[j].Rank
	})
}
