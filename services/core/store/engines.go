// Copyright (C) 2025 Cisco Systems, Inc.
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// EngineRecord is the operator-managed catalog row for one similarity
// engine. ClassName selects the registered implementation; Active decides
// whether the manager loads it at startup.
type EngineRecord struct {
	ID          int64
	Name        string
	Description string
	ClassName   string
	DeveloperID int64
	Active      bool
	Rank        int64
}

// Engines lists the catalog, optionally restricted to active rows.
func (s *Store) Engines(ctx context.Context, activeOnly bool) ([]EngineRecord, error) {
	query := `SELECT id, name, description, class_name,
	                 COALESCE(developer_id, 0), active, rank
	          FROM engines`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var engines []EngineRecord
	for rows.Next() {
		var e EngineRecord
		var active int
		if err := rows.Scan(&e.ID, &e.Name, &e.Description, &e.ClassName,
			&e.DeveloperID, &active, &e.Rank); err != nil {
			return nil, err
		}
		e.Active = active != 0
		engines = append(engines, e)
	}
	return engines, rows.Err()
}

// EngineByID fetches one catalog row.
func (s *Store) EngineByID(ctx context.Context, id int64) (*EngineRecord, error) {
	return s.scanEngine(s.db.QueryRowContext(ctx,
		`SELECT id, name, description, class_name,
		        COALESCE(developer_id, 0), active, rank
		 FROM engines WHERE id = ?`, id))
}

// EngineByName fetches one catalog row by its unique name.
func (s *Store) EngineByName(ctx context.Context, name string) (*EngineRecord, error) {
	return s.scanEngine(s.db.QueryRowContext(ctx,
		`SELECT id, name, description, class_name,
		        COALESCE(developer_id, 0), active, rank
		 FROM engines WHERE name = ?`, name))
}

// InstallEngine upserts a catalog row by name. Description, class name
// and developer are refreshed on reinstall; the active flag is preserved.
func (s *Store) InstallEngine(ctx context.Context, name, description, className string, developerID int64) (*EngineRecord, error) {
	if name == "" || className == "" {
		return nil, fmt.Errorf("%w: engine needs a name and class", ErrInvalidInput)
	}

	var dev interface{}
	if developerID != 0 {
		dev = developerID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO engines (name, description, class_name, developer_id, active)
		 VALUES (?, ?, ?, ?, 0)
		 ON CONFLICT (name) DO UPDATE SET
		     description = excluded.description,
		     class_name  = excluded.class_name,
		     developer_id = excluded.developer_id`,
		name, description, className, dev)
	if err != nil {
		return nil, fmt.Errorf("install engine %q: %w", name, err)
	}
	return s.EngineByName(ctx, name)
}

// SetEngineActive toggles whether the named engine is loaded at startup.
func (s *Store) SetEngineActive(ctx context.Context, name string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE engines SET active = ? WHERE name = ?`, boolInt(active), name)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: engine %q", ErrNotFound, name)
	}
	return nil
}

func (s *Store) scanEngine(row *sql.Row) (*EngineRecord, error) {
	var e EngineRecord
	var active int
	err := row.Scan(&e.ID, &e.Name, &e.Description, &e.ClassName,
		&e.DeveloperID, &active, &e.Rank)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.Active = active != 0
	return &e, nil
}
