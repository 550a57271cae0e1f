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
	"time"

	"github.com/Cisco-Talos/FIRST-server/services/core/idcodec"
)

// Annotation is the wire dump of one annotation record: the latest
// revision of a user's metadata, or a synthesized entry for an
// engine-generated result.
type Annotation struct {
	ID         string   `json:"id"`
	Creator    string   `json:"creator,omitempty"`
	Name       string   `json:"name,omitempty"`
	Prototype  string   `json:"prototype,omitempty"`
	Comment    string   `json:"comment,omitempty"`
	Rank       int64    `json:"rank"`
	Similarity float64  `json:"similarity,omitempty"`
	Engines    []string `json:"engines,omitempty"`

	// Engine and Description are set only on engine-synthesized entries.
	Engine      string `json:"engine,omitempty"`
	Description string `json:"description,omitempty"`
}

// Revision is one immutable annotation snapshot.
type Revision struct {
	Name      string `json:"name"`
	Prototype string `json:"prototype"`
	Comment   string `json:"comment"`
	Committed string `json:"committed"`
}

// History is the full revision list of one metadata record, ordered by
// committed ascending.
type History struct {
	Creator string     `json:"creator"`
	History []Revision `json:"history"`
}

// AddMetadataToFunction appends an annotation revision for (function,
// user), creating the metadata record on first use. When the latest
// revision already equals (name, prototype, comment) byte for byte, no
// new revision is written; the call is idempotent and still returns the
// metadata id.
func (s *Store) AddMetadataToFunction(ctx context.Context, user *User, function *Function, name, prototype, comment string) (int64, error) {
	if user == nil || function == nil {
		return 0, fmt.Errorf("%w: nil user or function", ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO metadata (function_id, user_id) VALUES (?, ?)`,
		function.ID, user.ID); err != nil {
		return 0, fmt.Errorf("create metadata: %w", err)
	}

	var metadataID int64
	if err := tx.QueryRowContext(ctx,
		`SELECT id FROM metadata WHERE function_id = ? AND user_id = ?`,
		function.ID, user.ID).Scan(&metadataID); err != nil {
		return 0, fmt.Errorf("reload metadata: %w", err)
	}

	changed, err := hasChanged(ctx, tx, metadataID, name, prototype, comment)
	if err != nil {
		return 0, err
	}
	if changed {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO metadata_details (metadata_id, name, prototype, comment, committed)
			 VALUES (?, ?, ?, ?, ?)`,
			metadataID, name, prototype, comment, now()); err != nil {
			return 0, fmt.Errorf("append revision: %w", err)
		}
	}
	return metadataID, tx.Commit()
}

// hasChanged reports whether (name, prototype, comment) differs from the
// latest revision. True when no revision exists yet. Exact byte
// comparison.
func hasChanged(ctx context.Context, tx *sql.Tx, metadataID int64, name, prototype, comment string) (bool, error) {
	var n, p, c string
	err := tx.QueryRowContext(ctx,
		`SELECT name, prototype, comment FROM metadata_details
		 WHERE metadata_id = ? ORDER BY committed DESC, id DESC LIMIT 1`,
		metadataID).Scan(&n, &p, &c)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return n != name || p != prototype || c != comment, nil
}

// rank counts the applied rows referring to a metadata record.
func (s *Store) rank(ctx context.Context, metadataID int64) (int64, error) {
	var rank int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM applied_metadata WHERE metadata_id = ?`,
		metadataID).Scan(&rank)
	return rank, err
}

// FunctionAnnotations returns the annotation dumps of every metadata
// record attached to a function, sorted by rank descending. Functions
// with no annotations yield an empty slice.
func (s *Store) FunctionAnnotations(ctx context.Context, functionID int64) ([]Annotation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, u.handle, u.number,
		        d.name, d.prototype, d.comment,
		        (SELECT COUNT(*) FROM applied_metadata a WHERE a.metadata_id = m.id) AS rank
		 FROM metadata m
		 JOIN users u ON u.id = m.user_id
		 JOIN metadata_details d ON d.metadata_id = m.id
		 WHERE m.function_id = ?
		   AND d.id = (SELECT d2.id FROM metadata_details d2
		               WHERE d2.metadata_id = m.id
		               ORDER BY d2.committed DESC, d2.id DESC LIMIT 1)
		 ORDER BY rank DESC, m.id ASC`, functionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAnnotations(rows)
}

// HasAnnotations reports whether any metadata is attached to a function.
func (s *Store) HasAnnotations(ctx context.Context, functionID int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM metadata WHERE function_id = ?`, functionID).Scan(&count)
	return count > 0, err
}

// GetMetadataList resolves a batch of public ids to annotation dumps.
// User ids resolve to the latest revision; engine ids synthesize an entry
// describing the engine. Unknown ids are dropped.
func (s *Store) GetMetadataList(ctx context.Context, ids []string) ([]Annotation, error) {
	userIDs, engineRefs := idcodec.Separate(ids)

	var results []Annotation
	for _, metadataID := range userIDs {
		ann, err := s.annotationByMetadataID(ctx, int64(metadataID))
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		results = append(results, *ann)
	}

	for _, ref := range engineRefs {
		engine, err := s.EngineByID(ctx, int64(ref.EngineID))
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		results = append(results, Annotation{
			ID:          idcodec.Encode(ref.Flag, ref.EngineID, ref.MetadataID),
			Engine:      engine.Name,
			Description: engine.Description,
		})
	}
	return results, nil
}

// MetadataHistory returns the ordered revision history for a batch of
// public ids. Engine ids synthesize a single-entry history describing the
// engine and its developer.
func (s *Store) MetadataHistory(ctx context.Context, ids []string) (map[string]History, error) {
	userIDs, engineRefs := idcodec.Separate(ids)
	results := make(map[string]History)

	for _, metadataID := range userIDs {
		var creator string
		var handle string
		var number int
		err := s.db.QueryRowContext(ctx,
			`SELECT u.handle, u.number FROM metadata m
			 JOIN users u ON u.id = m.user_id WHERE m.id = ?`,
			int64(metadataID)).Scan(&handle, &number)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		creator = (&User{Handle: handle, Number: number}).Tag()

		rows, err := s.db.QueryContext(ctx,
			`SELECT name, prototype, comment, committed FROM metadata_details
			 WHERE metadata_id = ? ORDER BY committed ASC, id ASC`, int64(metadataID))
		if err != nil {
			return nil, err
		}
		var history []Revision
		for rows.Next() {
			var r Revision
			var committed int64
			if err := rows.Scan(&r.Name, &r.Prototype, &r.Comment, &committed); err != nil {
				rows.Close()
				return nil, err
			}
			r.Committed = fromNanos(committed).Format(time.RFC3339Nano)
			history = append(history, r)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}

		results[idcodec.EncodeUser(metadataID)] = History{Creator: creator, History: history}
	}

	for _, ref := range engineRefs {
		engine, err := s.EngineByID(ctx, int64(ref.EngineID))
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}

		developer := ""
		if engine.DeveloperID != 0 {
			var handle string
			var number int
			err := s.db.QueryRowContext(ctx,
				`SELECT handle, number FROM users WHERE id = ?`,
				engine.DeveloperID).Scan(&handle, &number)
			if err == nil {
				developer = (&User{Handle: handle, Number: number}).Tag()
			}
		}

		key := idcodec.Encode(ref.Flag, ref.EngineID, ref.MetadataID)
		results[key] = History{
			Creator: engine.Name,
			History: []Revision{{
				Name:      "N/A",
				Prototype: "N/A",
				Comment: fmt.Sprintf("Generated by Engine: %s\n%s\n\nDeveloper: %s",
					engine.Name, engine.Description, developer),
			}},
		}
	}
	return results, nil
}

// DeleteMetadata removes a metadata record with all its revisions and
// applied rows. Only the owning user may delete; engine ids and foreign
// records report false with no side effects.
func (s *Store) DeleteMetadata(ctx context.Context, user *User, id string) (bool, error) {
	if user == nil || !idcodec.IsUser(id) {
		return false, nil
	}
	_, _, metadataID, err := idcodec.Decode(id)
	if err != nil {
		return false, nil
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM metadata WHERE id = ? AND user_id = ?`,
		int64(metadataID), user.ID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Created pages through the annotations a user has submitted, page_size
// rows per page, 1-based. Returns the requested page and the total page
// count; out-of-range pages yield an empty slice.
func (s *Store) Created(ctx context.Context, user *User, page, pageSize int) ([]Annotation, int, error) {
	if user == nil || page < 1 {
		return nil, 0, nil
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM metadata WHERE user_id = ?`, user.ID).Scan(&total); err != nil {
		return nil, 0, err
	}
	pages := (total + pageSize - 1) / pageSize
	if pages == 0 {
		pages = 1
	}
	if page > pages {
		return nil, pages, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, u.handle, u.number,
		        d.name, d.prototype, d.comment,
		        (SELECT COUNT(*) FROM applied_metadata a WHERE a.metadata_id = m.id) AS rank
		 FROM metadata m
		 JOIN users u ON u.id = m.user_id
		 JOIN metadata_details d ON d.metadata_id = m.id
		 WHERE m.user_id = ?
		   AND d.id = (SELECT d2.id FROM metadata_details d2
		               WHERE d2.metadata_id = m.id
		               ORDER BY d2.committed DESC, d2.id DESC LIMIT 1)
		 ORDER BY m.id ASC LIMIT ? OFFSET ?`,
		user.ID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	results, err := scanAnnotations(rows)
	if err != nil {
		return nil, 0, err
	}
	return results, pages, nil
}

// Applied records that user applied the annotation while analysing the
// sample. Idempotent: re-applying reports success without a second row.
// Engine ids are accepted but not recorded (unresolved semantics carried
// over from the engine-result id format).
func (s *Store) Applied(ctx context.Context, sample *Sample, user *User, id string) (bool, error) {
	if sample == nil || user == nil {
		return false, nil
	}
	if idcodec.IsEngine(id) {
		return true, nil
	}
	_, _, metadataID, err := idcodec.Decode(id)
	if err != nil {
		return false, nil
	}

	exists, err := s.metadataExists(ctx, int64(metadataID))
	if err != nil || !exists {
		return false, err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO applied_metadata (metadata_id, sample_id, user_id)
		 VALUES (?, ?, ?)`, int64(metadataID), sample.ID, user.ID)
	if err != nil {
		return false, err
	}
	return true, nil
}

// Unapplied removes the (metadata, sample, user) apply record. Reports
// success whether or not the row existed; false only when the metadata
// record itself is missing.
func (s *Store) Unapplied(ctx context.Context, sample *Sample, user *User, id string) (bool, error) {
	if sample == nil || user == nil || idcodec.IsEngine(id) {
		return false, nil
	}
	_, _, metadataID, err := idcodec.Decode(id)
	if err != nil {
		return false, nil
	}

	exists, err := s.metadataExists(ctx, int64(metadataID))
	if err != nil || !exists {
		return false, err
	}

	_, err = s.db.ExecContext(ctx,
		`DELETE FROM applied_metadata
		 WHERE metadata_id = ? AND sample_id = ? AND user_id = ?`,
		int64(metadataID), sample.ID, user.ID)
	if err != nil {
		return false, err
	}
	return true, nil
}

// AppliedCount counts apply rows for one metadata id. Used by tests and
// the admin CLI.
func (s *Store) AppliedCount(ctx context.Context, metadataID int64) (int64, error) {
	return s.rank(ctx, metadataID)
}

func (s *Store) metadataExists(ctx context.Context, metadataID int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM metadata WHERE id = ?`, metadataID).Scan(&count)
	return count > 0, err
}

func (s *Store) annotationByMetadataID(ctx context.Context, metadataID int64) (*Annotation, error) {
	var ann Annotation
	var handle string
	var number int
	err := s.db.QueryRowContext(ctx,
		`SELECT m.id, u.handle, u.number,
		        d.name, d.prototype, d.comment,
		        (SELECT COUNT(*) FROM applied_metadata a WHERE a.metadata_id = m.id)
		 FROM metadata m
		 JOIN users u ON u.id = m.user_id
		 JOIN metadata_details d ON d.metadata_id = m.id
		 WHERE m.id = ?
		   AND d.id = (SELECT d2.id FROM metadata_details d2
		               WHERE d2.metadata_id = m.id
		               ORDER BY d2.committed DESC, d2.id DESC LIMIT 1)`,
		metadataID).
		Scan(&metadataID, &handle, &number, &ann.Name, &ann.Prototype,
			&ann.Comment, &ann.Rank)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	ann.ID = idcodec.EncodeUser(uint64(metadataID))
	ann.Creator = (&User{Handle: handle, Number: number}).Tag()
	return &ann, nil
}

func scanAnnotations(rows *sql.Rows) ([]Annotation, error) {
	var results []Annotation
	for rows.Next() {
		var ann Annotation
		var metadataID int64
		var handle string
		var number int
		if err := rows.Scan(&metadataID, &handle, &number,
			&ann.Name, &ann.Prototype, &ann.Comment, &ann.Rank); err != nil {
			return nil, err
		}
		ann.ID = idcodec.EncodeUser(uint64(metadataID))
		ann.Creator = (&User{Handle: handle, Number: number}).Tag()
		results = append(results, ann)
	}
	return results, rows.Err()
}
