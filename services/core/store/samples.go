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
	"regexp"
	"time"
)

var (
	md5Pattern    = regexp.MustCompile(`^[a-f0-9]{32}$`)
	sha1Pattern   = regexp.MustCompile(`^[a-f0-9]{40}$`)
	sha256Pattern = regexp.MustCompile(`^[a-f0-9]{64}$`)
)

// Sample is one analysed binary, keyed by (md5, crc32).
type Sample struct {
	ID       int64
	MD5      string
	CRC32    int64
	SHA1     string
	SHA256   string
	LastSeen time.Time
}

// GetSample fetches the sample keyed by (md5, crc32). When create is set
// and no row exists, one is inserted with last_seen = now. The md5 must be
// 32 lowercase hex characters.
func (s *Store) GetSample(ctx context.Context, md5 string, crc32 int64, create bool) (*Sample, error) {
	if !md5Pattern.MatchString(md5) {
		return nil, fmt.Errorf("%w: md5 %q", ErrInvalidInput, md5)
	}

	sample, err := s.sampleByKey(ctx, md5, crc32)
	if err == nil {
		return sample, nil
	}
	if !errors.Is(err, ErrNotFound) || !create {
		return nil, err
	}

	// INSERT OR IGNORE converges concurrent creators onto the unique row.
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO samples (md5, crc32, last_seen) VALUES (?, ?, ?)`,
		md5, crc32, now()); err != nil {
		return nil, fmt.Errorf("create sample: %w", err)
	}
	return s.sampleByKey(ctx, md5, crc32)
}

// Checkin records that user has observed the sample: the row is created if
// needed, last_seen refreshed, the user added to seen_by and the optional
// hashes stored when they validate (40/64 lowercase hex). Invalid optional
// hashes are dropped silently, matching the permissive boundary behavior.
func (s *Store) Checkin(ctx context.Context, user *User, md5 string, crc32 int64, sha1, sha256 string) error {
	if user == nil {
		return fmt.Errorf("%w: nil user", ErrInvalidInput)
	}

	sample, err := s.GetSample(ctx, md5, crc32, true)
	if err != nil {
		return err
	}

	if sha1 != "" && !sha1Pattern.MatchString(sha1) {
		sha1 = ""
	}
	if sha256 != "" && !sha256Pattern.MatchString(sha256) {
		sha256 = ""
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE samples SET last_seen = ?,
		        sha1 = COALESCE(NULLIF(?, ''), sha1),
		        sha256 = COALESCE(NULLIF(?, ''), sha256)
		 WHERE id = ?`,
		now(), sha1, sha256, sample.ID); err != nil {
		return fmt.Errorf("refresh sample: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO sample_seen_by (sample_id, user_id) VALUES (?, ?)`,
		sample.ID, user.ID); err != nil {
		return fmt.Errorf("mark sample seen: %w", err)
	}
	return tx.Commit()
}

// MarkSampleSeen adds user to the sample's seen_by set. Idempotent.
func (s *Store) MarkSampleSeen(ctx context.Context, sample *Sample, user *User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sample_seen_by (sample_id, user_id) VALUES (?, ?)`,
		sample.ID, user.ID)
	return err
}

// SeenBy returns the ids of users that have checked the sample in.
func (s *Store) SeenBy(ctx context.Context, sample *Sample) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM sample_seen_by WHERE sample_id = ? ORDER BY user_id`,
		sample.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AddFunctionToSample links a function to the sample it was extracted
// from. Idempotent.
func (s *Store) AddFunctionToSample(ctx context.Context, sample *Sample, function *Function) error {
	if sample == nil || function == nil {
		return fmt.Errorf("%w: nil sample or function", ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sample_functions (sample_id, function_id) VALUES (?, ?)`,
		sample.ID, function.ID)
	return err
}

func (s *Store) sampleByKey(ctx context.Context, md5 string, crc32 int64) (*Sample, error) {
	var sample Sample
	var lastSeen int64
	var sha1, sha256 sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, md5, crc32, sha1, sha256, last_seen
		 FROM samples WHERE md5 = ? AND crc32 = ?`, md5, crc32).
		Scan(&sample.ID, &sample.MD5, &sample.CRC32, &sha1, &sha256, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sample.SHA1 = sha1.String
	sample.SHA256 = sha256.String
	sample.LastSeen = fromNanos(lastSeen)
	return &sample, nil
}
