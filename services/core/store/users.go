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
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// User is an analyst account. The UUID api key is the sole authentication
// token on the REST surface.
type User struct {
	ID      int64
	Name    string
	Email   string
	Handle  string
	Number  int
	APIKey  string
	Created time.Time
	Rank    int64
	Active  bool
}

// Tag is the displayed identity, e.g. "h4x0r#1337". Numbers below 1000
// are zero padded to four digits.
func (u *User) Tag() string {
	return fmt.Sprintf("%s#%04d", u.Handle, u.Number)
}

var tagPattern = regexp.MustCompile(`^(.+)#(\d{4,})$`)

// CreateUser registers a new analyst with a fresh api key. The handle
// number is allocated as the next free number for that handle.
func (s *Store) CreateUser(ctx context.Context, name, email, handle string) (*User, error) {
	if handle == "" || strings.Contains(handle, "#") {
		return nil, fmt.Errorf("%w: bad handle %q", ErrInvalidInput, handle)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var next sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT MAX(number) FROM users WHERE handle = ?`, handle).Scan(&next)
	if err != nil {
		return nil, err
	}
	number := 1
	if next.Valid {
		number = int(next.Int64) + 1
	}

	user := &User{
		Name:    name,
		Email:   email,
		Handle:  handle,
		Number:  number,
		APIKey:  uuid.NewString(),
		Created: time.Now().UTC(),
		Active:  true,
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO users (name, email, handle, number, api_key, created, active)
		 VALUES (?, ?, ?, ?, ?, ?, 1)`,
		user.Name, user.Email, user.Handle, user.Number, user.APIKey,
		user.Created.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	user.ID, err = res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return user, tx.Commit()
}

// UserByAPIKey resolves the api key to an active user. Unknown keys and
// disabled accounts both yield ErrNotFound; the facade maps that to 401.
func (s *Store) UserByAPIKey(ctx context.Context, apiKey string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, name, email, handle, number, api_key, created, rank, active
		 FROM users WHERE api_key = ? AND active = 1`,
		strings.ToLower(apiKey)))
}

// UserByTag resolves a "handle#NNNN" display tag.
func (s *Store) UserByTag(ctx context.Context, tag string) (*User, error) {
	m := tagPattern.FindStringSubmatch(tag)
	if m == nil {
		return nil, fmt.Errorf("%w: bad user tag %q", ErrInvalidInput, tag)
	}
	number, err := strconv.Atoi(m[2])
	if err != nil {
		return nil, fmt.Errorf("%w: bad user tag %q", ErrInvalidInput, tag)
	}
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, name, email, handle, number, api_key, created, rank, active
		 FROM users WHERE handle = ? AND number = ?`, m[1], number))
}

// Users lists every account, newest first.
func (s *Store) Users(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, email, handle, number, api_key, created, rank, active
		 FROM users ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		var created int64
		var active int
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Handle, &u.Number,
			&u.APIKey, &created, &u.Rank, &active); err != nil {
			return nil, err
		}
		u.Created = fromNanos(created)
		u.Active = active != 0
		users = append(users, u)
	}
	return users, rows.Err()
}

// SetUserActive enables or disables the account named by tag.
func (s *Store) SetUserActive(ctx context.Context, tag string, active bool) error {
	user, err := s.UserByTag(ctx, tag)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE users SET active = ? WHERE id = ?`, boolInt(active), user.ID)
	return err
}

func (s *Store) scanUser(row *sql.Row) (*User, error) {
	var u User
	var created int64
	var active int
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Handle, &u.Number,
		&u.APIKey, &created, &u.Rank, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Created = fromNanos(created)
	u.Active = active != 0
	return &u, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
