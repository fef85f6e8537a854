// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package state

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/hashicorp/labrador/labrador/structs"
)

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// CreateUser inserts a new user with an already-hashed password.
func (s *StateStore) CreateUser(ctx context.Context, username, passwordHash string) (*structs.User, error) {
	now := time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)`,
		username, passwordHash, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, structs.NewConflictError("username %q already exists", username)
		}
		return nil, structs.NewInternalError(err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, structs.NewInternalError(err)
	}

	return &structs.User{
		ID:           id,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    now,
	}, nil
}

// UserByUsername fetches a user by unique username.
func (s *StateStore) UserByUsername(ctx context.Context, username string) (*structs.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at FROM users WHERE username = ?`,
		username)
	return scanUser(row)
}

// UserByID fetches a user by id.
func (s *StateStore) UserByID(ctx context.Context, id int64) (*structs.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at FROM users WHERE id = ?`,
		id)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*structs.User, error) {
	var u structs.User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, structs.NewNotFoundError("user not found")
	case err != nil:
		return nil, structs.NewInternalError(err)
	}
	return &u, nil
}
