// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package state persists users, workspaces, OCR jobs and lab reports in a
// single relational schema and exposes typed query methods over it.
package state

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sync/atomic"

	hclog "github.com/hashicorp/go-hclog"
	_ "github.com/mattn/go-sqlite3" // Import for register side-effects.
)

// InMemory is the Config.Path sentinel for a private in-memory database.
// Each store opened with it gets its own namespace so parallel tests do not
// share state.
const InMemory = ":memory:"

var memoryDBSeq atomic.Uint64

// Config configures a StateStore.
type Config struct {
	// Path is the database file, or InMemory for a throwaway database.
	Path string

	Logger hclog.Logger
}

// StateStore owns the relational schema. It is safe for concurrent use;
// mutations run inside immediate transactions so reservation, commit and
// hard delete serialize against each other.
type StateStore struct {
	db     *sql.DB
	logger hclog.Logger
}

// New opens the database at cfg.Path, creating it and applying the schema
// as needed.
func New(cfg Config) (*StateStore, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	db, err := sql.Open("sqlite3", dsn(cfg.Path))
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	// A single connection sidesteps SQLITE_BUSY between our own writers
	// and keeps in-memory databases on one namespace.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &StateStore{
		db:     db,
		logger: logger.Named("state"),
	}
	s.logger.Debug("state store opened", "path", cfg.Path)
	return s, nil
}

func dsn(path string) string {
	if path == "" || path == InMemory {
		// A named memory database; the name only scopes the namespace
		// within this process.
		n := memoryDBSeq.Add(1)
		return fmt.Sprintf("file:labrador-mem-%d?mode=memory&cache=shared&_fk=1&_busy_timeout=5000&_txlock=immediate", n)
	}
	return fmt.Sprintf("file:%s?_fk=1&_busy_timeout=5000&_txlock=immediate&_journal_mode=WAL",
		url.PathEscape(path))
}

// Close releases the underlying database handle.
func (s *StateStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable. Used by the agent health
// endpoint.
func (s *StateStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *StateStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			s.logger.Error("transaction rollback failed", "error", rbErr)
		}
		return err
	}
	return tx.Commit()
}
