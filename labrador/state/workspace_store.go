// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/labrador/labrador/structs"
)

// CreateWorkspace inserts a workspace owned by ownerID. Names are unique
// per owner.
func (s *StateStore) CreateWorkspace(ctx context.Context, name string, ownerID int64) (*structs.Workspace, error) {
	ws := &structs.Workspace{Name: name, OwnerID: ownerID}
	if err := ws.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO workspaces (name, owner_id, created_at) VALUES (?, ?, ?)`,
		name, ownerID, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, structs.NewConflictError("workspace %q already exists", name)
		}
		return nil, structs.NewInternalError(err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, structs.NewInternalError(err)
	}

	ws.ID = id
	ws.CreatedAt = now
	return ws, nil
}

// WorkspaceByID fetches a workspace regardless of owner; callers enforce
// ownership.
func (s *StateStore) WorkspaceByID(ctx context.Context, id int64) (*structs.Workspace, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, owner_id, created_at FROM workspaces WHERE id = ?`, id)

	var ws structs.Workspace
	err := row.Scan(&ws.ID, &ws.Name, &ws.OwnerID, &ws.CreatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, structs.NewNotFoundError("workspace %d not found", id)
	case err != nil:
		return nil, structs.NewInternalError(err)
	}
	return &ws, nil
}

// WorkspacesByOwner lists a user's workspaces in creation order.
func (s *StateStore) WorkspacesByOwner(ctx context.Context, ownerID int64) ([]*structs.Workspace, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, owner_id, created_at FROM workspaces
		 WHERE owner_id = ? ORDER BY created_at, id`, ownerID)
	if err != nil {
		return nil, structs.NewInternalError(err)
	}
	defer rows.Close()

	var out []*structs.Workspace
	for rows.Next() {
		var ws structs.Workspace
		if err := rows.Scan(&ws.ID, &ws.Name, &ws.OwnerID, &ws.CreatedAt); err != nil {
			return nil, structs.NewInternalError(err)
		}
		out = append(out, &ws)
	}
	if err := rows.Err(); err != nil {
		return nil, structs.NewInternalError(err)
	}
	return out, nil
}

// WorkspaceOwners resolves the owning user of each workspace id given.
// Workspaces deleted since the ids were collected are simply absent from the
// result, so callers tolerate mid-flight cascades.
func (s *StateStore) WorkspaceOwners(ctx context.Context, ids []int64) (map[int64]int64, error) {
	if len(ids) == 0 {
		return map[int64]int64{}, nil
	}

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT id, owner_id FROM workspaces WHERE id IN (%s)`,
		placeholders(len(ids))), args...)
	if err != nil {
		return nil, structs.NewInternalError(err)
	}
	defer rows.Close()

	owners := make(map[int64]int64, len(ids))
	for rows.Next() {
		var wsID, ownerID int64
		if err := rows.Scan(&wsID, &ownerID); err != nil {
			return nil, structs.NewInternalError(err)
		}
		owners[wsID] = ownerID
	}
	if err := rows.Err(); err != nil {
		return nil, structs.NewInternalError(err)
	}
	return owners, nil
}

// DeleteWorkspace removes a workspace; the schema cascades the delete to
// its OCR jobs, lab reports and items.
func (s *StateStore) DeleteWorkspace(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workspaces WHERE id = ?`, id)
	if err != nil {
		return structs.NewInternalError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return structs.NewInternalError(err)
	}
	if n == 0 {
		return structs.NewNotFoundError("workspace %d not found", id)
	}
	return nil
}
