// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package api

import (
	"context"
	"fmt"
)

// Workspaces is used to access the workspace endpoints.
type Workspaces struct {
	client *Client
}

// Workspaces returns a new handle on the workspaces.
func (c *Client) Workspaces() *Workspaces {
	return &Workspaces{client: c}
}

// List returns the caller's workspaces, newest first.
func (w *Workspaces) List(ctx context.Context) ([]*Workspace, error) {
	var out []*Workspace
	if err := w.client.get(ctx, "/workspace", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Create makes a new workspace owned by the caller. Names are unique per
// owner; a duplicate fails with a 409.
func (w *Workspaces) Create(ctx context.Context, name string) (*Workspace, error) {
	body := map[string]string{"name": name}
	var out Workspace
	if err := w.client.post(ctx, "/workspace/create", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes a workspace along with its queued jobs, reports and
// items, returning the deleted id.
func (w *Workspaces) Delete(ctx context.Context, id int64) (int64, error) {
	var out struct {
		DeletedID int64 `json:"deletedId"`
	}
	path := fmt.Sprintf("/workspace/delete/%d", id)
	if err := w.client.post(ctx, path, nil, &out); err != nil {
		return 0, err
	}
	return out.DeletedID, nil
}
