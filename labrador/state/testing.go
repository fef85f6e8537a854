// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package state

import (
	"context"
	"testing"

	"github.com/hashicorp/labrador/helper/testlog"
	"github.com/hashicorp/labrador/labrador/mock"
	"github.com/hashicorp/labrador/labrador/structs"
)

// TestStateStore opens a throwaway in-memory store that closes with the
// test.
func TestStateStore(t testing.TB) *StateStore {
	t.Helper()

	store, err := New(Config{
		Path:   InMemory,
		Logger: testlog.HCLogger(t),
	})
	if err != nil {
		t.Fatalf("failed to open state store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// TestUserWorkspace seeds one user owning one workspace.
func TestUserWorkspace(t testing.TB, store *StateStore) (*structs.User, *structs.Workspace) {
	t.Helper()

	m := mock.User()
	user, err := store.CreateUser(context.Background(), m.Username, m.PasswordHash)
	if err != nil {
		t.Fatalf("failed to create user: %v", err)
	}

	ws, err := store.CreateWorkspace(context.Background(), mock.Workspace().Name, user.ID)
	if err != nil {
		t.Fatalf("failed to create workspace: %v", err)
	}
	return user, ws
}

// TestOcrJobs seeds n pending jobs into the workspace.
func TestOcrJobs(t testing.TB, store *StateStore, workspaceID int64, n int) []*structs.OcrJob {
	t.Helper()

	jobs, err := store.InsertOcrJobBatch(context.Background(), workspaceID, mock.OcrUploads(n))
	if err != nil {
		t.Fatalf("failed to insert ocr jobs: %v", err)
	}
	return jobs
}
