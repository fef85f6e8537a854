// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package agent

import (
	"net/http"

	"github.com/hashicorp/labrador/labrador/structs"
)

type workspaceCreateRequest struct {
	Name string `json:"name"`
}

// WorkspaceCreateRequest handles POST /workspace/create.
func (s *HTTPServer) WorkspaceCreateRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != http.MethodPost {
		return nil, CodedError(405, ErrInvalidMethod)
	}

	ident, err := s.authenticate(req)
	if err != nil {
		return nil, err
	}

	var args workspaceCreateRequest
	if err := decodeBody(req, &args); err != nil {
		return nil, err
	}

	out, err := s.agent.Server().Store().CreateWorkspace(req.Context(), args.Name, ident.UserID)
	if err != nil {
		return nil, err
	}

	created(resp)
	return out, nil
}

// WorkspaceListRequest handles GET /workspace, listing the caller's
// workspaces.
func (s *HTTPServer) WorkspaceListRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != http.MethodGet {
		return nil, CodedError(405, ErrInvalidMethod)
	}

	ident, err := s.authenticate(req)
	if err != nil {
		return nil, err
	}

	out, err := s.agent.Server().Store().WorkspacesByOwner(req.Context(), ident.UserID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []*structs.Workspace{}
	}
	return out, nil
}

type workspaceDeleteResponse struct {
	DeletedID int64 `json:"deletedId"`
}

// WorkspaceDeleteRequest handles POST /workspace/delete/:id. Deletion
// cascades to the workspace's jobs, reports and items.
func (s *HTTPServer) WorkspaceDeleteRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != http.MethodPost {
		return nil, CodedError(405, ErrInvalidMethod)
	}

	ident, err := s.authenticate(req)
	if err != nil {
		return nil, err
	}

	id, err := pathID(req, "/workspace/delete/")
	if err != nil {
		return nil, err
	}

	ws, err := s.agent.Server().Store().WorkspaceByID(req.Context(), id)
	if err != nil {
		return nil, err
	}
	if ws.OwnerID != ident.UserID {
		return nil, structs.NewForbiddenError("workspace %d is not yours", id)
	}

	if err := s.agent.Server().Store().DeleteWorkspace(req.Context(), id); err != nil {
		return nil, err
	}
	return &workspaceDeleteResponse{DeletedID: id}, nil
}
