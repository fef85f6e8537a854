// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package agent

import (
	"net/http"

	"github.com/hashicorp/labrador/labrador/structs"
)

type ocrBatchCreateRequest struct {
	OcrDataArray []*structs.OcrUpload `json:"ocrDataArray"`
}

type ocrBatchCreateResponse struct {
	CreatedCount int               `json:"createdCount"`
	WorkspaceID  int64             `json:"workspaceId"`
	OcrData      []*structs.OcrJob `json:"ocrData"`
}

// OcrBatchCreateRequest handles POST /ocrdata/batch/:workspaceId, queueing
// up to the batch limit of OCR payloads for extraction.
func (s *HTTPServer) OcrBatchCreateRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != http.MethodPost {
		return nil, CodedError(405, ErrInvalidMethod)
	}

	ident, err := s.authenticate(req)
	if err != nil {
		return nil, err
	}

	workspaceID, err := pathID(req, "/ocrdata/batch/")
	if err != nil {
		return nil, err
	}

	if err := s.checkWorkspaceOwner(req, workspaceID, ident.UserID); err != nil {
		return nil, err
	}

	var args ocrBatchCreateRequest
	if err := decodeBody(req, &args); err != nil {
		return nil, err
	}

	jobs, err := s.agent.Server().Store().InsertOcrJobBatch(req.Context(), workspaceID, args.OcrDataArray)
	if err != nil {
		return nil, err
	}

	created(resp)
	return &ocrBatchCreateResponse{
		CreatedCount: len(jobs),
		WorkspaceID:  workspaceID,
		OcrData:      jobs,
	}, nil
}

type ocrBatchDeleteRequest struct {
	IDArray []int64 `json:"idArray"`
}

type ocrBatchDeleteResponse struct {
	DeletedCount int `json:"deletedCount"`
}

// OcrBatchDeleteRequest handles DELETE /ocrdata/batch. The batch is
// all-or-nothing at the check stage: any missing id is a 404 and any id
// owned by someone else is a 403 before a single row is removed. A job
// already reserved by the pipeline can still be deleted; the orchestrator
// treats the disappearance as a cancellation.
func (s *HTTPServer) OcrBatchDeleteRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != http.MethodDelete {
		return nil, CodedError(405, ErrInvalidMethod)
	}

	ident, err := s.authenticate(req)
	if err != nil {
		return nil, err
	}

	var args ocrBatchDeleteRequest
	if err := decodeBody(req, &args); err != nil {
		return nil, err
	}
	if len(args.IDArray) == 0 {
		return nil, structs.NewValidationError("idArray must not be empty")
	}
	if len(args.IDArray) > structs.MaxOcrBatchSize {
		return nil, structs.NewValidationError("batch exceeds maximum of %d", structs.MaxOcrBatchSize)
	}

	owners, err := s.agent.Server().Store().OcrJobsOwner(req.Context(), args.IDArray)
	if err != nil {
		return nil, err
	}
	for _, id := range args.IDArray {
		if owners[id] != ident.UserID {
			return nil, structs.NewForbiddenError("ocr data %d is not yours", id)
		}
	}

	n, err := s.agent.Server().Store().DeleteOcrJobs(req.Context(), args.IDArray)
	if err != nil {
		return nil, err
	}
	return &ocrBatchDeleteResponse{DeletedCount: n}, nil
}

// OcrWorkspaceListRequest handles GET /ocrdata/workspace/:workspaceId.
// Jobs reserved by the pipeline are excluded from the listing.
func (s *HTTPServer) OcrWorkspaceListRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != http.MethodGet {
		return nil, CodedError(405, ErrInvalidMethod)
	}

	ident, err := s.authenticate(req)
	if err != nil {
		return nil, err
	}

	workspaceID, err := pathID(req, "/ocrdata/workspace/")
	if err != nil {
		return nil, err
	}

	if err := s.checkWorkspaceOwner(req, workspaceID, ident.UserID); err != nil {
		return nil, err
	}

	limit, err := parseIntQuery(req, "limit", structs.DefaultPageSize)
	if err != nil {
		return nil, err
	}
	offset, err := parseIntQuery(req, "offset", 0)
	if err != nil {
		return nil, err
	}

	jobs, err := s.agent.Server().Store().OcrJobsByWorkspace(req.Context(), workspaceID, limit, offset)
	if err != nil {
		return nil, err
	}
	if jobs == nil {
		jobs = []*structs.OcrJob{}
	}
	return jobs, nil
}

// OcrSpecificRequest handles GET /ocrdata/:id.
func (s *HTTPServer) OcrSpecificRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != http.MethodGet {
		return nil, CodedError(405, ErrInvalidMethod)
	}

	ident, err := s.authenticate(req)
	if err != nil {
		return nil, err
	}

	id, err := pathID(req, "/ocrdata/")
	if err != nil {
		return nil, err
	}

	job, err := s.agent.Server().Store().OcrJobByID(req.Context(), id)
	if err != nil {
		return nil, err
	}

	if err := s.checkWorkspaceOwner(req, job.WorkspaceID, ident.UserID); err != nil {
		return nil, err
	}
	return job, nil
}

// checkWorkspaceOwner rejects access to workspaces the caller does not
// own. Missing workspaces surface as 404 rather than 403 so probing ids
// reveals nothing beyond existence.
func (s *HTTPServer) checkWorkspaceOwner(req *http.Request, workspaceID, userID int64) error {
	ws, err := s.agent.Server().Store().WorkspaceByID(req.Context(), workspaceID)
	if err != nil {
		return err
	}
	if ws.OwnerID != userID {
		return structs.NewForbiddenError("workspace %d is not yours", workspaceID)
	}
	return nil
}
