// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package agent

import (
	"net/http"

	"github.com/hashicorp/labrador/labrador/structs"
)

type labReportPage struct {
	Reports    []*structs.LabReport `json:"reports"`
	Pagination *structs.Pagination  `json:"pagination"`
}

// LabReportSpecificRequest handles GET /labreport/:id, returning the
// report with its items.
func (s *HTTPServer) LabReportSpecificRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != http.MethodGet {
		return nil, CodedError(405, ErrInvalidMethod)
	}

	ident, err := s.authenticate(req)
	if err != nil {
		return nil, err
	}

	id, err := pathID(req, "/labreport/")
	if err != nil {
		return nil, err
	}

	owner, err := s.agent.Server().Store().LabReportOwner(req.Context(), id)
	if err != nil {
		return nil, err
	}
	if owner != ident.UserID {
		return nil, structs.NewForbiddenError("lab report %d is not yours", id)
	}

	return s.agent.Server().Store().LabReportByID(req.Context(), id)
}

// LabReportWorkspaceRequest handles GET /labreport/workspace/:workspaceId
// with page/pageSize query parameters.
func (s *HTTPServer) LabReportWorkspaceRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != http.MethodGet {
		return nil, CodedError(405, ErrInvalidMethod)
	}

	ident, err := s.authenticate(req)
	if err != nil {
		return nil, err
	}

	workspaceID, err := pathID(req, "/labreport/workspace/")
	if err != nil {
		return nil, err
	}

	if err := s.checkWorkspaceOwner(req, workspaceID, ident.UserID); err != nil {
		return nil, err
	}

	page, err := parseIntQuery(req, "page", 1)
	if err != nil {
		return nil, err
	}
	pageSize, err := parseIntQuery(req, "pageSize", structs.DefaultPageSize)
	if err != nil {
		return nil, err
	}
	if page < 1 {
		return nil, structs.NewValidationError("page must be >= 1")
	}
	if pageSize < 1 || pageSize > structs.MaxPageSize {
		return nil, structs.NewValidationError("pageSize must be 1-%d", structs.MaxPageSize)
	}

	reports, total, err := s.agent.Server().Store().LabReportsByWorkspace(req.Context(), workspaceID, page, pageSize)
	if err != nil {
		return nil, err
	}
	if reports == nil {
		reports = []*structs.LabReport{}
	}

	return &labReportPage{
		Reports:    reports,
		Pagination: structs.NewPagination(page, pageSize, total),
	}, nil
}

// LabReportSearchRequest handles POST /labreport/search. The query's
// workspace filter is mandatory here even though the store treats it as
// optional: without one the search would span other users' data.
func (s *HTTPServer) LabReportSearchRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != http.MethodPost {
		return nil, CodedError(405, ErrInvalidMethod)
	}

	ident, err := s.authenticate(req)
	if err != nil {
		return nil, err
	}

	var query structs.LabReportSearch
	if err := decodeBody(req, &query); err != nil {
		return nil, err
	}
	if query.WorkspaceID == nil {
		return nil, structs.NewValidationError("workspaceId must be provided")
	}

	if err := s.checkWorkspaceOwner(req, *query.WorkspaceID, ident.UserID); err != nil {
		return nil, err
	}

	reports, total, err := s.agent.Server().Store().SearchLabReports(req.Context(), &query)
	if err != nil {
		return nil, err
	}
	if reports == nil {
		reports = []*structs.LabReport{}
	}

	return &labReportPage{
		Reports:    reports,
		Pagination: structs.NewPagination(query.Page, query.PageSize, total),
	}, nil
}

// LabReportItemRequest handles PUT /labreportitem/:id, a partial update
// of one measurement row.
func (s *HTTPServer) LabReportItemRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != http.MethodPut {
		return nil, CodedError(405, ErrInvalidMethod)
	}

	ident, err := s.authenticate(req)
	if err != nil {
		return nil, err
	}

	id, err := pathID(req, "/labreportitem/")
	if err != nil {
		return nil, err
	}

	var upd structs.LabReportItemUpdate
	if err := decodeBody(req, &upd); err != nil {
		return nil, err
	}

	owner, err := s.agent.Server().Store().LabReportItemOwner(req.Context(), id)
	if err != nil {
		return nil, err
	}
	if owner != ident.UserID {
		return nil, structs.NewForbiddenError("lab report item %d is not yours", id)
	}

	return s.agent.Server().Store().UpdateLabReportItem(req.Context(), id, &upd)
}
