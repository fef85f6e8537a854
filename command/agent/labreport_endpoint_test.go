// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package agent

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shoenig/test/must"

	"github.com/hashicorp/labrador/ci"
	"github.com/hashicorp/labrador/helper/pointer"
	"github.com/hashicorp/labrador/labrador/mock"
	"github.com/hashicorp/labrador/labrador/structs"
)

// seedReport writes a committed report with mock items directly into the
// store, bypassing the extraction pipeline.
func seedReport(t testing.TB, s *TestAgent, workspaceID int64, patient string) *structs.LabReport {
	draft := mock.Draft(1)
	draft.Patient = patient
	report, err := s.Agent.Server().Store().CreateLabReport(
		context.Background(), workspaceID, draft, "seeded.png")
	must.NoError(t, err)
	return report
}

func TestHTTP_LabReportSpecific(t *testing.T) {
	ci.Parallel(t)
	httpTest(t, nil, func(s *TestAgent) {
		_, token := s.login(t, "report_reader")
		ws := createWorkspace(t, s, token, "results")
		seeded := seedReport(t, s, ws.ID, "Alice")

		req := authReq(t, http.MethodGet, fmt.Sprintf("/labreport/%d", seeded.ID), token, nil)
		obj, err := s.Server.LabReportSpecificRequest(httptest.NewRecorder(), req)
		must.NoError(t, err)

		report := obj.(*structs.LabReport)
		must.Eq(t, seeded.ID, report.ID)
		must.Eq(t, "Alice", report.Patient)
		must.Len(t, 2, report.Items)
		must.Eq(t, "WBC", report.Items[0].ItemName)
	})
}

func TestHTTP_LabReportSpecific_Errors(t *testing.T) {
	ci.Parallel(t)
	httpTest(t, nil, func(s *TestAgent) {
		_, ownerToken := s.login(t, "report_owner")
		_, otherToken := s.login(t, "report_curious")
		ws := createWorkspace(t, s, ownerToken, "sealed-results")
		seeded := seedReport(t, s, ws.ID, "Bob")

		req := authReq(t, http.MethodGet, fmt.Sprintf("/labreport/%d", seeded.ID), otherToken, nil)
		_, err := s.Server.LabReportSpecificRequest(httptest.NewRecorder(), req)
		must.ErrorIs(t, err, structs.ErrForbidden)

		req = authReq(t, http.MethodGet, "/labreport/99999", ownerToken, nil)
		_, err = s.Server.LabReportSpecificRequest(httptest.NewRecorder(), req)
		must.ErrorIs(t, err, structs.ErrNotFound)
	})
}

func TestHTTP_LabReportWorkspace(t *testing.T) {
	ci.Parallel(t)
	httpTest(t, nil, func(s *TestAgent) {
		_, token := s.login(t, "report_pager")
		ws := createWorkspace(t, s, token, "paging")

		// Empty workspace still renders a page, not a null.
		req := authReq(t, http.MethodGet, fmt.Sprintf("/labreport/workspace/%d", ws.ID), token, nil)
		obj, err := s.Server.LabReportWorkspaceRequest(httptest.NewRecorder(), req)
		must.NoError(t, err)

		page := obj.(*labReportPage)
		must.SliceEmpty(t, page.Reports)
		must.Eq(t, 0, page.Pagination.TotalCount)

		for _, patient := range []string{"Alice", "Bob", "Carol"} {
			seedReport(t, s, ws.ID, patient)
		}

		req = authReq(t, http.MethodGet,
			fmt.Sprintf("/labreport/workspace/%d?page=1&pageSize=2", ws.ID), token, nil)
		obj, err = s.Server.LabReportWorkspaceRequest(httptest.NewRecorder(), req)
		must.NoError(t, err)

		page = obj.(*labReportPage)
		must.Len(t, 2, page.Reports)
		must.Eq(t, &structs.Pagination{
			CurrentPage: 1,
			PageSize:    2,
			TotalCount:  3,
			TotalPages:  2,
			HasNext:     true,
			HasPrev:     false,
		}, page.Pagination)

		// Newest first.
		must.Eq(t, "Carol", page.Reports[0].Patient)

		req = authReq(t, http.MethodGet,
			fmt.Sprintf("/labreport/workspace/%d?page=2&pageSize=2", ws.ID), token, nil)
		obj, err = s.Server.LabReportWorkspaceRequest(httptest.NewRecorder(), req)
		must.NoError(t, err)

		page = obj.(*labReportPage)
		must.Len(t, 1, page.Reports)
		must.Eq(t, "Alice", page.Reports[0].Patient)
		must.True(t, page.Pagination.HasPrev)
		must.False(t, page.Pagination.HasNext)
	})
}

func TestHTTP_LabReportWorkspace_InvalidPaging(t *testing.T) {
	ci.Parallel(t)
	httpTest(t, nil, func(s *TestAgent) {
		_, token := s.login(t, "report_badpage")
		ws := createWorkspace(t, s, token, "bad-paging")

		cases := []string{
			"page=0",
			"page=junk",
			"pageSize=0",
			fmt.Sprintf("pageSize=%d", structs.MaxPageSize+1),
		}
		for _, qs := range cases {
			req := authReq(t, http.MethodGet,
				fmt.Sprintf("/labreport/workspace/%d?%s", ws.ID, qs), token, nil)
			_, err := s.Server.LabReportWorkspaceRequest(httptest.NewRecorder(), req)
			must.ErrorIs(t, err, structs.ErrValidation, must.Sprintf("query %q", qs))
		}
	})
}

func TestHTTP_LabReportWorkspace_Access(t *testing.T) {
	ci.Parallel(t)
	httpTest(t, nil, func(s *TestAgent) {
		_, ownerToken := s.login(t, "report_wsowner")
		_, otherToken := s.login(t, "report_wsother")
		ws := createWorkspace(t, s, ownerToken, "kept-results")

		req := authReq(t, http.MethodGet, fmt.Sprintf("/labreport/workspace/%d", ws.ID), otherToken, nil)
		_, err := s.Server.LabReportWorkspaceRequest(httptest.NewRecorder(), req)
		must.ErrorIs(t, err, structs.ErrForbidden)

		req = authReq(t, http.MethodGet, "/labreport/workspace/99999", ownerToken, nil)
		_, err = s.Server.LabReportWorkspaceRequest(httptest.NewRecorder(), req)
		must.ErrorIs(t, err, structs.ErrNotFound)
	})
}

func TestHTTP_LabReportSearch(t *testing.T) {
	ci.Parallel(t)
	httpTest(t, nil, func(s *TestAgent) {
		_, token := s.login(t, "report_searcher")
		ws := createWorkspace(t, s, token, "searchable")

		seedReport(t, s, ws.ID, "Alice")
		seedReport(t, s, ws.ID, "Bob")
		seedReport(t, s, ws.ID, "Alice")

		search := func(q *structs.LabReportSearch) *labReportPage {
			req := authReq(t, http.MethodPost, "/labreport/search", token, encodeReq(q))
			obj, err := s.Server.LabReportSearchRequest(httptest.NewRecorder(), req)
			must.NoError(t, err)
			return obj.(*labReportPage)
		}

		// The "all" sentinel matches every patient. No item filter means
		// no items on the results.
		page := search(&structs.LabReportSearch{
			WorkspaceID: pointer.Of(ws.ID),
			Patients:    []string{structs.FilterAll},
			Page:        1,
			PageSize:    10,
		})
		must.Len(t, 3, page.Reports)
		must.Eq(t, 3, page.Pagination.TotalCount)
		for _, r := range page.Reports {
			must.SliceEmpty(t, r.Items)
		}

		// Exact patient match.
		page = search(&structs.LabReportSearch{
			WorkspaceID: pointer.Of(ws.ID),
			Patients:    []string{"Alice"},
			Page:        1,
			PageSize:    10,
		})
		must.Len(t, 2, page.Reports)
		for _, r := range page.Reports {
			must.Eq(t, "Alice", r.Patient)
		}

		// Item name filter trims the items collection.
		page = search(&structs.LabReportSearch{
			WorkspaceID: pointer.Of(ws.ID),
			Patients:    []string{structs.FilterAll},
			ItemNames:   []string{"WBC"},
			Page:        1,
			PageSize:    10,
		})
		for _, r := range page.Reports {
			must.Len(t, 1, r.Items)
			must.Eq(t, "WBC", r.Items[0].ItemName)
		}

		// The "all" item sentinel carries everything.
		page = search(&structs.LabReportSearch{
			WorkspaceID: pointer.Of(ws.ID),
			Patients:    []string{structs.FilterAll},
			ItemNames:   []string{structs.FilterAll},
			Page:        1,
			PageSize:    10,
		})
		for _, r := range page.Reports {
			must.Len(t, 2, r.Items)
		}
	})
}

func TestHTTP_LabReportSearch_Validation(t *testing.T) {
	ci.Parallel(t)
	httpTest(t, nil, func(s *TestAgent) {
		_, token := s.login(t, "report_badsearch")
		ws := createWorkspace(t, s, token, "search-guard")

		cases := []struct {
			name string
			q    *structs.LabReportSearch
		}{
			{
				name: "missing workspace",
				q: &structs.LabReportSearch{
					Patients: []string{structs.FilterAll},
					Page:     1, PageSize: 10,
				},
			},
			{
				name: "empty patients",
				q: &structs.LabReportSearch{
					WorkspaceID: pointer.Of(ws.ID),
					Page:        1, PageSize: 10,
				},
			},
			{
				name: "zero page",
				q: &structs.LabReportSearch{
					WorkspaceID: pointer.Of(ws.ID),
					Patients:    []string{structs.FilterAll},
					Page:        0, PageSize: 10,
				},
			},
			{
				name: "oversized pageSize",
				q: &structs.LabReportSearch{
					WorkspaceID: pointer.Of(ws.ID),
					Patients:    []string{structs.FilterAll},
					Page:        1, PageSize: structs.MaxPageSize + 1,
				},
			},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				req := authReq(t, http.MethodPost, "/labreport/search", token, encodeReq(tc.q))
				_, err := s.Server.LabReportSearchRequest(httptest.NewRecorder(), req)
				must.ErrorIs(t, err, structs.ErrValidation, must.Sprintf("case %q", tc.name))
			})
		}

		// Searching someone else's workspace is forbidden, not empty.
		_, otherToken := s.login(t, "report_searchthief")
		req := authReq(t, http.MethodPost, "/labreport/search", otherToken,
			encodeReq(&structs.LabReportSearch{
				WorkspaceID: pointer.Of(ws.ID),
				Patients:    []string{structs.FilterAll},
				Page:        1, PageSize: 10,
			}))
		_, err := s.Server.LabReportSearchRequest(httptest.NewRecorder(), req)
		must.ErrorIs(t, err, structs.ErrForbidden)
	})
}

func TestHTTP_LabReportItemUpdate(t *testing.T) {
	ci.Parallel(t)
	httpTest(t, nil, func(s *TestAgent) {
		_, token := s.login(t, "item_editor")
		ws := createWorkspace(t, s, token, "editable")
		seeded := seedReport(t, s, ws.ID, "Dana")
		item := seeded.Items[0]

		req := authReq(t, http.MethodPut, fmt.Sprintf("/labreportitem/%d", item.ID),
			token, encodeReq(structs.LabReportItemUpdate{Result: pointer.Of("11.3")}))
		obj, err := s.Server.LabReportItemRequest(httptest.NewRecorder(), req)
		must.NoError(t, err)

		updated := obj.(*structs.LabReportItem)
		must.Eq(t, item.ID, updated.ID)
		must.Eq(t, "11.3", updated.Result)
		must.Eq(t, item.ItemName, updated.ItemName)

		// The change sticks on a fresh read.
		req = authReq(t, http.MethodGet, fmt.Sprintf("/labreport/%d", seeded.ID), token, nil)
		obj, err = s.Server.LabReportSpecificRequest(httptest.NewRecorder(), req)
		must.NoError(t, err)
		must.Eq(t, "11.3", obj.(*structs.LabReport).Items[0].Result)
	})
}

func TestHTTP_LabReportItemUpdate_Errors(t *testing.T) {
	ci.Parallel(t)
	httpTest(t, nil, func(s *TestAgent) {
		_, ownerToken := s.login(t, "item_owner")
		_, otherToken := s.login(t, "item_thief")
		ws := createWorkspace(t, s, ownerToken, "item-guard")
		seeded := seedReport(t, s, ws.ID, "Eve")
		item := seeded.Items[0]

		// Empty update.
		req := authReq(t, http.MethodPut, fmt.Sprintf("/labreportitem/%d", item.ID),
			ownerToken, encodeReq(structs.LabReportItemUpdate{}))
		_, err := s.Server.LabReportItemRequest(httptest.NewRecorder(), req)
		must.ErrorIs(t, err, structs.ErrValidation)

		// Someone else's item.
		req = authReq(t, http.MethodPut, fmt.Sprintf("/labreportitem/%d", item.ID),
			otherToken, encodeReq(structs.LabReportItemUpdate{Result: pointer.Of("0")}))
		_, err = s.Server.LabReportItemRequest(httptest.NewRecorder(), req)
		must.ErrorIs(t, err, structs.ErrForbidden)

		// An item that never existed.
		req = authReq(t, http.MethodPut, "/labreportitem/99999",
			ownerToken, encodeReq(structs.LabReportItemUpdate{Result: pointer.Of("0")}))
		_, err = s.Server.LabReportItemRequest(httptest.NewRecorder(), req)
		must.ErrorIs(t, err, structs.ErrNotFound)
	})
}
