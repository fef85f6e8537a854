// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/shoenig/test/must"

	"github.com/hashicorp/labrador/ci"
	"github.com/hashicorp/labrador/helper/pointer"
)

func TestLabReports_Get(t *testing.T) {
	ci.Parallel(t)

	var gotPath string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
		w.Write(envelope(t, &LabReport{
			ID:          3,
			WorkspaceID: 7,
			Patient:     "Alice",
			Items: []*LabReportItem{
				{ID: 21, ReportID: 3, ItemName: "WBC", Result: "9.1"},
			},
		}))
	})

	report, err := c.LabReports().Get(context.Background(), 3)
	must.NoError(t, err)
	must.Eq(t, "GET /labreport/3", gotPath)
	must.Eq(t, "Alice", report.Patient)
	must.Len(t, 1, report.Items)
	must.Eq(t, "WBC", report.Items[0].ItemName)
}

func TestLabReports_ByWorkspace(t *testing.T) {
	ci.Parallel(t)

	var gotPath, gotQuery string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Write(envelope(t, &LabReportPage{
			Reports: []*LabReport{{ID: 9, Patient: "Carol"}, {ID: 8, Patient: "Bob"}},
			Pagination: Pagination{
				CurrentPage: 2,
				PageSize:    2,
				TotalCount:  5,
				TotalPages:  3,
				HasNext:     true,
				HasPrev:     true,
			},
		}))
	})

	page, err := c.LabReports().ByWorkspace(context.Background(), 7, 2, 2)
	must.NoError(t, err)
	must.Eq(t, "GET /labreport/workspace/7", gotPath)
	must.Eq(t, "page=2&pageSize=2", gotQuery)
	must.Len(t, 2, page.Reports)
	must.Eq(t, "Carol", page.Reports[0].Patient)
	must.Eq(t, 5, page.Pagination.TotalCount)
	must.True(t, page.Pagination.HasPrev)
}

func TestLabReports_Search(t *testing.T) {
	ci.Parallel(t)

	var gotPath string
	var gotBody LabReportSearch
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write(envelope(t, &LabReportPage{
			Reports:    []*LabReport{{ID: 4, Patient: "Alice"}},
			Pagination: Pagination{CurrentPage: 1, PageSize: 10, TotalCount: 1, TotalPages: 1},
		}))
	})

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	query := &LabReportSearch{
		WorkspaceID: pointer.Of(int64(7)),
		Patients:    []string{"Alice"},
		ItemNames:   []string{"WBC"},
		From:        &from,
		Page:        1,
		PageSize:    10,
	}
	page, err := c.LabReports().Search(context.Background(), query)
	must.NoError(t, err)
	must.Eq(t, "POST /labreport/search", gotPath)
	must.Eq(t, int64(7), *gotBody.WorkspaceID)
	must.Eq(t, []string{"Alice"}, gotBody.Patients)
	must.Eq(t, []string{"WBC"}, gotBody.ItemNames)
	must.NotNil(t, gotBody.From)
	must.Nil(t, gotBody.To)
	must.Len(t, 1, page.Reports)
}

func TestLabReports_UpdateItem(t *testing.T) {
	ci.Parallel(t)

	var gotPath string
	var gotBody LabReportItemUpdate
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write(envelope(t, &LabReportItem{
			ID:       21,
			ReportID: 3,
			ItemName: "WBC",
			Result:   "11.3",
		}))
	})

	update := &LabReportItemUpdate{Result: pointer.Of("11.3")}
	item, err := c.LabReports().UpdateItem(context.Background(), 21, update)
	must.NoError(t, err)
	must.Eq(t, "PUT /labreportitem/21", gotPath)
	must.Eq(t, "11.3", *gotBody.Result)
	must.Nil(t, gotBody.ItemName)
	must.Eq(t, "11.3", item.Result)
}
