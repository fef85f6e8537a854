// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package state

import (
	"context"
	"testing"
	"time"

	"github.com/shoenig/test/must"

	"github.com/hashicorp/labrador/ci"
	"github.com/hashicorp/labrador/helper/pointer"
	"github.com/hashicorp/labrador/labrador/mock"
	"github.com/hashicorp/labrador/labrador/structs"
)

func TestStateStore_CommitLabReport(t *testing.T) {
	ci.Parallel(t)
	store := TestStateStore(t)
	ctx := context.Background()
	_, ws := TestUserWorkspace(t, store)
	TestOcrJobs(t, store, ws.ID, 1)

	reserved, err := store.ReserveOcrJobs(ctx, 1)
	must.NoError(t, err)
	job := reserved[0]

	draft := mock.Draft(job.ID)
	report, err := store.CommitLabReport(ctx, job, draft)
	must.NoError(t, err)
	must.Positive(t, report.ID)
	must.Eq(t, ws.ID, report.WorkspaceID)
	must.Eq(t, job.ReportImage, report.ReportImage)
	must.Len(t, 2, report.Items)

	// The originating job is gone.
	ok, err := store.OcrJobExists(ctx, job.ID)
	must.NoError(t, err)
	must.False(t, ok)

	// Items landed with the report.
	fetched, err := store.LabReportByID(ctx, report.ID)
	must.NoError(t, err)
	must.Eq(t, draft.Patient, fetched.Patient)
	must.Len(t, 2, fetched.Items)
	must.Eq(t, "WBC", fetched.Items[0].ItemName)
	must.Eq(t, "RBC", fetched.Items[1].ItemName)
}

func TestStateStore_CommitLabReport_Cancelled(t *testing.T) {
	ci.Parallel(t)
	store := TestStateStore(t)
	ctx := context.Background()
	_, ws := TestUserWorkspace(t, store)
	TestOcrJobs(t, store, ws.ID, 1)

	reserved, err := store.ReserveOcrJobs(ctx, 1)
	must.NoError(t, err)
	job := reserved[0]

	// Client cancels mid-extraction.
	n, err := store.DeleteOcrJobs(ctx, []int64{job.ID})
	must.NoError(t, err)
	must.Eq(t, 1, n)

	_, err = store.CommitLabReport(ctx, job, mock.Draft(job.ID))
	must.ErrorIs(t, err, structs.ErrJobCancelled)

	// Nothing was committed.
	reports, total, err := store.LabReportsByWorkspace(ctx, ws.ID, 1, 10)
	must.NoError(t, err)
	must.Eq(t, 0, total)
	must.Len(t, 0, reports)
}

func TestStateStore_CommitLabReport_InvalidDraft(t *testing.T) {
	ci.Parallel(t)
	store := TestStateStore(t)
	ctx := context.Background()
	_, ws := TestUserWorkspace(t, store)
	jobs := TestOcrJobs(t, store, ws.ID, 1)

	draft := mock.Draft(jobs[0].ID)
	draft.Items = nil

	_, err := store.CommitLabReport(ctx, jobs[0], draft)
	must.ErrorIs(t, err, structs.ErrValidation)

	// The job survives an invalid draft.
	ok, err := store.OcrJobExists(ctx, jobs[0].ID)
	must.NoError(t, err)
	must.True(t, ok)
}

func TestStateStore_CreateLabReport(t *testing.T) {
	ci.Parallel(t)
	store := TestStateStore(t)
	ctx := context.Background()
	_, ws := TestUserWorkspace(t, store)

	draft := mock.Draft(1)
	report, err := store.CreateLabReport(ctx, ws.ID, draft, "manual-upload.png")
	must.NoError(t, err)
	must.Eq(t, "manual-upload.png", report.ReportImage)
	must.Len(t, 2, report.Items)

	_, err = store.CreateLabReport(ctx, 99999, draft, "x.png")
	must.ErrorIs(t, err, structs.ErrNotFound)
}

func TestStateStore_LabReportByID_NotFound(t *testing.T) {
	ci.Parallel(t)
	store := TestStateStore(t)

	_, err := store.LabReportByID(context.Background(), 404)
	must.ErrorIs(t, err, structs.ErrNotFound)
}

func TestStateStore_LabReportsByWorkspace(t *testing.T) {
	ci.Parallel(t)
	store := TestStateStore(t)
	ctx := context.Background()
	_, ws := TestUserWorkspace(t, store)

	for i := 0; i < 5; i++ {
		_, err := store.CreateLabReport(ctx, ws.ID, mock.Draft(int64(i+1)), "img.png")
		must.NoError(t, err)
	}

	reports, total, err := store.LabReportsByWorkspace(ctx, ws.ID, 1, 2)
	must.NoError(t, err)
	must.Eq(t, 5, total)
	must.Len(t, 2, reports)

	reports, total, err = store.LabReportsByWorkspace(ctx, ws.ID, 3, 2)
	must.NoError(t, err)
	must.Eq(t, 5, total)
	must.Len(t, 1, reports)
}

func TestStateStore_SearchLabReports(t *testing.T) {
	ci.Parallel(t)
	store := TestStateStore(t)
	ctx := context.Background()
	_, ws := TestUserWorkspace(t, store)

	mkDraft := func(patient string, when time.Time, items ...string) *structs.LabReportDraft {
		d := &structs.LabReportDraft{
			OcrJobID:   1,
			Patient:    patient,
			ReportTime: when,
		}
		for _, name := range items {
			d.Items = append(d.Items, &structs.LabReportItemDraft{ItemName: name, Result: "ok"})
		}
		return d
	}

	day := func(n int) time.Time {
		return time.Date(2026, 3, n, 12, 0, 0, 0, time.UTC)
	}

	_, err := store.CreateLabReport(ctx, ws.ID, mkDraft("Alice", day(1), "WBC", "RBC"), "a.png")
	must.NoError(t, err)
	_, err = store.CreateLabReport(ctx, ws.ID, mkDraft("Bob", day(2), "WBC"), "b.png")
	must.NoError(t, err)
	_, err = store.CreateLabReport(ctx, ws.ID, mkDraft("Alice", day(3), "GLU"), "c.png")
	must.NoError(t, err)

	// Sentinel patients, no items requested.
	res, total, err := store.SearchLabReports(ctx, &structs.LabReportSearch{
		WorkspaceID: &ws.ID,
		Patients:    []string{structs.FilterAll},
		Page:        1,
		PageSize:    10,
	})
	must.NoError(t, err)
	must.Eq(t, 3, total)
	must.Len(t, 3, res)
	for _, r := range res {
		must.Len(t, 0, r.Items)
	}

	// Exact patient set.
	res, total, err = store.SearchLabReports(ctx, &structs.LabReportSearch{
		WorkspaceID: &ws.ID,
		Patients:    []string{"Alice"},
		Page:        1,
		PageSize:    10,
	})
	must.NoError(t, err)
	must.Eq(t, 2, total)
	for _, r := range res {
		must.Eq(t, "Alice", r.Patient)
	}

	// All items included via sentinel.
	res, _, err = store.SearchLabReports(ctx, &structs.LabReportSearch{
		WorkspaceID: &ws.ID,
		Patients:    []string{"Alice"},
		ItemNames:   []string{structs.FilterAll},
		Page:        1,
		PageSize:    10,
	})
	must.NoError(t, err)
	must.SliceNotEmpty(t, res)
	must.Eq(t, "GLU", res[0].Items[0].ItemName)

	// Item name set filters the collection.
	res, _, err = store.SearchLabReports(ctx, &structs.LabReportSearch{
		WorkspaceID: &ws.ID,
		Patients:    []string{"Alice"},
		ItemNames:   []string{"WBC"},
		Page:        1,
		PageSize:    10,
	})
	must.NoError(t, err)
	must.Len(t, 2, res)
	// Newest first: the GLU report has no WBC item.
	must.Len(t, 0, res[0].Items)
	must.Len(t, 1, res[1].Items)
	must.Eq(t, "WBC", res[1].Items[0].ItemName)

	// Date range.
	from, to := day(2), day(3)
	res, total, err = store.SearchLabReports(ctx, &structs.LabReportSearch{
		WorkspaceID: &ws.ID,
		Patients:    []string{structs.FilterAll},
		From:        &from,
		To:          &to,
		Page:        1,
		PageSize:    10,
	})
	must.NoError(t, err)
	must.Eq(t, 2, total)

	// Pagination metadata comes from the count, not the page.
	res, total, err = store.SearchLabReports(ctx, &structs.LabReportSearch{
		WorkspaceID: &ws.ID,
		Patients:    []string{structs.FilterAll},
		Page:        2,
		PageSize:    2,
	})
	must.NoError(t, err)
	must.Eq(t, 3, total)
	must.Len(t, 1, res)

	// Invalid queries are rejected before touching the database.
	_, _, err = store.SearchLabReports(ctx, &structs.LabReportSearch{
		Patients: []string{structs.FilterAll},
		Page:     0,
		PageSize: 10,
	})
	must.ErrorIs(t, err, structs.ErrValidation)
}

func TestStateStore_UpdateLabReportItem(t *testing.T) {
	ci.Parallel(t)
	store := TestStateStore(t)
	ctx := context.Background()
	_, ws := TestUserWorkspace(t, store)

	report, err := store.CreateLabReport(ctx, ws.ID, mock.Draft(1), "img.png")
	must.NoError(t, err)
	item := report.Items[0]

	updated, err := store.UpdateLabReportItem(ctx, item.ID, &structs.LabReportItemUpdate{
		Result: pointer.Of("12.5"),
		Unit:   pointer.Of("mg/dL"),
	})
	must.NoError(t, err)
	must.Eq(t, "12.5", updated.Result)
	must.Eq(t, "mg/dL", *updated.Unit)
	// Untouched fields survive.
	must.Eq(t, item.ItemName, updated.ItemName)

	_, err = store.UpdateLabReportItem(ctx, item.ID, &structs.LabReportItemUpdate{})
	must.ErrorIs(t, err, structs.ErrValidation)

	_, err = store.UpdateLabReportItem(ctx, 99999, &structs.LabReportItemUpdate{
		Result: pointer.Of("x"),
	})
	must.ErrorIs(t, err, structs.ErrNotFound)
}

func TestStateStore_LabReportOwnership(t *testing.T) {
	ci.Parallel(t)
	store := TestStateStore(t)
	ctx := context.Background()
	user, ws := TestUserWorkspace(t, store)

	report, err := store.CreateLabReport(ctx, ws.ID, mock.Draft(1), "img.png")
	must.NoError(t, err)

	owner, err := store.LabReportOwner(ctx, report.ID)
	must.NoError(t, err)
	must.Eq(t, user.ID, owner)

	owner, err = store.LabReportItemOwner(ctx, report.Items[0].ID)
	must.NoError(t, err)
	must.Eq(t, user.ID, owner)

	_, err = store.LabReportOwner(ctx, 99999)
	must.ErrorIs(t, err, structs.ErrNotFound)
	_, err = store.LabReportItemOwner(ctx, 99999)
	must.ErrorIs(t, err, structs.ErrNotFound)
}
