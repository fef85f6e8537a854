// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/shoenig/test/must"

	"github.com/hashicorp/labrador/ci"
)

func TestOcrData_BatchCreate(t *testing.T) {
	ci.Parallel(t)

	var gotPath string
	var gotBody struct {
		OcrDataArray []*OcrUpload `json:"ocrDataArray"`
	}
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		w.Write(envelope(t, &OcrBatchResponse{
			CreatedCount: 2,
			WorkspaceID:  7,
			OcrData: []*OcrJob{
				{ID: 31, WorkspaceID: 7, ReportImage: "a.png"},
				{ID: 32, WorkspaceID: 7, ReportImage: "b.png"},
			},
		}))
	})

	uploads := []*OcrUpload{
		{ReportImage: "a.png", OcrPrimitive: "WBC 9.1"},
		{ReportImage: "b.png", OcrPrimitive: "RBC 4.4"},
	}
	resp, err := c.OcrData().BatchCreate(context.Background(), 7, uploads)
	must.NoError(t, err)
	must.Eq(t, "POST /ocrdata/batch/7", gotPath)
	must.Len(t, 2, gotBody.OcrDataArray)
	must.Eq(t, "WBC 9.1", gotBody.OcrDataArray[0].OcrPrimitive)
	must.Eq(t, 2, resp.CreatedCount)
	must.Eq(t, int64(7), resp.WorkspaceID)
	must.Eq(t, int64(32), resp.OcrData[1].ID)
}

func TestOcrData_BatchDelete(t *testing.T) {
	ci.Parallel(t)

	var gotMethod string
	var gotBody struct {
		IDArray []int64 `json:"idArray"`
	}
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method + " " + r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write(envelope(t, map[string]int{"deletedCount": 3}))
	})

	n, err := c.OcrData().BatchDelete(context.Background(), []int64{4, 5, 6})
	must.NoError(t, err)
	must.Eq(t, "DELETE /ocrdata/batch", gotMethod)
	must.Eq(t, []int64{4, 5, 6}, gotBody.IDArray)
	must.Eq(t, 3, n)
}

func TestOcrData_List(t *testing.T) {
	ci.Parallel(t)

	var gotPath, gotQuery string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Write(envelope(t, []*OcrJob{{ID: 11, WorkspaceID: 7, OcrPrimitive: "WBC 9.1"}}))
	})

	jobs, err := c.OcrData().List(context.Background(), 7, 20, 40)
	must.NoError(t, err)
	must.Eq(t, "GET /ocrdata/workspace/7", gotPath)
	must.Eq(t, "limit=20&offset=40", gotQuery)
	must.Len(t, 1, jobs)
	must.Eq(t, int64(11), jobs[0].ID)
	must.Nil(t, jobs[0].ReservedAt)
}

func TestOcrData_Get(t *testing.T) {
	ci.Parallel(t)

	var gotPath string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
		w.Write(envelope(t, &OcrJob{ID: 11, WorkspaceID: 7, ReportImage: "scan.png"}))
	})

	job, err := c.OcrData().Get(context.Background(), 11)
	must.NoError(t, err)
	must.Eq(t, "GET /ocrdata/11", gotPath)
	must.Eq(t, "scan.png", job.ReportImage)
}
