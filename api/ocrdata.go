// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package api

import (
	"context"
	"fmt"
)

// OcrData is used to access the OCR queue endpoints.
type OcrData struct {
	client *Client
}

// OcrData returns a new handle on the OCR queue.
func (c *Client) OcrData() *OcrData {
	return &OcrData{client: c}
}

// OcrBatchResponse reports the outcome of a batch upload.
type OcrBatchResponse struct {
	CreatedCount int       `json:"createdCount"`
	WorkspaceID  int64     `json:"workspaceId"`
	OcrData      []*OcrJob `json:"ocrData"`
}

// BatchCreate queues a batch of OCR payloads for extraction in the
// workspace. The batch is atomic and capped server-side; an oversized or
// partially invalid batch is rejected whole.
func (o *OcrData) BatchCreate(ctx context.Context, workspaceID int64, uploads []*OcrUpload) (*OcrBatchResponse, error) {
	body := struct {
		OcrDataArray []*OcrUpload `json:"ocrDataArray"`
	}{
		OcrDataArray: uploads,
	}
	var out OcrBatchResponse
	path := fmt.Sprintf("/ocrdata/batch/%d", workspaceID)
	if err := o.client.post(ctx, path, &body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// BatchDelete removes queued jobs by id, returning how many rows went
// away. Any id that does not exist fails the whole batch with a 404; any
// id owned by another user fails it with a 403.
func (o *OcrData) BatchDelete(ctx context.Context, ids []int64) (int, error) {
	body := struct {
		IDArray []int64 `json:"idArray"`
	}{
		IDArray: ids,
	}
	var out struct {
		DeletedCount int `json:"deletedCount"`
	}
	if err := o.client.delete(ctx, "/ocrdata/batch", &body, &out); err != nil {
		return 0, err
	}
	return out.DeletedCount, nil
}

// List returns a window of the workspace's queued jobs. Jobs reserved by
// the pipeline are excluded until they are committed or restored.
func (o *OcrData) List(ctx context.Context, workspaceID int64, limit, offset int) ([]*OcrJob, error) {
	path := fmt.Sprintf("/ocrdata/workspace/%d?limit=%d&offset=%d", workspaceID, limit, offset)
	var out []*OcrJob
	if err := o.client.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns a single job by id.
func (o *OcrData) Get(ctx context.Context, id int64) (*OcrJob, error) {
	var out OcrJob
	if err := o.client.get(ctx, fmt.Sprintf("/ocrdata/%d", id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}
