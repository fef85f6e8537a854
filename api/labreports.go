// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package api

import (
	"context"
	"fmt"
)

// LabReports is used to access the committed report endpoints.
type LabReports struct {
	client *Client
}

// LabReports returns a new handle on the lab reports.
func (c *Client) LabReports() *LabReports {
	return &LabReports{client: c}
}

// Get returns one report with its items.
func (l *LabReports) Get(ctx context.Context, id int64) (*LabReport, error) {
	var out LabReport
	if err := l.client.get(ctx, fmt.Sprintf("/labreport/%d", id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ByWorkspace pages through a workspace's reports, newest first.
func (l *LabReports) ByWorkspace(ctx context.Context, workspaceID int64, page, pageSize int) (*LabReportPage, error) {
	path := fmt.Sprintf("/labreport/workspace/%d?page=%d&pageSize=%d", workspaceID, page, pageSize)
	var out LabReportPage
	if err := l.client.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Search runs a filtered search over one workspace's reports. The query
// must name the workspace; patients accepts the "all" sentinel, and the
// item filter controls whether and which items each result carries.
func (l *LabReports) Search(ctx context.Context, query *LabReportSearch) (*LabReportPage, error) {
	var out LabReportPage
	if err := l.client.post(ctx, "/labreport/search", query, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateItem applies a partial update to one measurement row and returns
// the row as stored.
func (l *LabReports) UpdateItem(ctx context.Context, id int64, update *LabReportItemUpdate) (*LabReportItem, error) {
	var out LabReportItem
	if err := l.client.put(ctx, fmt.Sprintf("/labreportitem/%d", id), update, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
