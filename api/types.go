// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package api

import (
	"encoding/json"
	"time"
)

// User is an account that owns workspaces.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}

// Workspace groups a user's OCR jobs and lab reports.
type Workspace struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	OwnerID   int64     `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
}

// OcrJob is one queued unit of extraction work.
type OcrJob struct {
	ID           int64      `json:"id"`
	WorkspaceID  int64      `json:"workspaceId"`
	ReportImage  string     `json:"reportImage"`
	OcrPrimitive string     `json:"ocrPrimitive"`
	ReservedAt   *time.Time `json:"reservedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// OcrUpload is one element of a batch upload.
type OcrUpload struct {
	ReportImage  string `json:"reportImage"`
	OcrPrimitive string `json:"ocrPrimitive"`
}

// LabReport is a committed extraction result.
type LabReport struct {
	ID          int64            `json:"id"`
	WorkspaceID int64            `json:"workspaceId"`
	Patient     string           `json:"patient"`
	ReportTime  time.Time        `json:"reportTime"`
	Doctor      *string          `json:"doctor"`
	Hospital    *string          `json:"hospital"`
	ReportImage string           `json:"reportImage"`
	CreatedAt   time.Time        `json:"createdAt"`
	Items       []*LabReportItem `json:"items,omitempty"`
}

// LabReportItem is a single measurement row of a report.
type LabReportItem struct {
	ID             int64   `json:"id"`
	ReportID       int64   `json:"reportId"`
	ItemName       string  `json:"itemName"`
	Result         string  `json:"result"`
	Unit           *string `json:"unit"`
	ReferenceValue *string `json:"referenceValue"`
}

// LabReportItemUpdate is a partial update of one item. Nil fields are
// left untouched.
type LabReportItemUpdate struct {
	ItemName       *string `json:"itemName,omitempty"`
	Result         *string `json:"result,omitempty"`
	Unit           *string `json:"unit,omitempty"`
	ReferenceValue *string `json:"referenceValue,omitempty"`
}

// Pagination describes the page window of a list response.
type Pagination struct {
	CurrentPage int  `json:"currentPage"`
	PageSize    int  `json:"pageSize"`
	TotalCount  int  `json:"totalCount"`
	TotalPages  int  `json:"totalPages"`
	HasNext     bool `json:"hasNext"`
	HasPrev     bool `json:"hasPrev"`
}

// LabReportPage is a page of reports plus its pagination window.
type LabReportPage struct {
	Reports    []*LabReport `json:"reports"`
	Pagination Pagination   `json:"pagination"`
}

// LabReportSearch is the body of a report search.
type LabReportSearch struct {
	WorkspaceID *int64     `json:"workspaceId"`
	Patients    []string   `json:"patients"`
	ItemNames   []string   `json:"itemNames,omitempty"`
	From        *time.Time `json:"from,omitempty"`
	To          *time.Time `json:"to,omitempty"`
	Page        int        `json:"page"`
	PageSize    int        `json:"pageSize"`
}

// Frame is one message from the push transport. Type discriminates the
// payload; unknown fields stay in Raw for forward compatibility.
type Frame struct {
	Type        string          `json:"type"`
	UserID      int64           `json:"userId,omitempty"`
	SessionID   string          `json:"sessionId,omitempty"`
	Message     string          `json:"message,omitempty"`
	LabReportID int64           `json:"labReportId,omitempty"`
	OcrDataID   int64           `json:"ocrDataId,omitempty"`
	Timestamp   int64           `json:"timestamp,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// Frame types pushed by the agent.
const (
	FrameAuthSuccess   = "auth_success"
	FrameAuthFailure   = "auth_failure"
	FrameReportCreated = "labReportCreated"
	FramePong          = "pong"
	FrameEchoResponse  = "echo_response"
	FrameError         = "error"
)

// Frame types a client may send.
const (
	FramePing = "ping"
	FrameEcho = "echo"
)
