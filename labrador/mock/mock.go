// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package mock provides fixtures and fakes for tests.
package mock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hashicorp/labrador/helper/pointer"
	"github.com/hashicorp/labrador/labrador/structs"
)

var seq atomic.Int64

func next() int64 { return seq.Add(1) }

// Password is the plaintext behind every mock user's hash.
const Password = "hunter22"

func User() *structs.User {
	hash, err := bcrypt.GenerateFromPassword([]byte(Password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	return &structs.User{
		Username:     fmt.Sprintf("mock_user_%d", next()),
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
}

func Workspace() *structs.Workspace {
	return &structs.Workspace{
		Name:      fmt.Sprintf("mock-ws-%d", next()),
		CreatedAt: time.Now().UTC(),
	}
}

func OcrUpload() *structs.OcrUpload {
	n := next()
	return &structs.OcrUpload{
		ReportImage:  fmt.Sprintf("report-%d.png", n),
		OcrPrimitive: fmt.Sprintf("WBC 9.%d 10^9/L 4-10", n%10),
	}
}

func OcrUploads(n int) []*structs.OcrUpload {
	out := make([]*structs.OcrUpload, n)
	for i := range out {
		out[i] = OcrUpload()
	}
	return out
}

// Draft builds a valid extractor draft carrying the given job id.
func Draft(ocrJobID int64) *structs.LabReportDraft {
	return &structs.LabReportDraft{
		OcrJobID:   ocrJobID,
		Patient:    fmt.Sprintf("Patient %d", ocrJobID),
		ReportTime: time.Now().UTC().Truncate(time.Second),
		Doctor:     pointer.Of("Dr. House"),
		Hospital:   pointer.Of("County General"),
		Items: []*structs.LabReportItemDraft{
			{
				ItemName:       "WBC",
				Result:         "9.1",
				Unit:           pointer.Of("10^9/L"),
				ReferenceValue: pointer.Of("4-10"),
			},
			{
				ItemName: "RBC",
				Result:   "4.4",
				Unit:     pointer.Of("10^12/L"),
			},
		},
	}
}

// Extractor is a configurable fake of the LLM client. The zero value
// returns a valid draft for every job.
type Extractor struct {
	mu sync.Mutex

	// DraftFn builds the reply for one job. A nil return means no draft
	// for that job. When DraftFn itself is nil every job gets Draft(id).
	DraftFn func(job *structs.OcrJob) *structs.LabReportDraft

	// Err fails the whole batch when set.
	Err error

	// Delay is applied before responding, honoring ctx cancellation.
	Delay time.Duration

	batches [][]*structs.OcrJob
}

func (e *Extractor) Extract(ctx context.Context, jobs []*structs.OcrJob) ([]*structs.LabReportDraft, error) {
	e.mu.Lock()
	snapshot := make([]*structs.OcrJob, len(jobs))
	copy(snapshot, jobs)
	e.batches = append(e.batches, snapshot)
	fn := e.DraftFn
	batchErr := e.Err
	delay := e.Delay
	e.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if batchErr != nil {
		return nil, batchErr
	}

	var drafts []*structs.LabReportDraft
	for _, job := range jobs {
		if fn == nil {
			drafts = append(drafts, Draft(job.ID))
			continue
		}
		if d := fn(job); d != nil {
			drafts = append(drafts, d)
		}
	}
	return drafts, nil
}

// Batches returns every batch the extractor has seen.
func (e *Extractor) Batches() [][]*structs.OcrJob {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([][]*structs.OcrJob, len(e.batches))
	copy(out, e.batches)
	return out
}

// SetErr swaps the batch error for subsequent calls.
func (e *Extractor) SetErr(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Err = err
}

// SetDraftFn swaps the per-job reply builder for subsequent calls.
func (e *Extractor) SetDraftFn(fn func(job *structs.OcrJob) *structs.LabReportDraft) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.DraftFn = fn
}
