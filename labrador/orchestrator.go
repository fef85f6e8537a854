// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package labrador

import (
	"context"
	"errors"
	"sync"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"

	"github.com/hashicorp/labrador/labrador/state"
	"github.com/hashicorp/labrador/labrador/structs"
)

// Notifier pushes report-ready events to the owning user's live sessions.
// The hub implements it; tests substitute recorders.
type Notifier interface {
	NotifyReportCreated(userID, labReportID, ocrDataID int64) bool
}

// OrchestratorConfig wires one batch orchestrator.
type OrchestratorConfig struct {
	Logger    hclog.Logger
	Store     *state.StateStore
	Extractor Extractor
	Notifier  Notifier

	// BatchSize is how many jobs one iteration reserves.
	BatchSize int

	// LongDelay is returned when the queue is drained and healthy, and by
	// iterations that lost the serialization race.
	LongDelay time.Duration

	// ImmediateDelay is returned while more work is likely pending.
	ImmediateDelay time.Duration

	// ErrorDelay is returned when the extractor fails the whole batch.
	ErrorDelay time.Duration
}

// Orchestrator drains the OCR queue one batch at a time: reserve, extract,
// commit or restore each job, then tell the scheduler how soon to come back.
// At most one iteration runs at a time; a concurrent entry short-circuits
// with the long delay instead of queueing behind the running one.
type Orchestrator struct {
	logger    hclog.Logger
	store     *state.StateStore
	extractor Extractor
	notifier  Notifier

	batchSize      int
	longDelay      time.Duration
	immediateDelay time.Duration
	errorDelay     time.Duration

	// iterMu serializes iterations. Entries that fail to take it return
	// without touching the queue.
	iterMu sync.Mutex

	// statsMu guards the counters below.
	statsMu sync.Mutex
	last    structs.BatchResult
	total   structs.BatchResult
	iters   uint64
}

// NewOrchestrator builds an orchestrator. The notifier may be nil when the
// push surface is disabled.
func NewOrchestrator(config *OrchestratorConfig) *Orchestrator {
	return &Orchestrator{
		logger:         config.Logger.Named("orchestrator"),
		store:          config.Store,
		extractor:      config.Extractor,
		notifier:       config.Notifier,
		batchSize:      config.BatchSize,
		longDelay:      config.LongDelay,
		immediateDelay: config.ImmediateDelay,
		errorDelay:     config.ErrorDelay,
	}
}

// RunIteration performs one reserve-extract-commit pass and returns the
// delay before the next one. It satisfies the scheduler Task contract but
// never returns an error: every failure becomes a delay choice, which is
// what keeps the scheduler loop healthy.
func (o *Orchestrator) RunIteration(ctx context.Context) (time.Duration, error) {
	if !o.iterMu.TryLock() {
		metrics.IncrCounter([]string{"labrador", "orchestrator", "busy"}, 1)
		return o.longDelay, nil
	}
	defer o.iterMu.Unlock()
	defer metrics.MeasureSince([]string{"labrador", "orchestrator", "iteration"}, time.Now())

	jobs, err := o.store.ReserveOcrJobs(ctx, o.batchSize)
	if err != nil {
		o.logger.Error("failed to reserve jobs", "error", err)
		metrics.IncrCounter([]string{"labrador", "orchestrator", "reserve_error"}, 1)
		return o.errorDelay, nil
	}
	if len(jobs) == 0 {
		return o.longDelay, nil
	}
	metrics.IncrCounter([]string{"labrador", "orchestrator", "reserved"}, float32(len(jobs)))

	// Owners are resolved up front: the commit hard-deletes job rows, and a
	// workspace cascade can do the same mid-batch. Absent owners just mean
	// nobody is left to notify.
	owners, err := o.store.WorkspaceOwners(ctx, workspaceIDs(jobs))
	if err != nil {
		o.logger.Warn("failed to resolve notification targets", "error", err)
		owners = nil
	}

	result := structs.BatchResult{Reserved: len(jobs)}

	drafts, err := o.extractor.Extract(ctx, jobs)
	if err != nil {
		o.logger.Error("extraction failed for batch", "jobs", len(jobs), "error", err)
		metrics.IncrCounter([]string{"labrador", "orchestrator", "extract_error"}, 1)
		o.restoreAll(ctx, jobs, &result)
		o.record(result)
		return o.errorDelay, nil
	}

	byJob := indexDrafts(jobs, drafts)

	for _, job := range jobs {
		draft, ok := byJob[job.ID]
		if !ok {
			o.finishWithoutDraft(ctx, job, &result)
			continue
		}
		o.commitDraft(ctx, job, draft, owners, &result)
	}

	o.record(result)
	o.logger.Debug("iteration complete", "result", result.String())

	// A full reservation or any recoverable failure means more work is
	// likely waiting.
	if result.Failed > 0 || len(jobs) == o.batchSize {
		return o.immediateDelay, nil
	}
	return o.longDelay, nil
}

// commitDraft turns one draft into a stored report, pushing the created
// event only after the transaction lands. Cancelled jobs drop the draft.
func (o *Orchestrator) commitDraft(ctx context.Context, job *structs.OcrJob, draft *structs.LabReportDraft, owners map[int64]int64, result *structs.BatchResult) {
	exists, err := o.store.OcrJobExists(ctx, job.ID)
	if err != nil {
		o.logger.Error("failed to check job before commit", "ocr_job_id", job.ID, "error", err)
		o.restoreOne(ctx, job)
		result.Failed++
		return
	}
	if !exists {
		o.logger.Debug("dropping draft for cancelled job", "ocr_job_id", job.ID)
		metrics.IncrCounter([]string{"labrador", "orchestrator", "skipped"}, 1)
		result.Skipped++
		return
	}

	report, err := o.store.CommitLabReport(ctx, job, draft)
	switch {
	case errors.Is(err, structs.ErrJobCancelled):
		o.logger.Debug("job cancelled during commit", "ocr_job_id", job.ID)
		metrics.IncrCounter([]string{"labrador", "orchestrator", "skipped"}, 1)
		result.Skipped++
		return
	case err != nil:
		o.logger.Error("failed to commit lab report", "ocr_job_id", job.ID, "error", err)
		o.restoreOne(ctx, job)
		metrics.IncrCounter([]string{"labrador", "orchestrator", "failed"}, 1)
		result.Failed++
		return
	}

	metrics.IncrCounter([]string{"labrador", "orchestrator", "processed"}, 1)
	result.Processed++

	if o.notifier == nil {
		return
	}
	owner, ok := owners[job.WorkspaceID]
	if !ok {
		return
	}
	if !o.notifier.NotifyReportCreated(owner, report.ID, job.ID) {
		o.logger.Debug("report notification undelivered",
			"user_id", owner, "lab_report_id", report.ID)
	}
}

// finishWithoutDraft handles a reserved job the extractor produced nothing
// for: restore it for a later batch unless a client cancelled it meanwhile.
func (o *Orchestrator) finishWithoutDraft(ctx context.Context, job *structs.OcrJob, result *structs.BatchResult) {
	exists, err := o.store.OcrJobExists(ctx, job.ID)
	if err != nil {
		o.logger.Error("failed to check job after extraction miss", "ocr_job_id", job.ID, "error", err)
		o.restoreOne(ctx, job)
		result.Failed++
		return
	}
	if !exists {
		metrics.IncrCounter([]string{"labrador", "orchestrator", "skipped"}, 1)
		result.Skipped++
		return
	}

	o.restoreOne(ctx, job)
	metrics.IncrCounter([]string{"labrador", "orchestrator", "failed"}, 1)
	result.Failed++
}

// restoreAll puts every still-existing job of a hard-failed batch back in
// the queue.
func (o *Orchestrator) restoreAll(ctx context.Context, jobs []*structs.OcrJob, result *structs.BatchResult) {
	for _, job := range jobs {
		exists, err := o.store.OcrJobExists(ctx, job.ID)
		if err != nil {
			o.logger.Error("failed to check job during batch restore", "ocr_job_id", job.ID, "error", err)
			o.restoreOne(ctx, job)
			result.Failed++
			continue
		}
		if !exists {
			result.Skipped++
			continue
		}
		o.restoreOne(ctx, job)
		result.Failed++
	}
	metrics.IncrCounter([]string{"labrador", "orchestrator", "failed"}, float32(result.Failed))
	if result.Skipped > 0 {
		metrics.IncrCounter([]string{"labrador", "orchestrator", "skipped"}, float32(result.Skipped))
	}
}

func (o *Orchestrator) restoreOne(ctx context.Context, job *structs.OcrJob) {
	if err := o.store.RestoreOcrJob(ctx, job.ID); err != nil {
		o.logger.Error("failed to restore job", "ocr_job_id", job.ID, "error", err)
	}
}

func (o *Orchestrator) record(result structs.BatchResult) {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	o.last = result
	o.total.Reserved += result.Reserved
	o.total.Processed += result.Processed
	o.total.Failed += result.Failed
	o.total.Skipped += result.Skipped
	o.iters++
}

// OrchestratorStats is a point-in-time summary for operators.
type OrchestratorStats struct {
	Iterations uint64              `json:"iterations"`
	Last       structs.BatchResult `json:"last"`
	Total      structs.BatchResult `json:"total"`
}

// Stats reports the most recent and cumulative batch outcomes.
func (o *Orchestrator) Stats() *OrchestratorStats {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	return &OrchestratorStats{
		Iterations: o.iters,
		Last:       o.last,
		Total:      o.total,
	}
}

// indexDrafts keys the extractor output by originating job, dropping nils,
// drafts without a job id and drafts pointing outside the reservation. A
// duplicate id keeps the first draft.
func indexDrafts(jobs []*structs.OcrJob, drafts []*structs.LabReportDraft) map[int64]*structs.LabReportDraft {
	reserved := make(map[int64]struct{}, len(jobs))
	for _, job := range jobs {
		reserved[job.ID] = struct{}{}
	}

	byJob := make(map[int64]*structs.LabReportDraft, len(drafts))
	for _, draft := range drafts {
		if draft == nil || draft.OcrJobID == 0 {
			continue
		}
		if _, ok := reserved[draft.OcrJobID]; !ok {
			continue
		}
		if _, dup := byJob[draft.OcrJobID]; dup {
			continue
		}
		byJob[draft.OcrJobID] = draft
	}
	return byJob
}

func workspaceIDs(jobs []*structs.OcrJob) []int64 {
	seen := make(map[int64]struct{}, len(jobs))
	ids := make([]int64, 0, len(jobs))
	for _, job := range jobs {
		if _, ok := seen[job.WorkspaceID]; ok {
			continue
		}
		seen[job.WorkspaceID] = struct{}{}
		ids = append(ids, job.WorkspaceID)
	}
	return ids
}
