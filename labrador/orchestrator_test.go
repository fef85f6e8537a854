// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package labrador

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shoenig/test/must"

	"github.com/hashicorp/labrador/ci"
	"github.com/hashicorp/labrador/helper/testlog"
	"github.com/hashicorp/labrador/labrador/mock"
	"github.com/hashicorp/labrador/labrador/state"
	"github.com/hashicorp/labrador/labrador/structs"
)

type notifyEvent struct {
	userID      int64
	labReportID int64
	ocrDataID   int64
}

// notifyRecorder captures report notifications; the optional hook runs at
// delivery time so tests can assert on store state mid-push.
type notifyRecorder struct {
	mu     sync.Mutex
	events []notifyEvent
	hook   func(ev notifyEvent)
}

func (n *notifyRecorder) NotifyReportCreated(userID, labReportID, ocrDataID int64) bool {
	n.mu.Lock()
	ev := notifyEvent{userID: userID, labReportID: labReportID, ocrDataID: ocrDataID}
	n.events = append(n.events, ev)
	hook := n.hook
	n.mu.Unlock()

	if hook != nil {
		hook(ev)
	}
	return true
}

func (n *notifyRecorder) all() []notifyEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notifyEvent, len(n.events))
	copy(out, n.events)
	return out
}

const (
	testLongDelay      = time.Minute
	testImmediateDelay = 5 * time.Millisecond
	testErrorDelay     = time.Second
)

func testOrchestrator(t *testing.T, store *state.StateStore, extractor Extractor, batchSize int) (*Orchestrator, *notifyRecorder) {
	t.Helper()
	recorder := &notifyRecorder{}
	o := NewOrchestrator(&OrchestratorConfig{
		Logger:         testlog.HCLogger(t),
		Store:          store,
		Extractor:      extractor,
		Notifier:       recorder,
		BatchSize:      batchSize,
		LongDelay:      testLongDelay,
		ImmediateDelay: testImmediateDelay,
		ErrorDelay:     testErrorDelay,
	})
	return o, recorder
}

func TestOrchestrator_EmptyQueue(t *testing.T) {
	ci.Parallel(t)

	store := state.TestStateStore(t)
	extractor := &mock.Extractor{}
	o, recorder := testOrchestrator(t, store, extractor, 5)

	delay, err := o.RunIteration(context.Background())
	must.NoError(t, err)
	must.Eq(t, testLongDelay, delay)

	must.Len(t, 0, extractor.Batches(), must.Sprint("extractor should not run on an empty queue"))
	must.Len(t, 0, recorder.all())
}

func TestOrchestrator_ZeroBatchSize(t *testing.T) {
	ci.Parallel(t)

	store := state.TestStateStore(t)
	_, ws := state.TestUserWorkspace(t, store)
	state.TestOcrJobs(t, store, ws.ID, 3)

	extractor := &mock.Extractor{}
	o, _ := testOrchestrator(t, store, extractor, 0)

	delay, err := o.RunIteration(context.Background())
	must.NoError(t, err)
	must.Eq(t, testLongDelay, delay)
	must.Len(t, 0, extractor.Batches())

	// Nothing was reserved.
	stats, err := store.OcrJobStats(context.Background())
	must.NoError(t, err)
	must.Eq(t, int64(3), stats.Available)
}

func TestOrchestrator_SingleJobHappyPath(t *testing.T) {
	ci.Parallel(t)

	store := state.TestStateStore(t)
	user, ws := state.TestUserWorkspace(t, store)
	jobs := state.TestOcrJobs(t, store, ws.ID, 1)
	job := jobs[0]

	extractor := &mock.Extractor{}
	o, recorder := testOrchestrator(t, store, extractor, 5)

	// Assert commit-before-notify: the pushed report id must already be
	// readable and the job row already gone at delivery time.
	recorder.hook = func(ev notifyEvent) {
		report, err := store.LabReportByID(context.Background(), ev.labReportID)
		must.NoError(t, err)
		must.SliceNotEmpty(t, report.Items)

		exists, err := store.OcrJobExists(context.Background(), ev.ocrDataID)
		must.NoError(t, err)
		must.False(t, exists)
	}

	delay, err := o.RunIteration(context.Background())
	must.NoError(t, err)
	must.Eq(t, testLongDelay, delay, must.Sprint("partial batch with no failures should back off"))

	events := recorder.all()
	must.Len(t, 1, events)
	must.Eq(t, user.ID, events[0].userID)
	must.Eq(t, job.ID, events[0].ocrDataID)

	stats := o.Stats()
	must.Eq(t, 1, stats.Last.Processed)
	must.Eq(t, 0, stats.Last.Failed)
	must.Eq(t, 0, stats.Last.Skipped)

	reports, total, err := store.LabReportsByWorkspace(context.Background(), ws.ID, 1, 10)
	must.NoError(t, err)
	must.Eq(t, 1, total)
	must.Eq(t, job.ReportImage, reports[0].ReportImage)
}

func TestOrchestrator_FullBatchImmediate(t *testing.T) {
	ci.Parallel(t)

	store := state.TestStateStore(t)
	_, ws := state.TestUserWorkspace(t, store)
	state.TestOcrJobs(t, store, ws.ID, 1)

	extractor := &mock.Extractor{}
	o, _ := testOrchestrator(t, store, extractor, 1)

	delay, err := o.RunIteration(context.Background())
	must.NoError(t, err)
	must.Eq(t, testImmediateDelay, delay, must.Sprint("a full reservation hints at more work"))
}

func TestOrchestrator_PartialFailure(t *testing.T) {
	ci.Parallel(t)

	store := state.TestStateStore(t)
	user, ws := state.TestUserWorkspace(t, store)
	jobs := state.TestOcrJobs(t, store, ws.ID, 2)
	j1, j2 := jobs[0], jobs[1]

	extractor := &mock.Extractor{}
	extractor.SetDraftFn(func(job *structs.OcrJob) *structs.LabReportDraft {
		if job.ID == j1.ID {
			return mock.Draft(job.ID)
		}
		return nil
	})
	o, recorder := testOrchestrator(t, store, extractor, 5)

	delay, err := o.RunIteration(context.Background())
	must.NoError(t, err)
	must.Eq(t, testImmediateDelay, delay)

	stats := o.Stats()
	must.Eq(t, 1, stats.Last.Processed)
	must.Eq(t, 1, stats.Last.Failed)

	// J1 committed and pushed.
	events := recorder.all()
	must.Len(t, 1, events)
	must.Eq(t, user.ID, events[0].userID)
	must.Eq(t, j1.ID, events[0].ocrDataID)

	exists, err := store.OcrJobExists(context.Background(), j1.ID)
	must.NoError(t, err)
	must.False(t, exists)

	// J2 restored and visible as pending again.
	restored, err := store.OcrJobByID(context.Background(), j2.ID)
	must.NoError(t, err)
	must.Nil(t, restored.ReservedAt)

	next, err := store.ReserveOcrJobs(context.Background(), 5)
	must.NoError(t, err)
	must.Len(t, 1, next)
	must.Eq(t, j2.ID, next[0].ID)
}

func TestOrchestrator_ExtractorError(t *testing.T) {
	ci.Parallel(t)

	store := state.TestStateStore(t)
	_, ws := state.TestUserWorkspace(t, store)
	jobs := state.TestOcrJobs(t, store, ws.ID, 5)

	extractor := &mock.Extractor{Err: errors.New("upstream exploded")}
	o, recorder := testOrchestrator(t, store, extractor, 5)

	delay, err := o.RunIteration(context.Background())
	must.NoError(t, err)
	must.Eq(t, testErrorDelay, delay)

	must.Len(t, 0, recorder.all())

	// Every job is back in the pool.
	stats, err := store.OcrJobStats(context.Background())
	must.NoError(t, err)
	must.Eq(t, int64(len(jobs)), stats.Available)
	must.Eq(t, int64(0), stats.InFlight)

	_, total, err := store.LabReportsByWorkspace(context.Background(), ws.ID, 1, 10)
	must.NoError(t, err)
	must.Eq(t, 0, total)
}

func TestOrchestrator_CancelDuringExtraction(t *testing.T) {
	ci.Parallel(t)

	store := state.TestStateStore(t)
	_, ws := state.TestUserWorkspace(t, store)
	jobs := state.TestOcrJobs(t, store, ws.ID, 1)
	job := jobs[0]

	// The client hard-deletes the job while the extractor holds it; the
	// perfectly good draft that comes back must be dropped.
	extractor := &mock.Extractor{}
	extractor.SetDraftFn(func(j *structs.OcrJob) *structs.LabReportDraft {
		n, err := store.DeleteOcrJobs(context.Background(), []int64{j.ID})
		must.NoError(t, err)
		must.Eq(t, 1, n)
		return mock.Draft(j.ID)
	})
	o, recorder := testOrchestrator(t, store, extractor, 5)

	delay, err := o.RunIteration(context.Background())
	must.NoError(t, err)
	must.Eq(t, testLongDelay, delay)

	stats := o.Stats()
	must.Eq(t, 0, stats.Last.Processed)
	must.Eq(t, 0, stats.Last.Failed)
	must.Eq(t, 1, stats.Last.Skipped)

	must.Len(t, 0, recorder.all(), must.Sprint("cancelled jobs never notify"))

	exists, err := store.OcrJobExists(context.Background(), job.ID)
	must.NoError(t, err)
	must.False(t, exists)

	_, total, err := store.LabReportsByWorkspace(context.Background(), ws.ID, 1, 10)
	must.NoError(t, err)
	must.Eq(t, 0, total)
}

func TestOrchestrator_UnmatchedDraftsDropped(t *testing.T) {
	ci.Parallel(t)

	store := state.TestStateStore(t)
	_, ws := state.TestUserWorkspace(t, store)
	jobs := state.TestOcrJobs(t, store, ws.ID, 2)

	// One draft without a job id, one pointing outside the reservation.
	extractor := &mock.Extractor{}
	extractor.SetDraftFn(func(j *structs.OcrJob) *structs.LabReportDraft {
		if j.ID == jobs[0].ID {
			return mock.Draft(0)
		}
		return mock.Draft(99999)
	})
	o, recorder := testOrchestrator(t, store, extractor, 5)

	delay, err := o.RunIteration(context.Background())
	must.NoError(t, err)
	must.Eq(t, testImmediateDelay, delay)

	stats := o.Stats()
	must.Eq(t, 0, stats.Last.Processed)
	must.Eq(t, 2, stats.Last.Failed)
	must.Len(t, 0, recorder.all())

	queueStats, err := store.OcrJobStats(context.Background())
	must.NoError(t, err)
	must.Eq(t, int64(2), queueStats.Available)
}

func TestOrchestrator_WorkspaceCascadeSkips(t *testing.T) {
	ci.Parallel(t)

	store := state.TestStateStore(t)
	_, ws := state.TestUserWorkspace(t, store)
	state.TestOcrJobs(t, store, ws.ID, 2)

	// Deleting the workspace mid-extraction cascades both job rows away.
	extractor := &mock.Extractor{}
	deleted := false
	extractor.SetDraftFn(func(j *structs.OcrJob) *structs.LabReportDraft {
		if !deleted {
			deleted = true
			must.NoError(t, store.DeleteWorkspace(context.Background(), ws.ID))
		}
		return mock.Draft(j.ID)
	})
	o, recorder := testOrchestrator(t, store, extractor, 5)

	delay, err := o.RunIteration(context.Background())
	must.NoError(t, err)
	must.Eq(t, testLongDelay, delay)

	stats := o.Stats()
	must.Eq(t, 0, stats.Last.Processed)
	must.Eq(t, 2, stats.Last.Skipped)
	must.Len(t, 0, recorder.all())
}

func TestOrchestrator_ConcurrentEntryShortCircuits(t *testing.T) {
	ci.Parallel(t)

	store := state.TestStateStore(t)
	_, ws := state.TestUserWorkspace(t, store)
	state.TestOcrJobs(t, store, ws.ID, 3)

	extractor := &mock.Extractor{}
	o, _ := testOrchestrator(t, store, extractor, 5)

	// Hold the iteration lock as a running iteration would.
	o.iterMu.Lock()
	delay, err := o.RunIteration(context.Background())
	o.iterMu.Unlock()

	must.NoError(t, err)
	must.Eq(t, testLongDelay, delay)
	must.Len(t, 0, extractor.Batches())

	stats, err := store.OcrJobStats(context.Background())
	must.NoError(t, err)
	must.Eq(t, int64(3), stats.Available, must.Sprint("short-circuit entries must not reserve"))
}

func TestOrchestrator_ReserveErrorAbsorbed(t *testing.T) {
	ci.Parallel(t)

	store := state.TestStateStore(t)
	_, ws := state.TestUserWorkspace(t, store)
	state.TestOcrJobs(t, store, ws.ID, 1)
	must.NoError(t, store.Close())

	extractor := &mock.Extractor{}
	o, _ := testOrchestrator(t, store, extractor, 5)

	// The iteration never raises; a dead store becomes a retry delay.
	delay, err := o.RunIteration(context.Background())
	must.NoError(t, err)
	must.Eq(t, testErrorDelay, delay)
	must.Len(t, 0, extractor.Batches())
}

func TestOrchestrator_StatsAccumulate(t *testing.T) {
	ci.Parallel(t)

	store := state.TestStateStore(t)
	_, ws := state.TestUserWorkspace(t, store)
	state.TestOcrJobs(t, store, ws.ID, 3)

	extractor := &mock.Extractor{}
	o, _ := testOrchestrator(t, store, extractor, 2)

	// First run commits two, second the leftover one.
	_, err := o.RunIteration(context.Background())
	must.NoError(t, err)
	_, err = o.RunIteration(context.Background())
	must.NoError(t, err)

	stats := o.Stats()
	must.Eq(t, uint64(2), stats.Iterations)
	must.Eq(t, 3, stats.Total.Processed)
	must.Eq(t, 3, stats.Total.Reserved)
	must.Eq(t, 1, stats.Last.Processed)
}
