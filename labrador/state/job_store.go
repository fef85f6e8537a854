// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	metrics "github.com/hashicorp/go-metrics"

	"github.com/hashicorp/labrador/labrador/structs"
)

// reserveAttempts bounds the select-then-mark retry loop before the caller
// sees ErrReserveContention.
const reserveAttempts = 3

// InsertOcrJobBatch atomically inserts a batch of OCR uploads into a
// workspace. Any invalid element rejects the whole batch. Ownership of the
// workspace is checked by the caller.
func (s *StateStore) InsertOcrJobBatch(ctx context.Context, workspaceID int64, uploads []*structs.OcrUpload) ([]*structs.OcrJob, error) {
	defer metrics.MeasureSince([]string{"labrador", "state", "insert_ocr_batch"}, time.Now())

	if len(uploads) == 0 {
		return nil, structs.NewValidationError("ocrDataArray must not be empty")
	}
	if len(uploads) > structs.MaxOcrBatchSize {
		return nil, structs.NewValidationError("batch exceeds maximum of %d", structs.MaxOcrBatchSize)
	}
	for i, up := range uploads {
		if err := up.Validate(); err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
	}

	if _, err := s.WorkspaceByID(ctx, workspaceID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	jobs := make([]*structs.OcrJob, 0, len(uploads))

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO ocr_data (workspace_id, report_image, ocr_primitive, created_at)
			 VALUES (?, ?, ?, ?)`)
		if err != nil {
			return structs.NewInternalError(err)
		}
		defer stmt.Close()

		for _, up := range uploads {
			res, err := stmt.ExecContext(ctx, workspaceID, up.ReportImage, up.OcrPrimitive, now)
			if err != nil {
				return structs.NewInternalError(err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return structs.NewInternalError(err)
			}
			jobs = append(jobs, &structs.OcrJob{
				ID:           id,
				WorkspaceID:  workspaceID,
				ReportImage:  up.ReportImage,
				OcrPrimitive: up.OcrPrimitive,
				CreatedAt:    now,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// ReserveOcrJobs atomically takes up to n available jobs in insertion order
// and stamps them reserved. Two concurrent calls never return overlapping
// jobs. When the mark count disagrees with the selection the transaction
// rolls back and the reservation is retried a bounded number of times
// before surfacing ErrReserveContention.
func (s *StateStore) ReserveOcrJobs(ctx context.Context, n int) ([]*structs.OcrJob, error) {
	defer metrics.MeasureSince([]string{"labrador", "state", "reserve_ocr_jobs"}, time.Now())

	if n <= 0 {
		return nil, nil
	}

	for attempt := 0; attempt < reserveAttempts; attempt++ {
		jobs, err := s.reserveOnce(ctx, n)
		if err == nil {
			return jobs, nil
		}
		if !errors.Is(err, structs.ErrReserveContention) {
			return nil, err
		}
		s.logger.Warn("reservation contention, retrying", "attempt", attempt+1)
		metrics.IncrCounter([]string{"labrador", "state", "reserve_contention"}, 1)
	}
	return nil, structs.ErrReserveContention
}

func (s *StateStore) reserveOnce(ctx context.Context, n int) ([]*structs.OcrJob, error) {
	var jobs []*structs.OcrJob
	now := time.Now().UTC()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id, workspace_id, report_image, ocr_primitive, created_at
			 FROM ocr_data WHERE reserved_at IS NULL
			 ORDER BY created_at, id LIMIT ?`, n)
		if err != nil {
			return structs.NewInternalError(err)
		}

		jobs = jobs[:0]
		for rows.Next() {
			var job structs.OcrJob
			if err := rows.Scan(&job.ID, &job.WorkspaceID, &job.ReportImage,
				&job.OcrPrimitive, &job.CreatedAt); err != nil {
				rows.Close()
				return structs.NewInternalError(err)
			}
			job.ReservedAt = &now
			jobs = append(jobs, &job)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return structs.NewInternalError(err)
		}
		if len(jobs) == 0 {
			return nil
		}

		res, err := tx.ExecContext(ctx, fmt.Sprintf(
			`UPDATE ocr_data SET reserved_at = ? WHERE reserved_at IS NULL AND id IN (%s)`,
			placeholders(len(jobs))),
			append([]interface{}{now}, jobIDs(jobs)...)...)
		if err != nil {
			return structs.NewInternalError(err)
		}
		marked, err := res.RowsAffected()
		if err != nil {
			return structs.NewInternalError(err)
		}

		// A concurrent reserver or hard delete got between the select
		// and the mark.
		if marked != int64(len(jobs)) {
			return structs.ErrReserveContention
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// OcrJobExists returns true while the row is present, reserved or not.
// False means the client hard-deleted it.
func (s *StateStore) OcrJobExists(ctx context.Context, id int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM ocr_data WHERE id = ?`, id).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, structs.NewInternalError(err)
	}
	return true, nil
}

// RestoreOcrJob clears the reservation marker, returning the job to the
// available pool. Idempotent; restoring a missing or unreserved job is a
// no-op.
func (s *StateStore) RestoreOcrJob(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE ocr_data SET reserved_at = NULL WHERE id = ?`, id)
	if err != nil {
		return structs.NewInternalError(err)
	}
	return nil
}

// DeleteOcrJobs hard-deletes jobs regardless of reservation state and
// returns the count removed. This is the client cancellation primitive: a
// reserved job deleted here turns its eventual extraction result into a
// silent drop.
func (s *StateStore) DeleteOcrJobs(ctx context.Context, ids []int64) (int, error) {
	defer metrics.MeasureSince([]string{"labrador", "state", "delete_ocr_jobs"}, time.Now())

	if len(ids) == 0 {
		return 0, nil
	}

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM ocr_data WHERE id IN (%s)`, placeholders(len(ids))), args...)
	if err != nil {
		return 0, structs.NewInternalError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, structs.NewInternalError(err)
	}
	return int(n), nil
}

// OcrJobStats counts available versus in-flight jobs.
func (s *StateStore) OcrJobStats(ctx context.Context) (*structs.OcrJobStats, error) {
	var stats structs.OcrJobStats
	err := s.db.QueryRowContext(ctx,
		`SELECT
		   COUNT(*) FILTER (WHERE reserved_at IS NULL),
		   COUNT(*) FILTER (WHERE reserved_at IS NOT NULL)
		 FROM ocr_data`).Scan(&stats.Available, &stats.InFlight)
	if err != nil {
		return nil, structs.NewInternalError(err)
	}
	return &stats, nil
}

// OcrJobByID fetches one job whether or not it is reserved. Single-row
// lookups are not queue enumeration, so reserved rows stay visible here.
func (s *StateStore) OcrJobByID(ctx context.Context, id int64) (*structs.OcrJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, workspace_id, report_image, ocr_primitive, reserved_at, created_at
		 FROM ocr_data WHERE id = ?`, id)

	job, err := scanOcrJob(row.Scan)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, structs.NewNotFoundError("ocr data %d not found", id)
	case err != nil:
		return nil, structs.NewInternalError(err)
	}
	return job, nil
}

// OcrJobsByWorkspace lists a workspace's pending jobs in insertion order.
// Reserved rows are excluded: a job mid-extraction is the pipeline's, not
// the client's.
func (s *StateStore) OcrJobsByWorkspace(ctx context.Context, workspaceID int64, limit, offset int) ([]*structs.OcrJob, error) {
	if limit <= 0 {
		limit = structs.DefaultPageSize
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, workspace_id, report_image, ocr_primitive, reserved_at, created_at
		 FROM ocr_data WHERE workspace_id = ? AND reserved_at IS NULL
		 ORDER BY created_at, id LIMIT ? OFFSET ?`, workspaceID, limit, offset)
	if err != nil {
		return nil, structs.NewInternalError(err)
	}
	defer rows.Close()

	var out []*structs.OcrJob
	for rows.Next() {
		job, err := scanOcrJob(rows.Scan)
		if err != nil {
			return nil, structs.NewInternalError(err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, structs.NewInternalError(err)
	}
	return out, nil
}

// OcrJobsOwner resolves the owning user of every job id given. Missing ids
// produce NotFound; the caller uses this for batch ownership checks before
// deletes.
func (s *StateStore) OcrJobsOwner(ctx context.Context, ids []int64) (map[int64]int64, error) {
	if len(ids) == 0 {
		return map[int64]int64{}, nil
	}

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT o.id, w.owner_id FROM ocr_data o
		 JOIN workspaces w ON w.id = o.workspace_id
		 WHERE o.id IN (%s)`, placeholders(len(ids))), args...)
	if err != nil {
		return nil, structs.NewInternalError(err)
	}
	defer rows.Close()

	owners := make(map[int64]int64, len(ids))
	for rows.Next() {
		var jobID, ownerID int64
		if err := rows.Scan(&jobID, &ownerID); err != nil {
			return nil, structs.NewInternalError(err)
		}
		owners[jobID] = ownerID
	}
	if err := rows.Err(); err != nil {
		return nil, structs.NewInternalError(err)
	}

	for _, id := range ids {
		if _, ok := owners[id]; !ok {
			return nil, structs.NewNotFoundError("ocr data %d not found", id)
		}
	}
	return owners, nil
}

func scanOcrJob(scan func(dest ...interface{}) error) (*structs.OcrJob, error) {
	var job structs.OcrJob
	var reserved sql.NullTime
	if err := scan(&job.ID, &job.WorkspaceID, &job.ReportImage,
		&job.OcrPrimitive, &reserved, &job.CreatedAt); err != nil {
		return nil, err
	}
	if reserved.Valid {
		t := reserved.Time
		job.ReservedAt = &t
	}
	return &job, nil
}

func jobIDs(jobs []*structs.OcrJob) []interface{} {
	out := make([]interface{}, len(jobs))
	for i, j := range jobs {
		out[i] = j.ID
	}
	return out
}

// placeholders renders "?, ?, ?" for IN clauses.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
