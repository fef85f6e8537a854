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
	"github.com/hashicorp/go-set/v3"

	"github.com/hashicorp/labrador/labrador/structs"
)

// CommitLabReport turns an accepted draft into a lab report in the same
// transaction that hard-deletes the originating OCR job. If the job row is
// already gone the client cancelled mid-extraction: nothing is written and
// ErrJobCancelled is returned so the orchestrator can count a skip.
func (s *StateStore) CommitLabReport(ctx context.Context, job *structs.OcrJob, draft *structs.LabReportDraft) (*structs.LabReport, error) {
	defer metrics.MeasureSince([]string{"labrador", "state", "commit_lab_report"}, time.Now())

	if err := draft.Validate(); err != nil {
		return nil, err
	}

	reportTime := draft.ReportTime
	if reportTime.IsZero() {
		reportTime = time.Now().UTC()
	}
	now := time.Now().UTC()

	report := &structs.LabReport{
		WorkspaceID: job.WorkspaceID,
		Patient:     draft.Patient,
		ReportTime:  reportTime,
		Doctor:      draft.Doctor,
		Hospital:    draft.Hospital,
		ReportImage: job.ReportImage,
		CreatedAt:   now,
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		// Claim the job first. Zero rows means a concurrent hard
		// delete won; the whole commit unwinds.
		res, err := tx.ExecContext(ctx, `DELETE FROM ocr_data WHERE id = ?`, job.ID)
		if err != nil {
			return structs.NewInternalError(err)
		}
		deleted, err := res.RowsAffected()
		if err != nil {
			return structs.NewInternalError(err)
		}
		if deleted == 0 {
			return structs.ErrJobCancelled
		}

		res, err = tx.ExecContext(ctx,
			`INSERT INTO lab_reports (workspace_id, patient, report_time, doctor, hospital, report_image, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			report.WorkspaceID, report.Patient, report.ReportTime,
			report.Doctor, report.Hospital, report.ReportImage, report.CreatedAt)
		if err != nil {
			return structs.NewInternalError(err)
		}
		reportID, err := res.LastInsertId()
		if err != nil {
			return structs.NewInternalError(err)
		}
		report.ID = reportID

		items, err := insertItems(ctx, tx, reportID, draft.Items)
		if err != nil {
			return err
		}
		report.Items = items
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// CreateLabReport persists a report with its items in one transaction
// without touching the job table. Used for reports that do not originate
// from the pipeline.
func (s *StateStore) CreateLabReport(ctx context.Context, workspaceID int64, draft *structs.LabReportDraft, reportImage string) (*structs.LabReport, error) {
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.WorkspaceByID(ctx, workspaceID); err != nil {
		return nil, err
	}

	reportTime := draft.ReportTime
	if reportTime.IsZero() {
		reportTime = time.Now().UTC()
	}
	now := time.Now().UTC()

	report := &structs.LabReport{
		WorkspaceID: workspaceID,
		Patient:     draft.Patient,
		ReportTime:  reportTime,
		Doctor:      draft.Doctor,
		Hospital:    draft.Hospital,
		ReportImage: reportImage,
		CreatedAt:   now,
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO lab_reports (workspace_id, patient, report_time, doctor, hospital, report_image, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			report.WorkspaceID, report.Patient, report.ReportTime,
			report.Doctor, report.Hospital, report.ReportImage, report.CreatedAt)
		if err != nil {
			return structs.NewInternalError(err)
		}
		reportID, err := res.LastInsertId()
		if err != nil {
			return structs.NewInternalError(err)
		}
		report.ID = reportID

		items, err := insertItems(ctx, tx, reportID, draft.Items)
		if err != nil {
			return err
		}
		report.Items = items
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

func insertItems(ctx context.Context, tx *sql.Tx, reportID int64, drafts []*structs.LabReportItemDraft) ([]*structs.LabReportItem, error) {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO lab_report_items (report_id, item_name, result, unit, reference_value)
		 VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, structs.NewInternalError(err)
	}
	defer stmt.Close()

	items := make([]*structs.LabReportItem, 0, len(drafts))
	for _, d := range drafts {
		res, err := stmt.ExecContext(ctx, reportID, d.ItemName, d.Result, d.Unit, d.ReferenceValue)
		if err != nil {
			return nil, structs.NewInternalError(err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, structs.NewInternalError(err)
		}
		items = append(items, &structs.LabReportItem{
			ID:             id,
			ReportID:       reportID,
			ItemName:       d.ItemName,
			Result:         d.Result,
			Unit:           d.Unit,
			ReferenceValue: d.ReferenceValue,
		})
	}
	return items, nil
}

// LabReportByID fetches one report with all its items.
func (s *StateStore) LabReportByID(ctx context.Context, id int64) (*structs.LabReport, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, workspace_id, patient, report_time, doctor, hospital, report_image, created_at
		 FROM lab_reports WHERE id = ?`, id)

	report, err := scanLabReport(row.Scan)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, structs.NewNotFoundError("lab report %d not found", id)
	case err != nil:
		return nil, structs.NewInternalError(err)
	}

	if err := s.attachItems(ctx, []*structs.LabReport{report}, nil); err != nil {
		return nil, err
	}
	if report.Items == nil {
		report.Items = []*structs.LabReportItem{}
	}
	return report, nil
}

// LabReportsByWorkspace pages through a workspace's reports, newest first,
// items included.
func (s *StateStore) LabReportsByWorkspace(ctx context.Context, workspaceID int64, page, pageSize int) ([]*structs.LabReport, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > structs.MaxPageSize {
		pageSize = structs.DefaultPageSize
	}

	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM lab_reports WHERE workspace_id = ?`, workspaceID).Scan(&total)
	if err != nil {
		return nil, 0, structs.NewInternalError(err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, workspace_id, patient, report_time, doctor, hospital, report_image, created_at
		 FROM lab_reports WHERE workspace_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		workspaceID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, structs.NewInternalError(err)
	}
	reports, err := collectLabReports(rows)
	if err != nil {
		return nil, 0, err
	}

	if err := s.attachItems(ctx, reports, nil); err != nil {
		return nil, 0, err
	}
	return reports, total, nil
}

// SearchLabReports filters reports by patient set, item-name set, report
// time range and workspace, with pagination. The "all" sentinel widens the
// patient or item filter to everything in scope; a nil or empty item filter
// omits the items collection from the results entirely.
func (s *StateStore) SearchLabReports(ctx context.Context, q *structs.LabReportSearch) ([]*structs.LabReport, int, error) {
	defer metrics.MeasureSince([]string{"labrador", "state", "search_lab_reports"}, time.Now())

	if err := q.Validate(); err != nil {
		return nil, 0, err
	}

	where := "1=1"
	var args []interface{}

	if q.WorkspaceID != nil {
		where += " AND workspace_id = ?"
		args = append(args, *q.WorkspaceID)
	}
	if !q.AllPatients() {
		patients := set.From(q.Patients)
		where += fmt.Sprintf(" AND patient IN (%s)", placeholders(patients.Size()))
		for _, p := range patients.Slice() {
			args = append(args, p)
		}
	}
	if q.From != nil {
		where += " AND report_time >= ?"
		args = append(args, q.From.UTC())
	}
	if q.To != nil {
		where += " AND report_time <= ?"
		args = append(args, q.To.UTC())
	}

	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM lab_reports WHERE `+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, structs.NewInternalError(err)
	}

	pagedArgs := append(args, q.PageSize, (q.Page-1)*q.PageSize)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, workspace_id, patient, report_time, doctor, hospital, report_image, created_at
		 FROM lab_reports WHERE `+where+`
		 ORDER BY report_time DESC, id DESC LIMIT ? OFFSET ?`, pagedArgs...)
	if err != nil {
		return nil, 0, structs.NewInternalError(err)
	}
	reports, err := collectLabReports(rows)
	if err != nil {
		return nil, 0, err
	}

	if q.WantItems() {
		var nameFilter *set.Set[string]
		if !q.AllItems() {
			nameFilter = set.From(q.ItemNames)
		}
		if err := s.attachItems(ctx, reports, nameFilter); err != nil {
			return nil, 0, err
		}
	}
	return reports, total, nil
}

// UpdateLabReportItem applies a partial update to one item and returns the
// refreshed row.
func (s *StateStore) UpdateLabReportItem(ctx context.Context, id int64, upd *structs.LabReportItemUpdate) (*structs.LabReportItem, error) {
	if err := upd.Validate(); err != nil {
		return nil, err
	}

	sets := make([]string, 0, 4)
	var args []interface{}
	if upd.ItemName != nil {
		sets = append(sets, "item_name = ?")
		args = append(args, *upd.ItemName)
	}
	if upd.Result != nil {
		sets = append(sets, "result = ?")
		args = append(args, *upd.Result)
	}
	if upd.Unit != nil {
		sets = append(sets, "unit = ?")
		args = append(args, *upd.Unit)
	}
	if upd.ReferenceValue != nil {
		sets = append(sets, "reference_value = ?")
		args = append(args, *upd.ReferenceValue)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`UPDATE lab_report_items SET %s WHERE id = ?`, strings.Join(sets, ", ")), args...)
	if err != nil {
		return nil, structs.NewInternalError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, structs.NewInternalError(err)
	}
	if n == 0 {
		return nil, structs.NewNotFoundError("lab report item %d not found", id)
	}

	return s.LabReportItemByID(ctx, id)
}

// LabReportItemByID fetches one item row.
func (s *StateStore) LabReportItemByID(ctx context.Context, id int64) (*structs.LabReportItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, report_id, item_name, result, unit, reference_value
		 FROM lab_report_items WHERE id = ?`, id)

	item, err := scanLabReportItem(row.Scan)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, structs.NewNotFoundError("lab report item %d not found", id)
	case err != nil:
		return nil, structs.NewInternalError(err)
	}
	return item, nil
}

// LabReportOwner resolves the owning user of a report via its workspace.
func (s *StateStore) LabReportOwner(ctx context.Context, reportID int64) (int64, error) {
	var ownerID int64
	err := s.db.QueryRowContext(ctx,
		`SELECT w.owner_id FROM lab_reports r
		 JOIN workspaces w ON w.id = r.workspace_id
		 WHERE r.id = ?`, reportID).Scan(&ownerID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, structs.NewNotFoundError("lab report %d not found", reportID)
	case err != nil:
		return 0, structs.NewInternalError(err)
	}
	return ownerID, nil
}

// LabReportItemOwner resolves the owning user of an item via its report's
// workspace.
func (s *StateStore) LabReportItemOwner(ctx context.Context, itemID int64) (int64, error) {
	var ownerID int64
	err := s.db.QueryRowContext(ctx,
		`SELECT w.owner_id FROM lab_report_items i
		 JOIN lab_reports r ON r.id = i.report_id
		 JOIN workspaces w ON w.id = r.workspace_id
		 WHERE i.id = ?`, itemID).Scan(&ownerID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, structs.NewNotFoundError("lab report item %d not found", itemID)
	case err != nil:
		return 0, structs.NewInternalError(err)
	}
	return ownerID, nil
}

// attachItems loads items for the given reports in one query, optionally
// restricted to an item-name set, and fills each report's Items slice in
// item id order.
func (s *StateStore) attachItems(ctx context.Context, reports []*structs.LabReport, nameFilter *set.Set[string]) error {
	if len(reports) == 0 {
		return nil
	}

	byID := make(map[int64]*structs.LabReport, len(reports))
	args := make([]interface{}, 0, len(reports))
	for _, r := range reports {
		byID[r.ID] = r
		args = append(args, r.ID)
		r.Items = []*structs.LabReportItem{}
	}

	query := fmt.Sprintf(
		`SELECT id, report_id, item_name, result, unit, reference_value
		 FROM lab_report_items WHERE report_id IN (%s)`, placeholders(len(reports)))
	if nameFilter != nil {
		query += fmt.Sprintf(" AND item_name IN (%s)", placeholders(nameFilter.Size()))
		for _, n := range nameFilter.Slice() {
			args = append(args, n)
		}
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return structs.NewInternalError(err)
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanLabReportItem(rows.Scan)
		if err != nil {
			return structs.NewInternalError(err)
		}
		if r, ok := byID[item.ReportID]; ok {
			r.Items = append(r.Items, item)
		}
	}
	if err := rows.Err(); err != nil {
		return structs.NewInternalError(err)
	}
	return nil
}

func collectLabReports(rows *sql.Rows) ([]*structs.LabReport, error) {
	defer rows.Close()

	var out []*structs.LabReport
	for rows.Next() {
		report, err := scanLabReport(rows.Scan)
		if err != nil {
			return nil, structs.NewInternalError(err)
		}
		out = append(out, report)
	}
	if err := rows.Err(); err != nil {
		return nil, structs.NewInternalError(err)
	}
	return out, nil
}

func scanLabReport(scan func(dest ...interface{}) error) (*structs.LabReport, error) {
	var r structs.LabReport
	var doctor, hospital sql.NullString
	if err := scan(&r.ID, &r.WorkspaceID, &r.Patient, &r.ReportTime,
		&doctor, &hospital, &r.ReportImage, &r.CreatedAt); err != nil {
		return nil, err
	}
	if doctor.Valid {
		r.Doctor = &doctor.String
	}
	if hospital.Valid {
		r.Hospital = &hospital.String
	}
	return &r, nil
}

func scanLabReportItem(scan func(dest ...interface{}) error) (*structs.LabReportItem, error) {
	var it structs.LabReportItem
	var unit, ref sql.NullString
	if err := scan(&it.ID, &it.ReportID, &it.ItemName, &it.Result, &unit, &ref); err != nil {
		return nil, err
	}
	if unit.Valid {
		it.Unit = &unit.String
	}
	if ref.Valid {
		it.ReferenceValue = &ref.String
	}
	return &it, nil
}

