// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package structs

import (
	"fmt"
	"regexp"
	"time"

	multierror "github.com/hashicorp/go-multierror"
)

const (
	// MaxOcrBatchSize bounds both batch upload and batch delete of OCR
	// jobs. Requests above the cap are rejected whole.
	MaxOcrBatchSize = 100

	// MaxPageSize bounds lab report pagination and search page sizes.
	MaxPageSize = 100

	// DefaultPageSize is applied when a paged request does not name one.
	DefaultPageSize = 20
)

const (
	MinUsernameLength = 3
	MaxUsernameLength = 50
	MinPasswordLength = 6
	MaxPasswordLength = 100

	MaxPatientLength       = 200
	MaxItemNameLength      = 200
	MaxItemResultLength    = 500
	MaxItemUnitLength      = 50
	MaxItemReferenceLength = 200
)

// FilterAll is the sentinel accepted by search filters to select everything
// in scope instead of an exact-match set.
const FilterAll = "all"

var validUsername = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// User is an account that owns workspaces. The password hash never leaves
// the process.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ValidateCredentials checks a username/password pair before any store or
// hashing work happens. Both login and first-use auto-creation run through
// it.
func ValidateCredentials(username, password string) error {
	var mErr multierror.Error

	if n := len(username); n < MinUsernameLength || n > MaxUsernameLength {
		mErr.Errors = append(mErr.Errors, fmt.Errorf(
			"username must be %d-%d characters", MinUsernameLength, MaxUsernameLength))
	} else if !validUsername.MatchString(username) {
		mErr.Errors = append(mErr.Errors,
			fmt.Errorf("username may only contain letters, digits and underscore"))
	}

	if n := len(password); n < MinPasswordLength || n > MaxPasswordLength {
		mErr.Errors = append(mErr.Errors, fmt.Errorf(
			"password must be %d-%d characters", MinPasswordLength, MaxPasswordLength))
	}

	if err := mErr.ErrorOrNil(); err != nil {
		return NewValidationError("%s", err.Error())
	}
	return nil
}

// Workspace groups a user's OCR jobs and lab reports. Names are unique per
// owner; deleting a workspace cascades to everything it owns.
type Workspace struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	OwnerID   int64     `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
}

func (w *Workspace) Validate() error {
	if len(w.Name) == 0 || len(w.Name) > MaxUsernameLength {
		return NewValidationError("workspace name must be 1-%d characters", MaxUsernameLength)
	}
	return nil
}

// OcrJob is one unit of extraction work. A nil ReservedAt means the job is
// available to the pipeline and visible to clients; a set ReservedAt means
// an extraction attempt is in flight and the job is hidden from listings.
// There is no update path: a job is created, then either committed into a
// lab report, restored, or hard-deleted by the client.
type OcrJob struct {
	ID           int64      `json:"id"`
	WorkspaceID  int64      `json:"workspaceId"`
	ReportImage  string     `json:"reportImage"`
	OcrPrimitive string     `json:"ocrPrimitive"`
	ReservedAt   *time.Time `json:"reservedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// Available returns whether the pipeline may reserve this job.
func (j *OcrJob) Available() bool {
	return j.ReservedAt == nil
}

// OcrUpload is one element of a client batch upload.
type OcrUpload struct {
	ReportImage  string `json:"reportImage"`
	OcrPrimitive string `json:"ocrPrimitive"`
}

func (u *OcrUpload) Validate() error {
	if u.ReportImage == "" {
		return NewValidationError("reportImage must not be empty")
	}
	if u.OcrPrimitive == "" {
		return NewValidationError("ocrPrimitive must not be empty")
	}
	return nil
}

// OcrJobStats counts jobs by reservation state.
type OcrJobStats struct {
	Available int64 `json:"available"`
	InFlight  int64 `json:"inFlight"`
}

// LabReport is a committed extraction result with its ordered items.
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

// LabReportItem is a single measurement row. Items exist only inside their
// parent report.
type LabReportItem struct {
	ID             int64   `json:"id"`
	ReportID       int64   `json:"reportId"`
	ItemName       string  `json:"itemName"`
	Result         string  `json:"result"`
	Unit           *string `json:"unit"`
	ReferenceValue *string `json:"referenceValue"`
}

func (i *LabReportItem) Validate() error {
	return validateItemFields(i.ItemName, i.Result, i.Unit, i.ReferenceValue)
}

func validateItemFields(name, result string, unit, ref *string) error {
	var mErr multierror.Error

	if n := len(name); n < 1 || n > MaxItemNameLength {
		mErr.Errors = append(mErr.Errors,
			fmt.Errorf("itemName must be 1-%d characters", MaxItemNameLength))
	}
	if n := len(result); n < 1 || n > MaxItemResultLength {
		mErr.Errors = append(mErr.Errors,
			fmt.Errorf("result must be 1-%d characters", MaxItemResultLength))
	}
	if unit != nil && len(*unit) > MaxItemUnitLength {
		mErr.Errors = append(mErr.Errors,
			fmt.Errorf("unit must be at most %d characters", MaxItemUnitLength))
	}
	if ref != nil && len(*ref) > MaxItemReferenceLength {
		mErr.Errors = append(mErr.Errors,
			fmt.Errorf("referenceValue must be at most %d characters", MaxItemReferenceLength))
	}

	if err := mErr.ErrorOrNil(); err != nil {
		return NewValidationError("%s", err.Error())
	}
	return nil
}

// LabReportItemUpdate is a partial update for one report item. Nil fields
// are left untouched; at least one must be present.
type LabReportItemUpdate struct {
	ItemName       *string `json:"itemName"`
	Result         *string `json:"result"`
	Unit           *string `json:"unit"`
	ReferenceValue *string `json:"referenceValue"`
}

func (u *LabReportItemUpdate) Empty() bool {
	return u.ItemName == nil && u.Result == nil && u.Unit == nil && u.ReferenceValue == nil
}

func (u *LabReportItemUpdate) Validate() error {
	if u.Empty() {
		return NewValidationError("at least one field must be provided")
	}

	var mErr multierror.Error
	if u.ItemName != nil {
		if n := len(*u.ItemName); n < 1 || n > MaxItemNameLength {
			mErr.Errors = append(mErr.Errors,
				fmt.Errorf("itemName must be 1-%d characters", MaxItemNameLength))
		}
	}
	if u.Result != nil {
		if n := len(*u.Result); n < 1 || n > MaxItemResultLength {
			mErr.Errors = append(mErr.Errors,
				fmt.Errorf("result must be 1-%d characters", MaxItemResultLength))
		}
	}
	if u.Unit != nil && len(*u.Unit) > MaxItemUnitLength {
		mErr.Errors = append(mErr.Errors,
			fmt.Errorf("unit must be at most %d characters", MaxItemUnitLength))
	}
	if u.ReferenceValue != nil && len(*u.ReferenceValue) > MaxItemReferenceLength {
		mErr.Errors = append(mErr.Errors,
			fmt.Errorf("referenceValue must be at most %d characters", MaxItemReferenceLength))
	}

	if err := mErr.ErrorOrNil(); err != nil {
		return NewValidationError("%s", err.Error())
	}
	return nil
}

// LabReportDraft is the extractor's candidate report for one OCR job. It
// carries the originating job id so the orchestrator can reconcile drafts
// against the reservation; workspace and image come from the job at commit
// time.
type LabReportDraft struct {
	OcrJobID   int64                 `json:"ocrJobId"`
	Patient    string                `json:"patient"`
	ReportTime time.Time             `json:"reportTime"`
	Doctor     *string               `json:"doctor"`
	Hospital   *string               `json:"hospital"`
	Items      []*LabReportItemDraft `json:"items"`
}

// LabReportItemDraft is a draft measurement before commit assigns ids.
type LabReportItemDraft struct {
	ItemName       string  `json:"itemName"`
	Result         string  `json:"result"`
	Unit           *string `json:"unit"`
	ReferenceValue *string `json:"referenceValue"`
}

// Validate applies the acceptance rules for extractor output. An invalid
// draft is dropped and its job counts as a failed extraction; it never
// aborts the batch.
func (d *LabReportDraft) Validate() error {
	if d.OcrJobID <= 0 {
		return NewValidationError("draft missing ocrJobId")
	}
	if len(d.Patient) == 0 || len(d.Patient) > MaxPatientLength {
		return NewValidationError("patient must be 1-%d characters", MaxPatientLength)
	}
	if len(d.Items) == 0 {
		return NewValidationError("draft must contain at least one item")
	}
	for _, item := range d.Items {
		if err := validateItemFields(item.ItemName, item.Result, item.Unit, item.ReferenceValue); err != nil {
			return err
		}
	}
	return nil
}

// LabReportSearch is a search over committed reports. Patients accepts the
// "all" sentinel. ItemNames controls the items collection on results: nil
// or empty omits items entirely, ["all"] includes every item, anything
// else is an exact-match name set.
type LabReportSearch struct {
	WorkspaceID *int64     `json:"workspaceId"`
	Patients    []string   `json:"patients"`
	ItemNames   []string   `json:"itemNames"`
	From        *time.Time `json:"from"`
	To          *time.Time `json:"to"`
	Page        int        `json:"page"`
	PageSize    int        `json:"pageSize"`
}

func (s *LabReportSearch) Validate() error {
	if len(s.Patients) == 0 {
		return NewValidationError("patients must not be empty; use [%q] to match everything", FilterAll)
	}
	if s.Page < 1 {
		return NewValidationError("page must be >= 1")
	}
	if s.PageSize < 1 || s.PageSize > MaxPageSize {
		return NewValidationError("pageSize must be 1-%d", MaxPageSize)
	}
	if s.From != nil && s.To != nil && s.To.Before(*s.From) {
		return NewValidationError("to must not precede from")
	}
	return nil
}

// AllPatients reports whether the patient filter is the "all" sentinel.
func (s *LabReportSearch) AllPatients() bool {
	for _, p := range s.Patients {
		if p == FilterAll {
			return true
		}
	}
	return false
}

// WantItems reports whether results should carry their items collection.
func (s *LabReportSearch) WantItems() bool {
	return len(s.ItemNames) > 0
}

// AllItems reports whether the item filter is the "all" sentinel.
func (s *LabReportSearch) AllItems() bool {
	for _, n := range s.ItemNames {
		if n == FilterAll {
			return true
		}
	}
	return false
}

// Pagination describes one page of a larger result set.
type Pagination struct {
	CurrentPage int  `json:"currentPage"`
	PageSize    int  `json:"pageSize"`
	TotalCount  int  `json:"totalCount"`
	TotalPages  int  `json:"totalPages"`
	HasNext     bool `json:"hasNext"`
	HasPrev     bool `json:"hasPrev"`
}

// NewPagination derives page metadata from a total row count.
func NewPagination(page, pageSize, total int) *Pagination {
	pages := total / pageSize
	if total%pageSize != 0 {
		pages++
	}
	return &Pagination{
		CurrentPage: page,
		PageSize:    pageSize,
		TotalCount:  total,
		TotalPages:  pages,
		HasNext:     page < pages,
		HasPrev:     page > 1 && total > 0,
	}
}

// ReportCreatedEvent is pushed to every live session of the uploading user
// once a lab report commit lands. Timestamps on the wire are Unix
// milliseconds.
type ReportCreatedEvent struct {
	LabReportID int64 `json:"labReportId"`
	OcrDataID   int64 `json:"ocrDataId"`
	Timestamp   int64 `json:"timestamp"`
}

// BatchResult tallies one orchestrator iteration. Reserved is the size of
// the reservation; the other three partition it.
type BatchResult struct {
	Reserved  int
	Processed int
	Failed    int
	Skipped   int
}

func (r *BatchResult) String() string {
	return fmt.Sprintf("reserved=%d processed=%d failed=%d skipped=%d",
		r.Reserved, r.Processed, r.Failed, r.Skipped)
}
