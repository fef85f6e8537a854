// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package labrador

import (
	"context"
	"time"

	"github.com/hashicorp/labrador/helper/pointer"
	"github.com/hashicorp/labrador/labrador/structs"
)

// staticExtractor fabricates one plausible draft per job without calling
// any upstream. It backs dev mode so the whole pipeline can run against a
// laptop with no model endpoint configured.
type staticExtractor struct{}

// NewStaticExtractor returns an Extractor that emits a canned draft for
// every job it is handed.
func NewStaticExtractor() Extractor {
	return &staticExtractor{}
}

func (s *staticExtractor) Extract(ctx context.Context, jobs []*structs.OcrJob) ([]*structs.LabReportDraft, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	drafts := make([]*structs.LabReportDraft, 0, len(jobs))
	for _, job := range jobs {
		drafts = append(drafts, &structs.LabReportDraft{
			OcrJobID:   job.ID,
			Patient:    "Dev Patient",
			ReportTime: time.Now().UTC().Truncate(time.Second),
			Doctor:     pointer.Of("Dev Doctor"),
			Hospital:   pointer.Of("Dev Hospital"),
			Items: []*structs.LabReportItemDraft{
				{
					ItemName:       "Hemoglobin",
					Result:         "13.5",
					Unit:           pointer.Of("g/dL"),
					ReferenceValue: pointer.Of("12.0-16.0"),
				},
				{
					ItemName:       "White Blood Cell Count",
					Result:         "6.2",
					Unit:           pointer.Of("10^9/L"),
					ReferenceValue: pointer.Of("4.0-10.0"),
				},
			},
		})
	}
	return drafts, nil
}
