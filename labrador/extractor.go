// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package labrador

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	cleanhttp "github.com/hashicorp/go-cleanhttp"
	hclog "github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"
	"golang.org/x/time/rate"
	"oss.indeed.com/go/libtime"

	"github.com/hashicorp/labrador/labrador/structs"
)

// Extractor turns a batch of reserved OCR jobs into lab report drafts. The
// returned list is keyed by OcrJobID; its length and order carry no meaning.
// An error is returned only when no list could be produced at all, in which
// case the whole batch counts as failed.
type Extractor interface {
	Extract(ctx context.Context, jobs []*structs.OcrJob) ([]*structs.LabReportDraft, error)
}

const (
	// maxTimeoutExtract is a fail-safe on the HTTP client so a wedged
	// upstream cannot pin goroutines past any per-call deadline.
	maxTimeoutExtract = 10 * time.Minute

	// maxErrorBody bounds how much of an upstream error response is kept
	// for logs.
	maxErrorBody = 3 * 1024
)

// ExtractorConfig configures the LLM-backed extractor.
type ExtractorConfig struct {
	// URL is an OpenAI-compatible chat completions endpoint.
	URL string

	// APIKey is sent as a bearer credential.
	APIKey string

	// Model names the model in each request.
	Model string

	// Timeout bounds one extraction round trip.
	Timeout time.Duration

	// RequestsPerSecond paces calls to the upstream. Zero disables
	// pacing.
	RequestsPerSecond float64

	Logger hclog.Logger
}

// NewExtractor creates the production Extractor.
func NewExtractor(cfg ExtractorConfig) (Extractor, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("extractor url must be set")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("extractor model must be set")
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("extractor timeout must be positive")
	}

	httpClient := cleanhttp.DefaultPooledClient()
	httpClient.Timeout = maxTimeoutExtract

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &llmExtractor{
		log:        cfg.Logger.Named("extractor"),
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		timeout:    cfg.Timeout,
		limiter:    limiter,
		httpClient: httpClient,
		clock:      libtime.SystemClock(),
	}, nil
}

type llmExtractor struct {
	log        hclog.Logger
	url        string
	apiKey     string
	model      string
	timeout    time.Duration
	limiter    *rate.Limiter
	httpClient *http.Client
	clock      libtime.Clock
}

// chat completions wire types, trimmed to the fields in use.
type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat *chatFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// wireDraft is one draft as the model emits it. Timestamps arrive as
// strings in a handful of formats; unparseable or absent values default to
// commit time downstream.
type wireDraft struct {
	OcrJobID   int64                         `json:"ocrJobId"`
	Patient    string                        `json:"patient"`
	ReportTime string                        `json:"reportTime"`
	Doctor     *string                       `json:"doctor"`
	Hospital   *string                       `json:"hospital"`
	Items      []*structs.LabReportItemDraft `json:"items"`
}

func (e *llmExtractor) Extract(ctx context.Context, jobs []*structs.OcrJob) ([]*structs.LabReportDraft, error) {
	defer metrics.MeasureSince([]string{"labrador", "extractor", "extract"}, time.Now())

	if len(jobs) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("extractor rate limit wait: %w", err)
		}
	}

	body, err := json.Marshal(&chatRequest{
		Model: e.model,
		Messages: []chatMessage{
			{Role: "system", Content: extractSystemPrompt},
			{Role: "user", Content: buildBatchPayload(jobs)},
		},
		ResponseFormat: &chatFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode extraction request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build extraction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	start := e.clock.Now()
	resp, err := e.httpClient.Do(req)
	if err != nil {
		metrics.IncrCounter([]string{"labrador", "extractor", "transport_error"}, 1)
		return nil, fmt.Errorf("extraction request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.IncrCounter([]string{"labrador", "extractor", "upstream_error"}, 1)
		return nil, fmt.Errorf("extraction upstream returned %d: %s",
			resp.StatusCode, limitRead(resp.Body))
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, fmt.Errorf("failed to decode extraction response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return nil, fmt.Errorf("extraction response carried no choices")
	}

	drafts, err := e.decodeDrafts(chat.Choices[0].Message.Content)
	if err != nil {
		metrics.IncrCounter([]string{"labrador", "extractor", "malformed_content"}, 1)
		return nil, err
	}
	e.log.Debug("extraction round trip complete", "jobs", len(jobs),
		"drafts", len(drafts), "elapsed", e.clock.Since(start))
	return drafts, nil
}

// decodeDrafts parses the model's JSON into accepted drafts. Content that is
// not JSON at all fails the batch; entries that fail schema validation are
// dropped and logged, counting as failed extractions for their jobs only.
func (e *llmExtractor) decodeDrafts(content string) ([]*structs.LabReportDraft, error) {
	var wire []*wireDraft
	if err := json.Unmarshal([]byte(content), &wire); err != nil {
		// Some models wrap the array in an envelope object.
		var envelope struct {
			Reports []*wireDraft `json:"reports"`
		}
		if err := json.Unmarshal([]byte(content), &envelope); err != nil {
			return nil, fmt.Errorf("extraction content is not valid JSON: %w", err)
		}
		wire = envelope.Reports
	}

	drafts := make([]*structs.LabReportDraft, 0, len(wire))
	for _, w := range wire {
		if w == nil {
			continue
		}
		draft := &structs.LabReportDraft{
			OcrJobID:   w.OcrJobID,
			Patient:    w.Patient,
			ReportTime: parseReportTime(w.ReportTime),
			Doctor:     w.Doctor,
			Hospital:   w.Hospital,
			Items:      w.Items,
		}
		if err := draft.Validate(); err != nil {
			metrics.IncrCounter([]string{"labrador", "extractor", "draft_dropped"}, 1)
			e.log.Warn("dropping invalid draft", "ocr_job_id", w.OcrJobID, "error", err)
			continue
		}
		drafts = append(drafts, draft)
	}
	return drafts, nil
}

// parseReportTime accepts the timestamp shapes models actually produce. A
// zero return defers to commit time.
func parseReportTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

const extractSystemPrompt = `You extract structured lab reports from OCR text.
Reply with a JSON object {"reports": [...]} where each element is
{"ocrJobId": number, "patient": string, "reportTime": string, "doctor": string|null,
"hospital": string|null, "items": [{"itemName": string, "result": string,
"unit": string|null, "referenceValue": string|null}]}.
Carry each input's ocrJobId through unchanged. Omit a report entirely when the
text is not a lab report; never invent measurements.`

// buildBatchPayload renders one user message carrying every job in the
// batch, each tagged with the id the model must echo back.
func buildBatchPayload(jobs []*structs.OcrJob) string {
	var b strings.Builder
	b.WriteString("Extract every lab report below.\n")
	for _, job := range jobs {
		b.WriteString("\n--- ocrJobId: ")
		b.WriteString(strconv.FormatInt(job.ID, 10))
		b.WriteString(" ---\n")
		b.WriteString(job.OcrPrimitive)
		b.WriteString("\n")
	}
	return b.String()
}

func limitRead(r io.Reader) string {
	b := make([]byte, 0, maxErrorBody)
	output := bytes.NewBuffer(b)
	limited := io.LimitReader(r, maxErrorBody)
	if _, err := io.Copy(output, limited); err != nil {
		return err.Error()
	}
	return output.String()
}
