// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package api

import (
	"context"
	"encoding/json"
	"time"
)

// Agent is used to query agent-level endpoints.
type Agent struct {
	client *Client
}

// Agent returns a new handle on the agent.
func (c *Client) Agent() *Agent {
	return &Agent{client: c}
}

// SchedulerStats describes the pipeline timer loop.
type SchedulerStats struct {
	Running      bool          `json:"running"`
	TaskCount    uint64        `json:"taskCount"`
	StartedAt    time.Time     `json:"startedAt"`
	LastRanAt    time.Time     `json:"lastRanAt"`
	TotalRuntime time.Duration `json:"totalRuntime"`
}

// BatchResult tallies one orchestrator iteration.
type BatchResult struct {
	Reserved  int
	Processed int
	Failed    int
	Skipped   int
}

// OrchestratorStats describes batch outcomes since start.
type OrchestratorStats struct {
	Iterations uint64      `json:"iterations"`
	Last       BatchResult `json:"last"`
	Total      BatchResult `json:"total"`
}

// HubStatus summarizes the live push sessions.
type HubStatus struct {
	TotalConnections uint64        `json:"totalConnections"`
	TotalUsers       int           `json:"totalUsers"`
	ActiveSessions   int           `json:"activeSessions"`
	UserSessions     map[int64]int `json:"userSessions"`
}

// OcrJobStats counts queued jobs by reservation state.
type OcrJobStats struct {
	Available int64 `json:"available"`
	InFlight  int64 `json:"inFlight"`
}

// AgentStatus is a point-in-time snapshot of the whole pipeline.
type AgentStatus struct {
	Scheduler    *SchedulerStats    `json:"scheduler"`
	Orchestrator *OrchestratorStats `json:"orchestrator"`
	Hub          *HubStatus         `json:"hub"`
	Queue        *OcrJobStats       `json:"queue"`
}

// Status returns the pipeline snapshot. Requires a token.
func (a *Agent) Status(ctx context.Context) (*AgentStatus, error) {
	var out AgentStatus
	if err := a.client.get(ctx, "/v1/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// HealthResponse is the health check payload.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Health reports whether the agent's store answers. An unhealthy agent
// responds 500, surfaced here as an APIError.
func (a *Agent) Health(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	if err := a.client.get(ctx, "/v1/agent/health", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Metrics returns the agent's in-memory metrics summary as raw JSON.
func (a *Agent) Metrics(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	if err := a.client.get(ctx, "/v1/metrics", &out); err != nil {
		return nil, err
	}
	return out, nil
}
