// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package labrador contains the OCR extraction pipeline: the state-backed
// reservation queue, the LLM extractor client, the batch orchestrator, the
// adaptive scheduler driving it, and the notification hub that pushes
// report-ready events to connected users.
package labrador

import (
	"fmt"
	"time"

	hclog "github.com/hashicorp/go-hclog"
)

// Config parameterizes the pipeline server. Delays follow the adaptive
// scheduler contract: LongDelay when the queue is drained and healthy,
// ImmediateDelay when more work is likely pending, ErrorRetryDelay after a
// task failure.
type Config struct {
	// DBPath is the SQLite database location, or state.InMemory.
	DBPath string

	// BatchSize is how many jobs one orchestrator iteration reserves.
	BatchSize int

	// LongDelay is the scheduler sleep once the queue drains.
	LongDelay time.Duration

	// ImmediateDelay re-enters the pipeline while work remains or a job
	// failed recoverably.
	ImmediateDelay time.Duration

	// ErrorRetryDelay applies after an orchestrator-level failure.
	ErrorRetryDelay time.Duration

	// AITimeout bounds one extractor round trip.
	AITimeout time.Duration

	// AIURL is the OpenAI-compatible chat completions endpoint.
	AIURL string

	// AIAPIKey authenticates against AIURL.
	AIAPIKey string

	// AIModel names the model in extraction requests.
	AIModel string

	// AIRequestsPerSecond paces extractor calls. Zero disables pacing.
	AIRequestsPerSecond float64

	// HeartbeatInterval is the hub probe period. Sessions silent for two
	// intervals are closed.
	HeartbeatInterval time.Duration

	// SecretKey signs bearer tokens.
	SecretKey string

	// TokenTTL bounds minted token lifetime.
	TokenTTL time.Duration

	Logger hclog.Logger
}

// DefaultConfig returns the documented defaults. SecretKey and the AI
// endpoint settings have no safe defaults and stay empty.
func DefaultConfig() *Config {
	return &Config{
		DBPath:            "labrador.db",
		BatchSize:         5,
		LongDelay:         30 * time.Second,
		ImmediateDelay:    100 * time.Millisecond,
		ErrorRetryDelay:   5 * time.Second,
		AITimeout:         60 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		TokenTTL:          24 * time.Hour,
	}
}

// Validate checks the invariants the pipeline depends on.
func (c *Config) Validate() error {
	if c.BatchSize < 0 {
		return fmt.Errorf("batch size must not be negative")
	}
	if c.LongDelay < 0 || c.ImmediateDelay < 0 || c.ErrorRetryDelay < 0 {
		return fmt.Errorf("delays must not be negative")
	}
	if c.AITimeout <= 0 {
		return fmt.Errorf("ai timeout must be positive")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive")
	}
	if c.SecretKey == "" {
		return fmt.Errorf("secret key must be set")
	}
	return nil
}
