// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package agent

import (
	"context"
	"fmt"
	"testing"
	"time"

	metrics "github.com/hashicorp/go-metrics"

	"github.com/hashicorp/labrador/helper/testlog"
	"github.com/hashicorp/labrador/labrador/structs"
	"github.com/hashicorp/labrador/testutil"
)

// TestAgent encapsulates an Agent wired for testing: dev mode defaults
// with the in-memory store and static extractor, and an HTTP server bound
// to an ephemeral port. The poll delay is long enough that the pipeline
// never consumes queued jobs mid-test; tests exercising extraction
// shorten it through the config callback.
type TestAgent struct {
	T testing.TB

	// Config is the configuration the agent is running with.
	Config *Config

	// Agent is the running agent.
	Agent *Agent

	// Server is the started HTTP server.
	Server *HTTPServer
}

// NewTestAgent starts a fresh agent for one test. cb, when non-nil,
// mutates the config before anything launches. Shutdown is registered
// with t.Cleanup.
func NewTestAgent(t testing.TB, cb func(c *Config)) *TestAgent {
	conf := DevConfig()
	conf.Port = 0
	conf.ProcessorDelay = 5 * time.Minute
	conf.ImmediateDelay = 5 * time.Millisecond
	conf.ErrorRetryDelay = 10 * time.Millisecond
	conf.HeartbeatInterval = time.Second
	if cb != nil {
		cb(conf)
	}

	inm := metrics.NewInmemSink(conf.Telemetry.CollectionInterval, time.Minute)

	agent, err := NewAgent(conf, testlog.HCLogger(t), inm)
	if err != nil {
		t.Fatalf("failed to build test agent: %v", err)
	}

	srv, err := NewHTTPServer(agent, conf)
	if err != nil {
		agent.Shutdown()
		t.Fatalf("failed to start test http server: %v", err)
	}

	a := &TestAgent{
		T:      t,
		Config: conf,
		Agent:  agent,
		Server: srv,
	}
	t.Cleanup(a.Shutdown)

	// Block until the scheduler's first pass has parked on the poll delay
	// so background reservation cannot race test fixtures.
	testutil.WaitForResult(func() (bool, error) {
		status, err := agent.Server().Status(context.Background())
		if err != nil {
			return false, err
		}
		if status.Scheduler.TaskCount == 0 {
			return false, fmt.Errorf("scheduler has not completed an iteration")
		}
		return true, nil
	}, func(err error) {
		t.Fatalf("test agent never became ready: %v", err)
	})
	return a
}

// Shutdown stops the HTTP server first, then the agent underneath it.
// Safe to call more than once.
func (a *TestAgent) Shutdown() {
	a.Server.Shutdown()
	_ = a.Agent.Shutdown()
}

// HTTPAddr is the base URL of the agent's HTTP server.
func (a *TestAgent) HTTPAddr() string {
	return "http://" + a.Server.Addr
}

// testPassword is what every test login authenticates with.
const testPassword = "hunter22-pass"

// login registers (or re-authenticates) username directly against the
// pipeline server and returns the user and a bearer token for it.
func (a *TestAgent) login(t testing.TB, username string) (*structs.User, string) {
	user, token, err := a.Agent.Server().Login(context.Background(), username, testPassword)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	return user, token
}
