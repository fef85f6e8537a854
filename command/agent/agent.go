// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package agent

import (
	"fmt"
	"sync"

	metrics "github.com/hashicorp/go-metrics"

	log "github.com/hashicorp/go-hclog"

	"github.com/hashicorp/labrador/labrador"
)

// Agent is the long running daemon wrapping the pipeline server. It owns
// the server lifecycle and exposes it to the HTTP layer.
type Agent struct {
	config *Config

	logger     log.Logger
	httpLogger log.Logger

	// InmemSink powers the /v1/metrics endpoint.
	InmemSink *metrics.InmemSink

	server *labrador.Server

	shutdown     bool
	shutdownCh   chan struct{}
	shutdownLock sync.Mutex
}

// NewAgent builds and starts the pipeline server described by config.
func NewAgent(config *Config, logger log.Logger, inmem *metrics.InmemSink) (*Agent, error) {
	a := &Agent{
		config:     config,
		logger:     logger.Named("agent"),
		httpLogger: logger.Named("http"),
		InmemSink:  inmem,
		shutdownCh: make(chan struct{}),
	}

	if err := a.setupServer(); err != nil {
		return nil, err
	}

	return a, nil
}

func (a *Agent) setupServer() error {
	conf := a.config.PipelineConfig()
	conf.Logger = a.logger

	// Dev mode swaps the model upstream for a canned extractor so the
	// pipeline runs end to end with nothing else configured.
	var extractor labrador.Extractor
	if a.config.DevMode && a.config.AIURL == "" {
		a.logger.Info("dev mode: using static extractor, no AI endpoint configured")
		extractor = labrador.NewStaticExtractor()
	}

	server, err := labrador.NewServer(conf, extractor)
	if err != nil {
		return fmt.Errorf("server setup failed: %w", err)
	}
	a.server = server

	if err := a.server.Start(); err != nil {
		a.server.Shutdown()
		return fmt.Errorf("server start failed: %w", err)
	}
	return nil
}

// Server returns the underlying pipeline server.
func (a *Agent) Server() *labrador.Server {
	return a.server
}

// Shutdown terminates the agent and everything it runs. Safe to call more
// than once.
func (a *Agent) Shutdown() error {
	a.shutdownLock.Lock()
	defer a.shutdownLock.Unlock()

	if a.shutdown {
		return nil
	}

	a.logger.Info("requesting shutdown")
	if a.server != nil {
		if err := a.server.Shutdown(); err != nil {
			a.logger.Error("server shutdown failed", "error", err)
		}
	}

	a.logger.Info("shutdown complete")
	a.shutdown = true
	close(a.shutdownCh)
	return nil
}
