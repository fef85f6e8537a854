// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package agent

import (
	"net/http"
)

// StatusRequest handles GET /v1/status with a snapshot of the scheduler,
// orchestrator, hub and queue.
func (s *HTTPServer) StatusRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != http.MethodGet {
		return nil, CodedError(405, ErrInvalidMethod)
	}
	if _, err := s.authenticate(req); err != nil {
		return nil, err
	}
	return s.agent.Server().Status(req.Context())
}

type healthResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// HealthRequest handles GET /v1/agent/health. Health means the store
// answers a ping; an unhealthy agent responds 500 so load balancer checks
// fail closed.
func (s *HTTPServer) HealthRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != http.MethodGet {
		return nil, CodedError(405, ErrInvalidMethod)
	}

	if err := s.agent.Server().Ping(req.Context()); err != nil {
		return nil, CodedError(500, "store unreachable")
	}
	return &healthResponse{OK: true, Message: "ok"}, nil
}
