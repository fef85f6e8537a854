// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package agent

import (
	"net/http"
)

// SessionRequest handles GET /ws. The socket is upgraded first and the
// token authenticated over it, so even rejections arrive as an
// auth_failure frame rather than an HTTP status.
func (s *HTTPServer) SessionRequest(resp http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeError(resp, http.StatusMethodNotAllowed, ErrInvalidMethod)
		return
	}

	token := req.URL.Query().Get("token")

	conn, err := s.wsUpgrader.Upgrade(resp, req, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	if _, err := s.agent.Server().Hub().Accept(req.Context(), conn, token); err != nil {
		// The hub has already sent auth_failure and closed the socket.
		s.logger.Debug("session rejected", "error", err)
	}
}
