// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package agent

import (
	"encoding/json"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shoenig/test/must"

	"github.com/hashicorp/labrador/ci"
)

// sessionFrame is the superset of every frame shape the push channel
// carries, for decoding in tests.
type sessionFrame struct {
	Type        string          `json:"type"`
	UserID      int64           `json:"userId"`
	SessionID   string          `json:"sessionId"`
	Message     string          `json:"message"`
	LabReportID int64           `json:"labReportId"`
	OcrDataID   int64           `json:"ocrDataId"`
	Timestamp   int64           `json:"timestamp"`
	Data        json.RawMessage `json:"data"`
}

// wsDial opens a push session against the live test server. Upgrades always
// succeed; authentication happens in-band afterwards.
func wsDial(t testing.TB, s *TestAgent, token string) *websocket.Conn {
	wsURL := "ws://" + s.Server.Addr + "/ws?token=" + url.QueryEscape(token)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	must.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t testing.TB, conn *websocket.Conn) sessionFrame {
	must.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var frame sessionFrame
	must.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestHTTP_Session_Handshake(t *testing.T) {
	ci.Parallel(t)
	httpTest(t, nil, func(s *TestAgent) {
		user, token := s.login(t, "session_user")
		conn := wsDial(t, s, token)

		frame := readFrame(t, conn)
		must.Eq(t, "auth_success", frame.Type)
		must.Eq(t, user.ID, frame.UserID)
		must.NotEq(t, "", frame.SessionID)

		// The hub tracks the session under the same id.
		infos := s.Agent.Server().Hub().Sessions(user.ID)
		must.Len(t, 1, infos)
		must.Eq(t, frame.SessionID, infos[0].SessionID)
		must.Eq(t, user.Username, infos[0].Username)
	})
}

func TestHTTP_Session_BadToken(t *testing.T) {
	ci.Parallel(t)
	httpTest(t, nil, func(s *TestAgent) {
		conn := wsDial(t, s, "not-a-real-token")

		frame := readFrame(t, conn)
		must.Eq(t, "auth_failure", frame.Type)
		must.NotEq(t, "", frame.Message)

		// The server hangs up after the rejection.
		must.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		var next sessionFrame
		must.Error(t, conn.ReadJSON(&next))
	})
}

func TestHTTP_Session_PingEcho(t *testing.T) {
	ci.Parallel(t)
	httpTest(t, nil, func(s *TestAgent) {
		_, token := s.login(t, "session_pinger")
		conn := wsDial(t, s, token)
		readFrame(t, conn) // auth_success

		must.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
		frame := readFrame(t, conn)
		must.Eq(t, "pong", frame.Type)
		must.Positive(t, frame.Timestamp)

		must.NoError(t, conn.WriteJSON(map[string]interface{}{
			"type": "echo",
			"data": map[string]string{"hello": "world"},
		}))
		frame = readFrame(t, conn)
		must.Eq(t, "echo_response", frame.Type)
		must.StrContains(t, string(frame.Data), `"hello"`)

		// Garbage earns an error frame but keeps the session alive.
		must.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{nope")))
		frame = readFrame(t, conn)
		must.Eq(t, "error", frame.Type)
		must.Eq(t, "malformed frame", frame.Message)

		// Unknown frame types are dropped without an error in between.
		must.NoError(t, conn.WriteJSON(map[string]string{"type": "mystery"}))
		must.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
		frame = readFrame(t, conn)
		must.Eq(t, "pong", frame.Type)
	})
}

func TestHTTP_Session_ReportNotification(t *testing.T) {
	ci.Parallel(t)
	httpTest(t, nil, func(s *TestAgent) {
		user, token := s.login(t, "session_notified")

		// Every session of the user gets the push.
		first := wsDial(t, s, token)
		second := wsDial(t, s, token)
		readFrame(t, first)
		readFrame(t, second)

		delivered := s.Agent.Server().Hub().NotifyReportCreated(user.ID, 42, 7)
		must.True(t, delivered)

		for _, conn := range []*websocket.Conn{first, second} {
			frame := readFrame(t, conn)
			must.Eq(t, "labReportCreated", frame.Type)
			must.Eq(t, 42, frame.LabReportID)
			must.Eq(t, 7, frame.OcrDataID)
			must.Positive(t, frame.Timestamp)
		}

		// Users without sessions are a miss, not an error.
		must.False(t, s.Agent.Server().Hub().NotifyReportCreated(user.ID+999, 1, 1))
	})
}

func TestHTTP_Session_MethodNotAllowed(t *testing.T) {
	ci.Parallel(t)
	httpTest(t, nil, func(s *TestAgent) {
		resp, err := http.Post(s.HTTPAddr()+"/ws", "application/json", nil)
		must.NoError(t, err)
		defer resp.Body.Close()
		must.Eq(t, http.StatusMethodNotAllowed, resp.StatusCode)

		var env errorEnvelope
		must.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
		must.Eq(t, ErrInvalidMethod, env.Error.Message)
	})
}
