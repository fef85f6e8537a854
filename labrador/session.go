// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package labrador

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	hclog "github.com/hashicorp/go-hclog"
)

// Conn is the subset of *websocket.Conn the hub drives. Tests substitute
// in-memory fakes.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Frame types on the push channel.
const (
	frameAuthSuccess   = "auth_success"
	frameAuthFailure   = "auth_failure"
	frameReportCreated = "labReportCreated"
	framePong          = "pong"
	frameEchoResponse  = "echo_response"
	frameError         = "error"

	clientFramePing = "ping"
	clientFrameEcho = "echo"
)

type authSuccessFrame struct {
	Type      string `json:"type"`
	UserID    int64  `json:"userId"`
	SessionID string `json:"sessionId"`
}

type authFailureFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type reportCreatedFrame struct {
	Type        string `json:"type"`
	LabReportID int64  `json:"labReportId"`
	OcrDataID   int64  `json:"ocrDataId"`
	Timestamp   int64  `json:"timestamp"`
}

type pongFrame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

type echoResponseFrame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// clientFrame is what peers send: a type tag plus an optional payload.
type clientFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Session is one live push connection for one user. A user may hold many.
// The hub and the transport co-own it; whichever dies first ends it.
type Session struct {
	id        string
	userID    int64
	username  string
	createdAt time.Time

	conn Conn
	log  hclog.Logger

	// lastActivity is unix nanos of the newest read or pong.
	lastActivity atomic.Int64

	// writeMu serializes writes; the transport allows one writer.
	writeMu sync.Mutex

	closeOnce sync.Once
}

func newSession(id string, userID int64, username string, conn Conn, log hclog.Logger) *Session {
	s := &Session{
		id:        id,
		userID:    userID,
		username:  username,
		createdAt: time.Now(),
		conn:      conn,
		log:       log.With("session_id", id, "user_id", userID),
	}
	s.touch()
	return s
}

// SessionInfo is the read-only view handed to operators.
type SessionInfo struct {
	SessionID    string    `json:"sessionId"`
	UserID       int64     `json:"userId"`
	Username     string    `json:"username"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}

func (s *Session) info() *SessionInfo {
	return &SessionInfo{
		SessionID:    s.id,
		UserID:       s.userID,
		Username:     s.username,
		CreatedAt:    s.createdAt,
		LastActivity: s.LastActivity(),
	}
}

func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// LastActivity is when the peer last proved liveness.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// send marshals v and writes it as one text frame.
func (s *Session) send(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// ping writes a control ping; the peer's pong extends the read deadline.
func (s *Session) ping(deadline time.Time) error {
	return s.conn.WriteControl(websocket.PingMessage, nil, deadline)
}

// close sends a best-effort close frame and tears down the transport.
// Safe to call more than once.
func (s *Session) close(code int, reason string) {
	s.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		if err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
			s.log.Trace("failed to write close frame", "error", err)
		}
		if err := s.conn.Close(); err != nil {
			s.log.Trace("failed to close transport", "error", err)
		}
	})
}
