// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Stream is one live push session. Frames arrive on the channel returned
// by Frames until the transport dies or Close is called; Err reports why
// the channel closed, if anything went wrong.
type Stream struct {
	conn      *websocket.Conn
	userID    int64
	sessionID string

	frames chan *Frame

	// writeMu serializes outbound frames; the transport allows one writer.
	writeMu sync.Mutex

	stopCh    chan struct{}
	closeOnce sync.Once

	errMu sync.Mutex
	err   error
}

// Stream dials the agent's push endpoint and authenticates with the
// client's token. The agent always upgrades before checking the token, so
// a bad token surfaces as an auth_failure frame and Stream returns the
// rejection as an error.
func (c *Client) Stream(ctx context.Context) (*Stream, error) {
	addr := c.wsAddress() + "/ws?token=" + url.QueryEscape(c.config.Token)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, addr, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial push endpoint: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to dial push endpoint: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	var first Frame
	if err := conn.ReadJSON(&first); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to read handshake frame: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	if first.Type != FrameAuthSuccess {
		_ = conn.Close()
		return nil, fmt.Errorf("session refused: %s", first.Message)
	}

	s := &Stream{
		conn:      conn,
		userID:    first.UserID,
		sessionID: first.SessionID,
		frames:    make(chan *Frame, 8),
		stopCh:    make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// SessionID identifies this session on the agent.
func (s *Stream) SessionID() string { return s.sessionID }

// UserID is the authenticated user the session belongs to.
func (s *Stream) UserID() int64 { return s.userID }

// Frames is the inbound frame channel. It closes when the session ends.
func (s *Stream) Frames() <-chan *Frame { return s.frames }

// Err reports what ended the session. Nil until Frames closes, and nil
// after a clean shutdown.
func (s *Stream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Ping asks the agent for a pong frame.
func (s *Stream) Ping() error {
	return s.sendFrame(&Frame{Type: FramePing})
}

// Echo asks the agent to reflect data back in an echo_response frame.
func (s *Stream) Echo(data json.RawMessage) error {
	return s.sendFrame(&Frame{Type: FrameEcho, Data: data})
}

// Close tears the session down. Safe to call more than once.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopCh)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

func (s *Stream) sendFrame(frame *Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop pumps inbound frames until the transport dies. The agent
// probes with control pings; the transport answers those on its own
// during reads.
func (s *Stream) readLoop() {
	defer close(s.frames)

	for {
		var frame Frame
		if err := s.conn.ReadJSON(&frame); err != nil {
			select {
			case <-s.stopCh:
			default:
				if !websocket.IsCloseError(err,
					websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.errMu.Lock()
					s.err = err
					s.errMu.Unlock()
				}
			}
			return
		}

		select {
		case s.frames <- &frame:
		case <-s.stopCh:
			return
		}
	}
}
