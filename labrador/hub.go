// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package labrador

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	metrics "github.com/hashicorp/go-metrics"

	"github.com/gorilla/websocket"
	hclog "github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-set/v3"
	"github.com/hashicorp/go-uuid"

	"github.com/hashicorp/labrador/helper"
	"github.com/hashicorp/labrador/labrador/auth"
	"github.com/hashicorp/labrador/labrador/structs"
)

// SessionAuthenticator resolves a bearer token to a live user. The server
// implements it on top of the token verifier and the state store so that a
// token for a deleted user is rejected at accept time.
type SessionAuthenticator interface {
	AuthenticateToken(ctx context.Context, token string) (*auth.Identity, error)
}

// HubConfig tunes a Hub.
type HubConfig struct {
	Logger hclog.Logger

	// Auth gates every incoming connection.
	Auth SessionAuthenticator

	// HeartbeatInterval is how often sessions are probed. A session that
	// misses two consecutive probes is closed.
	HeartbeatInterval time.Duration
}

// Hub tracks every live push session, fans report notifications out to all
// sessions of a user, and reaps peers that stop answering probes. One user
// may hold any number of concurrent sessions.
type Hub struct {
	logger hclog.Logger
	auth   SessionAuthenticator

	heartbeatInterval time.Duration

	// mu guards the session tracking state below.
	mu sync.RWMutex

	// byUser indexes live sessions by owning user.
	byUser map[int64]*set.Set[*Session]

	// byID indexes the same sessions by session id.
	byID map[string]*Session

	// accepted counts every session ever admitted.
	accepted uint64

	// stopped refuses new sessions once Shutdown begins.
	stopped bool

	// readers joins per-session read loops on Shutdown.
	readers sync.WaitGroup

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewHub builds a stopped-clean hub and starts its heartbeat prober.
func NewHub(config *HubConfig) *Hub {
	h := &Hub{
		logger:            config.Logger.Named("hub"),
		auth:              config.Auth,
		heartbeatInterval: config.HeartbeatInterval,
		byUser:            make(map[int64]*set.Set[*Session]),
		byID:              make(map[string]*Session),
		stopCh:            make(chan struct{}),
	}
	if h.heartbeatInterval <= 0 {
		h.heartbeatInterval = 30 * time.Second
	}

	go h.heartbeat()
	return h
}

// Accept authenticates a freshly upgraded transport and registers a session
// for it. On failure the peer gets a single auth_failure frame and the
// transport is closed. On success the first frame is auth_success and a read
// loop takes over the receive side; Accept does not block on it.
func (h *Hub) Accept(ctx context.Context, conn Conn, token string) (*Session, error) {
	identity, err := h.auth.AuthenticateToken(ctx, token)
	if err != nil {
		h.logger.Debug("rejecting session", "error", err)
		metrics.IncrCounter([]string{"labrador", "hub", "auth_failure"}, 1)

		failure := &authFailureFrame{Type: frameAuthFailure, Message: err.Error()}
		if data, merr := json.Marshal(failure); merr == nil {
			_ = conn.WriteMessage(websocket.TextMessage, data)
		}
		_ = conn.Close()
		return nil, err
	}

	id, err := uuid.GenerateUUID()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	session := newSession(id, identity.UserID, identity.Username, conn, h.logger)

	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		session.close(websocket.CloseGoingAway, "shutting down")
		return nil, structs.ErrHubClosed
	}
	sessions, ok := h.byUser[identity.UserID]
	if !ok {
		sessions = set.New[*Session](1)
		h.byUser[identity.UserID] = sessions
	}
	sessions.Insert(session)
	h.byID[id] = session
	h.accepted++
	h.readers.Add(1)
	h.mu.Unlock()

	if err := session.send(&authSuccessFrame{
		Type:      frameAuthSuccess,
		UserID:    identity.UserID,
		SessionID: id,
	}); err != nil {
		h.readers.Done()
		h.evict(session, websocket.CloseInternalServerErr, "handshake failed")
		return nil, err
	}

	h.logger.Debug("session accepted", "session_id", id, "user_id", identity.UserID)
	metrics.IncrCounter([]string{"labrador", "hub", "accepted"}, 1)

	go h.readLoop(session)
	return session, nil
}

// Send delivers payload to every live session of the user, reporting whether
// at least one delivery went through. Sessions whose transport errors are
// evicted on the spot. Users with no sessions are not an error.
func (h *Hub) Send(userID int64, payload interface{}) bool {
	h.mu.RLock()
	sessions := h.byUser[userID]
	var targets []*Session
	if sessions != nil {
		targets = sessions.Slice()
	}
	h.mu.RUnlock()

	delivered := false
	for _, session := range targets {
		if err := session.send(payload); err != nil {
			h.logger.Debug("evicting session after failed write",
				"session_id", session.id, "user_id", userID, "error", err)
			h.evict(session, websocket.CloseInternalServerErr, "write failed")
			continue
		}
		delivered = true
	}

	metrics.IncrCounter([]string{"labrador", "hub", "send"}, 1)
	if !delivered {
		metrics.IncrCounter([]string{"labrador", "hub", "send_missed"}, 1)
	}
	return delivered
}

// NotifyReportCreated pushes a labReportCreated frame to every session of
// the user.
func (h *Hub) NotifyReportCreated(userID, labReportID, ocrDataID int64) bool {
	return h.Send(userID, &reportCreatedFrame{
		Type:        frameReportCreated,
		LabReportID: labReportID,
		OcrDataID:   ocrDataID,
		Timestamp:   time.Now().UnixMilli(),
	})
}

// CloseUser tears down every session of the user with the given close code
// and reason, returning how many were closed.
func (h *Hub) CloseUser(userID int64, code int, reason string) int {
	h.mu.RLock()
	sessions := h.byUser[userID]
	var targets []*Session
	if sessions != nil {
		targets = sessions.Slice()
	}
	h.mu.RUnlock()

	for _, session := range targets {
		h.evict(session, code, reason)
	}
	return len(targets)
}

// Sessions lists the live sessions of one user.
func (h *Hub) Sessions(userID int64) []*SessionInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sessions, ok := h.byUser[userID]
	if !ok {
		return nil
	}
	infos := make([]*SessionInfo, 0, sessions.Size())
	for session := range sessions.Items() {
		infos = append(infos, session.info())
	}
	return infos
}

// HubStatus is a point-in-time summary of the tracked sessions.
type HubStatus struct {
	// TotalConnections counts every session admitted since start.
	TotalConnections uint64 `json:"totalConnections"`

	// TotalUsers is how many distinct users hold at least one session.
	TotalUsers int `json:"totalUsers"`

	// ActiveSessions is how many sessions are live right now.
	ActiveSessions int `json:"activeSessions"`

	// UserSessions maps user id to live session count.
	UserSessions map[int64]int `json:"userSessions"`
}

// Status reports the current session population.
func (h *Hub) Status() *HubStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := &HubStatus{
		TotalConnections: h.accepted,
		TotalUsers:       len(h.byUser),
		ActiveSessions:   len(h.byID),
		UserSessions:     make(map[int64]int, len(h.byUser)),
	}
	for userID, sessions := range h.byUser {
		status.UserSessions[userID] = sessions.Size()
	}
	return status
}

// Shutdown closes every session and stops the heartbeat prober, blocking
// until all read loops have drained. Further Accepts are refused.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.stopped = true
	targets := make([]*Session, 0, len(h.byID))
	for _, session := range h.byID {
		targets = append(targets, session)
	}
	h.mu.Unlock()

	for _, session := range targets {
		h.evict(session, websocket.CloseGoingAway, "shutting down")
	}

	h.stopOnce.Do(func() { close(h.stopCh) })
	h.readers.Wait()
	h.logger.Debug("hub shut down", "closed_sessions", len(targets))
}

// EmitStats publishes session gauges until stopCh closes.
func (h *Hub) EmitStats(period time.Duration, stopCh <-chan struct{}) {
	timer, stop := helper.NewSafeTimer(period)
	defer stop()

	for {
		select {
		case <-timer.C:
			timer.Reset(period)
			status := h.Status()
			metrics.SetGauge([]string{"labrador", "hub", "active_sessions"}, float32(status.ActiveSessions))
			metrics.SetGauge([]string{"labrador", "hub", "connected_users"}, float32(status.TotalUsers))
		case <-stopCh:
			return
		}
	}
}

// evict removes the session from tracking and closes its transport. Safe on
// sessions already evicted.
func (h *Hub) evict(session *Session, code int, reason string) {
	h.mu.Lock()
	if sessions, ok := h.byUser[session.userID]; ok {
		sessions.Remove(session)
		if sessions.Empty() {
			delete(h.byUser, session.userID)
		}
	}
	delete(h.byID, session.id)
	h.mu.Unlock()

	session.close(code, reason)
}

// readLoop pumps inbound frames for one session until its transport dies.
// Pongs and frames both extend the liveness deadline.
func (h *Hub) readLoop(session *Session) {
	defer h.readers.Done()
	defer h.evict(session, websocket.CloseNormalClosure, "")

	deadline := 2 * h.heartbeatInterval
	_ = session.conn.SetReadDeadline(time.Now().Add(deadline))
	session.conn.SetPongHandler(func(string) error {
		session.touch()
		return session.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, data, err := session.conn.ReadMessage()
		if err != nil {
			if !isClosedConnErr(err) {
				h.logger.Debug("session read failed", "session_id", session.id, "error", err)
			}
			return
		}
		session.touch()
		_ = session.conn.SetReadDeadline(time.Now().Add(deadline))

		h.handleFrame(session, data)
	}
}

// handleFrame dispatches one inbound frame. Unknown types are dropped
// without comment; undecodable payloads earn an error frame.
func (h *Hub) handleFrame(session *Session, data []byte) {
	var frame clientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		_ = session.send(&errorFrame{Type: frameError, Message: "malformed frame"})
		return
	}

	switch frame.Type {
	case clientFramePing:
		_ = session.send(&pongFrame{Type: framePong, Timestamp: time.Now().UnixMilli()})
	case clientFrameEcho:
		_ = session.send(&echoResponseFrame{
			Type:      frameEchoResponse,
			Data:      frame.Data,
			Timestamp: time.Now().UnixMilli(),
		})
	default:
	}
}

// heartbeat probes every session each interval and reaps the ones that have
// been silent for two intervals.
func (h *Hub) heartbeat() {
	timer, stop := helper.NewSafeTimer(h.heartbeatInterval)
	defer stop()

	for {
		select {
		case <-timer.C:
			timer.Reset(h.heartbeatInterval)
			h.probe()
		case <-h.stopCh:
			return
		}
	}
}

func (h *Hub) probe() {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.byID))
	for _, session := range h.byID {
		targets = append(targets, session)
	}
	h.mu.RUnlock()

	cutoff := time.Now().Add(-2 * h.heartbeatInterval)
	deadline := time.Now().Add(h.heartbeatInterval)
	for _, session := range targets {
		if session.LastActivity().Before(cutoff) {
			h.logger.Debug("reaping unresponsive session",
				"session_id", session.id, "user_id", session.userID)
			metrics.IncrCounter([]string{"labrador", "hub", "reaped"}, 1)
			h.evict(session, websocket.ClosePolicyViolation, "heartbeat timeout")
			continue
		}
		if err := session.ping(deadline); err != nil {
			h.evict(session, websocket.CloseInternalServerErr, "ping failed")
		}
	}
}

// isClosedConnErr reports whether err is the routine noise of a peer going
// away rather than something worth logging loudly.
func isClosedConnErr(err error) bool {
	if err == nil {
		return false
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		return true
	}
	return strings.Contains(err.Error(), "use of closed network connection")
}
