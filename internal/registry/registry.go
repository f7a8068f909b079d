package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/maintrack/maintrack/internal/common/cnst"
	"github.com/maintrack/maintrack/internal/common/config"
	"github.com/maintrack/maintrack/internal/common/errorx"
	"github.com/maintrack/maintrack/pkg/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Registry owns the set of live sessions, their principal index and
// their room memberships. All three structures are mutated under one
// lock so that the forward and reverse indexes never diverge.
type Registry struct {
	logger   *zap.Logger
	cfg      config.WebSocketConfig
	resolver PrincipalResolver
	metrics  *metrics.Metrics

	mu          sync.RWMutex
	sessions    map[string]*Session
	byPrincipal map[uint]map[string]*Session
	rooms       map[string]map[string]*Session

	cancel context.CancelFunc
}

// New creates a connection registry. The metrics handle may be nil.
func New(logger *zap.Logger, cfg config.WebSocketConfig, resolver PrincipalResolver, m *metrics.Metrics) *Registry {
	return &Registry{
		logger:      logger.Named("registry"),
		cfg:         cfg,
		resolver:    resolver,
		metrics:     m,
		sessions:    make(map[string]*Session),
		byPrincipal: make(map[uint]map[string]*Session),
		rooms:       make(map[string]map[string]*Session),
	}
}

// Start launches the liveness loop. Stop cancels it.
func (r *Registry) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	go r.livenessLoop(ctx)
}

// Stop halts the liveness loop and closes every session.
func (r *Registry) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()
	for _, s := range sessions {
		r.Remove(s.ID)
	}
}

// Admit resolves the credential and registers a new session. An empty
// credential and a rejected one both fail admission; the caller closes
// the socket with cnst.CloseUnauthenticated in either case.
func (r *Registry) Admit(credential string, conn Conn) (*Session, error) {
	if credential == "" {
		return nil, errorx.ErrUnauthenticated
	}
	principal, err := r.resolver.Resolve(credential)
	if err != nil {
		return nil, errorx.ErrInvalidCredential
	}

	s := newSession(uuid.New().String(), principal, conn, r.cfg.SendBuffer, r.cfg.WriteTimeout, r.logger)

	r.mu.Lock()
	r.sessions[s.ID] = s
	byID, ok := r.byPrincipal[principal.ID]
	if !ok {
		byID = make(map[string]*Session)
		r.byPrincipal[principal.ID] = byID
	}
	byID[s.ID] = s
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.SessionOpened()
	}
	r.logger.Info("session admitted",
		zap.String("session_id", s.ID),
		zap.Uint("principal_id", principal.ID),
		zap.String("role", principal.Role))

	r.sendTo(s, Envelope{Type: cnst.MsgConnected, Data: ConnectedData{
		PrincipalID: principal.ID,
		SessionID:   s.ID,
	}})
	return s, nil
}

// Remove deregisters a session, cleans every index it appears in and
// closes its transport. Idempotent.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, sessionID)

	if byID, ok := r.byPrincipal[s.PrincipalID]; ok {
		delete(byID, sessionID)
		if len(byID) == 0 {
			delete(r.byPrincipal, s.PrincipalID)
		}
	}

	s.mu.Lock()
	roomIDs := make([]string, 0, len(s.rooms))
	for roomID := range s.rooms {
		roomIDs = append(roomIDs, roomID)
	}
	s.rooms = make(map[string]struct{})
	s.mu.Unlock()

	for _, roomID := range roomIDs {
		if members, ok := r.rooms[roomID]; ok {
			delete(members, sessionID)
			if len(members) == 0 {
				delete(r.rooms, roomID)
			}
		}
	}
	r.mu.Unlock()

	s.close()
	if r.metrics != nil {
		r.metrics.SessionClosed()
	}
	r.logger.Info("session removed", zap.String("session_id", sessionID))
}

// JoinRoom subscribes the session to a room, creating the room on
// first join. Joining twice is a no-op.
func (r *Registry) JoinRoom(sessionID, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return cnst.ErrSessionNotFound
	}

	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]*Session)
		r.rooms[roomID] = members
	}
	members[sessionID] = s

	s.mu.Lock()
	s.rooms[roomID] = struct{}{}
	s.mu.Unlock()
	return nil
}

// LeaveRoom unsubscribes the session; leaving the last member destroys
// the room. Leaving a room never joined is a no-op.
func (r *Registry) LeaveRoom(sessionID, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return cnst.ErrSessionNotFound
	}

	if members, ok := r.rooms[roomID]; ok {
		delete(members, sessionID)
		if len(members) == 0 {
			delete(r.rooms, roomID)
		}
	}

	s.mu.Lock()
	delete(s.rooms, roomID)
	s.mu.Unlock()
	return nil
}

// SendToPrincipal fans out to every live session of the principal.
// No live session means the message is dropped; the persisted
// Notification record is the durable copy.
func (r *Registry) SendToPrincipal(principalID uint, env Envelope) {
	r.mu.RLock()
	targets := snapshot(r.byPrincipal[principalID])
	r.mu.RUnlock()

	for _, s := range targets {
		r.sendTo(s, env)
	}
}

// Broadcast sends to every member of the room. Membership is
// snapshotted at call time; concurrent joins may or may not receive
// this particular message.
func (r *Registry) Broadcast(roomID string, env Envelope) {
	r.mu.RLock()
	targets := snapshot(r.rooms[roomID])
	r.mu.RUnlock()

	for _, s := range targets {
		r.sendTo(s, env)
	}
}

// BroadcastAll sends to every live session.
func (r *Registry) BroadcastAll(env Envelope) {
	r.mu.RLock()
	targets := snapshot(r.sessions)
	r.mu.RUnlock()

	for _, s := range targets {
		r.sendTo(s, env)
	}
}

// BroadcastToRole sends to every live session holding the role.
func (r *Registry) BroadcastToRole(role string, env Envelope) {
	r.mu.RLock()
	targets := make([]*Session, 0)
	for _, s := range r.sessions {
		if s.Role == role {
			targets = append(targets, s)
		}
	}
	r.mu.RUnlock()

	for _, s := range targets {
		r.sendTo(s, env)
	}
}

// HandleInbound processes one raw frame from the session. Malformed
// input produces an ERROR echo to the originating session only.
func (r *Registry) HandleInbound(sessionID string, raw []byte) {
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	var env inboundEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		r.sendTo(s, Envelope{Type: cnst.MsgError, Data: ErrorData{Message: "malformed message"}})
		return
	}

	switch env.Type {
	case cnst.MsgPing:
		s.touch()
	case cnst.MsgJoinRoom, cnst.MsgLeaveRoom:
		var data RoomData
		if err := json.Unmarshal(env.Data, &data); err != nil || data.RoomID == "" {
			r.sendTo(s, Envelope{Type: cnst.MsgError, Data: ErrorData{Message: "roomId is required"}})
			return
		}
		if env.Type == cnst.MsgJoinRoom {
			_ = r.JoinRoom(sessionID, data.RoomID)
		} else {
			_ = r.LeaveRoom(sessionID, data.RoomID)
		}
	default:
		r.sendTo(s, Envelope{Type: cnst.MsgError, Data: ErrorData{
			Message: fmt.Sprintf("unknown message type %q", env.Type),
		}})
	}
}

// Touch records liveness for a session, e.g. from a pong handler.
func (r *Registry) Touch(sessionID string) {
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if ok {
		s.touch()
	}
}

// SessionCount returns the number of live sessions.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// RoomMembers returns the session ids currently in the room.
func (r *Registry) RoomMembers(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.rooms[roomID]))
	for id := range r.rooms[roomID] {
		ids = append(ids, id)
	}
	return ids
}

// livenessLoop pings every session each interval and removes sessions
// that have not acknowledged within one interval.
func (r *Registry) livenessLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reapAndPing()
		}
	}
}

func (r *Registry) reapAndPing() {
	cutoff := time.Now().Add(-r.cfg.PingInterval)

	r.mu.RLock()
	sessions := snapshot(r.sessions)
	r.mu.RUnlock()

	for _, s := range sessions {
		if !s.seenSince(cutoff) {
			r.logger.Info("session missed heartbeat, removing",
				zap.String("session_id", s.ID),
				zap.Uint("principal_id", s.PrincipalID))
			r.Remove(s.ID)
			continue
		}
		if err := s.ping(); err != nil {
			r.logger.Debug("ping failed, removing session",
				zap.String("session_id", s.ID),
				zap.Error(err))
			r.Remove(s.ID)
		}
	}
}

func (r *Registry) sendTo(s *Session, env Envelope) {
	s.enqueue(env)
	if r.metrics != nil {
		r.metrics.MessageSent(string(env.Type))
	}
}

func snapshot(m map[string]*Session) []*Session {
	out := make([]*Session, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	return out
}
