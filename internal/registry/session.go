package registry

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var errSessionClosed = errors.New("session closed")

// Conn is the subset of the websocket connection the registry writes to.
// *websocket.Conn satisfies it; tests substitute a recording fake.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Principal is a verified identity returned by the resolver.
type Principal struct {
	ID         uint
	Username   string
	Role       string
	Department string
}

// PrincipalResolver turns a bearer credential into a verified principal.
// Token issuance is out of scope; validation is all the registry needs.
type PrincipalResolver interface {
	Resolve(credential string) (*Principal, error)
}

// ResolverFunc adapts a function to the PrincipalResolver interface.
type ResolverFunc func(credential string) (*Principal, error)

func (f ResolverFunc) Resolve(credential string) (*Principal, error) { return f(credential) }

// Session is one live, authenticated connection. All outbound writes
// go through a single writer goroutine so that two sends to the same
// session are never reordered.
type Session struct {
	ID          string
	PrincipalID uint
	Role        string

	conn         Conn
	logger       *zap.Logger
	writeTimeout time.Duration

	send  chan []byte
	pings chan chan error
	done  chan struct{}

	mu       sync.Mutex
	rooms    map[string]struct{}
	lastSeen time.Time
	closed   bool
}

func newSession(id string, p *Principal, conn Conn, buffer int, writeTimeout time.Duration, logger *zap.Logger) *Session {
	s := &Session{
		ID:           id,
		PrincipalID:  p.ID,
		Role:         p.Role,
		conn:         conn,
		logger:       logger,
		writeTimeout: writeTimeout,
		send:         make(chan []byte, buffer),
		pings:        make(chan chan error, 1),
		done:         make(chan struct{}),
		rooms:        make(map[string]struct{}),
		lastSeen:     time.Now(),
	}
	go s.writeLoop()
	return s
}

// writeLoop drains the send queue onto the transport. The transport
// forbids concurrent writers, so ping frames go through here as well.
// Write errors are logged and swallowed; the liveness reaper removes
// dead sessions.
func (s *Session) writeLoop() {
	for {
		select {
		case msg := <-s.send:
			if err := s.write(websocket.TextMessage, msg); err != nil {
				s.logger.Debug("write to session failed",
					zap.String("session_id", s.ID),
					zap.Error(err))
			}
		case reply := <-s.pings:
			reply <- s.write(websocket.PingMessage, nil)
		case <-s.done:
			return
		}
	}
}

func (s *Session) write(messageType int, data []byte) error {
	if d, ok := s.conn.(interface{ SetWriteDeadline(time.Time) error }); ok {
		_ = d.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	return s.conn.WriteMessage(messageType, data)
}

// enqueue queues an envelope for delivery. A full buffer drops the
// message: this channel is best-effort, the Notification record is the
// durable copy.
func (s *Session) enqueue(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		s.logger.Error("failed to encode outbound message",
			zap.String("type", string(env.Type)),
			zap.Error(err))
		return
	}
	select {
	case s.send <- data:
	default:
		s.logger.Warn("session send buffer full, dropping message",
			zap.String("session_id", s.ID),
			zap.String("type", string(env.Type)))
	}
}

// ping asks the writer goroutine for a ping frame and waits for the
// write result, keeping the transport single-writer.
func (s *Session) ping() error {
	reply := make(chan error, 1)
	select {
	case s.pings <- reply:
	case <-s.done:
		return errSessionClosed
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return errSessionClosed
	}
}

// touch records proof of liveness.
func (s *Session) touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

func (s *Session) seenSince(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen.After(cutoff)
}

// close stops the writer and closes the transport. Idempotent.
func (s *Session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	_ = s.conn.Close()
}
