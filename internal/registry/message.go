package registry

import (
	"encoding/json"
	"time"

	"github.com/maintrack/maintrack/internal/common/cnst"
)

// Envelope is the wire message format in both directions.
type Envelope struct {
	Type cnst.MessageType `json:"type"`
	Data any              `json:"data,omitempty"`
}

// inboundEnvelope defers payload decoding until the type is known.
type inboundEnvelope struct {
	Type cnst.MessageType `json:"type"`
	Data json.RawMessage  `json:"data,omitempty"`
}

// RoomData is the payload of JOIN_ROOM and LEAVE_ROOM messages.
type RoomData struct {
	RoomID string `json:"roomId"`
}

// ConnectedData confirms admission to the client.
type ConnectedData struct {
	PrincipalID uint   `json:"principalId"`
	SessionID   string `json:"sessionId"`
}

// ErrorData reports a per-session failure.
type ErrorData struct {
	Message string `json:"message"`
}

// ReadData carries the unread count after read-state changes.
type ReadData struct {
	NotificationID uint  `json:"notificationId,omitempty"`
	UnreadCount    int64 `json:"unreadCount"`
}

// EntityUpdateData is the payload of room-scoped update events.
type EntityUpdateData struct {
	EntityID  uint           `json:"entityId"`
	Changes   map[string]any `json:"changes,omitempty"`
	ActorID   uint           `json:"actorId"`
	Timestamp time.Time      `json:"timestamp"`
}
