package cnst

// MessageType identifies a websocket envelope type in either direction.
type MessageType string

// Inbound message types (client to server)
const (
	// MsgPing is the client heartbeat acknowledgement
	MsgPing MessageType = "PING"
	// MsgJoinRoom subscribes the session to a room
	MsgJoinRoom MessageType = "JOIN_ROOM"
	// MsgLeaveRoom unsubscribes the session from a room
	MsgLeaveRoom MessageType = "LEAVE_ROOM"
)

// Outbound message types (server to client)
const (
	// MsgConnected confirms a successful handshake
	MsgConnected MessageType = "CONNECTED"
	// MsgError reports a per-session failure back to the originating client
	MsgError MessageType = "ERROR"
	// MsgNotification carries a freshly dispatched notification
	MsgNotification MessageType = "NOTIFICATION"
	// MsgNotificationRead carries the updated unread count after a single read
	MsgNotificationRead MessageType = "NOTIFICATION_READ"
	// MsgAllNotificationsRead carries the unread count after a bulk read
	MsgAllNotificationsRead MessageType = "ALL_NOTIFICATIONS_READ"
	// MsgEquipmentUpdated is a room-scoped equipment change event
	MsgEquipmentUpdated MessageType = "EQUIPMENT_UPDATED"
	// MsgMaintenanceUpdated is a room-scoped maintenance change event
	MsgMaintenanceUpdated MessageType = "MAINTENANCE_UPDATED"
)

// Websocket close codes used during the handshake
const (
	// CloseInternalError signals an internal failure during admission
	CloseInternalError = 4000
	// CloseUnauthenticated signals a missing or invalid credential
	CloseUnauthenticated = 4001
)

// Room key prefixes. Rooms are keyed by an entity reference,
// e.g. equipment_7 or maintenance_42.
const (
	RoomPrefixEquipment   = "equipment_"
	RoomPrefixMaintenance = "maintenance_"
)
