package database

import (
	"context"
	"time"
)

// NotificationFilter narrows notification listings.
type NotificationFilter struct {
	Read     *bool
	Type     NotificationType
	Priority NotificationPriority
	Page     int
	PageSize int
}

// Database defines the persistence operations consumed by the
// notification dispatcher and the REST surface.
type Database interface {
	// Close closes the database connection.
	Close() error

	// SeedSuperAdmin creates the configured super admin account on first start.
	SeedSuperAdmin(ctx context.Context, username, password string) error

	// Users
	GetUser(ctx context.Context, id uint) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	CreateUser(ctx context.Context, user *User) error
	// ListRecipients returns active users matching any of the roles,
	// optionally restricted to a department.
	ListRecipients(ctx context.Context, roles []UserRole, department string) ([]*User, error)

	// Notifications
	CreateNotification(ctx context.Context, n *Notification) error
	GetNotification(ctx context.Context, id uint) (*Notification, error)
	ListNotifications(ctx context.Context, recipientID uint, filter NotificationFilter) ([]*Notification, int64, error)
	// MarkNotificationRead flips read to true and reports whether the row changed.
	// Marking an already-read notification is a no-op, not an error.
	MarkNotificationRead(ctx context.Context, id uint) (bool, error)
	// MarkAllNotificationsRead returns the number of rows flipped.
	MarkAllNotificationsRead(ctx context.Context, recipientID uint) (int64, error)
	DeleteNotification(ctx context.Context, id uint) error
	CountUnread(ctx context.Context, recipientID uint) (int64, error)
	// RecordDeliveryFailure appends channel failure metadata without
	// touching the read state.
	RecordDeliveryFailure(ctx context.Context, id uint, channel, reason string) error
	// PurgeNotifications removes read notifications older than the cutoff.
	PurgeNotifications(ctx context.Context, olderThan time.Time) (int64, error)

	// Preferences
	GetPreference(ctx context.Context, userID uint) (*NotificationPreference, error)
	UpdatePreference(ctx context.Context, pref *NotificationPreference) error
}
