package database

import "time"

// UserRole represents the role of a user
type UserRole string

const (
	RoleAdmin      UserRole = "admin"
	RoleTechnician UserRole = "technician"
	RoleUser       UserRole = "user"
)

// User represents an account that can hold sessions and receive notifications
type User struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Username    string    `json:"username" gorm:"type:varchar(50);uniqueIndex"`
	Password    string    `json:"-" gorm:"not null"` // bcrypt hash, never exposed
	Role        UserRole  `json:"role" gorm:"type:varchar(20);not null;default:'user';index"`
	Department  string    `json:"department" gorm:"type:varchar(100);index"`
	Email       string    `json:"email" gorm:"type:varchar(255)"`
	DeviceToken string    `json:"-" gorm:"type:varchar(255)"` // mobile push address
	IsActive    bool      `json:"isActive" gorm:"not null;default:true"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// NotificationType categorizes notifications for preference filtering
type NotificationType string

const (
	NotificationMaintenance  NotificationType = "maintenance"
	NotificationServiceOrder NotificationType = "service_order"
	NotificationEquipment    NotificationType = "equipment"
	NotificationReport       NotificationType = "report"
	NotificationSystem       NotificationType = "system"
)

// NotificationPriority orders notifications for display
type NotificationPriority string

const (
	PriorityLow    NotificationPriority = "low"
	PriorityNormal NotificationPriority = "normal"
	PriorityHigh   NotificationPriority = "high"
	PriorityUrgent NotificationPriority = "urgent"
)

// Notification is the durable per-recipient notification record.
// It is persisted before any delivery job is submitted, so it survives
// channel failures. Delivery workers only append failure metadata.
type Notification struct {
	ID            uint                 `json:"id" gorm:"primaryKey;autoIncrement"`
	Type          NotificationType     `json:"type" gorm:"type:varchar(30);not null;index"`
	RecipientID   uint                 `json:"recipientId" gorm:"not null;index"`
	SenderID      *uint                `json:"senderId,omitempty"`
	Title         string               `json:"title" gorm:"type:varchar(255);not null"`
	Message       string               `json:"message" gorm:"type:text"`
	Priority      NotificationPriority `json:"priority" gorm:"type:varchar(10);not null;default:'normal';index"`
	Read          bool                 `json:"read" gorm:"column:is_read;not null;default:false;index"`
	ReferenceType string               `json:"referenceType,omitempty" gorm:"type:varchar(30)"`
	ReferenceID   uint                 `json:"referenceId,omitempty"`
	DeliveryError string               `json:"-" gorm:"type:text"` // last channel failure, audit only
	CreatedAt     time.Time            `json:"createdAt" gorm:"index"`
}

// NotificationPreference holds per-user channel enablement and category
// toggles. The bools must not carry a `default` tag: gorm skips
// zero-valued fields with a default on insert, so a stored false would
// come back true. Missing rows fall back to DefaultPreference instead.
type NotificationPreference struct {
	ID                 uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID             uint      `json:"userId" gorm:"not null;uniqueIndex"`
	Email              bool      `json:"email" gorm:"not null"`
	Push               bool      `json:"push" gorm:"not null"`
	InApp              bool      `json:"in_app" gorm:"not null"`
	MaintenanceAlerts  bool      `json:"maintenanceAlerts" gorm:"not null"`
	ServiceOrderAlerts bool      `json:"serviceOrderAlerts" gorm:"not null"`
	EquipmentAlerts    bool      `json:"equipmentAlerts" gorm:"not null"`
	SystemAlerts       bool      `json:"systemAlerts" gorm:"not null"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// DefaultPreference returns the preference applied to users without a stored record
func DefaultPreference(userID uint) *NotificationPreference {
	return &NotificationPreference{
		UserID:             userID,
		Email:              true,
		Push:               false,
		InApp:              true,
		MaintenanceAlerts:  true,
		ServiceOrderAlerts: true,
		EquipmentAlerts:    true,
		SystemAlerts:       true,
	}
}

// AllowsCategory reports whether the category toggle for the given
// notification type is enabled.
func (p *NotificationPreference) AllowsCategory(t NotificationType) bool {
	switch t {
	case NotificationMaintenance:
		return p.MaintenanceAlerts
	case NotificationServiceOrder:
		return p.ServiceOrderAlerts
	case NotificationEquipment:
		return p.EquipmentAlerts
	default:
		return p.SystemAlerts
	}
}
