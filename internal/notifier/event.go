package notifier

import (
	"encoding/json"

	"github.com/maintrack/maintrack/internal/apiserver/database"
)

// Domain event types accepted by Dispatch.
const (
	EventMaintenanceDue       = "MAINTENANCE_DUE"
	EventMaintenanceCompleted = "MAINTENANCE_COMPLETED"
	EventServiceOrderCreated  = "SERVICE_ORDER_CREATED"
	EventServiceOrderAssigned = "SERVICE_ORDER_ASSIGNED"
	EventEquipmentFailure     = "EQUIPMENT_FAILURE"
	EventReportReady          = "REPORT_READY"
	EventSystemAnnouncement   = "SYSTEM_ANNOUNCEMENT"
)

// Event is a domain occurrence that fans out into per-recipient
// notifications. Metadata is the raw event payload; the dispatcher
// extracts the fields the matched rule needs (department, entity ids,
// optional title/message overrides) without requiring a fixed shape.
type Event struct {
	Type     string          `json:"type"`
	ActorID  *uint           `json:"actorId,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// rule decides who hears about an event and what the notification
// record looks like. Either roles or directPath is set: role-based
// rules resolve the recipient set from the user table, direct rules
// address the single principal named in the metadata.
type rule struct {
	category   database.NotificationType
	priority   database.NotificationPriority
	roles      []database.UserRole
	scoped     bool   // restrict role resolution to metadata.department
	directPath string // metadata path of the single recipient id
	refType    string
	refPath    string // metadata path of the reference entity id
	title      string
	message    string
}

var eventRules = map[string]rule{
	EventMaintenanceDue: {
		category: database.NotificationMaintenance,
		priority: database.PriorityHigh,
		roles:    []database.UserRole{database.RoleAdmin, database.RoleTechnician},
		scoped:   true,
		refType:  "equipment",
		refPath:  "equipmentId",
		title:    "Maintenance due",
		message:  "Scheduled maintenance is due.",
	},
	EventMaintenanceCompleted: {
		category: database.NotificationMaintenance,
		priority: database.PriorityNormal,
		roles:    []database.UserRole{database.RoleAdmin},
		scoped:   true,
		refType:  "maintenance",
		refPath:  "maintenanceId",
		title:    "Maintenance completed",
		message:  "A maintenance task has been completed.",
	},
	EventServiceOrderCreated: {
		category: database.NotificationServiceOrder,
		priority: database.PriorityNormal,
		roles:    []database.UserRole{database.RoleAdmin, database.RoleTechnician},
		scoped:   true,
		refType:  "service_order",
		refPath:  "serviceOrderId",
		title:    "New service order",
		message:  "A service order has been opened.",
	},
	EventServiceOrderAssigned: {
		category:   database.NotificationServiceOrder,
		priority:   database.PriorityHigh,
		directPath: "assigneeId",
		refType:    "service_order",
		refPath:    "serviceOrderId",
		title:      "Service order assigned to you",
		message:    "You have been assigned a service order.",
	},
	EventEquipmentFailure: {
		category: database.NotificationEquipment,
		priority: database.PriorityUrgent,
		roles:    []database.UserRole{database.RoleAdmin, database.RoleTechnician},
		scoped:   true,
		refType:  "equipment",
		refPath:  "equipmentId",
		title:    "Equipment failure",
		message:  "Equipment has been reported as failed.",
	},
	EventReportReady: {
		category:   database.NotificationReport,
		priority:   database.PriorityLow,
		directPath: "recipientId",
		refType:    "report",
		refPath:    "reportId",
		title:      "Report ready",
		message:    "Your report has finished generating.",
	},
	EventSystemAnnouncement: {
		category: database.NotificationSystem,
		priority: database.PriorityNormal,
		roles:    []database.UserRole{database.RoleAdmin, database.RoleTechnician, database.RoleUser},
		title:    "Announcement",
		message:  "",
	},
}

// deliveryPayload is the job payload for the per-channel delivery
// queues.
type deliveryPayload struct {
	NotificationID uint `json:"notificationId"`
	RecipientID    uint `json:"recipientId"`
}

// reportPayload is the job payload for the report generation queue.
type reportPayload struct {
	ReportID    uint `json:"reportId"`
	RecipientID uint `json:"recipientId"`
}
