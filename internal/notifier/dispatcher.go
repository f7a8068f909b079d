package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/maintrack/maintrack/internal/apiserver/cache"
	"github.com/maintrack/maintrack/internal/apiserver/database"
	"github.com/maintrack/maintrack/internal/common/cnst"
	"github.com/maintrack/maintrack/internal/common/errorx"
	"github.com/maintrack/maintrack/internal/queue"
	"github.com/maintrack/maintrack/internal/registry"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Pusher is the slice of the connection registry the dispatcher needs:
// best-effort delivery to live sessions.
type Pusher interface {
	SendToPrincipal(principalID uint, env registry.Envelope)
	Broadcast(roomID string, env registry.Envelope)
}

// JobSubmitter is the producer side of the job queue.
type JobSubmitter interface {
	Submit(queueName string, payload any) (string, error)
}

// ReportGenerator produces the content of a requested report. It is an
// external collaborator; the default implementation is a stub.
type ReportGenerator func(ctx context.Context, reportID uint) (string, error)

// Dispatcher turns domain events into persisted notifications and
// per-channel delivery jobs, and owns the read-state transitions. The
// notification record is written before any job is submitted, so it
// survives every channel failure.
type Dispatcher struct {
	logger  *zap.Logger
	db      database.Database
	pusher  Pusher
	jobs    JobSubmitter
	unread  *cache.UnreadCounter // optional
	email   ChannelSender
	push    ChannelSender
	reports ReportGenerator
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithUnreadCache plugs in the redis-backed unread counter.
func WithUnreadCache(c *cache.UnreadCounter) Option {
	return func(d *Dispatcher) { d.unread = c }
}

// WithReportGenerator replaces the stub report collaborator.
func WithReportGenerator(g ReportGenerator) Option {
	return func(d *Dispatcher) { d.reports = g }
}

func New(logger *zap.Logger, db database.Database, pusher Pusher, jobs JobSubmitter, email, push ChannelSender, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		logger: logger.Named("notifier"),
		db:     db,
		pusher: pusher,
		jobs:   jobs,
		email:  email,
		push:   push,
		reports: func(_ context.Context, reportID uint) (string, error) {
			return fmt.Sprintf("Report #%d is ready for download.", reportID), nil
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RegisterQueues binds the delivery and report handlers to their
// queues. The reports queue chains into the in-app queue so a finished
// report surfaces as a live notification.
func (d *Dispatcher) RegisterQueues(m *queue.Manager) {
	m.Register(cnst.QueueInApp, d.HandleInApp)
	m.Register(cnst.QueueEmail, d.HandleEmail)
	m.Register(cnst.QueuePush, d.HandlePush)
	m.Register(cnst.QueueReports, d.HandleReport, queue.WithDownstream(cnst.QueueInApp))
}

// Dispatch resolves the recipients of a domain event, persists one
// notification per recipient, then submits one job per enabled channel.
// A recipient-resolution failure aborts the whole event; a failure for
// one recipient does not roll back notifications already persisted for
// the others. Returns the ids of the created notifications.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) ([]uint, error) {
	r, ok := eventRules[ev.Type]
	if !ok {
		return nil, fmt.Errorf("unknown event type %q", ev.Type)
	}

	recipients, err := d.resolveRecipients(ctx, ev, r)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve recipients for %s: %w", ev.Type, err)
	}

	title := r.title
	if v := gjson.GetBytes(ev.Metadata, "title"); v.Exists() {
		title = v.String()
	}
	message := r.message
	if v := gjson.GetBytes(ev.Metadata, "message"); v.Exists() {
		message = v.String()
	}
	var refID uint
	if r.refPath != "" {
		refID = uint(gjson.GetBytes(ev.Metadata, r.refPath).Uint())
	}

	var created []uint
	for _, recipient := range recipients {
		pref, err := d.db.GetPreference(ctx, recipient.ID)
		if err != nil {
			d.logger.Error("failed to load preferences, skipping recipient",
				zap.Uint("recipient_id", recipient.ID),
				zap.Error(err))
			continue
		}
		if !pref.AllowsCategory(r.category) {
			continue
		}

		n := &database.Notification{
			Type:          r.category,
			RecipientID:   recipient.ID,
			SenderID:      ev.ActorID,
			Title:         title,
			Message:       message,
			Priority:      r.priority,
			ReferenceType: r.refType,
			ReferenceID:   refID,
		}
		if err := d.db.CreateNotification(ctx, n); err != nil {
			d.logger.Error("failed to persist notification, skipping recipient",
				zap.Uint("recipient_id", recipient.ID),
				zap.Error(err))
			continue
		}
		created = append(created, n.ID)

		if d.unread != nil {
			d.unread.Invalidate(ctx, recipient.ID)
		}
		d.enqueueDeliveries(recipient, pref, n)
	}

	d.logger.Info("event dispatched",
		zap.String("event", ev.Type),
		zap.Int("recipients", len(recipients)),
		zap.Int("notifications", len(created)))
	return created, nil
}

func (d *Dispatcher) resolveRecipients(ctx context.Context, ev Event, r rule) ([]*database.User, error) {
	if r.directPath != "" {
		id := uint(gjson.GetBytes(ev.Metadata, r.directPath).Uint())
		if id == 0 {
			return nil, fmt.Errorf("event metadata missing %s", r.directPath)
		}
		user, err := d.db.GetUser(ctx, id)
		if err != nil {
			return nil, err
		}
		return []*database.User{user}, nil
	}

	department := ""
	if r.scoped {
		department = gjson.GetBytes(ev.Metadata, "department").String()
	}
	recipients, err := d.db.ListRecipients(ctx, r.roles, department)
	if err != nil {
		return nil, err
	}

	// the acting principal already knows what they did
	if ev.ActorID == nil {
		return recipients, nil
	}
	filtered := recipients[:0]
	for _, u := range recipients {
		if u.ID != *ev.ActorID {
			filtered = append(filtered, u)
		}
	}
	return filtered, nil
}

func (d *Dispatcher) enqueueDeliveries(recipient *database.User, pref *database.NotificationPreference, n *database.Notification) {
	payload := deliveryPayload{NotificationID: n.ID, RecipientID: recipient.ID}

	submit := func(queueName string) {
		if _, err := d.jobs.Submit(queueName, payload); err != nil {
			d.logger.Error("failed to submit delivery job",
				zap.String("queue", queueName),
				zap.Uint("notification_id", n.ID),
				zap.Error(err))
		}
	}

	if pref.InApp {
		submit(cnst.QueueInApp)
	}
	if pref.Email && recipient.Email != "" {
		submit(cnst.QueueEmail)
	}
	if pref.Push && recipient.DeviceToken != "" {
		submit(cnst.QueuePush)
	}
}

// MarkRead flips one notification to read. Only the recipient may do
// so. The unread-count push goes out only when the row actually
// changed; marking twice is a no-op, not an error.
func (d *Dispatcher) MarkRead(ctx context.Context, notificationID, principalID uint) error {
	n, err := d.db.GetNotification(ctx, notificationID)
	if err != nil {
		if errors.Is(err, database.ErrRecordNotFound) {
			return errorx.ErrNotFound
		}
		return err
	}
	if n.RecipientID != principalID {
		return errorx.ErrForbidden
	}

	changed, err := d.db.MarkNotificationRead(ctx, notificationID)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	if d.unread != nil {
		d.unread.Invalidate(ctx, principalID)
	}
	count, err := d.UnreadCount(ctx, principalID)
	if err != nil {
		d.logger.Warn("failed to count unread after mark-read", zap.Error(err))
		count = 0
	}
	d.pusher.SendToPrincipal(principalID, registry.Envelope{
		Type: cnst.MsgNotificationRead,
		Data: registry.ReadData{NotificationID: notificationID, UnreadCount: count},
	})
	return nil
}

// Delete removes one notification. Only the recipient may do so.
func (d *Dispatcher) Delete(ctx context.Context, notificationID, principalID uint) error {
	n, err := d.db.GetNotification(ctx, notificationID)
	if err != nil {
		if errors.Is(err, database.ErrRecordNotFound) {
			return errorx.ErrNotFound
		}
		return err
	}
	if n.RecipientID != principalID {
		return errorx.ErrForbidden
	}
	if err := d.db.DeleteNotification(ctx, notificationID); err != nil {
		return err
	}
	if !n.Read && d.unread != nil {
		d.unread.Invalidate(ctx, principalID)
	}
	return nil
}

// MarkAllRead flips every unread notification of the principal and
// issues a single push with the resulting count.
func (d *Dispatcher) MarkAllRead(ctx context.Context, principalID uint) error {
	flipped, err := d.db.MarkAllNotificationsRead(ctx, principalID)
	if err != nil {
		return err
	}
	if d.unread != nil {
		d.unread.Invalidate(ctx, principalID)
		d.unread.Set(ctx, principalID, 0)
	}
	d.logger.Debug("marked all read",
		zap.Uint("principal_id", principalID),
		zap.Int64("flipped", flipped))
	d.pusher.SendToPrincipal(principalID, registry.Envelope{
		Type: cnst.MsgAllNotificationsRead,
		Data: registry.ReadData{UnreadCount: 0},
	})
	return nil
}

// UnreadCount returns the number of unread notifications, served from
// the cache when possible.
func (d *Dispatcher) UnreadCount(ctx context.Context, principalID uint) (int64, error) {
	if d.unread != nil {
		if count, hit, err := d.unread.Get(ctx, principalID); err == nil && hit {
			return count, nil
		}
	}
	count, err := d.db.CountUnread(ctx, principalID)
	if err != nil {
		return 0, err
	}
	if d.unread != nil {
		d.unread.Set(ctx, principalID, count)
	}
	return count, nil
}

// PublishEntityUpdate broadcasts an entity change to the sessions
// subscribed to its room.
func (d *Dispatcher) PublishEntityUpdate(entity string, entityID uint, changes map[string]any, actorID uint) error {
	var msgType cnst.MessageType
	var room string
	switch entity {
	case "equipment":
		msgType = cnst.MsgEquipmentUpdated
		room = cnst.RoomPrefixEquipment + strconv.FormatUint(uint64(entityID), 10)
	case "maintenance":
		msgType = cnst.MsgMaintenanceUpdated
		room = cnst.RoomPrefixMaintenance + strconv.FormatUint(uint64(entityID), 10)
	default:
		return fmt.Errorf("unknown entity type %q", entity)
	}

	d.pusher.Broadcast(room, registry.Envelope{
		Type: msgType,
		Data: registry.EntityUpdateData{
			EntityID:  entityID,
			Changes:   changes,
			ActorID:   actorID,
			Timestamp: time.Now(),
		},
	})
	return nil
}

// notificationData is the NOTIFICATION payload: the record plus the
// recipient's unread count so the client can update its badge without
// a follow-up query.
type notificationData struct {
	*database.Notification
	UnreadCount int64 `json:"unreadCount"`
}

// HandleInApp pushes the notification to the recipient's live
// sessions. Sessions that are offline simply miss the push; the
// persisted record is the durable copy they will see on next poll.
func (d *Dispatcher) HandleInApp(ctx context.Context, job *queue.Job) error {
	payload, n, err := d.loadDelivery(ctx, job)
	if err != nil {
		return err
	}

	count, err := d.UnreadCount(ctx, payload.RecipientID)
	if err != nil {
		d.logger.Warn("failed to count unread for live push", zap.Error(err))
	}
	d.pusher.SendToPrincipal(payload.RecipientID, registry.Envelope{
		Type: cnst.MsgNotification,
		Data: notificationData{Notification: n, UnreadCount: count},
	})
	return nil
}

// HandleEmail delivers over the SMTP sender.
func (d *Dispatcher) HandleEmail(ctx context.Context, job *queue.Job) error {
	return d.deliverExternal(ctx, job, d.email)
}

// HandlePush delivers over the mobile push sender.
func (d *Dispatcher) HandlePush(ctx context.Context, job *queue.Job) error {
	return d.deliverExternal(ctx, job, d.push)
}

func (d *Dispatcher) deliverExternal(ctx context.Context, job *queue.Job, sender ChannelSender) error {
	payload, n, err := d.loadDelivery(ctx, job)
	if err != nil {
		return err
	}
	recipient, err := d.db.GetUser(ctx, payload.RecipientID)
	if err != nil {
		if errors.Is(err, database.ErrRecordNotFound) {
			return queue.Terminal(fmt.Errorf("recipient %d no longer exists", payload.RecipientID))
		}
		return err
	}

	if err := sender.Send(ctx, recipient, n); err != nil {
		if dbErr := d.db.RecordDeliveryFailure(ctx, n.ID, sender.Name(), err.Error()); dbErr != nil {
			d.logger.Warn("failed to record delivery failure", zap.Error(dbErr))
		}
		if queue.IsTerminal(err) {
			return err
		}
		return queue.Retryable(fmt.Errorf("%s delivery: %w", sender.Name(), err))
	}
	return nil
}

// loadDelivery decodes a delivery job and loads its notification.
// Undecodable payloads and vanished records are permanent failures.
func (d *Dispatcher) loadDelivery(ctx context.Context, job *queue.Job) (deliveryPayload, *database.Notification, error) {
	var payload deliveryPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return payload, nil, queue.Terminal(fmt.Errorf("failed to decode delivery payload: %w", err))
	}
	n, err := d.db.GetNotification(ctx, payload.NotificationID)
	if err != nil {
		if errors.Is(err, database.ErrRecordNotFound) {
			return payload, nil, queue.Terminal(fmt.Errorf("notification %d no longer exists", payload.NotificationID))
		}
		return payload, nil, err
	}
	return payload, n, nil
}

// HandleReport generates the requested report, persists the
// ready-notification and rewrites the job payload so the chained
// in-app queue delivers it.
func (d *Dispatcher) HandleReport(ctx context.Context, job *queue.Job) error {
	var payload reportPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return queue.Terminal(fmt.Errorf("failed to decode report payload: %w", err))
	}

	summary, err := d.reports(ctx, payload.ReportID)
	if err != nil {
		return fmt.Errorf("failed to generate report %d: %w", payload.ReportID, err)
	}

	n := &database.Notification{
		Type:          database.NotificationReport,
		RecipientID:   payload.RecipientID,
		Title:         "Report ready",
		Message:       summary,
		Priority:      database.PriorityLow,
		ReferenceType: "report",
		ReferenceID:   payload.ReportID,
	}
	if err := d.db.CreateNotification(ctx, n); err != nil {
		return fmt.Errorf("failed to persist report notification: %w", err)
	}
	if d.unread != nil {
		d.unread.Invalidate(ctx, payload.RecipientID)
	}

	chained, err := json.Marshal(deliveryPayload{NotificationID: n.ID, RecipientID: payload.RecipientID})
	if err != nil {
		return queue.Terminal(err)
	}
	job.Payload = chained
	return nil
}

// SubmitReport enqueues a report generation request.
func (d *Dispatcher) SubmitReport(reportID, recipientID uint) (string, error) {
	return d.jobs.Submit(cnst.QueueReports, reportPayload{ReportID: reportID, RecipientID: recipientID})
}
