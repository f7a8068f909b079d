package notifier

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/maintrack/maintrack/internal/apiserver/cache"
	"github.com/maintrack/maintrack/internal/apiserver/database"
	"github.com/maintrack/maintrack/internal/common/cnst"
	"github.com/maintrack/maintrack/internal/common/config"
	"github.com/maintrack/maintrack/internal/common/errorx"
	"github.com/maintrack/maintrack/internal/registry"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sentEnvelope struct {
	PrincipalID uint
	Room        string
	Env         registry.Envelope
}

// fakePusher records registry pushes instead of delivering them.
type fakePusher struct {
	mu    sync.Mutex
	sends []sentEnvelope
}

func (p *fakePusher) SendToPrincipal(principalID uint, env registry.Envelope) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sends = append(p.sends, sentEnvelope{PrincipalID: principalID, Env: env})
}

func (p *fakePusher) Broadcast(roomID string, env registry.Envelope) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sends = append(p.sends, sentEnvelope{Room: roomID, Env: env})
}

func (p *fakePusher) byType(t cnst.MessageType) []sentEnvelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []sentEnvelope
	for _, s := range p.sends {
		if s.Env.Type == t {
			out = append(out, s)
		}
	}
	return out
}

// fakeSubmitter records job submissions without executing them.
type fakeSubmitter struct {
	mu   sync.Mutex
	jobs map[string][]json.RawMessage
}

func (s *fakeSubmitter) Submit(queueName string, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobs == nil {
		s.jobs = make(map[string][]json.RawMessage)
	}
	s.jobs[queueName] = append(s.jobs[queueName], raw)
	return "job-1", nil
}

func (s *fakeSubmitter) count(queueName string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs[queueName])
}

// fakeSender records channel deliveries; failures and blocking are
// injectable.
type fakeSender struct {
	name    string
	mu      sync.Mutex
	sent    []uint // notification ids
	failFor int    // fail the first n sends with a transient error
	block   chan struct{}
}

func (s *fakeSender) Name() string { return s.name }

func (s *fakeSender) Send(_ context.Context, _ *database.User, n *database.Notification) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFor > 0 {
		s.failFor--
		return assert.AnError
	}
	s.sent = append(s.sent, n.ID)
	return nil
}

func (s *fakeSender) delivered() []uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint(nil), s.sent...)
}

func newTestDB(t *testing.T) database.Database {
	t.Helper()
	db, err := database.NewSQLite(&config.DatabaseConfig{
		Type:   "sqlite",
		DBName: filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedUsers(t *testing.T, db database.Database) (admin, tech *database.User) {
	t.Helper()
	ctx := context.Background()
	admin = &database.User{Username: "boss", Password: "x", Role: database.RoleAdmin, Department: "Production", Email: "boss@plant.example", IsActive: true}
	tech = &database.User{Username: "wrench", Password: "x", Role: database.RoleTechnician, Department: "Production", Email: "wrench@plant.example", IsActive: true}
	require.NoError(t, db.CreateUser(ctx, admin))
	require.NoError(t, db.CreateUser(ctx, tech))
	return admin, tech
}

func TestDispatchUnknownEventType(t *testing.T) {
	d := New(zap.NewNop(), newTestDB(t), &fakePusher{}, &fakeSubmitter{}, nil, nil)
	_, err := d.Dispatch(context.Background(), Event{Type: "SOLAR_FLARE"})
	assert.ErrorContains(t, err, "unknown event type")
}

func TestDispatchFanOutPerChannel(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	admin, tech := seedUsers(t, db)

	// the technician opts out of email; the admin keeps the defaults
	// (email and in-app on, push off)
	pref := database.DefaultPreference(tech.ID)
	pref.Email = false
	require.NoError(t, db.UpdatePreference(ctx, pref))

	jobs := &fakeSubmitter{}
	d := New(zap.NewNop(), db, &fakePusher{}, jobs, nil, nil)

	ids, err := d.Dispatch(ctx, Event{
		Type:     EventMaintenanceDue,
		Metadata: json.RawMessage(`{"equipmentId": 7, "department": "Production"}`),
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)

	assert.Equal(t, 2, jobs.count(cnst.QueueInApp))
	assert.Equal(t, 1, jobs.count(cnst.QueueEmail))
	assert.Equal(t, 0, jobs.count(cnst.QueuePush))

	// the records exist regardless of delivery
	for _, recipient := range []*database.User{admin, tech} {
		items, total, err := db.ListNotifications(ctx, recipient.ID, database.NotificationFilter{})
		require.NoError(t, err)
		require.EqualValues(t, 1, total)
		n := items[0]
		assert.Equal(t, database.NotificationMaintenance, n.Type)
		assert.Equal(t, database.PriorityHigh, n.Priority)
		assert.Equal(t, "equipment", n.ReferenceType)
		assert.EqualValues(t, 7, n.ReferenceID)
		assert.False(t, n.Read)
	}
}

func TestDispatchExcludesActorAndForeignDepartments(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	admin, tech := seedUsers(t, db)
	other := &database.User{Username: "afar", Password: "x", Role: database.RoleTechnician, Department: "Logistics", IsActive: true}
	require.NoError(t, db.CreateUser(ctx, other))

	jobs := &fakeSubmitter{}
	d := New(zap.NewNop(), db, &fakePusher{}, jobs, nil, nil)

	ids, err := d.Dispatch(ctx, Event{
		Type:     EventMaintenanceDue,
		ActorID:  &tech.ID,
		Metadata: json.RawMessage(`{"equipmentId": 7, "department": "Production"}`),
	})
	require.NoError(t, err)
	require.Len(t, ids, 1)

	items, _, err := db.ListNotifications(ctx, admin.ID, database.NotificationFilter{})
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestDispatchRespectsCategoryToggle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	_, tech := seedUsers(t, db)

	pref := database.DefaultPreference(tech.ID)
	pref.MaintenanceAlerts = false
	require.NoError(t, db.UpdatePreference(ctx, pref))

	d := New(zap.NewNop(), db, &fakePusher{}, &fakeSubmitter{}, nil, nil)
	ids, err := d.Dispatch(ctx, Event{
		Type:     EventMaintenanceDue,
		Metadata: json.RawMessage(`{"department": "Production"}`),
	})
	require.NoError(t, err)
	assert.Len(t, ids, 1, "only the admin should be notified")

	_, total, err := db.ListNotifications(ctx, tech.ID, database.NotificationFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestDispatchDirectRecipient(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	_, tech := seedUsers(t, db)

	jobs := &fakeSubmitter{}
	d := New(zap.NewNop(), db, &fakePusher{}, jobs, nil, nil)

	ids, err := d.Dispatch(ctx, Event{
		Type:     EventServiceOrderAssigned,
		Metadata: json.RawMessage(`{"assigneeId": ` + jsonUint(tech.ID) + `, "serviceOrderId": 12}`),
	})
	require.NoError(t, err)
	require.Len(t, ids, 1)

	n, err := db.GetNotification(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, tech.ID, n.RecipientID)
	assert.Equal(t, "service_order", n.ReferenceType)
	assert.EqualValues(t, 12, n.ReferenceID)

	// resolution failure aborts the event entirely
	_, err = d.Dispatch(ctx, Event{
		Type:     EventServiceOrderAssigned,
		Metadata: json.RawMessage(`{"serviceOrderId": 12}`),
	})
	assert.ErrorContains(t, err, "assigneeId")
}

func TestDispatchTitleOverride(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedUsers(t, db)

	d := New(zap.NewNop(), db, &fakePusher{}, &fakeSubmitter{}, nil, nil)
	ids, err := d.Dispatch(ctx, Event{
		Type:     EventEquipmentFailure,
		Metadata: json.RawMessage(`{"equipmentId": 3, "department": "Production", "title": "Press #3 is down", "message": "Hydraulic leak reported."}`),
	})
	require.NoError(t, err)
	require.NotEmpty(t, ids)

	n, err := db.GetNotification(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, "Press #3 is down", n.Title)
	assert.Equal(t, "Hydraulic leak reported.", n.Message)
	assert.Equal(t, database.PriorityUrgent, n.Priority)
}

func TestMarkRead(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	_, tech := seedUsers(t, db)

	n := &database.Notification{Type: database.NotificationSystem, RecipientID: tech.ID, Title: "t", Priority: database.PriorityNormal}
	require.NoError(t, db.CreateNotification(ctx, n))

	pusher := &fakePusher{}
	d := New(zap.NewNop(), db, pusher, &fakeSubmitter{}, nil, nil)

	assert.ErrorIs(t, d.MarkRead(ctx, 9999, tech.ID), errorx.ErrNotFound)
	assert.ErrorIs(t, d.MarkRead(ctx, n.ID, tech.ID+1), errorx.ErrForbidden)
	assert.Empty(t, pusher.sends)

	require.NoError(t, d.MarkRead(ctx, n.ID, tech.ID))
	pushes := pusher.byType(cnst.MsgNotificationRead)
	require.Len(t, pushes, 1)
	assert.Equal(t, tech.ID, pushes[0].PrincipalID)
	data := pushes[0].Env.Data.(registry.ReadData)
	assert.Equal(t, n.ID, data.NotificationID)
	assert.Zero(t, data.UnreadCount)

	// second mark is a no-op: read stays true, no extra push
	require.NoError(t, d.MarkRead(ctx, n.ID, tech.ID))
	assert.Len(t, pusher.byType(cnst.MsgNotificationRead), 1)
}

func TestMarkAllRead(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	_, tech := seedUsers(t, db)

	for i := 0; i < 3; i++ {
		require.NoError(t, db.CreateNotification(ctx, &database.Notification{
			Type: database.NotificationSystem, RecipientID: tech.ID, Title: "t", Priority: database.PriorityNormal,
		}))
	}

	pusher := &fakePusher{}
	d := New(zap.NewNop(), db, pusher, &fakeSubmitter{}, nil, nil)
	require.NoError(t, d.MarkAllRead(ctx, tech.ID))

	pushes := pusher.byType(cnst.MsgAllNotificationsRead)
	require.Len(t, pushes, 1, "bulk transition issues exactly one push")
	assert.Zero(t, pushes[0].Env.Data.(registry.ReadData).UnreadCount)

	count, err := d.UnreadCount(ctx, tech.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestUnreadCountUsesCache(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	_, tech := seedUsers(t, db)

	mr := miniredis.RunT(t)
	counter, err := cache.NewUnreadCounter(zap.NewNop(), config.RedisConfig{
		ClusterType: cnst.RedisClusterTypeNone,
		Addr:        mr.Addr(),
		TTL:         time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = counter.Close() })

	d := New(zap.NewNop(), db, &fakePusher{}, &fakeSubmitter{}, nil, nil, WithUnreadCache(counter))

	require.NoError(t, db.CreateNotification(ctx, &database.Notification{
		Type: database.NotificationSystem, RecipientID: tech.ID, Title: "t", Priority: database.PriorityNormal,
	}))

	count, err := d.UnreadCount(ctx, tech.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	// a stale cache masks direct table writes until invalidated
	n := &database.Notification{Type: database.NotificationSystem, RecipientID: tech.ID, Title: "t2", Priority: database.PriorityNormal}
	require.NoError(t, db.CreateNotification(ctx, n))
	count, err = d.UnreadCount(ctx, tech.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	// dispatcher writes invalidate
	require.NoError(t, d.MarkRead(ctx, n.ID, tech.ID))
	count, err = d.UnreadCount(ctx, tech.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestPublishEntityUpdate(t *testing.T) {
	pusher := &fakePusher{}
	d := New(zap.NewNop(), newTestDB(t), pusher, &fakeSubmitter{}, nil, nil)

	require.NoError(t, d.PublishEntityUpdate("equipment", 7, map[string]any{"status": "repaired"}, 3))
	require.NoError(t, d.PublishEntityUpdate("maintenance", 12, nil, 3))
	assert.Error(t, d.PublishEntityUpdate("vendor", 1, nil, 3))

	pushes := pusher.byType(cnst.MsgEquipmentUpdated)
	require.Len(t, pushes, 1)
	assert.Equal(t, "equipment_7", pushes[0].Room)
	data := pushes[0].Env.Data.(registry.EntityUpdateData)
	assert.EqualValues(t, 7, data.EntityID)
	assert.EqualValues(t, 3, data.ActorID)
	assert.Equal(t, "repaired", data.Changes["status"])
	assert.False(t, data.Timestamp.IsZero())

	pushes = pusher.byType(cnst.MsgMaintenanceUpdated)
	require.Len(t, pushes, 1)
	assert.Equal(t, "maintenance_12", pushes[0].Room)
}

func jsonUint(v uint) string {
	raw, _ := json.Marshal(v)
	return string(raw)
}
