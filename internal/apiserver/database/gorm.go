package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// ErrRecordNotFound is returned when a looked-up row does not exist.
var ErrRecordNotFound = errors.New("record not found")

// gormDB implements Database over a gorm connection; the dialector is
// chosen by the driver-specific constructors.
type gormDB struct {
	db *gorm.DB
}

func newGormDB(dialector gorm.Dialector) (*gormDB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&User{}, &Notification{}, &NotificationPreference{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &gormDB{db: db}, nil
}

// SeedSuperAdmin creates the configured super admin account if no user
// with that name exists yet.
func (g *gormDB) SeedSuperAdmin(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return nil
	}
	var count int64
	if err := g.db.WithContext(ctx).Model(&User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return g.db.WithContext(ctx).Create(&User{
		Username: username,
		Password: string(hash),
		Role:     RoleAdmin,
		IsActive: true,
	}).Error
}

func (g *gormDB) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (g *gormDB) GetUser(ctx context.Context, id uint) (*User, error) {
	var user User
	err := g.db.WithContext(ctx).First(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecordNotFound
	}
	return &user, err
}

func (g *gormDB) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var user User
	err := g.db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecordNotFound
	}
	return &user, err
}

func (g *gormDB) CreateUser(ctx context.Context, user *User) error {
	return g.db.WithContext(ctx).Create(user).Error
}

func (g *gormDB) ListRecipients(ctx context.Context, roles []UserRole, department string) ([]*User, error) {
	var users []*User
	q := g.db.WithContext(ctx).Where("is_active = ?", true)
	if len(roles) > 0 {
		q = q.Where("role IN ?", roles)
	}
	if department != "" {
		q = q.Where("department = ?", department)
	}
	err := q.Find(&users).Error
	return users, err
}

func (g *gormDB) CreateNotification(ctx context.Context, n *Notification) error {
	return g.db.WithContext(ctx).Create(n).Error
}

func (g *gormDB) GetNotification(ctx context.Context, id uint) (*Notification, error) {
	var n Notification
	err := g.db.WithContext(ctx).First(&n, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecordNotFound
	}
	return &n, err
}

func (g *gormDB) ListNotifications(ctx context.Context, recipientID uint, filter NotificationFilter) ([]*Notification, int64, error) {
	q := g.db.WithContext(ctx).Model(&Notification{}).Where("recipient_id = ?", recipientID)
	if filter.Read != nil {
		q = q.Where("is_read = ?", *filter.Read)
	}
	if filter.Type != "" {
		q = q.Where("type = ?", filter.Type)
	}
	if filter.Priority != "" {
		q = q.Where("priority = ?", filter.Priority)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize < 1 || pageSize > 200 {
		pageSize = 20
	}

	var items []*Notification
	err := q.Order("created_at desc").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&items).Error
	return items, total, err
}

func (g *gormDB) MarkNotificationRead(ctx context.Context, id uint) (bool, error) {
	res := g.db.WithContext(ctx).
		Model(&Notification{}).
		Where("id = ? AND is_read = ?", id, false).
		Update("is_read", true)
	return res.RowsAffected > 0, res.Error
}

func (g *gormDB) MarkAllNotificationsRead(ctx context.Context, recipientID uint) (int64, error) {
	res := g.db.WithContext(ctx).
		Model(&Notification{}).
		Where("recipient_id = ? AND is_read = ?", recipientID, false).
		Update("is_read", true)
	return res.RowsAffected, res.Error
}

func (g *gormDB) DeleteNotification(ctx context.Context, id uint) error {
	res := g.db.WithContext(ctx).Delete(&Notification{}, id)
	if res.Error == nil && res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return res.Error
}

func (g *gormDB) CountUnread(ctx context.Context, recipientID uint) (int64, error) {
	var count int64
	err := g.db.WithContext(ctx).
		Model(&Notification{}).
		Where("recipient_id = ? AND is_read = ?", recipientID, false).
		Count(&count).Error
	return count, err
}

func (g *gormDB) RecordDeliveryFailure(ctx context.Context, id uint, channel, reason string) error {
	msg := fmt.Sprintf("%s: %s (%s)", channel, reason, time.Now().UTC().Format(time.RFC3339))
	return g.db.WithContext(ctx).
		Model(&Notification{}).
		Where("id = ?", id).
		Update("delivery_error", msg).Error
}

func (g *gormDB) PurgeNotifications(ctx context.Context, olderThan time.Time) (int64, error) {
	res := g.db.WithContext(ctx).
		Where("is_read = ? AND created_at < ?", true, olderThan).
		Delete(&Notification{})
	return res.RowsAffected, res.Error
}

func (g *gormDB) GetPreference(ctx context.Context, userID uint) (*NotificationPreference, error) {
	var pref NotificationPreference
	err := g.db.WithContext(ctx).Where("user_id = ?", userID).First(&pref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DefaultPreference(userID), nil
	}
	return &pref, err
}

func (g *gormDB) UpdatePreference(ctx context.Context, pref *NotificationPreference) error {
	var existing NotificationPreference
	err := g.db.WithContext(ctx).Where("user_id = ?", pref.UserID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return g.db.WithContext(ctx).Create(pref).Error
	}
	if err != nil {
		return err
	}
	pref.ID = existing.ID
	return g.db.WithContext(ctx).Save(pref).Error
}
