package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/maintrack/maintrack/internal/apiserver/database"
	"github.com/maintrack/maintrack/internal/apiserver/middleware"
	"github.com/maintrack/maintrack/internal/auth/jwt"
	"github.com/maintrack/maintrack/internal/common/config"
	"github.com/maintrack/maintrack/internal/common/errorx"
	"github.com/maintrack/maintrack/internal/notifier"
	"github.com/maintrack/maintrack/internal/registry"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type nopPusher struct{}

func (nopPusher) SendToPrincipal(uint, registry.Envelope) {}
func (nopPusher) Broadcast(string, registry.Envelope)     {}

type nopSubmitter struct{}

func (nopSubmitter) Submit(string, any) (string, error) { return "job-1", nil }

type testEnv struct {
	db     database.Database
	jwt    *jwt.Service
	router *gin.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.NewSQLite(&config.DatabaseConfig{
		Type:   "sqlite",
		DBName: filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	jwtService, err := jwt.NewService(config.JWTConfig{
		SecretKey: "this-is-a-very-long-secret-key-for-testing",
		Duration:  time.Hour,
	})
	require.NoError(t, err)

	dispatcher := notifier.New(zap.NewNop(), db, nopPusher{}, nopSubmitter{}, nil, nil)
	errs := errorx.NewErrorHandler(zap.NewNop())
	h := NewNotificationHandler(db, dispatcher, errs)

	router := gin.New()
	authorized := router.Group("/api", middleware.JWTAuthMiddleware(jwtService))
	notifications := authorized.Group("/notifications")
	notifications.GET("", h.List)
	notifications.GET("/unread-count", h.UnreadCount)
	notifications.PUT("/read-all", h.MarkAllRead)
	notifications.PUT("/:id/read", h.MarkRead)
	notifications.DELETE("/:id", h.Delete)
	notifications.GET("/preferences", h.GetPreferences)
	notifications.PUT("/preferences", h.UpdatePreferences)

	return &testEnv{db: db, jwt: jwtService, router: router}
}

func (e *testEnv) addUser(t *testing.T, username string, role database.UserRole) (*database.User, string) {
	t.Helper()
	u := &database.User{Username: username, Password: "x", Role: role, Department: "Production", IsActive: true}
	require.NoError(t, e.db.CreateUser(context.Background(), u))
	token, err := e.jwt.GenerateToken(u.ID, u.Username, string(u.Role), u.Department)
	require.NoError(t, err)
	return u, token
}

func (e *testEnv) request(method, path, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) addNotification(t *testing.T, recipientID uint, read bool) *database.Notification {
	t.Helper()
	n := &database.Notification{
		Type:        database.NotificationSystem,
		RecipientID: recipientID,
		Title:       "t",
		Priority:    database.PriorityNormal,
	}
	require.NoError(t, e.db.CreateNotification(context.Background(), n))
	if read {
		_, err := e.db.MarkNotificationRead(context.Background(), n.ID)
		require.NoError(t, err)
	}
	return n
}

func TestNotificationsRequireAuth(t *testing.T) {
	e := newTestEnv(t)
	w := e.request(http.MethodGet, "/api/notifications", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestListNotifications(t *testing.T) {
	e := newTestEnv(t)
	user, token := e.addUser(t, "alice", database.RoleUser)
	other, _ := e.addUser(t, "bob", database.RoleUser)

	e.addNotification(t, user.ID, false)
	e.addNotification(t, user.ID, true)
	e.addNotification(t, other.ID, false)

	w := e.request(http.MethodGet, "/api/notifications", token, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Items []database.Notification `json:"items"`
		Total int64                   `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.EqualValues(t, 2, resp.Total, "only the caller's notifications")

	// unread filter
	w = e.request(http.MethodGet, "/api/notifications?read=false", token, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.EqualValues(t, 1, resp.Total)

	w = e.request(http.MethodGet, "/api/notifications?read=banana", token, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUnreadCountEndpoint(t *testing.T) {
	e := newTestEnv(t)
	user, token := e.addUser(t, "alice", database.RoleUser)
	e.addNotification(t, user.ID, false)
	e.addNotification(t, user.ID, false)

	w := e.request(http.MethodGet, "/api/notifications/unread-count", token, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"count": 2}`, w.Body.String())
}

func TestMarkReadEndpoint(t *testing.T) {
	e := newTestEnv(t)
	user, token := e.addUser(t, "alice", database.RoleUser)
	_, otherToken := e.addUser(t, "bob", database.RoleUser)
	n := e.addNotification(t, user.ID, false)

	w := e.request(http.MethodPut, fmt.Sprintf("/api/notifications/%d/read", n.ID), token, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	// idempotent
	w = e.request(http.MethodPut, fmt.Sprintf("/api/notifications/%d/read", n.ID), token, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	// not the recipient
	w = e.request(http.MethodPut, fmt.Sprintf("/api/notifications/%d/read", n.ID), otherToken, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.request(http.MethodPut, "/api/notifications/99999/read", token, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.request(http.MethodPut, "/api/notifications/banana/read", token, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMarkAllReadEndpoint(t *testing.T) {
	e := newTestEnv(t)
	user, token := e.addUser(t, "alice", database.RoleUser)
	e.addNotification(t, user.ID, false)
	e.addNotification(t, user.ID, false)

	w := e.request(http.MethodPut, "/api/notifications/read-all", token, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = e.request(http.MethodGet, "/api/notifications/unread-count", token, "")
	assert.JSONEq(t, `{"count": 0}`, w.Body.String())
}

func TestDeleteEndpoint(t *testing.T) {
	e := newTestEnv(t)
	user, token := e.addUser(t, "alice", database.RoleUser)
	_, otherToken := e.addUser(t, "bob", database.RoleUser)
	n := e.addNotification(t, user.ID, false)

	w := e.request(http.MethodDelete, fmt.Sprintf("/api/notifications/%d", n.ID), otherToken, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.request(http.MethodDelete, fmt.Sprintf("/api/notifications/%d", n.ID), token, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = e.request(http.MethodDelete, fmt.Sprintf("/api/notifications/%d", n.ID), token, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPreferencesEndpoints(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.addUser(t, "alice", database.RoleUser)

	// defaults apply before any record exists
	w := e.request(http.MethodGet, "/api/notifications/preferences", token, "")
	require.Equal(t, http.StatusOK, w.Code)
	var pref database.NotificationPreference
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pref))
	assert.True(t, pref.Email)
	assert.True(t, pref.InApp)
	assert.False(t, pref.Push)

	w = e.request(http.MethodPut, "/api/notifications/preferences", token,
		`{"email": false, "push": true, "in_app": true, "maintenanceAlerts": true, "serviceOrderAlerts": true, "equipmentAlerts": true, "systemAlerts": false}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = e.request(http.MethodGet, "/api/notifications/preferences", token, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pref))
	assert.False(t, pref.Email)
	assert.True(t, pref.Push)
	assert.False(t, pref.SystemAlerts)
}
