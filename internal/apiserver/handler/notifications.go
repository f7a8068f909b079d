package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/maintrack/maintrack/internal/apiserver/database"
	"github.com/maintrack/maintrack/internal/apiserver/middleware"
	"github.com/maintrack/maintrack/internal/common/errorx"
	"github.com/maintrack/maintrack/internal/notifier"
)

// NotificationHandler is the REST surface over the notification store
// and the dispatcher's read-state operations.
type NotificationHandler struct {
	db         database.Database
	dispatcher *notifier.Dispatcher
	errs       *errorx.ErrorHandler
}

// NewNotificationHandler creates a new notification handler
func NewNotificationHandler(db database.Database, dispatcher *notifier.Dispatcher, errs *errorx.ErrorHandler) *NotificationHandler {
	return &NotificationHandler{db: db, dispatcher: dispatcher, errs: errs}
}

// List returns the caller's notifications, newest first
func (h *NotificationHandler) List(c *gin.Context) {
	claims := middleware.GetClaims(c)

	filter := database.NotificationFilter{
		Type:     database.NotificationType(c.Query("type")),
		Priority: database.NotificationPriority(c.Query("priority")),
	}
	if v := c.Query("read"); v != "" {
		read, err := strconv.ParseBool(v)
		if err != nil {
			h.errs.HandleError(c, errorx.ErrInvalidInput.WithMessage("read must be a boolean"))
			return
		}
		filter.Read = &read
	}
	filter.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	filter.PageSize, _ = strconv.Atoi(c.DefaultQuery("pageSize", "20"))

	items, total, err := h.db.ListNotifications(c.Request.Context(), claims.UserID, filter)
	if err != nil {
		h.errs.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"items":    items,
		"total":    total,
		"page":     filter.Page,
		"pageSize": filter.PageSize,
	})
}

// UnreadCount returns the caller's unread total
func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	claims := middleware.GetClaims(c)
	count, err := h.dispatcher.UnreadCount(c.Request.Context(), claims.UserID)
	if err != nil {
		h.errs.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

// MarkRead marks one notification as read
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	claims := middleware.GetClaims(c)
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		h.errs.HandleError(c, errorx.ErrInvalidInput.WithMessage("invalid notification id"))
		return
	}
	if err := h.dispatcher.MarkRead(c.Request.Context(), uint(id), claims.UserID); err != nil {
		h.errs.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// MarkAllRead marks every unread notification of the caller as read
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if err := h.dispatcher.MarkAllRead(c.Request.Context(), claims.UserID); err != nil {
		h.errs.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Delete removes one notification
func (h *NotificationHandler) Delete(c *gin.Context) {
	claims := middleware.GetClaims(c)
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		h.errs.HandleError(c, errorx.ErrInvalidInput.WithMessage("invalid notification id"))
		return
	}
	if err := h.dispatcher.Delete(c.Request.Context(), uint(id), claims.UserID); err != nil {
		h.errs.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetPreferences returns the caller's channel and category settings
func (h *NotificationHandler) GetPreferences(c *gin.Context) {
	claims := middleware.GetClaims(c)
	pref, err := h.db.GetPreference(c.Request.Context(), claims.UserID)
	if err != nil {
		h.errs.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, pref)
}

// UpdatePreferences replaces the caller's channel and category settings
func (h *NotificationHandler) UpdatePreferences(c *gin.Context) {
	claims := middleware.GetClaims(c)

	var pref database.NotificationPreference
	if err := c.ShouldBindJSON(&pref); err != nil {
		h.errs.HandleError(c, errorx.ErrInvalidInput.WithMessage("%s", err.Error()))
		return
	}
	pref.UserID = claims.UserID
	if err := h.db.UpdatePreference(c.Request.Context(), &pref); err != nil {
		h.errs.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, pref)
}
