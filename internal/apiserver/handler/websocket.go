package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/maintrack/maintrack/internal/common/cnst"
	"github.com/maintrack/maintrack/internal/common/config"
	"github.com/maintrack/maintrack/internal/common/errorx"
	"github.com/maintrack/maintrack/internal/registry"
	"go.uber.org/zap"
)

// WSHandler upgrades HTTP requests into registry sessions and pumps
// inbound frames into the registry.
type WSHandler struct {
	logger   *zap.Logger
	registry *registry.Registry
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new websocket handler
func NewWSHandler(logger *zap.Logger, reg *registry.Registry, cfg config.WebSocketConfig) *WSHandler {
	return &WSHandler{
		logger:   logger.Named("ws"),
		registry: reg,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: cfg.HandshakeTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			CheckOrigin:      func(*http.Request) bool { return true },
		},
	}
}

// credential pulls the bearer token from the query string or the
// Authorization header. Browsers cannot set headers on websocket
// dials, so the query parameter comes first.
func credential(c *gin.Context) string {
	if token := c.Query("token"); token != "" {
		return token
	}
	auth := c.GetHeader("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// Serve handles one websocket connection for its whole lifetime. The
// upgrade happens before admission so a rejected client receives a
// close frame with a meaningful code instead of a plain HTTP error.
func (h *WSHandler) Serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	sess, err := h.registry.Admit(credential(c), conn)
	if err != nil {
		code := cnst.CloseInternalError
		reason := "internal error"
		if errors.Is(err, errorx.ErrUnauthenticated) || errors.Is(err, errorx.ErrInvalidCredential) {
			code = cnst.CloseUnauthenticated
			reason = "unauthenticated"
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
		_ = conn.Close()
		return
	}

	conn.SetPongHandler(func(string) error {
		h.registry.Touch(sess.ID)
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			h.logger.Debug("websocket read ended",
				zap.String("session_id", sess.ID),
				zap.Error(err))
			h.registry.Remove(sess.ID)
			return
		}
		h.registry.HandleInbound(sess.ID, raw)
	}
}
