package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/maintrack/maintrack/internal/apiserver/database"
	"github.com/maintrack/maintrack/internal/apiserver/middleware"
	"github.com/maintrack/maintrack/internal/auth/jwt"
	"golang.org/x/crypto/bcrypt"
)

// AuthHandler issues tokens for the REST and websocket surfaces
type AuthHandler struct {
	db         database.Database
	jwtService *jwt.Service
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(db database.Database, jwtService *jwt.Service) *AuthHandler {
	return &AuthHandler{db: db, jwtService: jwtService}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login handles user login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.db.GetUserByUsername(c.Request.Context(), req.Username)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid username or password"})
		return
	}

	if !user.IsActive {
		c.JSON(http.StatusForbidden, gin.H{"error": "User is disabled"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid username or password"})
		return
	}

	token, err := h.jwtService.GenerateToken(user.ID, user.Username, string(user.Role), user.Department)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"user": gin.H{
			"id":         user.ID,
			"username":   user.Username,
			"role":       user.Role,
			"department": user.Department,
		},
	})
}

// CurrentUser returns the authenticated user's profile
func (h *AuthHandler) CurrentUser(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	user, err := h.db.GetUser(c.Request.Context(), claims.UserID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, user)
}
