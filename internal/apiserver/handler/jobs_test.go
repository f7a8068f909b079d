package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/maintrack/maintrack/internal/apiserver/database"
	"github.com/maintrack/maintrack/internal/apiserver/middleware"
	"github.com/maintrack/maintrack/internal/auth/jwt"
	"github.com/maintrack/maintrack/internal/common/config"
	"github.com/maintrack/maintrack/internal/common/errorx"
	"github.com/maintrack/maintrack/internal/queue"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newJobsEnv(t *testing.T) (*gin.Engine, *queue.Manager, *jwt.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	m := queue.NewManager(zap.NewNop(), config.QueueConfig{
		Workers:        1,
		MaxAttempts:    3,
		BackoffBase:    time.Millisecond,
		BackoffMax:     10 * time.Millisecond,
		HandlerTimeout: time.Second,
		Retention:      time.Hour,
		PurgeInterval:  time.Hour,
		PollInterval:   2 * time.Millisecond,
	}, nil)
	t.Cleanup(m.Stop)

	jwtService, err := jwt.NewService(config.JWTConfig{
		SecretKey: "this-is-a-very-long-secret-key-for-testing",
		Duration:  time.Hour,
	})
	require.NoError(t, err)

	h := NewJobsHandler(m, errorx.NewErrorHandler(zap.NewNop()))
	router := gin.New()
	jobs := router.Group("/api/jobs", middleware.JWTAuthMiddleware(jwtService), middleware.RequireRole(database.RoleAdmin))
	jobs.GET("/queues", h.Queues)
	jobs.GET("/:id", h.Get)
	return router, m, jwtService
}

func jobsRequest(router *gin.Engine, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestJobsSurfaceIsAdminOnly(t *testing.T) {
	router, _, jwtService := newJobsEnv(t)

	token, _ := jwtService.GenerateToken(7, "wrench", "technician", "Production")
	w := jobsRequest(router, "/api/jobs/queues", token)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestQueuesEndpoint(t *testing.T) {
	router, m, jwtService := newJobsEnv(t)

	m.Register("export", func(ctx context.Context, job *queue.Job) error { return nil })
	m.Start(context.Background())

	id, err := m.Submit("export", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		state, _ := m.Status(id)
		return state == queue.StateCompleted
	}, 2*time.Second, 5*time.Millisecond)

	token, _ := jwtService.GenerateToken(1, "boss", "admin", "Management")
	w := jobsRequest(router, "/api/jobs/queues", token)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Queues []queue.QueueStats `json:"queues"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Queues, 1)
	assert.Equal(t, "export", resp.Queues[0].Queue)
	assert.Equal(t, 1, resp.Queues[0].Completed)
}

func TestJobLookupEndpoint(t *testing.T) {
	router, m, jwtService := newJobsEnv(t)
	m.Register("export", func(ctx context.Context, job *queue.Job) error { return nil })

	id, err := m.Submit("export", map[string]int{"reportId": 5})
	require.NoError(t, err)

	token, _ := jwtService.GenerateToken(1, "boss", "admin", "Management")
	w := jobsRequest(router, "/api/jobs/"+id, token)
	require.Equal(t, http.StatusOK, w.Code)

	var job queue.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	assert.Equal(t, id, job.ID)
	assert.Equal(t, "export", job.Queue)
	assert.Equal(t, queue.StateQueued, job.State)

	w = jobsRequest(router, "/api/jobs/unknown", token)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
