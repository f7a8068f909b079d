package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/maintrack/maintrack/internal/common/cnst"
	"github.com/maintrack/maintrack/internal/common/errorx"
	"github.com/maintrack/maintrack/internal/queue"
)

// JobsHandler is the read-only operator surface over the job queue.
type JobsHandler struct {
	queue *queue.Manager
	errs  *errorx.ErrorHandler
}

// NewJobsHandler creates a new jobs handler
func NewJobsHandler(q *queue.Manager, errs *errorx.ErrorHandler) *JobsHandler {
	return &JobsHandler{queue: q, errs: errs}
}

// Queues returns per-state counts for every registered queue
func (h *JobsHandler) Queues(c *gin.Context) {
	names := h.queue.QueueNames()
	stats := make([]queue.QueueStats, 0, len(names))
	for _, name := range names {
		s, err := h.queue.Stats(name)
		if err != nil {
			h.errs.HandleError(c, err)
			return
		}
		stats = append(stats, s)
	}
	c.JSON(http.StatusOK, gin.H{"queues": stats})
}

// Get returns one job record by id
func (h *JobsHandler) Get(c *gin.Context) {
	job, err := h.queue.GetJob(c.Param("id"))
	if err != nil {
		if errors.Is(err, cnst.ErrJobNotFound) {
			h.errs.HandleError(c, errorx.ErrNotFound.WithMessage("job not found"))
			return
		}
		h.errs.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}
