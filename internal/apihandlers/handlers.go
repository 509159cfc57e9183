package apihandlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"harvest/internal/app"
	"harvest/internal/models"
	"harvest/internal/services"
	"harvest/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const maxRequestBytes = 64 << 20

type APIHandler struct {
	App *app.App
}

func NewAPIHandler(a *app.App) *APIHandler {
	return &APIHandler{App: a}
}

type createJobResponse struct {
	JobID   uuid.UUID     `json:"job_id"`
	Status  models.Status `json:"status"`
	Message string        `json:"message"`
}

type listJobsResponse struct {
	Jobs   []*models.Job `json:"jobs"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// CreateJobHandler handles POST /api/v1/scrape.
func (h *APIHandler) CreateJobHandler(c *gin.Context) {
	var req services.CreateJobRequest
	body := http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			BadRequest(c, "request body is required")
			return
		}
		BadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	job, err := h.App.Submit(c.Request.Context(), req)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, createJobResponse{
		JobID:   job.ID,
		Status:  job.Status,
		Message: "Job queued successfully. Results will be sent to callback URL.",
	})
}

// GetJobHandler handles GET /api/v1/jobs/:id.
func (h *APIHandler) GetJobHandler(c *gin.Context) {
	id, ok := parseJobID(c)
	if !ok {
		return
	}
	job, err := h.App.JobService.GetJob(c.Request.Context(), id)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// ListJobsHandler handles GET /api/v1/jobs?status=&limit=&offset=.
func (h *APIHandler) ListJobsHandler(c *gin.Context) {
	var params store.ListJobsParams

	if raw := c.Query("status"); raw != "" {
		st, err := models.ParseStatus(raw)
		if err != nil {
			BadRequest(c, err.Error())
			return
		}
		params.Status = &st
	}
	var err error
	if params.Limit, err = queryInt(c, "limit", store.DefaultListLimit); err != nil {
		BadRequest(c, "limit must be an integer")
		return
	}
	if params.Offset, err = queryInt(c, "offset", 0); err != nil {
		BadRequest(c, "offset must be an integer")
		return
	}

	jobs, total, params, err := h.App.JobService.ListJobs(c.Request.Context(), params)
	if err != nil {
		RespondError(c, err)
		return
	}
	if jobs == nil {
		jobs = []*models.Job{}
	}
	c.JSON(http.StatusOK, listJobsResponse{Jobs: jobs, Total: total, Limit: params.Limit, Offset: params.Offset})
}

// StatsHandler handles GET /api/v1/jobs/stats.
func (h *APIHandler) StatsHandler(c *gin.Context) {
	stats, err := h.App.JobService.Stats(c.Request.Context())
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// DeleteJobHandler handles DELETE /api/v1/jobs/:id.
func (h *APIHandler) DeleteJobHandler(c *gin.Context) {
	id, ok := parseJobID(c)
	if !ok {
		return
	}
	if err := h.App.JobService.DeleteJob(c.Request.Context(), id); err != nil {
		if errors.Is(err, models.ErrConflict) {
			Conflict(c, "cannot delete a job that is processing")
			return
		}
		RespondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HealthHandler reports liveness and whether the job store answers.
func (h *APIHandler) HealthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.App.JobStore.Ping(ctx); err != nil {
		log.WithError(err).Warn("health check: job store unreachable")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": "unreachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "database": "ok"})
}

func parseJobID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		BadRequest(c, "Invalid job ID")
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
