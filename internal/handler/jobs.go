package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"skywatch/internal/repository"
)

type JobHandler struct {
	Store repository.Store
}

func (h *JobHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/jobs")
	group.GET("", h.listJobs)
	group.GET("/:job_id", h.getJob)
}

func (h *JobHandler) listJobs(c *gin.Context) {
	if h.Store == nil {
		Error(c, http.StatusInternalServerError, "store unavailable", nil)
		return
	}
	params := repository.ListJobsParams{
		EventID: strings.TrimSpace(c.Query("event_id")),
		Status:  strings.TrimSpace(c.Query("status")),
		Limit:   intQuery(c, "limit", 100),
	}
	items, err := h.Store.ListJobs(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, map[string]any{"limit": params.Limit, "count": len(items)})
}

func (h *JobHandler) getJob(c *gin.Context) {
	if h.Store == nil {
		Error(c, http.StatusInternalServerError, "store unavailable", nil)
		return
	}
	jobID := strings.TrimSpace(c.Param("job_id"))
	if jobID == "" {
		Error(c, http.StatusBadRequest, "job_id required", nil)
		return
	}
	job, err := h.Store.GetJob(c.Request.Context(), jobID)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if job == nil {
		Error(c, http.StatusNotFound, "job not found", nil)
		return
	}
	Ok(c, job, nil)
}
