package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"skywatch/internal/repository"
)

// EventHandler exposes read-only views over reception records. Write paths
// belong to the consumer; the HTTP surface never mutates dispatch state.
type EventHandler struct {
	Store repository.Store
}

func (h *EventHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/events")
	group.GET("", h.listEvents)
	group.GET("/:event_id", h.getEvent)
}

func (h *EventHandler) listEvents(c *gin.Context) {
	if h.Store == nil {
		Error(c, http.StatusInternalServerError, "store unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	items, err := h.Store.ListReceptions(c.Request.Context(), limit)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, map[string]any{"limit": limit, "count": len(items)})
}

func (h *EventHandler) getEvent(c *gin.Context) {
	if h.Store == nil {
		Error(c, http.StatusInternalServerError, "store unavailable", nil)
		return
	}
	eventID := strings.TrimSpace(c.Param("event_id"))
	if eventID == "" {
		Error(c, http.StatusBadRequest, "event_id required", nil)
		return
	}
	rec, err := h.Store.GetReception(c.Request.Context(), eventID)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if rec == nil {
		Error(c, http.StatusNotFound, "event not found", nil)
		return
	}
	jobs, err := h.Store.ListJobs(c.Request.Context(), repository.ListJobsParams{EventID: eventID})
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, gin.H{"reception": rec, "jobs": jobs}, nil)
}
