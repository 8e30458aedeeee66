package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"gatherly-backend/store"
)

type EventHandler struct {
	events store.EventStore
	logger *zap.Logger
}

func NewEventHandler(events store.EventStore, logger *zap.Logger) *EventHandler {
	return &EventHandler{events: events, logger: logger}
}

// GetEvent serves the event context the scanner loads before enabling
// capture.
func (h *EventHandler) GetEvent(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid event ID format"})
		return
	}

	ev, err := h.events.GetEvent(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Event not found"})
			return
		}
		h.logger.Error("failed to get event", zap.Error(err), zap.String("event_id", id.String()))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Database error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    ev,
		"message": "Event fetched successfully",
	})
}

// ListTeams returns the registered teams of an event.
func (h *EventHandler) ListTeams(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid event ID format"})
		return
	}

	teams, err := h.events.ListTeams(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("failed to list teams", zap.Error(err), zap.String("event_id", id.String()))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Database error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    teams,
		"message": "Teams fetched successfully",
	})
}
