package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"chorus/presence/models"
	"chorus/presence/store"
	"chorus/presence/utils"
)

type PresenceHandler struct {
	service PresenceService
	logger  *utils.Logger
}

func NewPresenceHandler(service PresenceService, logger *utils.Logger) *PresenceHandler {
	return &PresenceHandler{
		service: service,
		logger:  logger,
	}
}

// Start handles POST /presence/start
func (h *PresenceHandler) Start(c *gin.Context) {
	var req models.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.service.StartSession(c.Request.Context(), req.UserID, req.SessionID, req.Metadata); err != nil {
		h.logger.Error("failed to start presence session", "user_id", req.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// Heartbeat handles POST /presence/heartbeat
func (h *PresenceHandler) Heartbeat(c *gin.Context) {
	var req models.HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	beat := models.HeartbeatUpdate{
		ClientTime:        req.ClientTime,
		ConnectionQuality: req.ConnectionQuality,
	}
	if err := h.service.Heartbeat(c.Request.Context(), req.UserID, beat); err != nil {
		if errors.Is(err, store.ErrNoSession) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no active session"})
			return
		}
		h.logger.Error("failed to write heartbeat", "user_id", req.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to write heartbeat"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// SetStatus handles POST /presence/status
func (h *PresenceHandler) SetStatus(c *gin.Context) {
	var req models.StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !req.Status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}

	if err := h.service.SetStatus(c.Request.Context(), req.UserID, req.Status); err != nil {
		if errors.Is(err, store.ErrNoSession) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no active session"})
			return
		}
		h.logger.Error("failed to set status", "user_id", req.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to set status"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// Stop handles POST /presence/stop
func (h *PresenceHandler) Stop(c *gin.Context) {
	var req models.StopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.service.EndSession(c.Request.Context(), req.UserID, req.SessionID); err != nil {
		h.logger.Error("failed to stop presence session", "user_id", req.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to stop session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success"})
}
