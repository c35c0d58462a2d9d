package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"chorus/presence/models"
)

// GetStatus handles GET /presence/status?user_id=
func (h *PresenceHandler) GetStatus(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id parameter is required"})
		return
	}

	record, err := h.service.GetPresence(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to get presence", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get presence"})
		return
	}

	c.JSON(http.StatusOK, models.StatusResponse{
		UserID:          record.UserID,
		Status:          record.Status,
		LastSeen:        record.LastSeen,
		IsOnline:        record.IsOnline,
		SessionDuration: record.SessionDuration(time.Now()),
	})
}

// GetOnlineUsers handles GET /presence/online
func (h *PresenceHandler) GetOnlineUsers(c *gin.Context) {
	users, err := h.service.OnlineUsers(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to get online users", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get online users"})
		return
	}

	c.JSON(http.StatusOK, models.OnlineUsersResponse{
		Count: len(users),
		Users: users,
	})
}
