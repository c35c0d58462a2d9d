package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"chorus/presence/models"
	"chorus/presence/services"
	"chorus/presence/store"
	"chorus/presence/utils"
)

const (
	// actionOffline is the only action the cleanup endpoint supports.
	actionOffline = "offline"

	// minUserIDLen rejects trivially malformed user ids.
	minUserIDLen = 3

	unavailableRetryAfter = 30 * time.Second
)

// CleanupHandler receives the disconnect beacon fired at page teardown and
// performs the same atomic "mark offline" write a graceful stop would.
type CleanupHandler struct {
	service PresenceService
	dedup   *services.DedupCache
	logger  *utils.Logger
}

func NewCleanupHandler(service PresenceService, dedup *services.DedupCache, logger *utils.Logger) *CleanupHandler {
	return &CleanupHandler{
		service: service,
		dedup:   dedup,
		logger:  logger,
	}
}

// Disconnect handles POST /presence/disconnect
func (h *CleanupHandler) Disconnect(c *gin.Context) {
	start := time.Now()

	var req models.DisconnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.DisconnectResponse{
			Success:          false,
			Error:            "invalid payload",
			ProcessingTimeMS: time.Since(start).Milliseconds(),
		})
		return
	}

	if len(req.UserID) < minUserIDLen {
		c.JSON(http.StatusBadRequest, models.DisconnectResponse{
			Success:          false,
			Error:            "invalid user id",
			ProcessingTimeMS: time.Since(start).Milliseconds(),
		})
		return
	}
	if req.Action != actionOffline {
		c.JSON(http.StatusBadRequest, models.DisconnectResponse{
			Success:          false,
			Error:            "unsupported action",
			ProcessingTimeMS: time.Since(start).Milliseconds(),
		})
		return
	}

	key := req.UserID + ":" + req.Action
	if h.dedup.Seen(key) {
		h.logger.Debug("duplicate cleanup suppressed", "user_id", req.UserID)
		c.JSON(http.StatusOK, models.DisconnectResponse{
			Success:          true,
			Cached:           true,
			ProcessingTimeMS: time.Since(start).Milliseconds(),
		})
		return
	}

	// The beacon carries no session id, so the cleanup is unconditional for
	// this user.
	err := h.service.EndSession(c.Request.Context(), req.UserID, "")
	elapsed := time.Since(start)

	if err != nil {
		h.logger.Error("cleanup failed", "user_id", req.UserID, "error", err, "elapsed", elapsed.String())

		switch {
		case store.IsPermissionDenied(err):
			c.JSON(http.StatusForbidden, models.DisconnectResponse{
				Success:          false,
				Error:            "permission denied",
				ProcessingTimeMS: elapsed.Milliseconds(),
			})
		case store.IsUnavailable(err):
			c.Header("Retry-After", strconv.Itoa(int(unavailableRetryAfter.Seconds())))
			c.JSON(http.StatusServiceUnavailable, models.DisconnectResponse{
				Success:          false,
				Error:            "backend unavailable",
				ProcessingTimeMS: elapsed.Milliseconds(),
			})
		default:
			c.JSON(http.StatusInternalServerError, models.DisconnectResponse{
				Success:          false,
				Error:            "internal error",
				ProcessingTimeMS: elapsed.Milliseconds(),
			})
		}
		return
	}

	h.dedup.Record(key)
	h.logger.Info("cleanup processed", "user_id", req.UserID, "elapsed", elapsed.String())

	c.JSON(http.StatusOK, models.DisconnectResponse{
		Success:          true,
		ProcessingTimeMS: elapsed.Milliseconds(),
	})
}
