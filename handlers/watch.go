package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"chorus/presence/models"
	"chorus/presence/utils"
)

// WatchHandler pushes the online-users aggregate over a WebSocket so
// dashboards get a live view without polling the REST endpoint.
type WatchHandler struct {
	service  PresenceService
	logger   *utils.Logger
	interval time.Duration
	upgrader websocket.Upgrader
}

func NewWatchHandler(service PresenceService, logger *utils.Logger, interval time.Duration) *WatchHandler {
	return &WatchHandler{
		service:  service,
		logger:   logger,
		interval: interval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Watch handles GET /presence/watch
func (h *WatchHandler) Watch(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Drain control frames and detect the peer going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	// Push the current view immediately, then on every tick.
	if err := h.push(c, conn); err != nil {
		return
	}
	for {
		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
			if err := h.push(c, conn); err != nil {
				return
			}
		}
	}
}

func (h *WatchHandler) push(c *gin.Context, conn *websocket.Conn) error {
	users, err := h.service.OnlineUsers(c.Request.Context())
	if err != nil {
		h.logger.Warn("failed to read online users for watch feed", "error", err)
		return nil
	}

	return conn.WriteJSON(models.OnlineUsersResponse{
		Count: len(users),
		Users: users,
	})
}
