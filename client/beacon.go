package client

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"chorus/presence/models"
	"chorus/presence/utils"
)

// Beacon delivers the best-effort disconnect notification. Fire returns
// immediately and the delivery is never awaited or retried: the calling
// context may be tearing down and cannot wait for a response.
type Beacon struct {
	endpoint string
	client   *http.Client
	logger   *utils.Logger
}

func NewBeacon(endpoint string, logger *utils.Logger) *Beacon {
	return &Beacon{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 5 * time.Second},
		logger:   logger,
	}
}

// Fire sends the offline notification for userID and forgets about it.
func (b *Beacon) Fire(userID string) {
	payload := models.DisconnectRequest{
		UserID:    userID,
		Action:    "offline",
		Timestamp: time.Now().UnixMilli(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}

	go func() {
		resp, err := b.client.Post(b.endpoint, "application/json", bytes.NewReader(body))
		if err != nil {
			// The record is cleaned up eventually by staleness-aware readers.
			b.logger.Debug("beacon delivery failed", "user_id", userID, "error", err)
			return
		}
		resp.Body.Close()
	}()
}
