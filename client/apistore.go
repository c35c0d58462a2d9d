package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"chorus/presence/models"
)

// APIStore implements Store against the presence service's HTTP API, for
// hosts running out of process from the store backends.
type APIStore struct {
	baseURL string
	client  *http.Client
}

func NewAPIStore(baseURL string) *APIStore {
	return &APIStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *APIStore) StartSession(ctx context.Context, userID, sessionID string, meta models.Metadata) error {
	return s.post(ctx, "/presence/start", models.StartRequest{
		UserID:    userID,
		SessionID: sessionID,
		Metadata:  meta,
	})
}

func (s *APIStore) EndSession(ctx context.Context, userID, sessionID string) error {
	return s.post(ctx, "/presence/stop", models.StopRequest{
		UserID:    userID,
		SessionID: sessionID,
	})
}

func (s *APIStore) Heartbeat(ctx context.Context, userID string, beat models.HeartbeatUpdate) error {
	return s.post(ctx, "/presence/heartbeat", models.HeartbeatRequest{
		UserID:            userID,
		ClientTime:        beat.ClientTime,
		ConnectionQuality: beat.ConnectionQuality,
	})
}

func (s *APIStore) SetStatus(ctx context.Context, userID string, status models.Status) error {
	return s.post(ctx, "/presence/status", models.StatusRequest{
		UserID: userID,
		Status: status,
	})
}

func (s *APIStore) post(ctx context.Context, path string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("presence request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("presence request to %s returned %d: %s", path, resp.StatusCode, string(msg))
	}
	return nil
}
