package handlers

import (
	"context"

	"chorus/presence/models"
)

// PresenceService is the store surface the HTTP layer needs. Implemented by
// store.PresenceStore; tests substitute a fake.
type PresenceService interface {
	StartSession(ctx context.Context, userID, sessionID string, meta models.Metadata) error
	EndSession(ctx context.Context, userID, sessionID string) error
	Heartbeat(ctx context.Context, userID string, beat models.HeartbeatUpdate) error
	SetStatus(ctx context.Context, userID string, status models.Status) error
	GetPresence(ctx context.Context, userID string) (*models.PresenceRecord, error)
	IsOnline(ctx context.Context, userID string) (bool, error)
	OnlineUsers(ctx context.Context) ([]models.OnlineUser, error)
}
