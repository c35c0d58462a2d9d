package models

import "time"

// Status reflects page focus/visibility reported by the client. It is a UI
// signal and says nothing about network liveness; liveness is proven by
// heartbeats reaching the server.
type Status string

const (
	StatusActive Status = "active"
	StatusIdle   Status = "idle"
	StatusAway   Status = "away"
)

// Valid reports whether s is one of the known presence statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusIdle, StatusAway:
		return true
	}
	return false
}

// maxMetadataLen bounds the descriptive metadata fields.
const maxMetadataLen = 256

// PresenceRecord exists for a user exactly while that user is online. It is
// keyed by user id, so creation is idempotent.
type PresenceRecord struct {
	UserID       string    `json:"user_id"`
	IsOnline     bool      `json:"is_online"`
	Status       Status    `json:"status,omitempty"`
	LastSeen     time.Time `json:"last_seen"`
	SessionStart time.Time `json:"session_start"`
	SessionID    string    `json:"session_id"`

	// Heartbeat is the client-side epoch-millis timestamp of the last
	// successful heartbeat write, kept for staleness diagnostics.
	Heartbeat int64 `json:"heartbeat,omitempty"`

	UserAgent         string `json:"user_agent,omitempty"`
	Platform          string `json:"platform,omitempty"`
	ConnectionType    string `json:"connection_type,omitempty"`
	ConnectionQuality string `json:"connection_quality,omitempty"`
}

// SessionDuration returns whole minutes elapsed since the session started.
func (p *PresenceRecord) SessionDuration(now time.Time) int {
	if p.SessionStart.IsZero() {
		return 0
	}
	return int(now.Sub(p.SessionStart).Minutes())
}

// Metadata carries the best-effort descriptive fields supplied at session
// start.
type Metadata struct {
	UserAgent         string `json:"user_agent,omitempty"`
	Platform          string `json:"platform,omitempty"`
	ConnectionType    string `json:"connection_type,omitempty"`
	ConnectionQuality string `json:"connection_quality,omitempty"`
}

// Truncated returns a copy with every field clipped to the metadata bound.
func (m Metadata) Truncated() Metadata {
	return Metadata{
		UserAgent:         truncate(m.UserAgent),
		Platform:          truncate(m.Platform),
		ConnectionType:    truncate(m.ConnectionType),
		ConnectionQuality: truncate(m.ConnectionQuality),
	}
}

func truncate(s string) string {
	if len(s) > maxMetadataLen {
		return s[:maxMetadataLen]
	}
	return s
}

// HeartbeatUpdate is the per-tick liveness refresh written by the heartbeat
// engine.
type HeartbeatUpdate struct {
	// ClientTime is the client-side epoch millis of the tick.
	ClientTime int64 `json:"client_time"`
	// ConnectionQuality is recomputed by the client on each tick.
	ConnectionQuality string `json:"connection_quality,omitempty"`
}

type StartRequest struct {
	UserID    string   `json:"user_id" binding:"required"`
	SessionID string   `json:"session_id" binding:"required"`
	Metadata  Metadata `json:"metadata"`
}

type HeartbeatRequest struct {
	UserID            string `json:"user_id" binding:"required"`
	ClientTime        int64  `json:"client_time"`
	ConnectionQuality string `json:"connection_quality"`
}

type StatusRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Status Status `json:"status" binding:"required"`
}

type StopRequest struct {
	UserID    string `json:"user_id" binding:"required"`
	SessionID string `json:"session_id"`
}

// DisconnectRequest is the beacon payload fired on page teardown.
type DisconnectRequest struct {
	UserID    string `json:"userId"`
	Action    string `json:"action"`
	Timestamp int64  `json:"timestamp"`
}

type DisconnectResponse struct {
	Success          bool   `json:"success"`
	Cached           bool   `json:"cached,omitempty"`
	Error            string `json:"error,omitempty"`
	ProcessingTimeMS int64  `json:"processing_time_ms"`
}

type StatusResponse struct {
	UserID          string    `json:"user_id"`
	Status          Status    `json:"status,omitempty"`
	LastSeen        time.Time `json:"last_seen"`
	IsOnline        bool      `json:"is_online"`
	SessionDuration int       `json:"session_duration"`
}

type OnlineUser struct {
	PresenceRecord
	SessionDuration int `json:"session_duration"`
}

type OnlineUsersResponse struct {
	Count int          `json:"count"`
	Users []OnlineUser `json:"users"`
}
