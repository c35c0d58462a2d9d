package models

import "time"

// UserProfile holds the per-user online flag mirrored alongside the presence
// record. The flag and the record are written by the same store operation, so
// they disagree for at most one failed-batch window.
type UserProfile struct {
	ID     uint   `gorm:"primaryKey"`
	UserID string `gorm:"uniqueIndex;size:64"`

	IsCurrentlyOnline bool       `gorm:"index"`
	LastLogin         *time.Time
	SessionEndedAt    *time.Time

	// PresenceSessionID changes on every session start so a late-finishing
	// cleanup can detect it is stale and leave a newer session alone.
	PresenceSessionID string `gorm:"size:36"`

	CreatedAt time.Time
	UpdatedAt time.Time
}
