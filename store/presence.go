package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"chorus/presence/models"
	"chorus/presence/utils"
)

const (
	presenceKeyPrefix = "presence:"
	onlineSetKey      = "online_users"
)

// PresenceStore owns the presence record (Redis) and the mirrored online flag
// on the user profile (Postgres). Start and stop write both in one operation;
// liveness and status updates touch only the record.
type PresenceStore struct {
	redis      *redis.Client
	db         *gorm.DB
	logger     *utils.Logger
	staleAfter time.Duration
}

func NewPresenceStore(redisClient *redis.Client, database *gorm.DB, logger *utils.Logger, staleAfter time.Duration) *PresenceStore {
	return &PresenceStore{
		redis:      redisClient,
		db:         database,
		logger:     logger,
		staleAfter: staleAfter,
	}
}

func presenceKey(userID string) string {
	return presenceKeyPrefix + userID
}

// StartSession creates (or overwrites) the presence record and flips the
// user's online flag. The record key is the user id, so re-entry for the same
// user is an overwrite, not a duplicate.
func (s *PresenceStore) StartSession(ctx context.Context, userID, sessionID string, meta models.Metadata) error {
	now := time.Now().UTC()
	meta = meta.Truncated()

	record := models.PresenceRecord{
		UserID:            userID,
		IsOnline:          true,
		Status:            models.StatusActive,
		LastSeen:          now,
		SessionStart:      now,
		SessionID:         sessionID,
		UserAgent:         meta.UserAgent,
		Platform:          meta.Platform,
		ConnectionType:    meta.ConnectionType,
		ConnectionQuality: meta.ConnectionQuality,
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal presence record: %w", err)
	}

	// Records carry no TTL; readers apply the staleness cutoff instead.
	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, presenceKey(userID), data, 0)
	pipe.SAdd(ctx, onlineSetKey, userID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write presence record: %w", err)
	}

	if err := s.markOnline(ctx, userID, sessionID, now); err != nil {
		// Keep record and flag in agreement: undo the record write so the
		// caller can retry the whole start.
		if delErr := s.deleteRecord(context.WithoutCancel(ctx), userID); delErr != nil {
			s.logger.Error("failed to undo presence record after profile write failure",
				"user_id", userID, "error", delErr)
		}
		return fmt.Errorf("failed to mark user online: %w", err)
	}

	s.logger.Info("presence session started", "user_id", userID, "session_id", sessionID)
	return nil
}

// EndSession deletes the presence record and clears the online flag. When
// sessionID is non-empty and a newer session owns the record, the call is a
// stale cleanup and a no-op.
func (s *PresenceStore) EndSession(ctx context.Context, userID, sessionID string) error {
	if sessionID != "" {
		data, err := s.redis.Get(ctx, presenceKey(userID)).Result()
		if err == nil {
			var record models.PresenceRecord
			if jsonErr := json.Unmarshal([]byte(data), &record); jsonErr == nil && record.SessionID != sessionID {
				s.logger.Debug("skipping stale session cleanup", "user_id", userID, "session_id", sessionID)
				return nil
			}
		} else if err != redis.Nil {
			return fmt.Errorf("failed to read presence record: %w", err)
		}
	}

	if err := s.deleteRecord(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete presence record: %w", err)
	}

	if err := s.markOffline(ctx, userID, sessionID); err != nil {
		return fmt.Errorf("failed to mark user offline: %w", err)
	}

	s.logger.Info("presence session ended", "user_id", userID)
	return nil
}

// Heartbeat refreshes the liveness fields on an existing record. The record
// may be rewritten concurrently with a status update; last write wins on
// last_seen, which callers tolerate.
func (s *PresenceStore) Heartbeat(ctx context.Context, userID string, beat models.HeartbeatUpdate) error {
	record, err := s.getRecord(ctx, userID)
	if err != nil {
		return err
	}

	record.LastSeen = time.Now().UTC()
	record.Heartbeat = beat.ClientTime
	if beat.ConnectionQuality != "" {
		record.ConnectionQuality = models.Metadata{ConnectionQuality: beat.ConnectionQuality}.Truncated().ConnectionQuality
	}

	return s.putRecord(ctx, record)
}

// SetStatus writes a focus/visibility status transition. Lighter weight than
// start/stop: the user profile is not touched.
func (s *PresenceStore) SetStatus(ctx context.Context, userID string, status models.Status) error {
	record, err := s.getRecord(ctx, userID)
	if err != nil {
		return err
	}

	record.Status = status
	record.LastSeen = time.Now().UTC()

	return s.putRecord(ctx, record)
}

// GetPresence returns the user's record with the staleness cutoff applied. A
// missing record means offline.
func (s *PresenceStore) GetPresence(ctx context.Context, userID string) (*models.PresenceRecord, error) {
	data, err := s.redis.Get(ctx, presenceKey(userID)).Result()
	if err != nil {
		if err == redis.Nil {
			return &models.PresenceRecord{UserID: userID, IsOnline: false}, nil
		}
		return nil, fmt.Errorf("failed to get presence: %w", err)
	}

	var record models.PresenceRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal presence record: %w", err)
	}

	// The boolean alone is not trusted: a record whose last_seen is too old
	// is reported offline even though it still exists.
	if s.Stale(record.LastSeen, time.Now()) {
		record.IsOnline = false
	}

	return &record, nil
}

// IsOnline reports whether the user has a fresh presence record.
func (s *PresenceStore) IsOnline(ctx context.Context, userID string) (bool, error) {
	record, err := s.GetPresence(ctx, userID)
	if err != nil {
		return false, err
	}
	return record.IsOnline, nil
}

// OnlineUsers returns every user with a fresh presence record and prunes
// stale or missing members out of the online set as a side effect.
func (s *PresenceStore) OnlineUsers(ctx context.Context) ([]models.OnlineUser, error) {
	userIDs, err := s.redis.SMembers(ctx, onlineSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get online users: %w", err)
	}

	if len(userIDs) == 0 {
		return []models.OnlineUser{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(userIDs))
	for i, userID := range userIDs {
		cmds[i] = pipe.Get(ctx, presenceKey(userID))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to get presence data: %w", err)
	}

	now := time.Now()
	online := []models.OnlineUser{}
	var expired []string

	for i, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil {
			if err == redis.Nil {
				expired = append(expired, userIDs[i])
				continue
			}
			s.logger.Warn("error reading presence record", "user_id", userIDs[i], "error", err)
			continue
		}

		var record models.PresenceRecord
		if err := json.Unmarshal([]byte(data), &record); err != nil {
			s.logger.Warn("error unmarshaling presence record", "user_id", userIDs[i], "error", err)
			continue
		}

		if s.Stale(record.LastSeen, now) {
			expired = append(expired, userIDs[i])
			continue
		}

		online = append(online, models.OnlineUser{
			PresenceRecord:  record,
			SessionDuration: record.SessionDuration(now),
		})
	}

	if len(expired) > 0 {
		if err := s.redis.SRem(ctx, onlineSetKey, expired).Err(); err != nil {
			s.logger.Warn("failed to prune online set", "error", err)
		}
	}

	return online, nil
}

// Stale reports whether a last-seen timestamp is too old to be trusted as
// proof of current online status.
func (s *PresenceStore) Stale(lastSeen, now time.Time) bool {
	return now.Sub(lastSeen) > s.staleAfter
}

func (s *PresenceStore) getRecord(ctx context.Context, userID string) (*models.PresenceRecord, error) {
	data, err := s.redis.Get(ctx, presenceKey(userID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("failed to read presence record: %w", err)
	}

	var record models.PresenceRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal presence record: %w", err)
	}
	return &record, nil
}

func (s *PresenceStore) putRecord(ctx context.Context, record *models.PresenceRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal presence record: %w", err)
	}
	if err := s.redis.Set(ctx, presenceKey(record.UserID), data, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("failed to write presence record: %w", err)
	}
	return nil
}

func (s *PresenceStore) deleteRecord(ctx context.Context, userID string) error {
	pipe := s.redis.TxPipeline()
	pipe.Del(ctx, presenceKey(userID))
	pipe.SRem(ctx, onlineSetKey, userID)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *PresenceStore) markOnline(ctx context.Context, userID, sessionID string, now time.Time) error {
	result := s.db.WithContext(ctx).Model(&models.UserProfile{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"is_currently_online": true,
			"last_login":          now,
			"presence_session_id": sessionID,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		profile := models.UserProfile{
			UserID:            userID,
			IsCurrentlyOnline: true,
			LastLogin:         &now,
			PresenceSessionID: sessionID,
		}
		if err := s.db.WithContext(ctx).Create(&profile).Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *PresenceStore) markOffline(ctx context.Context, userID, sessionID string) error {
	now := time.Now().UTC()
	query := s.db.WithContext(ctx).Model(&models.UserProfile{}).Where("user_id = ?", userID)
	if sessionID != "" {
		// A newer session may already own the profile row.
		query = query.Where("presence_session_id = ?", sessionID)
	}
	return query.Updates(map[string]interface{}{
		"is_currently_online": false,
		"session_ended_at":    now,
	}).Error
}
