package client

import (
	"context"

	"chorus/presence/models"
)

// heartbeatLoop refreshes the liveness timestamp on every tick until the
// session stops or retries are exhausted. Exactly one loop runs per session;
// the ticker is owned by the session and stopped before a new one can exist.
func (t *Tracker) heartbeatLoop(sess *session) {
	for {
		select {
		case <-sess.done:
			return
		case <-sess.ticker.C:
			if t.beat(sess) {
				continue
			}
			// Sustained failure: a degraded connection must not hold a false
			// "online" state, so tear down and try again from scratch.
			t.logger.Warn("heartbeat retries exhausted, restarting session",
				"user_id", sess.userID, "retries", sess.retries)
			go t.restart(sess.userID, sess.meta)
			return
		}
	}
}

// beat performs one heartbeat write. It returns false once consecutive
// failures reach the retry bound.
func (t *Tracker) beat(sess *session) bool {
	// Debounce: a tick arriving too soon after the last successful write is
	// skipped, so duplicate ticks never double-write.
	if t.clock.Since(sess.lastBeat) < t.opts.HeartbeatDebounce {
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.opts.WriteTimeout)
	defer cancel()

	update := models.HeartbeatUpdate{
		ClientTime:        t.clock.Now().UnixMilli(),
		ConnectionQuality: t.connectionQuality(sess),
	}
	if err := t.store.Heartbeat(ctx, sess.userID, update); err != nil {
		sess.retries++
		t.logger.Warn("heartbeat write failed",
			"user_id", sess.userID, "attempt", sess.retries, "error", err)
		return sess.retries < t.opts.MaxHeartbeatRetries
	}

	sess.retries = 0
	sess.lastBeat = t.clock.Now()
	return true
}

// connectionQuality recomputes the best-effort quality hint written with each
// heartbeat. Recent failures degrade it.
func (t *Tracker) connectionQuality(sess *session) string {
	switch {
	case sess.retries == 0:
		return "good"
	case sess.retries == 1:
		return "degraded"
	default:
		return "poor"
	}
}
