package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"

	"chorus/presence/models"
	"chorus/presence/utils"
)

// Store is the presence backend the tracker writes to. In-process hosts use
// store.PresenceStore directly; out-of-process hosts use APIStore.
type Store interface {
	StartSession(ctx context.Context, userID, sessionID string, meta models.Metadata) error
	EndSession(ctx context.Context, userID, sessionID string) error
	Heartbeat(ctx context.Context, userID string, beat models.HeartbeatUpdate) error
	SetStatus(ctx context.Context, userID string, status models.Status) error
}

// Options tunes the tracker's timing behavior. Zero values fall back to the
// defaults below.
type Options struct {
	// HeartbeatInterval is the liveness refresh cadence.
	HeartbeatInterval time.Duration
	// HeartbeatDebounce skips a tick when the last successful write is this
	// recent, so overlapping or duplicate ticks never double-write.
	HeartbeatDebounce time.Duration
	// MaxHeartbeatRetries bounds consecutive failures before the session is
	// torn down and restarted.
	MaxHeartbeatRetries int
	// RestartCooldown is the pause between the stop and start of a restart.
	RestartCooldown time.Duration
	// WriteTimeout bounds each individual store call.
	WriteTimeout time.Duration

	// Beacon, when set, is armed for abrupt-teardown delivery via FireBeacon.
	Beacon *Beacon
	// Clock is injectable for tests.
	Clock quartz.Clock
}

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultHeartbeatDebounce = 25 * time.Second
	defaultMaxRetries        = 3
	defaultRestartCooldown   = 2 * time.Second
	defaultWriteTimeout      = 10 * time.Second
)

func (o Options) withDefaults() Options {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = defaultHeartbeatInterval
	}
	if o.HeartbeatDebounce <= 0 {
		o.HeartbeatDebounce = defaultHeartbeatDebounce
	}
	if o.MaxHeartbeatRetries <= 0 {
		o.MaxHeartbeatRetries = defaultMaxRetries
	}
	if o.RestartCooldown <= 0 {
		o.RestartCooldown = defaultRestartCooldown
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.Clock == nil {
		o.Clock = quartz.NewReal()
	}
	return o
}

// session is the state owned by one active presence session. The retry
// counter and last-beat time live here, not on the tracker, so a restart can
// never inherit a stale counter from the previous session.
type session struct {
	userID    string
	sessionID string
	meta      models.Metadata
	startedAt time.Time

	ticker   *quartz.Ticker
	done     chan struct{}
	listener *Listener

	retries  int
	lastBeat time.Time
}

// Tracker maintains at most one active presence session. It is an explicit
// instance owned by the hosting application, constructed once and passed
// around; there is no package-level singleton.
type Tracker struct {
	store   Store
	logger  *utils.Logger
	clock   quartz.Clock
	opts    Options
	beacon  *Beacon
	monitor *Monitor

	mu   sync.Mutex
	sess *session

	// lastUserID/lastMeta remember the most recent session identity so a
	// network-online signal can revive it after a failed restart.
	lastUserID string
	lastMeta   models.Metadata

	// stopping makes Stop single-flight: a concurrent duplicate returns
	// immediately instead of queuing behind the first.
	stopping atomic.Bool
}

func NewTracker(store Store, logger *utils.Logger, opts Options) *Tracker {
	opts = opts.withDefaults()
	t := &Tracker{
		store:   store,
		logger:  logger,
		clock:   opts.Clock,
		opts:    opts,
		beacon:  opts.Beacon,
		monitor: NewMonitor(),
	}
	t.monitor.Attach(t.handleLifecycleSignal)
	return t
}

// Monitor returns the connection monitor the host feeds environment signals
// into. Signals only take effect while a session is active.
func (t *Tracker) Monitor() *Monitor {
	return t.monitor
}

// Online reports the tracker's in-memory view of whether a session is active.
func (t *Tracker) Online() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sess != nil
}

// SessionDuration returns elapsed time of the active session, zero when
// offline.
func (t *Tracker) SessionDuration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sess == nil {
		return 0
	}
	return t.clock.Since(t.sess.startedAt)
}

// Start begins a presence session for userID. Calling it again for the same
// user is a no-op; calling it for a different user gracefully retires the old
// session first. On store failure the error propagates and no in-memory state
// changes, so the caller may retry.
func (t *Tracker) Start(ctx context.Context, userID string, meta models.Metadata) error {
	if userID == "" {
		return errors.New("user id is required")
	}

	t.mu.Lock()
	for t.sess != nil {
		if t.sess.userID == userID {
			t.mu.Unlock()
			return nil
		}
		// User switch: retire the current session before starting the new
		// one so nothing leaks across users. Stop runs without the lock, so
		// a concurrent Start may install another session in the window;
		// re-check until no session is left.
		t.mu.Unlock()
		t.Stop(ctx)
		t.mu.Lock()
	}
	defer t.mu.Unlock()

	sessionID := uuid.NewString()
	if err := t.store.StartSession(ctx, userID, sessionID, meta); err != nil {
		return fmt.Errorf("failed to start presence session: %w", err)
	}

	now := t.clock.Now()
	sess := &session{
		userID:    userID,
		sessionID: sessionID,
		meta:      meta,
		startedAt: now,
		done:      make(chan struct{}),
		lastBeat:  now,
	}
	sess.ticker = t.clock.NewTicker(t.opts.HeartbeatInterval)
	sess.listener = t.monitor.Attach(t.handleStatusSignal)
	t.sess = sess
	t.lastUserID = userID
	t.lastMeta = meta

	go t.heartbeatLoop(sess)

	t.logger.Info("presence session started", "user_id", userID, "session_id", sessionID)
	return nil
}

// Stop gracefully ends the active session. Safe to call when offline, and a
// concurrent duplicate is ignored. Teardown write errors are logged and
// swallowed; the in-memory state always resets to offline.
func (t *Tracker) Stop(ctx context.Context) {
	if !t.stopping.CompareAndSwap(false, true) {
		return
	}
	defer t.stopping.Store(false)

	t.mu.Lock()
	sess := t.sess
	t.sess = nil
	t.mu.Unlock()

	if sess == nil {
		return
	}

	// The ticker stops before the teardown write so no heartbeat can
	// resurrect the record after it is deleted.
	sess.ticker.Stop()
	close(sess.done)
	sess.listener.Close()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.opts.WriteTimeout)
	defer cancel()
	if err := t.store.EndSession(ctx, sess.userID, sess.sessionID); err != nil {
		t.logger.Error("presence teardown write failed", "user_id", sess.userID, "error", err)
	}

	t.logger.Info("presence session stopped", "user_id", sess.userID)
}

// FireBeacon sends the best-effort disconnect notification for the active
// session. Wire it to the host's abrupt-teardown path; a graceful Stop does
// not need it.
func (t *Tracker) FireBeacon() {
	t.mu.Lock()
	sess := t.sess
	t.mu.Unlock()

	if sess == nil || t.beacon == nil {
		return
	}
	t.beacon.Fire(sess.userID)
}

// restart tears the session down, waits out the cooldown and starts again for
// the same user. Used after heartbeat retry exhaustion and on network-online
// signals.
func (t *Tracker) restart(userID string, meta models.Metadata) {
	ctx := context.Background()
	t.Stop(ctx)

	timer := t.clock.NewTimer(t.opts.RestartCooldown)
	defer timer.Stop()
	<-timer.C

	if err := t.Start(ctx, userID, meta); err != nil {
		t.logger.Error("presence restart failed", "user_id", userID, "error", err)
	}
}
