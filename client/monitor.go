package client

import (
	"context"
	"sync"

	"chorus/presence/models"
)

// Signal is an environment event observed by the hosting application:
// network connectivity, page visibility and window focus.
type Signal int

const (
	SignalOnline Signal = iota
	SignalOffline
	SignalPageHidden
	SignalPageVisible
	SignalWindowFocus
	SignalWindowBlur
)

func (s Signal) String() string {
	switch s {
	case SignalOnline:
		return "online"
	case SignalOffline:
		return "offline"
	case SignalPageHidden:
		return "page-hidden"
	case SignalPageVisible:
		return "page-visible"
	case SignalWindowFocus:
		return "window-focus"
	case SignalWindowBlur:
		return "window-blur"
	}
	return "unknown"
}

// Monitor fans environment signals out to attached listeners. Attachment is a
// scoped resource: the returned Listener removes everything it registered on
// Close, so repeated start/stop cycles cannot leak registrations.
type Monitor struct {
	mu        sync.Mutex
	nextID    int
	listeners map[int]func(Signal)
}

func NewMonitor() *Monitor {
	return &Monitor{
		listeners: make(map[int]func(Signal)),
	}
}

// Notify delivers sig to every attached listener.
func (m *Monitor) Notify(sig Signal) {
	m.mu.Lock()
	fns := make([]func(Signal), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(sig)
	}
}

// Attach registers fn and returns its release handle.
func (m *Monitor) Attach(fn func(Signal)) *Listener {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	return &Listener{monitor: m, id: id}
}

func (m *Monitor) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners)
}

// Listener is the handle for one attached listener.
type Listener struct {
	monitor *Monitor
	id      int
}

// Close detaches the listener. Idempotent.
func (l *Listener) Close() {
	l.monitor.mu.Lock()
	defer l.monitor.mu.Unlock()
	delete(l.monitor.listeners, l.id)
}

// handleLifecycleSignal reacts to network connectivity signals. It is
// attached for the tracker's whole lifetime: connectivity returning while the
// tracker believes it is offline must be able to revive the session.
func (t *Tracker) handleLifecycleSignal(sig Signal) {
	switch sig {
	case SignalOffline:
		// Transient blips must not flap status; only heartbeat retry
		// exhaustion tears the session down.
		t.logger.Debug("network offline signal observed")
	case SignalOnline:
		t.mu.Lock()
		online := t.sess != nil
		userID, meta := t.lastUserID, t.lastMeta
		t.mu.Unlock()

		if online || userID == "" {
			return
		}
		go t.restart(userID, meta)
	}
}

// handleStatusSignal maps visibility and focus signals to status transitions.
// Attached per session and released on stop. The signals are best-effort UI
// hints, never authoritative liveness.
func (t *Tracker) handleStatusSignal(sig Signal) {
	switch sig {
	case SignalPageHidden:
		t.setStatus(models.StatusAway)
	case SignalPageVisible, SignalWindowFocus:
		t.setStatus(models.StatusActive)
	case SignalWindowBlur:
		t.setStatus(models.StatusIdle)
	}
}

// setStatus writes a status transition for the active session. Failures are
// logged only: status is cosmetic and the next heartbeat refreshes liveness
// anyway.
func (t *Tracker) setStatus(status models.Status) {
	t.mu.Lock()
	sess := t.sess
	t.mu.Unlock()

	if sess == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.opts.WriteTimeout)
	defer cancel()
	if err := t.store.SetStatus(ctx, sess.userID, status); err != nil {
		t.logger.Warn("status update failed", "user_id", sess.userID, "status", string(status), "error", err)
	}
}
