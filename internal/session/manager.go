// Package session owns the connection lifecycle state machine. One
// manager owns at most one driver at a time, consumes its lifecycle
// events on a single goroutine per driver generation, and applies the
// self-healing restart policy (bounded exponential backoff) on auth
// failures and disconnects.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/goblast/internal/driver"
	"github.com/nextlevelbuilder/goblast/internal/queue"
)

// State is the connection lifecycle state. Exactly one is active at a
// time; transitions happen only through the manager's event handlers
// and the Start/Stop verbs.
type State string

const (
	StateDisconnected    State = "disconnected"
	StateInitializing    State = "initializing"
	StateAwaitingPairing State = "awaiting_pairing"
	StateAuthenticating  State = "authenticating"
	StateConnected       State = "connected"
	StateDisconnecting   State = "disconnecting"
)

// PairingChallenge is the QR payload presented during first-time
// authentication. Present only while awaiting pairing.
type PairingChallenge struct {
	Code     string
	IssuedAt time.Time
}

// Snapshot is the read-only view returned by Status. Can I send right
// now == State == StateConnected.
type Snapshot struct {
	State            State
	PairingChallenge *PairingChallenge
	RestartAttempts  int
	LastError        string
}

// Notifier receives a snapshot after every state transition. Must not
// block; the gateway uses it to push WebSocket events.
type Notifier func(Snapshot)

// BackoffConfig bounds the self-healing restart loop. The original
// behavior restarted unconditionally, which loops forever on a
// permanently bad credential; attempts are capped instead and the
// persistent failure is surfaced through Status.
type BackoffConfig struct {
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	MaxAttempts int
}

// DefaultBackoff returns the default restart policy.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		Initial:     2 * time.Second,
		Max:         2 * time.Minute,
		Multiplier:  2.0,
		MaxAttempts: 8,
	}
}

// Manager implements the connection state machine.
type Manager struct {
	factory driver.Factory
	creds   driver.CredentialStore
	queue   *queue.DeliveryQueue
	backoff BackoffConfig

	mu        sync.Mutex
	state     State
	challenge *PairingChallenge
	drv       driver.Driver
	gen       uint64 // driver generation; events from older generations are ignored
	attempts  int
	lastErr   string
	stopping  bool // explicit Stop: suppress auto-restart
	restart   *time.Timer
	notify    Notifier
}

// NewManager creates a manager in the disconnected state. Start must be
// called to bring the session up.
func NewManager(factory driver.Factory, creds driver.CredentialStore, q *queue.DeliveryQueue, backoff BackoffConfig) *Manager {
	if backoff.Initial <= 0 {
		backoff = DefaultBackoff()
	}
	return &Manager{
		factory: factory,
		creds:   creds,
		queue:   q,
		backoff: backoff,
		state:   StateDisconnected,
	}
}

// SetNotifier registers the state-change hook. Call before Start.
func (m *Manager) SetNotifier(n Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notify = n
}

// Status returns the latest known state. Never blocks on transitions.
func (m *Manager) Status() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Connected reports whether sends may be issued right now.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateConnected
}

// Start brings the session up. Idempotent: a call while the session is
// anywhere between initializing and connected is a no-op; it only takes
// effect from disconnected.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return nil
	}
	m.state = StateInitializing
	m.stopping = false
	gen := m.gen
	m.mu.Unlock()
	m.emit()

	drv, err := m.factory(ctx)
	if err != nil {
		slog.Error("session init failed", "error", err)
		m.fail(gen, fmt.Sprintf("init: %v", err), false, false)
		return fmt.Errorf("start session: %w", err)
	}

	m.mu.Lock()
	if m.gen != gen || m.state != StateInitializing {
		// Stopped while the factory was running.
		m.mu.Unlock()
		drv.Disconnect()
		return nil
	}
	m.drv = drv
	m.mu.Unlock()

	go m.eventLoop(gen, drv)
	go func() {
		if err := drv.Connect(ctx); err != nil {
			slog.Warn("session connect failed", "error", err)
			m.fail(gen, fmt.Sprintf("connect: %v", err), true, true)
		}
	}()

	slog.Info("session starting")
	return nil
}

// Stop tears the session down and wipes credentials. Always succeeds
// from the caller's perspective: the desired end-state (disconnected)
// is reached regardless, and teardown errors are only logged. No
// auto-restart happens until Start is called again.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopping = true
	if m.restart != nil {
		m.restart.Stop()
		m.restart = nil
	}
	if m.state == StateDisconnected && m.drv == nil {
		m.mu.Unlock()
		return
	}
	m.state = StateDisconnecting
	old := m.drv
	m.drv = nil
	m.gen++
	m.challenge = nil
	m.queue.Pause()
	m.mu.Unlock()
	m.emit()

	if old != nil {
		old.Disconnect()
	}
	m.wipeCredentials()

	m.mu.Lock()
	m.state = StateDisconnected
	m.mu.Unlock()
	m.emit()
	slog.Info("session stopped")
}

// --- Event handling ---

// eventLoop serializes lifecycle events for one driver generation.
func (m *Manager) eventLoop(gen uint64, drv driver.Driver) {
	for ev := range drv.Events() {
		m.handleEvent(gen, ev)
	}
}

func (m *Manager) handleEvent(gen uint64, ev driver.Event) {
	m.mu.Lock()
	if gen != m.gen {
		// Event from a torn-down driver; the replacement already owns
		// the lifecycle.
		m.mu.Unlock()
		return
	}

	switch ev.Kind {
	case driver.EventPairingChallenge:
		m.state = StateAwaitingPairing
		m.challenge = &PairingChallenge{Code: ev.Code, IssuedAt: ev.At}
		m.mu.Unlock()
		m.emit()
		slog.Info("pairing challenge issued")

	case driver.EventAuthenticated:
		m.state = StateAuthenticating
		m.challenge = nil
		m.mu.Unlock()
		m.emit()
		slog.Info("session authenticated")

	case driver.EventReady:
		m.state = StateConnected
		m.challenge = nil
		m.attempts = 0
		m.lastErr = ""
		drv := m.drv
		m.mu.Unlock()
		m.emit()
		m.queue.Resume(drv)
		slog.Info("session connected")

	case driver.EventAuthFailed:
		m.mu.Unlock()
		slog.Warn("session auth failed", "reason", ev.Reason)
		m.fail(gen, "auth failed: "+ev.Reason, true, false)

	case driver.EventDisconnected:
		m.mu.Unlock()
		slog.Warn("session disconnected", "reason", ev.Reason)
		m.fail(gen, ev.Reason, true, true)

	default:
		m.mu.Unlock()
	}
}

// fail moves the session to disconnected after a lifecycle failure:
// destroy the driver, wipe credentials, optionally flush queued work,
// then schedule the self-healing restart (unless explicitly stopped).
// Events for a generation newer than gen are already handling teardown.
func (m *Manager) fail(gen uint64, reason string, destroyDriver, drainQueue bool) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	old := m.drv
	m.drv = nil
	m.gen++
	m.state = StateDisconnected
	m.challenge = nil
	m.lastErr = reason
	stopping := m.stopping
	m.queue.Pause()
	m.mu.Unlock()

	if drainQueue {
		m.queue.DrainAll(queue.TransportError("disconnected"))
	}
	if destroyDriver && old != nil {
		old.Disconnect()
	}

	// Wipe must complete (or at least be attempted) before the next
	// driver initializes, so a new session never reads a poisoned
	// credential state.
	m.wipeCredentials()

	m.emit()
	if !stopping {
		m.scheduleRestart(reason)
	}
}

// scheduleRestart arms the backoff timer for the next Start attempt.
func (m *Manager) scheduleRestart(reason string) {
	m.mu.Lock()
	m.attempts++
	attempt := m.attempts
	if m.backoff.MaxAttempts > 0 && attempt > m.backoff.MaxAttempts {
		m.lastErr = fmt.Sprintf("giving up after %d restart attempts: %s", m.backoff.MaxAttempts, reason)
		m.mu.Unlock()
		m.emit()
		slog.Error("session restart attempts exhausted", "attempts", attempt-1, "reason", reason)
		return
	}

	delay := m.backoff.Initial
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * m.backoff.Multiplier)
		if delay >= m.backoff.Max {
			delay = m.backoff.Max
			break
		}
	}
	m.restart = time.AfterFunc(delay, func() {
		if err := m.Start(context.Background()); err != nil {
			slog.Warn("session restart failed", "error", err)
		}
	})
	m.mu.Unlock()

	slog.Info("session restart scheduled", "attempt", attempt, "delay", delay)
}

func (m *Manager) wipeCredentials() {
	if m.creds == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.creds.Wipe(ctx); err != nil {
		// Best-effort cleanup: a failed wipe never blocks
		// re-initialization.
		slog.Warn("credential wipe failed", "error", err)
	}
}

func (m *Manager) emit() {
	m.mu.Lock()
	n := m.notify
	snap := m.snapshotLocked()
	m.mu.Unlock()
	if n != nil {
		n(snap)
	}
}

// snapshotLocked copies the current state. Must be called with m.mu held.
func (m *Manager) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:           m.state,
		RestartAttempts: m.attempts,
		LastError:       m.lastErr,
	}
	if m.challenge != nil {
		c := *m.challenge
		snap.PairingChallenge = &c
	}
	return snap
}
