package session

import (
	"context"
	"sync"
	"time"
)

// Manager owns the live controllers, at most one per issuer. Starting a
// session while the issuer already has one creating or active fails with
// ErrSessionActive; expired or closed leftovers are ended and replaced.
type Manager struct {
	store     Store
	window    time.Duration
	tickEvery time.Duration
	pollEvery time.Duration

	mu   sync.Mutex
	live map[string]*Controller
}

func NewManager(store Store, window, tickEvery, pollEvery time.Duration) *Manager {
	return &Manager{
		store:     store,
		window:    window,
		tickEvery: tickEvery,
		pollEvery: pollEvery,
		live:      make(map[string]*Controller),
	}
}

func (m *Manager) Start(ctx context.Context, issuerID string, course Course) (Record, error) {
	m.mu.Lock()
	leftover := m.live[issuerID]
	if leftover != nil {
		switch leftover.Snapshot().State {
		case StateExpired, StateClosed:
			// ended and replaced below
		default:
			m.mu.Unlock()
			return Record{}, ErrSessionActive
		}
	}
	// claim the slot before releasing the lock; a concurrent Start for the
	// same issuer must hit the conflict above, not race for the map entry
	ctrl := NewController(m.store, m.window, m.tickEvery, m.pollEvery)
	m.live[issuerID] = ctrl
	m.mu.Unlock()

	if leftover != nil {
		_ = leftover.End(ctx)
	}

	rec, err := ctrl.Start(ctx, course, issuerID)
	if err != nil {
		m.mu.Lock()
		if m.live[issuerID] == ctrl {
			delete(m.live, issuerID)
		}
		m.mu.Unlock()
		return Record{}, err
	}
	return rec, nil
}

// Get returns the issuer's live controller, if any.
func (m *Manager) Get(issuerID string) (*Controller, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctrl, ok := m.live[issuerID]
	return ctrl, ok
}

// End closes the issuer's live session. No-op when none exists.
func (m *Manager) End(ctx context.Context, issuerID string) error {
	m.mu.Lock()
	ctrl, ok := m.live[issuerID]
	delete(m.live, issuerID)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return ctrl.End(ctx)
}

// Shutdown ends every live session; used on server shutdown so no poller
// outlives the process teardown.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	ctrls := make([]*Controller, 0, len(m.live))
	for _, ctrl := range m.live {
		ctrls = append(ctrls, ctrl)
	}
	m.live = make(map[string]*Controller)
	m.mu.Unlock()
	for _, ctrl := range ctrls {
		_ = ctrl.End(ctx)
	}
}
