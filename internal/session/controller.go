package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// ErrClosed is returned by Start when the controller was torn down while the
// creation round-trip was still in flight; the created record is discarded.
var ErrClosed = errors.New("session closed")

// Controller drives one check-in session through
// idle → creating → active → expired/closed. A single goroutine owns the
// countdown and the poll schedule; poll round-trips run concurrently and
// their results are applied under a sequence guard, so a slow response can
// never overwrite a newer roster or resurrect a torn-down session.
type Controller struct {
	store     Store
	window    time.Duration
	tickEvery time.Duration
	pollEvery time.Duration

	mu        sync.Mutex
	state     State
	record    Record
	remaining int
	expected  int64
	roster    []Identity
	pollSeq   uint64
	rosterSeq uint64

	cancel context.CancelFunc
	done   chan struct{}
}

// Snapshot is the issuer-facing view of the controller at one instant.
type Snapshot struct {
	State     State
	Record    Record
	Remaining int
	Expected  int64
	Roster    []Identity
}

// CheckedIn is the derived checked-in count.
func (s Snapshot) CheckedIn() int {
	return len(s.Roster)
}

func NewController(store Store, window, tickEvery, pollEvery time.Duration) *Controller {
	if window <= 0 {
		window = 120 * time.Second
	}
	if tickEvery <= 0 {
		tickEvery = time.Second
	}
	if pollEvery <= 0 {
		pollEvery = 5 * time.Second
	}
	return &Controller{
		store:     store,
		window:    window,
		tickEvery: tickEvery,
		pollEvery: pollEvery,
		state:     StateIdle,
	}
}

// Start generates a bearer code, persists the session with
// expiresAt = now + window, and on success starts the countdown and the
// roster poller. A store failure leaves the controller idle with nothing
// rendered.
func (c *Controller) Start(ctx context.Context, course Course, issuerID string) (Record, error) {
	if course.ID == "" {
		return Record{}, ErrCourseMissing
	}
	if issuerID == "" {
		return Record{}, ErrIssuerMissing
	}

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return Record{}, ErrSessionActive
	}
	c.state = StateCreating
	c.mu.Unlock()

	code, err := NewCode()
	if err != nil {
		c.backToIdle()
		return Record{}, err
	}
	created, err := c.store.CreateSession(ctx, Record{
		CourseID:    course.ID,
		CreatedByID: issuerID,
		Code:        code,
		ExpiresAt:   time.Now().UTC().Add(c.window),
	})
	if err != nil {
		c.backToIdle()
		return Record{}, err
	}

	expected, err := c.store.CountEnrolledStudents(ctx, course.ID)
	if err != nil {
		log.Printf("enrollment count error for course %s: %v", course.ID, err)
		expected = 0
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	if c.state != StateCreating {
		// torn down while the create round-trip was in flight
		c.mu.Unlock()
		cancel()
		if err := c.store.DeleteSession(ctx, created.ID); err != nil {
			log.Printf("session delete error: %v", err)
		}
		return Record{}, ErrClosed
	}
	c.record = created
	c.remaining = int(c.window / c.tickEvery)
	c.expected = expected
	c.roster = nil
	c.pollSeq = 0
	c.rosterSeq = 0
	c.state = StateActive
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go c.run(runCtx, done)
	return created, nil
}

func (c *Controller) backToIdle() {
	c.mu.Lock()
	if c.state == StateCreating {
		c.state = StateIdle
	}
	c.mu.Unlock()
}

func (c *Controller) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	countdown := time.NewTicker(c.tickEvery)
	defer countdown.Stop()
	poll := time.NewTicker(c.pollEvery)
	defer poll.Stop()

	c.startPoll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-countdown.C:
			if c.tick() {
				// expired: the poller stops with the countdown
				return
			}
		case <-poll.C:
			c.startPoll(ctx)
		}
	}
}

// tick decrements the remaining window by one step, clamping at zero. It
// reports whether the session left the active state; reaching zero drives
// active → expired.
func (c *Controller) tick() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		return true
	}
	if c.remaining > 0 {
		c.remaining--
	}
	if c.remaining <= 0 {
		c.remaining = 0
		c.state = StateExpired
		return true
	}
	return false
}

func (c *Controller) startPoll(ctx context.Context) {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return
	}
	c.pollSeq++
	seq := c.pollSeq
	sessionID := c.record.ID
	c.mu.Unlock()

	go func() {
		roster, err := c.fetchRoster(ctx, sessionID)
		if err != nil {
			// read-only and low-frequency: log, skip the cycle, no backoff
			log.Printf("roster poll error for session %s: %v", sessionID, err)
			return
		}
		c.applyRoster(seq, roster)
	}()
}

func (c *Controller) fetchRoster(ctx context.Context, sessionID string) ([]Identity, error) {
	records, err := c.store.ListAttendanceBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(records))
	roster := make([]Identity, 0, len(records))
	for _, rec := range records {
		if rec.StatusName != StatusPresent {
			continue
		}
		if seen[rec.StudentID] {
			continue
		}
		seen[rec.StudentID] = true
		identity, err := c.store.ResolveIdentity(ctx, rec.StudentID)
		if err != nil {
			// partial failures are filtered out of the roster
			log.Printf("identity lookup error for %s: %v", rec.StudentID, err)
			continue
		}
		roster = append(roster, identity)
	}
	return roster, nil
}

func (c *Controller) applyRoster(seq uint64, roster []Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		return
	}
	if seq <= c.rosterSeq {
		return
	}
	c.rosterSeq = seq
	c.roster = roster
}

// End tears the session down: timers first, then a best-effort delete of the
// session record. Idempotent; calling with nothing live is a no-op and makes
// no store call.
func (c *Controller) End(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateIdle || c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	cancel := c.cancel
	done := c.done
	rec := c.record
	c.state = StateClosed
	c.cancel = nil
	c.done = nil
	c.record = Record{}
	c.roster = nil
	c.remaining = 0
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	if rec.ID != "" {
		if err := c.store.DeleteSession(ctx, rec.ID); err != nil {
			log.Printf("session delete error for %s: %v", rec.ID, err)
		}
	}
	return nil
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	roster := make([]Identity, len(c.roster))
	copy(roster, c.roster)
	return Snapshot{
		State:     c.state,
		Record:    c.record,
		Remaining: c.remaining,
		Expected:  c.expected,
		Roster:    roster,
	}
}
