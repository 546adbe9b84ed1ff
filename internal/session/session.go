// Package session hosts the live check-in session lifecycle: a time-boxed
// bearer code bound to one course meeting, a countdown to expiry, and a
// polled roster of students who have checked in while the code was valid.
package session

import (
	"context"
	"errors"
	"time"
)

// State of a session controller.
type State string

const (
	StateIdle     State = "idle"
	StateCreating State = "creating"
	StateActive   State = "active"
	StateExpired  State = "expired"
	StateClosed   State = "closed"
)

var (
	ErrSessionActive = errors.New("session already active")
	ErrCourseMissing = errors.New("course required")
	ErrIssuerMissing = errors.New("issuer required")
)

// Record is the persisted session as echoed back by the store.
type Record struct {
	ID          string
	CourseID    string
	CreatedByID string
	Code        string
	ExpiresAt   time.Time
}

// AttendanceRecord is one check-in row scoped to a session.
type AttendanceRecord struct {
	ID         string
	StudentID  string
	StatusName string
}

// Identity is a display-ready student identity.
type Identity struct {
	ID   string
	Name string
}

// Course is the picker-level view of a course.
type Course struct {
	ID    string
	Title string
}

// Store is the persistence collaborator the controller reads and writes
// through. All calls are network round-trips; the controller never blocks
// its countdown on them.
type Store interface {
	CreateSession(ctx context.Context, rec Record) (Record, error)
	DeleteSession(ctx context.Context, id string) error
	ListAttendanceBySession(ctx context.Context, sessionID string) ([]AttendanceRecord, error)
	ResolveIdentity(ctx context.Context, userID string) (Identity, error)
	CountEnrolledStudents(ctx context.Context, courseID string) (int64, error)
}

// StatusPresent is the only status that counts toward the live roster.
const StatusPresent = "Present"
