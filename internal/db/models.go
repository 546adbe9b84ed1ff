package db

import "github.com/jackc/pgx/v5/pgtype"

// QrSession is one time-boxed check-in session. Rows are immutable after
// creation; they disappear on manual close or when the sweeper collects them.
type QrSession struct {
	ID          pgtype.UUID
	CourseID    pgtype.UUID
	CreatedByID pgtype.UUID
	Code        string
	ExpiresAt   pgtype.Timestamptz
	CreatedAt   pgtype.Timestamptz
}

type User struct {
	ID   pgtype.UUID
	Name string
	Role string
}

type Course struct {
	ID        pgtype.UUID
	Title     string
	TeacherID pgtype.UUID
}

// SessionAttendanceRow is an attendance record joined with its status name.
type SessionAttendanceRow struct {
	ID         pgtype.UUID
	UserID     pgtype.UUID
	StatusName string
	CheckIn    pgtype.Timestamptz
}
