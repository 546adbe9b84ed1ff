package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

// Sessions

type CreateSessionParams struct {
	ID          pgtype.UUID
	CourseID    pgtype.UUID
	CreatedByID pgtype.UUID
	Code        string
	ExpiresAt   pgtype.Timestamptz
	CreatedAt   pgtype.Timestamptz
}

func (q *Queries) CreateSession(ctx context.Context, arg CreateSessionParams) (QrSession, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO qr_sessions (id, course_id, created_by_id, code, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, course_id, created_by_id, code, expires_at, created_at`,
		arg.ID, arg.CourseID, arg.CreatedByID, arg.Code, arg.ExpiresAt, arg.CreatedAt,
	)
	var s QrSession
	err := row.Scan(&s.ID, &s.CourseID, &s.CreatedByID, &s.Code, &s.ExpiresAt, &s.CreatedAt)
	return s, err
}

func (q *Queries) GetSession(ctx context.Context, id pgtype.UUID) (QrSession, error) {
	row := q.db.QueryRow(ctx, `
		SELECT id, course_id, created_by_id, code, expires_at, created_at
		FROM qr_sessions WHERE id = $1`, id,
	)
	var s QrSession
	err := row.Scan(&s.ID, &s.CourseID, &s.CreatedByID, &s.Code, &s.ExpiresAt, &s.CreatedAt)
	return s, err
}

func (q *Queries) GetSessionByCode(ctx context.Context, code string) (QrSession, error) {
	row := q.db.QueryRow(ctx, `
		SELECT id, course_id, created_by_id, code, expires_at, created_at
		FROM qr_sessions WHERE code = $1`, code,
	)
	var s QrSession
	err := row.Scan(&s.ID, &s.CourseID, &s.CreatedByID, &s.Code, &s.ExpiresAt, &s.CreatedAt)
	return s, err
}

func (q *Queries) DeleteSession(ctx context.Context, id pgtype.UUID) error {
	_, err := q.db.Exec(ctx, `DELETE FROM qr_sessions WHERE id = $1`, id)
	return err
}

func (q *Queries) DeleteExpiredSessions(ctx context.Context, now pgtype.Timestamptz) (int64, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM qr_sessions WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Attendance

type CreateAttendanceParams struct {
	ID          pgtype.UUID
	UserID      pgtype.UUID
	CourseID    pgtype.UUID
	QrSessionID pgtype.UUID
	StatusName  string
	Date        pgtype.Timestamptz
	CheckIn     pgtype.Timestamptz
}

func (q *Queries) CreateAttendance(ctx context.Context, arg CreateAttendanceParams) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO attendances (id, user_id, course_id, qr_session_id, status_id, date, check_in)
		VALUES ($1, $2, $3, $4,
			(SELECT id FROM attendance_statuses WHERE lower(name) = lower($5)),
			$6, $7)`,
		arg.ID, arg.UserID, arg.CourseID, arg.QrSessionID, arg.StatusName, arg.Date, arg.CheckIn,
	)
	return err
}

func (q *Queries) ListAttendanceBySession(ctx context.Context, sessionID pgtype.UUID) ([]SessionAttendanceRow, error) {
	rows, err := q.db.Query(ctx, `
		SELECT a.id, a.user_id, s.name, a.check_in
		FROM attendances a
		JOIN attendance_statuses s ON s.id = a.status_id
		WHERE a.qr_session_id = $1
		ORDER BY a.check_in`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []SessionAttendanceRow
	for rows.Next() {
		var r SessionAttendanceRow
		if err := rows.Scan(&r.ID, &r.UserID, &r.StatusName, &r.CheckIn); err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

type HasSessionAttendanceParams struct {
	QrSessionID pgtype.UUID
	UserID      pgtype.UUID
}

func (q *Queries) HasSessionAttendance(ctx context.Context, arg HasSessionAttendanceParams) (bool, error) {
	row := q.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM attendances WHERE qr_session_id = $1 AND user_id = $2
		)`, arg.QrSessionID, arg.UserID,
	)
	var exists bool
	err := row.Scan(&exists)
	return exists, err
}

// Users

func (q *Queries) GetUser(ctx context.Context, id pgtype.UUID) (User, error) {
	row := q.db.QueryRow(ctx, `SELECT id, name, role FROM users WHERE id = $1`, id)
	var u User
	err := row.Scan(&u.ID, &u.Name, &u.Role)
	return u, err
}

// Courses

func (q *Queries) GetCourse(ctx context.Context, id pgtype.UUID) (Course, error) {
	row := q.db.QueryRow(ctx, `SELECT id, title, teacher_id FROM courses WHERE id = $1`, id)
	var c Course
	err := row.Scan(&c.ID, &c.Title, &c.TeacherID)
	return c, err
}

func (q *Queries) ListCourses(ctx context.Context) ([]Course, error) {
	rows, err := q.db.Query(ctx, `SELECT id, title, teacher_id FROM courses ORDER BY title`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCourses(rows)
}

func (q *Queries) ListCoursesByTeacher(ctx context.Context, teacherID pgtype.UUID) ([]Course, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, title, teacher_id FROM courses WHERE teacher_id = $1 ORDER BY title`, teacherID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCourses(rows)
}

func scanCourses(rows pgx.Rows) ([]Course, error) {
	var result []Course
	for rows.Next() {
		var c Course
		if err := rows.Scan(&c.ID, &c.Title, &c.TeacherID); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// Enrollment

func (q *Queries) CountEnrolledStudents(ctx context.Context, courseID pgtype.UUID) (int64, error) {
	row := q.db.QueryRow(ctx, `
		SELECT count(*) FROM enrollments WHERE course_id = $1`, courseID,
	)
	var count int64
	err := row.Scan(&count)
	return count, err
}

type IsStudentEnrolledParams struct {
	UserID   pgtype.UUID
	CourseID pgtype.UUID
}

func (q *Queries) IsStudentEnrolled(ctx context.Context, arg IsStudentEnrolledParams) (bool, error) {
	row := q.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM enrollments WHERE user_id = $1 AND course_id = $2
		)`, arg.UserID, arg.CourseID,
	)
	var exists bool
	err := row.Scan(&exists)
	return exists, err
}
