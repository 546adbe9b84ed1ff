package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"acadex/checkin/internal/auth"
	"acadex/checkin/internal/config"
	"acadex/checkin/internal/db"
	"acadex/checkin/internal/qr"
	"acadex/checkin/internal/session"
)

var errAlreadyCheckedIn = errors.New("already checked in")

type Server struct {
	cfg      config.Config
	store    *db.Store
	sessions *session.Manager
	redis    *redis.Client
}

func NewServer(cfg config.Config, store *db.Store, sessions *session.Manager, redisClient *redis.Client) *Server {
	return &Server{
		cfg:      cfg,
		store:    store,
		sessions: sessions,
		redis:    redisClient,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.With(s.authMiddleware).Post("/sessions", s.handleCreateSession)
	r.With(s.authMiddleware).Get("/sessions/current", s.handleGetCurrentSession)
	r.With(s.authMiddleware).Delete("/sessions/current", s.handleDeleteCurrentSession)
	r.With(s.authMiddleware).Get("/sessions/{sessionId}", s.handleGetSession)
	r.With(s.authMiddleware).Get("/sessions/{sessionId}/qr.png", s.handleGetSessionQR)
	r.With(s.authMiddleware).Get("/sessions/{sessionId}/attendances", s.handleListSessionAttendances)
	r.With(s.authMiddleware).Post("/checkins", s.handleCreateCheckIn)
	r.With(s.authMiddleware).Get("/courses", s.handleListCourses)
	r.With(s.authMiddleware).Get("/courses/{courseId}/enrollment", s.handleGetCourseEnrollment)

	return r
}

// Auth

type claimsKey struct{}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}
		claims, err := auth.ParseToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func claimsFromContext(ctx context.Context) *auth.Claims {
	value := ctx.Value(claimsKey{})
	claims, _ := value.(*auth.Claims)
	return claims
}

func issuerRole(claims *auth.Claims) (auth.Role, bool) {
	role, err := auth.ParseRole(claims.Role)
	if err != nil {
		return "", false
	}
	return role, auth.CanIssueSessions(role)
}

// Models

type sessionResponse struct {
	ID          string `json:"id"`
	CourseID    string `json:"courseId"`
	CreatedByID string `json:"createdById"`
	Code        string `json:"code"`
	ExpiresAt   int64  `json:"expiresAt"`
}

type rosterEntryResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type liveSessionResponse struct {
	State            string                `json:"state"`
	Session          sessionResponse       `json:"session"`
	RemainingSeconds int                   `json:"remainingSeconds"`
	CheckedInCount   int                   `json:"checkedInCount"`
	ExpectedCount    int64                 `json:"expectedCount"`
	Roster           []rosterEntryResponse `json:"roster"`
}

type attendanceResponse struct {
	ID         string `json:"id"`
	StudentID  string `json:"studentId"`
	StatusName string `json:"statusName"`
	CheckIn    int64  `json:"checkIn"`
}

type courseResponse struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type createSessionRequest struct {
	CourseID string `json:"courseId"`
}

type createCheckInRequest struct {
	Code string `json:"code"`
}

type checkInResponse struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionId"`
	CourseID  string `json:"courseId"`
	StudentID string `json:"studentId"`
	Status    string `json:"status"`
	CheckIn   int64  `json:"checkIn"`
}

// Session handlers (issuer side)

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	if _, ok := issuerRole(claims); !ok {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.CourseID == "" {
		writeError(w, http.StatusBadRequest, "missing_course")
		return
	}
	courseUUID, err := parseUUID(req.CourseID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_course")
		return
	}
	course, err := s.store.Queries.GetCourse(r.Context(), courseUUID)
	if err != nil {
		writeError(w, http.StatusNotFound, "course_not_found")
		return
	}

	rec, err := s.sessions.Start(r.Context(), claims.UserID, session.Course{
		ID:    uuidString(course.ID),
		Title: course.Title,
	})
	if err != nil {
		if errors.Is(err, session.ErrSessionActive) {
			writeError(w, http.StatusConflict, "session_active")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	sessionsStarted.Inc()
	writeJSON(w, http.StatusCreated, mapSessionRecord(rec))
}

func (s *Server) handleGetCurrentSession(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	if _, ok := issuerRole(claims); !ok {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	ctrl, ok := s.sessions.Get(claims.UserID)
	if !ok {
		writeError(w, http.StatusNotFound, "no_active_session")
		return
	}
	snap := ctrl.Snapshot()
	roster := make([]rosterEntryResponse, 0, len(snap.Roster))
	for _, entry := range snap.Roster {
		roster = append(roster, rosterEntryResponse{ID: entry.ID, Name: entry.Name})
	}
	writeJSON(w, http.StatusOK, liveSessionResponse{
		State:            string(snap.State),
		Session:          mapSessionRecord(snap.Record),
		RemainingSeconds: snap.Remaining,
		CheckedInCount:   snap.CheckedIn(),
		ExpectedCount:    snap.Expected,
		Roster:           roster,
	})
}

func (s *Server) handleDeleteCurrentSession(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	if _, ok := issuerRole(claims); !ok {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	if err := s.sessions.End(r.Context(), claims.UserID); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	role, ok := issuerRole(claims)
	if !ok {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	sessionUUID, err := parseUUID(chi.URLParam(r, "sessionId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_session_id")
		return
	}
	rec, err := s.store.Queries.GetSession(r.Context(), sessionUUID)
	if err != nil {
		writeError(w, http.StatusNotFound, "session_not_found")
		return
	}
	if !canAccessSession(claims, role, rec) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	writeJSON(w, http.StatusOK, mapSessionRow(rec))
}

func (s *Server) handleGetSessionQR(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	role, ok := issuerRole(claims)
	if !ok {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	sessionUUID, err := parseUUID(chi.URLParam(r, "sessionId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_session_id")
		return
	}
	rec, err := s.store.Queries.GetSession(r.Context(), sessionUUID)
	if err != nil {
		writeError(w, http.StatusNotFound, "session_not_found")
		return
	}
	if !canAccessSession(claims, role, rec) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	png, err := qr.EncodePNG(rec.Code, s.cfg.QRSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (s *Server) handleListSessionAttendances(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	role, ok := issuerRole(claims)
	if !ok {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	sessionUUID, err := parseUUID(chi.URLParam(r, "sessionId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_session_id")
		return
	}
	rec, err := s.store.Queries.GetSession(r.Context(), sessionUUID)
	if err != nil {
		writeError(w, http.StatusNotFound, "session_not_found")
		return
	}
	if !canAccessSession(claims, role, rec) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	rows, err := s.store.Queries.ListAttendanceBySession(r.Context(), sessionUUID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	resp := make([]attendanceResponse, 0, len(rows))
	for _, row := range rows {
		resp = append(resp, attendanceResponse{
			ID:         uuidString(row.ID),
			StudentID:  uuidString(row.UserID),
			StatusName: row.StatusName,
			CheckIn:    row.CheckIn.Time.Unix(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// Check-in handler (submitter side)
//
// Expiry is validated here, server-side, against the stored record and the
// Redis TTL; the issuer's countdown is a display artifact only.

func (s *Server) handleCreateCheckIn(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	role, err := auth.ParseRole(claims.Role)
	if err != nil || role != auth.RoleStudent {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	studentUUID, err := parseUUID(claims.UserID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_token")
		return
	}

	var req createCheckInRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing_code")
		return
	}

	rec, found, err := s.resolveCode(r.Context(), code)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if !found {
		checkIns.WithLabelValues("code_not_found").Inc()
		writeError(w, http.StatusNotFound, "code_not_found")
		return
	}
	if time.Now().UTC().After(rec.ExpiresAt.Time) {
		checkIns.WithLabelValues("code_expired").Inc()
		writeError(w, http.StatusGone, "code_expired")
		return
	}

	enrolled, err := s.store.Queries.IsStudentEnrolled(r.Context(), db.IsStudentEnrolledParams{
		UserID:   studentUUID,
		CourseID: rec.CourseID,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if !enrolled {
		checkIns.WithLabelValues("not_enrolled").Inc()
		writeError(w, http.StatusForbidden, "not_enrolled")
		return
	}

	now := time.Now().UTC()
	attendanceID := uuid.New()
	txErr := s.store.WithTx(r.Context(), func(q *db.Queries) error {
		exists, err := q.HasSessionAttendance(r.Context(), db.HasSessionAttendanceParams{
			QrSessionID: rec.ID,
			UserID:      studentUUID,
		})
		if err != nil {
			return err
		}
		if exists {
			return errAlreadyCheckedIn
		}
		return q.CreateAttendance(r.Context(), db.CreateAttendanceParams{
			ID:          pgUUID(attendanceID),
			UserID:      studentUUID,
			CourseID:    rec.CourseID,
			QrSessionID: rec.ID,
			StatusName:  session.StatusPresent,
			Date:        pgTime(now),
			CheckIn:     pgTime(now),
		})
	})
	if txErr != nil {
		status, code := checkInFailureStatus(txErr)
		switch code {
		case "already_checked_in":
			checkIns.WithLabelValues("duplicate").Inc()
		case "code_not_found":
			checkIns.WithLabelValues("code_not_found").Inc()
		}
		writeError(w, status, code)
		return
	}

	checkIns.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusCreated, checkInResponse{
		ID:        attendanceID.String(),
		SessionID: uuidString(rec.ID),
		CourseID:  uuidString(rec.CourseID),
		StudentID: claims.UserID,
		Status:    session.StatusPresent,
		CheckIn:   now.Unix(),
	})
}

// checkInFailureStatus maps a redemption transaction error to its response.
// The unique constraint backstops concurrent redemptions of the same code;
// the foreign-key violation covers a session deleted between code resolution
// and insert (a closed session whose cached code outlived the Redis Del).
func checkInFailureStatus(err error) (int, string) {
	if errors.Is(err, errAlreadyCheckedIn) {
		return http.StatusConflict, "already_checked_in"
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return http.StatusConflict, "already_checked_in"
		case "23503":
			return http.StatusNotFound, "code_not_found"
		}
	}
	return http.StatusInternalServerError, "server_error"
}

// resolveCode looks the bearer code up in Redis first (its key expires with
// the session window) and falls back to the store when Redis is absent.
func (s *Server) resolveCode(ctx context.Context, code string) (db.QrSession, bool, error) {
	if s.redis != nil {
		value, err := s.redis.Get(ctx, codeKey(code)).Result()
		if err == nil {
			var cached codeRecord
			if err := json.Unmarshal([]byte(value), &cached); err == nil {
				sessionUUID, idErr := parseUUID(cached.SessionID)
				courseUUID, courseErr := parseUUID(cached.CourseID)
				if idErr == nil && courseErr == nil {
					return db.QrSession{
						ID:        sessionUUID,
						CourseID:  courseUUID,
						Code:      code,
						ExpiresAt: pgTime(time.Unix(cached.ExpiresAt, 0)),
					}, true, nil
				}
			}
		}
		// redis.Nil or a transient error: the store stays authoritative
	}
	rec, err := s.store.Queries.GetSessionByCode(ctx, code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return db.QrSession{}, false, nil
		}
		return db.QrSession{}, false, err
	}
	return rec, true, nil
}

// Course handlers

func (s *Server) handleListCourses(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	role, err := auth.ParseRole(claims.Role)
	if err != nil {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	var (
		courses []db.Course
		listErr error
	)
	switch role {
	case auth.RoleAdmin, auth.RoleHR, auth.RoleStudyOffice:
		courses, listErr = s.store.Queries.ListCourses(r.Context())
	case auth.RoleTeacher, auth.RoleFaculty:
		teacherUUID, err := parseUUID(claims.UserID)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}
		courses, listErr = s.store.Queries.ListCoursesByTeacher(r.Context(), teacherUUID)
	default:
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	if listErr != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	resp := make([]courseResponse, 0, len(courses))
	for _, course := range courses {
		resp = append(resp, courseResponse{ID: uuidString(course.ID), Title: course.Title})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetCourseEnrollment(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	if _, ok := issuerRole(claims); !ok {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	courseUUID, err := parseUUID(chi.URLParam(r, "courseId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_course")
		return
	}
	count, err := s.store.Queries.CountEnrolledStudents(r.Context(), courseUUID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"courseId":      uuidString(courseUUID),
		"enrolledCount": count,
	})
}

// Access helpers

func canAccessSession(claims *auth.Claims, role auth.Role, rec db.QrSession) bool {
	if role == auth.RoleAdmin {
		return true
	}
	return claims.UserID == uuidString(rec.CreatedByID)
}

// Mapping helpers

func mapSessionRecord(rec session.Record) sessionResponse {
	return sessionResponse{
		ID:          rec.ID,
		CourseID:    rec.CourseID,
		CreatedByID: rec.CreatedByID,
		Code:        rec.Code,
		ExpiresAt:   rec.ExpiresAt.Unix(),
	}
}

func mapSessionRow(rec db.QrSession) sessionResponse {
	return sessionResponse{
		ID:          uuidString(rec.ID),
		CourseID:    uuidString(rec.CourseID),
		CreatedByID: uuidString(rec.CreatedByID),
		Code:        rec.Code,
		ExpiresAt:   rec.ExpiresAt.Time.Unix(),
	}
}

// Redis code registry

type codeRecord struct {
	SessionID string `json:"session_id"`
	CourseID  string `json:"course_id"`
	ExpiresAt int64  `json:"expires_at"`
}

func codeKey(code string) string {
	return fmt.Sprintf("checkin_code:%s", code)
}

// Utilities

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func parseUUID(id string) (pgtype.UUID, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return pgtype.UUID{}, err
	}
	return pgtype.UUID{Bytes: parsed, Valid: true}, nil
}

func uuidString(id pgtype.UUID) string {
	if !id.Valid {
		return ""
	}
	return uuid.UUID(id.Bytes).String()
}

func pgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func pgTime(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t.UTC(), Valid: true}
}
