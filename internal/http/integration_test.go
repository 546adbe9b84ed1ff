package http_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"os"
	"testing"
	"time"

	"acadex/checkin/internal/auth"
)

type sessionResponse struct {
	ID        string `json:"id"`
	CourseID  string `json:"courseId"`
	Code      string `json:"code"`
	ExpiresAt int64  `json:"expiresAt"`
}

type liveResponse struct {
	State            string `json:"state"`
	RemainingSeconds int    `json:"remainingSeconds"`
	CheckedInCount   int    `json:"checkedInCount"`
	Roster           []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"roster"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func mintToken(t *testing.T, userID, role string) string {
	t.Helper()
	secret := getenv("JWT_SECRET", "dev-secret")
	issuer := getenv("JWT_ISSUER", "acadex-auth")
	token, err := auth.NewAccessToken(secret, issuer, time.Hour, auth.Claims{UserID: userID, Role: role})
	if err != nil {
		t.Fatalf("token mint failed: %v", err)
	}
	return token
}

func doJSON(t *testing.T, method, url, token string, payload any, out any) int {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if out != nil {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode
}

// TestCheckInFlow drives a full session against a running server and its
// seeded database: the teacher opens a session, a student redeems the code,
// the roster shows the student, and the close tears everything down.
// Seed expectations: teacher TEST_TEACHER_ID owns course TEST_COURSE_ID and
// student TEST_STUDENT_ID is enrolled in it.
func TestCheckInFlow(t *testing.T) {
	if os.Getenv("INTEGRATION_TESTS") != "1" {
		t.Skip("set INTEGRATION_TESTS=1 to run")
	}
	baseURL := getenv("CHECKIN_HTTP_ADDR", "http://127.0.0.1:8084")
	teacherID := getenv("TEST_TEACHER_ID", "")
	studentID := getenv("TEST_STUDENT_ID", "")
	courseID := getenv("TEST_COURSE_ID", "")
	if teacherID == "" || studentID == "" || courseID == "" {
		t.Skip("set TEST_TEACHER_ID, TEST_STUDENT_ID and TEST_COURSE_ID")
	}

	teacherToken := mintToken(t, teacherID, "teacher")
	studentToken := mintToken(t, studentID, "student")

	// make sure no leftover session blocks the start
	doJSON(t, http.MethodDelete, baseURL+"/sessions/current", teacherToken, nil, nil)

	var created sessionResponse
	status := doJSON(t, http.MethodPost, baseURL+"/sessions", teacherToken,
		map[string]string{"courseId": courseID}, &created)
	if status != http.StatusCreated {
		t.Fatalf("session create status %d", status)
	}
	if created.Code == "" || created.ID == "" {
		t.Fatalf("incomplete session payload: %+v", created)
	}
	if created.ExpiresAt <= time.Now().Unix() {
		t.Fatalf("session already expired at creation")
	}

	// a second session for the same issuer is refused
	var conflict errorResponse
	status = doJSON(t, http.MethodPost, baseURL+"/sessions", teacherToken,
		map[string]string{"courseId": courseID}, &conflict)
	if status != http.StatusConflict || conflict.Error != "session_active" {
		t.Fatalf("expected session_active conflict, got %d %q", status, conflict.Error)
	}

	status = doJSON(t, http.MethodPost, baseURL+"/checkins", studentToken,
		map[string]string{"code": created.Code}, nil)
	if status != http.StatusCreated {
		t.Fatalf("check-in status %d", status)
	}

	// duplicate redemption is refused
	var dup errorResponse
	status = doJSON(t, http.MethodPost, baseURL+"/checkins", studentToken,
		map[string]string{"code": created.Code}, &dup)
	if status != http.StatusConflict || dup.Error != "already_checked_in" {
		t.Fatalf("expected already_checked_in, got %d %q", status, dup.Error)
	}

	// the poller picks the check-in up within a few cycles
	deadline := time.Now().Add(15 * time.Second)
	var live liveResponse
	for time.Now().Before(deadline) {
		status = doJSON(t, http.MethodGet, baseURL+"/sessions/current", teacherToken, nil, &live)
		if status == http.StatusOK && live.CheckedInCount >= 1 {
			break
		}
		time.Sleep(time.Second)
	}
	if live.CheckedInCount < 1 {
		t.Fatalf("check-in never reached the roster: %+v", live)
	}

	// enrollment is enforced at redemption, not at scan time
	if outsiderID := getenv("TEST_OUTSIDER_ID", ""); outsiderID != "" {
		outsiderToken := mintToken(t, outsiderID, "student")
		var denied errorResponse
		status = doJSON(t, http.MethodPost, baseURL+"/checkins", outsiderToken,
			map[string]string{"code": created.Code}, &denied)
		if status != http.StatusForbidden || denied.Error != "not_enrolled" {
			t.Fatalf("expected not_enrolled for outsider, got %d %q", status, denied.Error)
		}
	}

	status = doJSON(t, http.MethodDelete, baseURL+"/sessions/current", teacherToken, nil, nil)
	if status != http.StatusNoContent {
		t.Fatalf("close status %d", status)
	}

	// the code dies with the session
	var stale errorResponse
	status = doJSON(t, http.MethodPost, baseURL+"/checkins", studentToken,
		map[string]string{"code": created.Code}, &stale)
	if status != http.StatusNotFound {
		t.Fatalf("expected code_not_found after close, got %d %q", status, stale.Error)
	}
}

// TestExpiredCodeRejected verifies that redemption is refused once the window
// has elapsed, regardless of any client-side countdown. Run the server with a
// short window (SESSION_TTL=3s or so) so the wait stays reasonable; under the
// default 120s window the test skips itself.
func TestExpiredCodeRejected(t *testing.T) {
	if os.Getenv("INTEGRATION_TESTS") != "1" {
		t.Skip("set INTEGRATION_TESTS=1 to run")
	}
	baseURL := getenv("CHECKIN_HTTP_ADDR", "http://127.0.0.1:8084")
	teacherID := getenv("TEST_TEACHER_ID", "")
	studentID := getenv("TEST_STUDENT_ID", "")
	courseID := getenv("TEST_COURSE_ID", "")
	if teacherID == "" || studentID == "" || courseID == "" {
		t.Skip("set TEST_TEACHER_ID, TEST_STUDENT_ID and TEST_COURSE_ID")
	}

	teacherToken := mintToken(t, teacherID, "teacher")
	studentToken := mintToken(t, studentID, "student")

	doJSON(t, http.MethodDelete, baseURL+"/sessions/current", teacherToken, nil, nil)
	defer doJSON(t, http.MethodDelete, baseURL+"/sessions/current", teacherToken, nil, nil)

	var created sessionResponse
	status := doJSON(t, http.MethodPost, baseURL+"/sessions", teacherToken,
		map[string]string{"courseId": courseID}, &created)
	if status != http.StatusCreated {
		t.Fatalf("session create status %d", status)
	}

	window := time.Until(time.Unix(created.ExpiresAt, 0))
	if window <= 0 || window > 10*time.Second {
		t.Skipf("window is %s; run the server with a short SESSION_TTL", window.Round(time.Second))
	}
	time.Sleep(window + time.Second)

	var expired errorResponse
	status = doJSON(t, http.MethodPost, baseURL+"/checkins", studentToken,
		map[string]string{"code": created.Code}, &expired)
	if status != http.StatusGone || expired.Error != "code_expired" {
		t.Fatalf("expected code_expired, got %d %q", status, expired.Error)
	}
}
