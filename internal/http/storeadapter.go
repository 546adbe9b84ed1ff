package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"

	"acadex/checkin/internal/db"
	"acadex/checkin/internal/session"
)

// StoreAdapter backs the session manager with the relational store and keeps
// the Redis code registry in step with session lifetimes: a code's key is
// written with TTL equal to the check-in window and removed on manual close,
// so redemption expiry holds even if the sweeper lags.
type StoreAdapter struct {
	store *db.Store
	redis *redis.Client
}

func NewStoreAdapter(store *db.Store, redisClient *redis.Client) *StoreAdapter {
	return &StoreAdapter{store: store, redis: redisClient}
}

var _ session.Store = (*StoreAdapter)(nil)

func (a *StoreAdapter) CreateSession(ctx context.Context, rec session.Record) (session.Record, error) {
	courseUUID, err := parseUUID(rec.CourseID)
	if err != nil {
		return session.Record{}, err
	}
	issuerUUID, err := parseUUID(rec.CreatedByID)
	if err != nil {
		return session.Record{}, err
	}
	sessionID := uuid.New()
	created, err := a.store.Queries.CreateSession(ctx, db.CreateSessionParams{
		ID:          pgUUID(sessionID),
		CourseID:    courseUUID,
		CreatedByID: issuerUUID,
		Code:        rec.Code,
		ExpiresAt:   pgTime(rec.ExpiresAt),
		CreatedAt:   pgTime(time.Now().UTC()),
	})
	if err != nil {
		return session.Record{}, err
	}
	a.registerCode(ctx, created)
	return session.Record{
		ID:          uuidString(created.ID),
		CourseID:    uuidString(created.CourseID),
		CreatedByID: uuidString(created.CreatedByID),
		Code:        created.Code,
		ExpiresAt:   created.ExpiresAt.Time,
	}, nil
}

func (a *StoreAdapter) registerCode(ctx context.Context, rec db.QrSession) {
	if a.redis == nil {
		return
	}
	ttl := time.Until(rec.ExpiresAt.Time)
	if ttl <= 0 {
		return
	}
	data, err := json.Marshal(codeRecord{
		SessionID: uuidString(rec.ID),
		CourseID:  uuidString(rec.CourseID),
		ExpiresAt: rec.ExpiresAt.Time.Unix(),
	})
	if err != nil {
		return
	}
	if err := a.redis.Set(ctx, codeKey(rec.Code), data, ttl).Err(); err != nil {
		log.Printf("code registry set error: %v", err)
	}
}

func (a *StoreAdapter) DeleteSession(ctx context.Context, id string) error {
	sessionUUID, err := parseUUID(id)
	if err != nil {
		return err
	}
	rec, err := a.store.Queries.GetSession(ctx, sessionUUID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// already swept; deletion is best-effort
			return nil
		}
		return err
	}
	if a.redis != nil {
		if err := a.redis.Del(ctx, codeKey(rec.Code)).Err(); err != nil {
			log.Printf("code registry del error: %v", err)
		}
	}
	return a.store.Queries.DeleteSession(ctx, sessionUUID)
}

func (a *StoreAdapter) ListAttendanceBySession(ctx context.Context, sessionID string) ([]session.AttendanceRecord, error) {
	sessionUUID, err := parseUUID(sessionID)
	if err != nil {
		return nil, err
	}
	rows, err := a.store.Queries.ListAttendanceBySession(ctx, sessionUUID)
	if err != nil {
		return nil, err
	}
	records := make([]session.AttendanceRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, session.AttendanceRecord{
			ID:         uuidString(row.ID),
			StudentID:  uuidString(row.UserID),
			StatusName: row.StatusName,
		})
	}
	return records, nil
}

func (a *StoreAdapter) ResolveIdentity(ctx context.Context, userID string) (session.Identity, error) {
	userUUID, err := parseUUID(userID)
	if err != nil {
		return session.Identity{}, err
	}
	user, err := a.store.Queries.GetUser(ctx, userUUID)
	if err != nil {
		return session.Identity{}, err
	}
	return session.Identity{ID: uuidString(user.ID), Name: user.Name}, nil
}

func (a *StoreAdapter) CountEnrolledStudents(ctx context.Context, courseID string) (int64, error) {
	courseUUID, err := parseUUID(courseID)
	if err != nil {
		return 0, err
	}
	return a.store.Queries.CountEnrolledStudents(ctx, courseUUID)
}
