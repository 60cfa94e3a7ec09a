package services

import (
	"context"
	"time"

	"factduel/models"
)

// Field names shared by every SessionStore backend. They match the
// duel_sessions columns and the Redis hash fields.
const (
	FieldRoomID          = "room_id"
	FieldPlayer1ID       = "player1_id"
	FieldPlayer2ID       = "player2_id"
	FieldPlayer1Score    = "player1_score"
	FieldPlayer2Score    = "player2_score"
	FieldPlayer1Answered = "player1_answered"
	FieldPlayer2Answered = "player2_answered"
	FieldStatus          = "status"
	FieldWinner          = "winner"
	FieldCompletedAt     = "completed_at"
	FieldCreatedAt       = "created_at"
	FieldUpdatedAt       = "updated_at"
)

// SessionUpdate is applied to one session as a single atomic operation.
// Where holds equality preconditions on the current values; the update only
// matches when all of them hold.
type SessionUpdate struct {
	Where map[string]interface{}
	Set   map[string]interface{}
	Incr  map[string]int64
}

// SessionStore is the durable room -> DuelSession mapping. All calls are
// point operations keyed by room id.
type SessionStore interface {
	// FindByRoom returns ErrSessionNotFound when the room has no session.
	FindByRoom(ctx context.Context, roomID string) (*models.DuelSession, error)
	// CreateSession stores a new session and returns its id. It fails with
	// ErrRoomTaken if the room already has one.
	CreateSession(ctx context.Context, session *models.DuelSession) (uint, error)
	// UpdateFields returns the number of sessions matched (0 or 1).
	UpdateFields(ctx context.Context, roomID string, update SessionUpdate) (int64, error)
	// ListStale returns active sessions last updated before the cutoff.
	ListStale(ctx context.Context, before time.Time, limit int) ([]models.DuelSession, error)
}

func scoreField(side models.Side) string {
	if side == models.SidePlayer2 {
		return FieldPlayer2Score
	}
	return FieldPlayer1Score
}

func answeredField(side models.Side) string {
	if side == models.SidePlayer2 {
		return FieldPlayer2Answered
	}
	return FieldPlayer1Answered
}
