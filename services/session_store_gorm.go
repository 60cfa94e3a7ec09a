package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"factduel/models"

	"gorm.io/gorm"
)

// GormSessionStore keeps duel sessions in the duel_sessions table.
type GormSessionStore struct {
	db *gorm.DB
}

func NewGormSessionStore(db *gorm.DB) *GormSessionStore {
	return &GormSessionStore{db: db}
}

func (s *GormSessionStore) FindByRoom(ctx context.Context, roomID string) (*models.DuelSession, error) {
	var session models.DuelSession
	err := s.db.WithContext(ctx).Where("room_id = ?", roomID).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find session %s: %w", ErrStoreUnavailable, roomID, err)
	}
	return &session, nil
}

func (s *GormSessionStore) CreateSession(ctx context.Context, session *models.DuelSession) (uint, error) {
	err := s.db.WithContext(ctx).Create(session).Error
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrRoomTaken
		}
		return 0, fmt.Errorf("%w: create session %s: %w", ErrStoreUnavailable, session.RoomID, err)
	}
	return session.ID, nil
}

func (s *GormSessionStore) UpdateFields(ctx context.Context, roomID string, update SessionUpdate) (int64, error) {
	values := make(map[string]interface{}, len(update.Set)+len(update.Incr))
	for field, value := range update.Set {
		values[field] = value
	}
	for field, delta := range update.Incr {
		values[field] = gorm.Expr(field+" + ?", delta)
	}
	if len(values) == 0 {
		return 0, nil
	}

	query := s.db.WithContext(ctx).Model(&models.DuelSession{}).Where("room_id = ?", roomID)
	if len(update.Where) > 0 {
		query = query.Where(update.Where)
	}

	result := query.Updates(values)
	if result.Error != nil {
		return 0, fmt.Errorf("%w: update session %s: %w", ErrStoreUnavailable, roomID, result.Error)
	}
	return result.RowsAffected, nil
}

func (s *GormSessionStore) ListStale(ctx context.Context, before time.Time, limit int) ([]models.DuelSession, error) {
	var sessions []models.DuelSession
	err := s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", models.DuelActive, before).
		Order("updated_at ASC").
		Limit(limit).
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("%w: list stale sessions: %w", ErrStoreUnavailable, err)
	}
	return sessions, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
