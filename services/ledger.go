package services

import (
	"context"
	"fmt"
	"time"

	"factduel/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ScoreLedger is the best-effort per-player score projection used by
// reporting.
type ScoreLedger interface {
	Record(ctx context.Context, roomID, playerID string, score int) error
	ListRoom(ctx context.Context, roomID string) ([]models.ScoreLedgerEntry, error)
}

type GormScoreLedger struct {
	db *gorm.DB
}

func NewGormScoreLedger(db *gorm.DB) *GormScoreLedger {
	return &GormScoreLedger{db: db}
}

// Record upserts the (room, player) entry with the latest score.
func (l *GormScoreLedger) Record(ctx context.Context, roomID, playerID string, score int) error {
	entry := models.ScoreLedgerEntry{
		RoomID:    roomID,
		PlayerID:  playerID,
		Score:     score,
		UpdatedAt: time.Now(),
	}

	err := l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_id"}, {Name: "player_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"score", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("%w: %s/%s: %w", ErrLedgerWrite, roomID, playerID, err)
	}
	return nil
}

func (l *GormScoreLedger) ListRoom(ctx context.Context, roomID string) ([]models.ScoreLedgerEntry, error) {
	var entries []models.ScoreLedgerEntry
	err := l.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("player_id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("%w: list ledger %s: %w", ErrStoreUnavailable, roomID, err)
	}
	return entries, nil
}
