package models

import (
	"time"
)

// ScoreLedgerEntry is the per-player score projection read by reporting.
// The authoritative score lives on DuelSession.
type ScoreLedgerEntry struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	RoomID    string    `json:"room_id" gorm:"column:room_id;uniqueIndex:idx_ledger_room_player;not null"`
	PlayerID  string    `json:"player_id" gorm:"column:player_id;uniqueIndex:idx_ledger_room_player;not null"`
	Score     int       `json:"score" gorm:"column:score;not null;default:0"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
