package models

import (
	"time"
)

type DuelStatus string

const (
	DuelActive    DuelStatus = "active"
	DuelCompleted DuelStatus = "completed"
)

// Side identifies which seat of a duel a player occupies.
type Side int

const (
	SideNone Side = iota
	SidePlayer1
	SidePlayer2
)

type DuelSession struct {
	ID              uint       `json:"id" gorm:"primaryKey"`
	RoomID          string     `json:"room_id" gorm:"column:room_id;uniqueIndex;not null"`
	Player1ID       string     `json:"player1_id" gorm:"column:player1_id;index;not null"`
	Player2ID       string     `json:"player2_id" gorm:"column:player2_id;index;not null"`
	Player1Score    int        `json:"player1_score" gorm:"column:player1_score;not null;default:0"`
	Player2Score    int        `json:"player2_score" gorm:"column:player2_score;not null;default:0"`
	Player1Answered int        `json:"player1_answered" gorm:"column:player1_answered;not null;default:0"`
	Player2Answered int        `json:"player2_answered" gorm:"column:player2_answered;not null;default:0"`
	Status          DuelStatus `json:"status" gorm:"column:status;index;not null;default:'active'"`
	Winner          string     `json:"winner,omitempty" gorm:"column:winner"`
	CompletedAt     *time.Time `json:"completed_at,omitempty" gorm:"column:completed_at"`
	CreatedAt       time.Time  `json:"created_at" gorm:"column:created_at"`
	UpdatedAt       time.Time  `json:"updated_at" gorm:"column:updated_at;index"`
}

// SideOf reports which seat userID occupies, or SideNone.
func (d *DuelSession) SideOf(userID string) Side {
	switch userID {
	case "":
		return SideNone
	case d.Player1ID:
		return SidePlayer1
	case d.Player2ID:
		return SidePlayer2
	}
	return SideNone
}

func (d *DuelSession) ScoreOf(side Side) int {
	if side == SidePlayer2 {
		return d.Player2Score
	}
	return d.Player1Score
}

func (d *DuelSession) AnsweredOf(side Side) int {
	if side == SidePlayer2 {
		return d.Player2Answered
	}
	return d.Player1Answered
}

func (d *DuelSession) IsCompleted() bool {
	return d.Status == DuelCompleted
}
