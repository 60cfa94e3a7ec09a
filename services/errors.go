package services

import (
	"errors"
)

var (
	ErrVerificationFailed      = errors.New("credential verification failed")
	ErrSessionNotFound         = errors.New("game session not found")
	ErrUnknownParticipant      = errors.New("user is not a participant of this game session")
	ErrSessionAlreadyCompleted = errors.New("game session already completed")
	ErrStoreUnavailable        = errors.New("session store unavailable")
	ErrLedgerWrite             = errors.New("score ledger write failed")

	ErrNotInDuel      = errors.New("connection is not in a duel")
	ErrAlreadyWaiting = errors.New("already waiting for an opponent on another connection")
	ErrInvalidPlayers = errors.New("a duel needs two distinct players")
	ErrRoomTaken      = errors.New("room already has a game session")
	ErrUnknownEvent   = errors.New("unknown event")
	ErrBadPayload     = errors.New("malformed event payload")
)

// ClientMessage is the text sent to a player in an error notification.
// Store failures are reported generically so backend details stay in the logs.
func ClientMessage(err error) string {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return "Game session not found"
	case errors.Is(err, ErrUnknownParticipant):
		return "You are not a player in this game"
	case errors.Is(err, ErrSessionAlreadyCompleted):
		return "This game has already ended"
	case errors.Is(err, ErrNotInDuel):
		return "You are not in a game"
	case errors.Is(err, ErrAlreadyWaiting):
		return "You are already waiting for an opponent"
	case errors.Is(err, ErrInvalidPlayers):
		return "Cannot start a game against yourself"
	case errors.Is(err, ErrUnknownEvent):
		return "Unknown event"
	case errors.Is(err, ErrBadPayload):
		return "Malformed event payload"
	}
	return "Something went wrong. Please try again later."
}
