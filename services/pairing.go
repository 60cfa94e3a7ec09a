package services

import (
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// PendingEntry is the participant parked in the pairing slot.
type PendingEntry struct {
	UserID string
	RoomID string
	Handle string
}

// PairingOutcome is the result of RequestPairing. When Matched is false the
// caller was parked and waits in RoomID; otherwise Opponent is the entry that
// was consumed from the slot.
type PairingOutcome struct {
	Matched  bool
	RoomID   string
	Opponent PendingEntry
}

// PairingQueue holds at most one unmatched participant. Every read and write
// of the slot happens under mu.
type PairingQueue struct {
	mu      sync.Mutex
	pending *PendingEntry
	newRoom func(userID string) string
}

func NewPairingQueue() *PairingQueue {
	return &PairingQueue{newRoom: newRoomID}
}

// RequestPairing parks the caller when the slot is empty and pairs it with
// the parked participant otherwise.
func (q *PairingQueue) RequestPairing(userID, handle string) (PairingOutcome, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.pending == nil {
		entry := &PendingEntry{UserID: userID, RoomID: q.newRoom(userID), Handle: handle}
		q.pending = entry
		log.Printf("Player %s is waiting in %s", userID, entry.RoomID)
		return PairingOutcome{RoomID: entry.RoomID}, nil
	}

	if q.pending.UserID == userID {
		if q.pending.Handle == handle {
			return PairingOutcome{RoomID: q.pending.RoomID}, nil
		}
		return PairingOutcome{}, ErrAlreadyWaiting
	}

	opponent := *q.pending
	q.pending = nil
	log.Printf("Player %s paired with %s in %s", userID, opponent.UserID, opponent.RoomID)
	return PairingOutcome{Matched: true, RoomID: opponent.RoomID, Opponent: opponent}, nil
}

// Cancel clears the slot if it still holds the entry parked by handle.
func (q *PairingQueue) Cancel(handle string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.pending == nil || q.pending.Handle != handle {
		return false
	}
	log.Printf("Waiting player %s left, clearing %s", q.pending.UserID, q.pending.RoomID)
	q.pending = nil
	return true
}

// Restore parks entry again after a pairing could not be completed. It is a
// no-op when someone else has taken the slot in the meantime.
func (q *PairingQueue) Restore(entry PendingEntry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.pending != nil {
		return false
	}
	q.pending = &entry
	return true
}

// Pending returns a copy of the parked entry, if any.
func (q *PairingQueue) Pending() (PendingEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.pending == nil {
		return PendingEntry{}, false
	}
	return *q.pending, true
}

func newRoomID(userID string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return "room-" + userID + "-" + suffix
}
