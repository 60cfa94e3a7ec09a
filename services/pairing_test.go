package services

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairingWaitThenMatch(t *testing.T) {
	q := NewPairingQueue()

	first, err := q.RequestPairing("x", "conn-x")
	require.NoError(t, err)
	assert.False(t, first.Matched)
	assert.True(t, strings.HasPrefix(first.RoomID, "room-x-"))

	second, err := q.RequestPairing("y", "conn-y")
	require.NoError(t, err)
	assert.True(t, second.Matched)
	assert.Equal(t, first.RoomID, second.RoomID)
	assert.Equal(t, PendingEntry{UserID: "x", RoomID: first.RoomID, Handle: "conn-x"}, second.Opponent)

	_, waiting := q.Pending()
	assert.False(t, waiting, "slot must be empty after a match")
}

func TestPairingRoomIDsAreFresh(t *testing.T) {
	q := NewPairingQueue()

	a, err := q.RequestPairing("x", "conn-1")
	require.NoError(t, err)
	require.True(t, q.Cancel("conn-1"))
	b, err := q.RequestPairing("x", "conn-2")
	require.NoError(t, err)

	assert.NotEqual(t, a.RoomID, b.RoomID)
}

func TestPairingSameUserTwice(t *testing.T) {
	q := NewPairingQueue()

	first, err := q.RequestPairing("x", "conn-1")
	require.NoError(t, err)

	again, err := q.RequestPairing("x", "conn-1")
	require.NoError(t, err)
	assert.False(t, again.Matched)
	assert.Equal(t, first.RoomID, again.RoomID)

	_, err = q.RequestPairing("x", "conn-2")
	assert.ErrorIs(t, err, ErrAlreadyWaiting)

	entry, ok := q.Pending()
	require.True(t, ok)
	assert.Equal(t, "conn-1", entry.Handle)
}

func TestPairingCancel(t *testing.T) {
	q := NewPairingQueue()

	_, err := q.RequestPairing("x", "conn-x")
	require.NoError(t, err)

	assert.False(t, q.Cancel("conn-other"), "cancel from another connection is a no-op")
	assert.True(t, q.Cancel("conn-x"))
	assert.False(t, q.Cancel("conn-x"), "second cancel is a no-op")

	out, err := q.RequestPairing("z", "conn-z")
	require.NoError(t, err)
	assert.False(t, out.Matched, "departed player must not be paired")
	assert.True(t, strings.HasPrefix(out.RoomID, "room-z-"))
}

func TestPairingCancelAfterConsume(t *testing.T) {
	q := NewPairingQueue()

	_, err := q.RequestPairing("x", "conn-x")
	require.NoError(t, err)
	_, err = q.RequestPairing("y", "conn-y")
	require.NoError(t, err)

	assert.False(t, q.Cancel("conn-x"))
}

func TestPairingRestore(t *testing.T) {
	q := NewPairingQueue()

	_, err := q.RequestPairing("x", "conn-x")
	require.NoError(t, err)
	out, err := q.RequestPairing("y", "conn-y")
	require.NoError(t, err)
	require.True(t, out.Matched)

	assert.True(t, q.Restore(out.Opponent))
	entry, ok := q.Pending()
	require.True(t, ok)
	assert.Equal(t, out.Opponent, entry)

	assert.False(t, q.Restore(PendingEntry{UserID: "w", RoomID: "room-w", Handle: "conn-w"}))
}

func TestPairingConcurrentRequests(t *testing.T) {
	const players = 200
	q := NewPairingQueue()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		waiting  = map[string]string{} // room -> user
		matched  = map[string][]string{}
		outcomes = 0
	)

	for i := 0; i < players; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("user-%d", i)
			out, err := q.RequestPairing(user, "conn-"+user)
			assert.NoError(t, err)

			mu.Lock()
			defer mu.Unlock()
			outcomes++
			if out.Matched {
				matched[out.RoomID] = append(matched[out.RoomID], user, out.Opponent.UserID)
			} else {
				waiting[out.RoomID] = user
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, players, outcomes)
	assert.Len(t, waiting, players/2)
	assert.Len(t, matched, players/2)

	seen := map[string]int{}
	for room, pair := range matched {
		require.Len(t, pair, 2, "room %s paired more than once", room)
		assert.Equal(t, waiting[room], pair[1], "room %s matched with someone other than its owner", room)
		assert.NotEqual(t, pair[0], pair[1])
		for _, u := range pair {
			seen[u]++
		}
	}
	assert.Len(t, seen, players, "every player is paired")
	for u, n := range seen {
		assert.Equal(t, 1, n, "player %s paired %d times", u, n)
	}

	_, ok := q.Pending()
	assert.False(t, ok)
}
