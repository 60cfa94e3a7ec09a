package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"factduel/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "factduel.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.DuelSession{}, &models.ScoreLedgerEntry{}))
	return db
}

type fakeLedger struct {
	mu      sync.Mutex
	entries map[string]int
	fail    bool
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{entries: make(map[string]int)}
}

func (l *fakeLedger) Record(_ context.Context, roomID, playerID string, score int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail {
		return ErrLedgerWrite
	}
	l.entries[roomID+"/"+playerID] = score
	return nil
}

func (l *fakeLedger) ListRoom(_ context.Context, roomID string) ([]models.ScoreLedgerEntry, error) {
	return nil, nil
}

func (l *fakeLedger) score(roomID, playerID string) (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	score, ok := l.entries[roomID+"/"+playerID]
	return score, ok
}

type fakeDirectory struct {
	mu    sync.Mutex
	names map[string]string
	err   error
	calls int
}

func (d *fakeDirectory) LookupDisplayName(_ context.Context, userID string) (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil {
		return "", false, d.err
	}
	name, ok := d.names[userID]
	return name, ok, nil
}

type sentMessage struct {
	RoomID  string
	To      string
	Except  string
	Type    string
	Payload interface{}
}

type recordingBroadcaster struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (b *recordingBroadcaster) BroadcastToRoom(roomID, messageType string, payload interface{}) {
	b.record(sentMessage{RoomID: roomID, Type: messageType, Payload: payload})
}

func (b *recordingBroadcaster) BroadcastToRoomExcept(roomID, userID, messageType string, payload interface{}) {
	b.record(sentMessage{RoomID: roomID, Except: userID, Type: messageType, Payload: payload})
}

func (b *recordingBroadcaster) SendToRoomMember(roomID, userID, messageType string, payload interface{}) {
	b.record(sentMessage{RoomID: roomID, To: userID, Type: messageType, Payload: payload})
}

func (b *recordingBroadcaster) record(m sentMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, m)
}

func (b *recordingBroadcaster) ofType(messageType string) []sentMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []sentMessage
	for _, m := range b.sent {
		if m.Type == messageType {
			out = append(out, m)
		}
	}
	return out
}

func (b *recordingBroadcaster) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = nil
}

// failingStore fails every call with ErrStoreUnavailable.
type failingStore struct{}

var errBackendDown = errors.New("connection refused")

func (failingStore) FindByRoom(context.Context, string) (*models.DuelSession, error) {
	return nil, errors.Join(ErrStoreUnavailable, errBackendDown)
}

func (failingStore) CreateSession(context.Context, *models.DuelSession) (uint, error) {
	return 0, errors.Join(ErrStoreUnavailable, errBackendDown)
}

func (failingStore) UpdateFields(context.Context, string, SessionUpdate) (int64, error) {
	return 0, errors.Join(ErrStoreUnavailable, errBackendDown)
}

func (failingStore) ListStale(context.Context, time.Time, int) ([]models.DuelSession, error) {
	return nil, errors.Join(ErrStoreUnavailable, errBackendDown)
}
