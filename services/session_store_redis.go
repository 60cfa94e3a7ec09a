package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"factduel/models"

	"github.com/redis/go-redis/v9"
)

const (
	duelKeyPrefix = "duel:"
	duelSeqKey    = "duels:seq"
)

// createSessionScript writes the hash only if the room is unused.
// ARGV[1] is the TTL in milliseconds (0 keeps the key), the rest are
// field/value pairs.
var createSessionScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV, 2))
local ttl = tonumber(ARGV[1])
if ttl > 0 then
	redis.call('PEXPIRE', KEYS[1], ttl)
end
return 1
`)

// updateSessionScript checks every precondition and then applies all
// assignments and increments. ARGV starts with the three pair counts.
var updateSessionScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
local nwhere = tonumber(ARGV[1])
local nset = tonumber(ARGV[2])
local nincr = tonumber(ARGV[3])
local i = 4
for _ = 1, nwhere do
	if redis.call('HGET', KEYS[1], ARGV[i]) ~= ARGV[i + 1] then
		return 0
	end
	i = i + 2
end
for _ = 1, nset do
	redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
	i = i + 2
end
for _ = 1, nincr do
	redis.call('HINCRBY', KEYS[1], ARGV[i], ARGV[i + 1])
	i = i + 2
end
return 1
`)

// RedisSessionStore keeps each duel session in a hash at duel:<roomId>.
type RedisSessionStore struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisSessionStore builds a store; a zero ttl keeps sessions forever.
func NewRedisSessionStore(client *redis.Client, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{redis: client, ttl: ttl}
}

func duelKey(roomID string) string {
	return duelKeyPrefix + roomID
}

func (s *RedisSessionStore) FindByRoom(ctx context.Context, roomID string) (*models.DuelSession, error) {
	fields, err := s.redis.HGetAll(ctx, duelKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: find session %s: %w", ErrStoreUnavailable, roomID, err)
	}
	if len(fields) == 0 {
		return nil, ErrSessionNotFound
	}

	session, err := sessionFromHash(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: decode session %s: %w", ErrStoreUnavailable, roomID, err)
	}
	return session, nil
}

func (s *RedisSessionStore) CreateSession(ctx context.Context, session *models.DuelSession) (uint, error) {
	id, err := s.redis.Incr(ctx, duelSeqKey).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: allocate session id: %w", ErrStoreUnavailable, err)
	}
	session.ID = uint(id)

	now := time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = session.CreatedAt
	}

	args := []interface{}{s.ttl.Milliseconds()}
	for _, kv := range sessionToHash(session) {
		args = append(args, kv[0], kv[1])
	}

	created, err := createSessionScript.Run(ctx, s.redis, []string{duelKey(session.RoomID)}, args...).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: create session %s: %w", ErrStoreUnavailable, session.RoomID, err)
	}
	if created == 0 {
		return 0, ErrRoomTaken
	}
	return session.ID, nil
}

func (s *RedisSessionStore) UpdateFields(ctx context.Context, roomID string, update SessionUpdate) (int64, error) {
	if len(update.Set) == 0 && len(update.Incr) == 0 {
		return 0, nil
	}

	args := []interface{}{len(update.Where), len(update.Set), len(update.Incr)}
	for field, value := range update.Where {
		args = append(args, field, redisValue(value))
	}
	for field, value := range update.Set {
		args = append(args, field, redisValue(value))
	}
	for field, delta := range update.Incr {
		args = append(args, field, delta)
	}

	matched, err := updateSessionScript.Run(ctx, s.redis, []string{duelKey(roomID)}, args...).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: update session %s: %w", ErrStoreUnavailable, roomID, err)
	}
	return matched, nil
}

// ListStale walks the duel keyspace; the sweeper calls it once a minute.
func (s *RedisSessionStore) ListStale(ctx context.Context, before time.Time, limit int) ([]models.DuelSession, error) {
	var sessions []models.DuelSession

	iter := s.redis.Scan(ctx, 0, duelKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		fields, err := s.redis.HGetAll(ctx, iter.Val()).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: list stale sessions: %w", ErrStoreUnavailable, err)
		}
		if len(fields) == 0 {
			continue
		}
		session, err := sessionFromHash(fields)
		if err != nil {
			return nil, fmt.Errorf("%w: decode %s: %w", ErrStoreUnavailable, iter.Val(), err)
		}
		if session.Status != models.DuelActive || !session.UpdatedAt.Before(before) {
			continue
		}
		sessions = append(sessions, *session)
		if limit > 0 && len(sessions) >= limit {
			break
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: list stale sessions: %w", ErrStoreUnavailable, err)
	}
	return sessions, nil
}

func sessionToHash(d *models.DuelSession) [][2]interface{} {
	completedAt := int64(0)
	if d.CompletedAt != nil {
		completedAt = d.CompletedAt.UnixMilli()
	}
	return [][2]interface{}{
		{"id", strconv.FormatUint(uint64(d.ID), 10)},
		{FieldRoomID, d.RoomID},
		{FieldPlayer1ID, d.Player1ID},
		{FieldPlayer2ID, d.Player2ID},
		{FieldPlayer1Score, strconv.Itoa(d.Player1Score)},
		{FieldPlayer2Score, strconv.Itoa(d.Player2Score)},
		{FieldPlayer1Answered, strconv.Itoa(d.Player1Answered)},
		{FieldPlayer2Answered, strconv.Itoa(d.Player2Answered)},
		{FieldStatus, string(d.Status)},
		{FieldWinner, d.Winner},
		{FieldCompletedAt, strconv.FormatInt(completedAt, 10)},
		{FieldCreatedAt, strconv.FormatInt(d.CreatedAt.UnixMilli(), 10)},
		{FieldUpdatedAt, strconv.FormatInt(d.UpdatedAt.UnixMilli(), 10)},
	}
}

func sessionFromHash(fields map[string]string) (*models.DuelSession, error) {
	ints := make(map[string]int64)
	for _, name := range []string{
		"id", FieldPlayer1Score, FieldPlayer2Score, FieldPlayer1Answered, FieldPlayer2Answered,
		FieldCompletedAt, FieldCreatedAt, FieldUpdatedAt,
	} {
		raw, ok := fields[name]
		if !ok || raw == "" {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		ints[name] = n
	}

	session := &models.DuelSession{
		ID:              uint(ints["id"]),
		RoomID:          fields[FieldRoomID],
		Player1ID:       fields[FieldPlayer1ID],
		Player2ID:       fields[FieldPlayer2ID],
		Player1Score:    int(ints[FieldPlayer1Score]),
		Player2Score:    int(ints[FieldPlayer2Score]),
		Player1Answered: int(ints[FieldPlayer1Answered]),
		Player2Answered: int(ints[FieldPlayer2Answered]),
		Status:          models.DuelStatus(fields[FieldStatus]),
		Winner:          fields[FieldWinner],
		CreatedAt:       time.UnixMilli(ints[FieldCreatedAt]),
		UpdatedAt:       time.UnixMilli(ints[FieldUpdatedAt]),
	}
	if ms := ints[FieldCompletedAt]; ms > 0 {
		completedAt := time.UnixMilli(ms)
		session.CompletedAt = &completedAt
	}
	return session, nil
}

// redisValue renders a SessionUpdate value the way sessionToHash stores it,
// so preconditions compare equal to the stored strings.
func redisValue(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case models.DuelStatus:
		return string(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case time.Time:
		return strconv.FormatInt(v.UnixMilli(), 10)
	case *time.Time:
		if v == nil {
			return "0"
		}
		return strconv.FormatInt(v.UnixMilli(), 10)
	case nil:
		return ""
	}
	return fmt.Sprint(value)
}
