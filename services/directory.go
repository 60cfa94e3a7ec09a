package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"factduel/models"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// UnknownPlayerName is shown when the directory has no name for a user.
const UnknownPlayerName = "Unknown Player"

// Directory resolves a user id to the name shown to opponents.
type Directory interface {
	LookupDisplayName(ctx context.Context, userID string) (string, bool, error)
}

// UserDirectory reads names from the users table.
type UserDirectory struct {
	db *gorm.DB
}

func NewUserDirectory(db *gorm.DB) *UserDirectory {
	return &UserDirectory{db: db}
}

func (d *UserDirectory) LookupDisplayName(ctx context.Context, userID string) (string, bool, error) {
	var user models.User
	err := d.db.WithContext(ctx).Select("id", "first_name", "last_name").Where("id = ?", userID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup user %s: %w", userID, err)
	}

	name := user.DisplayName()
	return name, name != "", nil
}

// CachedDirectory keeps display names in Redis in front of another
// Directory. Misses are not cached.
type CachedDirectory struct {
	next  Directory
	redis *redis.Client
	ttl   time.Duration
}

func NewCachedDirectory(next Directory, client *redis.Client, ttl time.Duration) *CachedDirectory {
	return &CachedDirectory{next: next, redis: client, ttl: ttl}
}

func displayNameKey(userID string) string {
	return "user:name:" + userID
}

func (d *CachedDirectory) LookupDisplayName(ctx context.Context, userID string) (string, bool, error) {
	name, err := d.redis.Get(ctx, displayNameKey(userID)).Result()
	if err == nil {
		return name, true, nil
	}
	if err != redis.Nil {
		log.Printf("Redis error reading display name for %s: %v", userID, err)
	}

	name, ok, err := d.next.LookupDisplayName(ctx, userID)
	if err != nil || !ok {
		return name, ok, err
	}

	if err := d.redis.Set(ctx, displayNameKey(userID), name, d.ttl).Err(); err != nil {
		log.Printf("Failed to cache display name for %s: %v", userID, err)
	}
	return name, true, nil
}

// displayName never fails: directory errors and misses fall back to
// UnknownPlayerName.
func displayName(ctx context.Context, dir Directory, userID string) string {
	if dir == nil {
		return UnknownPlayerName
	}
	name, ok, err := dir.LookupDisplayName(ctx, userID)
	if err != nil {
		log.Printf("Could not retrieve display name for %s: %v", userID, err)
		return UnknownPlayerName
	}
	if !ok {
		return UnknownPlayerName
	}
	return name
}
