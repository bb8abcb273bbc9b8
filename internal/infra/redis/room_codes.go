package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RoomCodeStore reserves room codes in Redis so a code is never handed out
// twice while a room is alive. The TTL bounds how long an orphaned
// reservation can linger if a process dies without releasing it.
type RoomCodeStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRoomCodeStore(client *redis.Client, ttl time.Duration) *RoomCodeStore {
	return &RoomCodeStore{client: client, ttl: ttl}
}

// Reserve claims a code. It reports false when the code is already taken.
func (s *RoomCodeStore) Reserve(ctx context.Context, code string) (bool, error) {
	return s.client.SetNX(ctx, s.key(code), "1", s.ttl).Result()
}

// Release frees a code once its room is purged. Best effort.
func (s *RoomCodeStore) Release(ctx context.Context, code string) {
	_ = s.client.Del(ctx, s.key(code)).Err()
}

func (s *RoomCodeStore) key(code string) string {
	return "room:code:" + code
}
