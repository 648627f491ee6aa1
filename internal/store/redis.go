package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCommunities stores community records in Redis. SET NX makes the
// create-if-absent atomic, which is exactly the guarantee the president
// election needs: two simultaneous first-joins race on one SETNX and the
// loser reads the winner's record.
type RedisCommunities struct {
	client *redis.Client
}

// NewRedisCommunities connects and verifies the connection.
func NewRedisCommunities(addr, password string, db int) (*RedisCommunities, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCommunities{client: rdb}, nil
}

func communityKey(pincode string) string {
	return "community:" + pincode
}

// Ensure implements the first-joiner-wins bootstrap.
func (s *RedisCommunities) Ensure(ctx context.Context, pincode, userID string) (Community, bool, error) {
	record := Community{Pincode: pincode, PresidentID: userID}
	payload, err := json.Marshal(record)
	if err != nil {
		return Community{}, false, err
	}

	created, err := s.client.SetNX(ctx, communityKey(pincode), payload, 0).Result()
	if err != nil {
		return Community{}, false, fmt.Errorf("failed to create community record: %w", err)
	}
	if created {
		return record, true, nil
	}

	existing, err := s.Get(ctx, pincode)
	if err != nil {
		return Community{}, false, err
	}
	return existing, false, nil
}

// Get returns the community record for a pincode.
func (s *RedisCommunities) Get(ctx context.Context, pincode string) (Community, error) {
	raw, err := s.client.Get(ctx, communityKey(pincode)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Community{}, ErrNotFound
	}
	if err != nil {
		return Community{}, fmt.Errorf("failed to read community record: %w", err)
	}

	var record Community
	if err := json.Unmarshal(raw, &record); err != nil {
		return Community{}, fmt.Errorf("corrupt community record for %s: %w", pincode, err)
	}
	return record, nil
}

// Close closes the Redis connection.
func (s *RedisCommunities) Close() error {
	return s.client.Close()
}
