package store

import (
	"context"
	"sync"
	"time"
)

// MemoryCommunities is an in-process CommunityStore with the same
// create-if-absent atomicity as the Redis store. Used by the test suite and
// for running the engine without external collaborators.
type MemoryCommunities struct {
	mu      sync.Mutex
	records map[string]Community
}

func NewMemoryCommunities() *MemoryCommunities {
	return &MemoryCommunities{records: make(map[string]Community)}
}

func (s *MemoryCommunities) Ensure(ctx context.Context, pincode, userID string) (Community, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[pincode]; ok {
		return existing, false, nil
	}
	record := Community{Pincode: pincode, PresidentID: userID}
	s.records[pincode] = record
	return record, true, nil
}

func (s *MemoryCommunities) Get(ctx context.Context, pincode string) (Community, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[pincode]
	if !ok {
		return Community{}, ErrNotFound
	}
	return record, nil
}

// MemoryMessages is an in-process MessageStore.
type MemoryMessages struct {
	mu       sync.Mutex
	nextID   int64
	messages map[string][]Message
}

func NewMemoryMessages() *MemoryMessages {
	return &MemoryMessages{nextID: 1, messages: make(map[string][]Message)}
}

func (s *MemoryMessages) Append(ctx context.Context, pincode, userID, body string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := Message{
		ID:        s.nextID,
		Pincode:   pincode,
		UserID:    userID,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
	s.nextID++
	s.messages[pincode] = append(s.messages[pincode], m)
	return m, nil
}

func (s *MemoryMessages) Recent(ctx context.Context, pincode string, limit int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.messages[pincode]
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]Message, len(all))
	copy(out, all)
	return out, nil
}
