// Package store holds the contracts for the external persistence
// collaborators: durable community records and append-only chat history.
// The engine only needs enough persistence to rehydrate a newly-joined
// session; everything else lives in memory for the process lifetime.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = errors.New("record not found")

// Community is the durable per-locality record. The president is set
// exactly once, when the record is created, and never reassigned here.
type Community struct {
	Pincode     string `json:"pincode"`
	PresidentID string `json:"presidentId"`
}

// Message is one persisted chat line. Append-only; never mutated.
type Message struct {
	ID        int64     `json:"id"`
	Pincode   string    `json:"pincode"`
	UserID    string    `json:"userId"`
	Body      string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// CommunityStore reads and creates community records.
type CommunityStore interface {
	// Ensure returns the community for a pincode, creating it with the
	// given user as president if absent. Creation must be atomic: when two
	// sessions race on a new pincode, exactly one create wins and the
	// other observes the winner's president. The second return reports
	// whether this call created the record.
	Ensure(ctx context.Context, pincode, userID string) (Community, bool, error)

	// Get returns the community for a pincode, or ErrNotFound.
	Get(ctx context.Context, pincode string) (Community, error)
}

// MessageStore persists chat messages.
type MessageStore interface {
	// Append stores one message and returns it with storage-assigned fields.
	Append(ctx context.Context, pincode, userID, body string) (Message, error)

	// Recent returns up to limit most recent messages for a pincode,
	// ordered oldest first, ready for history replay.
	Recent(ctx context.Context, pincode string, limit int) ([]Message, error)
}
