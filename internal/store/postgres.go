package store

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresMessages persists chat history in Postgres. Messages are
// append-only; this store never updates or deletes rows.
type PostgresMessages struct {
	db *sql.DB
}

func NewPostgresMessages(db *sql.DB) *PostgresMessages {
	return &PostgresMessages{db: db}
}

// CreateSchema creates the messages table if it does not exist.
func CreateSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS message (
			id BIGSERIAL PRIMARY KEY,
			pincode TEXT NOT NULL,
			user_id TEXT NOT NULL,
			body TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS message_pincode_created_idx
			ON message (pincode, created_at DESC);
	`)
	if err != nil {
		return fmt.Errorf("failed to create message schema: %w", err)
	}
	return nil
}

// Append stores one message and returns it with its id and timestamp.
func (s *PostgresMessages) Append(ctx context.Context, pincode, userID, body string) (Message, error) {
	m := Message{Pincode: pincode, UserID: userID, Body: body}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO message (pincode, user_id, body)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, pincode, userID, body).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("failed to append message: %w", err)
	}
	return m, nil
}

// Recent returns the latest messages for a pincode, oldest first.
func (s *PostgresMessages) Recent(ctx context.Context, pincode string, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pincode, user_id, body, created_at
		FROM message
		WHERE pincode = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, pincode, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat history: %w", err)
	}
	defer rows.Close()

	var history []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Pincode, &m.UserID, &m.Body, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		history = append(history, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load chat history: %w", err)
	}

	// Query returns newest first; replay wants oldest first.
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}
	return history, nil
}
