package store

import (
	"context"
	"fmt"

	"github.com/lumenlab/scholar/internal/memory"
)

// SaveMessage stores one conversation turn. Implements memory.MessageLog.
func (s *Store) SaveMessage(ctx context.Context, sessionKey string, msg memory.Message) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO messages (id, session_key, role, content, token_count, is_active)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, TRUE)`,
		sessionKey, string(msg.Role), msg.Content, msg.TokenEstimate,
	)
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

// TombstoneOldest marks the oldest active message of a session inactive.
// Rows are never deleted; eviction history stays queryable.
func (s *Store) TombstoneOldest(ctx context.Context, sessionKey string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE messages SET is_active = FALSE
		WHERE id = (
			SELECT id FROM messages
			WHERE session_key = $1 AND is_active = TRUE
			ORDER BY created_at ASC LIMIT 1
		)`, sessionKey)
	if err != nil {
		return fmt.Errorf("tombstone oldest message: %w", err)
	}
	return nil
}

// ClearMessages tombstones every active message of a session.
func (s *Store) ClearMessages(ctx context.Context, sessionKey string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE messages SET is_active = FALSE WHERE session_key = $1`, sessionKey)
	if err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	return nil
}

// ActiveMessages returns a session's active messages in creation order,
// for recovery after a restart.
func (s *Store) ActiveMessages(ctx context.Context, sessionKey string) ([]memory.Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT role, content, token_count, created_at
		FROM messages
		WHERE session_key = $1 AND is_active = TRUE
		ORDER BY created_at ASC`, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	var msgs []memory.Message
	for rows.Next() {
		var m memory.Message
		var role string
		if err := rows.Scan(&role, &m.Content, &m.TokenEstimate, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = memory.Role(role)
		m.Active = true
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
