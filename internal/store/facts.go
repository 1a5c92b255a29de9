package store

import (
	"context"
	"fmt"

	"github.com/lumenlab/scholar/internal/memory"
)

// SaveFact stores one extracted fact. Implements memory.FactLog.
func (s *Store) SaveFact(ctx context.Context, fact memory.Fact) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO facts (id, session_key, fact, confidence, source)
		VALUES (gen_random_uuid(), $1, $2, $3, $4)`,
		fact.SessionKey, fact.Text, fact.Confidence, fact.Source,
	)
	if err != nil {
		return fmt.Errorf("save fact: %w", err)
	}
	return nil
}

// EvictOldestFact deletes the oldest fact of a session, mirroring the
// in-memory FIFO cap.
func (s *Store) EvictOldestFact(ctx context.Context, sessionKey string) error {
	_, err := s.db.Exec(ctx, `
		DELETE FROM facts
		WHERE id = (
			SELECT id FROM facts
			WHERE session_key = $1
			ORDER BY created_at ASC LIMIT 1
		)`, sessionKey)
	if err != nil {
		return fmt.Errorf("evict oldest fact: %w", err)
	}
	return nil
}

// ClearFacts removes every fact of a session.
func (s *Store) ClearFacts(ctx context.Context, sessionKey string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM facts WHERE session_key = $1`, sessionKey)
	if err != nil {
		return fmt.Errorf("clear facts: %w", err)
	}
	return nil
}

// Facts returns a session's persisted facts in creation order.
func (s *Store) Facts(ctx context.Context, sessionKey string) ([]memory.Fact, error) {
	rows, err := s.db.Query(ctx, `
		SELECT fact, confidence, source, created_at
		FROM facts
		WHERE session_key = $1
		ORDER BY created_at ASC`, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("load facts: %w", err)
	}
	defer rows.Close()

	var facts []memory.Fact
	for rows.Next() {
		f := memory.Fact{SessionKey: sessionKey}
		if err := rows.Scan(&f.Text, &f.Confidence, &f.Source, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}
