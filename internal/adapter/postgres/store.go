package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Kestr3l/ChatRelay/internal/domain/chat"
)

// Store implements the transcript.Store port on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureThread creates the thread row if it does not already exist and bumps
// updated_at when it does.
func (s *Store) EnsureThread(ctx context.Context, threadID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO threads (id) VALUES ($1)
		 ON CONFLICT (id) DO UPDATE SET updated_at = NOW()`,
		threadID)
	if err != nil {
		return fmt.Errorf("ensure thread %s: %w", threadID, err)
	}
	return nil
}

// AppendMessage stores one transcript entry. Citations are serialized to
// JSONB; an empty slice is stored as NULL.
func (s *Store) AppendMessage(ctx context.Context, m *chat.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}

	var citations []byte
	if len(m.Citations) > 0 {
		var err error
		citations, err = json.Marshal(m.Citations)
		if err != nil {
			return fmt.Errorf("marshal citations: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO thread_messages (id, thread_id, role, content, citations)
		 VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.ThreadID, m.Role, m.Content, citations)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}

	_, _ = s.pool.Exec(ctx, `UPDATE threads SET updated_at = NOW() WHERE id = $1`, m.ThreadID)
	return nil
}

// ListMessages returns a thread's transcript in chronological order.
func (s *Store) ListMessages(ctx context.Context, threadID string) ([]chat.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, thread_id, role, content, citations, created_at
		 FROM thread_messages WHERE thread_id = $1 ORDER BY created_at ASC`,
		threadID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var result []chat.Message
	for rows.Next() {
		var m chat.Message
		var citations []byte
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.Role, &m.Content, &citations, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if len(citations) > 0 {
			if err := json.Unmarshal(citations, &m.Citations); err != nil {
				return nil, fmt.Errorf("unmarshal citations: %w", err)
			}
		}
		result = append(result, m)
	}
	return result, rows.Err()
}
