package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"mailping/internal/domain"
)

// CreateMessage inserts a new unread message. Generates a UUID if ID is
// empty and stamps CreatedAt.
func (s *SQLiteStore) CreateMessage(ctx context.Context, m *domain.Message) error {
	if strings.TrimSpace(m.Body) == "" {
		return &domain.ValidationError{Field: "body", Reason: "must not be empty"}
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	m.Read = false
	m.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, sender_id, recipient_id, body, is_read, created_at, job_handle)
		VALUES (?, ?, ?, ?, 0, ?, '')`,
		m.ID, m.SenderID, m.RecipientID, m.Body, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	var m domain.Message
	err := s.db.GetContext(ctx, &m,
		"SELECT id, sender_id, recipient_id, body, is_read, created_at, job_handle FROM messages WHERE id = ?",
		id,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting message %s: %w", id, err)
	}
	return &m, nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context) ([]domain.Message, error) {
	var out []domain.Message
	err := s.db.SelectContext(ctx, &out,
		"SELECT id, sender_id, recipient_id, body, is_read, created_at, job_handle FROM messages ORDER BY created_at DESC",
	)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) SetJobHandle(ctx context.Context, id, handle string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE messages SET job_handle = ? WHERE id = ?",
		handle, id,
	)
	if err != nil {
		return fmt.Errorf("setting job handle on message %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}

// MarkRead flips the read flag. The UPDATE is unconditional on is_read so
// repeated calls stay idempotent; row-level atomicity of the single
// statement is the only consistency the read/fire race needs.
func (s *SQLiteStore) MarkRead(ctx context.Context, id string) (*domain.Message, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE messages SET is_read = 1 WHERE id = ?",
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("marking message %s read: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, domain.ErrMessageNotFound
	}
	return s.GetMessage(ctx, id)
}

func (s *SQLiteStore) CountUnread(ctx context.Context, recipientID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM messages WHERE recipient_id = ? AND is_read = 0",
		recipientID,
	)
	if err != nil {
		return 0, fmt.Errorf("counting unread for %s: %w", recipientID, err)
	}
	return n, nil
}
