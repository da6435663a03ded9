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

// CreateUser inserts a new user. Generates a UUID if ID is empty. The
// delay value is stored as given; zero is a valid setting (notify
// immediately), so defaulting for omitted values happens at the API
// boundary, where omission is still distinguishable.
func (s *SQLiteStore) CreateUser(ctx context.Context, u *domain.User) error {
	if strings.TrimSpace(u.Email) == "" {
		return &domain.ValidationError{Field: "email", Reason: "must not be empty"}
	}
	if u.NotificationDelayMinutes < 0 {
		return &domain.ValidationError{Field: "notification_delay_minutes", Reason: "must be >= 0"}
	}
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	u.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, telegram_chat_id, notification_delay_minutes, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.TelegramChatID, u.NotificationDelayMinutes, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	err := s.db.GetContext(ctx, &u,
		"SELECT id, email, telegram_chat_id, notification_delay_minutes, created_at FROM users WHERE id = ?",
		id,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting user %s: %w", id, err)
	}
	return &u, nil
}

func (s *SQLiteStore) SetNotificationDelay(ctx context.Context, id string, minutes int) error {
	if minutes < 0 {
		return &domain.ValidationError{Field: "notification_delay_minutes", Reason: "must be >= 0"}
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET notification_delay_minutes = ? WHERE id = ?",
		minutes, id,
	)
	if err != nil {
		return fmt.Errorf("setting notification delay for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}
