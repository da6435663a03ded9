package domain

import "time"

// DefaultNotificationDelayMinutes is used when a user is created without
// an explicit delay setting.
const DefaultNotificationDelayMinutes = 1

// User is a message participant.
type User struct {
	ID    string `db:"id" json:"id"`
	Email string `db:"email" json:"email"`

	// TelegramChatID links an optional Telegram DM channel. Zero means
	// the user has no linked chat and only receives email.
	TelegramChatID int64 `db:"telegram_chat_id" json:"telegram_chat_id,omitempty"`

	// NotificationDelayMinutes is how long an unread message waits before
	// a notification is dispatched. Mutable independently of messages;
	// the delay policy reads the current value at schedule time.
	NotificationDelayMinutes int `db:"notification_delay_minutes" json:"notification_delay_minutes"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
