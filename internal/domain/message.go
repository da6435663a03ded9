package domain

import "time"

// Message is one piece of user-to-user mail.
//
// Lifecycle: created unread on send; JobHandle is set once right after
// creation when the unread-notification job is scheduled; Read flips
// false -> true exactly once (marking an already-read message again is a
// no-op). A message holds at most one live job handle at a time. The
// handle is only a back-reference for cancellation, the job itself is
// owned by the scheduler.
type Message struct {
	ID          string    `db:"id" json:"id"`
	SenderID    string    `db:"sender_id" json:"sender_id"`
	RecipientID string    `db:"recipient_id" json:"recipient_id"`
	Body        string    `db:"body" json:"body"`
	Read        bool      `db:"is_read" json:"is_read"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`

	// JobHandle is empty when no notification job is associated with the
	// message (not yet scheduled, scheduling failed, or degraded handle
	// write). An empty handle is safe: the notification task re-checks
	// live state before sending anyway.
	JobHandle string `db:"job_handle" json:"job_handle,omitempty"`
}
