package store

import (
	"context"
	"time"

	"mailping/internal/domain"
)

// MessageStore is the message collaborator contract consumed by the
// lifecycle controller and the notification task.
type MessageStore interface {
	CreateMessage(ctx context.Context, m *domain.Message) error
	GetMessage(ctx context.Context, id string) (*domain.Message, error)
	ListMessages(ctx context.Context) ([]domain.Message, error)

	// SetJobHandle records the scheduled job handle on a message. This is
	// a second write after creation; callers treat its failure as a
	// degraded state, not a fatal error.
	SetJobHandle(ctx context.Context, id, handle string) error

	// MarkRead flips the read flag and returns the updated message.
	// Idempotent: marking an already-read message is a no-op that still
	// returns the message. Unknown id returns domain.ErrMessageNotFound.
	MarkRead(ctx context.Context, id string) (*domain.Message, error)

	// CountUnread returns the recipient's current total number of unread
	// messages. Notification tasks call this at fire time, never at
	// schedule time.
	CountUnread(ctx context.Context, recipientID string) (int, error)
}

// UserStore is the user collaborator contract.
type UserStore interface {
	CreateUser(ctx context.Context, u *domain.User) error
	GetUser(ctx context.Context, id string) (*domain.User, error)
	SetNotificationDelay(ctx context.Context, id string, minutes int) error
}

// Job state machine: pending -> fired | cancelled. Both transitions are
// single-statement claims guarded on the current state, so exactly one of
// a racing cancel and fire wins.
const (
	JobPending   = "pending"
	JobFired     = "fired"
	JobCancelled = "cancelled"
)

// Job is a persisted one-shot notification job owned by the scheduler.
// Messages reference jobs only by handle.
type Job struct {
	Handle    string    `db:"handle"`
	MessageID string    `db:"message_id"`
	FireAt    time.Time `db:"fire_at"`
	State     string    `db:"state"`
	CreatedAt time.Time `db:"created_at"`
}

// JobStore persists scheduled jobs so a restarted scheduler can rebuild
// its timers and so cancel/fire claims are atomic.
type JobStore interface {
	CreateJob(ctx context.Context, j *Job) error

	// ClaimFired transitions pending -> fired. Returns false without error
	// when the job is unknown or no longer pending.
	ClaimFired(ctx context.Context, handle string) (bool, error)

	// ClaimCancelled transitions pending -> cancelled with the same
	// semantics as ClaimFired.
	ClaimCancelled(ctx context.Context, handle string) (bool, error)

	// ReleaseJob transitions fired -> pending, undoing a claim whose job
	// could not be handed to a worker (scheduler shutting down). The
	// returned job is back within the sweep's reach after a restart.
	ReleaseJob(ctx context.Context, handle string) (bool, error)

	// PendingJobs returns all pending jobs, due or not.
	PendingJobs(ctx context.Context) ([]Job, error)

	// DueJobs returns pending jobs with fire_at <= now.
	DueJobs(ctx context.Context, now time.Time) ([]Job, error)
}
