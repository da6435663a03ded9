package domain

// Outcome classifies one execution of the unread-notification task.
//
// OutcomeAlreadyRead and OutcomeGone are benign terminal results, not
// errors: the executing worker must not retry them. OutcomeFailed is
// always paired with a non-nil error and marks a retryable dispatch
// failure (email transport, store unavailable).
type Outcome string

const (
	OutcomeSent        Outcome = "sent"
	OutcomeAlreadyRead Outcome = "already_read"
	OutcomeGone        Outcome = "message_gone"
	OutcomeFailed      Outcome = "failed"
)
