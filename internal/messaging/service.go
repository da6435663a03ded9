package messaging

import (
	"context"
	"errors"
	"strings"
	"time"

	"mailping/internal/domain"
	"mailping/internal/eventbus"
	"mailping/internal/notify"
	"mailping/internal/scheduler"
	"mailping/internal/store"
	"mailping/pkg/logx"
)

const defaultCancelTimeout = 2 * time.Second

// Service is the message lifecycle controller: it creates messages and
// schedules their unread notification, and marks messages read while
// attempting best-effort cancellation of the scheduled job.
type Service struct {
	messages store.MessageStore
	users    store.UserStore
	sched    scheduler.Scheduler
	policy   *notify.DelayPolicy
	log      logx.Logger
	bus      eventbus.Bus

	// cancelTimeout bounds the scheduler cancel call during MarkRead so a
	// hanging backend can never stall the request. A timeout counts as
	// "not cancelled".
	cancelTimeout time.Duration
}

func New(messages store.MessageStore, users store.UserStore, sched scheduler.Scheduler,
	policy *notify.DelayPolicy, cancelTimeout time.Duration, log logx.Logger, bus eventbus.Bus) *Service {

	if log.IsZero() {
		log = logx.Nop()
	}
	if cancelTimeout <= 0 {
		cancelTimeout = defaultCancelTimeout
	}
	return &Service{
		messages:      messages,
		users:         users,
		sched:         sched,
		policy:        policy,
		log:           log,
		bus:           bus,
		cancelTimeout: cancelTimeout,
	}
}

// CreateResult is returned by CreateMessage.
type CreateResult struct {
	Message *domain.Message

	// FireTime is zero and JobHandle empty when scheduling degraded: the
	// message exists but no notification job could be recorded for it.
	FireTime  time.Time
	JobHandle string
}

// MarkReadResult is returned by MarkRead.
type MarkReadResult struct {
	Message *domain.Message

	// NotificationCancelled is true only when the cancel attempt
	// provably prevented a future notification. False is a normal
	// outcome (no handle, job already fired, cancel lost the race or
	// timed out), never an error.
	NotificationCancelled bool
}

// CreateMessage validates both participants, persists the message and
// schedules the unread notification.
//
// Scheduling failures after the message is persisted are a degraded
// success, not an error: the message exists, no notification job is
// attached, and the caller is told via an empty handle. The same applies
// when the handle cannot be written back onto the message — the job will
// still fire and the task's live re-check keeps it safe, the message is
// merely not cancellable.
func (s *Service) CreateMessage(ctx context.Context, senderID, recipientID, body string) (*CreateResult, error) {
	if strings.TrimSpace(body) == "" {
		return nil, &domain.ValidationError{Field: "body", Reason: "must not be empty"}
	}
	if _, err := s.users.GetUser(ctx, senderID); err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, &domain.ValidationError{Field: "sender_id", Reason: "unknown user"}
		}
		return nil, err
	}
	if _, err := s.users.GetUser(ctx, recipientID); err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, &domain.ValidationError{Field: "recipient_id", Reason: "unknown user"}
		}
		return nil, err
	}

	msg := &domain.Message{
		SenderID:    senderID,
		RecipientID: recipientID,
		Body:        body,
	}
	if err := s.messages.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}
	s.publish("message.created", MessageEvent{MessageID: msg.ID, RecipientID: recipientID})

	res := &CreateResult{Message: msg}

	fireAt, err := s.policy.FireTime(ctx, recipientID)
	if err != nil {
		s.log.Warn("delay resolution failed; message left without notification",
			logx.String("message_id", msg.ID), logx.Err(err))
		return res, nil
	}

	handle, err := s.sched.Schedule(ctx, fireAt, msg.ID)
	if err != nil {
		s.log.Warn("notification scheduling failed; message left without notification",
			logx.String("message_id", msg.ID), logx.Err(err))
		return res, nil
	}
	res.FireTime = fireAt
	res.JobHandle = handle

	if err := s.messages.SetJobHandle(ctx, msg.ID, handle); err != nil {
		// Accepted degraded state: the job exists and will self-check at
		// fire time, but MarkRead has no handle to cancel with.
		s.log.Warn("message left without cancellable handle",
			logx.String("message_id", msg.ID),
			logx.String("handle", handle),
			logx.Err(err))
		return res, nil
	}
	msg.JobHandle = handle
	return res, nil
}

// MarkRead durably flips the read flag, then attempts to cancel the
// scheduled notification. Idempotent: marking an already-read message
// succeeds again and still attempts the cancel. Read
// persistence never depends on scheduler health; a failed or timed-out
// cancel only yields NotificationCancelled=false.
func (s *Service) MarkRead(ctx context.Context, messageID string) (*MarkReadResult, error) {
	msg, err := s.messages.MarkRead(ctx, messageID)
	if err != nil {
		return nil, err
	}

	cancelled := false
	if msg.JobHandle != "" {
		cctx, cancel := context.WithTimeout(ctx, s.cancelTimeout)
		cancelled = s.sched.Cancel(cctx, msg.JobHandle)
		cancel()
	}

	s.publish("message.read", MessageEvent{
		MessageID:             msg.ID,
		RecipientID:           msg.RecipientID,
		NotificationCancelled: cancelled,
	})
	return &MarkReadResult{Message: msg, NotificationCancelled: cancelled}, nil
}

// ListMessages returns all messages, newest first.
func (s *Service) ListMessages(ctx context.Context) ([]domain.Message, error) {
	return s.messages.ListMessages(ctx)
}

// CreateUser registers a message participant.
func (s *Service) CreateUser(ctx context.Context, u *domain.User) error {
	return s.users.CreateUser(ctx, u)
}

// SetNotificationDelay updates a user's delay setting. Affects the next
// scheduled message, not jobs already in flight.
func (s *Service) SetNotificationDelay(ctx context.Context, userID string, minutes int) error {
	if minutes < 0 {
		return &domain.ValidationError{Field: "notification_delay_minutes", Reason: "must be >= 0"}
	}
	return s.users.SetNotificationDelay(ctx, userID, minutes)
}

func (s *Service) publish(typ string, data MessageEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}

// MessageEvent is the bus payload for message lifecycle events.
type MessageEvent struct {
	MessageID             string `json:"message_id"`
	RecipientID           string `json:"recipient_id,omitempty"`
	NotificationCancelled bool   `json:"notification_cancelled,omitempty"`
}
