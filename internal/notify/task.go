package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mailping/internal/domain"
	"mailping/internal/eventbus"
	"mailping/internal/mailer"
	"mailping/internal/store"
	"mailping/pkg/logx"
)

// Task is the deferred unit of work the scheduler executes at fire time.
//
// It never trusts state captured at schedule time: minutes may have
// passed, and the message may since have been read or deleted. Every
// execution re-fetches the message and recounts the recipient's unread
// messages, which is also what makes at-least-once execution safe — a
// second run of an already-notified or already-read message is a no-op
// without any task-level dedup state.
type Task struct {
	messages store.MessageStore
	users    store.UserStore
	sender   mailer.Sender
	log      logx.Logger
	bus      eventbus.Bus
}

func NewTask(messages store.MessageStore, users store.UserStore, sender mailer.Sender, log logx.Logger, bus eventbus.Bus) *Task {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Task{messages: messages, users: users, sender: sender, log: log, bus: bus}
}

// Execute sends the unread notification for messageID if, and only if,
// the message still exists and is still unread. Benign no-ops come back
// as outcomes with a nil error; only store and transport failures return
// an error, which the scheduler treats as retryable.
func (t *Task) Execute(ctx context.Context, messageID string) (domain.Outcome, error) {
	msg, err := t.messages.GetMessage(ctx, messageID)
	if errors.Is(err, domain.ErrMessageNotFound) {
		t.log.Info("message gone; skipping notification", logx.String("message_id", messageID))
		t.publish("notify.skipped", NotifyEvent{MessageID: messageID, Outcome: string(domain.OutcomeGone)})
		return domain.OutcomeGone, nil
	}
	if err != nil {
		return domain.OutcomeFailed, err
	}

	if msg.Read {
		t.log.Info("message already read; notification cancelled",
			logx.String("message_id", messageID))
		t.publish("notify.skipped", NotifyEvent{MessageID: messageID, Outcome: string(domain.OutcomeAlreadyRead)})
		return domain.OutcomeAlreadyRead, nil
	}

	recipient, err := t.users.GetUser(ctx, msg.RecipientID)
	if errors.Is(err, domain.ErrUserNotFound) {
		// Recipient deleted after the message was created; nothing to notify.
		t.log.Info("recipient gone; skipping notification",
			logx.String("message_id", messageID),
			logx.String("recipient_id", msg.RecipientID))
		t.publish("notify.skipped", NotifyEvent{MessageID: messageID, Outcome: string(domain.OutcomeGone)})
		return domain.OutcomeGone, nil
	}
	if err != nil {
		return domain.OutcomeFailed, err
	}

	// Fresh count at fire time, never the count at creation time.
	unread, err := t.messages.CountUnread(ctx, msg.RecipientID)
	if err != nil {
		return domain.OutcomeFailed, err
	}

	n := mailer.Notification{
		To:      *recipient,
		Subject: "You have unread messages",
		Body:    composeBody(unread),
	}
	if err := t.sender.Send(ctx, n); err != nil {
		t.publish("notify.failed", NotifyEvent{
			MessageID:   messageID,
			RecipientID: recipient.ID,
			Error:       err.Error(),
		})
		return domain.OutcomeFailed, fmt.Errorf("dispatching notification for message %s: %w", messageID, err)
	}

	t.log.Info("unread notification sent",
		logx.String("message_id", messageID),
		logx.String("to", recipient.Email),
		logx.Int("unread", unread))
	t.publish("notify.sent", NotifyEvent{
		MessageID:   messageID,
		RecipientID: recipient.ID,
		Unread:      unread,
	})
	return domain.OutcomeSent, nil
}

func composeBody(unread int) string {
	plural := "s"
	if unread == 1 {
		plural = ""
	}
	return fmt.Sprintf("You have %d unread message%s. Visit /messages to read them.", unread, plural)
}

func (t *Task) publish(typ string, data NotifyEvent) {
	if t.bus == nil {
		return
	}
	t.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}

// NotifyEvent is the bus payload for notification outcomes.
type NotifyEvent struct {
	MessageID   string `json:"message_id"`
	RecipientID string `json:"recipient_id,omitempty"`
	Outcome     string `json:"outcome,omitempty"`
	Unread      int    `json:"unread,omitempty"`
	Error       string `json:"error,omitempty"`
}
