package mailer

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"mailping/internal/domain"
	"mailping/pkg/logx"
)

// Notification is one outbound unread-mail notification.
type Notification struct {
	To      domain.User
	Subject string
	Body    string
}

// Sender dispatches a notification over one channel. Implementations must
// return transport errors instead of swallowing them: the caller decides
// what is retryable.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

var errNoChannel = errors.New("no notification channel configured")

// Dispatcher fans a notification out to the configured channels behind a
// shared rate limit. Email is the authoritative channel: its transport
// error propagates to the caller. The Telegram DM, when the user has a
// linked chat, is an extra best-effort delivery whose failure is only
// logged.
type Dispatcher struct {
	email    Sender
	telegram Sender // nil when the channel is not configured
	limiter  *rate.Limiter
	log      logx.Logger
}

func NewDispatcher(email, telegram Sender, ratePerSec int, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	var lim *rate.Limiter
	if ratePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec)
	}
	return &Dispatcher{email: email, telegram: telegram, limiter: lim, log: log}
}

func (d *Dispatcher) Send(ctx context.Context, n Notification) error {
	if d.email == nil && d.telegram == nil {
		return errNoChannel
	}
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	if d.telegram != nil && n.To.TelegramChatID != 0 {
		if err := d.telegram.Send(ctx, n); err != nil {
			d.log.Warn("telegram channel failed",
				logx.String("user_id", n.To.ID),
				logx.Int64("chat_id", n.To.TelegramChatID),
				logx.Err(err))
		}
	}

	if d.email == nil {
		return nil
	}
	return d.email.Send(ctx, n)
}
