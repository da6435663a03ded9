package mailer

import (
	"context"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"

	"mailping/pkg/logx"
)

// TelegramConfig configures the optional Telegram DM channel.
type TelegramConfig struct {
	Token string

	// Offline skips the getMe handshake; used by tests.
	Offline bool
}

// TelegramSender delivers notifications as direct messages to users with
// a linked chat id.
type TelegramSender struct {
	bot *tele.Bot
	log logx.Logger
}

func NewTelegramSender(cfg TelegramConfig, log logx.Logger) (*TelegramSender, error) {
	if strings.TrimSpace(cfg.Token) == "" && !cfg.Offline {
		return nil, fmt.Errorf("telegram token is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	bot, err := tele.NewBot(tele.Settings{Token: cfg.Token, Offline: cfg.Offline})
	if err != nil {
		return nil, fmt.Errorf("creating telegram bot: %w", err)
	}
	return &TelegramSender{bot: bot, log: log}, nil
}

func (s *TelegramSender) Send(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if n.To.TelegramChatID == 0 {
		return fmt.Errorf("user %s has no linked telegram chat", n.To.ID)
	}

	text := n.Subject + "\n\n" + n.Body
	if _, err := s.bot.Send(tele.ChatID(n.To.TelegramChatID), text); err != nil {
		return fmt.Errorf("telegram send to chat %d: %w", n.To.TelegramChatID, err)
	}

	s.log.Debug("telegram notification sent", logx.Int64("chat_id", n.To.TelegramChatID))
	return nil
}
