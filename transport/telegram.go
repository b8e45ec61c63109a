package transport

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/busops/logsleuth/log"
)

// Telegram is the production chat transport. Outgoing text is treated
// as markdown, rendered to Telegram's HTML dialect and sanitized; if
// Telegram rejects the markup the message is retried as plain text.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	logger log.Logger
}

var _ Transport = (*Telegram)(nil)

// NewTelegram authorizes the bot with the given token.
func NewTelegram(token string, logger log.Logger) (*Telegram, error) {
	if logger == nil {
		logger = log.Default()
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram authorize: %w", err)
	}
	logger.Info("telegram transport authorized as @%s", bot.Self.UserName)
	return &Telegram{bot: bot, logger: logger}, nil
}

// Send delivers a new message and returns its handle.
func (t *Telegram) Send(_ context.Context, chatID int64, text string) (MessageHandle, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	if html := renderHTML(text); html != "" {
		msg.Text = html
		msg.ParseMode = tgbotapi.ModeHTML
	}

	sent, err := t.bot.Send(msg)
	if err != nil && msg.ParseMode != "" {
		// Markup rejected; deliver the raw text instead.
		t.logger.Debug("telegram rejected HTML message, retrying as plain text: %v", err)
		sent, err = t.bot.Send(tgbotapi.NewMessage(chatID, text))
	}
	if err != nil {
		return 0, fmt.Errorf("telegram send: %w", err)
	}
	return MessageHandle(sent.MessageID), nil
}

// Edit replaces the text of a previously sent message.
func (t *Telegram) Edit(_ context.Context, chatID int64, handle MessageHandle, text string) error {
	edit := tgbotapi.NewEditMessageText(chatID, int(handle), text)
	if html := renderHTML(text); html != "" {
		edit.Text = html
		edit.ParseMode = tgbotapi.ModeHTML
	}

	_, err := t.bot.Send(edit)
	if err != nil && edit.ParseMode != "" {
		t.logger.Debug("telegram rejected HTML edit, retrying as plain text: %v", err)
		_, err = t.bot.Send(tgbotapi.NewEditMessageText(chatID, int(handle), text))
	}
	if err != nil {
		return fmt.Errorf("telegram edit: %w", err)
	}
	return nil
}

// Listen long-polls for operator messages and invokes handler once per
// message, each in its own goroutine. It returns when ctx is
// cancelled.
func (t *Telegram) Listen(ctx context.Context, handler func(ctx context.Context, chatID int64, text string)) {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 30
	updates := t.bot.GetUpdatesChan(cfg)

	for {
		select {
		case <-ctx.Done():
			t.bot.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			chatID := update.Message.Chat.ID
			text := update.Message.Text

			if update.Message.IsCommand() {
				if update.Message.Command() == "start" {
					if _, err := t.Send(ctx, chatID, "Hello! Ask me about your logs and I'll investigate."); err != nil {
						t.logger.Warn("greeting failed: %v", err)
					}
				}
				continue
			}

			go handler(ctx, chatID, text)
		}
	}
}
