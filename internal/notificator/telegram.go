package notificator

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	tgModels "github.com/go-telegram/bot/models"

	"github.com/core-coin/hashrent/pkg/logger"
)

type TelegramNotificator struct {
	logger *logger.Logger
	bot    *bot.Bot

	cancel context.CancelFunc
}

// NewTelegramNotificator connects the operator alert bot. Operators send
// /start to the bot to learn the chat id to put into TELEGRAM_ALERT_CHATS.
func NewTelegramNotificator(logger *logger.Logger, token string) (*TelegramNotificator, error) {
	provider := &TelegramNotificator{
		logger: logger,
	}
	opts := []bot.Option{
		bot.WithDefaultHandler(provider.handler),
	}

	b, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go b.Start(ctx)
	provider.bot = b
	provider.cancel = cancel

	return provider, nil
}

func (t *TelegramNotificator) SendNotification(ctx context.Context, chatId, message string) error {
	params := &bot.SendMessageParams{
		ChatID: chatId,
		Text:   message,
	}
	if _, err := t.bot.SendMessage(ctx, params); err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}

// Stop stops polling for updates.
func (t *TelegramNotificator) Stop() {
	t.cancel()
}

func (t *TelegramNotificator) handler(ctx context.Context, b *bot.Bot, update *tgModels.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	t.logger.Debug("Telegram update", "username", update.Message.From.Username, "text", update.Message.Text)
	if update.Message.Text != "/start" {
		return
	}
	chatID := fmt.Sprint(update.Message.Chat.ID)
	t.logger.Info("Telegram operator registered", "username", update.Message.From.Username, "chat_id", chatID)
	if err := t.SendNotification(ctx, chatID, "Alerts for this chat are enabled once chat id "+chatID+" is listed in TELEGRAM_ALERT_CHATS."); err != nil {
		t.logger.Error("Failed to answer /start", "error", err)
	}
}
