// Package notificator mirrors domain events to an operator Telegram chat.
package notificator

import (
	"context"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/go-telegram/bot"
	tgModels "github.com/go-telegram/bot/models"

	"github.com/core-coin/speculum/internal/models"
	"github.com/core-coin/speculum/pkg/logger"
)

const (
	queueSize = 64
	// Telegram rejects messages longer than 4096 characters
	maxMessageLen = 4000
)

type sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgModels.Message, error)
}

type TelegramNotificator struct {
	logger *logger.Logger
	sender sender
	bot    *bot.Bot
	chatID string
	queue  chan string
}

func NewTelegramNotificator(logger *logger.Logger, token, chatID string) (*TelegramNotificator, error) {
	t := newNotificator(logger, nil, chatID)
	b, err := bot.New(token, bot.WithDefaultHandler(t.handler))
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	t.bot = b
	t.sender = b
	return t, nil
}

func newNotificator(logger *logger.Logger, s sender, chatID string) *TelegramNotificator {
	return &TelegramNotificator{
		logger: logger,
		sender: s,
		chatID: chatID,
		queue:  make(chan string, queueSize),
	}
}

// Run polls bot updates and delivers queued messages until ctx is done.
func (t *TelegramNotificator) Run(ctx context.Context) {
	if t.bot != nil {
		go t.bot.Start(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-t.queue:
			t.SendNotification(ctx, t.chatID, msg)
		}
	}
}

func (t *TelegramNotificator) SendNotification(ctx context.Context, chatID, message string) {
	params := &bot.SendMessageParams{
		ChatID: chatID,
		Text:   message,
	}
	_, err := t.sender.SendMessage(ctx, params)
	if err != nil {
		t.logger.Errorw("Failed to send telegram message", "chat", chatID, "error", err)
	}
}

// Service returns an emitter that mirrors the events of one service to the operator chat.
// Messages are dropped when the queue is full.
func (t *TelegramNotificator) Service(name string) models.Emitter {
	return serviceEmitter{t: t, service: name}
}

type serviceEmitter struct {
	t       *TelegramNotificator
	service string
}

func (e serviceEmitter) Emit(event string, payload interface{}) {
	msg := format(e.service, event, payload)
	select {
	case e.t.queue <- msg:
	default:
		e.t.logger.Warnw("Telegram queue full, dropping message", "service", e.service, "event", event)
	}
}

func format(service, event string, payload interface{}) string {
	body, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		body = []byte(fmt.Sprint(payload))
	}
	msg := fmt.Sprintf("[%s] %s\n%s", service, event, body)
	if len(msg) > maxMessageLen {
		cut := maxMessageLen
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut] + "..."
	}
	return msg
}

func (t *TelegramNotificator) handler(ctx context.Context, b *bot.Bot, update *tgModels.Update) {
	if update.Message == nil {
		return
	}
	user := update.Message.From
	if user == nil {
		t.logger.Error("User is nil")
		return
	}
	t.logger.Debugw("Telegram update", "username", user.Username, "text", update.Message.Text)
	if update.Message.Text == "/start" {
		chatID := fmt.Sprint(update.Message.Chat.ID)
		t.logger.Infow("Telegram chat registered", "username", user.Username, "chat", chatID)
		t.SendNotification(ctx, chatID, "Set TELEGRAM_CHAT_ID="+chatID+" to receive marketplace events here.")
	}
}
