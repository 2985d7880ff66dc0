package botapi

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"voicednut-bot/internal/bridge"
	"voicednut-bot/internal/domain/users"
	"voicednut-bot/internal/infra/logger"
)

// API — срез клиента Bot API, нужный командному боту. Интерфейс позволяет
// подменять транспорт в тестах.
type API interface {
	SendMessage(ctx context.Context, chatID int64, text string, markup *InlineKeyboard) error
	GetUpdates(ctx context.Context, offset int64) ([]Update, error)
}

// commandTimeout ограничивает обработку одной команды чата.
const commandTimeout = 10 * time.Second

// pollRetryDelay — пауза перед повтором getUpdates после сбоя без retry_after.
const pollRetryDelay = 3 * time.Second

// Bot — командный интерфейс в чате Telegram: /start, /app, /health, /whoami.
// Основная работа идёт через Mini App; бот лишь открывает её и отвечает на
// базовые вопросы.
type Bot struct {
	api      API
	users    users.Store
	provider bridge.ProviderAPI

	webAppURL     string
	adminUsername string
}

// NewBot собирает командного бота.
func NewBot(api API, store users.Store, provider bridge.ProviderAPI, webAppURL, adminUsername string) *Bot {
	return &Bot{
		api:           api,
		users:         store,
		provider:      provider,
		webAppURL:     webAppURL,
		adminUsername: adminUsername,
	}
}

// Run крутит long-poll getUpdates до отмены контекста. Сбои поллинга не
// фатальны: цикл ждёт и повторяет, уважая retry_after сервера.
func (b *Bot) Run(ctx context.Context) error {
	logger.Info("Starting bot updates loop")

	var offset int64
	for {
		updates, err := b.api.GetUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("Bot updates loop stopped")
				return nil
			}
			delay := pollRetryDelay
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
				delay = apiErr.RetryAfter
			}
			logger.Warn("getUpdates failed", zap.Error(err), zap.Duration("retryIn", delay))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			if u.Message == nil || u.Message.From == nil {
				continue
			}
			b.handleMessage(ctx, u.Message)
		}
	}
}

// handleMessage обрабатывает одно входящее сообщение. Не-команды и команды
// чужих ботов игнорируются.
func (b *Bot) handleMessage(ctx context.Context, msg *Message) {
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	cmd := strings.Fields(text)[0]
	cmd, _, _ = strings.Cut(cmd, "@")

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	var err error
	switch cmd {
	case "/start":
		err = b.cmdStart(ctx, msg)
	case "/app", "/miniapp", "/webapp":
		err = b.cmdApp(ctx, msg)
	case "/health":
		err = b.cmdHealth(ctx, msg)
	case "/whoami":
		err = b.cmdWhoami(ctx, msg)
	default:
		return
	}
	if err != nil {
		logger.Warn("bot command failed",
			zap.String("command", cmd),
			zap.Int64("userId", msg.From.ID),
			zap.Error(err))
	}
}

// accessRestricted отвечает неавторизованному пользователю с кнопкой связи
// с администратором.
func (b *Bot) accessRestricted(ctx context.Context, chatID int64) error {
	var markup *InlineKeyboard
	if b.adminUsername != "" {
		markup = &InlineKeyboard{InlineKeyboard: [][]InlineButton{{
			{Text: "Contact Admin", URL: "https://t.me/" + b.adminUsername},
		}}}
	}
	text := "*Access Restricted*\n\n" +
		"This bot requires authorization.\n" +
		"Please contact an administrator to get access."
	return b.api.SendMessage(ctx, chatID, text, markup)
}

func (b *Bot) cmdStart(ctx context.Context, msg *Message) error {
	if _, err := b.users.GetUser(ctx, msg.From.ID); err != nil {
		return b.accessRestricted(ctx, msg.Chat.ID)
	}
	text := fmt.Sprintf("Welcome, %s!\n\n"+
		"Use /app to open the Mini App: calls, SMS, history and stats live there.\n"+
		"/health shows the voice provider status, /whoami shows your access level.",
		msg.From.FirstName)
	return b.api.SendMessage(ctx, msg.Chat.ID, text, nil)
}

func (b *Bot) cmdApp(ctx context.Context, msg *Message) error {
	if _, err := b.users.GetUser(ctx, msg.From.ID); err != nil {
		return b.accessRestricted(ctx, msg.Chat.ID)
	}
	if b.webAppURL == "" {
		return b.api.SendMessage(ctx, msg.Chat.ID,
			"Mini App is not configured. Please contact the administrator.", nil)
	}

	isAdmin, err := b.users.IsAdmin(ctx, msg.From.ID)
	if err != nil {
		isAdmin = false
	}

	var sb strings.Builder
	sb.WriteString("*VoicedNut Mini App*\n\n")
	sb.WriteString("What you can do:\n")
	sb.WriteString("- Make AI-powered voice calls\n")
	sb.WriteString("- Send SMS messages\n")
	sb.WriteString("- View real-time statistics\n")
	sb.WriteString("- Access call history and transcripts\n")
	if isAdmin {
		sb.WriteString("- Manage users and permissions\n")
	}
	sb.WriteString("\nClick the button below to launch the Mini App.")

	markup := &InlineKeyboard{InlineKeyboard: [][]InlineButton{{
		{Text: "Launch VoicedNut", WebApp: &WebAppInfo{URL: b.webAppURL}},
	}}}
	return b.api.SendMessage(ctx, msg.Chat.ID, sb.String(), markup)
}

func (b *Bot) cmdHealth(ctx context.Context, msg *Message) error {
	if _, err := b.users.GetUser(ctx, msg.From.ID); err != nil {
		return b.accessRestricted(ctx, msg.Chat.ID)
	}
	health, err := b.provider.GetHealth(ctx)
	if err != nil {
		logger.Warn("/health degraded", zap.Error(err))
		return b.api.SendMessage(ctx, msg.Chat.ID, "Health check failed: provider is unreachable.", nil)
	}
	text := fmt.Sprintf("Provider status: %s\nActive calls: %d", health.Status, health.ActiveCalls)
	return b.api.SendMessage(ctx, msg.Chat.ID, text, nil)
}

func (b *Bot) cmdWhoami(ctx context.Context, msg *Message) error {
	u, err := b.users.GetUser(ctx, msg.From.ID)
	if err != nil {
		return b.accessRestricted(ctx, msg.Chat.ID)
	}
	text := fmt.Sprintf("ID: %d\nUsername: @%s\nRole: %s\nJoined: %s",
		u.TelegramID, u.Username, u.Role, u.JoinedAt.Format("2006-01-02"))
	return b.api.SendMessage(ctx, msg.Chat.ID, text, nil)
}
