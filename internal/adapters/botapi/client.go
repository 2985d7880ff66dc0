// Package botapi — адаптер Telegram Bot API: отправка сообщений и long-poll
// обновлений.
//
// В этом файле (client.go):
//   - настраивается HTTP-клиент и общий троттлер запросов;
//   - реализуются методы sendMessage и getUpdates;
//   - классифицируются ошибки Bot API на временные (retry_after, 5xx) и
//     постоянные (большинство 4xx).
package botapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// httpClientTimeout — таймаут HTTP-клиента, секунды. Должен покрывать
// long-poll getUpdates с серверным таймаутом.
const httpClientTimeout = 60

// pollTimeoutSec — серверный таймаут long-poll getUpdates.
const pollTimeoutSec = 30

// Client — низкоуровневый клиент Bot API с троттлингом запросов.
type Client struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewClient создаёт клиента для бота.
//
// Поведение:
//   - при testDC=true добавляет суффикс /test к токену согласно Bot API;
//   - формирует базовый URL вида https://api.telegram.org/bot<token>/;
//   - rps задаёт целевую среднюю частоту запросов.
func NewClient(token string, testDC bool, rps int) *Client {
	if testDC {
		token += "/test"
	}
	return &Client{
		baseURL: fmt.Sprintf("https://api.telegram.org/bot%s/", token),
		client: &http.Client{
			Timeout: httpClientTimeout * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
}

// NewClientWithEndpoint создаёт клиента поверх произвольного базового URL
// (локальный Bot API сервер, тесты).
func NewClientWithEndpoint(baseURL string, rps int) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/") + "/",
		client: &http.Client{
			Timeout: httpClientTimeout * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
}

// Update — одно обновление из getUpdates.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

// Message — входящее сообщение. Достаточно полей для командного бота.
type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text"`
}

// User — отправитель сообщения.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
}

// Chat — чат сообщения.
type Chat struct {
	ID int64 `json:"id"`
}

// InlineKeyboard — reply_markup c inline-кнопками.
type InlineKeyboard struct {
	InlineKeyboard [][]InlineButton `json:"inline_keyboard"`
}

// InlineButton — одна кнопка. WebApp открывает Mini App.
type InlineButton struct {
	Text   string      `json:"text"`
	URL    string      `json:"url,omitempty"`
	WebApp *WebAppInfo `json:"web_app,omitempty"`
}

// WebAppInfo — ссылка на Mini App.
type WebAppInfo struct {
	URL string `json:"url"`
}

// APIError — ошибка Bot API с кодом и описанием.
type APIError struct {
	Code        int
	Description string
	RetryAfter  time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bot api error %d: %s", e.Code, e.Description)
}

// Permanent сообщает, бессмысленно ли повторять запрос: большинство 4xx —
// постоянные ошибки, но retry_after сигнализирует о временном сбое.
func (e *APIError) Permanent() bool {
	if e.Code == http.StatusTooManyRequests || e.RetryAfter > 0 {
		return false
	}
	return e.Code >= 400 && e.Code < 500
}

// Notify отправляет обычный текст в чат. Реализует web.Notifier.
func (c *Client) Notify(ctx context.Context, chatID int64, text string) error {
	return c.SendMessage(ctx, chatID, text, nil)
}

// SendMessage выполняет POST /sendMessage. Markdown включён; превью ссылок
// отключено. markup=nil — без клавиатуры.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, markup *InlineKeyboard) error {
	payload := struct {
		ChatID                int64           `json:"chat_id"`
		Text                  string          `json:"text"`
		ParseMode             string          `json:"parse_mode,omitempty"`
		DisableWebPagePreview bool            `json:"disable_web_page_preview"`
		ReplyMarkup           *InlineKeyboard `json:"reply_markup,omitempty"`
	}{
		ChatID:                chatID,
		Text:                  text,
		ParseMode:             "Markdown",
		DisableWebPagePreview: true,
		ReplyMarkup:           markup,
	}
	return c.call(ctx, "sendMessage", payload, nil)
}

// GetUpdates выполняет long-poll getUpdates начиная с offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64) ([]Update, error) {
	payload := struct {
		Offset         int64    `json:"offset"`
		Timeout        int      `json:"timeout"`
		AllowedUpdates []string `json:"allowed_updates"`
	}{
		Offset:         offset,
		Timeout:        pollTimeoutSec,
		AllowedUpdates: []string{"message"},
	}
	var updates []Update
	if err := c.call(ctx, "getUpdates", payload, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// call выполняет метод Bot API с JSON-телом внутри троттлера и разбирает
// конверт {ok, result, ...}. result декодируется в out, если out != nil.
func (c *Client) call(ctx context.Context, method string, payload any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+method, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var apiResp struct {
		OK          bool            `json:"ok"`
		Result      json.RawMessage `json:"result"`
		Description string          `json:"description"`
		ErrorCode   int             `json:"error_code"`
		Parameters  struct {
			RetryAfter int `json:"retry_after"`
		} `json:"parameters"`
	}
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return fmt.Errorf("bot api decode response (%d): %w", resp.StatusCode, err)
	}

	if !apiResp.OK {
		desc := strings.TrimSpace(apiResp.Description)
		if desc == "" {
			desc = http.StatusText(resp.StatusCode)
		}
		apiErr := &APIError{Code: apiResp.ErrorCode, Description: desc}
		if apiResp.Parameters.RetryAfter > 0 {
			apiErr.RetryAfter = time.Duration(apiResp.Parameters.RetryAfter) * time.Second
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(apiResp.Result, out); err != nil {
			return fmt.Errorf("bot api decode result: %w", err)
		}
	}
	return nil
}
