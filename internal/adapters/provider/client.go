// Package provider — тонкий HTTP-клиент внешнего голосового/SMS-сервиса.
//
// Вся бизнес-логика звонков (дозвон, транскрибирование, статистика) живёт на
// стороне провайдера; клиент только формирует запросы, ограничивает частоту
// и нормализует ошибки. Дедлайны задаёт вызывающий через контекст: у разных
// операций разный вес (health — секунды, звонок — десятки секунд).
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"golang.org/x/time/rate"
)

// httpClientTimeout — верхняя страховка HTTP-клиента, секунды. Фактический
// дедлайн каждой операции короче и приходит через контекст.
const httpClientTimeout = 60

// Client — клиент REST API провайдера.
type Client struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// Call — элемент истории звонков, как его отдаёт провайдер.
type Call struct {
	CallSid   string `json:"call_sid"`
	To        string `json:"to"`
	Status    string `json:"status"`
	Duration  int    `json:"duration,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// Transcript — одна реплика расшифровки звонка.
type Transcript struct {
	Speaker   string `json:"speaker"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp,omitempty"`
}

// CallDetail — звонок вместе с его расшифровкой.
type CallDetail struct {
	Call        Call         `json:"call"`
	Transcripts []Transcript `json:"transcripts"`
}

// CallResult — ответ на запрос исходящего звонка.
type CallResult struct {
	CallSid string `json:"call_sid"`
	Status  string `json:"status"`
	To      string `json:"to"`
}

// SmsResult — ответ на отправку SMS.
type SmsResult struct {
	MessageSid string `json:"message_sid"`
	Status     string `json:"status"`
}

// Health — снимок состояния провайдера.
type Health struct {
	Status      string `json:"status"`
	ActiveCalls int    `json:"active_calls"`
}

// UserStats — агрегированная статистика пользователя на стороне провайдера.
type UserStats struct {
	TotalCalls int `json:"total_calls"`
	TotalSms   int `json:"total_sms"`
}

// New создаёт клиента для baseURL (без завершающего «/»). rps ограничивает
// среднюю частоту исходящих запросов общим token bucket.
func New(baseURL string, rps int) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client: &http.Client{
			Timeout: httpClientTimeout * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
}

// InitiateCall запускает исходящий AI-звонок. Валидация номера — забота
// вызывающего; клиент передаёт поля как есть.
func (c *Client) InitiateCall(ctx context.Context, phone, prompt, firstMessage string, callerID int64) (CallResult, error) {
	payload := map[string]string{
		"number":        phone,
		"prompt":        prompt,
		"first_message": firstMessage,
		"user_chat_id":  strconv.FormatInt(callerID, 10),
	}
	var out CallResult
	if err := c.post(ctx, "/outbound-call", callerID, payload, &out); err != nil {
		return CallResult{}, err
	}
	return out, nil
}

// SendSms отправляет SMS через провайдера.
func (c *Client) SendSms(ctx context.Context, phone, message string, callerID int64) (SmsResult, error) {
	payload := map[string]string{
		"to":           phone,
		"message":      message,
		"user_chat_id": strconv.FormatInt(callerID, 10),
	}
	var out SmsResult
	if err := c.post(ctx, "/send-sms", callerID, payload, &out); err != nil {
		return SmsResult{}, err
	}
	return out, nil
}

// GetCallList возвращает последние звонки. userID=0 — без фильтра по
// пользователю (общая история), иначе — только его активность.
func (c *Client) GetCallList(ctx context.Context, limit int, userID int64) ([]Call, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	if userID != 0 {
		params.Set("user_id", strconv.FormatInt(userID, 10))
	}

	// Провайдер отдаёт либо {"calls": [...]}, либо голый массив — исторически
	// существовали обе формы эндпоинта.
	var wrapped struct {
		Calls []Call `json:"calls"`
	}
	raw, err := c.get(ctx, "/api/calls/list?"+params.Encode(), userID)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Calls != nil {
		return wrapped.Calls, nil
	}
	var list []Call
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, errors.Wrap(err, "decode call list")
	}
	return list, nil
}

// GetCallDetail возвращает звонок и его расшифровку по call SID.
func (c *Client) GetCallDetail(ctx context.Context, callSid string, userID int64) (CallDetail, error) {
	raw, err := c.get(ctx, "/api/calls/"+url.PathEscape(callSid), userID)
	if err != nil {
		return CallDetail{}, err
	}
	var out CallDetail
	if err := json.Unmarshal(raw, &out); err != nil {
		return CallDetail{}, errors.Wrap(err, "decode call detail")
	}
	return out, nil
}

// GetHealth опрашивает /health провайдера.
func (c *Client) GetHealth(ctx context.Context) (Health, error) {
	raw, err := c.get(ctx, "/health", 0)
	if err != nil {
		return Health{}, err
	}
	var out Health
	if err := json.Unmarshal(raw, &out); err != nil {
		return Health{}, errors.Wrap(err, "decode health")
	}
	return out, nil
}

// GetUserStats возвращает статистику звонков/SMS пользователя.
func (c *Client) GetUserStats(ctx context.Context, userID int64) (UserStats, error) {
	raw, err := c.get(ctx, "/user-stats/"+strconv.FormatInt(userID, 10), userID)
	if err != nil {
		return UserStats{}, err
	}
	var out UserStats
	if err := json.Unmarshal(raw, &out); err != nil {
		return UserStats{}, errors.Wrap(err, "decode user stats")
	}
	return out, nil
}

// get выполняет GET и возвращает тело успешного ответа.
func (c *Client) get(ctx context.Context, path string, userID int64) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	setUserHeader(req, userID)
	return c.do(req)
}

// post выполняет POST с JSON-телом и декодирует успешный ответ в out.
func (c *Client) post(ctx context.Context, path string, userID int64, payload, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	setUserHeader(req, userID)

	raw, err := c.do(req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrap(err, "decode provider response")
	}
	return nil
}

// setUserHeader проставляет X-User-ID — провайдер учитывает активность по нему.
func setUserHeader(req *http.Request, userID int64) {
	if userID != 0 {
		req.Header.Set("X-User-ID", strconv.FormatInt(userID, 10))
	}
}

// do выполняет запрос и нормализует не-2xx ответы в ошибку с текстом
// провайдера, если он есть в теле.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp.StatusCode, body)
	}
	return body, nil
}

// statusError извлекает человекочитаемое описание из тела ошибки провайдера.
// Провайдер обычно отвечает {"error": "..."}; иначе берём обрезанное тело.
func statusError(status int, body []byte) error {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return fmt.Errorf("provider error (%d): %s", status, payload.Error)
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(status)
	}
	const maxMsgLen = 200
	if len(msg) > maxMsgLen {
		msg = msg[:maxMsgLen] + "..."
	}
	return fmt.Errorf("provider error (%d): %s", status, msg)
}
