package botapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/errors"

	"voicednut-bot/internal/adapters/botapi"
)

func TestSendMessagePayload(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sendMessage" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	defer srv.Close()

	c := botapi.NewClientWithEndpoint(srv.URL, 25)
	markup := &botapi.InlineKeyboard{InlineKeyboard: [][]botapi.InlineButton{{
		{Text: "Launch", WebApp: &botapi.WebAppInfo{URL: "https://app.example.com"}},
	}}}
	if err := c.SendMessage(context.Background(), 42, "hello", markup); err != nil {
		t.Fatalf("SendMessage() error: %v", err)
	}

	if got["chat_id"] != float64(42) || got["text"] != "hello" {
		t.Errorf("payload = %v", got)
	}
	rm, _ := got["reply_markup"].(map[string]any)
	if rm == nil {
		t.Fatal("reply_markup missing")
	}
	rows := rm["inline_keyboard"].([]any)
	btn := rows[0].([]any)[0].(map[string]any)
	if btn["web_app"].(map[string]any)["url"] != "https://app.example.com" {
		t.Errorf("button = %v", btn)
	}
}

func TestAPIErrorClassification(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 7","parameters":{"retry_after":7}}`))
	}))
	defer srv.Close()

	c := botapi.NewClientWithEndpoint(srv.URL, 25)
	err := c.SendMessage(context.Background(), 42, "hello", nil)
	var apiErr *botapi.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.Permanent() {
		t.Error("429 classified as permanent")
	}
	if apiErr.RetryAfter != 7*time.Second {
		t.Errorf("RetryAfter = %v", apiErr.RetryAfter)
	}

	// Обычная 4xx — постоянная.
	forbidden := &botapi.APIError{Code: 403, Description: "bot was blocked by the user"}
	if !forbidden.Permanent() {
		t.Error("403 classified as temporary")
	}
	// 5xx — временная.
	flaky := &botapi.APIError{Code: 502, Description: "bad gateway"}
	if flaky.Permanent() {
		t.Error("502 classified as permanent")
	}
}

func TestGetUpdatesDecoding(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["offset"] != float64(7) {
			t.Errorf("offset = %v", req["offset"])
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":[{"update_id":8,"message":{"message_id":1,"from":{"id":42,"username":"ada"},"chat":{"id":42},"text":"/start"}}]}`))
	}))
	defer srv.Close()

	c := botapi.NewClientWithEndpoint(srv.URL, 25)
	updates, err := c.GetUpdates(context.Background(), 7)
	if err != nil {
		t.Fatalf("GetUpdates() error: %v", err)
	}
	if len(updates) != 1 || updates[0].UpdateID != 8 || updates[0].Message.From.ID != 42 {
		t.Errorf("updates = %+v", updates)
	}
}
