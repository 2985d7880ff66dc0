package web

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"voicednut-bot/internal/infra/logger"
)

// providerEvent — полезная нагрузка вебхука провайдера. Поле event задаёт
// тип события ("call_status", "sms_status", "transcription"); user_chat_id
// адресует доставку конкретному пользователю.
type providerEvent struct {
	Event      string `json:"event"`
	CallSid    string `json:"call_sid,omitempty"`
	MessageSid string `json:"message_sid,omitempty"`
	Status     string `json:"status,omitempty"`
	To         string `json:"to,omitempty"`
	Duration   int    `json:"duration,omitempty"`
	Text       string `json:"text,omitempty"`
	UserChatID int64  `json:"user_chat_id,omitempty"`
}

// Терминальные статусы звонка зеркалируются в чат Telegram, чтобы
// пользователь узнал об исходе и с закрытой Mini App.
var terminalCallStatuses = map[string]string{
	"completed": "completed",
	"failed":    "failed",
	"busy":      "busy",
	"no-answer": "unanswered",
}

// handleProviderHook принимает событие провайдера и раздаёт его подписанным
// сессиям. Ответ всегда 200 при валидном событии: провайдер ретраит 5xx, а
// отсутствие живых подписчиков ошибкой не является.
func (s *Server) handleProviderHook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	var ev providerEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		logger.Warn("provider hook: bad payload", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON payload"})
		return
	}
	if ev.Event == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "event type is required"})
		return
	}

	var targets []int64
	if ev.UserChatID != 0 {
		targets = append(targets, ev.UserChatID)
	}
	delivered := s.dispatcher.Publish(ev.Event, ev, targets...)

	logger.Info("provider event",
		zap.String("event", ev.Event),
		zap.String("status", ev.Status),
		zap.String("callSid", ev.CallSid),
		zap.Int("delivered", delivered))

	s.mirrorToChat(r, ev)

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "delivered": delivered})
}

// mirrorToChat отправляет итог звонка или SMS в чат Telegram. Best-effort:
// сбой Bot API не влияет на ответ провайдеру.
func (s *Server) mirrorToChat(r *http.Request, ev providerEvent) {
	if s.notifier == nil || ev.UserChatID == 0 {
		return
	}

	var text string
	switch ev.Event {
	case "call_status":
		outcome, terminal := terminalCallStatuses[ev.Status]
		if !terminal {
			return
		}
		text = fmt.Sprintf("Call to %s %s", ev.To, outcome)
		if ev.Duration > 0 {
			text = fmt.Sprintf("%s (%ds)", text, ev.Duration)
		}
	case "sms_status":
		if ev.Status != "delivered" && ev.Status != "failed" {
			return
		}
		text = fmt.Sprintf("SMS to %s %s", ev.To, ev.Status)
	default:
		return
	}

	if err := s.notifier.Notify(r.Context(), ev.UserChatID, text); err != nil {
		logger.Warn("provider event mirror failed",
			zap.Int64("chatId", ev.UserChatID), zap.Error(err))
	}
}
