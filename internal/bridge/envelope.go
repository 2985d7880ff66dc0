// Package bridge — командно-уведомительный мост между Mini App и сервером.
//
// Состав:
//   - конверты команд/ответов (envelope.go);
//   - реестр живых сессий и их подписок (registry.go);
//   - маршрутизатор типизированных команд (router.go);
//   - диспетчер асинхронных уведомлений (dispatcher.go).
//
// Мост не содержит бизнес-логики звонков: все действия делегируются
// провайдеру и хранилищу пользователей, а сюда стекаются только корреляция
// запрос/ответ и доставка событий подписчикам.
package bridge

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
)

// Command — входящий конверт. Тип команды клиенты исторически передают и как
// "action", и как "type" (две параллельные версии Mini App); принимаются оба
// написания, "action" приоритетнее. Остальные поля верхнего уровня считаются
// полезной нагрузкой команды.
type Command struct {
	Action    string
	RequestID string
	fields    map[string]json.RawMessage
}

// DecodeCommand разбирает сырой JSON-кадр в Command. Возвращает ошибку для
// синтаксически некорректного JSON; неизвестный action — не ошибка декодера,
// его отклоняет маршрутизатор.
func DecodeCommand(raw []byte) (Command, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Command{}, errors.Wrap(err, "decode command envelope")
	}

	cmd := Command{fields: fields}
	if v, ok := fields["action"]; ok {
		_ = json.Unmarshal(v, &cmd.Action)
	}
	if cmd.Action == "" {
		if v, ok := fields["type"]; ok {
			_ = json.Unmarshal(v, &cmd.Action)
		}
	}
	if v, ok := fields["requestId"]; ok {
		_ = json.Unmarshal(v, &cmd.RequestID)
	}
	delete(fields, "action")
	delete(fields, "type")
	delete(fields, "requestId")
	return cmd, nil
}

// Str возвращает строковое поле нагрузки (с обрезкой пробелов) либо "".
func (c Command) Str(key string) string {
	v, ok := c.fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

// Int64 возвращает числовое поле нагрузки. JS-клиенты шлют telegram id и как
// число, и как строку — принимаются оба представления. Второй результат —
// признак успешного разбора.
func (c Command) Int64(key string) (int64, bool) {
	v, ok := c.fields[key]
	if !ok {
		return 0, false
	}
	var n int64
	if err := json.Unmarshal(v, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		if parsed, parseErr := strconv.ParseInt(strings.TrimSpace(s), 10, 64); parseErr == nil {
			return parsed, true
		}
	}
	return 0, false
}

// IntDefault возвращает целое поле либо def, если поле отсутствует/некорректно.
func (c Command) IntDefault(key string, def int) int {
	n, ok := c.Int64(key)
	if !ok || n <= 0 {
		return def
	}
	return int(n)
}

// StrSlice возвращает поле-массив строк (например, список событий подписки).
func (c Command) StrSlice(key string) []string {
	v, ok := c.fields[key]
	if !ok {
		return nil
	}
	var list []string
	if err := json.Unmarshal(v, &list); err != nil {
		return nil
	}
	return list
}

// Response — исходящий конверт: либо прямой ответ на команду (с requestId,
// если клиент его прислал), либо внеполосное уведомление (без requestId).
type Response struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	Type      string `json:"type,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// OK собирает успешный ответ с нагрузкой.
func OK(data any) Response {
	return Response{Success: true, Data: data}
}

// Fail собирает ответ-отказ с человекочитаемым описанием.
func Fail(msg string) Response {
	return Response{Success: false, Error: msg}
}

// Encode сериализует конверт в JSON-кадр. Ошибка кодирования собственных
// структур означает программный дефект; возвращается минимальный fallback,
// чтобы клиент не остался без ответа.
func (r Response) Encode() []byte {
	raw, err := json.Marshal(r)
	if err != nil {
		return []byte(`{"success":false,"error":"internal encoding error"}`)
	}
	return raw
}
