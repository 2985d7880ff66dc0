package bridge

import (
	"go.uber.org/zap"

	"voicednut-bot/internal/infra/logger"
)

// Dispatcher рассылает асинхронные события подписанным сессиям.
// Доставка at-most-once и fire-and-forget: отключившийся клиент событие
// просто не получает, ретраев и durable-очереди нет.
type Dispatcher struct {
	reg *Registry
}

// NewDispatcher создаёт диспетчер поверх реестра сессий.
func NewDispatcher(reg *Registry) *Dispatcher {
	return &Dispatcher{reg: reg}
}

// Publish отправляет событие eventType всем подписанным сессиям. Непустой
// targetUserIDs дополнительно сужает доставку до перечисленных пользователей.
// Вызов не блокируется на подтверждении клиента; мёртвый транспорт одной
// сессии не мешает доставке остальным. Возвращает число доставленных кадров.
func (d *Dispatcher) Publish(eventType string, payload any, targetUserIDs ...int64) int {
	var targets map[int64]struct{}
	if len(targetUserIDs) > 0 {
		targets = make(map[int64]struct{}, len(targetUserIDs))
		for _, id := range targetUserIDs {
			targets[id] = struct{}{}
		}
	}

	frame := Response{Success: true, Type: eventType, Data: payload}.Encode()

	delivered := 0
	d.reg.ForEachSubscribed(eventType, func(sess *Session) {
		if targets != nil {
			if _, ok := targets[sess.UserID]; !ok {
				return
			}
		}
		if sess.Send(frame) {
			delivered++
			return
		}
		// Переполненный буфер или закрытый транспорт: событие теряется
		// только для этой сессии.
		logger.Debug("notification dropped",
			zap.String("event", eventType),
			zap.Int64("userId", sess.UserID))
	})

	if delivered > 0 {
		logger.Debug("notification published",
			zap.String("event", eventType),
			zap.Int("delivered", delivered))
	}
	return delivered
}
