package web

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"voicednut-bot/internal/bridge"
	"voicednut-bot/internal/infra/logger"
)

// Коды закрытия хэндшейка. Mini App различает их, чтобы показать правильный
// экран: запросить initData заново либо сообщить об отказе в доступе.
const (
	closeNoAuth        = websocket.StatusCode(4000)
	closeInvalidAuth   = websocket.StatusCode(4001)
	closeNotRecognized = websocket.StatusCode(4002)
)

const initialStateTimeout = 10 * time.Second

// connectedFrame подтверждает установленную сессию. Формат зафиксирован
// клиентом: {"type":"connected","userId":N}.
type connectedFrame struct {
	Type   string `json:"type"`
	UserID int64  `json:"userId"`
}

// handleWS — хэндшейк WebSocket: принять сокет, проверить initData, свериться
// с реестром пользователей и зарегистрировать сессию. Повторное подключение
// того же пользователя вытесняет предыдущую сессию.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sock, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Mini App открывается с домена Telegram; допуск решает подпись
		// initData, а не Origin.
		InsecureSkipVerify: true,
	})
	if err != nil {
		logger.Debug("ws accept failed", zap.Error(err))
		return
	}

	conn := newWSConn(s.baseCtx, sock)

	user, err := VerifyInitData(s.botToken, r.URL.Query().Get("initData"))
	if err != nil {
		code := closeInvalidAuth
		if errors.Is(err, ErrNoInitData) {
			code = closeNoAuth
		}
		logger.Warn("ws auth rejected", zap.String("connId", conn.id.String()), zap.Error(err))
		conn.closeWith(code, err.Error())
		return
	}

	if _, err := s.users.GetUser(r.Context(), user.ID); err != nil {
		logger.Warn("ws user not recognized",
			zap.Int64("userId", user.ID), zap.String("connId", conn.id.String()))
		conn.closeWith(closeNotRecognized, "User not recognized")
		return
	}

	sess, prev := s.registry.Register(user.ID, conn)
	if prev != nil {
		// Последнее подключение побеждает; запись в реестре уже новая.
		prev.Close("reconnected")
	}
	logger.Info("ws session established",
		zap.Int64("userId", user.ID),
		zap.String("connId", conn.id.String()),
		zap.Int("sessions", s.registry.Len()))

	go conn.writePump()

	if frame, err := json.Marshal(connectedFrame{Type: "connected", UserID: user.ID}); err == nil {
		sess.Send(frame)
	}
	go s.sendInitialState(sess)

	conn.readLoop(func(frame []byte) {
		s.dispatchFrame(sess, frame)
	})

	s.registry.Remove(sess)
	logger.Info("ws session closed",
		zap.Int64("userId", user.ID),
		zap.String("connId", conn.id.String()),
		zap.Int("sessions", s.registry.Len()))
}

// dispatchFrame обрабатывает один входящий кадр. Обработка идёт в отдельной
// горутине, чтобы долгая команда не блокировала чтение следующих.
func (s *Server) dispatchFrame(sess *bridge.Session, frame []byte) {
	cmd, err := bridge.DecodeCommand(frame)
	if err != nil {
		logger.Debug("ws frame rejected", zap.Int64("userId", sess.UserID), zap.Error(err))
		sess.Send(bridge.Fail("Failed to process message").Encode())
		return
	}

	go func() {
		resp := s.router.Handle(s.baseCtx, sess, cmd)
		sess.Send(resp.Encode())
	}()
}

// sendInitialState отправляет снимок состояния сразу после подключения:
// пользователь, последние звонки и статистика. Best-effort: недоступный
// провайдер не мешает сессии, клиент дозапросит данные командами.
func (s *Server) sendInitialState(sess *bridge.Session) {
	ctx, cancel := context.WithTimeout(s.baseCtx, initialStateTimeout)
	defer cancel()

	user, err := s.users.GetUser(ctx, sess.UserID)
	if err != nil {
		return
	}

	data := map[string]any{"user": user}
	if calls, err := s.api.GetCallList(ctx, 5, sess.UserID); err == nil {
		data["recentActivity"] = map[string]any{"calls": calls}
	} else {
		logger.Debug("initial state: calls unavailable", zap.Int64("userId", sess.UserID), zap.Error(err))
	}
	if stats, err := s.api.GetUserStats(ctx, sess.UserID); err == nil {
		data["stats"] = stats
	} else {
		logger.Debug("initial state: stats unavailable", zap.Int64("userId", sess.UserID), zap.Error(err))
	}

	sess.Send(bridge.Response{Success: true, Type: "initial_state", Data: data}.Encode())
}
