package web

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"voicednut-bot/internal/infra/logger"
)

const (
	// sendBuffer — глубина исходящего буфера кадров одного соединения.
	sendBuffer = 64
	// writeTimeout ограничивает запись одного кадра в сокет.
	wsWriteTimeout = 10 * time.Second
)

// wsConn оборачивает websocket.Conn в транспортный хэндл моста: буферизованная
// отправка, одна write-горутина и идемпотентное закрытие. Реализует
// bridge.Conn.
type wsConn struct {
	id   uuid.UUID
	sock *websocket.Conn

	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
}

func newWSConn(parent context.Context, sock *websocket.Conn) *wsConn {
	ctx, cancel := context.WithCancel(parent)
	return &wsConn{
		id:     uuid.New(),
		sock:   sock,
		send:   make(chan []byte, sendBuffer),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Send кладёт кадр в буфер отправки. False — соединение закрыто или буфер
// переполнен; кадр при этом теряется, блокировать отправителя нельзя.
func (c *wsConn) Send(frame []byte) bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		logger.Warn("ws send buffer full, frame dropped", zap.String("connId", c.id.String()))
		return false
	}
}

// Close закрывает соединение со штатным статусом. Повторные вызовы — no-op.
func (c *wsConn) Close(reason string) {
	c.closeWith(websocket.StatusNormalClosure, reason)
}

func (c *wsConn) closeWith(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		c.cancel()
		if err := c.sock.Close(code, reason); err != nil {
			logger.Debug("ws close", zap.String("connId", c.id.String()), zap.Error(err))
		}
	})
}

// writePump сливает буфер отправки в сокет. Завершается при закрытии
// соединения; ошибка записи закрывает соединение целиком.
func (c *wsConn) writePump() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case frame := <-c.send:
			writeCtx, cancel := context.WithTimeout(c.ctx, wsWriteTimeout)
			err := c.sock.Write(writeCtx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				logger.Debug("ws write failed",
					zap.String("connId", c.id.String()), zap.Error(err))
				c.closeWith(websocket.StatusNormalClosure, "write failed")
				return
			}
		}
	}
}

// readLoop читает входящие кадры и передаёт их onFrame до конца соединения.
func (c *wsConn) readLoop(onFrame func(frame []byte)) {
	for {
		typ, data, err := c.sock.Read(c.ctx)
		if err != nil {
			c.closeWith(websocket.StatusNormalClosure, "")
			return
		}
		if typ != websocket.MessageText && typ != websocket.MessageBinary {
			continue
		}
		onFrame(data)
	}
}
