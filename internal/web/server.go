package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"voicednut-bot/internal/bridge"
	"voicednut-bot/internal/domain/users"
	"voicednut-bot/internal/infra/logger"
)

const (
	readTimeout  = 15 * time.Second
	writeTimeout = 15 * time.Second
	idleTimeout  = 60 * time.Second
)

// Notifier доставляет текстовые уведомления в чат Telegram. Реализуется
// адаптером Bot API; nil отключает зеркалирование вебхуков в чат.
type Notifier interface {
	Notify(ctx context.Context, chatID int64, text string) error
}

// Server — HTTP-фронт моста: WebSocket для Mini App, вебхук провайдера и
// проверка здоровья.
type Server struct {
	srv *http.Server

	botToken   string
	users      users.Store
	registry   *bridge.Registry
	router     *bridge.Router
	dispatcher *bridge.Dispatcher
	api        bridge.ProviderAPI
	notifier   Notifier

	baseCtx context.Context
	cancel  context.CancelFunc
}

// Options — зависимости сервера.
type Options struct {
	Address    string
	BotToken   string
	Users      users.Store
	Registry   *bridge.Registry
	Router     *bridge.Router
	Dispatcher *bridge.Dispatcher
	API        bridge.ProviderAPI
	Notifier   Notifier
}

// NewServer собирает сервер с роутингом и таймаутами.
func NewServer(opts Options) *Server {
	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		botToken:   opts.BotToken,
		users:      opts.Users,
		registry:   opts.Registry,
		router:     opts.Router,
		dispatcher: opts.Dispatcher,
		api:        opts.API,
		notifier:   opts.Notifier,
		baseCtx:    baseCtx,
		cancel:     cancel,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/hooks/provider", s.handleProviderHook)

	s.srv = &http.Server{
		Addr:         opts.Address,
		Handler:      loggingMiddleware(mux),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
	return s
}

// Handler возвращает корневой обработчик сервера.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start запускает сервер и блокируется до его остановки.
func (s *Server) Start() error {
	logger.Info("Starting web server", zap.String("address", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "web server")
	}
	return nil
}

// Shutdown останавливает приём запросов и закрывает живые сессии.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("Shutting down web server...")
	s.cancel()
	return s.srv.Shutdown(ctx)
}

// handleHealth — публичная проверка живости процесса.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"sessions":  s.registry.Len(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// loggingMiddleware логирует все запросы.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Debugf("HTTP %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}
