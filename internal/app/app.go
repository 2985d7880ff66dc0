// Package app — верхний уровень сборки приложения. Здесь связываются
// конфигурация, хранилище пользователей, клиенты провайдера и Bot API,
// мост WebSocket и HTTP-сервер. Отсюда стартует дерево подсистем и
// обеспечивается корректный shutdown.
package app

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"voicednut-bot/internal/adapters/botapi"
	"voicednut-bot/internal/adapters/provider"
	"voicednut-bot/internal/adapters/userstore"
	"voicednut-bot/internal/bridge"
	"voicednut-bot/internal/infra/config"
	"voicednut-bot/internal/infra/lifecycle"
	"voicednut-bot/internal/infra/logger"
	"voicednut-bot/internal/web"
)

// Имена узлов жизненного цикла. Хранилище поднимается первым и гаснет
// последним; сервер и бот зависят от него.
const (
	nodeStorage     = "storage"
	nodeBot         = "bot"
	nodeWebSrv      = "webserver"
	nodeMaintenance = "maintenance"
)

// expirySweepInterval — периодичность чистки просроченных пользователей.
const expirySweepInterval = 24 * time.Hour

// App агрегирует зависимости моста и управляет их жизненным циклом.
type App struct {
	cfg config.EnvConfig

	mainCtx    context.Context
	mainCancel context.CancelFunc

	store   *userstore.Store
	server  *web.Server
	bot     *botapi.Bot
	manager *lifecycle.Manager
}

// NewApp создаёт каркас приложения. Фактическая сборка выполняется в Run().
func NewApp(mainCtx context.Context, mainCancel context.CancelFunc) *App {
	return &App{
		cfg:        config.Env(),
		mainCtx:    mainCtx,
		mainCancel: mainCancel,
	}
}

// Run собирает подсистемы, запускает их через lifecycle-менеджер и блокируется
// до отмены mainCtx. Возвращает объединённую ошибку запуска либо остановки.
func (a *App) Run() error {
	logger.Info("Bridge initializing...")

	// 1) Хранилище пользователей и посев администратора из конфигурации.
	store, err := userstore.Open(a.cfg.UsersDBFile)
	if err != nil {
		return errors.Wrap(err, "open users store")
	}
	a.store = store
	if err := store.SeedAdmin(a.mainCtx, a.cfg.AdminUID, a.cfg.AdminUsername); err != nil {
		_ = store.Close()
		return errors.Wrap(err, "seed admin")
	}

	// 2) Клиенты внешних систем: голосовой провайдер и Bot API. Оба со своим
	// троттлером, общий RPS берётся из конфигурации.
	providerClient := provider.New(a.cfg.APIURL, a.cfg.ThrottleRPS)
	botClient := botapi.NewClient(a.cfg.BotToken, a.cfg.TestDC, a.cfg.ThrottleRPS)

	// 3) Мост: реестр сессий, таблица команд, диспетчер событий.
	registry := bridge.NewRegistry()
	router := bridge.NewRouter(store, providerClient)
	dispatcher := bridge.NewDispatcher(registry)

	a.bot = botapi.NewBot(botClient, store, providerClient, a.cfg.WebAppURL, a.cfg.AdminUsername)
	a.server = web.NewServer(web.Options{
		Address:    a.cfg.WebServerAddress,
		BotToken:   a.cfg.BotToken,
		Users:      store,
		Registry:   registry,
		Router:     router,
		Dispatcher: dispatcher,
		API:        providerClient,
		Notifier:   botClient,
	})

	a.manager = lifecycle.New(a.mainCtx)
	if err := a.registerNodes(); err != nil {
		_ = store.Close()
		return err
	}

	if err := a.manager.StartAll(); err != nil {
		a.mainCancel()
		shutdownErr := a.manager.Shutdown()
		return errors.Wrap(errors.Join(err, shutdownErr), "startup")
	}
	logger.Info("Bridge is running",
		zap.String("address", a.cfg.WebServerAddress),
		zap.Int64("admin", a.cfg.AdminUID))

	<-a.mainCtx.Done()
	logger.Info("Shutdown signal received")
	return a.manager.Shutdown()
}

// registerNodes описывает дерево подсистем для lifecycle-менеджера.
func (a *App) registerNodes() error {
	if err := a.manager.Register(nodeStorage, "", nil,
		nil,
		func(context.Context) error { return a.store.Close() },
	); err != nil {
		return err
	}

	if err := a.manager.Register(nodeBot, "", []string{nodeStorage},
		func(ctx context.Context) error {
			go func() {
				if err := a.bot.Run(ctx); err != nil {
					logger.Error("bot loop exited", zap.Error(err))
					a.mainCancel()
				}
			}()
			return nil
		},
		nil,
	); err != nil {
		return err
	}

	if a.cfg.UserExpiryDays > 0 {
		if err := a.manager.Register(nodeMaintenance, "", []string{nodeStorage},
			func(ctx context.Context) error {
				go a.expiryLoop(ctx)
				return nil
			},
			nil,
		); err != nil {
			return err
		}
	}

	return a.manager.Register(nodeWebSrv, "", []string{nodeStorage},
		func(ctx context.Context) error {
			go func() {
				if err := a.server.Start(); err != nil {
					logger.Error("web server exited", zap.Error(err))
					a.mainCancel()
				}
			}()
			return nil
		},
		func(context.Context) error {
			// Контекст узла уже отменён, поэтому для дренажа соединений
			// выделяется отдельный таймаут.
			ctx, cancel := context.WithTimeout(context.Background(),
				time.Duration(a.cfg.ShutdownTimeoutSec)*time.Second)
			defer cancel()
			return a.server.Shutdown(ctx)
		},
	)
}

// expiryLoop раз в сутки удаляет не-администраторов старше UserExpiryDays.
// Первый проход выполняется сразу при старте.
func (a *App) expiryLoop(ctx context.Context) {
	ttl := time.Duration(a.cfg.UserExpiryDays) * 24 * time.Hour

	sweep := func() {
		removed, err := a.store.ExpireInactive(ctx, time.Now().Add(-ttl))
		if err != nil {
			logger.Warn("user expiry sweep failed", zap.Error(err))
			return
		}
		if removed > 0 {
			logger.Info("expired inactive users", zap.Int("removed", removed))
		}
	}

	sweep()
	ticker := time.NewTicker(expirySweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}
