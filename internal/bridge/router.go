package bridge

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"voicednut-bot/internal/adapters/provider"
	"voicednut-bot/internal/domain/users"
	"voicednut-bot/internal/infra/logger"
	"voicednut-bot/internal/support/debug"
)

// ProviderAPI — срез клиента провайдера, нужный маршрутизатору. Интерфейс
// позволяет подменять провайдера в тестах.
type ProviderAPI interface {
	InitiateCall(ctx context.Context, phone, prompt, firstMessage string, callerID int64) (provider.CallResult, error)
	SendSms(ctx context.Context, phone, message string, callerID int64) (provider.SmsResult, error)
	GetCallList(ctx context.Context, limit int, userID int64) ([]provider.Call, error)
	GetCallDetail(ctx context.Context, callSid string, userID int64) (provider.CallDetail, error)
	GetHealth(ctx context.Context) (provider.Health, error)
	GetUserStats(ctx context.Context, userID int64) (provider.UserStats, error)
}

// Дедлайны команд по весу операции: телеметрия — коротко, действия — дольше.
const (
	healthTimeout = 5 * time.Second
	statsTimeout  = 10 * time.Second
	listTimeout   = 15 * time.Second
	actionTimeout = 30 * time.Second
)

// defaultCallPrompt подставляется, когда Mini App не передала свой prompt.
const defaultCallPrompt = "You are a helpful AI assistant making a phone call."

const defaultListLimit = 10

// maxSmsLen — предел длины SMS, принятый провайдером (сцепленные сегменты).
const maxSmsLen = 1600

// e164Re — строгий формат E.164: «+», первая цифра без нуля, максимум 15 цифр.
var e164Re = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// handlerFunc обрабатывает одну команду. Контекст уже ограничен дедлайном
// команды; sess — аутентифицированная сессия отправителя.
type handlerFunc func(ctx context.Context, sess *Session, cmd Command) Response

// route — запись таблицы команд.
type route struct {
	fn      handlerFunc
	admin   bool          // роль ADMIN перечитывается из хранилища на каждый вызов
	timeout time.Duration // 0 — без собственного дедлайна (локальные команды)
}

// Router декодирует входящие кадры, применяет авторизацию и валидацию и
// упаковывает результат в Response. Любой сбой обработчика превращается в
// конверт-отказ; соединение остаётся пригодным для следующих команд.
type Router struct {
	users  users.Store
	api    ProviderAPI
	routes map[string]route
}

// NewRouter собирает маршрутизатор с фиксированной таблицей команд.
func NewRouter(store users.Store, api ProviderAPI) *Router {
	r := &Router{users: store, api: api}
	r.routes = map[string]route{
		"ping":          {fn: r.handlePing},
		"checkAuth":     {fn: r.handleCheckAuth, timeout: statsTimeout},
		"getUsers":      {fn: r.handleGetUsers, admin: true, timeout: statsTimeout},
		"addUser":       {fn: r.handleAddUser, admin: true, timeout: statsTimeout},
		"removeUser":    {fn: r.handleRemoveUser, admin: true, timeout: statsTimeout},
		"promoteUser":   {fn: r.handlePromoteUser, admin: true, timeout: statsTimeout},
		"getCalls":      {fn: r.handleGetCalls, timeout: listTimeout},
		"getTranscript": {fn: r.handleGetTranscript, timeout: listTimeout},
		"initiateCall":  {fn: r.handleInitiateCall, timeout: actionTimeout},
		"sendSMS":       {fn: r.handleSendSMS, timeout: actionTimeout},
		"healthCheck":   {fn: r.handleHealthCheck, timeout: healthTimeout},
		"getStats":      {fn: r.handleGetStats, timeout: statsTimeout},
		"getActivity":   {fn: r.handleGetActivity, timeout: statsTimeout},
		"subscribe":     {fn: r.handleSubscribe},
		"unsubscribe":   {fn: r.handleUnsubscribe},
	}
	return r
}

// Handle обрабатывает один декодированный конверт и всегда возвращает ровно
// один Response с тем же requestId. Паника обработчика не роняет соединение:
// команда завершается конвертом-отказом.
func (r *Router) Handle(ctx context.Context, sess *Session, cmd Command) (resp Response) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("command handler panic",
				zap.String("action", cmd.Action),
				zap.Int64("userId", sess.UserID),
				zap.Any("panic", rec))
			resp = Fail("Internal error")
		}
		resp.Type = cmd.Action
		resp.RequestID = cmd.RequestID
	}()

	debug.Dump("inbound command", cmd.Action, sess.UserID)

	rt, ok := r.routes[cmd.Action]
	if !ok {
		return Fail(fmt.Sprintf("Unknown action: %s", cmd.Action))
	}

	if rt.admin {
		// Роль проверяется заново на каждую admin-команду; кешированное
		// значение могло устареть после removeUser/promoteUser.
		isAdmin, err := r.users.IsAdmin(ctx, sess.UserID)
		if err != nil {
			logger.Error("admin check failed", zap.Int64("userId", sess.UserID), zap.Error(err))
			return Fail("Failed to verify admin access")
		}
		if !isAdmin {
			return Fail("Admin access required")
		}
	}

	if rt.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rt.timeout)
		defer cancel()
	}

	return rt.fn(ctx, sess, cmd)
}

func (r *Router) handlePing(_ context.Context, _ *Session, _ Command) Response {
	return OK(map[string]any{
		"message":   "pong",
		"timestamp": time.Now().UnixMilli(),
	})
}

func (r *Router) handleCheckAuth(ctx context.Context, sess *Session, _ Command) Response {
	u, err := r.users.GetUser(ctx, sess.UserID)
	if err != nil {
		// Сессия уже аутентифицирована на connect, но запись могли удалить.
		return OK(map[string]any{"authorized": false, "isAdmin": false, "user": nil})
	}
	isAdmin, err := r.users.IsAdmin(ctx, sess.UserID)
	if err != nil {
		return Fail("Failed to check authorization")
	}
	return OK(map[string]any{
		"authorized": true,
		"isAdmin":    isAdmin,
		"user":       u,
	})
}

func (r *Router) handleGetUsers(ctx context.Context, _ *Session, _ Command) Response {
	list, err := r.users.ListUsers(ctx)
	if err != nil {
		return Fail("Failed to get users")
	}
	return OK(list)
}

func (r *Router) handleAddUser(ctx context.Context, _ *Session, cmd Command) Response {
	telegramID, ok := cmd.Int64("telegramId")
	username := cmd.Str("username")
	if !ok || telegramID == 0 || username == "" {
		return Fail("Telegram ID and username are required")
	}
	u, err := r.users.AddUser(ctx, telegramID, username, users.RoleUser)
	if err != nil {
		return Fail(fmt.Sprintf("Failed to add user: %s", storeErrText(err)))
	}
	return OK(u)
}

func (r *Router) handleRemoveUser(ctx context.Context, sess *Session, cmd Command) Response {
	telegramID, ok := cmd.Int64("telegramId")
	if !ok || telegramID == 0 {
		return Fail("Telegram ID is required")
	}
	if telegramID == sess.UserID {
		return Fail("Cannot remove yourself")
	}
	if err := r.users.RemoveUser(ctx, telegramID); err != nil {
		return Fail(fmt.Sprintf("Failed to remove user: %s", storeErrText(err)))
	}
	return OK(map[string]any{"telegram_id": telegramID})
}

func (r *Router) handlePromoteUser(ctx context.Context, _ *Session, cmd Command) Response {
	telegramID, ok := cmd.Int64("telegramId")
	if !ok || telegramID == 0 {
		return Fail("Telegram ID is required")
	}
	u, err := r.users.PromoteUser(ctx, telegramID)
	if err != nil {
		return Fail(fmt.Sprintf("Failed to promote user: %s", storeErrText(err)))
	}
	return OK(u)
}

func (r *Router) handleGetCalls(ctx context.Context, sess *Session, cmd Command) Response {
	list, err := r.api.GetCallList(ctx, cmd.IntDefault("limit", defaultListLimit), 0)
	if err != nil {
		logger.Warn("getCalls failed", zap.Int64("userId", sess.UserID), zap.Error(err))
		return Fail("Failed to fetch calls")
	}
	return OK(list)
}

func (r *Router) handleGetTranscript(ctx context.Context, sess *Session, cmd Command) Response {
	callSid := cmd.Str("callSid")
	if callSid == "" {
		return Fail("Call SID is required")
	}
	detail, err := r.api.GetCallDetail(ctx, callSid, sess.UserID)
	if err != nil {
		logger.Warn("getTranscript failed", zap.String("callSid", callSid), zap.Error(err))
		return Fail("Failed to fetch transcript")
	}
	return OK(detail)
}

func (r *Router) handleInitiateCall(ctx context.Context, sess *Session, cmd Command) Response {
	phone := cmd.Str("phone")
	firstMessage := cmd.Str("first_message")
	if firstMessage == "" {
		firstMessage = cmd.Str("firstMessage")
	}
	if phone == "" || firstMessage == "" {
		return Fail("Phone number and first message are required")
	}
	if !e164Re.MatchString(phone) {
		return Fail("Invalid phone number format. Use E.164 format like +1234567890")
	}
	prompt := cmd.Str("prompt")
	if prompt == "" {
		prompt = defaultCallPrompt
	}

	res, err := r.api.InitiateCall(ctx, phone, prompt, firstMessage, sess.UserID)
	if err != nil {
		logger.Error("initiateCall failed", zap.Int64("userId", sess.UserID), zap.Error(err))
		return Fail(upstreamErrText(err, "Failed to initiate call"))
	}
	return OK(res)
}

func (r *Router) handleSendSMS(ctx context.Context, sess *Session, cmd Command) Response {
	phone := cmd.Str("phone")
	message := cmd.Str("message")
	if phone == "" || message == "" {
		return Fail("Phone number and message are required")
	}
	const minSmsPhoneLen = 10
	if !strings.HasPrefix(phone, "+") || len(phone) < minSmsPhoneLen {
		return Fail("Invalid phone number format. Use E.164 format like +1234567890")
	}
	if len(message) > maxSmsLen {
		return Fail(fmt.Sprintf("Message is too long (max %d characters)", maxSmsLen))
	}

	res, err := r.api.SendSms(ctx, phone, message, sess.UserID)
	if err != nil {
		logger.Error("sendSMS failed", zap.Int64("userId", sess.UserID), zap.Error(err))
		return Fail(upstreamErrText(err, "Failed to send SMS"))
	}
	return OK(res)
}

// handleHealthCheck — best-effort телеметрия: при недоступном провайдере
// возвращается success:true с деградированной нагрузкой и подсказкой в error,
// чтобы Mini App могла отрисовать дашборд вместо жёсткой ошибки.
func (r *Router) handleHealthCheck(ctx context.Context, _ *Session, _ Command) Response {
	data := map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"features": map[string]bool{
			"calls":    true,
			"sms":      true,
			"admin":    true,
			"realtime": true,
		},
	}

	health, err := r.api.GetHealth(ctx)
	if err != nil {
		logger.Warn("health check degraded", zap.Error(err))
		data["api_status"] = "unknown"
		data["error"] = "Health check failed"
		return OK(data)
	}
	data["api_status"] = health.Status
	data["active_calls"] = health.ActiveCalls
	return OK(data)
}

// handleGetStats — тоже best-effort: недоступная статистика не должна ломать
// экран, поэтому отдаются нули с пометкой.
func (r *Router) handleGetStats(ctx context.Context, sess *Session, _ Command) Response {
	stats, err := r.api.GetUserStats(ctx, sess.UserID)
	if err != nil {
		logger.Warn("getStats degraded", zap.Int64("userId", sess.UserID), zap.Error(err))
		return OK(map[string]any{
			"total_calls": 0,
			"total_sms":   0,
			"error":       "Stats unavailable",
		})
	}
	return OK(stats)
}

func (r *Router) handleGetActivity(ctx context.Context, sess *Session, cmd Command) Response {
	list, err := r.api.GetCallList(ctx, cmd.IntDefault("limit", defaultListLimit), sess.UserID)
	if err != nil {
		logger.Warn("getActivity failed", zap.Int64("userId", sess.UserID), zap.Error(err))
		return Fail("Failed to fetch recent activity")
	}
	return OK(list)
}

func (r *Router) handleSubscribe(_ context.Context, sess *Session, cmd Command) Response {
	sess.Subscribe(cmd.StrSlice("events"))
	return OK(struct{}{})
}

func (r *Router) handleUnsubscribe(_ context.Context, sess *Session, cmd Command) Response {
	sess.Unsubscribe(cmd.StrSlice("events"))
	return OK(struct{}{})
}

// storeErrText приводит ошибки хранилища к коротким пользовательским текстам.
func storeErrText(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, users.ErrNotFound):
		return "user not found"
	case errors.Is(err, users.ErrExists):
		return "user already exists"
	default:
		return "storage error"
	}
}

// upstreamErrText возвращает текст провайдера, если он пригоден для показа,
// иначе fallback. Сырые сетевые ошибки наружу не выпускаются.
func upstreamErrText(err error, fallback string) string {
	if msg := err.Error(); strings.Contains(msg, "provider error") {
		return msg
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fallback + ": provider timed out"
	}
	return fallback
}
