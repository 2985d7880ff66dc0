// Package users — доменная модель авторизованных пользователей бота.
// Мост и бот сверяются с хранилищем на каждой чувствительной операции и
// никогда не кешируют роль между командами.
package users

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Role определяет уровень доступа пользователя.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Ошибки хранилища, различимые вызывающим кодом.
var (
	ErrNotFound = errors.New("user not found")
	ErrExists   = errors.New("user already exists")
)

// User — запись авторизованного пользователя Telegram.
type User struct {
	TelegramID int64     `json:"telegram_id"`
	Username   string    `json:"username"`
	Role       Role      `json:"role"`
	JoinedAt   time.Time `json:"timestamp"`
}

// IsAdmin сообщает, имеет ли пользователь административную роль.
func (u User) IsAdmin() bool { return u.Role == RoleAdmin }

// Store — авторитетное хранилище пользователей. Все операции синхронны
// с точки зрения вызывающего; реализация может быть локальной (bbolt)
// или удалённой.
type Store interface {
	// GetUser возвращает запись пользователя либо ErrNotFound.
	GetUser(ctx context.Context, telegramID int64) (User, error)
	// IsAdmin проверяет роль напрямую, без кеша. Для неизвестного
	// пользователя возвращает false без ошибки.
	IsAdmin(ctx context.Context, telegramID int64) (bool, error)
	// ListUsers возвращает всех пользователей в порядке возрастания id.
	ListUsers(ctx context.Context) ([]User, error)
	// AddUser создаёт запись; ErrExists, если id уже занят.
	AddUser(ctx context.Context, telegramID int64, username string, role Role) (User, error)
	// RemoveUser удаляет запись; ErrNotFound, если её нет.
	RemoveUser(ctx context.Context, telegramID int64) error
	// PromoteUser повышает пользователя до ADMIN; ErrNotFound, если записи нет.
	PromoteUser(ctx context.Context, telegramID int64) (User, error)
	// ExpireInactive удаляет не-администраторов, добавленных раньше cutoff.
	// Возвращает количество удалённых записей.
	ExpireInactive(ctx context.Context, cutoff time.Time) (int, error)
}

// NormalizeUsername приводит username к каноничному виду: без @ и пробелов.
func NormalizeUsername(username string) string {
	return strings.TrimPrefix(strings.TrimSpace(username), "@")
}
