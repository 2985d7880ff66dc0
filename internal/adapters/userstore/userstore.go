// Package userstore — реализация users.Store поверх локального bbolt-файла.
//
// Формат: bucket "users", ключ — десятичный telegram id (строкой, с ведущими
// нулями для лексикографического порядка), значение — JSON-запись users.User.
// База одна на процесс; bbolt сам сериализует транзакции, поэтому операции
// над одним id не интерливятся.
package userstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"go.etcd.io/bbolt"

	"voicednut-bot/internal/domain/users"
	"voicednut-bot/internal/infra/logger"
	"voicednut-bot/internal/infra/storage"
)

var bucketUsers = []byte("users")

// Store хранит авторизованных пользователей в bbolt.
type Store struct {
	db *bbolt.DB
}

// Open открывает (или создаёт) базу по указанному пути и гарантирует наличие
// bucket. Каталог для файла создаётся при необходимости.
func Open(path string) (*Store, error) {
	if err := storage.EnsureDir(path); err != nil {
		return nil, fmt.Errorf("ensure users db dir: %w", err)
	}
	db, err := bbolt.Open(path, storage.DefaultFilePerm, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "open users db")
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, createErr := tx.CreateBucketIfNotExists(bucketUsers)
		return createErr
	}); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "create users bucket")
	}
	return &Store{db: db}, nil
}

// Close закрывает базу. После Close все операции возвращают ошибку bbolt.
func (s *Store) Close() error { return s.db.Close() }

// SeedAdmin гарантирует наличие первичного администратора из конфигурации.
// Существующая запись не понижается и не перезаписывается.
func (s *Store) SeedAdmin(ctx context.Context, telegramID int64, username string) error {
	_, err := s.GetUser(ctx, telegramID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, users.ErrNotFound) {
		return err
	}
	if _, err := s.AddUser(ctx, telegramID, username, users.RoleAdmin); err != nil {
		return err
	}
	logger.Infof("seeded admin user %d (@%s)", telegramID, username)
	return nil
}

// key формирует ключ с фиксированной шириной, чтобы курсор bbolt обходил
// пользователей в порядке возрастания id.
func key(telegramID int64) []byte {
	return fmt.Appendf(nil, "%020d", telegramID)
}

func decode(raw []byte) (users.User, error) {
	var u users.User
	if err := json.Unmarshal(raw, &u); err != nil {
		return users.User{}, errors.Wrap(err, "decode user record")
	}
	return u, nil
}

// GetUser возвращает запись пользователя либо users.ErrNotFound.
func (s *Store) GetUser(ctx context.Context, telegramID int64) (users.User, error) {
	if err := ctx.Err(); err != nil {
		return users.User{}, err
	}
	var u users.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketUsers).Get(key(telegramID))
		if raw == nil {
			return users.ErrNotFound
		}
		var decodeErr error
		u, decodeErr = decode(raw)
		return decodeErr
	})
	return u, err
}

// IsAdmin проверяет роль напрямую в базе. Неизвестный пользователь — false.
func (s *Store) IsAdmin(ctx context.Context, telegramID int64) (bool, error) {
	u, err := s.GetUser(ctx, telegramID)
	if errors.Is(err, users.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return u.IsAdmin(), nil
}

// ListUsers возвращает всех пользователей в порядке возрастания telegram id.
func (s *Store) ListUsers(ctx context.Context) ([]users.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var list []users.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(_, raw []byte) error {
			u, decodeErr := decode(raw)
			if decodeErr != nil {
				return decodeErr
			}
			list = append(list, u)
			return nil
		})
	})
	return list, err
}

// AddUser создаёт запись. Повторное добавление существующего id — users.ErrExists.
func (s *Store) AddUser(ctx context.Context, telegramID int64, username string, role users.Role) (users.User, error) {
	if err := ctx.Err(); err != nil {
		return users.User{}, err
	}
	u := users.User{
		TelegramID: telegramID,
		Username:   users.NormalizeUsername(username),
		Role:       role,
		JoinedAt:   time.Now().UTC(),
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		if b.Get(key(telegramID)) != nil {
			return users.ErrExists
		}
		raw, marshalErr := json.Marshal(u)
		if marshalErr != nil {
			return marshalErr
		}
		return b.Put(key(telegramID), raw)
	})
	if err != nil {
		return users.User{}, err
	}
	return u, nil
}

// RemoveUser удаляет запись; users.ErrNotFound, если её нет.
func (s *Store) RemoveUser(ctx context.Context, telegramID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		if b.Get(key(telegramID)) == nil {
			return users.ErrNotFound
		}
		return b.Delete(key(telegramID))
	})
}

// PromoteUser повышает пользователя до ADMIN и возвращает обновлённую запись.
func (s *Store) PromoteUser(ctx context.Context, telegramID int64) (users.User, error) {
	if err := ctx.Err(); err != nil {
		return users.User{}, err
	}
	var u users.User
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		raw := b.Get(key(telegramID))
		if raw == nil {
			return users.ErrNotFound
		}
		var decodeErr error
		u, decodeErr = decode(raw)
		if decodeErr != nil {
			return decodeErr
		}
		u.Role = users.RoleAdmin
		updated, marshalErr := json.Marshal(u)
		if marshalErr != nil {
			return marshalErr
		}
		return b.Put(key(telegramID), updated)
	})
	if err != nil {
		return users.User{}, err
	}
	return u, nil
}

// ExpireInactive удаляет не-администраторов, добавленных раньше cutoff.
// Администраторы не экспирируются никогда.
func (s *Store) ExpireInactive(ctx context.Context, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		var stale [][]byte
		if err := b.ForEach(func(k, raw []byte) error {
			u, decodeErr := decode(raw)
			if decodeErr != nil {
				return decodeErr
			}
			if !u.IsAdmin() && u.JoinedAt.Before(cutoff) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if removed > 0 {
		logger.Infof("expired %d inactive users", removed)
	}
	return removed, err
}
