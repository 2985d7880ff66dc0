package userstore_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"voicednut-bot/internal/adapters/userstore"
	"voicednut-bot/internal/domain/users"
)

func openTestStore(t *testing.T) *userstore.Store {
	t.Helper()
	s, err := userstore.Open(filepath.Join(t.TempDir(), "users.bbolt"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAddGetRemove(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	added, err := s.AddUser(ctx, 42, "@alice", users.RoleUser)
	if err != nil {
		t.Fatalf("AddUser() error: %v", err)
	}
	if added.Username != "alice" {
		t.Errorf("AddUser() username = %q, want normalized %q", added.Username, "alice")
	}

	if _, err = s.AddUser(ctx, 42, "alice", users.RoleUser); !errors.Is(err, users.ErrExists) {
		t.Errorf("second AddUser() error = %v, want ErrExists", err)
	}

	got, err := s.GetUser(ctx, 42)
	if err != nil {
		t.Fatalf("GetUser() error: %v", err)
	}
	if got.TelegramID != 42 || got.Role != users.RoleUser {
		t.Errorf("GetUser() = %+v", got)
	}

	if err = s.RemoveUser(ctx, 42); err != nil {
		t.Fatalf("RemoveUser() error: %v", err)
	}
	if _, err = s.GetUser(ctx, 42); !errors.Is(err, users.ErrNotFound) {
		t.Errorf("GetUser() after remove error = %v, want ErrNotFound", err)
	}
	if err = s.RemoveUser(ctx, 42); !errors.Is(err, users.ErrNotFound) {
		t.Errorf("second RemoveUser() error = %v, want ErrNotFound", err)
	}
}

func TestIsAdminAndPromote(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.AddUser(ctx, 7, "bob", users.RoleUser); err != nil {
		t.Fatalf("AddUser() error: %v", err)
	}

	admin, err := s.IsAdmin(ctx, 7)
	if err != nil || admin {
		t.Fatalf("IsAdmin() = %v, %v; want false, nil", admin, err)
	}
	// Неизвестный пользователь — false без ошибки.
	if admin, err = s.IsAdmin(ctx, 999); err != nil || admin {
		t.Fatalf("IsAdmin(unknown) = %v, %v; want false, nil", admin, err)
	}

	promoted, err := s.PromoteUser(ctx, 7)
	if err != nil {
		t.Fatalf("PromoteUser() error: %v", err)
	}
	if promoted.Role != users.RoleAdmin {
		t.Errorf("PromoteUser() role = %q, want ADMIN", promoted.Role)
	}
	if admin, _ = s.IsAdmin(ctx, 7); !admin {
		t.Error("IsAdmin() after promote = false, want true")
	}

	if _, err = s.PromoteUser(ctx, 999); !errors.Is(err, users.ErrNotFound) {
		t.Errorf("PromoteUser(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestListOrderAndSeedAdmin(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, id := range []int64{30, 10, 20} {
		if _, err := s.AddUser(ctx, id, "u", users.RoleUser); err != nil {
			t.Fatalf("AddUser(%d) error: %v", id, err)
		}
	}
	list, err := s.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers() error: %v", err)
	}
	for i, want := range []int64{10, 20, 30} {
		if list[i].TelegramID != want {
			t.Errorf("ListUsers()[%d] = %d, want %d", i, list[i].TelegramID, want)
		}
	}

	if err = s.SeedAdmin(ctx, 1, "root"); err != nil {
		t.Fatalf("SeedAdmin() error: %v", err)
	}
	// Повторный seed не трогает существующую запись.
	if err = s.SeedAdmin(ctx, 1, "other"); err != nil {
		t.Fatalf("second SeedAdmin() error: %v", err)
	}
	u, err := s.GetUser(ctx, 1)
	if err != nil || u.Username != "root" || u.Role != users.RoleAdmin {
		t.Errorf("seeded admin = %+v, err %v", u, err)
	}
}

func TestExpireInactive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.AddUser(ctx, 1, "admin", users.RoleAdmin); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddUser(ctx, 2, "old", users.RoleUser); err != nil {
		t.Fatal(err)
	}

	// Cutoff в будущем: старые USER-записи уходят, администратор остаётся.
	removed, err := s.ExpireInactive(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("ExpireInactive() error: %v", err)
	}
	if removed != 1 {
		t.Errorf("ExpireInactive() removed = %d, want 1", removed)
	}
	if _, err = s.GetUser(ctx, 1); err != nil {
		t.Errorf("admin expired unexpectedly: %v", err)
	}
	if _, err = s.GetUser(ctx, 2); !errors.Is(err, users.ErrNotFound) {
		t.Errorf("stale user still present, err = %v", err)
	}
}
