package bridge_test

import (
	"testing"

	"voicednut-bot/internal/bridge"
)

func TestRegisterDisplacesPrevious(t *testing.T) {
	t.Parallel()

	reg := bridge.NewRegistry()

	first, prev := reg.Register(42, &fakeConn{})
	if prev != nil {
		t.Fatalf("prev = %v, want nil", prev)
	}
	second, prev := reg.Register(42, &fakeConn{})
	if prev != first {
		t.Fatalf("prev = %v, want first session", prev)
	}
	if got := reg.Get(42); got != second {
		t.Errorf("Get(42) = %v, want second session", got)
	}
	if reg.Len() != 1 {
		t.Errorf("Len() = %d, want 1", reg.Len())
	}
}

func TestRemoveIdentityChecked(t *testing.T) {
	t.Parallel()

	reg := bridge.NewRegistry()
	first, _ := reg.Register(42, &fakeConn{})
	second, _ := reg.Register(42, &fakeConn{})

	// Отложенный teardown старого соединения не должен снести новую запись.
	reg.Remove(first)
	if got := reg.Get(42); got != second {
		t.Fatalf("Remove(stale) removed the live session")
	}

	reg.Remove(second)
	if reg.Get(42) != nil {
		t.Error("session survived Remove")
	}

	// Повторный вызов и nil безопасны.
	reg.Remove(second)
	reg.Remove(nil)
	if reg.Len() != 0 {
		t.Errorf("Len() = %d, want 0", reg.Len())
	}
}

func TestForEachSubscribed(t *testing.T) {
	t.Parallel()

	reg := bridge.NewRegistry()
	a, _ := newSession(reg, 1)
	b, _ := newSession(reg, 2)
	newSession(reg, 3)

	a.Subscribe([]string{"call_status", "sms_status"})
	b.Subscribe([]string{"call_status"})
	b.Unsubscribe([]string{"call_status"})

	var visited []int64
	reg.ForEachSubscribed("call_status", func(s *bridge.Session) {
		visited = append(visited, s.UserID)
	})
	if len(visited) != 1 || visited[0] != 1 {
		t.Errorf("visited = %v, want [1]", visited)
	}

	if !a.Subscribed("sms_status") || b.Subscribed("call_status") {
		t.Error("subscription state mismatch")
	}
	// Пустые имена событий игнорируются.
	b.Subscribe([]string{""})
	if b.Subscribed("") {
		t.Error("empty event name subscribed")
	}
}
