package web_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"voicednut-bot/internal/bridge"
	"voicednut-bot/internal/domain/users"
	"voicednut-bot/internal/web"
)

// memStore — минимальный users.Store для тестов сервера.
type memStore struct {
	mu    sync.Mutex
	users map[int64]users.User
}

func newMemStore(seed ...users.User) *memStore {
	s := &memStore{users: make(map[int64]users.User)}
	for _, u := range seed {
		s.users[u.TelegramID] = u
	}
	return s
}

func (s *memStore) GetUser(_ context.Context, id int64) (users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return users.User{}, users.ErrNotFound
	}
	return u, nil
}

func (s *memStore) IsAdmin(ctx context.Context, id int64) (bool, error) {
	u, err := s.GetUser(ctx, id)
	return err == nil && u.IsAdmin(), nil
}

func (s *memStore) ListUsers(_ context.Context) ([]users.User, error) { return nil, nil }

func (s *memStore) AddUser(_ context.Context, id int64, username string, role users.Role) (users.User, error) {
	return users.User{TelegramID: id, Username: username, Role: role}, nil
}

func (s *memStore) RemoveUser(_ context.Context, _ int64) error { return nil }

func (s *memStore) PromoteUser(_ context.Context, id int64) (users.User, error) {
	return users.User{TelegramID: id, Role: users.RoleAdmin}, nil
}

func (s *memStore) ExpireInactive(_ context.Context, _ time.Time) (int, error) { return 0, nil }

// recordConn — транспортный фейк для подписки сессий без WebSocket.
type recordConn struct {
	mu     sync.Mutex
	frames [][]byte
}

func (c *recordConn) Send(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, append([]byte(nil), frame...))
	return true
}

func (c *recordConn) Close(string) {}

func (c *recordConn) frameCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

// recordNotifier копит уведомления Bot API.
type recordNotifier struct {
	mu    sync.Mutex
	texts []string
	chats []int64
}

func (n *recordNotifier) Notify(_ context.Context, chatID int64, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.chats = append(n.chats, chatID)
	n.texts = append(n.texts, text)
	return nil
}

func newTestServer(t *testing.T, store users.Store, notifier web.Notifier) (*web.Server, *bridge.Registry) {
	t.Helper()
	reg := bridge.NewRegistry()
	srv := web.NewServer(web.Options{
		Address:    "127.0.0.1:0",
		BotToken:   testBotToken,
		Users:      store,
		Registry:   reg,
		Router:     bridge.NewRouter(store, nil),
		Dispatcher: bridge.NewDispatcher(reg),
		API:        nil,
		Notifier:   notifier,
	})
	return srv, reg
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	srv, reg := newTestServer(t, newMemStore(), nil)
	reg.Register(1, &recordConn{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad JSON: %v", err)
	}
	if body["status"] != "ok" || body["sessions"] != float64(1) {
		t.Errorf("body = %v", body)
	}
}

func TestProviderHookPublishes(t *testing.T) {
	t.Parallel()

	notifier := &recordNotifier{}
	srv, reg := newTestServer(t, newMemStore(), notifier)

	conn := &recordConn{}
	sess, _ := reg.Register(42, conn)
	sess.Subscribe([]string{"call_status"})

	payload := `{"event":"call_status","call_sid":"CA1","status":"completed","to":"+1234567890","duration":35,"user_chat_id":42}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/hooks/provider", strings.NewReader(payload)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["delivered"] != float64(1) {
		t.Errorf("delivered = %v", body["delivered"])
	}
	if conn.frameCount() != 1 {
		t.Errorf("session frames = %d, want 1", conn.frameCount())
	}

	// Терминальный статус зеркалируется в чат.
	if len(notifier.texts) != 1 || !strings.Contains(notifier.texts[0], "completed") {
		t.Errorf("notifier texts = %v", notifier.texts)
	}
	if notifier.chats[0] != 42 {
		t.Errorf("notifier chat = %d", notifier.chats[0])
	}
}

func TestProviderHookTargeting(t *testing.T) {
	t.Parallel()

	srv, reg := newTestServer(t, newMemStore(), nil)

	connA := &recordConn{}
	sessA, _ := reg.Register(1, connA)
	sessA.Subscribe([]string{"sms_status"})
	connB := &recordConn{}
	sessB, _ := reg.Register(2, connB)
	sessB.Subscribe([]string{"sms_status"})

	// user_chat_id сужает доставку до одного пользователя.
	payload := `{"event":"sms_status","message_sid":"SM1","status":"delivered","user_chat_id":2}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/hooks/provider", strings.NewReader(payload)))

	if connA.frameCount() != 0 || connB.frameCount() != 1 {
		t.Errorf("frames = %d/%d, want 0/1", connA.frameCount(), connB.frameCount())
	}
}

func TestProviderHookRejects(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, newMemStore(), nil)

	cases := []struct {
		name   string
		method string
		body   string
		want   int
	}{
		{name: "get", method: http.MethodGet, body: "", want: http.StatusMethodNotAllowed},
		{name: "badJSON", method: http.MethodPost, body: "{", want: http.StatusBadRequest},
		{name: "noEvent", method: http.MethodPost, body: `{"status":"completed"}`, want: http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc := tc
			t.Parallel()
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(tc.method, "/hooks/provider", strings.NewReader(tc.body)))
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}
