package bridge_test

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"voicednut-bot/internal/adapters/provider"
	"voicednut-bot/internal/bridge"
	"voicednut-bot/internal/domain/users"
)

// fakeConn — транспортный хэндл для тестов: копит кадры, умеет прикидываться
// мёртвым соединением.
type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
	reason string
}

func (c *fakeConn) Send(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.frames = append(c.frames, append([]byte(nil), frame...))
	return true
}

func (c *fakeConn) Close(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.reason = reason
}

func (c *fakeConn) lastFrame() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		return nil
	}
	var m map[string]any
	_ = json.Unmarshal(c.frames[len(c.frames)-1], &m)
	return m
}

func (c *fakeConn) frameCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

// fakeStore — in-memory users.Store со счётчиками мутаций для проверки того,
// что admin-гейт не допускает частичных эффектов.
type fakeStore struct {
	mu      sync.Mutex
	users   map[int64]users.User
	mutates int
}

func newFakeStore(seed ...users.User) *fakeStore {
	s := &fakeStore{users: make(map[int64]users.User)}
	for _, u := range seed {
		s.users[u.TelegramID] = u
	}
	return s
}

func (s *fakeStore) GetUser(_ context.Context, id int64) (users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return users.User{}, users.ErrNotFound
	}
	return u, nil
}

func (s *fakeStore) IsAdmin(ctx context.Context, id int64) (bool, error) {
	u, err := s.GetUser(ctx, id)
	if err != nil {
		return false, nil
	}
	return u.IsAdmin(), nil
}

func (s *fakeStore) ListUsers(_ context.Context) ([]users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]users.User, 0, len(s.users))
	for _, u := range s.users {
		list = append(list, u)
	}
	return list, nil
}

func (s *fakeStore) AddUser(_ context.Context, id int64, username string, role users.Role) (users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mutates++
	if _, ok := s.users[id]; ok {
		return users.User{}, users.ErrExists
	}
	u := users.User{TelegramID: id, Username: users.NormalizeUsername(username), Role: role, JoinedAt: time.Now()}
	s.users[id] = u
	return u, nil
}

func (s *fakeStore) RemoveUser(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mutates++
	if _, ok := s.users[id]; !ok {
		return users.ErrNotFound
	}
	delete(s.users, id)
	return nil
}

func (s *fakeStore) PromoteUser(_ context.Context, id int64) (users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mutates++
	u, ok := s.users[id]
	if !ok {
		return users.User{}, users.ErrNotFound
	}
	u.Role = users.RoleAdmin
	s.users[id] = u
	return u, nil
}

func (s *fakeStore) ExpireInactive(_ context.Context, _ time.Time) (int, error) { return 0, nil }

func (s *fakeStore) mutations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutates
}

// fakeAPI — управляемый ProviderAPI со счётчиком вызовов.
type fakeAPI struct {
	mu    sync.Mutex
	calls int

	callResult provider.CallResult
	smsResult  provider.SmsResult
	health     provider.Health
	stats      provider.UserStats
	list       []provider.Call
	detail     provider.CallDetail
	err        error
}

func (a *fakeAPI) bump() {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
}

func (a *fakeAPI) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func (a *fakeAPI) InitiateCall(_ context.Context, _, _, _ string, _ int64) (provider.CallResult, error) {
	a.bump()
	return a.callResult, a.err
}

func (a *fakeAPI) SendSms(_ context.Context, _, _ string, _ int64) (provider.SmsResult, error) {
	a.bump()
	return a.smsResult, a.err
}

func (a *fakeAPI) GetCallList(_ context.Context, _ int, _ int64) ([]provider.Call, error) {
	a.bump()
	return a.list, a.err
}

func (a *fakeAPI) GetCallDetail(_ context.Context, _ string, _ int64) (provider.CallDetail, error) {
	a.bump()
	return a.detail, a.err
}

func (a *fakeAPI) GetHealth(_ context.Context) (provider.Health, error) {
	a.bump()
	return a.health, a.err
}

func (a *fakeAPI) GetUserStats(_ context.Context, _ int64) (provider.UserStats, error) {
	a.bump()
	return a.stats, a.err
}

// newSession регистрирует тестовую сессию в реестре.
func newSession(reg *bridge.Registry, userID int64) (*bridge.Session, *fakeConn) {
	conn := &fakeConn{}
	sess, _ := reg.Register(userID, conn)
	return sess, conn
}
