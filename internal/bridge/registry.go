package bridge

import (
	"sync"
)

// Conn — транспортный хэндл живого соединения. Реализация обязана быть
// потокобезопасной и неблокирующей: Send кладёт кадр в буфер и возвращает
// false, если соединение закрыто или буфер переполнен.
type Conn interface {
	Send(frame []byte) bool
	Close(reason string)
}

// Session — одно аутентифицированное соединение Mini App и его подписки.
// Подписки мутируются только командами самой сессии (subscribe/unsubscribe).
type Session struct {
	UserID int64
	conn   Conn

	mu   sync.Mutex
	subs map[string]struct{}
}

// NewSession создаёт сессию для userID поверх транспортного хэндла.
func NewSession(userID int64, conn Conn) *Session {
	return &Session{
		UserID: userID,
		conn:   conn,
		subs:   make(map[string]struct{}),
	}
}

// Send отдаёт кадр в транспорт сессии. False — кадр не доставлен (закрыто).
func (s *Session) Send(frame []byte) bool { return s.conn.Send(frame) }

// Close закрывает транспорт сессии с указанием причины.
func (s *Session) Close(reason string) { s.conn.Close(reason) }

// Subscribe добавляет события в набор подписок сессии.
func (s *Session) Subscribe(events []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		if ev != "" {
			s.subs[ev] = struct{}{}
		}
	}
}

// Unsubscribe убирает события из набора подписок сессии.
func (s *Session) Unsubscribe(events []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		delete(s.subs, ev)
	}
}

// Subscribed сообщает, подписана ли сессия на событие eventType.
func (s *Session) Subscribed(eventType string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subs[eventType]
	return ok
}

// Registry — реестр живых сессий: userID → Session. Одна сессия на
// пользователя; повторная регистрация того же id вытесняет предыдущую.
// Мутации одного ключа сериализованы общим мьютексом; итерация работает по
// снимку и не падает при удалении сессии посреди обхода.
type Registry struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[int64]*Session)}
}

// Register создаёт и сохраняет сессию для userID. Возвращает новую сессию и
// вытесненную предыдущую (nil, если её не было). Закрытие старого соединения —
// ответственность вызывающего: реестр не владеет транспортом.
func (r *Registry) Register(userID int64, conn Conn) (*Session, *Session) {
	sess := NewSession(userID, conn)

	r.mu.Lock()
	prev := r.sessions[userID]
	r.sessions[userID] = sess
	r.mu.Unlock()

	return sess, prev
}

// Get возвращает сессию пользователя либо nil.
func (r *Registry) Get(userID int64) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[userID]
}

// Remove удаляет сессию sess из реестра. Идемпотентно: повторный вызов или
// вызов для уже вытесненной сессии — no-op (чтобы отложенный teardown старого
// соединения не снёс запись нового).
func (r *Registry) Remove(sess *Session) {
	if sess == nil {
		return
	}
	r.mu.Lock()
	if current, ok := r.sessions[sess.UserID]; ok && current == sess {
		delete(r.sessions, sess.UserID)
	}
	r.mu.Unlock()
}

// Len возвращает количество живых сессий.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ForEachSubscribed вызывает fn для каждой сессии, подписанной на eventType.
// Порядок обхода не определён. Обход идёт по снимку, поэтому конкурентные
// register/remove безопасны; fn не должна блокироваться надолго.
func (r *Registry) ForEachSubscribed(eventType string, fn func(*Session)) {
	r.mu.RLock()
	snapshot := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		snapshot = append(snapshot, sess)
	}
	r.mu.RUnlock()

	for _, sess := range snapshot {
		if sess.Subscribed(eventType) {
			fn(sess)
		}
	}
}
