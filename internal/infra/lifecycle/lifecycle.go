// Package lifecycle — менеджер управляемых подсистем приложения.
// Поддерживает иерархию контекстов, явные зависимости между узлами и гарантирует
// предсказуемый порядок запуска/остановки. Менеджер упрощает построение «дерева»
// сервисов (хранилище → клиенты → мост → сервер), где каждая ветка наследует
// отмену контекста и корректно гасится при Shutdown.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"voicednut-bot/internal/infra/logger"
)

// StartFunc запускает узел. Долгоживущая работа должна уходить в горутины,
// привязанные к ctx; сама функция обязана вернуться быстро. Ошибка приводит
// к пометке узла как failed и прерыванию его старта.
type StartFunc func(ctx context.Context) error

// StopFunc останавливает узел. На момент вызова контекст узла уже отменён,
// поэтому реализация должна корректно завершить фоновые задачи и освободить ресурсы.
type StopFunc func(ctx context.Context) error

// nodeStatus описывает текущее состояние узла в жизненном цикле менеджера.
type nodeStatus int

const (
	statusRegistered nodeStatus = iota // зарегистрирован, ещё не запускался
	statusStarting                     // идёт запуск или ожидание зависимостей
	statusRunning                      // успешно запущен, контекст активен
	statusStopping                     // получена команда на остановку, контекст отменён
	statusStopped                      // корректно остановлен
	statusFailed                       // ошибка при запуске/остановке
)

const rootName = "root"

type node struct {
	name   string
	parent string
	deps   []string

	start StartFunc
	stop  StopFunc

	ctx    context.Context
	cancel context.CancelFunc
	status nodeStatus
	err    error
}

// Manager управляет жизненным циклом набора узлов и гарантирует корректный
// порядок запуска/остановки с учётом зависимостей. Потокобезопасен.
type Manager struct {
	mu         sync.Mutex       // защищает доступ к nodes/startOrder
	nodes      map[string]*node // все зарегистрированные узлы, включая root
	startOrder []string         // фактический порядок запуска, нужен для обратной остановки
}

// New создаёт менеджер с корневым узлом root, уже находящимся в состоянии Running.
// Если rootCtx=nil, используется context.Background(). Root выступает невидимым
// родителем для остальных узлов и задаёт их жизненный цикл.
func New(rootCtx context.Context) *Manager {
	if rootCtx == nil {
		rootCtx = context.Background()
	}

	return &Manager{
		nodes: map[string]*node{
			rootName: {
				name:   rootName,
				ctx:    rootCtx,
				status: statusRunning,
			},
		},
	}
}

// Register добавляет новый узел name. Если parent пуст, используется root.
// deps — дополнительные зависимости, которые должны быть запущены ДО текущего узла.
// Проверки: уникальность имени, наличие родителя, удаление дубликатов/parent из deps,
// запрет зависимости от самого себя. Узел регистрируется в состоянии Registered.
func (m *Manager) Register(name, parent string, deps []string, start StartFunc, stop StopFunc) error {
	if name == "" || name == rootName {
		return fmt.Errorf("lifecycle: invalid node name %q", name)
	}
	if parent == "" {
		parent = rootName
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.nodes[name]; exists {
		return fmt.Errorf("lifecycle: node %q already registered", name)
	}
	if _, parentExists := m.nodes[parent]; !parentExists {
		return fmt.Errorf("lifecycle: parent %q not found for node %q", parent, name)
	}

	uniqueDeps := slices.Compact(slices.Clone(deps))
	uniqueDeps = slices.DeleteFunc(uniqueDeps, func(d string) bool { return d == parent })
	if slices.Contains(uniqueDeps, name) {
		return fmt.Errorf("lifecycle: node %q cannot depend on itself", name)
	}

	m.nodes[name] = &node{
		name:   name,
		parent: parent,
		deps:   uniqueDeps,
		start:  start,
		stop:   stop,
		status: statusRegistered,
	}
	return nil
}

// StartAll запускает все зарегистрированные узлы (кроме root) с учётом зависимостей.
// Имена сортируются по алфавиту для стабильных логов; фактический порядок
// фиксируется в startOrder после рекурсивного старта родителей/зависимостей.
// Возвращает объединённую ошибку, если какие-то узлы не стартовали.
func (m *Manager) StartAll() error {
	m.mu.Lock()
	names := make([]string, 0, len(m.nodes))
	for name := range m.nodes {
		if name != rootName {
			names = append(names, name)
		}
	}
	m.mu.Unlock()

	slices.Sort(names)

	var errs error
	for _, name := range names {
		if err := m.startNode(name); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	logger.Debugf("lifecycle start order: %v", m.startOrder)
	return errs
}

// startNode рекурсивно запускает узел: гарантирует запуск родителя и всех deps,
// создаёт дочерний контекст и вызывает StartFunc. Повторный вход в Starting
// трактуется как цикл зависимостей.
func (m *Manager) startNode(name string) error {
	m.mu.Lock()
	n, exists := m.nodes[name]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("lifecycle: node %q not registered", name)
	}

	switch n.status { //nolint:exhaustive // остальные состояния проваливаются в запуск
	case statusRunning:
		m.mu.Unlock()
		return nil
	case statusStarting:
		m.mu.Unlock()
		return fmt.Errorf("lifecycle: detected cycle while starting %q", name)
	}
	n.status = statusStarting
	m.mu.Unlock()

	logger.Debugf("starting node %s", name)

	if n.parent != "" {
		if err := m.startNode(n.parent); err != nil {
			m.setNodeFailed(name, err)
			return err
		}
	}
	for _, dep := range n.deps {
		if err := m.startNode(dep); err != nil {
			m.setNodeFailed(name, err)
			return err
		}
	}

	parentCtx, err := m.nodeContext(n.parent)
	if err != nil {
		m.setNodeFailed(name, err)
		return err
	}

	childCtx, cancel := context.WithCancel(parentCtx)
	if n.start != nil {
		if errStart := n.start(childCtx); errStart != nil {
			cancel()
			m.setNodeFailed(name, errStart)
			logger.Errorf("failed to start node %s: %v", name, errStart)
			return errStart
		}
	}

	m.mu.Lock()
	n.ctx = childCtx
	n.cancel = cancel
	n.status = statusRunning
	n.err = nil
	// Фиксируем порядок запуска, исключая дубликаты (узел мог подняться как зависимость).
	if !slices.Contains(m.startOrder, name) {
		m.startOrder = append(m.startOrder, name)
	}
	m.mu.Unlock()

	logger.Debugf("node %s is running", name)
	return nil
}

// nodeContext возвращает контекст узла либо ошибку, если узел не найден
// или ещё не получил контекст (не стартовал).
func (m *Manager) nodeContext(name string) (context.Context, error) {
	if name == "" {
		name = rootName
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.nodes[name]
	if !ok {
		return nil, fmt.Errorf("node %q not registered", name)
	}
	if n.ctx == nil {
		return nil, fmt.Errorf("node %q has no context", name)
	}
	return n.ctx, nil
}

// Shutdown останавливает все запущенные узлы в порядке, обратном фактическому
// старту: дочерние узлы гаснут раньше родителей. Возвращает объединённую
// ошибку, если какие-то stop-хуки отработали с ошибкой.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	order := append([]string(nil), m.startOrder...)
	m.mu.Unlock()
	logger.Debugf("shutdown order: %v", order)

	var errs error
	for i := len(order) - 1; i >= 0; i-- {
		if err := m.stopNode(order[i]); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	return errs
}

// stopNode останавливает узел в состоянии Running: отменяет контекст, вызывает StopFunc
// и переводит состояние в Stopped/Failed в зависимости от результата.
func (m *Manager) stopNode(name string) error {
	m.mu.Lock()
	n, exists := m.nodes[name]
	if !exists || n.status != statusRunning {
		m.mu.Unlock()
		return nil
	}
	n.status = statusStopping
	cancel := n.cancel
	stopFn := n.stop
	nodeCtx := n.ctx
	m.mu.Unlock()

	logger.Debugf("stopping node %s", name)

	// Сначала отменяем контекст — корректный сигнал для фоновых горутин узла.
	if cancel != nil {
		cancel()
	}

	var err error
	if stopFn != nil {
		err = stopFn(nodeCtx)
	}

	m.mu.Lock()
	if err != nil {
		n.status = statusFailed
		n.err = err
	} else {
		n.status = statusStopped
		n.err = nil
	}
	m.mu.Unlock()

	if err != nil {
		logger.Errorf("node %s stopped with error: %v", name, err)
	} else {
		logger.Debugf("node %s stopped", name)
	}
	return err
}

// setNodeFailed помечает узел как Failed и сохраняет ошибку под мьютексом.
func (m *Manager) setNodeFailed(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n, ok := m.nodes[name]; ok {
		n.status = statusFailed
		n.err = err
	}
}
