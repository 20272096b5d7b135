package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/outlet-console/internal/cache"
	"github.com/mmeshcher/outlet-console/internal/gate"
	"github.com/mmeshcher/outlet-console/internal/model"
	"github.com/mmeshcher/outlet-console/internal/transition"
)

// Manager хранит консоли вошедших сотрудников по идентификатору сессии.
type Manager struct {
	client Client
	opts   Options
	logger *zap.Logger
	now    func() time.Time

	mu       sync.RWMutex
	consoles map[string]*entry
}

type entry struct {
	console  *Console
	lastUsed atomic.Int64
}

func (e *entry) touch(t time.Time) {
	e.lastUsed.Store(t.UnixNano())
}

func (e *entry) idle(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, e.lastUsed.Load()))
}

// NewManager создаёт менеджер сессий.
func NewManager(client Client, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}

	return &Manager{
		client:   client,
		opts:     opts,
		logger:   opts.Logger,
		now:      time.Now,
		consoles: make(map[string]*entry),
	}
}

// Open выполняет вход и возвращает идентификатор новой сессии.
func (m *Manager) Open(ctx context.Context, creds model.Credentials) (string, *model.Session, error) {
	c := NewConsole(m.client, m.opts)

	sess, err := c.SignIn(ctx, creds)
	if err != nil {
		return "", nil, err
	}

	id := uuid.NewString()
	e := &entry{console: c}
	e.touch(m.now())

	m.mu.Lock()
	m.consoles[id] = e
	m.mu.Unlock()

	m.opts.Metrics.SessionOpened()
	m.logger.Info("staff session opened", zap.String("session", id), zap.String("staff", sess.Identity.ID))

	return id, sess, nil
}

func (m *Manager) lookup(id string) (*entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.consoles[id]
	return e, ok
}

// Get возвращает консоль сессии и отмечает её использование.
func (m *Manager) Get(id string) (*Console, error) {
	e, ok := m.lookup(id)
	if !ok {
		return nil, model.ErrNoSession
	}

	e.touch(m.now())
	return e.console, nil
}

// Close завершает сессию. Повторный вызов возвращает model.ErrNoSession.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	e, ok := m.consoles[id]
	delete(m.consoles, id)
	m.mu.Unlock()

	if !ok {
		return model.ErrNoSession
	}

	e.console.Close()
	m.opts.Metrics.SessionClosed()
	m.logger.Info("staff session closed", zap.String("session", id))

	return nil
}

// Len возвращает число открытых сессий.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.consoles)
}

// Refresh обновляет права сотрудника. Если сервер сообщает, что сессии больше нет, она закрывается.
func (m *Manager) Refresh(ctx context.Context, id string) (*model.Session, error) {
	c, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return m.refresh(ctx, id, c)
}

func (m *Manager) refresh(ctx context.Context, id string, c *Console) (*model.Session, error) {
	sess, err := c.Refresh(ctx)
	if errors.Is(err, model.ErrNoSession) {
		_ = m.Close(id)
	}
	return sess, err
}

// Session возвращает снимок сессии.
func (m *Manager) Session(id string) (*model.Session, error) {
	c, err := m.Get(id)
	if err != nil {
		return nil, err
	}

	sess := c.Session()
	if sess == nil {
		return nil, model.ErrNoSession
	}
	return sess, nil
}

// Check проверяет право сотрудника.
func (m *Manager) Check(id string, tag model.Capability, presentation gate.Presentation) (*gate.DeniedResult, error) {
	c, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return c.Check(tag, presentation), nil
}

// Load загружает страницу заказов торговой точки.
func (m *Manager) Load(ctx context.Context, id, outletID string, page, pageSize int) (cache.State, error) {
	c, err := m.Get(id)
	if err != nil {
		return cache.State{}, err
	}

	_, err = c.Load(ctx, outletID, page, pageSize)
	return c.State(), err
}

// Refetch перезагружает текущую страницу.
func (m *Manager) Refetch(ctx context.Context, id string) (cache.State, error) {
	c, err := m.Get(id)
	if err != nil {
		return cache.State{}, err
	}

	_, err = c.RefetchCurrent(ctx)
	return c.State(), err
}

// State возвращает модель чтения кэша.
func (m *Manager) State(id string) (cache.State, error) {
	c, err := m.Get(id)
	if err != nil {
		return cache.State{}, err
	}
	return c.State(), nil
}

// Search фильтрует текущую страницу.
func (m *Manager) Search(id, query string) ([]model.Order, error) {
	c, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return c.Search(query), nil
}

// Lookup ищет заказ на текущей странице.
func (m *Manager) Lookup(id, orderID string) (model.Order, error) {
	c, err := m.Get(id)
	if err != nil {
		return model.Order{}, err
	}
	return c.FindExact(orderID)
}

// RequestTransition меняет статус заказа.
func (m *Manager) RequestTransition(ctx context.Context, id, orderID string, target model.OrderStatus, itemIDs []string) (*transition.Result, error) {
	c, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return c.RequestTransition(ctx, orderID, target, itemIDs)
}

// AvailableTransitions возвращает статусы, доступные для заказа.
func (m *Manager) AvailableTransitions(id, orderID string) ([]model.OrderStatus, error) {
	c, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return c.AvailableTransitions(orderID)
}

// History возвращает журнал переходов заказа.
func (m *Manager) History(ctx context.Context, id, orderID string) ([]model.TransitionRecord, error) {
	c, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return c.History(ctx, orderID)
}

// CloseAll завершает все сессии.
func (m *Manager) CloseAll() {
	for _, id := range m.ids() {
		_ = m.Close(id)
	}
}

func (m *Manager) ids() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.consoles))
	for id := range m.consoles {
		ids = append(ids, id)
	}
	return ids
}

// StartSessionRefresh запускает фоновое обновление прав всех открытых сессий.
func (m *Manager) StartSessionRefresh(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.refreshAll(ctx)
			}
		}
	}()
}

func (m *Manager) refreshAll(ctx context.Context) {
	m.closeIdle()

	for _, id := range m.ids() {
		if ctx.Err() != nil {
			return
		}

		e, ok := m.lookup(id)
		if !ok {
			continue
		}

		if _, err := m.refresh(ctx, id, e.console); err != nil {
			m.logger.Warn("refresh staff session error", zap.String("session", id), zap.Error(err))
		}
	}
}

// closeIdle закрывает сессии, которыми не пользовались дольше IdleTimeout.
func (m *Manager) closeIdle() {
	now := m.now()

	for _, id := range m.ids() {
		e, ok := m.lookup(id)
		if !ok || e.idle(now) <= m.opts.IdleTimeout {
			continue
		}

		if err := m.Close(id); err == nil {
			m.logger.Info("idle staff session expired", zap.String("session", id))
		}
	}
}
