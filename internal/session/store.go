// Package session хранит сессию сотрудника и выданные ему права.
package session

import (
	"context"
	"fmt"
	"maps"
	"sync/atomic"
	"time"

	"github.com/mmeshcher/outlet-console/internal/model"
)

// Authenticator описывает внешний сервис аутентификации.
type Authenticator interface {
	SignIn(ctx context.Context, creds model.Credentials) (model.Grant, error)
	CheckSession(ctx context.Context, token string) (model.Grant, error)
}

// Store хранит текущий снимок сессии. Снимок заменяется целиком,
// поэтому читатели никогда не видят частично обновлённые права.
type Store struct {
	auth    Authenticator
	current atomic.Pointer[model.Session]
	version atomic.Uint64
	now     func() time.Time
}

// NewStore создаёт пустое хранилище сессии.
func NewStore(auth Authenticator) *Store {
	return &Store{
		auth: auth,
		now:  time.Now,
	}
}

// Establish заменяет сессию новой.
func (s *Store) Establish(identity model.Identity, token string, capabilities map[model.Capability]bool) *model.Session {
	sess := s.build(identity, token, capabilities)
	s.current.Store(sess)
	return sess
}

func (s *Store) build(identity model.Identity, token string, capabilities map[model.Capability]bool) *model.Session {
	caps := make(map[model.Capability]bool, len(capabilities))
	maps.Copy(caps, capabilities)

	return &model.Session{
		Identity:      identity,
		Token:         token,
		Capabilities:  caps,
		Version:       s.version.Add(1),
		EstablishedAt: s.now(),
	}
}

// Snapshot возвращает текущую сессию или nil, если сотрудник не вошёл.
func (s *Store) Snapshot() *model.Session {
	return s.current.Load()
}

// Token возвращает учётные данные текущей сессии.
func (s *Store) Token() (string, error) {
	sess := s.current.Load()
	if sess == nil {
		return "", model.ErrNoSession
	}
	return sess.Token, nil
}

// HasCapability сообщает, выдано ли право. Для неизвестного права и при отсутствии сессии возвращает false.
func (s *Store) HasCapability(tag model.Capability) bool {
	return s.current.Load().Granted(tag)
}

// Clear завершает сессию. Повторный вызов ничего не меняет.
func (s *Store) Clear() {
	s.current.Store(nil)
}

// SignIn выполняет вход. При ошибке хранилище остаётся пустым.
func (s *Store) SignIn(ctx context.Context, creds model.Credentials) (*model.Session, error) {
	grant, err := s.auth.SignIn(ctx, creds)
	if err != nil {
		s.Clear()
		return nil, fmt.Errorf("sign in: %w", err)
	}

	return s.Establish(grant.Identity, grant.Token, grant.Capabilities), nil
}

// Refresh запрашивает актуальные права у сервиса аутентификации.
// При ошибке предыдущая сессия сохраняется, а ошибка возвращается вызывающему.
func (s *Store) Refresh(ctx context.Context) (*model.Session, error) {
	prev := s.current.Load()
	if prev == nil {
		return nil, model.ErrNoSession
	}

	grant, err := s.auth.CheckSession(ctx, prev.Token)
	if err != nil {
		return prev, fmt.Errorf("refresh session: %w", err)
	}

	token := grant.Token
	if token == "" {
		token = prev.Token
	}
	identity := grant.Identity
	if identity == (model.Identity{}) {
		identity = prev.Identity
	}

	next := s.build(identity, token, grant.Capabilities)
	if !s.current.CompareAndSwap(prev, next) {
		cur := s.current.Load()
		if cur == nil {
			return nil, model.ErrNoSession
		}
		return cur, nil
	}

	return next, nil
}
