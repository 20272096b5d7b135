// Package service связывает сессию, кэш заказов, поиск и смену статусов в консоль сотрудника.
package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/outlet-console/internal/cache"
	"github.com/mmeshcher/outlet-console/internal/gate"
	"github.com/mmeshcher/outlet-console/internal/metrics"
	"github.com/mmeshcher/outlet-console/internal/model"
	"github.com/mmeshcher/outlet-console/internal/normalize"
	"github.com/mmeshcher/outlet-console/internal/search"
	"github.com/mmeshcher/outlet-console/internal/session"
	"github.com/mmeshcher/outlet-console/internal/transition"
)

// DefaultPageSize используется, если размер страницы не задан.
const DefaultPageSize = 20

// DefaultIdleTimeout используется, если время бездействия сессии не задано.
const DefaultIdleTimeout = 12 * time.Hour

// Client описывает сервер заказов и аутентификации.
type Client interface {
	FetchOrders(ctx context.Context, token, outletID string, page, pageSize int) (normalize.RawPage, error)
	FetchOrderByID(ctx context.Context, token, outletID, orderID string) (normalize.RawOrder, error)
	MutateOrderStatus(ctx context.Context, token string, m model.StatusMutation) error
	SignIn(ctx context.Context, creds model.Credentials) (model.Grant, error)
	CheckSession(ctx context.Context, token string) (model.Grant, error)
}

// Journal хранит историю попыток смены статуса.
type Journal interface {
	Record(ctx context.Context, rec model.TransitionRecord) error
	List(ctx context.Context, outletID, orderID string) ([]model.TransitionRecord, error)
}

// Options — общие настройки консолей.
type Options struct {
	PageSize int
	// IdleTimeout — время бездействия, после которого менеджер закрывает сессию.
	IdleTimeout time.Duration
	Location *time.Location
	Policy   transition.Policy
	Journal  Journal
	Logger   *zap.Logger
	Metrics  *metrics.ConsoleMetrics
}

// Console — рабочее место одного сотрудника.
type Console struct {
	store    *session.Store
	gate     *gate.Gate
	cache    *cache.Cache
	index    atomic.Pointer[search.Index]
	engine   *transition.Engine
	journal  Journal
	pageSize int
}

// NewConsole создаёт консоль без активной сессии.
func NewConsole(client Client, opts Options) *Console {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}

	c := &Console{
		store:    session.NewStore(client),
		journal:  opts.Journal,
		pageSize: opts.PageSize,
	}
	c.gate = gate.New(c.store)
	c.index.Store(search.Build(model.CachePage{}))

	bound := &boundClient{client: client, store: c.store}
	normalizer := normalize.New(opts.Location)

	c.cache = cache.New(bound, normalizer, opts.Logger, opts.Metrics)
	c.cache.OnChange(func(page model.CachePage) {
		c.index.Store(search.Build(page))
	})

	deps := transition.Deps{
		Authority:  bound,
		Lookup:     c,
		Refresher:  c.cache,
		Gate:       c.gate,
		Normalizer: normalizer,
		Policy:     opts.Policy,
		Logger:     opts.Logger,
		Metrics:    opts.Metrics,
	}
	if opts.Journal != nil {
		deps.Recorder = opts.Journal
	}
	c.engine = transition.NewEngine(deps)

	return c
}

// SignIn выполняет вход сотрудника.
func (c *Console) SignIn(ctx context.Context, creds model.Credentials) (*model.Session, error) {
	return c.store.SignIn(ctx, creds)
}

// Refresh обновляет права сотрудника.
func (c *Console) Refresh(ctx context.Context) (*model.Session, error) {
	return c.store.Refresh(ctx)
}

// Session возвращает текущую сессию или nil.
func (c *Console) Session() *model.Session {
	return c.store.Snapshot()
}

// HasCapability сообщает, выдано ли право.
func (c *Console) HasCapability(tag model.Capability) bool {
	return c.store.HasCapability(tag)
}

// Check проверяет право и возвращает отказ в заданном виде отображения.
func (c *Console) Check(tag model.Capability, presentation gate.Presentation) *gate.DeniedResult {
	return c.gate.Check(tag, presentation)
}

// Load загружает страницу заказов. pageSize <= 0 означает размер по умолчанию.
func (c *Console) Load(ctx context.Context, outletID string, page, pageSize int) (model.CachePage, error) {
	if pageSize <= 0 {
		pageSize = c.pageSize
	}
	return c.cache.Load(ctx, outletID, page, pageSize)
}

// RefetchCurrent перезагружает текущую страницу.
func (c *Console) RefetchCurrent(ctx context.Context) (model.CachePage, error) {
	return c.cache.RefetchCurrent(ctx)
}

// State возвращает модель чтения кэша.
func (c *Console) State() cache.State {
	return c.cache.State()
}

// FindExact ищет заказ на текущей странице по идентификатору.
func (c *Console) FindExact(id string) (model.Order, error) {
	return c.index.Load().FindExact(id)
}

// Search фильтрует текущую страницу по идентификатору или имени клиента.
func (c *Console) Search(query string) []model.Order {
	return c.index.Load().Filter(query)
}

// RequestTransition меняет статус заказа текущей торговой точки.
func (c *Console) RequestTransition(ctx context.Context, orderID string, target model.OrderStatus, itemIDs []string) (*transition.Result, error) {
	params, _ := c.cache.Current()

	var actor model.Identity
	if sess := c.store.Snapshot(); sess != nil {
		actor = sess.Identity
	}

	return c.engine.RequestTransition(ctx, transition.Request{
		OutletID: params.OutletID,
		OrderID:  orderID,
		Target:   target,
		ItemIDs:  itemIDs,
		Actor:    actor,
	})
}

// AvailableTransitions возвращает статусы, в которые заказ можно перевести сейчас,
// с учётом графа переходов и прав сотрудника.
func (c *Console) AvailableTransitions(orderID string) ([]model.OrderStatus, error) {
	o, err := c.FindExact(orderID)
	if err != nil {
		return nil, err
	}

	var res []model.OrderStatus
	for _, next := range transition.Next(o.Status) {
		if c.gate.Check(c.engine.Required(next), gate.PresentationDisabled) == nil {
			res = append(res, next)
		}
	}
	return res, nil
}

// History возвращает журнал попыток смены статуса заказа текущей торговой точки.
func (c *Console) History(ctx context.Context, orderID string) ([]model.TransitionRecord, error) {
	if c.journal == nil {
		return nil, nil
	}

	params, ok := c.cache.Current()
	if !ok {
		return nil, fmt.Errorf("%w: no outlet is loaded", model.ErrNotFound)
	}

	return c.journal.List(ctx, params.OutletID, orderID)
}

// Close завершает сессию сотрудника.
func (c *Console) Close() {
	c.store.Clear()
}

// boundClient подставляет учётные данные текущей сессии в запросы к серверу.
type boundClient struct {
	client Client
	store  *session.Store
}

func (b *boundClient) FetchOrders(ctx context.Context, outletID string, page, pageSize int) (normalize.RawPage, error) {
	token, err := b.store.Token()
	if err != nil {
		return normalize.RawPage{}, err
	}
	return b.client.FetchOrders(ctx, token, outletID, page, pageSize)
}

func (b *boundClient) FetchOrderByID(ctx context.Context, outletID, orderID string) (normalize.RawOrder, error) {
	token, err := b.store.Token()
	if err != nil {
		return normalize.RawOrder{}, err
	}
	return b.client.FetchOrderByID(ctx, token, outletID, orderID)
}

func (b *boundClient) MutateOrderStatus(ctx context.Context, m model.StatusMutation) error {
	token, err := b.store.Token()
	if err != nil {
		return err
	}
	return b.client.MutateOrderStatus(ctx, token, m)
}
