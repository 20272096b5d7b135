// Package cache хранит текущую страницу заказов торговой точки.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/mmeshcher/outlet-console/internal/metrics"
	"github.com/mmeshcher/outlet-console/internal/model"
	"github.com/mmeshcher/outlet-console/internal/normalize"
)

// ErrInvalidParams возвращается при некорректных параметрах загрузки.
var ErrInvalidParams = errors.New("invalid load parameters")

// Fetcher описывает источник страниц заказов.
type Fetcher interface {
	FetchOrders(ctx context.Context, outletID string, page, pageSize int) (normalize.RawPage, error)
}

// Params — параметры загрузки страницы.
type Params struct {
	OutletID string
	Page     int
	PageSize int
}

func (p Params) key() string {
	return fmt.Sprintf("%s/%d/%d", p.OutletID, p.Page, p.PageSize)
}

func (p Params) validate() error {
	if p.OutletID == "" {
		return fmt.Errorf("%w: outlet is required", ErrInvalidParams)
	}
	if p.Page < 1 {
		return fmt.Errorf("%w: page must be at least 1, got %d", ErrInvalidParams, p.Page)
	}
	if p.PageSize < 1 {
		return fmt.Errorf("%w: page size must be positive, got %d", ErrInvalidParams, p.PageSize)
	}
	return nil
}

// State — модель чтения кэша для отображения.
type State struct {
	Page    model.CachePage
	Params  Params
	Loading bool
	Err     error
}

// Cache хранит последнюю применённую страницу заказов.
// Каждый запрос получает порядковый номер; ответ применяется, только если его запрос
// остаётся последним. При ошибке предыдущая страница сохраняется.
type Cache struct {
	fetcher    Fetcher
	normalizer *normalize.Normalizer
	logger     *zap.Logger
	metrics    *metrics.ConsoleMetrics
	group      singleflight.Group

	mu        sync.Mutex
	seq       uint64
	page      model.CachePage
	params    Params
	loaded    bool
	loading   bool
	err       error
	listeners []func(model.CachePage)
}

// New создаёт пустой кэш.
func New(fetcher Fetcher, normalizer *normalize.Normalizer, logger *zap.Logger, m *metrics.ConsoleMetrics) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		fetcher:    fetcher,
		normalizer: normalizer,
		logger:     logger,
		metrics:    m,
	}
}

// OnChange регистрирует обработчик, вызываемый синхронно после каждого применения страницы.
// Обработчик не должен обращаться к кэшу.
func (c *Cache) OnChange(fn func(model.CachePage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Load загружает страницу заказов. Одинаковые одновременные запросы выполняются одним
// обращением к серверу. Если за время запроса был отправлен более новый, ответ отбрасывается,
// а вызывающий получает текущую страницу и model.ErrSuperseded.
func (c *Cache) Load(ctx context.Context, outletID string, page, pageSize int) (model.CachePage, error) {
	return c.load(ctx, Params{OutletID: outletID, Page: page, PageSize: pageSize}, false)
}

// RefetchCurrent повторяет последнюю успешную загрузку, не присоединяясь к уже идущему запросу.
func (c *Cache) RefetchCurrent(ctx context.Context) (model.CachePage, error) {
	c.mu.Lock()
	if !c.loaded {
		c.mu.Unlock()
		return model.CachePage{}, fmt.Errorf("%w: nothing has been loaded yet", model.ErrNotFound)
	}
	p := c.params
	c.mu.Unlock()

	return c.load(ctx, p, true)
}

func (c *Cache) load(ctx context.Context, p Params, fresh bool) (model.CachePage, error) {
	if err := p.validate(); err != nil {
		return model.CachePage{}, err
	}

	c.mu.Lock()
	c.seq++
	seq := c.seq
	c.loading = true
	c.mu.Unlock()

	key := p.key()
	if fresh {
		c.group.Forget(key)
	}

	// Общий запрос не зависит от отмены контекста отдельного вызывающего,
	// его длительность ограничивает таймаут транспорта.
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		return c.fetch(fetchCtx, p)
	})

	var (
		v   any
		err error
	)
	select {
	case res := <-ch:
		v, err = res.Val, res.Err
	case <-ctx.Done():
		return c.abandon(seq, p, ctx.Err())
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if seq != c.seq {
		c.metrics.RecordCacheLoad(metrics.LoadSuperseded)
		c.logger.Debug("discarding superseded page",
			zap.String("outlet", p.OutletID), zap.Int("page", p.Page), zap.Uint64("seq", seq))
		return c.page, model.ErrSuperseded
	}

	c.loading = false

	if err != nil {
		c.err = err
		c.metrics.RecordCacheLoad(metrics.LoadFailed)
		c.logger.Warn("load orders error",
			zap.Error(err), zap.String("outlet", p.OutletID), zap.Int("page", p.Page))
		return c.page, err
	}

	page := v.(model.CachePage)
	c.page = page
	c.params = p
	c.loaded = true
	c.err = nil
	c.metrics.RecordCacheLoad(metrics.LoadApplied)

	for _, fn := range c.listeners {
		fn(page)
	}

	return page, nil
}

// abandon завершает вызов, контекст которого отменён. Ошибка отмены не попадает в модель чтения.
func (c *Cache) abandon(seq uint64, p Params, cause error) (model.CachePage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if seq == c.seq {
		c.loading = false
	}
	c.logger.Debug("load orders abandoned by caller",
		zap.String("outlet", p.OutletID), zap.Int("page", p.Page), zap.Error(cause))

	return c.page, fmt.Errorf("load orders: %w", cause)
}

func (c *Cache) fetch(ctx context.Context, p Params) (model.CachePage, error) {
	raw, err := c.fetcher.FetchOrders(ctx, p.OutletID, p.Page, p.PageSize)
	if err != nil {
		return model.CachePage{}, fmt.Errorf("fetch orders: %w", err)
	}

	page, err := c.normalizer.Page(raw, p.OutletID, p.Page, p.PageSize)
	if err != nil {
		return model.CachePage{}, fmt.Errorf("normalize orders: %w", err)
	}

	for _, o := range page.Orders {
		if len(o.Anomalies) > 0 {
			c.logger.Warn("order data anomaly",
				zap.String("outlet", p.OutletID), zap.String("order", o.ID), zap.Strings("anomalies", o.Anomalies))
		}
	}

	return page, nil
}

// State возвращает снимок модели чтения.
func (c *Cache) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return State{
		Page:    c.page,
		Params:  c.params,
		Loading: c.loading,
		Err:     c.err,
	}
}

// Current возвращает параметры последней применённой страницы.
func (c *Cache) Current() (Params, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params, c.loaded
}
