// Package transition проверяет и выполняет смену статуса заказа.
package transition

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/outlet-console/internal/gate"
	"github.com/mmeshcher/outlet-console/internal/metrics"
	"github.com/mmeshcher/outlet-console/internal/model"
	"github.com/mmeshcher/outlet-console/internal/normalize"
	"github.com/mmeshcher/outlet-console/internal/validation"
)

// Authority описывает внешний сервер, которому принадлежат заказы.
type Authority interface {
	FetchOrderByID(ctx context.Context, outletID, orderID string) (normalize.RawOrder, error)
	MutateOrderStatus(ctx context.Context, m model.StatusMutation) error
}

// Lookup ищет заказ среди уже загруженных.
type Lookup interface {
	FindExact(id string) (model.Order, error)
}

// Refresher перезагружает текущую страницу после подтверждённой смены статуса.
type Refresher interface {
	RefetchCurrent(ctx context.Context) (model.CachePage, error)
}

// Recorder сохраняет журнал попыток смены статуса.
type Recorder interface {
	Record(ctx context.Context, rec model.TransitionRecord) error
}

// Deps — зависимости Engine. Recorder, Logger и Metrics необязательны.
type Deps struct {
	Authority  Authority
	Lookup     Lookup
	Refresher  Refresher
	Gate       *gate.Gate
	Normalizer *normalize.Normalizer
	Policy     Policy
	Recorder   Recorder
	Logger     *zap.Logger
	Metrics    *metrics.ConsoleMetrics
}

// Request — запрос на смену статуса одного заказа.
type Request struct {
	OutletID string
	OrderID  string
	Target   model.OrderStatus
	// ItemIDs ограничивает смену статуса частью позиций. Пустой список означает весь заказ.
	ItemIDs []string
	Actor   model.Identity
}

// Result описывает подтверждённую смену статуса.
type Result struct {
	RequestID string
	OrderID   string
	From      model.OrderStatus
	To        model.OrderStatus
	ItemIDs   []string
	// Order — заказ после перезагрузки страницы, если он на ней есть.
	Order *model.Order
	// RefetchErr — ошибка перезагрузки страницы. Сама смена статуса при этом подтверждена.
	RefetchErr error
}

// Engine выполняет смену статусов. Для одного заказа одновременно выполняется не более одного запроса.
type Engine struct {
	authority  Authority
	lookup     Lookup
	refresher  Refresher
	gate       *gate.Gate
	normalizer *normalize.Normalizer
	policy     Policy
	recorder   Recorder
	logger     *zap.Logger
	metrics    *metrics.ConsoleMetrics
	now        func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewEngine создаёт Engine.
func NewEngine(d Deps) *Engine {
	if d.Policy == nil {
		d.Policy = DefaultPolicy()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Normalizer == nil {
		d.Normalizer = normalize.New(nil)
	}

	return &Engine{
		authority:  d.Authority,
		lookup:     d.Lookup,
		refresher:  d.Refresher,
		gate:       d.Gate,
		normalizer: d.Normalizer,
		policy:     d.Policy,
		recorder:   d.Recorder,
		logger:     d.Logger,
		metrics:    d.Metrics,
		now:        time.Now,
		inFlight:   make(map[string]struct{}),
	}
}

// Required возвращает право, необходимое для перехода в статус target.
func (e *Engine) Required(target model.OrderStatus) model.Capability {
	return e.policy.Required(target)
}

func (e *Engine) acquire(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, busy := e.inFlight[key]; busy {
		return false
	}
	e.inFlight[key] = struct{}{}
	return true
}

func (e *Engine) release(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inFlight, key)
}

// RequestTransition проверяет и выполняет смену статуса.
// Проверки идут в порядке: заказ существует, переход разрешён графом, право выдано,
// позиции принадлежат заказу. После подтверждения сервером перезагружается текущая страница;
// локальный заказ напрямую не изменяется. При любой ошибке статус в кэше остаётся прежним.
func (e *Engine) RequestTransition(ctx context.Context, req Request) (*Result, error) {
	start := e.now()
	orderID := validation.NormalizeOrderID(req.OrderID)
	itemIDs := normalizeItemIDs(req.ItemIDs)

	rec := model.TransitionRecord{
		RequestID: uuid.NewString(),
		ActorID:   req.Actor.ID,
		OutletID:  req.OutletID,
		OrderID:   orderID,
		ToStatus:  req.Target,
		ItemIDs:   itemIDs,
	}

	res, err := e.run(ctx, req, orderID, itemIDs, &rec)

	rec.Outcome = "ok"
	if err != nil {
		rec.Outcome = model.Kind(err)
		rec.Message = err.Error()
	}
	rec.CreatedAt = e.now()

	e.metrics.RecordTransition(rec.Outcome, e.now().Sub(start))
	e.record(ctx, rec)

	if err != nil {
		e.logger.Info("order transition rejected",
			zap.String("order", orderID), zap.String("target", string(req.Target)),
			zap.String("kind", rec.Outcome), zap.Error(err))
		return nil, err
	}

	e.logger.Info("order transition confirmed",
		zap.String("order", orderID), zap.String("from", string(res.From)), zap.String("to", string(res.To)),
		zap.String("request_id", res.RequestID))

	return res, nil
}

func (e *Engine) run(ctx context.Context, req Request, orderID string, itemIDs []string, rec *model.TransitionRecord) (*Result, error) {
	if !validation.IsValidOrderID(orderID) {
		return nil, fmt.Errorf("%w: order %q", model.ErrNotFound, req.OrderID)
	}

	key := req.OutletID + "/" + orderID
	if !e.acquire(key) {
		return nil, fmt.Errorf("%w: order %s", model.ErrAlreadyInProgress, orderID)
	}
	defer e.release(key)

	order, err := e.resolve(ctx, req.OutletID, orderID)
	if err != nil {
		return nil, err
	}
	rec.OutletID = order.OutletID
	rec.FromStatus = order.Status

	if err := ValidateTransition(order.Status, req.Target); err != nil {
		return nil, err
	}

	mutation := model.StatusMutation{
		RequestID: rec.RequestID,
		OrderID:   order.ID,
		OutletID:  order.OutletID,
		Status:    req.Target,
		ItemIDs:   itemIDs,
	}

	err = e.gate.Authorize(e.policy.Required(req.Target), gate.PresentationDisabled, func() error {
		for _, id := range itemIDs {
			if !order.HasItem(id) {
				return fmt.Errorf("%w: item %q does not belong to order %s", model.ErrUnknownItem, id, order.ID)
			}
		}

		if err := e.authority.MutateOrderStatus(ctx, mutation); err != nil {
			return fmt.Errorf("mutate order status: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	res := &Result{
		RequestID: rec.RequestID,
		OrderID:   order.ID,
		From:      order.Status,
		To:        req.Target,
		ItemIDs:   itemIDs,
	}

	page, err := e.refresher.RefetchCurrent(ctx)
	if err != nil {
		res.RefetchErr = err
		if !errors.Is(err, model.ErrSuperseded) {
			e.logger.Warn("refetch after transition error", zap.String("order", order.ID), zap.Error(err))
		}
		return res, nil
	}

	for i := range page.Orders {
		if page.Orders[i].ID == order.ID {
			o := page.Orders[i]
			res.Order = &o
			break
		}
	}

	return res, nil
}

// resolve ищет заказ в индексе текущей страницы, а если его там нет — запрашивает у сервера.
func (e *Engine) resolve(ctx context.Context, outletID, orderID string) (model.Order, error) {
	if e.lookup != nil {
		o, err := e.lookup.FindExact(orderID)
		if err == nil && (outletID == "" || o.OutletID == outletID) {
			return o, nil
		}
	}

	if outletID == "" {
		return model.Order{}, fmt.Errorf("%w: order %s is not loaded and no outlet is selected", model.ErrNotFound, orderID)
	}

	raw, err := e.authority.FetchOrderByID(ctx, outletID, orderID)
	if err != nil {
		return model.Order{}, fmt.Errorf("fetch order %s: %w", orderID, err)
	}

	o, err := e.normalizer.Order(raw)
	if err != nil {
		return model.Order{}, err
	}
	if o.OutletID == "" {
		o.OutletID = outletID
	}

	return o, nil
}

func (e *Engine) record(ctx context.Context, rec model.TransitionRecord) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.Record(context.WithoutCancel(ctx), rec); err != nil {
		e.logger.Error("record transition error", zap.String("order", rec.OrderID), zap.Error(err))
	}
}

func normalizeItemIDs(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}

	res := make([]string, 0, len(ids))
	for _, id := range ids {
		res = append(res, strings.TrimSpace(id))
	}
	return res
}
