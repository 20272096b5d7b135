// Package normalize приводит заказы, полученные от сервера, к каноническому виду.
package normalize

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/outlet-console/internal/model"
)

// DisplayTimeLayout — формат времени заказа для отображения.
const DisplayTimeLayout = "02 Jan 2006 15:04"

// Normalizer приводит сырые заказы к model.Order. Не хранит состояния между вызовами.
type Normalizer struct {
	validate *validator.Validate
	location *time.Location
}

// New создаёт нормализатор. Время для отображения переводится в loc; nil означает UTC.
func New(loc *time.Location) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	return &Normalizer{
		validate: validator.New(),
		location: loc,
	}
}

// Order приводит сырой заказ к каноническому виду.
// Неизвестный статус не считается ошибкой: заказ получает OrderStatusUnknown и отметку в Anomalies.
func (n *Normalizer) Order(raw RawOrder) (model.Order, error) {
	if err := n.validate.Struct(raw); err != nil {
		return model.Order{}, fmt.Errorf("%w: order %q: %v", model.ErrMalformedResponse, raw.OrderID, err)
	}

	o := model.Order{
		ID:           string(raw.OrderID),
		OutletID:     string(raw.OutletID),
		CustomerName: strings.TrimSpace(raw.CustomerName),
		Channel:      model.Channel(strings.ToUpper(strings.TrimSpace(raw.Channel))),
		PaymentMode:  raw.PaymentMode,
		CreatedAt:    raw.CreatedAt,
		RawStatus:    raw.Status,
		Items:        make([]model.OrderItem, 0, len(raw.Items)),
	}

	status, ok := model.ParseOrderStatus(raw.Status)
	if !ok {
		o.Anomalies = append(o.Anomalies, fmt.Sprintf("unknown status %q", raw.Status))
	}
	o.Status = status

	switch o.Channel {
	case model.ChannelApp, model.ChannelManual:
	default:
		o.Anomalies = append(o.Anomalies, fmt.Sprintf("unknown channel %q", raw.Channel))
	}

	if !raw.CreatedAt.IsZero() {
		o.DisplayTime = raw.CreatedAt.In(n.location).Format(DisplayTimeLayout)
	}

	total := decimal.Zero
	for _, ri := range raw.Items {
		if ri.UnitPrice.IsNegative() {
			return model.Order{}, fmt.Errorf("%w: order %q: item %q has negative unit price",
				model.ErrMalformedResponse, raw.OrderID, ri.ItemID)
		}

		item := model.OrderItem{
			ID:        string(ri.ItemID),
			Name:      ri.Name,
			Quantity:  ri.Quantity,
			UnitPrice: ri.UnitPrice,
		}

		if ri.Status != "" {
			s, ok := model.ParseOrderStatus(ri.Status)
			if !ok {
				o.Anomalies = append(o.Anomalies, fmt.Sprintf("item %q has unknown status %q", ri.ItemID, ri.Status))
			}
			item.Status = &s
		}

		o.Items = append(o.Items, item)
		o.ItemCount += item.Quantity
		total = total.Add(item.LineTotal())
	}
	o.Total = total

	if raw.Total != nil && !raw.Total.Equal(total) {
		o.Anomalies = append(o.Anomalies,
			fmt.Sprintf("backend total %s differs from items sum %s", raw.Total.String(), total.String()))
	}

	return o, nil
}

// Page приводит ответ сервера к странице кэша и проверяет её согласованность.
// Заказы остаются в том порядке, в котором их вернул сервер.
func (n *Normalizer) Page(raw RawPage, outletID string, page, pageSize int) (model.CachePage, error) {
	if pageSize <= 0 {
		return model.CachePage{}, fmt.Errorf("page size must be positive, got %d", pageSize)
	}

	if len(raw.Orders) > pageSize {
		return model.CachePage{}, fmt.Errorf("%w: %d orders exceed page size %d",
			model.ErrMalformedResponse, len(raw.Orders), pageSize)
	}

	if raw.Total < 0 {
		return model.CachePage{}, fmt.Errorf("%w: negative total %d", model.ErrMalformedResponse, raw.Total)
	}

	current := page
	if raw.CurrentPage > 0 {
		current = raw.CurrentPage
	}

	if len(raw.Orders) > 0 && (current-1)*pageSize+len(raw.Orders) > raw.Total {
		return model.CachePage{}, fmt.Errorf("%w: page %d of size %d is inconsistent with total %d",
			model.ErrMalformedResponse, current, pageSize, raw.Total)
	}

	res := model.CachePage{
		OutletID: outletID,
		Orders:   make([]model.Order, 0, len(raw.Orders)),
		Page:     current,
		PageSize: pageSize,
		Total:    raw.Total,
	}

	for _, ro := range raw.Orders {
		o, err := n.Order(ro)
		if err != nil {
			return model.CachePage{}, err
		}

		if o.OutletID == "" {
			o.OutletID = outletID
		} else if o.OutletID != outletID {
			return model.CachePage{}, fmt.Errorf("%w: order %q belongs to outlet %q, requested %q",
				model.ErrMalformedResponse, o.ID, o.OutletID, outletID)
		}

		res.Orders = append(res.Orders, o)
	}

	return res, nil
}
