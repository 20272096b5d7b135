// Package model содержит доменные сущности консоли персонала торговой точки.
package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает статус заказа.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusPreparing OrderStatus = "PREPARING"
	OrderStatusCompleted OrderStatus = "COMPLETED"
	OrderStatusDelivered OrderStatus = "DELIVERED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	// OrderStatusUnknown присваивается заказам, статус которых не распознан.
	OrderStatusUnknown OrderStatus = "UNKNOWN"
)

// ParseOrderStatus переводит строку в статус заказа без учёта регистра.
// Второе значение равно false, если строка не соответствует ни одному известному статусу.
func ParseOrderStatus(s string) (OrderStatus, bool) {
	switch OrderStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case OrderStatusPending:
		return OrderStatusPending, true
	case OrderStatusPreparing:
		return OrderStatusPreparing, true
	case OrderStatusCompleted:
		return OrderStatusCompleted, true
	case OrderStatusDelivered:
		return OrderStatusDelivered, true
	case OrderStatusCancelled:
		return OrderStatusCancelled, true
	default:
		return OrderStatusUnknown, false
	}
}

// Terminal сообщает, является ли статус конечным.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusDelivered, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// Channel описывает источник заказа.
type Channel string

const (
	ChannelApp    Channel = "APP"
	ChannelManual Channel = "MANUAL"
)

// OrderItem описывает одну позицию заказа.
type OrderItem struct {
	ID        string
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal

	// Status заполнен только для позиций, которые отслеживаются отдельно.
	Status *OrderStatus
}

// LineTotal возвращает стоимость позиции.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Order описывает заказ в каноническом виде.
type Order struct {
	ID           string
	OutletID     string
	CustomerName string
	Items        []OrderItem
	Status       OrderStatus
	Channel      Channel
	PaymentMode  string
	CreatedAt    time.Time

	// RawStatus хранит исходное значение статуса от сервера.
	RawStatus string

	DisplayTime string
	ItemCount   int
	Total       decimal.Decimal

	// Anomalies перечисляет расхождения в данных, найденные при нормализации.
	Anomalies []string
}

// HasItem сообщает, принадлежит ли позиция заказу.
func (o Order) HasItem(itemID string) bool {
	for _, it := range o.Items {
		if it.ID == itemID {
			return true
		}
	}
	return false
}

// CachePage описывает загруженную страницу заказов.
type CachePage struct {
	OutletID string
	Orders   []Order
	Page     int
	PageSize int
	Total    int
}

// Empty сообщает, загружалась ли страница вообще.
func (p CachePage) Empty() bool {
	return p.OutletID == "" && len(p.Orders) == 0
}
