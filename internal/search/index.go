// Package search строит индекс точного поиска и фильтр по текущей странице заказов.
package search

import (
	"fmt"
	"strings"

	"github.com/mmeshcher/outlet-console/internal/model"
	"github.com/mmeshcher/outlet-console/internal/validation"
)

// Index — неизменяемая проекция страницы кэша. Пересобирается целиком при каждом изменении страницы.
type Index struct {
	orders []model.Order
	byID   map[string]int
	ids    []string
	names  []string
}

// Build строит индекс за один проход по странице.
func Build(page model.CachePage) *Index {
	idx := &Index{
		orders: page.Orders,
		byID:   make(map[string]int, len(page.Orders)),
		ids:    make([]string, len(page.Orders)),
		names:  make([]string, len(page.Orders)),
	}

	for i, o := range page.Orders {
		if _, dup := idx.byID[o.ID]; !dup {
			idx.byID[o.ID] = i
		}
		idx.ids[i] = strings.ToLower(o.ID)
		idx.names[i] = strings.ToLower(o.CustomerName)
	}

	return idx
}

// Len возвращает число заказов в индексе.
func (x *Index) Len() int {
	if x == nil {
		return 0
	}
	return len(x.orders)
}

// FindExact ищет заказ по идентификатору. Ведущий '#' и пробелы отбрасываются,
// сравнение чувствительно к регистру.
func (x *Index) FindExact(id string) (model.Order, error) {
	key := validation.NormalizeOrderID(id)
	if x == nil || key == "" {
		return model.Order{}, fmt.Errorf("%w: order %q", model.ErrNotFound, id)
	}

	i, ok := x.byID[key]
	if !ok {
		return model.Order{}, fmt.Errorf("%w: order %q", model.ErrNotFound, key)
	}

	return x.orders[i], nil
}

// Filter возвращает заказы, у которых идентификатор или имя клиента содержит запрос без учёта регистра.
// Пустой запрос возвращает всю страницу. Порядок совпадает с порядком страницы.
func (x *Index) Filter(query string) []model.Order {
	if x == nil {
		return []model.Order{}
	}

	q := strings.ToLower(strings.TrimSpace(query))
	res := make([]model.Order, 0, len(x.orders))

	if q == "" {
		return append(res, x.orders...)
	}

	for i := range x.orders {
		if strings.Contains(x.ids[i], q) || strings.Contains(x.names[i], q) {
			res = append(res, x.orders[i])
		}
	}

	return res
}
