package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ID — идентификатор, который сервер может прислать как строкой, так и числом.
type ID string

// UnmarshalJSON принимает строку или число.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or a number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// RawItem — позиция заказа в том виде, в каком её присылает сервер.
type RawItem struct {
	ItemID    ID              `json:"item_id" validate:"required"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity" validate:"gte=1"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Status    string          `json:"status,omitempty"`
}

// RawOrder — заказ в том виде, в каком его присылает сервер.
type RawOrder struct {
	OrderID      ID               `json:"order_id" validate:"required"`
	OutletID     ID               `json:"outlet_id"`
	CustomerName string           `json:"customer_name"`
	Items        []RawItem        `json:"items" validate:"dive"`
	Status       string           `json:"status"`
	Channel      string           `json:"channel"`
	PaymentMode  string           `json:"payment_mode"`
	CreatedAt    time.Time        `json:"created_at"`
	Total        *decimal.Decimal `json:"total,omitempty"`
}

// RawPage — ответ сервера на запрос страницы заказов.
type RawPage struct {
	Orders      []RawOrder `json:"orders"`
	Total       int        `json:"total"`
	CurrentPage int        `json:"current_page"`
}
