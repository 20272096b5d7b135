package normalize

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/outlet-console/internal/model"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func TestOrder_RecomputesTotal(t *testing.T) {
	type want struct {
		total     string
		itemCount int
		anomalies int
	}

	tests := []struct {
		name string
		raw  RawOrder
		want want
	}{
		{
			name: "no backend total",
			raw: RawOrder{
				OrderID: "1001",
				Status:  "PENDING",
				Channel: "APP",
				Items: []RawItem{
					{ItemID: "1", Name: "Latte", Quantity: 2, UnitPrice: dec("3.50")},
					{ItemID: "2", Name: "Bagel", Quantity: 1, UnitPrice: dec("2.25")},
				},
			},
			want: want{total: "9.25", itemCount: 3, anomalies: 0},
		},
		{
			name: "backend total agrees",
			raw: RawOrder{
				OrderID: "1002",
				Status:  "pending",
				Channel: "manual",
				Items: []RawItem{
					{ItemID: "1", Quantity: 4, UnitPrice: dec("0.10")},
				},
				Total: decPtr("0.40"),
			},
			want: want{total: "0.4", itemCount: 4, anomalies: 0},
		},
		{
			name: "backend total disagrees",
			raw: RawOrder{
				OrderID: "1003",
				Status:  "PENDING",
				Channel: "APP",
				Items: []RawItem{
					{ItemID: "1", Quantity: 3, UnitPrice: dec("5")},
				},
				Total: decPtr("99"),
			},
			want: want{total: "15", itemCount: 3, anomalies: 1},
		},
	}

	n := New(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := n.Order(tt.raw)
			require.NoError(t, err)

			assert.True(t, dec(tt.want.total).Equal(o.Total), "total = %s, want %s", o.Total, tt.want.total)
			assert.Equal(t, tt.want.itemCount, o.ItemCount)
			assert.Len(t, o.Anomalies, tt.want.anomalies)

			sum := decimal.Zero
			for _, it := range o.Items {
				sum = sum.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
			}
			assert.True(t, sum.Equal(o.Total))
		})
	}
}

func TestOrder_UnknownStatusIsPreserved(t *testing.T) {
	n := New(nil)

	o, err := n.Order(RawOrder{OrderID: "7", Status: "ON_HOLD", Channel: "APP"})
	require.NoError(t, err)

	assert.Equal(t, model.OrderStatusUnknown, o.Status)
	assert.Equal(t, "ON_HOLD", o.RawStatus)
	require.Len(t, o.Anomalies, 1)
	assert.Contains(t, o.Anomalies[0], "ON_HOLD")
}

func TestOrder_DisplayTimeKeepsTimestamp(t *testing.T) {
	created := time.Date(2026, 3, 9, 14, 5, 0, 0, time.UTC)
	n := New(time.FixedZone("UTC+3", 3*60*60))

	o, err := n.Order(RawOrder{OrderID: "1", Status: "PENDING", Channel: "APP", CreatedAt: created})
	require.NoError(t, err)

	assert.Equal(t, "09 Mar 2026 17:05", o.DisplayTime)
	assert.True(t, created.Equal(o.CreatedAt))
}

func TestOrder_ItemStatus(t *testing.T) {
	n := New(nil)

	o, err := n.Order(RawOrder{
		OrderID: "1",
		Status:  "PENDING",
		Channel: "APP",
		Items: []RawItem{
			{ItemID: "1", Quantity: 1, UnitPrice: dec("1"), Status: "delivered"},
			{ItemID: "2", Quantity: 1, UnitPrice: dec("1")},
		},
	})
	require.NoError(t, err)

	require.NotNil(t, o.Items[0].Status)
	assert.Equal(t, model.OrderStatusDelivered, *o.Items[0].Status)
	assert.Nil(t, o.Items[1].Status)
}

func TestOrder_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  RawOrder
	}{
		{
			name: "missing order id",
			raw:  RawOrder{Status: "PENDING"},
		},
		{
			name: "zero quantity",
			raw: RawOrder{
				OrderID: "1",
				Items:   []RawItem{{ItemID: "1", Quantity: 0, UnitPrice: dec("1")}},
			},
		},
		{
			name: "negative price",
			raw: RawOrder{
				OrderID: "1",
				Items:   []RawItem{{ItemID: "1", Quantity: 1, UnitPrice: dec("-1")}},
			},
		},
		{
			name: "missing item id",
			raw: RawOrder{
				OrderID: "1",
				Items:   []RawItem{{Quantity: 1, UnitPrice: dec("1")}},
			},
		},
	}

	n := New(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.Order(tt.raw)
			require.Error(t, err)
			assert.True(t, errors.Is(err, model.ErrMalformedResponse), "got %v", err)
		})
	}
}

func TestPage_Invariants(t *testing.T) {
	orders := func(ids ...string) []RawOrder {
		res := make([]RawOrder, 0, len(ids))
		for _, id := range ids {
			res = append(res, RawOrder{OrderID: ID(id), Status: "PENDING", Channel: "APP"})
		}
		return res
	}

	tests := []struct {
		name    string
		raw     RawPage
		page    int
		size    int
		wantErr bool
	}{
		{
			name: "first page",
			raw:  RawPage{Orders: orders("1", "2"), Total: 5, CurrentPage: 1},
			page: 1,
			size: 2,
		},
		{
			name: "last partial page",
			raw:  RawPage{Orders: orders("5"), Total: 5, CurrentPage: 3},
			page: 3,
			size: 2,
		},
		{
			name: "empty page beyond total",
			raw:  RawPage{Orders: nil, Total: 5, CurrentPage: 9},
			page: 9,
			size: 2,
		},
		{
			name:    "more orders than page size",
			raw:     RawPage{Orders: orders("1", "2", "3"), Total: 3, CurrentPage: 1},
			page:    1,
			size:    2,
			wantErr: true,
		},
		{
			name:    "position beyond total",
			raw:     RawPage{Orders: orders("1", "2"), Total: 3, CurrentPage: 2},
			page:    2,
			size:    2,
			wantErr: true,
		},
		{
			name:    "order from another outlet",
			raw:     RawPage{Orders: []RawOrder{{OrderID: "1", OutletID: "O2"}}, Total: 1},
			page:    1,
			size:    2,
			wantErr: true,
		},
	}

	n := New(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := n.Page(tt.raw, "O1", tt.page, tt.size)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, model.ErrMalformedResponse))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "O1", p.OutletID)
			assert.LessOrEqual(t, len(p.Orders), p.PageSize)
			for _, o := range p.Orders {
				assert.Equal(t, "O1", o.OutletID)
			}
		})
	}
}

func TestRawOrder_NumericIDs(t *testing.T) {
	payload := `{
		"order_id": 1002,
		"outlet_id": "O1",
		"customer_name": "Bob",
		"status": "PENDING",
		"channel": "APP",
		"items": [{"item_id": 1, "name": "Tea", "quantity": 2, "unit_price": "1.5"}]
	}`

	var raw RawOrder
	require.NoError(t, json.Unmarshal([]byte(payload), &raw))

	o, err := New(nil).Order(raw)
	require.NoError(t, err)
	assert.Equal(t, "1002", o.ID)
	assert.Equal(t, "1", o.Items[0].ID)
	assert.True(t, dec("3").Equal(o.Total))
}
