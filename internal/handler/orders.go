package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/outlet-console/internal/cache"
	"github.com/mmeshcher/outlet-console/internal/model"
	"github.com/mmeshcher/outlet-console/internal/transition"
)

type itemResponse struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
	Status    string          `json:"status,omitempty"`
}

type orderResponse struct {
	ID           string          `json:"id"`
	OutletID     string          `json:"outlet_id"`
	CustomerName string          `json:"customer_name"`
	Status       string          `json:"status"`
	Channel      string          `json:"channel"`
	PaymentMode  string          `json:"payment_mode,omitempty"`
	CreatedAt    string          `json:"created_at,omitempty"`
	DisplayTime  string          `json:"display_time,omitempty"`
	ItemCount    int             `json:"item_count"`
	Total        decimal.Decimal `json:"total"`
	Items        []itemResponse  `json:"items"`
	Anomalies    []string        `json:"anomalies,omitempty"`
}

type stateResponse struct {
	OutletID string          `json:"outlet_id"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
	Total    int             `json:"total"`
	Orders   []orderResponse `json:"orders"`
	Loading  bool            `json:"loading"`
	Error    *errorResponse  `json:"error,omitempty"`
}

type transitionRequest struct {
	Status  string   `json:"status" validate:"required"`
	ItemIDs []string `json:"item_ids" validate:"omitempty,dive,required"`
}

type transitionResponse struct {
	RequestID    string         `json:"request_id"`
	OrderID      string         `json:"order_id"`
	From         string         `json:"from"`
	To           string         `json:"to"`
	ItemIDs      []string       `json:"item_ids,omitempty"`
	Order        *orderResponse `json:"order,omitempty"`
	RefetchError string         `json:"refetch_error,omitempty"`
}

type recordResponse struct {
	RequestID string   `json:"request_id"`
	ActorID   string   `json:"actor_id"`
	From      string   `json:"from"`
	To        string   `json:"to"`
	ItemIDs   []string `json:"item_ids,omitempty"`
	Outcome   string   `json:"outcome"`
	Message   string   `json:"message,omitempty"`
	CreatedAt string   `json:"created_at"`
}

func newOrderResponse(o model.Order) orderResponse {
	resp := orderResponse{
		ID:           o.ID,
		OutletID:     o.OutletID,
		CustomerName: o.CustomerName,
		Status:       string(o.Status),
		Channel:      string(o.Channel),
		PaymentMode:  o.PaymentMode,
		DisplayTime:  o.DisplayTime,
		ItemCount:    o.ItemCount,
		Total:        o.Total,
		Items:        make([]itemResponse, 0, len(o.Items)),
		Anomalies:    o.Anomalies,
	}
	if !o.CreatedAt.IsZero() {
		resp.CreatedAt = o.CreatedAt.Format(time.RFC3339)
	}

	for _, it := range o.Items {
		item := itemResponse{
			ID:        it.ID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			LineTotal: it.LineTotal(),
		}
		if it.Status != nil {
			item.Status = string(*it.Status)
		}
		resp.Items = append(resp.Items, item)
	}

	return resp
}

func newOrdersResponse(orders []model.Order) []orderResponse {
	resp := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, newOrderResponse(o))
	}
	return resp
}

func newStateResponse(s cache.State) stateResponse {
	resp := stateResponse{
		OutletID: s.Page.OutletID,
		Page:     s.Page.Page,
		PageSize: s.Page.PageSize,
		Total:    s.Page.Total,
		Orders:   newOrdersResponse(s.Page.Orders),
		Loading:  s.Loading,
	}
	if s.Err != nil {
		e := newErrorResponse(s.Err)
		resp.Error = &e
	}
	return resp
}

func queryInt(r *http.Request, name string, def int) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// LoadOrders загружает страницу заказов торговой точки и возвращает модель чтения.
func (h *Handler) LoadOrders(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	page, ok := queryInt(r, "page", 1)
	if !ok {
		h.badRequest(w, "page must be a number")
		return
	}
	size, ok := queryInt(r, "size", 0)
	if !ok {
		h.badRequest(w, "size must be a number")
		return
	}

	state, err := h.service.Load(r.Context(), id, chi.URLParam(r, "outletID"), page, size)
	if err != nil && !errors.Is(err, model.ErrSuperseded) {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newStateResponse(state))
}

// GetOrders возвращает модель чтения без обращения к серверу.
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	state, err := h.service.State(id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newStateResponse(state))
}

// RefetchOrders перезагружает текущую страницу.
func (h *Handler) RefetchOrders(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	state, err := h.service.Refetch(r.Context(), id)
	if err != nil && !errors.Is(err, model.ErrSuperseded) {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newStateResponse(state))
}

// SearchOrders фильтрует текущую страницу по параметру q.
func (h *Handler) SearchOrders(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	orders, err := h.service.Search(id, r.URL.Query().Get("q"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newOrdersResponse(orders))
}

// LookupOrder ищет заказ на текущей странице по точному идентификатору.
func (h *Handler) LookupOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	o, err := h.service.Lookup(id, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newOrderResponse(o))
}

// RequestTransition меняет статус заказа.
func (h *Handler) RequestTransition(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, err.Error())
		return
	}

	target, known := model.ParseOrderStatus(req.Status)
	if !known {
		h.badRequest(w, "unknown status "+strconv.Quote(req.Status))
		return
	}

	res, err := h.service.RequestTransition(r.Context(), id, chi.URLParam(r, "id"), target, req.ItemIDs)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newTransitionResponse(res))
}

func newTransitionResponse(res *transition.Result) transitionResponse {
	resp := transitionResponse{
		RequestID: res.RequestID,
		OrderID:   res.OrderID,
		From:      string(res.From),
		To:        string(res.To),
		ItemIDs:   res.ItemIDs,
	}
	if res.Order != nil {
		o := newOrderResponse(*res.Order)
		resp.Order = &o
	}
	if res.RefetchErr != nil {
		resp.RefetchError = res.RefetchErr.Error()
	}
	return resp
}

// AvailableTransitions возвращает статусы, в которые сотрудник может перевести заказ.
func (h *Handler) AvailableTransitions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	next, err := h.service.AvailableTransitions(id, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := make([]string, 0, len(next))
	for _, s := range next {
		resp = append(resp, string(s))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// GetHistory возвращает журнал попыток смены статуса заказа.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	records, err := h.service.History(r.Context(), id, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	if len(records) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]recordResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, recordResponse{
			RequestID: rec.RequestID,
			ActorID:   rec.ActorID,
			From:      string(rec.FromStatus),
			To:        string(rec.ToStatus),
			ItemIDs:   rec.ItemIDs,
			Outcome:   rec.Outcome,
			Message:   rec.Message,
			CreatedAt: rec.CreatedAt.Format(time.RFC3339),
		})
	}

	h.writeJSON(w, http.StatusOK, resp)
}
