// Package authority предоставляет клиент сервера, которому принадлежат заказы и сессии сотрудников.
package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mmeshcher/outlet-console/internal/model"
	"github.com/mmeshcher/outlet-console/internal/normalize"
)

// IdempotencyHeader — заголовок, по которому сервер может распознать повтор запроса на смену статуса.
const IdempotencyHeader = "Idempotency-Key"

// Client инкапсулирует HTTP-взаимодействие с сервером заказов.
// Запросы не повторяются автоматически.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// statusRequest — тело запроса на смену статуса.
type statusRequest struct {
	OrderID  string   `json:"order_id"`
	OutletID string   `json:"outlet_id"`
	Status   string   `json:"status"`
	ItemIDs  []string `json:"item_ids,omitempty"`
}

// grantResponse — ответ сервиса аутентификации.
type grantResponse struct {
	Identity     model.Identity `json:"identity"`
	Token        string         `json:"token"`
	Capabilities []string       `json:"capabilities"`
}

// NewClient создаёт клиент для сервера по указанному адресу. timeout ограничивает длительность одного запроса.
func NewClient(baseURL string, timeout time.Duration) *Client {
	base := strings.TrimRight(baseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL: base,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// FetchOrders запрашивает страницу заказов торговой точки.
func (c *Client) FetchOrders(ctx context.Context, token, outletID string, page, pageSize int) (normalize.RawPage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))
	path := fmt.Sprintf("/api/outlets/%s/orders?%s", url.PathEscape(outletID), q.Encode())

	var res normalize.RawPage
	if err := c.do(ctx, http.MethodGet, path, token, nil, nil, &res); err != nil {
		return normalize.RawPage{}, fmt.Errorf("fetch orders: %w", err)
	}
	return res, nil
}

// FetchOrderByID запрашивает один заказ торговой точки.
func (c *Client) FetchOrderByID(ctx context.Context, token, outletID, orderID string) (normalize.RawOrder, error) {
	path := fmt.Sprintf("/api/outlets/%s/orders/%s", url.PathEscape(outletID), url.PathEscape(orderID))

	var res normalize.RawOrder
	if err := c.do(ctx, http.MethodGet, path, token, nil, nil, &res); err != nil {
		return normalize.RawOrder{}, fmt.Errorf("fetch order: %w", err)
	}
	return res, nil
}

// MutateOrderStatus просит сервер сменить статус заказа. Успехом считается любой ответ 2xx.
// RequestID передаётся в заголовке Idempotency-Key.
func (c *Client) MutateOrderStatus(ctx context.Context, token string, m model.StatusMutation) error {
	path := fmt.Sprintf("/api/outlets/%s/orders/%s/status", url.PathEscape(m.OutletID), url.PathEscape(m.OrderID))
	body := statusRequest{
		OrderID:  m.OrderID,
		OutletID: m.OutletID,
		Status:   string(m.Status),
		ItemIDs:  m.ItemIDs,
	}

	var headers map[string]string
	if m.RequestID != "" {
		headers = map[string]string{IdempotencyHeader: m.RequestID}
	}

	if err := c.do(ctx, http.MethodPatch, path, token, body, headers, nil); err != nil {
		return fmt.Errorf("mutate status: %w", err)
	}
	return nil
}

// SignIn выполняет вход сотрудника.
func (c *Client) SignIn(ctx context.Context, creds model.Credentials) (model.Grant, error) {
	var res grantResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/sign-in", "", creds, nil, &res); err != nil {
		return model.Grant{}, err
	}
	return res.grant(), nil
}

// CheckSession запрашивает актуальное состояние сессии. Ответ 401 означает, что сессии больше нет.
func (c *Client) CheckSession(ctx context.Context, token string) (model.Grant, error) {
	var res grantResponse
	err := c.do(ctx, http.MethodGet, "/api/auth/session", token, nil, nil, &res)
	if errors.Is(err, model.ErrUnauthorized) {
		return model.Grant{}, fmt.Errorf("%w: %w", model.ErrNoSession, err)
	}
	if err != nil {
		return model.Grant{}, err
	}
	return res.grant(), nil
}

func (g grantResponse) grant() model.Grant {
	caps := make(map[model.Capability]bool, len(g.Capabilities))
	for _, c := range g.Capabilities {
		c = strings.TrimSpace(c)
		if c != "" {
			caps[model.Capability(c)] = true
		}
	}

	return model.Grant{
		Identity:     g.Identity,
		Token:        g.Token,
		Capabilities: caps,
	}
}

func (c *Client) do(ctx context.Context, method, path, token string, in any, headers map[string]string, out any) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("%w: authority client not configured", model.ErrServerError)
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: do request: %w", model.ErrServerError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", model.ErrMalformedResponse, err)
	}

	return nil
}

// statusError переводит код ответа в ошибку из model.
func statusError(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	text := strings.TrimSpace(string(msg))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}

	var kind error
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		kind = model.ErrUnauthorized
	case resp.StatusCode == http.StatusForbidden:
		kind = model.ErrForbidden
	case resp.StatusCode == http.StatusNotFound:
		kind = model.ErrNotFound
	case resp.StatusCode == http.StatusConflict:
		kind = model.ErrInvalidTransition
	default:
		kind = model.ErrServerError
	}

	return fmt.Errorf("%w: status %d: %s", kind, resp.StatusCode, text)
}
