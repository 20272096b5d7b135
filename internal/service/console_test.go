package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/outlet-console/internal/authority"
	"github.com/mmeshcher/outlet-console/internal/gate"
	"github.com/mmeshcher/outlet-console/internal/metrics"
	"github.com/mmeshcher/outlet-console/internal/model"
)

type fakeItem struct {
	ItemID    string `json:"item_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

type fakeOrder struct {
	OrderID      string     `json:"order_id"`
	OutletID     string     `json:"outlet_id"`
	CustomerName string     `json:"customer_name"`
	Status       string     `json:"status"`
	Channel      string     `json:"channel"`
	Items        []fakeItem `json:"items"`
}

type fakeStaff struct {
	id    string
	caps  []string
	token string
}

type statusPatch struct {
	OrderID  string   `json:"order_id"`
	OutletID string   `json:"outlet_id"`
	Status   string   `json:"status"`
	ItemIDs  []string `json:"item_ids"`
}

// fakeAuthority — сервер заказов одной торговой точки O1 с заказами 1001..1005.
type fakeAuthority struct {
	mu          sync.Mutex
	orders      []fakeOrder
	staff       map[string]*fakeStaff
	revoked     map[string]bool
	failMutate  bool
	patches     []statusPatch
	idempotency []string
}

func newFakeAuthority() *fakeAuthority {
	f := &fakeAuthority{
		staff: map[string]*fakeStaff{
			"alice@o1": {id: "alice", token: "tok-alice", caps: []string{"orders.view", "orders.kitchen", "orders.fulfil", "orders.cancel"}},
			"vic@o1":   {id: "vic", token: "tok-vic", caps: []string{"orders.view"}},
		},
		revoked: make(map[string]bool),
	}

	names := []string{"Ann", "Bob", "Carl", "Dina", "Eve"}
	for i, name := range names {
		f.orders = append(f.orders, fakeOrder{
			OrderID:      strconv.Itoa(1001 + i),
			OutletID:     "O1",
			CustomerName: name,
			Status:       "PENDING",
			Channel:      "APP",
			Items: []fakeItem{
				{ItemID: "1", Name: "Tea", Quantity: 1, UnitPrice: "2.50"},
				{ItemID: "2", Name: "Bun", Quantity: 2, UnitPrice: "1.25"},
				{ItemID: "3", Name: "Jam", Quantity: 1, UnitPrice: "0.75"},
			},
		})
	}

	return f
}

func (f *fakeAuthority) staffByToken(r *http.Request) *fakeStaff {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if f.revoked[token] {
		return nil
	}
	for _, s := range f.staff {
		if s.token == token {
			return s
		}
	}
	return nil
}

func writeGrant(w http.ResponseWriter, email string, s *fakeStaff) {
	_ = json.NewEncoder(w).Encode(map[string]any{
		"identity":     map[string]string{"id": s.id, "email": email},
		"token":        s.token,
		"capabilities": s.caps,
	})
}

func (f *fakeAuthority) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/auth/sign-in", func(w http.ResponseWriter, r *http.Request) {
		var creds model.Credentials
		_ = json.NewDecoder(r.Body).Decode(&creds)

		f.mu.Lock()
		defer f.mu.Unlock()

		s, ok := f.staff[creds.Email]
		if !ok || creds.Password != "pw" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeGrant(w, creds.Email, s)
	})

	mux.HandleFunc("GET /api/auth/session", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		s := f.staffByToken(r)
		if s == nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeGrant(w, s.id+"@o1", s)
	})

	mux.HandleFunc("GET /api/outlets/{outlet}/orders", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		if f.staffByToken(r) == nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.PathValue("outlet") != "O1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		size, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
		from := min((page-1)*size, len(f.orders))
		to := min(from+size, len(f.orders))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"orders":       f.orders[from:to],
			"total":        len(f.orders),
			"current_page": page,
		})
	})

	mux.HandleFunc("GET /api/outlets/{outlet}/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		for _, o := range f.orders {
			if o.OutletID == r.PathValue("outlet") && o.OrderID == r.PathValue("id") {
				_ = json.NewEncoder(w).Encode(o)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
	})

	mux.HandleFunc("PATCH /api/outlets/{outlet}/orders/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		if f.staffByToken(r) == nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if f.failMutate {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		var p statusPatch
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.patches = append(f.patches, p)
		f.idempotency = append(f.idempotency, r.Header.Get(authority.IdempotencyHeader))

		for i := range f.orders {
			if f.orders[i].OrderID == r.PathValue("id") {
				f.orders[i].Status = p.Status
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
	})

	return mux
}

func (f *fakeAuthority) mutations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.patches)
}

type memJournal struct {
	mu      sync.Mutex
	records []model.TransitionRecord
}

func (j *memJournal) Record(ctx context.Context, rec model.TransitionRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, rec)
	return nil
}

func (j *memJournal) List(ctx context.Context, outletID, orderID string) ([]model.TransitionRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var res []model.TransitionRecord
	for i := len(j.records) - 1; i >= 0; i-- {
		if j.records[i].OutletID == outletID && j.records[i].OrderID == orderID {
			res = append(res, j.records[i])
		}
	}
	return res, nil
}

func newTestConsole(t *testing.T, opts Options) (*Console, *fakeAuthority) {
	t.Helper()

	fa := newFakeAuthority()
	ts := httptest.NewServer(fa.handler())
	t.Cleanup(ts.Close)

	return NewConsole(authority.NewClient(ts.URL, time.Second), opts), fa
}

func signIn(t *testing.T, c *Console, email string) {
	t.Helper()
	_, err := c.SignIn(context.Background(), model.Credentials{Email: email, Password: "pw"})
	require.NoError(t, err)
}

func TestConsole_LookupAndDeliver(t *testing.T) {
	c, fa := newTestConsole(t, Options{})
	ctx := context.Background()
	signIn(t, c, "alice@o1")

	page, err := c.Load(ctx, "O1", 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Orders, 5)
	assert.Equal(t, 5, page.Total)

	bob, err := c.FindExact("1002")
	require.NoError(t, err)
	assert.Equal(t, "Bob", bob.CustomerName)
	assert.Equal(t, 4, bob.ItemCount)
	assert.Equal(t, "5.75", bob.Total.StringFixed(2))

	_, err = c.FindExact("#1002")
	require.NoError(t, err)

	_, err = c.FindExact("9999")
	require.ErrorIs(t, err, model.ErrNotFound)
	assert.Equal(t, "NotFound", model.Kind(err))

	found := c.Search("BO")
	require.Len(t, found, 1)
	assert.Equal(t, "1002", found[0].ID)

	res, err := c.RequestTransition(ctx, "1002", model.OrderStatusDelivered, []string{"1", "2"})
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPending, res.From)
	require.NotNil(t, res.Order)
	assert.Equal(t, model.OrderStatusDelivered, res.Order.Status)
	assert.NoError(t, res.RefetchErr)

	after, err := c.FindExact("1002")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusDelivered, after.Status)
	assert.Equal(t, model.OrderStatusDelivered, c.State().Page.Orders[1].Status)

	require.Equal(t, 1, fa.mutations())
	assert.Equal(t, statusPatch{OrderID: "1002", OutletID: "O1", Status: "DELIVERED", ItemIDs: []string{"1", "2"}}, fa.patches[0])
	assert.Equal(t, res.RequestID, fa.idempotency[0])
}

func TestConsole_MissingOrderIsNotFound(t *testing.T) {
	c, fa := newTestConsole(t, Options{})
	ctx := context.Background()
	signIn(t, c, "alice@o1")

	_, err := c.Load(ctx, "O1", 1, 10)
	require.NoError(t, err)

	_, err = c.RequestTransition(ctx, "9999", model.OrderStatusCancelled, nil)
	require.ErrorIs(t, err, model.ErrNotFound)
	assert.NotErrorIs(t, err, model.ErrServerError)
	assert.Zero(t, fa.mutations())
}

func TestConsole_TransitionOutsideCurrentPage(t *testing.T) {
	c, fa := newTestConsole(t, Options{})
	ctx := context.Background()
	signIn(t, c, "alice@o1")

	_, err := c.Load(ctx, "O1", 1, 2)
	require.NoError(t, err)

	_, err = c.FindExact("1005")
	require.ErrorIs(t, err, model.ErrNotFound)

	res, err := c.RequestTransition(ctx, "1005", model.OrderStatusCancelled, nil)
	require.NoError(t, err)
	assert.Nil(t, res.Order)
	assert.Equal(t, 1, fa.mutations())
}

func TestConsole_ForbiddenDoesNotReachServer(t *testing.T) {
	c, fa := newTestConsole(t, Options{})
	ctx := context.Background()
	signIn(t, c, "vic@o1")

	_, err := c.Load(ctx, "O1", 1, 10)
	require.NoError(t, err)

	_, err = c.RequestTransition(ctx, "1002", model.OrderStatusCancelled, []string{"404"})
	require.ErrorIs(t, err, model.ErrForbidden)
	assert.Zero(t, fa.mutations())

	denied := c.Check(model.CapabilityOrdersCancel, gate.PresentationHidden)
	require.NotNil(t, denied)
	assert.Equal(t, gate.PresentationHidden, denied.Presentation)
	assert.Nil(t, c.Check(model.CapabilityOrdersView, gate.PresentationHidden))
}

func TestConsole_ServerErrorKeepsStatus(t *testing.T) {
	c, fa := newTestConsole(t, Options{})
	ctx := context.Background()
	signIn(t, c, "alice@o1")

	_, err := c.Load(ctx, "O1", 1, 10)
	require.NoError(t, err)

	fa.mu.Lock()
	fa.failMutate = true
	fa.mu.Unlock()

	_, err = c.RequestTransition(ctx, "1001", model.OrderStatusPreparing, nil)
	require.ErrorIs(t, err, model.ErrServerError)

	o, err := c.FindExact("1001")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPending, o.Status)
}

func TestConsole_RefreshRevokesCapability(t *testing.T) {
	c, fa := newTestConsole(t, Options{})
	ctx := context.Background()
	signIn(t, c, "alice@o1")
	require.True(t, c.HasCapability(model.CapabilityOrdersCancel))

	fa.mu.Lock()
	fa.staff["alice@o1"].caps = []string{"orders.view"}
	fa.mu.Unlock()

	sess, err := c.Refresh(ctx)
	require.NoError(t, err)
	assert.False(t, sess.Granted(model.CapabilityOrdersCancel))
	assert.NotNil(t, c.Check(model.CapabilityOrdersCancel, gate.PresentationDisabled))
}

func TestConsole_AvailableTransitions(t *testing.T) {
	c, _ := newTestConsole(t, Options{})
	ctx := context.Background()
	signIn(t, c, "alice@o1")

	_, err := c.Load(ctx, "O1", 1, 10)
	require.NoError(t, err)

	next, err := c.AvailableTransitions("1001")
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]model.OrderStatus{model.OrderStatusPreparing, model.OrderStatusDelivered, model.OrderStatusCancelled}, next)

	_, err = c.AvailableTransitions("9999")
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestConsole_History(t *testing.T) {
	j := &memJournal{}
	c, _ := newTestConsole(t, Options{Journal: j})
	ctx := context.Background()
	signIn(t, c, "alice@o1")

	_, err := c.Load(ctx, "O1", 1, 10)
	require.NoError(t, err)

	_, err = c.RequestTransition(ctx, "1003", model.OrderStatusPreparing, nil)
	require.NoError(t, err)
	_, err = c.RequestTransition(ctx, "1003", model.OrderStatusDelivered, nil)
	require.ErrorIs(t, err, model.ErrInvalidTransition)

	history, err := c.History(ctx, "1003")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "InvalidTransition", history[0].Outcome)
	assert.Equal(t, "ok", history[1].Outcome)
	assert.Equal(t, "alice", history[1].ActorID)
}

func TestConsole_LoadWithoutSession(t *testing.T) {
	c, _ := newTestConsole(t, Options{})

	_, err := c.Load(context.Background(), "O1", 1, 10)
	require.ErrorIs(t, err, model.ErrNoSession)
	assert.ErrorIs(t, c.State().Err, model.ErrNoSession)
}

func TestManager_OpenGetClose(t *testing.T) {
	fa := newFakeAuthority()
	ts := httptest.NewServer(fa.handler())
	defer ts.Close()

	m := metrics.New(prometheus.NewRegistry())
	mgr := NewManager(authority.NewClient(ts.URL, time.Second), Options{Metrics: m})
	ctx := context.Background()

	_, _, err := mgr.Open(ctx, model.Credentials{Email: "alice@o1", Password: "bad"})
	require.ErrorIs(t, err, model.ErrUnauthorized)
	assert.Zero(t, mgr.Len())

	id, sess, err := mgr.Open(ctx, model.Credentials{Email: "alice@o1", Password: "pw"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, "alice", sess.Identity.ID)
	assert.Equal(t, 1, mgr.Len())

	state, err := mgr.Load(ctx, id, "O1", 1, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultPageSize, state.Params.PageSize)
	assert.Len(t, state.Page.Orders, 5)

	o, err := mgr.Lookup(id, "1002")
	require.NoError(t, err)
	assert.Equal(t, "Bob", o.CustomerName)

	require.NoError(t, mgr.Close(id))
	require.ErrorIs(t, mgr.Close(id), model.ErrNoSession)

	_, err = mgr.Lookup(id, "1002")
	require.ErrorIs(t, err, model.ErrNoSession)
	assert.Zero(t, mgr.Len())
}

func TestManager_RefreshClosesExpiredSessions(t *testing.T) {
	fa := newFakeAuthority()
	ts := httptest.NewServer(fa.handler())
	defer ts.Close()

	reg := prometheus.NewRegistry()
	mgr := NewManager(authority.NewClient(ts.URL, time.Second), Options{Metrics: metrics.New(reg)})
	ctx := context.Background()

	alice, _, err := mgr.Open(ctx, model.Credentials{Email: "alice@o1", Password: "pw"})
	require.NoError(t, err)
	vic, _, err := mgr.Open(ctx, model.Credentials{Email: "vic@o1", Password: "pw"})
	require.NoError(t, err)

	fa.mu.Lock()
	fa.revoked["tok-vic"] = true
	fa.mu.Unlock()

	mgr.refreshAll(ctx)

	_, err = mgr.Session(alice)
	require.NoError(t, err)
	_, err = mgr.Session(vic)
	require.ErrorIs(t, err, model.ErrNoSession)
	assert.Equal(t, 1, mgr.Len())

	assert.Equal(t, 1.0, gaugeValue(t, reg, "console_open_sessions"))
}

func TestManager_ClosesIdleSessions(t *testing.T) {
	fa := newFakeAuthority()
	ts := httptest.NewServer(fa.handler())
	defer ts.Close()

	reg := prometheus.NewRegistry()
	mgr := NewManager(authority.NewClient(ts.URL, time.Second), Options{Metrics: metrics.New(reg), IdleTimeout: time.Hour})
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	mgr.now = func() time.Time { return now }
	ctx := context.Background()

	alice, _, err := mgr.Open(ctx, model.Credentials{Email: "alice@o1", Password: "pw"})
	require.NoError(t, err)
	vic, _, err := mgr.Open(ctx, model.Credentials{Email: "vic@o1", Password: "pw"})
	require.NoError(t, err)

	now = now.Add(30 * time.Minute)
	_, err = mgr.State(vic)
	require.NoError(t, err)

	now = now.Add(45 * time.Minute)
	mgr.refreshAll(ctx)

	_, err = mgr.Session(alice)
	require.ErrorIs(t, err, model.ErrNoSession, "idle longer than the timeout")
	_, err = mgr.Session(vic)
	require.NoError(t, err)
	assert.Equal(t, 1, mgr.Len())
	assert.Equal(t, 1.0, gaugeValue(t, reg, "console_open_sessions"))

	now = now.Add(50 * time.Minute)
	mgr.refreshAll(ctx)
	assert.Equal(t, 1, mgr.Len())

	now = now.Add(20 * time.Minute)
	mgr.refreshAll(ctx)
	assert.Zero(t, mgr.Len(), "background refresh does not keep a session alive")
	assert.Equal(t, 0.0, gaugeValue(t, reg, "console_open_sessions"))
}

func TestManager_StartSessionRefreshStops(t *testing.T) {
	mgr := NewManager(nil, Options{})
	ctx, cancel := context.WithCancel(context.Background())

	mgr.StartSessionRefresh(ctx, time.Millisecond)
	mgr.StartSessionRefresh(ctx, 0)
	time.Sleep(5 * time.Millisecond)
	cancel()

	assert.Zero(t, mgr.Len())
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)

	for _, f := range families {
		if f.GetName() == name {
			require.NotEmpty(t, f.GetMetric())
			return f.GetMetric()[0].GetGauge().GetValue()
		}
	}

	t.Fatalf("metric %s not found", name)
	return 0
}
