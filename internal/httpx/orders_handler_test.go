package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radityapw/go-digital-orders/internal/orders"
	"github.com/radityapw/go-digital-orders/internal/ratelimit"
)

type mockOrderStore struct {
	createErr error
	created   []orders.CreateOrderInput
	statuses  map[string]orders.OrderStatus
	products  []orders.Product
}

func (m *mockOrderStore) CreateOrder(_ context.Context, in orders.CreateOrderInput) (*orders.Order, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.created = append(m.created, in)
	return &orders.Order{
		ID:            "b0f9a7e2-0000-0000-0000-000000000001",
		OrderCode:     "ORD-AB23CD45",
		CustomerEmail: in.CustomerEmail,
		Status:        orders.OrderPendingPayment,
		AmountTotal:   70000,
	}, nil
}

func (m *mockOrderStore) GetStatusByCode(_ context.Context, code string) (orders.OrderStatus, error) {
	s, ok := m.statuses[code]
	if !ok {
		return "", orders.ErrOrderNotFound
	}
	return s, nil
}

func (m *mockOrderStore) ListProducts(_ context.Context) ([]orders.Product, error) {
	return m.products, nil
}

type mockStockLoader struct {
	units []orders.NewUnit
	err   error
}

func (m *mockStockLoader) AddUnits(_ context.Context, _ string, units []orders.NewUnit) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.units = append(m.units, units...)
	return len(units), nil
}

type prefixSealer struct{}

func (prefixSealer) Seal(plaintext string) (string, error) { return "sealed:" + plaintext, nil }

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newOrdersHandler(store *mockOrderStore) (*OrdersHandler, http.Handler) {
	h := &OrdersHandler{
		Store:    store,
		Stock:    &mockStockLoader{},
		Vault:    prefixSealer{},
		Validate: validator.New(),
		AdminKey: "admin-key",
		Service:  "api-test",
		Hold:     30 * time.Minute,
		Log:      quietLog(),
	}
	r := NewRouter()
	h.Register(r)
	return h, r
}

func orderBody(email string) []byte {
	return []byte(fmt.Sprintf(`{
		"customerName": "Jo Buyer",
		"customerEmail": %q,
		"items": [{"productCode": "netflix-1m", "quantity": 2, "price": 35000}]
	}`, email))
}

func TestCreateOrder(t *testing.T) {
	store := &mockOrderStore{}
	_, r := newOrdersHandler(store)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader(orderBody("jo@example.com"))))

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp CreateOrderResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "ORD-AB23CD45", resp.OrderCode)

	require.Len(t, store.created, 1)
	assert.Equal(t, "jo@example.com", store.created[0].CustomerEmail)
	assert.Equal(t, 30*time.Minute, store.created[0].Hold)
}

func TestCreateOrder_Validation(t *testing.T) {
	_, r := newOrdersHandler(&mockOrderStore{})

	cases := []string{
		`{nope`,
		`{"customerName": "Jo", "customerEmail": "not-an-email", "items": [{"productCode":"x","quantity":1}]}`,
		`{"customerName": "Jo", "customerEmail": "jo@example.com", "items": []}`,
		`{"customerName": "Jo", "customerEmail": "jo@example.com", "items": [{"productCode":"x","quantity":0}]}`,
	}
	for _, body := range cases {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader([]byte(body))))
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body: %s", body)
	}
}

func TestCreateOrder_InsufficientStock(t *testing.T) {
	store := &mockOrderStore{
		createErr: fmt.Errorf("%w: product netflix-1m has 1 of 2", orders.ErrInsufficientStock),
	}
	_, r := newOrdersHandler(store)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader(orderBody("jo@example.com"))))

	assert.Equal(t, http.StatusConflict, rec.Code)
	var resp CreateOrderResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Error, "insufficient stock")
}

func TestCreateOrder_RateLimited(t *testing.T) {
	store := &mockOrderStore{}
	h, r := newOrdersHandler(store)
	h.Limiter = &ratelimit.Limiter{Counter: ratelimit.NewMemoryCounter(), Max: 5, Window: time.Minute}

	var last *httptest.ResponseRecorder
	for i := 0; i < 6; i++ {
		last = httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader(orderBody("jo@example.com")))
		req.RemoteAddr = "203.0.113.7:51000"
		r.ServeHTTP(last, req)
	}

	assert.Equal(t, http.StatusTooManyRequests, last.Code)
	assert.Len(t, store.created, 5, "limited request never reaches the store")
}

func TestCreateOrder_EmailWindowSharedAcrossIPs(t *testing.T) {
	store := &mockOrderStore{}
	h, r := newOrdersHandler(store)
	h.Limiter = &ratelimit.Limiter{Counter: ratelimit.NewMemoryCounter(), Max: 1, Window: time.Minute}

	first := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader(orderBody("jo@example.com")))
	req.RemoteAddr = "203.0.113.7:51000"
	r.ServeHTTP(first, req)
	require.Equal(t, http.StatusCreated, first.Code)

	second := httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader(orderBody("JO@example.com")))
	req.RemoteAddr = "198.51.100.9:51000"
	r.ServeHTTP(second, req)
	assert.Equal(t, http.StatusTooManyRequests, second.Code, "same email from another address shares the window")
}

func TestGetOrder(t *testing.T) {
	store := &mockOrderStore{statuses: map[string]orders.OrderStatus{
		"ORD-AB23CD45": orders.OrderFulfilled,
	}}
	_, r := newOrdersHandler(store)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/ORD-AB23CD45", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"fulfilled"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/ORD-MISSING1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListProducts(t *testing.T) {
	store := &mockOrderStore{products: []orders.Product{
		{Code: "netflix-1m", Name: "Netflix 1 Month", PriceCents: 35000},
	}}
	_, r := newOrdersHandler(store)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"code":"netflix-1m","name":"Netflix 1 Month","price":35000}]`, rec.Body.String())
}

func TestAddStock(t *testing.T) {
	h, r := newOrdersHandler(&mockOrderStore{})
	stock := h.Stock.(*mockStockLoader)

	body := []byte(`{"units":[{"username":"acc-a","secret":"pw-a"},{"username":"acc-b","secret":"pw-b"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/products/netflix-1m/stock", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer admin-key")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"added":2}`, rec.Body.String())
	require.Len(t, stock.units, 2)
	assert.Equal(t, "sealed:pw-a", stock.units[0].SecretSealed, "secrets sealed before they reach the store")
}

func TestAddStock_Unauthorized(t *testing.T) {
	_, r := newOrdersHandler(&mockOrderStore{})

	body := []byte(`{"units":[{"username":"acc-a","secret":"pw-a"}]}`)
	for _, bearer := range []string{"", "Bearer wrong"} {
		req := httptest.NewRequest(http.MethodPost, "/products/netflix-1m/stock", bytes.NewReader(body))
		if bearer != "" {
			req.Header.Set("Authorization", bearer)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
}

func TestAddStock_BadUnits(t *testing.T) {
	_, r := newOrdersHandler(&mockOrderStore{})

	for _, body := range []string{
		`{"units":[]}`,
		`{"units":[{"username":"","secret":"pw"}]}`,
		`{"units":[{"username":"acc","secret":""}]}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/products/netflix-1m/stock", bytes.NewReader([]byte(body)))
		req.Header.Set("Authorization", "Bearer admin-key")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body: %s", body)
	}
}
