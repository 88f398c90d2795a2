package httpx

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	kafkax "github.com/radityapw/go-digital-orders/internal/kafka"
	"github.com/radityapw/go-digital-orders/internal/orders"
	"github.com/radityapw/go-digital-orders/internal/ratelimit"
	"github.com/radityapw/go-digital-orders/internal/redisx"
)

type OrderStore interface {
	CreateOrder(ctx context.Context, in orders.CreateOrderInput) (*orders.Order, error)
	GetStatusByCode(ctx context.Context, orderCode string) (orders.OrderStatus, error)
	ListProducts(ctx context.Context) ([]orders.Product, error)
}

type StockLoader interface {
	AddUnits(ctx context.Context, productCode string, units []orders.NewUnit) (int, error)
}

type Sealer interface {
	Seal(plaintext string) (string, error)
}

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

type OrdersHandler struct {
	Store    OrderStore
	Stock    StockLoader
	Vault    Sealer
	Limiter  *ratelimit.Limiter
	Producer Publisher
	Redis    *redis.Client
	Validate *validator.Validate
	AdminKey string
	Service  string
	Hold     time.Duration
	Log      *logrus.Entry
}

type CreateOrderReq struct {
	CustomerName  string             `json:"customerName" validate:"required"`
	CustomerEmail string             `json:"customerEmail" validate:"required,email"`
	CustomerPhone string             `json:"customerPhone"`
	Items         []orders.LineInput `json:"items" validate:"required,min=1,dive"`
}

type CreateOrderResp struct {
	Success   bool   `json:"success"`
	OrderCode string `json:"orderCode,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{code}", h.getOrder)
	r.Get("/products", h.listProducts)
	r.Post("/products/{code}/stock", h.addStock)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, CreateOrderResp{Error: "invalid json"})
		return
	}
	if err := h.Validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, CreateOrderResp{Error: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// outermost guard: a limited request never touches the store
	if !h.allow(ctx, r, req.CustomerEmail) {
		writeJSON(w, http.StatusTooManyRequests, CreateOrderResp{Error: orders.ErrRateLimited.Error() + ", slow down"})
		return
	}

	ord, err := h.Store.CreateOrder(ctx, orders.CreateOrderInput{
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		CustomerPhone: req.CustomerPhone,
		Lines:         req.Items,
		Hold:          h.Hold,
	})
	if errors.Is(err, orders.ErrInsufficientStock) {
		writeJSON(w, http.StatusConflict, CreateOrderResp{Error: err.Error()})
		return
	}
	if err != nil {
		h.Log.WithError(err).Warn("create order failed")
		writeJSON(w, http.StatusBadRequest, CreateOrderResp{Error: err.Error()})
		return
	}

	if h.Redis != nil {
		statusKey := fmt.Sprintf(redisx.KeyOrderStatus, ord.OrderCode)
		_ = h.Redis.Set(ctx, statusKey, `{"status":"pending_payment"}`, redisx.TTLStatusCache).Err()
	}
	h.publishCreated(r, ord, len(req.Items))

	writeJSON(w, http.StatusCreated, CreateOrderResp{Success: true, OrderCode: ord.OrderCode})
}

// allow checks both identities; either window filling up limits the request.
func (h *OrdersHandler) allow(ctx context.Context, r *http.Request, email string) bool {
	if h.Limiter == nil {
		return true
	}
	ip := clientIP(r)
	okIP, err := h.Limiter.Allow(ctx, "order:ip", ip)
	if err != nil {
		h.Log.WithError(err).Warn("rate limit check failed, failing open")
	}
	okEmail, err := h.Limiter.Allow(ctx, "order:email", strings.ToLower(email))
	if err != nil {
		h.Log.WithError(err).Warn("rate limit check failed, failing open")
	}
	return okIP && okEmail
}

func clientIP(r *http.Request) string {
	// middleware.RealIP already rewrote RemoteAddr from X-Forwarded-For
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (h *OrdersHandler) publishCreated(r *http.Request, ord *orders.Order, lineCount int) {
	if h.Producer == nil {
		return
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventOrderCreated,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      h.Service,
		TraceID:       r.Header.Get("X-Request-Id"),
		CorrelationID: ord.ID,
		Payload: kafkax.MustMarshal(orders.OrderCreatedPayload{
			OrderID:       ord.ID,
			OrderCode:     ord.OrderCode,
			CustomerEmail: ord.CustomerEmail,
			AmountTotal:   ord.AmountTotal,
			LineCount:     lineCount,
		}),
	}
	h.Producer.Publish(orders.PartitionKey(ord.ID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventOrderCreated)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if code == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing code"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	key := fmt.Sprintf(redisx.KeyOrderStatus, code)
	if h.Redis != nil {
		if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
			writeJSON(w, http.StatusOK, json.RawMessage(s))
			return
		}
	}

	status, err := h.Store.GetStatusByCode(ctx, code)
	if errors.Is(err, orders.ErrOrderNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "temporary failure"})
		return
	}
	body, _ := json.Marshal(map[string]any{"status": status})
	if h.Redis != nil {
		_ = h.Redis.Set(ctx, key, body, redisx.TTLStatusCache).Err()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

type productResp struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price"`
}

func (h *OrdersHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Store.ListProducts(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "temporary failure"})
		return
	}
	out := make([]productResp, 0, len(ps))
	for _, p := range ps {
		out = append(out, productResp{Code: p.Code, Name: p.Name, PriceCents: p.PriceCents})
	}
	writeJSON(w, http.StatusOK, out)
}

type addStockReq struct {
	Units []struct {
		Username string `json:"username"`
		Secret   string `json:"secret"`
	} `json:"units"`
}

func (h *OrdersHandler) addStock(w http.ResponseWriter, r *http.Request) {
	if !h.adminAuthorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	code := chi.URLParam(r, "code")

	var req addStockReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if len(req.Units) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no units"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	units := make([]orders.NewUnit, 0, len(req.Units))
	for _, u := range req.Units {
		if u.Username == "" || u.Secret == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unit missing username or secret"})
			return
		}
		sealed, err := h.Vault.Seal(u.Secret)
		if err != nil {
			h.Log.WithError(err).Error("seal secret failed")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "temporary failure"})
			return
		}
		units = append(units, orders.NewUnit{Username: u.Username, SecretSealed: sealed})
	}

	added, err := h.Stock.AddUnits(ctx, code, units)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int{"added": added})
}

func (h *OrdersHandler) adminAuthorized(r *http.Request) bool {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	return h.AdminKey != "" && subtle.ConstantTimeCompare([]byte(token), []byte(h.AdminKey)) == 1
}
