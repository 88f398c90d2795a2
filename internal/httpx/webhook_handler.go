package httpx

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/radityapw/go-digital-orders/internal/orders"
	"github.com/radityapw/go-digital-orders/internal/payment"
)

type WebhookHandler struct {
	Processor *payment.Processor
	Log       *logrus.Entry
}

type webhookResp struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (h *WebhookHandler) Register(r *chi.Mux) {
	r.Post("/webhooks/payment/{provider}", h.handle)
}

func (h *WebhookHandler) handle(w http.ResponseWriter, r *http.Request) {
	bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if err := h.Processor.Authenticate(bearer); err != nil {
		// log the failure, answer a generic 401
		h.Log.WithField("remote", r.RemoteAddr).Warn("webhook auth failed")
		writeJSON(w, http.StatusUnauthorized, webhookResp{Message: "unauthorized"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, webhookResp{Message: "unreadable body"})
		return
	}

	provider := chi.URLParam(r, "provider")
	out, err := h.Processor.Process(r.Context(), provider, body)
	switch {
	case errors.Is(err, payment.ErrUnknownProvider):
		writeJSON(w, http.StatusNotFound, webhookResp{Message: "unknown provider"})
		return
	case errors.Is(err, payment.ErrBadPayload):
		writeJSON(w, http.StatusBadRequest, webhookResp{Message: "malformed payload"})
		return
	case errors.Is(err, orders.ErrAmountMismatch):
		// terminal for this attempt; the provider must not retry it
		writeJSON(w, http.StatusBadRequest, webhookResp{Message: "paid amount below order total"})
		return
	case err != nil:
		// transient: a 5xx rides the provider's retry queue, and the
		// processor's idempotency makes the retry safe
		h.Log.WithError(err).Error("webhook processing failed")
		writeJSON(w, http.StatusInternalServerError, webhookResp{Message: "temporary failure"})
		return
	}

	writeJSON(w, http.StatusOK, webhookResp{Success: out.Success, Message: out.Message})
}
