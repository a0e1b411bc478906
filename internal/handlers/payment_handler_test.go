package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gardenpay/backend/internal/config"
	"github.com/gardenpay/backend/internal/gateway"
	"github.com/gardenpay/backend/internal/models"
	"github.com/gardenpay/backend/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

var orderTestColumns = []string{
	"local_order_id", "gateway_kind", "bank_order_id", "bank_order_secret",
	"amount", "currency", "status", "payer_ref", "garden_id", "card_id",
	"card_ids", "item_price", "metadata", "created_at", "paid_at",
}

func newTestHandler(t *testing.T) (*PaymentHandler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	gateways := map[models.GatewayKind]gateway.Client{}
	settlement := services.NewSettlementService(db, "platform")
	status := services.NewStatusService(db, nil, gateways, settlement)
	orders := services.NewOrderService(db, gateways, &config.GatewayConfig{})
	return NewPaymentHandler(orders, status), mock
}

func newTestRouter(h *PaymentHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Post("/payments", h.CreatePayment)
	r.Get("/payments/callback", h.GatewayCallback)
	r.Post("/payments/callback", h.GatewayCallback)
	r.Get("/payments/{orderId}/status", h.GetPaymentStatus)
	return r
}

func TestPaymentHandler_CreatePayment(t *testing.T) {
	handler, _ := newTestHandler(t)
	router := newTestRouter(handler)

	t.Run("invalid request body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/payments", bytes.NewBufferString("not json"))
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown fields rejected", func(t *testing.T) {
		body := `{"gateway":"flitt","amount":10,"currency":"GEL","cardId":"c1","surprise":true}`
		req := httptest.NewRequest("POST", "/payments", bytes.NewBufferString(body))
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unconfigured gateway kind rejected", func(t *testing.T) {
		body := `{"gateway":"flitt","amount":10,"currency":"GEL","cardId":"c1"}`
		req := httptest.NewRequest("POST", "/payments", bytes.NewBufferString(body))
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var resp services.ErrorResponse
		json.Unmarshal(w.Body.Bytes(), &resp)
		assert.NotEmpty(t, resp.Error)
	})
}

func TestPaymentHandler_GatewayCallback(t *testing.T) {
	t.Run("unknown order is not acknowledged", func(t *testing.T) {
		handler, mock := newTestHandler(t)
		router := newTestRouter(handler)

		mock.ExpectQuery("SELECT (.+) FROM payment_orders WHERE bank_order_id").
			WithArgs("bank-unknown").
			WillReturnRows(sqlmock.NewRows(orderTestColumns))

		req := httptest.NewRequest("GET", "/payments/callback?order_id=bank-unknown&status=approved", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var resp map[string]bool
		json.Unmarshal(w.Body.Bytes(), &resp)
		assert.False(t, resp["ok"])
	})

	t.Run("duplicate terminal callback acknowledged", func(t *testing.T) {
		handler, mock := newTestHandler(t)
		router := newTestRouter(handler)

		mock.ExpectQuery("SELECT (.+) FROM payment_orders WHERE bank_order_id").
			WithArgs("bank-1").
			WillReturnRows(sqlmock.NewRows(orderTestColumns).
				AddRow("GP-1", "flitt", "bank-1", "", "100.00", "GEL", "completed",
					"payer-1", 5, "card-1", nil, "0", nil, time.Now(), time.Now()))
		mock.ExpectExec("UPDATE payment_orders").
			WillReturnResult(sqlmock.NewResult(0, 1)) // payload recorded

		body := `{"order_id":"bank-1","status":"approved"}`
		req := httptest.NewRequest("POST", "/payments/callback", bytes.NewBufferString(body))
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var resp map[string]bool
		json.Unmarshal(w.Body.Bytes(), &resp)
		assert.True(t, resp["ok"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("malformed POST body rejected", func(t *testing.T) {
		handler, _ := newTestHandler(t)
		router := newTestRouter(handler)

		req := httptest.NewRequest("POST", "/payments/callback", bytes.NewBufferString("{{"))
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestPaymentHandler_GetPaymentStatus(t *testing.T) {
	t.Run("terminal order returned with payment details", func(t *testing.T) {
		handler, mock := newTestHandler(t)
		router := newTestRouter(handler)

		paidAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
		mock.ExpectQuery("SELECT (.+) FROM payment_orders WHERE local_order_id").
			WithArgs("GP-1").
			WillReturnRows(sqlmock.NewRows(orderTestColumns).
				AddRow("GP-1", "flitt", "bank-1", "", "25.00", "GEL", "completed",
					"payer-1", 5, "card-1", nil, "0", nil, time.Now(), paidAt))

		req := httptest.NewRequest("GET", "/payments/GP-1/status", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var resp map[string]any
		json.Unmarshal(w.Body.Bytes(), &resp)
		assert.Equal(t, "completed", resp["status"])
		assert.Equal(t, "GP-1", resp["orderId"])
		assert.Equal(t, "card-1", resp["cardId"])
		assert.Equal(t, "2026-08-01T12:00:00Z", resp["paidAt"])
	})

	t.Run("missing order is 404", func(t *testing.T) {
		handler, mock := newTestHandler(t)
		router := newTestRouter(handler)

		mock.ExpectQuery("SELECT (.+) FROM payment_orders WHERE local_order_id").
			WithArgs("GP-NOPE").
			WillReturnRows(sqlmock.NewRows(orderTestColumns))

		req := httptest.NewRequest("GET", "/payments/GP-NOPE/status", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
