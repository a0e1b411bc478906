package handlers

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gardenpay/backend/internal/middleware"
	"github.com/gardenpay/backend/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// PaymentHandler exposes the payment order lifecycle over HTTP. All
// business decisions live in the services; these handlers only translate.
type PaymentHandler struct {
	orders *services.OrderService
	status *services.StatusService
}

func NewPaymentHandler(orders *services.OrderService, status *services.StatusService) *PaymentHandler {
	return &PaymentHandler{orders: orders, status: status}
}

type createPaymentRequest struct {
	Gateway     string          `json:"gateway"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	CardID      string          `json:"cardId,omitempty"`
	CardIDs     []string        `json:"cardIds,omitempty"`
	ItemPrice   decimal.Decimal `json:"itemPrice,omitempty"`
	GardenID    int64           `json:"gardenId,omitempty"`
	Description string          `json:"description,omitempty"`
}

// CreatePayment creates a payment order
// @Summary Create a payment order
// @Description Register a payment order against a gateway and return the payer redirect URL
// @Tags payments
// @Accept json
// @Produce json
// @Param payment body createPaymentRequest true "Payment data"
// @Success 201 {object} map[string]any
// @Failure 400 {object} services.ErrorResponse
// @Failure 500 {object} services.ErrorResponse
// @Router /payments [post]
func (h *PaymentHandler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req createPaymentRequest
	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	clientIP := r.RemoteAddr
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		clientIP = strings.Split(forwarded, ",")[0]
	}

	result, err := h.orders.CreateOrder(r.Context(), services.CreateOrderRequest{
		GatewayKind: req.Gateway,
		Amount:      req.Amount,
		Currency:    req.Currency,
		CardID:      req.CardID,
		CardIDs:     req.CardIDs,
		ItemPrice:   req.ItemPrice,
		GardenID:    req.GardenID,
		PayerRef:    middleware.PayerRef(r.Context()),
		Description: req.Description,
		ClientIP:    clientIP,
	})
	if err != nil {
		services.SendErrorResponse(w, "Payment creation failed", http.StatusBadRequest, err)
		return
	}

	response := map[string]any{
		"orderId":  result.Order.LocalOrderID,
		"status":   result.Order.Status,
		"amount":   result.Order.Amount,
		"currency": result.Order.Currency,
	}
	if result.RedirectURL != "" {
		response["redirectUrl"] = result.RedirectURL
	}
	if result.QRImage != "" {
		response["qrImage"] = result.QRImage
	}
	if result.GatewayError != "" {
		response["gatewayError"] = result.GatewayError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(response)
}

// GatewayCallback ingests an asynchronous gateway notification
// @Summary Gateway callback
// @Description Accept a payment status callback from a gateway and acknowledge it
// @Tags payments
// @Accept json
// @Produce json
// @Success 200 {object} map[string]bool
// @Failure 400 {object} services.ErrorResponse
// @Router /payments/callback [post]
func (h *PaymentHandler) GatewayCallback(w http.ResponseWriter, r *http.Request) {
	var req services.CallbackRequest

	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		req.BankOrderID = q.Get("order_id")
		req.LocalOrderID = q.Get("merchant_order_id")
		req.Status = q.Get("status")
		raw, _ := json.Marshal(map[string]string{
			"order_id":          req.BankOrderID,
			"merchant_order_id": req.LocalOrderID,
			"status":            req.Status,
		})
		req.RawPayload = raw
	default:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1_048_576))
		if err != nil {
			services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
			return
		}
		var payload struct {
			OrderID         string `json:"order_id"`
			MerchantOrderID string `json:"merchant_order_id"`
			Status          string `json:"status"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			services.SendErrorResponse(w, "Invalid callback payload", http.StatusBadRequest, nil)
			return
		}
		req.BankOrderID = payload.OrderID
		req.LocalOrderID = payload.MerchantOrderID
		req.Status = payload.Status
		req.RawPayload = body
	}

	ack, err := h.status.HandleCallback(r.Context(), req)
	if err != nil {
		log.Printf("[CALLBACK] handling failed: %v", err)
		services.SendErrorResponse(w, "Callback processing failed", http.StatusBadRequest, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"ok": ack})
}

// GetPaymentStatus resolves and returns an order's canonical status
// @Summary Get payment status
// @Description Resolve the canonical order status, consulting the gateway while non-terminal
// @Tags payments
// @Produce json
// @Param orderId path string true "Local order ID"
// @Param hint query string false "Redirect-page hint status (success/fail/cancel)"
// @Success 200 {object} map[string]any
// @Failure 404 {object} services.ErrorResponse
// @Router /payments/{orderId}/status [get]
func (h *PaymentHandler) GetPaymentStatus(w http.ResponseWriter, r *http.Request) {
	localOrderID := chi.URLParam(r, "orderId")
	hint := r.URL.Query().Get("hint")

	order, err := h.status.Resolve(r.Context(), localOrderID, hint)
	if err != nil {
		log.Printf("[STATUS] resolving %s failed: %v", localOrderID, err)
		services.SendErrorResponse(w, "Failed to resolve order status", http.StatusInternalServerError, nil)
		return
	}
	if order == nil {
		services.SendErrorResponse(w, "Order not found", http.StatusNotFound, nil)
		return
	}

	response := map[string]any{
		"orderId":  order.LocalOrderID,
		"status":   order.Status,
		"amount":   order.Amount,
		"currency": order.Currency,
	}
	if order.PaidAt != nil {
		response["paidAt"] = order.PaidAt.Format(time.RFC3339)
	}
	if order.CardID != "" {
		response["cardId"] = order.CardID
	}
	if len(order.CardIDs) > 0 {
		response["cardIds"] = order.CardIDs
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
