package gateway

import (
	"context"
	"encoding/json"

	"github.com/gardenpay/backend/internal/models"
	"github.com/shopspring/decimal"
)

// CreateOrderParams carries everything a gateway needs to register an order.
type CreateOrderParams struct {
	LocalOrderID string
	Amount       decimal.Decimal
	Currency     string
	Description  string
	Language     string
	ClientIP     string
}

// CreateOrderResult is the bank's answer to order registration. RedirectURL
// may be empty for gateways whose payment page URL is built locally from
// the id and secret.
type CreateOrderResult struct {
	BankOrderID     string
	BankOrderSecret string
	RedirectURL     string
}

// OrderDetails is a live status snapshot from the bank. RawStatus is in the
// gateway's own vocabulary; RawPayload is the full response body kept for
// the audit trail.
type OrderDetails struct {
	RawStatus  string
	RawPayload json.RawMessage
}

// Client is the contract both gateway variants implement. Implementations
// perform network I/O only and never mutate local state.
type Client interface {
	Kind() models.GatewayKind
	CreateOrder(ctx context.Context, params CreateOrderParams) (*CreateOrderResult, error)
	GetOrderDetails(ctx context.Context, bankOrderID, bankOrderSecret string) (*OrderDetails, error)
}
