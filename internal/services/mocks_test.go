package services

import (
	"context"

	"github.com/gardenpay/backend/internal/gateway"
	"github.com/gardenpay/backend/internal/models"
)

// stubGateway is a canned gateway client for service tests.
type stubGateway struct {
	kind models.GatewayKind

	createResult *gateway.CreateOrderResult
	createErr    error
	details      *gateway.OrderDetails
	detailsErr   error

	createCalls  int
	detailsCalls int
	lastParams   gateway.CreateOrderParams
}

func (s *stubGateway) Kind() models.GatewayKind {
	return s.kind
}

func (s *stubGateway) CreateOrder(_ context.Context, params gateway.CreateOrderParams) (*gateway.CreateOrderResult, error) {
	s.createCalls++
	s.lastParams = params
	return s.createResult, s.createErr
}

func (s *stubGateway) GetOrderDetails(_ context.Context, _, _ string) (*gateway.OrderDetails, error) {
	s.detailsCalls++
	return s.details, s.detailsErr
}

var orderTestColumns = []string{
	"local_order_id", "gateway_kind", "bank_order_id", "bank_order_secret",
	"amount", "currency", "status", "payer_ref", "garden_id", "card_id",
	"card_ids", "item_price", "metadata", "created_at", "paid_at",
}
