package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gardenpay/backend/internal/config"
	"github.com/gardenpay/backend/internal/gateway"
	"github.com/gardenpay/backend/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func newOrderService(t *testing.T, gw gateway.Client, cfg *config.GatewayConfig) (*OrderService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	if cfg == nil {
		cfg = &config.GatewayConfig{}
	}
	gateways := map[models.GatewayKind]gateway.Client{gw.Kind(): gw}
	return NewOrderService(db, gateways, cfg), mock
}

func TestOrderService_CreateOrder(t *testing.T) {
	t.Run("successful creation with gateway redirect", func(t *testing.T) {
		gw := &stubGateway{
			kind: models.GatewayFlitt,
			createResult: &gateway.CreateOrderResult{
				BankOrderID: "bank-42",
				RedirectURL: "https://pay.example/bank-42",
			},
		}
		service, mock := newOrderService(t, gw, nil)

		mock.ExpectQuery("SELECT EXISTS").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectExec("INSERT INTO payment_orders").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE payment_orders").
			WithArgs("bank-42", "", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		result, err := service.CreateOrder(context.Background(), CreateOrderRequest{
			GatewayKind: "flitt",
			Amount:      decimal.NewFromFloat(25.00),
			Currency:    "gel",
			CardID:      "card-1",
			PayerRef:    "payer-9",
		})

		assert.NoError(t, err)
		assert.Empty(t, result.GatewayError)
		assert.Equal(t, models.StatusPending, result.Order.Status)
		assert.Equal(t, "GEL", result.Order.Currency)
		assert.Equal(t, "bank-42", result.Order.BankOrderID)
		assert.Equal(t, "https://pay.example/bank-42", result.RedirectURL)
		assert.NotEmpty(t, result.QRImage)
		assert.Equal(t, 1, gw.createCalls)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("redirect built locally when gateway returns none", func(t *testing.T) {
		gw := &stubGateway{
			kind: models.GatewayEcomm,
			createResult: &gateway.CreateOrderResult{
				BankOrderID:     "bank-77",
				BankOrderSecret: "s3cret",
			},
		}
		cfg := &config.GatewayConfig{
			Ecomm: config.EcommSettings{PaymentPageURL: "https://bank.example/pay"},
		}
		service, mock := newOrderService(t, gw, cfg)

		mock.ExpectQuery("SELECT EXISTS").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectExec("INSERT INTO payment_orders").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE payment_orders").
			WillReturnResult(sqlmock.NewResult(0, 1))

		result, err := service.CreateOrder(context.Background(), CreateOrderRequest{
			GatewayKind: "ecomm",
			Amount:      decimal.NewFromInt(10),
			Currency:    "GEL",
			CardID:      "card-1",
		})

		assert.NoError(t, err)
		assert.Contains(t, result.RedirectURL, "https://bank.example/pay?")
		assert.Contains(t, result.RedirectURL, "order_id=bank-77")
		assert.Contains(t, result.RedirectURL, "session=s3cret")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("gateway failure leaves a retriable pending order", func(t *testing.T) {
		gw := &stubGateway{
			kind:      models.GatewayFlitt,
			createErr: &gateway.TransportError{Kind: "flitt", Err: errors.New("connection refused")},
		}
		service, mock := newOrderService(t, gw, nil)

		mock.ExpectQuery("SELECT EXISTS").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectExec("INSERT INTO payment_orders").
			WillReturnResult(sqlmock.NewResult(1, 1))
		// No bank reference update: registration never succeeded.

		result, err := service.CreateOrder(context.Background(), CreateOrderRequest{
			GatewayKind: "flitt",
			Amount:      decimal.NewFromInt(10),
			Currency:    "GEL",
			CardID:      "card-1",
		})

		assert.NoError(t, err)
		assert.NotEmpty(t, result.GatewayError)
		assert.Equal(t, models.StatusPending, result.Order.Status)
		assert.Empty(t, result.Order.BankOrderID)
		assert.Empty(t, result.RedirectURL)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("bulk order passes item validation", func(t *testing.T) {
		gw := &stubGateway{
			kind:         models.GatewayFlitt,
			createResult: &gateway.CreateOrderResult{BankOrderID: "bank-1"},
		}
		service, mock := newOrderService(t, gw, nil)

		mock.ExpectQuery("SELECT EXISTS").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectExec("INSERT INTO payment_orders").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE payment_orders").
			WillReturnResult(sqlmock.NewResult(0, 1))

		result, err := service.CreateOrder(context.Background(), CreateOrderRequest{
			GatewayKind: "flitt",
			Amount:      decimal.NewFromInt(30),
			Currency:    "GEL",
			CardIDs:     []string{"card-1", "card-2", "card-3"},
			ItemPrice:   decimal.NewFromInt(10),
		})

		assert.NoError(t, err)
		assert.True(t, result.Order.IsBulk())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("bulk amount must agree with the item total", func(t *testing.T) {
		gw := &stubGateway{
			kind:         models.GatewayFlitt,
			createResult: &gateway.CreateOrderResult{BankOrderID: "bank-1"},
		}
		service, mock := newOrderService(t, gw, nil)

		_, err := service.CreateOrder(context.Background(), CreateOrderRequest{
			GatewayKind: "flitt",
			Amount:      decimal.NewFromInt(50), // 3 x 10 expected
			Currency:    "GEL",
			CardIDs:     []string{"card-1", "card-2", "card-3"},
			ItemPrice:   decimal.NewFromInt(10),
		})

		assert.Error(t, err)
		assert.Equal(t, 0, gw.createCalls)

		// Within a cent per item of rounding slack the order goes through.
		mock.ExpectQuery("SELECT EXISTS").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectExec("INSERT INTO payment_orders").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE payment_orders").
			WillReturnResult(sqlmock.NewResult(0, 1))

		result, err := service.CreateOrder(context.Background(), CreateOrderRequest{
			GatewayKind: "flitt",
			Amount:      decimal.NewFromFloat(30.02),
			Currency:    "GEL",
			CardIDs:     []string{"card-1", "card-2", "card-3"},
			ItemPrice:   decimal.NewFromInt(10),
		})

		assert.NoError(t, err)
		assert.True(t, result.Order.IsBulk())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects invalid requests before touching anything", func(t *testing.T) {
		gw := &stubGateway{kind: models.GatewayFlitt}
		service, mock := newOrderService(t, gw, nil)

		cases := []CreateOrderRequest{
			{GatewayKind: "flitt", Amount: decimal.Zero, Currency: "GEL", CardID: "c"},
			{GatewayKind: "flitt", Amount: decimal.NewFromInt(-5), Currency: "GEL", CardID: "c"},
			{GatewayKind: "flitt", Amount: decimal.NewFromInt(10), Currency: "GEL"},
			{GatewayKind: "flitt", Amount: decimal.NewFromInt(10), Currency: "GEL", CardIDs: []string{"a"}},
			{GatewayKind: "carrier-pigeon", Amount: decimal.NewFromInt(10), Currency: "GEL", CardID: "c"},
			{GatewayKind: "flitt", Amount: decimal.NewFromInt(10), Currency: "GEORGIAN_LARI", CardID: "c"},
		}
		for _, req := range cases {
			_, err := service.CreateOrder(context.Background(), req)
			assert.Error(t, err)
		}

		assert.Equal(t, 0, gw.createCalls)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestOrderService_GetOrder(t *testing.T) {
	gw := &stubGateway{kind: models.GatewayFlitt}
	service, mock := newOrderService(t, gw, nil)

	t.Run("found", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM payment_orders WHERE local_order_id").
			WithArgs("GP-ABC").
			WillReturnRows(sqlmock.NewRows(orderTestColumns).
				AddRow("GP-ABC", "flitt", "bank-42", "", "25.00", "GEL", "pending",
					"payer-9", 5, "card-1", nil, "0", nil, time.Now(), nil))

		order, err := service.GetOrder("GP-ABC")

		assert.NoError(t, err)
		assert.Equal(t, "GP-ABC", order.LocalOrderID)
		assert.Equal(t, models.GatewayFlitt, order.GatewayKind)
		assert.True(t, order.Amount.Equal(decimal.NewFromFloat(25.00)))
	})

	t.Run("missing order is nil, not an error", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM payment_orders WHERE local_order_id").
			WithArgs("GP-NOPE").
			WillReturnRows(sqlmock.NewRows(orderTestColumns))

		order, err := service.GetOrder("GP-NOPE")

		assert.NoError(t, err)
		assert.Nil(t, order)
	})
}
