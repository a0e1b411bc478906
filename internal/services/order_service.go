package services

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/gardenpay/backend/internal/audit"
	"github.com/gardenpay/backend/internal/config"
	"github.com/gardenpay/backend/internal/gateway"
	"github.com/gardenpay/backend/internal/models"
	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"
	"github.com/shopspring/decimal"
)

const maxIDGenerationAttempts = 5

// OrderService creates local payment orders, drives gateway registration
// and builds the payer redirect URL.
type OrderService struct {
	db        *sql.DB
	gateways  map[models.GatewayKind]gateway.Client
	config    *config.GatewayConfig
	validator *ValidationHelper
	audit     *audit.Logger
}

func NewOrderService(db *sql.DB, gateways map[models.GatewayKind]gateway.Client, cfg *config.GatewayConfig) *OrderService {
	return &OrderService{
		db:        db,
		gateways:  gateways,
		config:    cfg,
		validator: NewValidationHelper(),
		audit:     audit.NewLogger(),
	}
}

// CreateOrderRequest is the service-level order creation input. Either
// CardID (single) or CardIDs with ItemPrice (bulk) must be set.
type CreateOrderRequest struct {
	GatewayKind string `validate:"required,oneof=flitt ecomm"`
	Amount      decimal.Decimal
	Currency    string `validate:"required,len=3"`
	CardID      string
	CardIDs     []string
	ItemPrice   decimal.Decimal
	GardenID    int64
	PayerRef    string
	Description string `validate:"max=200"`
	ClientIP    string
}

// CreateOrderResult is returned to the caller. GatewayError is set when the
// bank-side registration failed; the local order still exists in pending
// and is retriable.
type CreateOrderResult struct {
	Order        *models.Order
	RedirectURL  string
	QRImage      string // base64 PNG of the redirect URL, for POS display
	GatewayError string
}

func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	if err := s.validator.ValidateStruct(&req); err != nil {
		return nil, err
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("amount must be positive")
	}
	if req.CardID == "" && len(req.CardIDs) == 0 {
		return nil, fmt.Errorf("a beneficiary card is required")
	}
	if len(req.CardIDs) > 0 {
		if !req.ItemPrice.IsPositive() {
			return nil, fmt.Errorf("bulk orders require a positive per-item price")
		}
		// The gross must agree with the fan-out, within a cent of
		// rounding slack per item.
		expected := req.ItemPrice.Mul(decimal.NewFromInt(int64(len(req.CardIDs))))
		tolerance := decimal.New(int64(len(req.CardIDs)), -models.CurrencyScale)
		if req.Amount.Sub(expected).Abs().GreaterThan(tolerance) {
			return nil, fmt.Errorf("amount %s does not match %d items at %s each",
				req.Amount.StringFixed(2), len(req.CardIDs), req.ItemPrice.StringFixed(2))
		}
	}

	gw, ok := s.gateways[models.GatewayKind(req.GatewayKind)]
	if !ok {
		return nil, fmt.Errorf("unknown gateway kind %q", req.GatewayKind)
	}

	localOrderID, err := s.generateLocalOrderID()
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		LocalOrderID: localOrderID,
		GatewayKind:  models.GatewayKind(req.GatewayKind),
		Amount:       req.Amount,
		Currency:     strings.ToUpper(req.Currency),
		Status:       models.StatusPending,
		PayerRef:     req.PayerRef,
		GardenID:     req.GardenID,
		CardID:       req.CardID,
		CardIDs:      models.StringList(req.CardIDs),
		ItemPrice:    req.ItemPrice,
		Metadata:     models.Metadata{"description": req.Description},
		CreatedAt:    time.Now(),
	}

	if err := s.insertOrder(order); err != nil {
		return nil, fmt.Errorf("failed to store order: %w", err)
	}

	created, err := gw.CreateOrder(ctx, gateway.CreateOrderParams{
		LocalOrderID: localOrderID,
		Amount:       req.Amount,
		Currency:     order.Currency,
		Description:  req.Description,
		ClientIP:     req.ClientIP,
	})
	if err != nil {
		// The order stays pending with no bank reference. That is a valid
		// retriable state, not a failure of order creation itself.
		log.Printf("[ORDER] gateway registration failed for %s: %v", localOrderID, err)
		s.audit.LogError(localOrderID, req.PayerRef, err)
		return &CreateOrderResult{Order: order, GatewayError: err.Error()}, nil
	}

	order.BankOrderID = created.BankOrderID
	order.BankOrderSecret = created.BankOrderSecret
	if err := s.storeBankReference(localOrderID, created.BankOrderID, created.BankOrderSecret); err != nil {
		return nil, fmt.Errorf("failed to store bank reference: %w", err)
	}

	redirectURL := created.RedirectURL
	if redirectURL == "" {
		redirectURL = s.buildRedirectURL(order.GatewayKind, created.BankOrderID, created.BankOrderSecret)
	}

	result := &CreateOrderResult{Order: order, RedirectURL: redirectURL}
	if png, err := qrcode.Encode(redirectURL, qrcode.Medium, 256); err == nil {
		result.QRImage = base64.StdEncoding.EncodeToString(png)
	}

	log.Printf("[ORDER] created %s via %s: %s %s", localOrderID, req.GatewayKind, req.Amount.StringFixed(2), order.Currency)
	return result, nil
}

// generateLocalOrderID produces a platform order id, regenerating on the
// (practically impossible) collision until a free id is found.
func (s *OrderService) generateLocalOrderID() (string, error) {
	for attempt := 0; attempt < maxIDGenerationAttempts; attempt++ {
		id := "GP-" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))

		var exists bool
		err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM payment_orders WHERE local_order_id = $1)`, id).Scan(&exists)
		if err != nil {
			return "", err
		}
		if !exists {
			return id, nil
		}
		log.Printf("[ORDER] order id collision on attempt %d, regenerating", attempt+1)
	}
	return "", fmt.Errorf("could not generate a unique order id")
}

// buildRedirectURL combines the gateway's hosted payment page with the
// bank-issued credentials as query parameters.
func (s *OrderService) buildRedirectURL(kind models.GatewayKind, bankOrderID, bankOrderSecret string) string {
	base := s.config.PaymentPageURL(string(kind))
	if base == "" {
		return ""
	}

	params := url.Values{}
	params.Set("order_id", bankOrderID)
	if bankOrderSecret != "" {
		params.Set("session", bankOrderSecret)
	}
	return base + "?" + params.Encode()
}

func (s *OrderService) insertOrder(order *models.Order) error {
	_, err := s.db.Exec(`
		INSERT INTO payment_orders
		(local_order_id, gateway_kind, amount, currency, status, payer_ref, garden_id, card_id, card_ids, item_price, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, 0), NULLIF($8, ''), $9, NULLIF($10, 0), $11, $12)
	`, order.LocalOrderID, order.GatewayKind, order.Amount, order.Currency, order.Status,
		order.PayerRef, order.GardenID, order.CardID, order.CardIDs, order.ItemPrice,
		order.Metadata, order.CreatedAt)
	return err
}

func (s *OrderService) storeBankReference(localOrderID, bankOrderID, bankOrderSecret string) error {
	_, err := s.db.Exec(`
		UPDATE payment_orders
		SET bank_order_id = $1, bank_order_secret = $2
		WHERE local_order_id = $3
	`, bankOrderID, bankOrderSecret, localOrderID)
	return err
}

const orderColumns = `
	local_order_id, gateway_kind, COALESCE(bank_order_id, ''), COALESCE(bank_order_secret, ''),
	amount, currency, status, COALESCE(payer_ref, ''), COALESCE(garden_id, 0), COALESCE(card_id, ''),
	card_ids, COALESCE(item_price, 0), metadata, created_at, paid_at`

// GetOrder fetches an order by its platform id. A missing order is
// returned as nil, not as an error.
func (s *OrderService) GetOrder(localOrderID string) (*models.Order, error) {
	return scanOrder(s.db.QueryRow(`
		SELECT `+orderColumns+` FROM payment_orders WHERE local_order_id = $1
	`, localOrderID))
}

// GetOrderByBankID fetches an order by the bank-assigned id.
func (s *OrderService) GetOrderByBankID(bankOrderID string) (*models.Order, error) {
	return scanOrder(s.db.QueryRow(`
		SELECT `+orderColumns+` FROM payment_orders WHERE bank_order_id = $1
	`, bankOrderID))
}

func scanOrder(row *sql.Row) (*models.Order, error) {
	order := &models.Order{}
	err := row.Scan(
		&order.LocalOrderID, &order.GatewayKind, &order.BankOrderID, &order.BankOrderSecret,
		&order.Amount, &order.Currency, &order.Status, &order.PayerRef, &order.GardenID,
		&order.CardID, &order.CardIDs, &order.ItemPrice, &order.Metadata,
		&order.CreatedAt, &order.PaidAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return order, nil
}
