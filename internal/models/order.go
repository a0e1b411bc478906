package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the canonical status every gateway vocabulary maps into.
type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusProcessing OrderStatus = "processing"
	StatusCompleted  OrderStatus = "completed"
	StatusFailed     OrderStatus = "failed"
	StatusCancelled  OrderStatus = "cancelled"
)

// IsTerminal reports whether the status can never change again. Terminal
// statuses are monotonic: once reached they are never overwritten.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// GatewayKind identifies which payment gateway an order was created against.
type GatewayKind string

const (
	GatewayFlitt GatewayKind = "flitt" // bearer-token REST
	GatewayEcomm GatewayKind = "ecomm" // mutual-TLS REST
)

// Order is one payment attempt. It is created pending, mutated only by the
// status resolution and settlement engines, and never hard-deleted.
type Order struct {
	ID              int             `json:"id" db:"id"`
	LocalOrderID    string          `json:"localOrderId" db:"local_order_id"`
	GatewayKind     GatewayKind     `json:"gatewayKind" db:"gateway_kind"`
	BankOrderID     string          `json:"bankOrderId" db:"bank_order_id"`
	BankOrderSecret string          `json:"-" db:"bank_order_secret"` // never logged or serialized
	Amount          decimal.Decimal `json:"amount" db:"amount"`
	Currency        string          `json:"currency" db:"currency"`
	Status          OrderStatus     `json:"status" db:"status"`
	PayerRef        string          `json:"payerRef,omitempty" db:"payer_ref"`
	GardenID        int64           `json:"gardenId,omitempty" db:"garden_id"`
	CardID          string          `json:"cardId,omitempty" db:"card_id"`
	CardIDs         StringList      `json:"cardIds,omitempty" db:"card_ids"`
	ItemPrice       decimal.Decimal `json:"itemPrice,omitempty" db:"item_price"`
	Metadata        Metadata        `json:"metadata,omitempty" db:"metadata"`
	CreatedAt       time.Time       `json:"createdAt" db:"created_at"`
	PaidAt          *time.Time      `json:"paidAt,omitempty" db:"paid_at"`
}

// IsBulk reports whether the order earmarks multiple cards at a per-item
// price rather than a single beneficiary.
func (o *Order) IsBulk() bool {
	return len(o.CardIDs) > 0
}

// LedgerEntry is one settlement credit for one beneficiary card. The
// settlement key is unique, so re-running settlement is a no-op per item.
type LedgerEntry struct {
	ID            int             `json:"id" db:"id"`
	SettlementKey string          `json:"settlementKey" db:"settlement_key"`
	OrderID       string          `json:"orderId" db:"order_id"`
	CardID        string          `json:"cardId" db:"card_id"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	Currency      string          `json:"currency" db:"currency"`
	GatewayRef    string          `json:"gatewayRef" db:"gateway_ref"`
	CreatedAt     time.Time       `json:"createdAt" db:"created_at"`
}

// SettlementKey derives the deterministic idempotency key for one order item.
func SettlementKey(orderID, cardID string) string {
	return orderID + ":" + cardID
}

// Metadata type for JSONB fields
type Metadata map[string]any

// Value implements driver.Valuer for Metadata
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for Metadata
func (m *Metadata) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}

	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}

	return json.Unmarshal(b, m)
}

// StringList is a JSONB-backed string slice used for bulk beneficiary refs.
type StringList []string

// Value implements driver.Valuer for StringList
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner for StringList
func (l *StringList) Scan(value any) error {
	if value == nil {
		*l = nil
		return nil
	}

	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}

	return json.Unmarshal(b, l)
}
