package audit

import (
	"encoding/json"
	"log"
	"time"

	"github.com/shopspring/decimal"
)

type Event struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	OrderID   string    `json:"order_id"`
	AccountID string    `json:"account_id,omitempty"`
	Amount    string    `json:"amount,omitempty"`
	Status    string    `json:"status"`
	Details   any       `json:"details,omitempty"`
}

type Logger struct{}

func NewLogger() *Logger {
	return &Logger{}
}

// LogCredit records one applied balance credit.
func (a *Logger) LogCredit(orderID, accountID string, amount decimal.Decimal, details string) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: "CREDIT",
		OrderID:   orderID,
		AccountID: accountID,
		Amount:    amount.StringFixed(2),
		Status:    "SUCCESS",
		Details:   map[string]string{"details": details},
	})
}

// LogSkip records a settlement sub-step that was skipped. Every skip must
// be auditable; skips never abort the remaining sub-steps.
func (a *Logger) LogSkip(orderID, step, reason string) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: "SETTLEMENT_SKIP",
		OrderID:   orderID,
		Status:    "SKIPPED",
		Details:   map[string]string{"step": step, "reason": reason},
	})
}

func (a *Logger) LogError(orderID, accountID string, err error) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: "ERROR",
		OrderID:   orderID,
		AccountID: accountID,
		Status:    "FAILED",
		Details:   map[string]string{"error": err.Error()},
	})
}

func (a *Logger) LogOperation(orderID, accountID, operation, details string) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: operation,
		OrderID:   orderID,
		AccountID: accountID,
		Status:    "SUCCESS",
		Details:   map[string]string{"details": details},
	})
}

func (a *Logger) log(event Event) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
