package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/gardenpay/backend/internal/audit"
	"github.com/gardenpay/backend/internal/gateway"
	"github.com/gardenpay/backend/internal/models"
	"github.com/go-redis/redis/v8"
)

const terminalStatusTTL = 24 * time.Hour

// StatusService is the single status resolution engine used by payer
// polling, inbound gateway callbacks and the reconciliation sweep. It is
// the only component allowed to move an order's canonical status, and it
// invokes settlement exactly once on the first transition to completed.
type StatusService struct {
	db         *sql.DB
	redis      *redis.Client
	gateways   map[models.GatewayKind]gateway.Client
	settlement *SettlementService
	audit      *audit.Logger
}

func NewStatusService(db *sql.DB, redisClient *redis.Client, gateways map[models.GatewayKind]gateway.Client, settlement *SettlementService) *StatusService {
	return &StatusService{
		db:         db,
		redis:      redisClient,
		gateways:   gateways,
		settlement: settlement,
		audit:      audit.NewLogger(),
	}
}

// Resolve determines the current canonical status of an order. While the
// stored status is non-terminal the precedence is: live gateway query
// (adopted when terminal or processing), then the redirect-page hint
// (adopted only when terminal), else the order stays pending. A missing
// order is returned as nil.
func (s *StatusService) Resolve(ctx context.Context, localOrderID, hint string) (*models.Order, error) {
	order, err := s.getOrder(localOrderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, nil
	}

	if order.Status.IsTerminal() {
		return order, nil
	}

	// A terminal verdict cached by a concurrent resolver makes the live
	// query unnecessary.
	if cached := s.cachedTerminalStatus(ctx, localOrderID); cached != "" {
		return s.getOrder(localOrderID)
	}

	if order.BankOrderID != "" && s.canQueryLive(order) {
		if resolved := s.resolveFromGateway(ctx, order); resolved {
			return s.getOrder(localOrderID)
		}
		return order, nil
	}

	if hint != "" {
		mapped := gateway.MapHintStatus(hint)
		if mapped.IsTerminal() {
			s.adopt(ctx, order, mapped)
			return s.getOrder(localOrderID)
		}
	}

	return order, nil
}

// canQueryLive reports whether the order carries enough bank credentials
// for a live status query. The bearer gateway needs no per-order secret.
func (s *StatusService) canQueryLive(order *models.Order) bool {
	if order.GatewayKind == models.GatewayEcomm {
		return order.BankOrderSecret != ""
	}
	return true
}

// resolveFromGateway queries the bank and adopts the mapped status when it
// is terminal or processing. Transport failures are retryable: the order
// simply stays as it is until the next poll.
func (s *StatusService) resolveFromGateway(ctx context.Context, order *models.Order) bool {
	gw, ok := s.gateways[order.GatewayKind]
	if !ok {
		log.Printf("[STATUS] no gateway client for kind %s", order.GatewayKind)
		return false
	}

	details, err := gw.GetOrderDetails(ctx, order.BankOrderID, order.BankOrderSecret)
	if err != nil {
		if gateway.IsRetryable(err) {
			log.Printf("[STATUS] gateway query for %s timed out or failed transport, keeping %s: %v",
				order.LocalOrderID, order.Status, err)
		} else {
			log.Printf("[STATUS] gateway query for %s failed: %v", order.LocalOrderID, err)
		}
		return false
	}

	s.recordPayload(order.LocalOrderID, "last_gateway_payload", details.RawPayload)

	mapped := gateway.MapStatus(order.GatewayKind, details.RawStatus)
	if mapped.IsTerminal() || mapped == models.StatusProcessing {
		s.adopt(ctx, order, mapped)
		return true
	}
	return false
}

// CallbackRequest is an inbound asynchronous gateway notification. Either
// the bank order id or the local order id identifies the order.
type CallbackRequest struct {
	BankOrderID  string
	LocalOrderID string
	Status       string
	RawPayload   json.RawMessage
}

// HandleCallback ingests a gateway callback: the raw payload is persisted
// for audit before anything else, then the explicit status is mapped and
// adopted. Returns false when the order is unknown.
func (s *StatusService) HandleCallback(ctx context.Context, req CallbackRequest) (bool, error) {
	var order *models.Order
	var err error
	if req.LocalOrderID != "" {
		order, err = s.getOrder(req.LocalOrderID)
	} else if req.BankOrderID != "" {
		order, err = s.getOrderByBankID(req.BankOrderID)
	} else {
		return false, fmt.Errorf("callback carries no order identifier")
	}
	if err != nil {
		return false, err
	}
	if order == nil {
		log.Printf("[CALLBACK] unknown order (local=%q bank=%q)", req.LocalOrderID, req.BankOrderID)
		return false, nil
	}

	s.recordPayload(order.LocalOrderID, "last_callback_payload", req.RawPayload)

	if order.Status.IsTerminal() {
		// Duplicate callback for an already-settled order: acknowledge,
		// change nothing.
		log.Printf("[CALLBACK] order %s already %s, ignoring duplicate", order.LocalOrderID, order.Status)
		return true, nil
	}

	mapped := gateway.MapStatus(order.GatewayKind, req.Status)
	if mapped.IsTerminal() || mapped == models.StatusProcessing {
		s.adopt(ctx, order, mapped)
	}
	return true, nil
}

// adopt applies a resolved status. Terminal transitions go through an
// atomic conditional update so that of all concurrent resolvers exactly
// one wins; only the winner of a completed transition runs settlement.
func (s *StatusService) adopt(ctx context.Context, order *models.Order, status models.OrderStatus) {
	switch {
	case status == models.StatusCompleted:
		now := time.Now()
		result, err := s.db.Exec(`
			UPDATE payment_orders
			SET status = $1, paid_at = $2
			WHERE local_order_id = $3 AND status IN ('pending', 'processing')
		`, models.StatusCompleted, now, order.LocalOrderID)
		if err != nil {
			log.Printf("[STATUS] failed to complete order %s: %v", order.LocalOrderID, err)
			return
		}
		rows, _ := result.RowsAffected()
		if rows == 0 {
			// A concurrent resolver won the transition and has already
			// triggered settlement.
			log.Printf("[STATUS] order %s completed by a concurrent resolver", order.LocalOrderID)
			return
		}

		order.Status = models.StatusCompleted
		order.PaidAt = &now
		s.cacheTerminalStatus(ctx, order.LocalOrderID, models.StatusCompleted)
		s.audit.LogOperation(order.LocalOrderID, order.PayerRef, "ORDER_COMPLETED",
			fmt.Sprintf("amount=%s %s", order.Amount.StringFixed(2), order.Currency))

		s.settlement.SettleOrder(ctx, order)

	case status.IsTerminal():
		result, err := s.db.Exec(`
			UPDATE payment_orders
			SET status = $1
			WHERE local_order_id = $2 AND status IN ('pending', 'processing')
		`, status, order.LocalOrderID)
		if err != nil {
			log.Printf("[STATUS] failed to mark order %s %s: %v", order.LocalOrderID, status, err)
			return
		}
		if rows, _ := result.RowsAffected(); rows > 0 {
			order.Status = status
			s.cacheTerminalStatus(ctx, order.LocalOrderID, status)
			log.Printf("[STATUS] order %s is %s", order.LocalOrderID, status)
		}

	case status == models.StatusProcessing:
		result, err := s.db.Exec(`
			UPDATE payment_orders
			SET status = $1
			WHERE local_order_id = $2 AND status = 'pending'
		`, models.StatusProcessing, order.LocalOrderID)
		if err != nil {
			log.Printf("[STATUS] failed to mark order %s processing: %v", order.LocalOrderID, err)
			return
		}
		// A matched row is the only proof the order was still pending; a
		// concurrent resolver may already have moved it terminal.
		if rows, _ := result.RowsAffected(); rows > 0 {
			order.Status = models.StatusProcessing
		}
	}
}

// recordPayload merges a raw gateway payload into the order metadata for
// the audit trail.
func (s *StatusService) recordPayload(localOrderID, key string, payload json.RawMessage) {
	if len(payload) == 0 {
		return
	}
	patch, err := json.Marshal(map[string]any{
		key:                  json.RawMessage(payload),
		key + "_received_at": time.Now().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	_, err = s.db.Exec(`
		UPDATE payment_orders
		SET metadata = COALESCE(metadata, '{}'::jsonb) || $1
		WHERE local_order_id = $2
	`, patch, localOrderID)
	if err != nil {
		log.Printf("[STATUS] failed to record %s for %s: %v", key, localOrderID, err)
	}
}

func (s *StatusService) cacheTerminalStatus(ctx context.Context, localOrderID string, status models.OrderStatus) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Set(ctx, "order_status:"+localOrderID, string(status), terminalStatusTTL).Err(); err != nil {
		log.Printf("[STATUS] failed to cache status for %s: %v", localOrderID, err)
	}
}

func (s *StatusService) cachedTerminalStatus(ctx context.Context, localOrderID string) models.OrderStatus {
	if s.redis == nil {
		return ""
	}
	val, err := s.redis.Get(ctx, "order_status:"+localOrderID).Result()
	if err != nil {
		return ""
	}
	return models.OrderStatus(val)
}

func (s *StatusService) getOrder(localOrderID string) (*models.Order, error) {
	return scanOrder(s.db.QueryRow(`
		SELECT `+orderColumns+` FROM payment_orders WHERE local_order_id = $1
	`, localOrderID))
}

func (s *StatusService) getOrderByBankID(bankOrderID string) (*models.Order, error) {
	return scanOrder(s.db.QueryRow(`
		SELECT `+orderColumns+` FROM payment_orders WHERE bank_order_id = $1
	`, bankOrderID))
}
