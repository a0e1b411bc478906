package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/gardenpay/backend/internal/audit"
	"github.com/gardenpay/backend/internal/models"
	"github.com/shopspring/decimal"
)

// SettlementService applies the one-time financial consequences of an
// order reaching completed: ledger fan-out, garden credit, revenue split
// and license renewal. It is invoked only by the status resolution engine,
// after that engine has won the atomic pending→completed transition.
//
// Sub-steps fail independently: a failed lookup or credit is audited and
// skipped, never rolled back or allowed to abort the remaining steps, and
// never un-completes the order.
type SettlementService struct {
	db                *sql.DB
	settlementAccount string
	audit             *audit.Logger
}

func NewSettlementService(db *sql.DB, settlementAccount string) *SettlementService {
	return &SettlementService{
		db:                db,
		settlementAccount: settlementAccount,
		audit:             audit.NewLogger(),
	}
}

// SettlementSummary describes what one settlement pass actually applied.
type SettlementSummary struct {
	OrderID       string
	LedgerEntries int
	SkippedSteps  []string
	Split         *models.RevenueSplit
}

type settlementItem struct {
	CardID string
	Amount decimal.Decimal
}

// SettleOrder runs the settlement algorithm for a completed order. Safe to
// re-enter: the unique settlement key makes ledger writes idempotent, and
// the caller's conditional status transition ensures balances are credited
// by exactly one resolver.
func (s *SettlementService) SettleOrder(ctx context.Context, order *models.Order) *SettlementSummary {
	summary := &SettlementSummary{OrderID: order.LocalOrderID}

	items := s.orderItems(order)
	if len(items) == 0 {
		s.skip(summary, "items", "order has no beneficiary items")
		return summary
	}

	// Ledger fan-out: one row per beneficiary item, unique settlement key.
	for _, item := range items {
		created, err := s.createLedgerEntry(order, item)
		if err != nil {
			s.skip(summary, "ledger:"+item.CardID, err.Error())
			continue
		}
		if !created {
			s.audit.LogSkip(order.LocalOrderID, "ledger:"+item.CardID, "settlement key already ledgered")
			continue
		}
		summary.LedgerEntries++
	}

	// The owning garden is credited the full gross amount exactly once,
	// regardless of how many items the order fans out to.
	gardenID, err := s.resolveGarden(order, items[0].CardID)
	if err != nil {
		s.skip(summary, "garden", err.Error())
	} else {
		if err := s.creditGarden(gardenID, order.Amount); err != nil {
			s.skip(summary, "garden_credit", err.Error())
		} else {
			s.audit.LogCredit(order.LocalOrderID, fmt.Sprintf("garden:%d", gardenID), order.Amount, "gross credited to garden")
		}

		s.settleRevenueShare(order, gardenID, summary)
	}

	// License renewal: expiry becomes one year from now, a renewal rather
	// than an extension of whatever was there before.
	expiry := time.Now().AddDate(1, 0, 0)
	for _, item := range items {
		if err := s.renewLicense(item.CardID, expiry); err != nil {
			s.skip(summary, "license:"+item.CardID, err.Error())
			continue
		}
		s.audit.LogOperation(order.LocalOrderID, item.CardID, "LICENSE_RENEWED",
			"expires "+expiry.Format("2006-01-02"))
	}

	log.Printf("[SETTLEMENT] order %s settled: %d ledger entries, %d skipped steps",
		order.LocalOrderID, summary.LedgerEntries, len(summary.SkippedSteps))
	return summary
}

// settleRevenueShare resolves the distributor chain and applies the split.
// With no distributor at all, the platform account takes 100%.
func (s *SettlementService) settleRevenueShare(order *models.Order, gardenID int64, summary *SettlementSummary) {
	distributor, err := s.resolveDistributor(gardenID)
	if err != nil {
		s.skip(summary, "distributor", err.Error())
		return
	}

	if distributor == nil {
		if err := s.creditPlatform(order.Amount); err != nil {
			s.skip(summary, "admin_credit", err.Error())
			return
		}
		s.audit.LogCredit(order.LocalOrderID, s.settlementAccount, order.Amount, "no distributor, full gross to platform")
		split := models.ComputeRevenueSplit(order.Amount, decimal.Zero, decimal.Zero)
		summary.Split = &split
		return
	}

	subPct := decimal.Zero
	var parentID int64
	if distributor.ParentID != nil {
		secondPct, err := s.parentSecondPercent(*distributor.ParentID)
		if err != nil {
			s.skip(summary, "sub_distributor", err.Error())
		} else if secondPct.IsPositive() {
			subPct = secondPct
			parentID = *distributor.ParentID
		}
	}

	split := models.ComputeRevenueSplit(order.Amount, distributor.Percent, subPct)
	summary.Split = &split

	if split.DistributorAmount.IsPositive() {
		if err := s.creditDistributor(distributor.ID, split.DistributorAmount); err != nil {
			s.skip(summary, "distributor_credit", err.Error())
		} else {
			s.audit.LogCredit(order.LocalOrderID, fmt.Sprintf("distributor:%d", distributor.ID),
				split.DistributorAmount, fmt.Sprintf("distributor share %s%%", split.DistributorPercent))
		}
	}

	if parentID != 0 && split.SubDistributorAmount.IsPositive() {
		if err := s.creditDistributor(parentID, split.SubDistributorAmount); err != nil {
			s.skip(summary, "sub_distributor_credit", err.Error())
		} else {
			s.audit.LogCredit(order.LocalOrderID, fmt.Sprintf("distributor:%d", parentID),
				split.SubDistributorAmount, fmt.Sprintf("sub-distributor share %s%%", split.SubDistributorPercent))
		}
	}

	if split.AdminAmount.IsPositive() {
		if err := s.creditPlatform(split.AdminAmount); err != nil {
			s.skip(summary, "admin_credit", err.Error())
		} else {
			s.audit.LogCredit(order.LocalOrderID, s.settlementAccount,
				split.AdminAmount, fmt.Sprintf("platform remainder %s%%", split.AdminPercent))
		}
	}
}

// orderItems expands an order into its beneficiary items: one full-amount
// item for a single order, N per-item-priced entries for a bulk one.
func (s *SettlementService) orderItems(order *models.Order) []settlementItem {
	if order.IsBulk() {
		items := make([]settlementItem, 0, len(order.CardIDs))
		for _, cardID := range order.CardIDs {
			items = append(items, settlementItem{CardID: cardID, Amount: order.ItemPrice})
		}
		return items
	}
	if order.CardID == "" {
		return nil
	}
	return []settlementItem{{CardID: order.CardID, Amount: order.Amount}}
}

// createLedgerEntry inserts one settlement credit. The unique settlement
// key turns replays into no-ops; created reports whether this call wrote
// the row.
func (s *SettlementService) createLedgerEntry(order *models.Order, item settlementItem) (bool, error) {
	result, err := s.db.Exec(`
		INSERT INTO payment_ledger (settlement_key, order_id, card_id, amount, currency, gateway_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (settlement_key) DO NOTHING
	`, models.SettlementKey(order.LocalOrderID, item.CardID), order.LocalOrderID, item.CardID,
		item.Amount, order.Currency, order.BankOrderID, time.Now())
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// resolveGarden finds the owning tenant: directly from the order, else by
// following beneficiary card → group → garden.
func (s *SettlementService) resolveGarden(order *models.Order, cardID string) (int64, error) {
	if order.GardenID != 0 {
		return order.GardenID, nil
	}

	var gardenID int64
	err := s.db.QueryRow(`
		SELECT g.garden_id FROM cards c
		JOIN groups g ON c.group_id = g.id
		WHERE c.card_id = $1
	`, cardID).Scan(&gardenID)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("no garden found for card %s", cardID)
	}
	if err != nil {
		return 0, err
	}
	return gardenID, nil
}

// resolveDistributor looks the garden's distributor up by membership,
// falling back to the country-level default. nil means no distributor.
func (s *SettlementService) resolveDistributor(gardenID int64) (*models.Distributor, error) {
	d := &models.Distributor{}
	err := s.db.QueryRow(`
		SELECT d.id, d.percent, d.parent_id FROM distributors d
		JOIN garden_distributors gd ON gd.distributor_id = d.id
		WHERE gd.garden_id = $1
		LIMIT 1
	`, gardenID).Scan(&d.ID, &d.Percent, &d.ParentID)
	if err == nil {
		return d, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	err = s.db.QueryRow(`
		SELECT d.id, d.percent, d.parent_id FROM distributors d
		JOIN gardens g ON g.country = d.country
		WHERE g.id = $1 AND d.is_default = true
		LIMIT 1
	`, gardenID).Scan(&d.ID, &d.Percent, &d.ParentID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *SettlementService) parentSecondPercent(parentID int64) (decimal.Decimal, error) {
	var pct decimal.Decimal
	err := s.db.QueryRow(`SELECT second_percent FROM distributors WHERE id = $1`, parentID).Scan(&pct)
	if err == sql.ErrNoRows {
		return decimal.Zero, fmt.Errorf("parent distributor %d not found", parentID)
	}
	if err != nil {
		return decimal.Zero, err
	}
	return pct, nil
}

// Balance mutations are atomic SQL deltas: concurrent settlements touching
// the same shared row must never lose an update.

func (s *SettlementService) creditGarden(gardenID int64, amount decimal.Decimal) error {
	return s.applyCredit(`UPDATE gardens SET balance = balance + $1 WHERE id = $2`, amount, gardenID)
}

func (s *SettlementService) creditDistributor(distributorID int64, amount decimal.Decimal) error {
	return s.applyCredit(`UPDATE distributors SET balance = balance + $1 WHERE id = $2`, amount, distributorID)
}

func (s *SettlementService) creditPlatform(amount decimal.Decimal) error {
	return s.applyCredit(`UPDATE platform_accounts SET balance = balance + $1 WHERE account_id = $2`, amount, s.settlementAccount)
}

func (s *SettlementService) applyCredit(query string, amount decimal.Decimal, accountRef any) error {
	result, err := s.db.Exec(query, amount, accountRef)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("account %v not found", accountRef)
	}
	return nil
}

func (s *SettlementService) renewLicense(cardID string, expiry time.Time) error {
	result, err := s.db.Exec(`
		UPDATE cards SET license_expires_at = $1 WHERE card_id = $2
	`, expiry, cardID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("card %s not found", cardID)
	}
	return nil
}

func (s *SettlementService) skip(summary *SettlementSummary, step, reason string) {
	summary.SkippedSteps = append(summary.SkippedSteps, step)
	log.Printf("[SETTLEMENT] order %s: skipping %s: %s", summary.OrderID, step, reason)
	s.audit.LogSkip(summary.OrderID, step, reason)
}
