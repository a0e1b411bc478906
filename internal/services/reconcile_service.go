package services

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

const reconcileBatchSize = 50

// ReconcileService is the background sweep that re-resolves stale
// non-terminal orders against the bank, catching payments whose callback
// never arrived. It runs on a cron schedule and uses the same status
// resolution engine as polling and callbacks.
type ReconcileService struct {
	db     *sql.DB
	status *StatusService
	cron   *cron.Cron
	minAge time.Duration
}

func NewReconcileService(db *sql.DB, status *StatusService) *ReconcileService {
	return &ReconcileService{
		db:     db,
		status: status,
		cron:   cron.New(),
		minAge: 2 * time.Minute,
	}
}

// Start schedules the sweep. Call Stop on shutdown.
func (s *ReconcileService) Start(schedule string) error {
	if schedule == "" {
		schedule = "@every 5m"
	}
	if _, err := s.cron.AddFunc(schedule, s.Sweep); err != nil {
		return err
	}
	s.cron.Start()
	log.Printf("[RECONCILE] sweep scheduled: %s", schedule)
	return nil
}

func (s *ReconcileService) Stop() {
	s.cron.Stop()
}

// Sweep re-resolves a batch of stale non-terminal orders that already hold
// a bank reference. Orders without one cannot be queried and are left for
// the payer-side retry.
func (s *ReconcileService) Sweep() {
	cutoff := time.Now().Add(-s.minAge)

	rows, err := s.db.Query(`
		SELECT local_order_id FROM payment_orders
		WHERE status IN ('pending', 'processing')
		  AND bank_order_id IS NOT NULL
		  AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`, cutoff, reconcileBatchSize)
	if err != nil {
		log.Printf("[RECONCILE] failed to list stale orders: %v", err)
		return
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			log.Printf("[RECONCILE] scan failed: %v", err)
			return
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		log.Printf("[RECONCILE] listing stale orders: %v", err)
		return
	}

	if len(ids) == 0 {
		return
	}
	log.Printf("[RECONCILE] re-resolving %d stale orders", len(ids))

	ctx := context.Background()
	for _, id := range ids {
		if _, err := s.status.Resolve(ctx, id, ""); err != nil {
			log.Printf("[RECONCILE] resolve %s failed: %v", id, err)
		}
	}
}
