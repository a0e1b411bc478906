package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Garden is a tenant: the kindergarten a paid-for card belongs to. Its
// balance is a running total mutated only by settlement, always by delta.
type Garden struct {
	ID      int64           `json:"id" db:"id"`
	Name    string          `json:"name" db:"name"`
	Country string          `json:"country" db:"country"`
	Balance decimal.Decimal `json:"balance" db:"balance"`
}

// Distributor is a revenue-share intermediary. A distributor with a parent
// gives that parent (the sub-distributor tier) the parent's second percent.
type Distributor struct {
	ID            int64           `json:"id" db:"id"`
	Name          string          `json:"name" db:"name"`
	Percent       decimal.Decimal `json:"percent" db:"percent"`
	SecondPercent decimal.Decimal `json:"secondPercent" db:"second_percent"`
	ParentID      *int64          `json:"parentId,omitempty" db:"parent_id"`
	Country       string          `json:"country" db:"country"`
	IsDefault     bool            `json:"isDefault" db:"is_default"`
	Balance       decimal.Decimal `json:"balance" db:"balance"`
}

// Card is the beneficiary record a payment grants an entitlement to. The
// license window is a single expiry date; activation renews it to one year
// from now regardless of the previous value.
type Card struct {
	ID               string     `json:"id" db:"card_id"`
	GroupID          int64      `json:"groupId" db:"group_id"`
	GardenID         int64      `json:"gardenId" db:"garden_id"`
	HolderName       string     `json:"holderName" db:"holder_name"`
	LicenseExpiresAt *time.Time `json:"licenseExpiresAt,omitempty" db:"license_expires_at"`
}
