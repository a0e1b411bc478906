package gateway

import (
	"strings"

	"github.com/gardenpay/backend/internal/models"
)

// Per-gateway status vocabularies. Lookup is case-insensitive and trims
// whitespace. Unrecognized values map to pending: a status we do not
// understand must never silently complete an order.
var statusTables = map[models.GatewayKind]map[string]models.OrderStatus{
	models.GatewayFlitt: {
		"created":    models.StatusPending,
		"processing": models.StatusProcessing,
		"approved":   models.StatusCompleted,
		"paid":       models.StatusCompleted,
		"success":    models.StatusCompleted,
		"declined":   models.StatusFailed,
		"error":      models.StatusFailed,
		"expired":    models.StatusCancelled,
		"reversed":   models.StatusCancelled,
	},
	models.GatewayEcomm: {
		"registered": models.StatusPending,
		"created":    models.StatusPending,
		"pending":    models.StatusPending,
		"processing": models.StatusProcessing,
		"inprogress": models.StatusProcessing,
		"fullypaid":  models.StatusCompleted,
		"paid":       models.StatusCompleted,
		"approved":   models.StatusCompleted,
		"success":    models.StatusCompleted,
		"declined":   models.StatusFailed,
		"error":      models.StatusFailed,
		"failed":     models.StatusFailed,
		"cancelled":  models.StatusCancelled,
		"reversed":   models.StatusCancelled,
		"timeout":    models.StatusCancelled,
	},
}

// MapStatus translates a gateway's raw status into the canonical enum.
func MapStatus(kind models.GatewayKind, raw string) models.OrderStatus {
	normalized := strings.ToLower(strings.TrimSpace(raw))

	table, ok := statusTables[kind]
	if !ok {
		return models.StatusPending
	}

	status, ok := table[normalized]
	if !ok {
		return models.StatusPending
	}
	return status
}

// MapHintStatus translates a redirect-page hint parameter. Only explicit
// success/fail/cancel hints are honored; everything else maps to pending
// and is never adopted.
func MapHintStatus(hint string) models.OrderStatus {
	switch strings.ToLower(strings.TrimSpace(hint)) {
	case "success", "ok":
		return models.StatusCompleted
	case "fail", "failure", "failed":
		return models.StatusFailed
	case "cancel", "cancelled":
		return models.StatusCancelled
	default:
		return models.StatusPending
	}
}
