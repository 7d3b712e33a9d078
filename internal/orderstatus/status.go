// Package orderstatus rolls per-item fulfillment statuses up into one display status.
// Nothing computed here is ever sent back to the order backend.
package orderstatus

import (
	"strings"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

type Status string

const (
	Processing      Status = "PROCESSING"
	PickupScheduled Status = "PICKUP_SCHEDULED"
	Shipped         Status = "SHIPPED"
	Delivered       Status = "DELIVERED"
	Cancelled       Status = "CANCELLED"
)

var aliases = map[string]Status{
	"DRAFT":            Processing,
	"PENDING":          Processing,
	"CONFIRMED":        Processing,
	"PROCESSING":       Processing,
	"READY":            PickupScheduled,
	"READY_FOR_PICKUP": PickupScheduled,
	"PICKUP_SCHEDULED": PickupScheduled,
	"DISPATCHED":       Shipped,
	"IN_TRANSIT":       Shipped,
	"OUT_FOR_DELIVERY": Shipped,
	"SHIPPED":          Shipped,
}

// Normalize maps backend vocabulary onto the canonical set; unknown values are
// passed through uppercased. An empty status stays empty.
func Normalize(raw string) Status {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if canonical, ok := aliases[s]; ok {
		return canonical
	}
	return Status(s)
}

// Aggregate picks the display status of an order. Rules are applied in order:
// a shared status wins, then any SHIPPED, then any PICKUP_SCHEDULED, then a mix of
// only DELIVERED and CANCELLED reads as DELIVERED, then all CANCELLED. Anything
// else falls back to the order's own status, or PROCESSING.
func Aggregate(order domain.Order) Status {
	fallback := Normalize(order.Status)
	if fallback == "" {
		fallback = Processing
	}

	statuses := make([]Status, 0, len(order.Items))
	for _, it := range order.Items {
		if s := Normalize(it.Status); s != "" {
			statuses = append(statuses, s)
		}
	}
	if len(statuses) == 0 {
		return fallback
	}

	seen := make(map[Status]int, len(statuses))
	for _, s := range statuses {
		seen[s]++
	}

	switch {
	case len(seen) == 1:
		return statuses[0]
	case seen[Shipped] > 0:
		return Shipped
	case seen[PickupScheduled] > 0:
		return PickupScheduled
	case len(seen) == 2 && seen[Delivered] > 0 && seen[Cancelled] > 0:
		return Delivered
	case seen[Cancelled] == len(statuses):
		return Cancelled
	default:
		return fallback
	}
}
