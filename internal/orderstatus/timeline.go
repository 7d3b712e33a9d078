package orderstatus

import "github.com/fjod/go_cart/storefront/internal/domain"

// Stage is one entry of the customer-facing progress timeline.
type Stage struct {
	Status  Status `json:"status"`
	Label   string `json:"label"`
	Reached bool   `json:"reached"`
	Current bool   `json:"current"`
}

var progression = []struct {
	status Status
	label  string
}{
	{Processing, "Order received"},
	{PickupScheduled, "Ready for pickup"},
	{Shipped, "On its way"},
	{Delivered, "Delivered"},
}

// Timeline renders the aggregate status of order as an ordered list of stages.
// A cancelled order shows the received stage followed by a terminal cancelled one.
func Timeline(order domain.Order) []Stage {
	current := Aggregate(order)

	if current == Cancelled {
		return []Stage{
			{Status: Processing, Label: progression[0].label, Reached: true},
			{Status: Cancelled, Label: "Cancelled", Reached: true, Current: true},
		}
	}

	pos := -1
	for i, p := range progression {
		if p.status == current {
			pos = i
		}
	}
	if pos < 0 {
		// unknown status: the order exists, so it has at least been received
		pos = 0
	}

	out := make([]Stage, 0, len(progression))
	for i, p := range progression {
		out = append(out, Stage{
			Status:  p.status,
			Label:   p.label,
			Reached: i <= pos,
			Current: i == pos,
		})
	}
	return out
}
