package http

import (
	"time"

	"github.com/fjod/go_cart/storefront/internal/checkout"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/orderstatus"
	"github.com/fjod/go_cart/storefront/internal/pricing"
	"github.com/shopspring/decimal"
)

// Amounts are rendered as two-decimal strings; nothing upstream of this file rounds.

type itemView struct {
	ProductID    string `json:"productId"`
	Name         string `json:"name"`
	VendorID     string `json:"vendorId"`
	VendorName   string `json:"vendorName"`
	MaterialType string `json:"materialType,omitempty"`
	Image        string `json:"image,omitempty"`
	Quantity     int    `json:"quantity"`
	UnitPrice    string `json:"unitPrice"`
	LineTotal    string `json:"lineTotal"`
	Status       string `json:"status,omitempty"`
}

type cartView struct {
	OwnerKey  string     `json:"ownerKey"`
	Items     []itemView `json:"items"`
	ItemCount int        `json:"itemCount"`
	Subtotal  string     `json:"subtotal"`
	UpdatedAt time.Time  `json:"updatedAt"`
	SyncError string     `json:"syncError,omitempty"`
}

type checkoutView struct {
	Step               string                  `json:"step"`
	StepNumber         int                     `json:"stepNumber"`
	Review             []itemView              `json:"review"`
	ReviewTotal        string                  `json:"reviewTotal"`
	Snapshot           *cartView               `json:"snapshot,omitempty"`
	ShippingAddress    *domain.ShippingAddress `json:"shippingAddress,omitempty"`
	CustomerInfo       *domain.CustomerInfo    `json:"customerInfo,omitempty"`
	Order              *orderView              `json:"order,omitempty"`
	ReservationSeconds int                     `json:"reservationSeconds"`
}

type orderView struct {
	ID              string              `json:"id"`
	OrderNumber     string              `json:"orderNumber"`
	TotalAmount     string              `json:"totalAmount"`
	Status          string              `json:"status"`
	PaymentStatus   string              `json:"paymentStatus"`
	AggregateStatus orderstatus.Status  `json:"aggregateStatus"`
	Items           []itemView          `json:"items"`
	Shipments       []domain.Shipment   `json:"shipments,omitempty"`
	Timeline        []orderstatus.Stage `json:"timeline"`
	CreatedAt       time.Time           `json:"createdAt,omitempty"`
}

func renderItems(items []domain.CartItem, taxRate decimal.Decimal) []itemView {
	out := make([]itemView, 0, len(items))
	for _, it := range items {
		out = append(out, itemView{
			ProductID:    it.ProductID,
			Name:         it.Name,
			VendorID:     it.VendorID,
			VendorName:   it.VendorName,
			MaterialType: it.MaterialType,
			Image:        it.Image,
			Quantity:     it.Quantity,
			UnitPrice:    pricing.FormatAmount(pricing.AllInclusiveUnitPrice(it, taxRate)),
			LineTotal:    pricing.FormatAmount(pricing.LineItemTotal(it, taxRate)),
		})
	}
	return out
}

func renderCart(c domain.Cart, taxRate decimal.Decimal, syncErr error) cartView {
	v := cartView{
		OwnerKey:  c.OwnerKey,
		Items:     renderItems(c.Items, taxRate),
		ItemCount: c.TotalItemCount(),
		Subtotal:  pricing.FormatAmount(pricing.CartSubtotal(c.Items, taxRate)),
		UpdatedAt: c.UpdatedAt,
	}
	if syncErr != nil {
		v.SyncError = syncErr.Error()
	}
	return v
}

// renderOrder shows the server's total as received; per-line figures are computed locally.
func renderOrder(o domain.Order, taxRate decimal.Decimal) orderView {
	items := renderItems(o.CartItems(), taxRate)
	for i := range items {
		items[i].Status = o.Items[i].Status
	}
	return orderView{
		ID:              o.ID,
		OrderNumber:     o.OrderNumber,
		TotalAmount:     pricing.FormatAmount(o.TotalAmount),
		Status:          o.Status,
		PaymentStatus:   o.PaymentStatus,
		AggregateStatus: orderstatus.Aggregate(o),
		Items:           items,
		Shipments:       o.Shipments,
		Timeline:        orderstatus.Timeline(o),
		CreatedAt:       o.CreatedAt,
	}
}

func renderCheckout(v checkout.View, taxRate decimal.Decimal) checkoutView {
	out := checkoutView{
		Step:               v.Step.String(),
		StepNumber:         int(v.Step),
		Review:             renderItems(v.Review, taxRate),
		ReviewTotal:        pricing.FormatAmount(v.ReviewTotal),
		ShippingAddress:    v.ShippingAddress,
		CustomerInfo:       v.CustomerInfo,
		ReservationSeconds: int(v.ReservationDuration / time.Second),
	}
	if v.Snapshot != nil {
		snap := renderCart(*v.Snapshot, taxRate, nil)
		out.Snapshot = &snap
	}
	if v.Order != nil {
		order := renderOrder(*v.Order, taxRate)
		out.Order = &order
	}
	return out
}
