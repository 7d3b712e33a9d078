package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Order struct {
	ID            string          `json:"id"`
	OrderNumber   string          `json:"orderNumber"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
	Status        string          `json:"status"`
	PaymentStatus string          `json:"paymentStatus"`
	Items         []OrderItem     `json:"items"`
	Shipments     []Shipment      `json:"shipments,omitempty"`
	CreatedAt     time.Time       `json:"createdAt,omitempty"`
}

type OrderItem struct {
	ProductID          string          `json:"productId"`
	Name               string          `json:"name"`
	VendorID           string          `json:"vendorId"`
	VendorName         string          `json:"vendorName"`
	Quantity           int             `json:"quantity"`
	BasePricePerUnit   decimal.Decimal `json:"basePricePerUnit"`
	PlatformFeePerUnit decimal.Decimal `json:"platformFeePerUnit"`
	Status             string          `json:"status,omitempty"`
}

type Shipment struct {
	ID                string     `json:"id"`
	VendorID          string     `json:"vendorId,omitempty"`
	Carrier           string     `json:"carrier,omitempty"`
	TrackingNumber    string     `json:"trackingNumber,omitempty"`
	Status            string     `json:"status,omitempty"`
	EstimatedDelivery *time.Time `json:"estimatedDelivery,omitempty"`
}

var failedPaymentStatuses = map[string]struct{}{
	"FAILED":    {},
	"DECLINED":  {},
	"REJECTED":  {},
	"CANCELLED": {},
	"ERROR":     {},
}

// PaymentFailed reports whether the payment provider rejected the order's payment.
func (o Order) PaymentFailed() bool {
	_, failed := failedPaymentStatuses[strings.ToUpper(strings.TrimSpace(o.PaymentStatus))]
	return failed
}

// CartItems converts order lines to cart lines so the pricing engine can total them.
func (o Order) CartItems() []CartItem {
	out := make([]CartItem, 0, len(o.Items))
	for _, it := range o.Items {
		out = append(out, CartItem{
			ProductID:          it.ProductID,
			Name:               it.Name,
			VendorID:           it.VendorID,
			VendorName:         it.VendorName,
			BasePricePerUnit:   it.BasePricePerUnit,
			PlatformFeePerUnit: it.PlatformFeePerUnit,
			Quantity:           it.Quantity,
		})
	}
	return out
}
