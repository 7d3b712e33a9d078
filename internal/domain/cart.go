package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is the catalog data copied into a cart line at add time.
type Product struct {
	ProductID          string          `json:"productId" validate:"required"`
	Name               string          `json:"name"`
	VendorID           string          `json:"vendorId"`
	VendorName         string          `json:"vendorName"`
	MaterialType       string          `json:"materialType,omitempty"`
	Image              string          `json:"image,omitempty"`
	BasePricePerUnit   decimal.Decimal `json:"basePricePerUnit"`
	PlatformFeePerUnit decimal.Decimal `json:"platformFeePerUnit"`
}

type CartItem struct {
	ProductID          string          `json:"productId"`
	Name               string          `json:"name"`
	VendorID           string          `json:"vendorId"`
	VendorName         string          `json:"vendorName"`
	MaterialType       string          `json:"materialType,omitempty"`
	Image              string          `json:"image,omitempty"`
	BasePricePerUnit   decimal.Decimal `json:"basePricePerUnit"`
	PlatformFeePerUnit decimal.Decimal `json:"platformFeePerUnit"`
	Quantity           int             `json:"quantity"`
}

func NewCartItem(p Product, quantity int) CartItem {
	return CartItem{
		ProductID:          p.ProductID,
		Name:               p.Name,
		VendorID:           p.VendorID,
		VendorName:         p.VendorName,
		MaterialType:       p.MaterialType,
		Image:              p.Image,
		BasePricePerUnit:   p.BasePricePerUnit,
		PlatformFeePerUnit: p.PlatformFeePerUnit,
		Quantity:           quantity,
	}
}

// Cart is the local view of one owner's cart. Totals are always derived from Items.
type Cart struct {
	OwnerKey   string     `json:"ownerKey"`
	Items      []CartItem `json:"items"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	CapturedAt time.Time  `json:"capturedAt,omitempty"`
}

func (c Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

func (c Cart) TotalItemCount() int {
	n := 0
	for _, it := range c.Items {
		n += it.Quantity
	}
	return n
}

// Clone returns a deep copy; CartItem holds no pointers so copying the slice is enough.
func (c Cart) Clone() Cart {
	out := c
	out.Items = CloneItems(c.Items)
	return out
}

func CloneItems(items []CartItem) []CartItem {
	if items == nil {
		return nil
	}
	out := make([]CartItem, len(items))
	copy(out, items)
	return out
}

// RemoteCart is the cart shape returned by the marketplace API.
type RemoteCart struct {
	Items       []CartItem      `json:"items"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
}

func (c *RemoteCart) IsEmpty() bool {
	return c == nil || len(c.Items) == 0
}

// UnionItems merges two carts by summing quantities per product. Lines from a keep
// their position; products only present in b are appended in b's order.
func UnionItems(a, b []CartItem) []CartItem {
	out := CloneItems(a)
	index := make(map[string]int, len(out))
	for i, it := range out {
		index[it.ProductID] = i
	}
	for _, it := range b {
		if i, ok := index[it.ProductID]; ok {
			out[i].Quantity += it.Quantity
			continue
		}
		index[it.ProductID] = len(out)
		out = append(out, it)
	}
	return out
}

// QuantitiesByProduct is used to compare carts regardless of line order.
func QuantitiesByProduct(items []CartItem) map[string]int {
	out := make(map[string]int, len(items))
	for _, it := range items {
		out[it.ProductID] += it.Quantity
	}
	return out
}

func GuestOwnerKey(sessionID string) string {
	return "guest:" + sessionID
}

func UserOwnerKey(userID string) string {
	return "user:" + userID
}
