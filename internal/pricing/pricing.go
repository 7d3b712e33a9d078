// Package pricing turns catalog lines into display and transactional totals.
// All arithmetic is exact; rounding happens only in FormatAmount.
package pricing

import (
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	DefaultTaxRate    = decimal.RequireFromString("0.075")
	MismatchTolerance = decimal.RequireFromString("0.01")
)

// UnitPriceWithFee is the tax-exclusive unit price.
func UnitPriceWithFee(item domain.CartItem) decimal.Decimal {
	return item.BasePricePerUnit.Add(item.PlatformFeePerUnit)
}

// AllInclusiveUnitPrice taxes the base price only; the platform fee is never taxed.
func AllInclusiveUnitPrice(item domain.CartItem, taxRate decimal.Decimal) decimal.Decimal {
	tax := item.BasePricePerUnit.Mul(taxRate)
	return item.BasePricePerUnit.Add(tax).Add(item.PlatformFeePerUnit)
}

func LineItemTotal(item domain.CartItem, taxRate decimal.Decimal) decimal.Decimal {
	return AllInclusiveUnitPrice(item, taxRate).Mul(decimal.NewFromInt(int64(item.Quantity)))
}

func CartSubtotal(items []domain.CartItem, taxRate decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(LineItemTotal(it, taxRate))
	}
	return total
}

// FormatAmount renders an amount with two decimal places.
func FormatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}
