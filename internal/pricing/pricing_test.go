package pricing

import (
	"context"
	"errors"
	"testing"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func item(id, base, fee string, qty int) domain.CartItem {
	return domain.CartItem{ProductID: id, BasePricePerUnit: dec(base), PlatformFeePerUnit: dec(fee), Quantity: qty}
}

func TestAllInclusiveUnitPrice_TaxesBaseOnly(t *testing.T) {
	it := item("A", "1000", "80", 2)

	assert.True(t, dec("1155").Equal(AllInclusiveUnitPrice(it, DefaultTaxRate)))
	assert.True(t, dec("2310").Equal(LineItemTotal(it, DefaultTaxRate)))
	assert.True(t, dec("1080").Equal(UnitPriceWithFee(it)))
}

func TestAllInclusiveUnitPrice_ZeroTaxIsSimpleAddition(t *testing.T) {
	it := item("A", "49.99", "5.01", 1)

	assert.True(t, dec("55").Equal(AllInclusiveUnitPrice(it, decimal.Zero)))
}

func TestAllInclusiveUnitPrice_LinearInTaxRate(t *testing.T) {
	it := item("A", "200", "15", 1)
	step := dec("0.05")

	p0 := AllInclusiveUnitPrice(it, dec("0.10"))
	p1 := AllInclusiveUnitPrice(it, dec("0.15"))
	p2 := AllInclusiveUnitPrice(it, dec("0.20"))

	assert.True(t, p1.Sub(p0).Equal(p2.Sub(p1)))
	assert.True(t, p1.Sub(p0).Equal(it.BasePricePerUnit.Mul(step)), "fee must not contribute to tax")
}

func TestCartSubtotal_EqualsSumOfLines(t *testing.T) {
	items := []domain.CartItem{
		item("A", "1000", "80", 2),
		item("B", "19.99", "1.25", 3),
		item("C", "0", "0", 1),
	}
	for _, rate := range []string{"0", "0.075", "0.2", "0.999"} {
		r := dec(rate)
		sum := decimal.Zero
		for _, it := range items {
			sum = sum.Add(LineItemTotal(it, r))
		}
		assert.True(t, sum.Equal(CartSubtotal(items, r)), "rate %s", rate)
	}
}

func TestCartSubtotal_NoIntermediateRounding(t *testing.T) {
	// 3 * 0.333 * 1.075 = 1.073925, rounding per line would drift.
	items := []domain.CartItem{item("A", "0.333", "0", 3)}

	assert.True(t, dec("1.073925").Equal(CartSubtotal(items, DefaultTaxRate)))
	assert.Equal(t, "1.07", FormatAmount(CartSubtotal(items, DefaultTaxRate)))
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "1155.00", FormatAmount(dec("1155")))
	assert.Equal(t, "10.01", FormatAmount(dec("10.005")))
}

type recorderMock struct {
	got []Mismatch
	err error
}

func (r *recorderMock) RecordMismatch(_ context.Context, m Mismatch) error {
	r.got = append(r.got, m)
	return r.err
}

func TestReconcile_WithinTolerance(t *testing.T) {
	rec := &recorderMock{}
	r := NewReconciler(DefaultTaxRate, rec, zaptest.NewLogger(t))

	total := r.Reconcile(context.Background(), "cart", "user:1", dec("2310.005"), []domain.CartItem{item("A", "1000", "80", 2)})

	assert.True(t, dec("2310").Equal(total))
	assert.Empty(t, rec.got)
}

func TestReconcile_MismatchUsesLocalFigure(t *testing.T) {
	rec := &recorderMock{err: errors.New("db down")}
	r := NewReconciler(DefaultTaxRate, rec, zaptest.NewLogger(t))

	total := r.Reconcile(context.Background(), "checkout_review", "user:1", dec("2160"), []domain.CartItem{item("A", "1000", "80", 2)})

	assert.True(t, dec("2310").Equal(total))
	require.Len(t, rec.got, 1)
	assert.Equal(t, "checkout_review", rec.got[0].Source)
	assert.True(t, dec("150").Equal(rec.got[0].Difference()))
}

func TestReconcile_NilRecorder(t *testing.T) {
	r := NewReconciler(DefaultTaxRate, nil, zaptest.NewLogger(t))

	total := r.Reconcile(context.Background(), "cart", "guest:s1", dec("1"), []domain.CartItem{item("A", "10", "0", 1)})

	assert.True(t, dec("10.75").Equal(total))
}
