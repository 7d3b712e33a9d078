package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestUnionItems_SumsQuantitiesPerProduct(t *testing.T) {
	user := []CartItem{{ProductID: "A", Quantity: 1}, {ProductID: "B", Quantity: 3}}
	guest := []CartItem{{ProductID: "A", Quantity: 2}}

	merged := UnionItems(user, guest)

	assert.Equal(t, map[string]int{"A": 3, "B": 3}, QuantitiesByProduct(merged))
	assert.Equal(t, "A", merged[0].ProductID)
	assert.Equal(t, 1, user[0].Quantity, "input must not be mutated")
}

func TestUnionItems_AppendsNewProducts(t *testing.T) {
	merged := UnionItems(nil, []CartItem{{ProductID: "C", Quantity: 2}})

	assert.Len(t, merged, 1)
	assert.Equal(t, 2, merged[0].Quantity)
}

func TestCartClone_IsIndependent(t *testing.T) {
	c := Cart{OwnerKey: "user:1", Items: []CartItem{{ProductID: "A", Quantity: 1, BasePricePerUnit: decimal.NewFromInt(10)}}}

	cp := c.Clone()
	cp.Items[0].Quantity = 5

	assert.Equal(t, 1, c.Items[0].Quantity)
	assert.Equal(t, 1, c.TotalItemCount())
	assert.Equal(t, 5, cp.TotalItemCount())
}

func TestOrderPaymentFailed(t *testing.T) {
	assert.True(t, Order{PaymentStatus: "failed"}.PaymentFailed())
	assert.True(t, Order{PaymentStatus: "DECLINED"}.PaymentFailed())
	assert.False(t, Order{PaymentStatus: "PAID"}.PaymentFailed())
	assert.False(t, Order{}.PaymentFailed())
}

func TestErrorTaxonomy(t *testing.T) {
	remote := &RemoteError{Kind: ErrRateLimited, StatusCode: 429, Message: "slow down"}
	assert.ErrorIs(t, remote, ErrRateLimited)
	assert.Equal(t, "rate limited: slow down", remote.Error())

	merge := &MergeAbortedError{Reason: "guest cart empty"}
	assert.ErrorIs(t, merge, ErrMergeAborted)

	wrapped := &MergeAbortedError{Reason: "remote merge failed", Err: remote}
	assert.ErrorIs(t, wrapped, ErrRateLimited)

	var v *ValidationError
	assert.True(t, errors.As(NewValidationError("email", "invalid"), &v))
	assert.ErrorIs(t, v, ErrValidation)
	assert.ErrorIs(t, &MalformedTokenError{Reason: "x"}, ErrMalformedToken)
}
