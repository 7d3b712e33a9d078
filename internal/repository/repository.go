package repository

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

var ErrCartNotFound = errors.New("cart not found")

// CartRepository is the last-known local state of each owner's cart.
type CartRepository interface {
	GetCart(ctx context.Context, ownerKey string) (*domain.Cart, error)
	UpsertCart(ctx context.Context, cart *domain.Cart) error
	DeleteCart(ctx context.Context, ownerKey string) error
}
