// Package merge folds a guest cart into the authenticated user's cart once per login.
package merge

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/fjod/go_cart/storefront/internal/cart"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/session"
	"go.uber.org/zap"
)

type Remote interface {
	GetCart(ctx context.Context, token string) (*domain.RemoteCart, error)
	MergeCart(ctx context.Context, userToken, guestSessionID string) (*domain.RemoteCart, error)
}

// Staging holds the guest token across the login call.
type Staging interface {
	GuestToken(ctx context.Context, clientID string) (string, error)
	Stage(ctx context.Context, clientID, token string) error
	ConsumeStaged(ctx context.Context, clientID string) (string, error)
}

type Sessions interface {
	Invalidate(ctx context.Context, clientID string) error
}

type Carts interface {
	Open(ownerKey, token string) *cart.Store
	Release(ownerKey string)
}

type Coordinator struct {
	staging  Staging
	sessions Sessions
	carts    Carts
	remote   Remote
	log      *zap.Logger
}

func NewCoordinator(staging Staging, sessions Sessions, carts Carts, remote Remote, log *zap.Logger) *Coordinator {
	return &Coordinator{
		staging:  staging,
		sessions: sessions,
		carts:    carts,
		remote:   remote,
		log:      log,
	}
}

// Stage captures the client's guest token before authentication runs, since login
// may clear guest state. A client without a guest token has nothing to stage.
func (c *Coordinator) Stage(ctx context.Context, clientID string) error {
	token, err := c.staging.GuestToken(ctx, clientID)
	if errors.Is(err, session.ErrNoToken) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read guest token: %w", err)
	}
	return c.staging.Stage(ctx, clientID, token)
}

// Merge consumes the staged guest token and asks the server to merge the guest cart
// into the cart of the user identified by userToken. It returns (nil, nil) when
// nothing was staged, so repeated calls after one login are no-ops. Every other
// early exit is a *domain.MergeAbortedError, which callers treat as non-fatal.
func (c *Coordinator) Merge(ctx context.Context, clientID, userOwnerKey, userToken string) (*domain.Cart, error) {
	guestToken, err := c.staging.ConsumeStaged(ctx, clientID)
	if errors.Is(err, session.ErrNothingStaged) {
		return nil, nil
	}
	if err != nil {
		return nil, c.abort("staging unavailable", err)
	}

	guestCart, err := c.remote.GetCart(ctx, guestToken)
	if err != nil {
		return nil, c.abort("guest cart unavailable", err)
	}
	if guestCart.IsEmpty() {
		return nil, c.abort("guest cart empty", nil)
	}

	sessionID, err := session.ExtractSessionID(guestToken)
	if err != nil {
		return nil, c.abort("guest token unreadable", err)
	}

	userStore := c.carts.Open(userOwnerKey, userToken)
	before, errLoad := userStore.Load(ctx)
	if errLoad != nil {
		c.log.Warn("could not read user cart before merge", zap.String("owner_key", userOwnerKey), zap.Error(errLoad))
	}

	merged, err := c.remote.MergeCart(ctx, userToken, sessionID)
	if err != nil {
		return nil, c.abort("remote merge failed", err)
	}

	result := userStore.Adopt(ctx, merged)

	if errLoad == nil {
		expected := domain.QuantitiesByProduct(domain.UnionItems(before.Items, guestCart.Items))
		if got := domain.QuantitiesByProduct(result.Items); !maps.Equal(expected, got) {
			c.log.Warn("merged cart differs from union of guest and user carts",
				zap.String("owner_key", userOwnerKey),
				zap.Any("expected", expected),
				zap.Any("got", got))
		}
	}

	if err := c.sessions.Invalidate(ctx, clientID); err != nil {
		c.log.Warn("failed to invalidate guest session after merge", zap.String("client_id", clientID), zap.Error(err))
	}
	c.carts.Release(domain.GuestOwnerKey(sessionID))

	c.log.Info("guest cart merged",
		zap.String("owner_key", userOwnerKey),
		zap.Int("items", result.TotalItemCount()))
	return &result, nil
}

func (c *Coordinator) abort(reason string, err error) error {
	fields := []zap.Field{zap.String("reason", reason)}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	c.log.Info("cart merge aborted", fields...)
	return &domain.MergeAbortedError{Reason: reason, Err: err}
}
