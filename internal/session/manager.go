// Package session manages anonymous guest credentials.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/storefront/internal/cache"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"go.uber.org/zap"
)

type Remote interface {
	CreateGuestSession(ctx context.Context) (string, error)
	GetCart(ctx context.Context, token string) (*domain.RemoteCart, error)
}

type Manager struct {
	store  *RedisStore
	remote Remote
	cache  cache.CartCache
	log    *zap.Logger
}

func NewManager(store *RedisStore, remote Remote, cartCache cache.CartCache, log *zap.Logger) *Manager {
	return &Manager{
		store:  store,
		remote: remote,
		cache:  cartCache,
		log:    log,
	}
}

// GetOrCreateSession returns the client's guest token. A stored token is kept only
// if the remote still accepts it; a rejected or missing token is replaced.
func (m *Manager) GetOrCreateSession(ctx context.Context, clientID string) (string, error) {
	token, err := m.store.GuestToken(ctx, clientID)
	if err != nil && !errors.Is(err, ErrNoToken) {
		return "", err
	}

	if token != "" {
		_, errCheck := m.remote.GetCart(ctx, token)
		switch {
		case errCheck == nil:
			return token, nil
		case errors.Is(errCheck, domain.ErrSessionExpired):
			m.log.Info("guest token rejected, issuing a new one", zap.String("client_id", clientID))
		default:
			// validity unknown; keep the token so the guest cart is not orphaned
			m.log.Warn("could not validate guest token", zap.String("client_id", clientID), zap.Error(errCheck))
			return token, nil
		}
	}

	token, err = m.remote.CreateGuestSession(ctx)
	if err != nil {
		return "", fmt.Errorf("create guest session: %w", err)
	}
	if err := m.store.SaveGuestToken(ctx, clientID, token); err != nil {
		return "", err
	}
	return token, nil
}

// StoredToken returns the current guest token without contacting the remote.
func (m *Manager) StoredToken(ctx context.Context, clientID string) (string, error) {
	return m.store.GuestToken(ctx, clientID)
}

// Invalidate deletes the stored guest token and the cached guest cart.
func (m *Manager) Invalidate(ctx context.Context, clientID string) error {
	token, err := m.store.GuestToken(ctx, clientID)
	if errors.Is(err, ErrNoToken) {
		return nil
	}
	if err != nil {
		return err
	}

	if sessionID, errID := ExtractSessionID(token); errID == nil {
		if errCache := m.cache.Delete(ctx, domain.GuestOwnerKey(sessionID)); errCache != nil {
			m.log.Warn("failed to drop cached guest cart", zap.Error(errCache))
		}
	}
	return m.store.DeleteGuestToken(ctx, clientID)
}
