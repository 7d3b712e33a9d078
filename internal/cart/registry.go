package cart

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fjod/go_cart/storefront/internal/cache"
	"github.com/fjod/go_cart/storefront/internal/pricing"
	"github.com/fjod/go_cart/storefront/internal/repository"
	"go.uber.org/zap"
)

// Registry hands out one Store per owner key.
type Registry struct {
	repo        repository.CartRepository
	cache       cache.CartCache
	remote      Remote
	reconciler  *pricing.Reconciler
	log         *zap.Logger
	syncTimeout time.Duration
	nowFunc     func() time.Time

	mu     sync.Mutex
	stores map[string]*Store
}

func NewRegistry(repo repository.CartRepository, cartCache cache.CartCache, remote Remote, reconciler *pricing.Reconciler, log *zap.Logger, syncTimeout time.Duration) *Registry {
	return &Registry{
		repo:        repo,
		cache:       cartCache,
		remote:      remote,
		reconciler:  reconciler,
		log:         log,
		syncTimeout: syncTimeout,
		nowFunc:     time.Now,
		stores:      make(map[string]*Store),
	}
}

// Open returns the store for ownerKey, creating it on first use. A non-empty token
// replaces the credential the store uses for remote calls.
func (r *Registry) Open(ownerKey, token string) *Store {
	r.mu.Lock()
	s, ok := r.stores[ownerKey]
	if !ok {
		s = &Store{
			ownerKey:    ownerKey,
			repo:        r.repo,
			cache:       r.cache,
			remote:      r.remote,
			reconciler:  r.reconciler,
			log:         r.log,
			syncTimeout: r.syncTimeout,
			nowFunc:     time.Now,
			inFlight:    make(map[string]struct{}),
			failed:      make(map[string]syncFailure),
		}
		r.stores[ownerKey] = s
	}
	now := r.nowFunc()
	r.mu.Unlock()

	s.touch(now, token)
	return s
}

// Release forgets the store for ownerKey. Pending synchronizations still complete.
func (r *Registry) Release(ownerKey string) {
	r.mu.Lock()
	delete(r.stores, ownerKey)
	r.mu.Unlock()
}

// Evict forgets the owner's store and cached cart after the cart was emptied elsewhere,
// e.g. by an order placed through another instance.
func (r *Registry) Evict(ctx context.Context, ownerKey string) error {
	r.Release(ownerKey)
	if err := r.cache.Delete(ctx, ownerKey); err != nil {
		return fmt.Errorf("evict cached cart %s: %w", ownerKey, err)
	}
	return nil
}

// Sweep forgets stores that have not been opened for idle and have nothing left to
// synchronize. The carts stay in the repository and are reloaded on the next
// request. It returns the number of stores dropped.
func (r *Registry) Sweep(idle time.Duration) int {
	cutoff := r.nowFunc().Add(-idle)

	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for key, s := range r.stores {
		if s.idleSince(cutoff) {
			delete(r.stores, key)
			n++
		}
	}
	return n
}

// RunSweeper calls Sweep every interval until ctx is done.
func (r *Registry) RunSweeper(ctx context.Context, idle, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(idle); n > 0 {
				r.log.Info("released idle carts", zap.Int("count", n))
			}
		}
	}
}
