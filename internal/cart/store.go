// Package cart owns the in-memory cart of each identity, its local persistence and
// best-effort mirroring to the marketplace cart.
package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fjod/go_cart/storefront/internal/cache"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/pricing"
	"github.com/fjod/go_cart/storefront/internal/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var ErrMutationInFlight = errors.New("a previous change to this item is still syncing")

// clearKey guards Clear; product ids are never empty so it cannot collide.
const clearKey = ""

type Remote interface {
	GetCart(ctx context.Context, token string) (*domain.RemoteCart, error)
	AddCartItem(ctx context.Context, token, productID string, quantity int) (*domain.RemoteCart, error)
	UpdateCartItem(ctx context.Context, token, productID string, quantity int) (*domain.RemoteCart, error)
	RemoveCartItem(ctx context.Context, token, productID string) (*domain.RemoteCart, error)
	ClearCart(ctx context.Context, token string) (*domain.RemoteCart, error)
}

// syncFailure marks a key whose local state the remote has not acknowledged.
type syncFailure struct {
	err error
	seq uint64
}

type Store struct {
	ownerKey    string
	repo        repository.CartRepository
	cache       cache.CartCache
	remote      Remote
	reconciler  *pricing.Reconciler
	log         *zap.Logger
	syncTimeout time.Duration
	nowFunc     func() time.Time

	mu       sync.Mutex
	token    string
	items    []domain.CartItem
	loaded   bool
	version  uint64
	inFlight map[string]struct{}
	failed   map[string]syncFailure
	failSeq  uint64
	loadErr  error
	lastUsed time.Time

	persistMu sync.Mutex
	persisted uint64

	sfg singleflight.Group // collapses concurrent local loads
	wg  sync.WaitGroup
}

func (s *Store) OwnerKey() string {
	return s.ownerKey
}

// touch records a use of the store. A non-empty token replaces the remote credential.
func (s *Store) touch(now time.Time, token string) {
	s.mu.Lock()
	s.lastUsed = now
	if token != "" {
		s.token = token
	}
	s.mu.Unlock()
}

// idleSince reports whether the store was last used before cutoff and holds no
// change the remote has yet to see.
func (s *Store) idleSince(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed.Before(cutoff) && len(s.inFlight) == 0 && len(s.failed) == 0
}

// AddItem increments the product's quantity, inserting a new line if needed.
func (s *Store) AddItem(ctx context.Context, product domain.Product, quantity int) error {
	if product.ProductID == "" {
		return domain.NewValidationError("productId", "is required")
	}
	if quantity < 1 {
		return domain.NewValidationError("quantity", "must be at least 1")
	}
	if product.BasePricePerUnit.IsNegative() || product.PlatformFeePerUnit.IsNegative() {
		return domain.NewValidationError("price", "must not be negative")
	}
	if err := s.ensureLocal(ctx); err != nil {
		return err
	}

	id := product.ProductID
	s.mu.Lock()
	if _, busy := s.inFlight[id]; busy {
		s.mu.Unlock()
		return ErrMutationInFlight
	}
	if i := s.indexLocked(id); i >= 0 {
		s.items[i].Quantity += quantity
	} else {
		s.items = append(s.items, domain.NewCartItem(product, quantity))
	}
	snap, version, token := s.beginLocked(id)
	s.mu.Unlock()

	s.persist(ctx, snap, version)
	s.sync(ctx, id, nil, func(ctx context.Context) (*domain.RemoteCart, error) {
		return s.remote.AddCartItem(ctx, token, id, quantity)
	})
	return nil
}

// UpdateQuantity sets the quantity of a line. A quantity of zero or less removes it;
// an unknown product is ignored.
func (s *Store) UpdateQuantity(ctx context.Context, productID string, quantity int) error {
	if quantity <= 0 {
		return s.RemoveItem(ctx, productID)
	}
	if err := s.ensureLocal(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	if _, busy := s.inFlight[productID]; busy {
		s.mu.Unlock()
		return ErrMutationInFlight
	}
	i := s.indexLocked(productID)
	if i < 0 {
		s.mu.Unlock()
		return nil
	}
	s.items[i].Quantity = quantity
	snap, version, token := s.beginLocked(productID)
	s.mu.Unlock()

	s.persist(ctx, snap, version)
	s.sync(ctx, productID, nil, func(ctx context.Context) (*domain.RemoteCart, error) {
		return s.remote.UpdateCartItem(ctx, token, productID, quantity)
	})
	return nil
}

func (s *Store) RemoveItem(ctx context.Context, productID string) error {
	if err := s.ensureLocal(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	if _, busy := s.inFlight[productID]; busy {
		s.mu.Unlock()
		return ErrMutationInFlight
	}
	i := s.indexLocked(productID)
	if i < 0 {
		s.mu.Unlock()
		return nil
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	snap, version, token := s.beginLocked(productID)
	s.mu.Unlock()

	s.persist(ctx, snap, version)
	s.sync(ctx, productID, s.ackKey(productID), func(ctx context.Context) (*domain.RemoteCart, error) {
		return s.remote.RemoveCartItem(ctx, token, productID)
	})
	return nil
}

// Clear empties the cart and mirrors the clear to the remote.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	if _, busy := s.inFlight[clearKey]; busy {
		s.mu.Unlock()
		return ErrMutationInFlight
	}
	s.items = nil
	s.loaded = true
	upTo := s.failSeq
	snap, version, token := s.beginLocked(clearKey)
	s.mu.Unlock()

	s.persist(ctx, snap, version)

	// a successful clear settles every failure recorded before it started
	ack := func() {
		for key, f := range s.failed {
			if f.seq <= upTo {
				delete(s.failed, key)
			}
		}
		delete(s.failed, clearKey)
	}
	s.sync(ctx, clearKey, ack, func(ctx context.Context) (*domain.RemoteCart, error) {
		return s.remote.ClearCart(ctx, token)
	})
	return nil
}

// Discard empties the cart locally only. Used after a confirmed order, when the
// server has already destroyed its cart.
func (s *Store) Discard(ctx context.Context) error {
	s.mu.Lock()
	s.items = nil
	s.loaded = true
	s.failed = make(map[string]syncFailure)
	s.version++
	version := s.version
	s.mu.Unlock()

	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	s.persisted = version

	defer s.invalidateCache()
	if err := s.repo.DeleteCart(ctx, s.ownerKey); err != nil {
		return fmt.Errorf("discard cart %s: %w", s.ownerKey, err)
	}
	return nil
}

// Load refreshes the cart from the remote. When the remote cannot be reached the
// last-known local state is returned and the failure is kept in SyncError. Lines
// whose last synchronization failed keep their local state and are pushed again.
func (s *Store) Load(ctx context.Context) (domain.Cart, error) {
	s.mu.Lock()
	token := s.token
	s.mu.Unlock()

	remoteCart, err := s.remote.GetCart(ctx, token)
	if err == nil {
		s.reconciler.Reconcile(ctx, "cart_read", s.ownerKey, remoteCart.TotalAmount, remoteCart.Items)

		s.mu.Lock()
		s.loadErr = nil
		if len(s.inFlight) > 0 {
			// local changes not yet acknowledged by the remote win
			s.mu.Unlock()
			return s.Snapshot(), nil
		}
		repairs := s.mergeRemoteLocked(remoteCart.Items)
		s.loaded = true
		s.version++
		snap, version := s.snapshotLocked(), s.version
		s.mu.Unlock()

		s.persist(ctx, snap, version)
		for _, r := range repairs {
			s.sync(ctx, r.key, s.ackKey(r.key), r.call)
		}
		return s.Snapshot(), nil
	}

	if errors.Is(err, domain.ErrSessionExpired) {
		return domain.Cart{}, err
	}

	s.log.Warn("remote cart unavailable, using local state", zap.String("owner_key", s.ownerKey), zap.Error(err))
	s.mu.Lock()
	s.loadErr = err
	s.mu.Unlock()

	if errLocal := s.ensureLocal(ctx); errLocal != nil {
		return domain.Cart{}, fmt.Errorf("load local cart: %w", errLocal)
	}
	return s.Snapshot(), nil
}

// Adopt replaces the cart with one produced by the server, e.g. after a merge.
func (s *Store) Adopt(ctx context.Context, remoteCart *domain.RemoteCart) domain.Cart {
	s.reconciler.Reconcile(ctx, "cart_merge", s.ownerKey, remoteCart.TotalAmount, remoteCart.Items)

	s.mu.Lock()
	s.items = domain.CloneItems(remoteCart.Items)
	s.loaded = true
	s.loadErr = nil
	s.failed = make(map[string]syncFailure)
	s.version++
	snap, version := s.snapshotLocked(), s.version
	s.mu.Unlock()

	s.persist(ctx, snap, version)
	return s.Snapshot()
}

func (s *Store) Items() []domain.CartItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.CloneItems(s.items)
}

func (s *Store) IsInCart(productID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indexLocked(productID) >= 0
}

func (s *Store) TotalItemCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, it := range s.items {
		n += it.Quantity
	}
	return n
}

func (s *Store) Subtotal(taxRate decimal.Decimal) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return pricing.CartSubtotal(s.items, taxRate)
}

// Snapshot is a deep copy taken under the store lock, so it never observes a
// half-applied mutation.
func (s *Store) Snapshot() domain.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshotLocked()
	snap.CapturedAt = s.nowFunc()
	return snap
}

// SyncError reports why the cart may differ from the remote: the failed cart read,
// or else the latest mutation the remote has not acknowledged yet.
func (s *Store) SyncError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return s.loadErr
	}
	var latest syncFailure
	for _, f := range s.failed {
		if f.seq > latest.seq {
			latest = f
		}
	}
	return latest.err
}

// Wait blocks until every pending remote synchronization and cache fill has finished.
func (s *Store) Wait() {
	s.wg.Wait()
}

func (s *Store) indexLocked(productID string) int {
	for i, it := range s.items {
		if it.ProductID == productID {
			return i
		}
	}
	return -1
}

func (s *Store) snapshotLocked() domain.Cart {
	return domain.Cart{
		OwnerKey:  s.ownerKey,
		Items:     domain.CloneItems(s.items),
		UpdatedAt: s.nowFunc(),
	}
}

func (s *Store) beginLocked(key string) (domain.Cart, uint64, string) {
	s.inFlight[key] = struct{}{}
	s.version++
	return s.snapshotLocked(), s.version, s.token
}

func (s *Store) ensureLocal(ctx context.Context) error {
	s.mu.Lock()
	loaded := s.loaded
	s.mu.Unlock()
	if loaded {
		return nil
	}

	cart, err := s.loadLocal(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if !s.loaded {
		s.items = domain.CloneItems(cart.Items)
		s.loaded = true
	}
	s.mu.Unlock()
	return nil
}

func (s *Store) loadLocal(ctx context.Context) (*domain.Cart, error) {
	v, err, _ := s.sfg.Do(s.ownerKey, func() (interface{}, error) {
		cart, err := s.cache.Get(ctx, s.ownerKey)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.log.Warn("cache get error", zap.String("owner_key", s.ownerKey), zap.Error(err))
		}

		cart, err = s.repo.GetCart(ctx, s.ownerKey)
		if errors.Is(err, repository.ErrCartNotFound) {
			return &domain.Cart{OwnerKey: s.ownerKey}, nil
		}
		if err != nil {
			return nil, err
		}

		s.wg.Add(1)
		go func(c domain.Cart) {
			defer s.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := s.cache.Set(ctx, s.ownerKey, &c); err != nil {
				s.log.Warn("cache set error", zap.String("owner_key", s.ownerKey), zap.Error(err))
			}
		}(cart.Clone())

		return cart, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Cart), nil
}

// persist writes snap unless a newer version already reached the repository.
func (s *Store) persist(ctx context.Context, snap domain.Cart, version uint64) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	if version <= s.persisted {
		return
	}
	if err := s.repo.UpsertCart(ctx, &snap); err != nil {
		s.log.Error("failed to persist cart", zap.String("owner_key", s.ownerKey), zap.Error(err))
		return
	}
	s.persisted = version
	s.invalidateCache()
}

func (s *Store) invalidateCache() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, s.ownerKey); err != nil {
		s.log.Warn("cache invalidate error", zap.String("owner_key", s.ownerKey), zap.Error(err))
	}
}

// sync mirrors one mutation to the remote in the background. A failure marks key
// as unacknowledged. ack runs under the store lock after a success and settles
// earlier failures; relative mutations pass nil because they cannot repair a line
// the remote already disagrees on.
func (s *Store) sync(ctx context.Context, key string, ack func(), call func(context.Context) (*domain.RemoteCart, error)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.syncTimeout)
		defer cancel()

		remoteCart, err := call(ctx)

		s.mu.Lock()
		delete(s.inFlight, key)
		if err != nil {
			s.failSeq++
			s.failed[key] = syncFailure{err: err, seq: s.failSeq}
		} else if ack != nil {
			ack()
		}
		s.mu.Unlock()

		if err != nil {
			s.log.Warn("remote cart sync failed, keeping local change",
				zap.String("owner_key", s.ownerKey),
				zap.String("product_id", key),
				zap.Error(err))
			return
		}
		s.reconciler.Reconcile(ctx, "cart_sync", s.ownerKey, remoteCart.TotalAmount, remoteCart.Items)
	}()
}

func (s *Store) ackKey(key string) func() {
	return func() { delete(s.failed, key) }
}

type repair struct {
	key  string
	call func(context.Context) (*domain.RemoteCart, error)
}

// mergeRemoteLocked takes the remote items as the new state except for keys the
// remote has not acknowledged, which keep their local line. It returns the calls
// that bring the remote in line with those keys. A failed clear leaves every key
// in doubt, so the local cart is kept whole.
func (s *Store) mergeRemoteLocked(remoteItems []domain.CartItem) []repair {
	if len(s.failed) == 0 {
		s.items = domain.CloneItems(remoteItems)
		return nil
	}

	pending := make(map[string]struct{}, len(s.failed))
	for key := range s.failed {
		pending[key] = struct{}{}
	}
	if _, cleared := pending[clearKey]; cleared {
		delete(pending, clearKey)
		delete(s.failed, clearKey)
		for _, it := range s.items {
			pending[it.ProductID] = struct{}{}
		}
		for _, it := range remoteItems {
			pending[it.ProductID] = struct{}{}
		}
	}

	local := make(map[string]domain.CartItem, len(s.items))
	for _, it := range s.items {
		local[it.ProductID] = it
	}
	remote := make(map[string]domain.CartItem, len(remoteItems))
	merged := make([]domain.CartItem, 0, len(remoteItems)+len(pending))
	for _, it := range remoteItems {
		remote[it.ProductID] = it
		if _, ok := pending[it.ProductID]; !ok {
			merged = append(merged, it)
		}
	}
	for _, it := range s.items {
		if _, ok := pending[it.ProductID]; ok {
			merged = append(merged, it)
		}
	}
	s.items = domain.CloneItems(merged)

	token := s.token
	var repairs []repair
	for id := range pending {
		id := id
		l, r := local[id].Quantity, remote[id].Quantity
		var call func(context.Context) (*domain.RemoteCart, error)
		switch {
		case l == r:
			delete(s.failed, id)
			continue
		case l == 0:
			call = func(ctx context.Context) (*domain.RemoteCart, error) {
				return s.remote.RemoveCartItem(ctx, token, id)
			}
		case r == 0:
			call = func(ctx context.Context) (*domain.RemoteCart, error) {
				return s.remote.AddCartItem(ctx, token, id, l)
			}
		default:
			call = func(ctx context.Context) (*domain.RemoteCart, error) {
				return s.remote.UpdateCartItem(ctx, token, id, l)
			}
		}
		s.inFlight[id] = struct{}{}
		repairs = append(repairs, repair{key: id, call: call})
	}
	return repairs
}
