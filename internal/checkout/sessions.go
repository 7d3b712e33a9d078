package checkout

import (
	"context"
	"sync"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/pricing"
	validatorv10 "github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Sessions keeps at most one checkout per client. Nothing here survives a restart.
type Sessions struct {
	remote      Remote
	reconciler  *pricing.Reconciler
	publisher   OrderPublisher
	validate    *validatorv10.Validate
	reservation time.Duration
	log         *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewSessions(remote Remote, reconciler *pricing.Reconciler, publisher OrderPublisher, reservation time.Duration, log *zap.Logger) *Sessions {
	return &Sessions{
		remote:      remote,
		reconciler:  reconciler,
		publisher:   publisher,
		validate:    NewValidator(),
		reservation: reservation,
		log:         log,
		sessions:    make(map[string]*Session),
	}
}

// Begin enters checkout for clientID at the Review step. An unfinished session for
// the same client and cart is resumed instead.
func (r *Sessions) Begin(ctx context.Context, clientID, token string, cart Cart) (*Session, error) {
	if cart.TotalItemCount() == 0 {
		return nil, domain.ErrEmptyCart
	}

	r.mu.Lock()
	existing, ok := r.sessions[clientID]
	r.mu.Unlock()
	if ok && existing.Err() == nil && !existing.Step().IsTerminal() && existing.cart.OwnerKey() == cart.OwnerKey() {
		return existing, nil
	}

	s := &Session{
		token:       token,
		reservation: r.reservation,
		cart:        cart,
		remote:      r.remote,
		reconciler:  r.reconciler,
		publisher:   r.publisher,
		validate:    r.validate,
		log:         r.log,
		step:        StepReview,
	}
	if err := s.refreshReview(ctx); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.sessions[clientID] = s
	r.mu.Unlock()
	return s, nil
}

// Get returns the client's live session. Sessions that were aborted or expired are
// dropped and reported with the reason they ended.
func (r *Sessions) Get(clientID string) (*Session, error) {
	r.mu.Lock()
	s, ok := r.sessions[clientID]
	r.mu.Unlock()
	if !ok {
		return nil, ErrNoCheckout
	}
	if err := s.Err(); err != nil {
		r.Discard(clientID)
		return nil, err
	}
	return s, nil
}

// Discard forgets the client's session, e.g. when the user leaves checkout.
func (r *Sessions) Discard(clientID string) {
	r.mu.Lock()
	delete(r.sessions, clientID)
	r.mu.Unlock()
}
