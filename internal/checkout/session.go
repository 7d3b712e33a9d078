// Package checkout drives the four-step checkout of one client.
package checkout

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/pricing"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Cart is the part of the cart store that checkout depends on.
type Cart interface {
	OwnerKey() string
	Snapshot() domain.Cart
	TotalItemCount() int
	Discard(ctx context.Context) error
}

type Remote interface {
	CheckoutReview(ctx context.Context, token string) (*domain.RemoteCart, error)
	ConfirmCheckout(ctx context.Context, token string, req domain.ConfirmRequest) (*domain.Order, error)
}

type OrderPublisher interface {
	PublishOrderPlaced(ctx context.Context, ownerKey string, order domain.Order) error
}

// View is a read-only copy of the session state for rendering.
type View struct {
	Step                Step
	Review              []domain.CartItem
	ReviewTotal         decimal.Decimal
	Snapshot            *domain.Cart
	ShippingAddress     *domain.ShippingAddress
	CustomerInfo        *domain.CustomerInfo
	Order               *domain.Order
	ReservationDuration time.Duration
}

// Session is one pass through checkout. It lives in memory only.
type Session struct {
	token       string
	reservation time.Duration
	cart        Cart
	remote      Remote
	reconciler  *pricing.Reconciler
	publisher   OrderPublisher
	validate    *validatorv10.Validate
	log         *zap.Logger

	mu          sync.Mutex
	step        Step
	pending     bool
	closed      error
	review      []domain.CartItem
	reviewTotal decimal.Decimal
	snapshot    *domain.Cart
	address     *domain.ShippingAddress
	customer    *domain.CustomerInfo
	order       *domain.Order
}

func (s *Session) Step() Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

// Err reports why the session ended early, or nil while it is usable.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// refreshReview loads the server's review of the cart for display. Only an expired
// session is fatal; otherwise the local cart is shown.
func (s *Session) refreshReview(ctx context.Context) error {
	local := s.cart.Snapshot()
	items := local.Items

	remoteCart, err := s.remote.CheckoutReview(ctx, s.token)
	switch {
	case err == nil:
		items = remoteCart.Items
		s.reconciler.Reconcile(ctx, "checkout_review", s.cart.OwnerKey(), remoteCart.TotalAmount, remoteCart.Items)
	case errors.Is(err, domain.ErrSessionExpired):
		s.expire(err)
		return err
	default:
		s.log.Warn("checkout review unavailable, showing local cart", zap.String("owner_key", s.cart.OwnerKey()), zap.Error(err))
	}

	s.mu.Lock()
	s.review = domain.CloneItems(items)
	s.reviewTotal = pricing.CartSubtotal(items, s.reconciler.TaxRate())
	s.mu.Unlock()
	return nil
}

// ProceedToShipping moves from Review to Shipping and freezes a copy of the cart.
func (s *Session) ProceedToShipping(ctx context.Context) error {
	if err := s.begin(StepShipping); err != nil {
		return err
	}
	snap := s.cart.Snapshot()
	if snap.IsEmpty() {
		s.abort()
		return ErrCheckoutAborted
	}
	s.finish(StepShipping, func() {
		s.snapshot = &snap
	})
	return nil
}

// SubmitShipping validates the address and customer details and moves to Payment.
// Accepted data stays frozen until the user goes back.
func (s *Session) SubmitShipping(ctx context.Context, address domain.ShippingAddress, customer domain.CustomerInfo) error {
	if err := s.begin(StepPayment); err != nil {
		return err
	}
	if err := s.validateShipping(address, customer); err != nil {
		s.cancel()
		return err
	}
	s.finish(StepPayment, func() {
		s.address = &address
		s.customer = &customer
	})
	return nil
}

// ConfirmPayment places the order. The remote call is made exactly once; on any
// failure the session stays on Payment so the user can retry deliberately.
func (s *Session) ConfirmPayment(ctx context.Context, payment domain.PaymentDetails) (*domain.Order, error) {
	if err := s.begin(StepConfirmation); err != nil {
		return nil, err
	}
	if err := validate(s.validate, payment); err != nil {
		s.cancel()
		return nil, err
	}

	s.mu.Lock()
	req := domain.ConfirmRequest{
		ShippingAddress:     *s.address,
		CustomerInfo:        *s.customer,
		PaymentDetails:      payment,
		ReservationDuration: int(s.reservation / time.Second),
	}
	s.mu.Unlock()

	order, err := s.remote.ConfirmCheckout(ctx, s.token, req)
	if err != nil {
		if errors.Is(err, domain.ErrSessionExpired) {
			s.expire(err)
			return nil, err
		}
		s.cancel()
		s.log.Warn("order confirmation failed", zap.String("owner_key", s.cart.OwnerKey()), zap.Error(err))
		return nil, err
	}
	if order.PaymentFailed() {
		s.cancel()
		return nil, &PaymentFailedError{OrderNumber: order.OrderNumber, PaymentStatus: order.PaymentStatus}
	}

	s.reconciler.Reconcile(ctx, "order_confirm", s.cart.OwnerKey(), order.TotalAmount, order.CartItems())
	s.finish(StepConfirmation, func() {
		s.order = order
	})

	if err := s.cart.Discard(ctx); err != nil {
		s.log.Error("failed to discard cart after order", zap.String("order_number", order.OrderNumber), zap.Error(err))
	}
	if s.publisher != nil {
		if err := s.publisher.PublishOrderPlaced(ctx, s.cart.OwnerKey(), *order); err != nil {
			s.log.Error("failed to publish order placed", zap.String("order_number", order.OrderNumber), zap.Error(err))
		}
	}

	s.log.Info("order placed",
		zap.String("owner_key", s.cart.OwnerKey()),
		zap.String("order_number", order.OrderNumber),
		zap.String("total", pricing.FormatAmount(order.TotalAmount)))
	return order, nil
}

// Back moves one step back. Only Shipping and Payment have a previous step.
func (s *Session) Back(ctx context.Context) error {
	s.mu.Lock()
	target := s.step - 1
	s.mu.Unlock()

	if err := s.begin(target); err != nil {
		return err
	}
	s.finish(target, func() {
		if target == StepReview {
			s.snapshot = nil
		}
	})
	return nil
}

func (s *Session) View() (View, error) {
	if err := s.guard(); err != nil {
		return View{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	v := View{
		Step:                s.step,
		Review:              domain.CloneItems(s.review),
		ReviewTotal:         s.reviewTotal,
		ReservationDuration: s.reservation,
	}
	if s.snapshot != nil {
		snap := s.snapshot.Clone()
		v.Snapshot = &snap
	}
	if s.address != nil {
		a := *s.address
		v.ShippingAddress = &a
	}
	if s.customer != nil {
		c := *s.customer
		v.CustomerInfo = &c
	}
	if s.order != nil {
		o := *s.order
		v.Order = &o
	}
	return v, nil
}

func (s *Session) validateShipping(address domain.ShippingAddress, customer domain.CustomerInfo) error {
	fields := map[string]string{}
	for _, target := range []any{address, customer} {
		err := validate(s.validate, target)
		var ve *domain.ValidationError
		switch {
		case err == nil:
		case errors.As(err, &ve):
			for k, m := range ve.Fields {
				fields[k] = m
			}
		default:
			return err
		}
	}
	if len(fields) > 0 {
		return &domain.ValidationError{Fields: fields}
	}
	return nil
}

// guard aborts the session when the cart has been emptied before confirmation.
func (s *Session) guard() error {
	s.mu.Lock()
	closed, step := s.closed, s.step
	s.mu.Unlock()
	if closed != nil {
		return closed
	}
	if step.IsTerminal() {
		return nil
	}
	if s.cart.TotalItemCount() == 0 {
		s.abort()
		return ErrCheckoutAborted
	}
	return nil
}

func (s *Session) begin(to Step) error {
	if err := s.guard(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending {
		return ErrTransitionPending
	}
	if !s.step.CanTransitionTo(to) {
		return &IllegalTransitionError{From: s.step, To: to}
	}
	s.pending = true
	return nil
}

func (s *Session) finish(to Step, apply func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	apply()
	s.step = to
	s.pending = false
}

func (s *Session) cancel() {
	s.mu.Lock()
	s.pending = false
	s.mu.Unlock()
}

func (s *Session) abort() {
	s.mu.Lock()
	s.pending = false
	if s.closed == nil {
		s.closed = ErrCheckoutAborted
	}
	s.mu.Unlock()
	s.log.Info("checkout aborted, cart is empty", zap.String("owner_key", s.cart.OwnerKey()))
}

func (s *Session) expire(err error) {
	s.mu.Lock()
	s.pending = false
	s.closed = err
	s.mu.Unlock()
	s.log.Info("checkout discarded, session expired", zap.String("owner_key", s.cart.OwnerKey()))
}
