package http

import (
	"context"
	"net/http"
	"time"

	"github.com/fjod/go_cart/storefront/internal/checkout"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type CheckoutHandler struct {
	sessions *checkout.Sessions
	carts    Carts
	resolver *Resolver
	taxRate  decimal.Decimal
	timeout  time.Duration
	log      *zap.Logger
}

func NewCheckoutHandler(sessions *checkout.Sessions, carts Carts, resolver *Resolver, taxRate decimal.Decimal, timeout time.Duration, log *zap.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		sessions: sessions,
		carts:    carts,
		resolver: resolver,
		taxRate:  taxRate,
		timeout:  timeout,
		log:      log,
	}
}

type ShippingRequestDTO struct {
	ShippingAddress domain.ShippingAddress `json:"shippingAddress"`
	CustomerInfo    domain.CustomerInfo    `json:"customerInfo"`
}

func (h *CheckoutHandler) respondView(w http.ResponseWriter, status int, s *checkout.Session) {
	v, err := s.View()
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, status, renderCheckout(v, h.taxRate))
}

// Start enters checkout with the freshly loaded cart, or resumes the client's
// unfinished checkout.
func (h *CheckoutHandler) Start(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, err := h.resolver.Resolve(ctx)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	store := h.carts.Open(id.OwnerKey, id.Token)
	if _, err := store.Load(ctx); err != nil {
		handleError(w, h.log, err)
		return
	}

	s, err := h.sessions.Begin(ctx, id.ClientID, id.Token, store)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	h.respondView(w, http.StatusCreated, s)
}

func (h *CheckoutHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Get(clientIDFromContext(r.Context()))
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	h.respondView(w, http.StatusOK, s)
}

func (h *CheckoutHandler) Leave(w http.ResponseWriter, r *http.Request) {
	h.sessions.Discard(clientIDFromContext(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

func (h *CheckoutHandler) ProceedToShipping(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	s, err := h.sessions.Get(clientIDFromContext(ctx))
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	if err := s.ProceedToShipping(ctx); err != nil {
		handleError(w, h.log, err)
		return
	}
	h.respondView(w, http.StatusOK, s)
}

func (h *CheckoutHandler) SubmitShipping(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req ShippingRequestDTO
	if !decodeBody(w, r, &req) {
		return
	}
	s, err := h.sessions.Get(clientIDFromContext(ctx))
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	if err := s.SubmitShipping(ctx, req.ShippingAddress, req.CustomerInfo); err != nil {
		handleError(w, h.log, err)
		return
	}
	h.respondView(w, http.StatusOK, s)
}

func (h *CheckoutHandler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req domain.PaymentDetails
	if !decodeBody(w, r, &req) {
		return
	}
	s, err := h.sessions.Get(clientIDFromContext(ctx))
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	if _, err := s.ConfirmPayment(ctx, req); err != nil {
		handleError(w, h.log, err)
		return
	}
	h.respondView(w, http.StatusCreated, s)
}

func (h *CheckoutHandler) Back(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	s, err := h.sessions.Get(clientIDFromContext(ctx))
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	if err := s.Back(ctx); err != nil {
		handleError(w, h.log, err)
		return
	}
	h.respondView(w, http.StatusOK, s)
}
