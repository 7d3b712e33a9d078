package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (string, error)
}

// Merger moves a guest cart into the user's cart at sign-in.
type Merger interface {
	Stage(ctx context.Context, clientID string) error
	Merge(ctx context.Context, clientID, userOwnerKey, userToken string) (*domain.Cart, error)
}

// Checkouts is the part of the checkout registry that sign-in and sign-out touch.
type Checkouts interface {
	Discard(clientID string)
}

// Bearers records the tokens the server issues at sign-in and forgets them at
// sign-out.
type Bearers interface {
	BearerVerifier
	Remember(ctx context.Context, token string) (string, error)
	Forget(ctx context.Context, token string) error
}

type AuthHandler struct {
	auth      Authenticator
	bearers   Bearers
	merger    Merger
	guests    GuestSessions
	carts     Carts
	checkouts Checkouts
	taxRate   decimal.Decimal
	timeout   time.Duration
	log       *zap.Logger
}

func NewAuthHandler(auth Authenticator, bearers Bearers, merger Merger, guests GuestSessions, carts Carts, checkouts Checkouts, taxRate decimal.Decimal, timeout time.Duration, log *zap.Logger) *AuthHandler {
	return &AuthHandler{
		auth:      auth,
		bearers:   bearers,
		merger:    merger,
		guests:    guests,
		carts:     carts,
		checkouts: checkouts,
		taxRate:   taxRate,
		timeout:   timeout,
		log:       log,
	}
}

type LoginRequestDTO struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponseDTO struct {
	Token  string   `json:"token"`
	Merged bool     `json:"merged"`
	Cart   cartView `json:"cart"`
}

// Login stages the guest token before authenticating so the guest cart can be
// merged into the user's cart right after sign-in. A failed merge never fails the
// login; the user's own cart is shown instead.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req LoginRequestDTO
	if !decodeBody(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	fields := map[string]string{}
	if req.Email == "" {
		fields["email"] = "is required"
	}
	if req.Password == "" {
		fields["password"] = "is required"
	}
	if len(fields) > 0 {
		handleError(w, h.log, &domain.ValidationError{Fields: fields})
		return
	}

	clientID := clientIDFromContext(ctx)
	if err := h.merger.Stage(ctx, clientID); err != nil {
		h.log.Warn("failed to stage guest cart", zap.String("client_id", clientID), zap.Error(err))
	}

	token, err := h.auth.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	subject, err := h.bearers.Remember(ctx, token)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	ownerKey := domain.UserOwnerKey(subject)

	merged, err := h.merger.Merge(ctx, clientID, ownerKey, token)
	if err != nil {
		h.log.Warn("cart merge aborted", zap.String("client_id", clientID), zap.Error(err))
	}
	h.checkouts.Discard(clientID)

	store := h.carts.Open(ownerKey, token)
	var c domain.Cart
	if merged != nil {
		c = *merged
	} else if c, err = store.Load(ctx); err != nil {
		handleError(w, h.log, err)
		return
	}

	respondJSON(w, http.StatusOK, LoginResponseDTO{
		Token:  token,
		Merged: merged != nil,
		Cart:   renderCart(c, h.taxRate, store.SyncError()),
	})
}

// Logout drops the user's in-memory state and any guest token left over from an
// aborted merge. The client keeps its X-Client-ID and gets a fresh guest session on
// the next request.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	bearer := bearerFromContext(ctx)
	if bearer == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}
	subject, err := h.bearers.Subject(ctx, bearer)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	if err := h.bearers.Forget(ctx, bearer); err != nil {
		h.log.Warn("failed to forget bearer on logout", zap.Error(err))
	}

	clientID := clientIDFromContext(ctx)
	if err := h.guests.Invalidate(ctx, clientID); err != nil {
		h.log.Warn("failed to invalidate guest session on logout", zap.String("client_id", clientID), zap.Error(err))
	}
	h.checkouts.Discard(clientID)
	h.carts.Release(domain.UserOwnerKey(subject))
	w.WriteHeader(http.StatusNoContent)
}
