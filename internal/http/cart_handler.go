package http

import (
	"context"
	"net/http"
	"time"

	"github.com/fjod/go_cart/storefront/internal/cart"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Carts hands out the per-owner cart stores.
type Carts interface {
	Open(ownerKey, token string) *cart.Store
	Release(ownerKey string)
}

type CartHandler struct {
	carts    Carts
	resolver *Resolver
	taxRate  decimal.Decimal
	timeout  time.Duration
	log      *zap.Logger
}

func NewCartHandler(carts Carts, resolver *Resolver, taxRate decimal.Decimal, timeout time.Duration, log *zap.Logger) *CartHandler {
	return &CartHandler{
		carts:    carts,
		resolver: resolver,
		taxRate:  taxRate,
		timeout:  timeout,
		log:      log,
	}
}

type AddItemRequestDTO struct {
	Product  domain.Product `json:"product"`
	Quantity int            `json:"quantity"`
}

type UpdateQuantityRequestDTO struct {
	Quantity int `json:"quantity"`
}

func (h *CartHandler) open(ctx context.Context) (*cart.Store, error) {
	id, err := h.resolver.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	return h.carts.Open(id.OwnerKey, id.Token), nil
}

func (h *CartHandler) respondCart(w http.ResponseWriter, status int, store *cart.Store) {
	respondJSON(w, status, renderCart(store.Snapshot(), h.taxRate, store.SyncError()))
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	store, err := h.open(ctx)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	c, err := store.Load(ctx)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, renderCart(c, h.taxRate, store.SyncError()))
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req AddItemRequestDTO
	if !decodeBody(w, r, &req) {
		return
	}
	store, err := h.open(ctx)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	if err := store.AddItem(ctx, req.Product, req.Quantity); err != nil {
		handleError(w, h.log, err)
		return
	}
	h.respondCart(w, http.StatusCreated, store)
}

func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req UpdateQuantityRequestDTO
	if !decodeBody(w, r, &req) {
		return
	}
	store, err := h.open(ctx)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	if err := store.UpdateQuantity(ctx, chi.URLParam(r, "product_id"), req.Quantity); err != nil {
		handleError(w, h.log, err)
		return
	}
	h.respondCart(w, http.StatusOK, store)
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	store, err := h.open(ctx)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	if err := store.RemoveItem(ctx, chi.URLParam(r, "product_id")); err != nil {
		handleError(w, h.log, err)
		return
	}
	h.respondCart(w, http.StatusOK, store)
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	store, err := h.open(ctx)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	if err := store.Clear(ctx); err != nil {
		handleError(w, h.log, err)
		return
	}
	h.respondCart(w, http.StatusOK, store)
}
