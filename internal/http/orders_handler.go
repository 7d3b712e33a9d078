package http

import (
	"context"
	"net/http"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type OrderFetcher interface {
	GetOrder(ctx context.Context, token, orderID string) (*domain.Order, error)
}

type OrdersHandler struct {
	orders   OrderFetcher
	resolver *Resolver
	taxRate  decimal.Decimal
	timeout  time.Duration
	log      *zap.Logger
}

func NewOrdersHandler(orders OrderFetcher, resolver *Resolver, taxRate decimal.Decimal, timeout time.Duration, log *zap.Logger) *OrdersHandler {
	return &OrdersHandler{
		orders:   orders,
		resolver: resolver,
		taxRate:  taxRate,
		timeout:  timeout,
		log:      log,
	}
}

func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orderID := chi.URLParam(r, "order_id")
	if orderID == "" {
		respondError(w, http.StatusBadRequest, "invalid_order_id", "order_id is required")
		return
	}
	id, err := h.resolver.Resolve(ctx)
	if err != nil {
		handleError(w, h.log, err)
		return
	}

	order, err := h.orders.GetOrder(ctx, id.Token, orderID)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, renderOrder(*order, h.taxRate))
}
