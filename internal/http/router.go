package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

type Handlers struct {
	Cart     *CartHandler
	Auth     *AuthHandler
	Checkout *CheckoutHandler
	Orders   *OrdersHandler
}

func NewRouter(h Handlers, log *zap.Logger, timeout time.Duration) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(log))
	r.Use(middleware.Timeout(timeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(ClientIdentity)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.Cart.GetCart)
			r.Delete("/", h.Cart.ClearCart)
			r.Post("/items", h.Cart.AddItem)
			r.Put("/items/{product_id}", h.Cart.UpdateQuantity)
			r.Delete("/items/{product_id}", h.Cart.RemoveItem)
		})
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", h.Auth.Login)
			r.Post("/logout", h.Auth.Logout)
		})
		r.Route("/checkout", func(r chi.Router) {
			r.Post("/", h.Checkout.Start)
			r.Get("/", h.Checkout.Get)
			r.Delete("/", h.Checkout.Leave)
			r.Post("/shipping", h.Checkout.ProceedToShipping)
			r.Post("/details", h.Checkout.SubmitShipping)
			r.Post("/payment", h.Checkout.ConfirmPayment)
			r.Post("/back", h.Checkout.Back)
		})
		r.Get("/orders/{order_id}", h.Orders.GetOrder)
	})

	return otelhttp.NewHandler(r, "storefront")
}
