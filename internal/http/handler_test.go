package http

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fjod/go_cart/storefront/internal/cache"
	"github.com/fjod/go_cart/storefront/internal/cart"
	"github.com/fjod/go_cart/storefront/internal/checkout"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/pricing"
	"github.com/fjod/go_cart/storefront/internal/repository"
	"github.com/fjod/go_cart/storefront/internal/session"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func makeToken(t *testing.T, claims map[string]any) string {
	t.Helper()
	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	return "eyJhbGciOiJIUzI1NiJ9." + base64.RawURLEncoding.EncodeToString(payload) + ".sig"
}

type memRepo struct {
	mu    sync.Mutex
	carts map[string]domain.Cart
}

func (m *memRepo) GetCart(_ context.Context, ownerKey string) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[ownerKey]
	if !ok {
		return nil, repository.ErrCartNotFound
	}
	c = c.Clone()
	return &c, nil
}

func (m *memRepo) UpsertCart(_ context.Context, c *domain.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carts[c.OwnerKey] = c.Clone()
	return nil
}

func (m *memRepo) DeleteCart(_ context.Context, ownerKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.carts, ownerKey)
	return nil
}

// backendMock behaves like a tiny commerce backend: carts keyed by token and a
// fixed catalog.
type backendMock struct {
	mu         sync.Mutex
	taxRate    decimal.Decimal
	catalog    map[string]domain.Product
	carts      map[string][]domain.CartItem
	getErr     error
	confirmErr error
	payStatus  string
	order      *domain.Order
	authToken  string
	authErr    error
	rejected   map[string]bool
}

func (b *backendMock) snapshot(token string) *domain.RemoteCart {
	items := domain.CloneItems(b.carts[token])
	return &domain.RemoteCart{Items: items, TotalAmount: pricing.CartSubtotal(items, b.taxRate)}
}

func (b *backendMock) GetCart(_ context.Context, token string) (*domain.RemoteCart, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.getErr != nil {
		return nil, b.getErr
	}
	if b.rejected[token] {
		return nil, &domain.RemoteError{Kind: domain.ErrSessionExpired, StatusCode: http.StatusUnauthorized}
	}
	return b.snapshot(token), nil
}

func (b *backendMock) AddCartItem(_ context.Context, token, productID string, quantity int) (*domain.RemoteCart, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	items := b.carts[token]
	for i := range items {
		if items[i].ProductID == productID {
			items[i].Quantity += quantity
			return b.snapshot(token), nil
		}
	}
	b.carts[token] = append(items, domain.NewCartItem(b.catalog[productID], quantity))
	return b.snapshot(token), nil
}

func (b *backendMock) UpdateCartItem(_ context.Context, token, productID string, quantity int) (*domain.RemoteCart, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, it := range b.carts[token] {
		if it.ProductID == productID {
			b.carts[token][i].Quantity = quantity
		}
	}
	return b.snapshot(token), nil
}

func (b *backendMock) RemoveCartItem(_ context.Context, token, productID string) (*domain.RemoteCart, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.carts[token][:0]
	for _, it := range b.carts[token] {
		if it.ProductID != productID {
			kept = append(kept, it)
		}
	}
	b.carts[token] = kept
	return b.snapshot(token), nil
}

func (b *backendMock) ClearCart(_ context.Context, token string) (*domain.RemoteCart, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.carts, token)
	return b.snapshot(token), nil
}

func (b *backendMock) CheckoutReview(ctx context.Context, token string) (*domain.RemoteCart, error) {
	return b.GetCart(ctx, token)
}

func (b *backendMock) ConfirmCheckout(_ context.Context, token string, _ domain.ConfirmRequest) (*domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.confirmErr != nil {
		return nil, b.confirmErr
	}
	order := &domain.Order{
		ID:            "ord-1",
		OrderNumber:   "FM-1001",
		Status:        "CONFIRMED",
		PaymentStatus: b.payStatus,
		TotalAmount:   b.snapshot(token).TotalAmount,
	}
	for _, it := range b.carts[token] {
		order.Items = append(order.Items, domain.OrderItem{
			ProductID:          it.ProductID,
			Name:               it.Name,
			Quantity:           it.Quantity,
			BasePricePerUnit:   it.BasePricePerUnit,
			PlatformFeePerUnit: it.PlatformFeePerUnit,
			Status:             "PENDING",
		})
	}
	if !order.PaymentFailed() {
		delete(b.carts, token)
	}
	return order, nil
}

func (b *backendMock) Authenticate(_ context.Context, _, _ string) (string, error) {
	return b.authToken, b.authErr
}

func (b *backendMock) GetOrder(_ context.Context, _, orderID string) (*domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.order == nil || b.order.ID != orderID {
		return nil, &domain.RemoteError{Kind: domain.ErrValidation, StatusCode: http.StatusNotFound, Message: "order not found"}
	}
	o := *b.order
	return &o, nil
}

type guestsMock struct {
	token       string
	invalidated []string
}

func (g *guestsMock) GetOrCreateSession(context.Context, string) (string, error) {
	return g.token, nil
}

func (g *guestsMock) Invalidate(_ context.Context, clientID string) error {
	g.invalidated = append(g.invalidated, clientID)
	return nil
}

type mergerMock struct {
	staged []string
	cart   *domain.Cart
	err    error
}

func (m *mergerMock) Stage(_ context.Context, clientID string) error {
	m.staged = append(m.staged, clientID)
	return nil
}

func (m *mergerMock) Merge(context.Context, string, string, string) (*domain.Cart, error) {
	return m.cart, m.err
}

type testEnv struct {
	router   http.Handler
	backend  *backendMock
	merger   *mergerMock
	guests   *guestsMock
	registry *cart.Registry
	guest    string
}

var taxRate = decimal.RequireFromString("0.075")

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := zap.NewNop()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	backend := &backendMock{
		taxRate: taxRate,
		catalog: map[string]domain.Product{
			"sku-1": {ProductID: "sku-1", Name: "Aso-oke", VendorID: "v1", VendorName: "Loom House",
				BasePricePerUnit: decimal.NewFromInt(1000), PlatformFeePerUnit: decimal.NewFromInt(100)},
		},
		carts:     make(map[string][]domain.CartItem),
		rejected:  make(map[string]bool),
		payStatus: "PAID",
		authToken: makeToken(t, map[string]any{"sub": "u-42"}),
	}
	guest := makeToken(t, map[string]any{"sessionId": "g-1"})

	reconciler := pricing.NewReconciler(taxRate, nil, log)
	registry := cart.NewRegistry(&memRepo{carts: make(map[string]domain.Cart)}, cache.NewRedisCache(rdb, "test"), backend, reconciler, log, time.Second)
	sessions := checkout.NewSessions(backend, reconciler, nil, 15*time.Minute, log)
	guests := &guestsMock{token: guest}
	bearers := session.NewVerifier(session.NewRedisStore(rdb, time.Hour, time.Minute), backend, 15*time.Minute, log)
	resolver := NewResolver(guests, bearers)
	merger := &mergerMock{}

	router := NewRouter(Handlers{
		Cart:     NewCartHandler(registry, resolver, taxRate, 5*time.Second, log),
		Auth:     NewAuthHandler(backend, bearers, merger, guests, registry, sessions, taxRate, 5*time.Second, log),
		Checkout: NewCheckoutHandler(sessions, registry, resolver, taxRate, 5*time.Second, log),
		Orders:   NewOrdersHandler(backend, resolver, taxRate, 5*time.Second, log),
	}, log, 10*time.Second)

	return &testEnv{router: router, backend: backend, merger: merger, guests: guests, registry: registry, guest: guest}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-Client-ID", "client-1")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// settle waits for background synchronization of the guest cart.
func (e *testEnv) settle() {
	e.registry.Open(domain.GuestOwnerKey("g-1"), "").Wait()
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode response: %v (body %q)", err, w.Body.String())
	}
	return out
}

func addItem(t *testing.T, e *testEnv, quantity int) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, http.MethodPost, "/api/v1/cart/items", AddItemRequestDTO{
		Product:  e.backend.catalog["sku-1"],
		Quantity: quantity,
	}, "")
}

func TestMissingClientID(t *testing.T) {
	e := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
	if resp := decode[ErrorResponse](t, w); resp.Code != "missing_client_id" {
		t.Errorf("expected code missing_client_id, got %s", resp.Code)
	}
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
}

func TestAddItem_GuestCart(t *testing.T) {
	e := newTestEnv(t)

	w := addItem(t, e, 2)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, w.Code, w.Body.String())
	}
	resp := decode[cartView](t, w)
	if resp.OwnerKey != "guest:g-1" {
		t.Errorf("expected owner guest:g-1, got %s", resp.OwnerKey)
	}
	if resp.ItemCount != 2 {
		t.Errorf("expected 2 items, got %d", resp.ItemCount)
	}
	// (1000 + 100) * 1.075 * 2
	if resp.Subtotal != "2365.00" {
		t.Errorf("expected subtotal 2365.00, got %s", resp.Subtotal)
	}
	if len(resp.Items) != 1 || resp.Items[0].UnitPrice != "1182.50" {
		t.Errorf("unexpected items %+v", resp.Items)
	}

	e.settle()
	w = e.do(t, http.MethodGet, "/api/v1/cart", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if got := decode[cartView](t, w); got.Subtotal != "2365.00" || got.SyncError != "" {
		t.Errorf("unexpected cart after reload %+v", got)
	}
}

func TestAddItem_Validation(t *testing.T) {
	e := newTestEnv(t)

	w := addItem(t, e, 0)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
	resp := decode[ErrorResponse](t, w)
	if resp.Code != "validation_error" {
		t.Errorf("expected validation_error, got %s", resp.Code)
	}
	if _, ok := resp.Fields["quantity"]; !ok {
		t.Errorf("expected quantity field error, got %v", resp.Fields)
	}
}

func TestAddItem_InvalidJSON(t *testing.T) {
	e := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", bytes.NewBufferString("{"))
	req.Header.Set("X-Client-ID", "client-1")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestUpdateAndRemoveItem(t *testing.T) {
	e := newTestEnv(t)
	addItem(t, e, 1)
	e.settle()

	w := e.do(t, http.MethodPut, "/api/v1/cart/items/sku-1", UpdateQuantityRequestDTO{Quantity: 3}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if got := decode[cartView](t, w); got.ItemCount != 3 {
		t.Errorf("expected 3 items, got %d", got.ItemCount)
	}
	e.settle()

	w = e.do(t, http.MethodDelete, "/api/v1/cart/items/sku-1", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if got := decode[cartView](t, w); got.ItemCount != 0 || got.Subtotal != "0.00" {
		t.Errorf("expected empty cart, got %+v", got)
	}
}

func TestGetCart_SessionExpired(t *testing.T) {
	e := newTestEnv(t)
	e.backend.getErr = &domain.RemoteError{Kind: domain.ErrSessionExpired, StatusCode: http.StatusUnauthorized}

	w := e.do(t, http.MethodGet, "/api/v1/cart", nil, makeToken(t, map[string]any{"sub": "u-42"}))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, w.Code)
	}
	if resp := decode[ErrorResponse](t, w); resp.Code != "session_expired" {
		t.Errorf("expected session_expired, got %s", resp.Code)
	}
}

func TestGetCart_UnverifiedBearerCannotReadUserCart(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, http.MethodPost, "/api/v1/auth/login", LoginRequestDTO{Email: "ada@example.com", Password: "secret"}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("login: expected status %d, got %d", http.StatusOK, w.Code)
	}
	owner := e.backend.authToken
	w = e.do(t, http.MethodPost, "/api/v1/cart/items", AddItemRequestDTO{Product: e.backend.catalog["sku-1"], Quantity: 3}, owner)
	if w.Code != http.StatusCreated {
		t.Fatalf("add: expected status %d, got %d", http.StatusCreated, w.Code)
	}
	e.registry.Open(domain.UserOwnerKey("u-42"), "").Wait()

	e.backend.mu.Lock()
	e.backend.getErr = &domain.RemoteError{Kind: domain.ErrRemoteUnavailable, Message: "upstream down"}
	e.backend.mu.Unlock()

	forged := makeToken(t, map[string]any{"sub": "u-42", "role": "shopper"})
	w = e.do(t, http.MethodGet, "/api/v1/cart", nil, forged)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d: %s", http.StatusServiceUnavailable, w.Code, w.Body.String())
	}
	if bytes.Contains(w.Body.Bytes(), []byte("sku-1")) {
		t.Errorf("unverified bearer received the stored cart: %s", w.Body.String())
	}

	// the signed-in user still gets the local fallback
	w = e.do(t, http.MethodGet, "/api/v1/cart", nil, owner)
	if got := decode[cartView](t, w); got.ItemCount != 3 {
		t.Errorf("expected owner to see 3 items, got %+v", got)
	}

	e.backend.mu.Lock()
	e.backend.getErr = nil
	e.backend.rejected[forged] = true
	e.backend.mu.Unlock()
	w = e.do(t, http.MethodPost, "/api/v1/cart/items", AddItemRequestDTO{Product: e.backend.catalog["sku-1"], Quantity: 1}, forged)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status %d, got %d", http.StatusUnauthorized, w.Code)
	}
}

func TestGetCart_MalformedBearer(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodGet, "/api/v1/cart", nil, "not-a-jwt")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status %d, got %d", http.StatusUnauthorized, w.Code)
	}
}

func TestCheckout_FullFlow(t *testing.T) {
	e := newTestEnv(t)
	addItem(t, e, 2)
	e.settle()

	w := e.do(t, http.MethodPost, "/api/v1/checkout", nil, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("start: expected status %d, got %d: %s", http.StatusCreated, w.Code, w.Body.String())
	}
	if v := decode[checkoutView](t, w); v.Step != "REVIEW" || v.ReviewTotal != "2365.00" || v.ReservationSeconds != 900 {
		t.Errorf("unexpected review view %+v", v)
	}

	w = e.do(t, http.MethodPost, "/api/v1/checkout/shipping", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("shipping: expected status %d, got %d", http.StatusOK, w.Code)
	}
	if v := decode[checkoutView](t, w); v.Step != "SHIPPING" || v.Snapshot == nil || v.Snapshot.ItemCount != 2 {
		t.Errorf("unexpected shipping view %+v", v)
	}

	w = e.do(t, http.MethodPost, "/api/v1/checkout/details", ShippingRequestDTO{
		ShippingAddress: domain.ShippingAddress{FullName: "Ada Obi", Line1: "1 Marina", City: "Lagos", State: "LA", Country: "NG"},
		CustomerInfo:    domain.CustomerInfo{FirstName: "Ada", LastName: "Obi", Email: "ada@example.com", Phone: "+2348012345678"},
	}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("details: expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	w = e.do(t, http.MethodPost, "/api/v1/checkout/payment", domain.PaymentDetails{
		Method: domain.PaymentMethodCard, Token: "tok_1", OTP: "123456",
	}, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("payment: expected status %d, got %d: %s", http.StatusCreated, w.Code, w.Body.String())
	}
	v := decode[checkoutView](t, w)
	if v.Step != "CONFIRMATION" || v.Order == nil || v.Order.OrderNumber != "FM-1001" {
		t.Fatalf("unexpected confirmation view %+v", v)
	}
	if v.Order.TotalAmount != "2365.00" {
		t.Errorf("expected order total 2365.00, got %s", v.Order.TotalAmount)
	}

	w = e.do(t, http.MethodGet, "/api/v1/cart", nil, "")
	if got := decode[cartView](t, w); got.ItemCount != 0 {
		t.Errorf("expected cart to be empty after order, got %d items", got.ItemCount)
	}
}

func TestCheckout_DetailsValidation(t *testing.T) {
	e := newTestEnv(t)
	addItem(t, e, 1)
	e.settle()
	e.do(t, http.MethodPost, "/api/v1/checkout", nil, "")
	e.do(t, http.MethodPost, "/api/v1/checkout/shipping", nil, "")

	w := e.do(t, http.MethodPost, "/api/v1/checkout/details", ShippingRequestDTO{}, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
	if resp := decode[ErrorResponse](t, w); len(resp.Fields) == 0 {
		t.Error("expected field errors")
	}

	w = e.do(t, http.MethodGet, "/api/v1/checkout", nil, "")
	if v := decode[checkoutView](t, w); v.Step != "SHIPPING" {
		t.Errorf("expected to stay on SHIPPING, got %s", v.Step)
	}
}

func TestCheckout_PaymentDeclined(t *testing.T) {
	e := newTestEnv(t)
	e.backend.payStatus = "DECLINED"
	addItem(t, e, 1)
	e.settle()
	e.do(t, http.MethodPost, "/api/v1/checkout", nil, "")
	e.do(t, http.MethodPost, "/api/v1/checkout/shipping", nil, "")
	e.do(t, http.MethodPost, "/api/v1/checkout/details", ShippingRequestDTO{
		ShippingAddress: domain.ShippingAddress{FullName: "Ada Obi", Line1: "1 Marina", City: "Lagos", State: "LA", Country: "NG"},
		CustomerInfo:    domain.CustomerInfo{FirstName: "Ada", LastName: "Obi", Email: "ada@example.com", Phone: "08012345678"},
	}, "")

	w := e.do(t, http.MethodPost, "/api/v1/checkout/payment", domain.PaymentDetails{Method: domain.PaymentMethodWallet, Token: "tok"}, "")
	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("expected status %d, got %d: %s", http.StatusPaymentRequired, w.Code, w.Body.String())
	}

	w = e.do(t, http.MethodGet, "/api/v1/checkout", nil, "")
	if v := decode[checkoutView](t, w); v.Step != "PAYMENT" {
		t.Errorf("expected to stay on PAYMENT, got %s", v.Step)
	}
}

func TestCheckout_RateLimitedKeepsRemoteMessage(t *testing.T) {
	e := newTestEnv(t)
	e.backend.confirmErr = &domain.RemoteError{Kind: domain.ErrRateLimited, StatusCode: http.StatusTooManyRequests, Message: "retry in 30s"}
	addItem(t, e, 1)
	e.settle()
	e.do(t, http.MethodPost, "/api/v1/checkout", nil, "")
	e.do(t, http.MethodPost, "/api/v1/checkout/shipping", nil, "")
	e.do(t, http.MethodPost, "/api/v1/checkout/details", ShippingRequestDTO{
		ShippingAddress: domain.ShippingAddress{FullName: "Ada Obi", Line1: "1 Marina", City: "Lagos", State: "LA", Country: "NG"},
		CustomerInfo:    domain.CustomerInfo{FirstName: "Ada", LastName: "Obi", Email: "ada@example.com", Phone: "08012345678"},
	}, "")

	w := e.do(t, http.MethodPost, "/api/v1/checkout/payment", domain.PaymentDetails{Method: domain.PaymentMethodWallet, Token: "tok"}, "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status %d, got %d: %s", http.StatusTooManyRequests, w.Code, w.Body.String())
	}
	resp := decode[ErrorResponse](t, w)
	if resp.Code != "rate_limited" || resp.Details != "retry in 30s" {
		t.Errorf("expected remote message to be kept, got %+v", resp)
	}
}

func TestCheckout_EmptyCart(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodPost, "/api/v1/checkout", nil, "")
	if w.Code != http.StatusConflict {
		t.Fatalf("expected status %d, got %d", http.StatusConflict, w.Code)
	}
	if resp := decode[ErrorResponse](t, w); resp.Code != "empty_cart" {
		t.Errorf("expected empty_cart, got %s", resp.Code)
	}
}

func TestCheckout_IllegalTransition(t *testing.T) {
	e := newTestEnv(t)
	addItem(t, e, 1)
	e.settle()
	e.do(t, http.MethodPost, "/api/v1/checkout", nil, "")

	w := e.do(t, http.MethodPost, "/api/v1/checkout/payment", domain.PaymentDetails{Method: domain.PaymentMethodWallet, Token: "tok"}, "")
	if w.Code != http.StatusConflict {
		t.Fatalf("expected status %d, got %d", http.StatusConflict, w.Code)
	}
	if resp := decode[ErrorResponse](t, w); resp.Code != "illegal_transition" {
		t.Errorf("expected illegal_transition, got %s", resp.Code)
	}
}

func TestCheckout_NoSession(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodGet, "/api/v1/checkout", nil, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestLogin_MergesGuestCart(t *testing.T) {
	e := newTestEnv(t)
	e.merger.cart = &domain.Cart{
		OwnerKey: "user:u-42",
		Items:    []domain.CartItem{domain.NewCartItem(e.backend.catalog["sku-1"], 1)},
	}

	w := e.do(t, http.MethodPost, "/api/v1/auth/login", LoginRequestDTO{Email: "ada@example.com", Password: "secret"}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	resp := decode[LoginResponseDTO](t, w)
	if !resp.Merged || resp.Cart.ItemCount != 1 || resp.Token != e.backend.authToken {
		t.Errorf("unexpected login response %+v", resp)
	}
	if len(e.merger.staged) != 1 || e.merger.staged[0] != "client-1" {
		t.Errorf("expected guest token to be staged for client-1, got %v", e.merger.staged)
	}
}

func TestLogin_MergeAbortedShowsUserCart(t *testing.T) {
	e := newTestEnv(t)
	e.merger.err = &domain.MergeAbortedError{Reason: "guest cart unreachable"}
	e.backend.carts[e.backend.authToken] = []domain.CartItem{domain.NewCartItem(e.backend.catalog["sku-1"], 4)}

	w := e.do(t, http.MethodPost, "/api/v1/auth/login", LoginRequestDTO{Email: "ada@example.com", Password: "secret"}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	resp := decode[LoginResponseDTO](t, w)
	if resp.Merged || resp.Cart.ItemCount != 4 || resp.Cart.OwnerKey != "user:u-42" {
		t.Errorf("unexpected login response %+v", resp)
	}
}

func TestLogin_BadCredentials(t *testing.T) {
	e := newTestEnv(t)
	e.backend.authErr = &domain.RemoteError{Kind: domain.ErrSessionExpired, StatusCode: http.StatusUnauthorized}

	w := e.do(t, http.MethodPost, "/api/v1/auth/login", LoginRequestDTO{Email: "ada@example.com", Password: "wrong"}, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status %d, got %d", http.StatusUnauthorized, w.Code)
	}

	w = e.do(t, http.MethodPost, "/api/v1/auth/login", LoginRequestDTO{}, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestLogout(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodPost, "/api/v1/auth/logout", nil, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status %d, got %d", http.StatusUnauthorized, w.Code)
	}

	w = e.do(t, http.MethodPost, "/api/v1/auth/logout", nil, e.backend.authToken)
	if w.Code != http.StatusNoContent {
		t.Errorf("expected status %d, got %d", http.StatusNoContent, w.Code)
	}
	if len(e.guests.invalidated) != 1 || e.guests.invalidated[0] != "client-1" {
		t.Errorf("expected guest session of client-1 to be invalidated, got %v", e.guests.invalidated)
	}
}

func TestGetOrder_AggregatesStatus(t *testing.T) {
	e := newTestEnv(t)
	e.backend.order = &domain.Order{
		ID:          "ord-9",
		OrderNumber: "FM-9",
		Status:      "CONFIRMED",
		TotalAmount: decimal.RequireFromString("2365"),
		Items: []domain.OrderItem{
			{ProductID: "a", Quantity: 1, BasePricePerUnit: decimal.NewFromInt(1000), PlatformFeePerUnit: decimal.NewFromInt(100), Status: "DELIVERED"},
			{ProductID: "b", Quantity: 1, BasePricePerUnit: decimal.NewFromInt(1000), PlatformFeePerUnit: decimal.NewFromInt(100), Status: "IN_TRANSIT"},
		},
	}

	w := e.do(t, http.MethodGet, "/api/v1/orders/ord-9", nil, e.backend.authToken)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	v := decode[orderView](t, w)
	if v.AggregateStatus != "SHIPPED" {
		t.Errorf("expected SHIPPED, got %s", v.AggregateStatus)
	}
	if v.TotalAmount != "2365.00" {
		t.Errorf("expected total 2365.00, got %s", v.TotalAmount)
	}
	if len(v.Timeline) == 0 {
		t.Error("expected a timeline")
	}
	if v.Items[1].Status != "IN_TRANSIT" {
		t.Errorf("expected raw item status, got %s", v.Items[1].Status)
	}
}

func TestHandleError_StatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.NewValidationError("quantity", "must be at least 1"), http.StatusBadRequest},
		{&domain.RemoteError{Kind: domain.ErrValidation, StatusCode: 422}, http.StatusBadRequest},
		{&domain.RemoteError{Kind: domain.ErrSessionExpired, StatusCode: 401}, http.StatusUnauthorized},
		{&checkout.PaymentFailedError{OrderNumber: "1", PaymentStatus: "DECLINED"}, http.StatusPaymentRequired},
		{cart.ErrMutationInFlight, http.StatusConflict},
		{&checkout.IllegalTransitionError{From: checkout.StepReview, To: checkout.StepPayment}, http.StatusConflict},
		{checkout.ErrTransitionPending, http.StatusConflict},
		{checkout.ErrCheckoutAborted, http.StatusConflict},
		{checkout.ErrNoCheckout, http.StatusNotFound},
		{&domain.RemoteError{Kind: domain.ErrRateLimited, StatusCode: 429}, http.StatusTooManyRequests},
		{&domain.RemoteError{Kind: domain.ErrRemoteUnavailable, StatusCode: 502}, http.StatusServiceUnavailable},
		{fmt.Errorf("load: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		w := httptest.NewRecorder()
		handleError(w, zap.NewNop(), tt.err)
		if w.Code != tt.want {
			t.Errorf("%v: expected status %d, got %d", tt.err, tt.want, w.Code)
		}
	}
}
