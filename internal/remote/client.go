// Package remote is the HTTP client for the marketplace API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

const maxErrorBody = 64 << 10

type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient builds a client for baseURL. Outbound calls are limited to rps requests
// per second with the given burst; rps <= 0 disables limiting.
func NewClient(baseURL string, timeout time.Duration, rps float64, burst int) *Client {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst < 1 {
		burst = 1
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: rate.NewLimiter(limit, burst),
	}
}

type cartEnvelope struct {
	Cart domain.RemoteCart `json:"cart"`
}

type orderEnvelope struct {
	Order     domain.Order      `json:"order"`
	Shipments []domain.Shipment `json:"shipments,omitempty"`
}

type tokenEnvelope struct {
	Token string `json:"token"`
}

type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// GetCart reads the cart bound to token. A missing cart is returned as an empty one.
func (c *Client) GetCart(ctx context.Context, token string) (*domain.RemoteCart, error) {
	var out cartEnvelope
	err := c.do(ctx, http.MethodGet, "/cart", token, nil, &out)
	var re *domain.RemoteError
	if errors.As(err, &re) && re.StatusCode == http.StatusNotFound {
		return &domain.RemoteCart{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &out.Cart, nil
}

func (c *Client) AddCartItem(ctx context.Context, token, productID string, quantity int) (*domain.RemoteCart, error) {
	body := map[string]any{"productId": productID, "quantity": quantity}
	var out cartEnvelope
	if err := c.do(ctx, http.MethodPost, "/cart/items", token, body, &out); err != nil {
		return nil, err
	}
	return &out.Cart, nil
}

func (c *Client) UpdateCartItem(ctx context.Context, token, productID string, quantity int) (*domain.RemoteCart, error) {
	body := map[string]any{"quantity": quantity}
	var out cartEnvelope
	if err := c.do(ctx, http.MethodPut, "/cart/items/"+url.PathEscape(productID), token, body, &out); err != nil {
		return nil, err
	}
	return &out.Cart, nil
}

func (c *Client) RemoveCartItem(ctx context.Context, token, productID string) (*domain.RemoteCart, error) {
	var out cartEnvelope
	if err := c.do(ctx, http.MethodDelete, "/cart/items/"+url.PathEscape(productID), token, nil, &out); err != nil {
		return nil, err
	}
	return &out.Cart, nil
}

func (c *Client) ClearCart(ctx context.Context, token string) (*domain.RemoteCart, error) {
	var out cartEnvelope
	if err := c.do(ctx, http.MethodDelete, "/cart", token, nil, &out); err != nil {
		return nil, err
	}
	return &out.Cart, nil
}

func (c *Client) CreateGuestSession(ctx context.Context) (string, error) {
	var out tokenEnvelope
	if err := c.do(ctx, http.MethodPost, "/guest/session", "", nil, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", &domain.RemoteError{Kind: domain.ErrRemoteUnavailable, Message: "guest session response has no token"}
	}
	return out.Token, nil
}

// MergeCart asks the server to fold the guest cart identified by guestSessionID into
// the cart of the user that owns userToken.
func (c *Client) MergeCart(ctx context.Context, userToken, guestSessionID string) (*domain.RemoteCart, error) {
	body := map[string]string{"guestSessionId": guestSessionID}
	var out cartEnvelope
	if err := c.do(ctx, http.MethodPost, "/cart/merge", userToken, body, &out); err != nil {
		return nil, err
	}
	return &out.Cart, nil
}

func (c *Client) CheckoutReview(ctx context.Context, token string) (*domain.RemoteCart, error) {
	var out cartEnvelope
	if err := c.do(ctx, http.MethodPost, "/checkout/review", token, nil, &out); err != nil {
		return nil, err
	}
	return &out.Cart, nil
}

// ConfirmCheckout places the order. It is never retried here.
func (c *Client) ConfirmCheckout(ctx context.Context, token string, req domain.ConfirmRequest) (*domain.Order, error) {
	var out orderEnvelope
	if err := c.do(ctx, http.MethodPost, "/checkout/confirm", token, req, &out); err != nil {
		return nil, err
	}
	return &out.Order, nil
}

func (c *Client) GetOrder(ctx context.Context, token, orderID string) (*domain.Order, error) {
	var out orderEnvelope
	if err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID), token, nil, &out); err != nil {
		return nil, err
	}
	if len(out.Shipments) > 0 && len(out.Order.Shipments) == 0 {
		out.Order.Shipments = out.Shipments
	}
	return &out.Order, nil
}

func (c *Client) Authenticate(ctx context.Context, email, password string) (string, error) {
	body := map[string]string{"email": email, "password": password}
	var out tokenEnvelope
	if err := c.do(ctx, http.MethodPost, "/auth/login", "", body, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", &domain.RemoteError{Kind: domain.ErrRemoteUnavailable, Message: "login response has no token"}
	}
	return out.Token, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &domain.RemoteError{Kind: domain.ErrRemoteUnavailable, Message: err.Error()}
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &domain.RemoteError{Kind: domain.ErrRemoteUnavailable, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return &domain.RemoteError{Kind: domain.ErrRemoteUnavailable, StatusCode: resp.StatusCode, Message: err.Error()}
		}
		if len(bytes.TrimSpace(data)) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return &domain.RemoteError{Kind: domain.ErrRemoteUnavailable, StatusCode: resp.StatusCode, Message: "invalid response body: " + err.Error()}
		}
		return nil
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &domain.RemoteError{
		Kind:       classify(resp.StatusCode),
		StatusCode: resp.StatusCode,
		Message:    errorMessage(data, resp.Status),
	}
}

func classify(status int) error {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return domain.ErrValidation
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.ErrSessionExpired
	case http.StatusTooManyRequests:
		return domain.ErrRateLimited
	default:
		return domain.ErrRemoteUnavailable
	}
}

func errorMessage(data []byte, fallback string) string {
	var body errorBody
	if err := json.Unmarshal(data, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	if s := strings.TrimSpace(string(data)); s != "" && len(s) < 512 {
		return s
	}
	return fallback
}
