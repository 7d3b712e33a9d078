package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fjod/go_cart/storefront/internal/cart"
	"github.com/fjod/go_cart/storefront/internal/checkout"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"go.uber.org/zap"
)

type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code,omitempty"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Error("failed to encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return false
	}
	return true
}

// handleError maps domain and orchestration errors to HTTP statuses.
func handleError(w http.ResponseWriter, log *zap.Logger, err error) {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		respondJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:  "validation failed",
			Code:   "validation_error",
			Fields: ve.Fields,
		})
		return
	}

	var pf *checkout.PaymentFailedError
	if errors.As(err, &pf) {
		respondJSON(w, http.StatusPaymentRequired, ErrorResponse{
			Error:   err.Error(),
			Code:    "payment_failed",
			Details: pf.PaymentStatus,
		})
		return
	}

	switch {
	case errors.Is(err, domain.ErrValidation):
		respondError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, domain.ErrSessionExpired):
		respondError(w, http.StatusUnauthorized, "session_expired", "session expired, please sign in again")
	case errors.Is(err, domain.ErrMalformedToken):
		respondError(w, http.StatusUnauthorized, "invalid_token", err.Error())
	case errors.Is(err, checkout.ErrPaymentFailed):
		respondError(w, http.StatusPaymentRequired, "payment_failed", err.Error())
	case errors.Is(err, checkout.ErrNoCheckout):
		respondError(w, http.StatusNotFound, "no_checkout", err.Error())
	case errors.Is(err, cart.ErrMutationInFlight):
		respondError(w, http.StatusConflict, "mutation_in_flight", err.Error())
	case errors.Is(err, checkout.ErrIllegalTransition):
		respondError(w, http.StatusConflict, "illegal_transition", err.Error())
	case errors.Is(err, checkout.ErrTransitionPending):
		respondError(w, http.StatusConflict, "transition_pending", err.Error())
	case errors.Is(err, checkout.ErrCheckoutAborted):
		respondError(w, http.StatusConflict, "checkout_aborted", err.Error())
	case errors.Is(err, domain.ErrEmptyCart):
		respondError(w, http.StatusConflict, "empty_cart", err.Error())
	case errors.Is(err, domain.ErrMergeAborted):
		respondError(w, http.StatusConflict, "merge_aborted", err.Error())
	case errors.Is(err, domain.ErrRateLimited):
		respondRemote(w, http.StatusTooManyRequests, "rate_limited", "too many requests, try again shortly", err)
	case errors.Is(err, domain.ErrRemoteUnavailable):
		respondRemote(w, http.StatusServiceUnavailable, "unavailable", "service temporarily unavailable", err)
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "timeout", "request timeout")
	default:
		log.Error("unhandled error", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

// respondRemote passes the marketplace's own message through in Details.
func respondRemote(w http.ResponseWriter, status int, code, message string, err error) {
	resp := ErrorResponse{Error: message, Code: code}
	var re *domain.RemoteError
	if errors.As(err, &re) {
		resp.Details = re.Message
	}
	respondJSON(w, status, resp)
}
