package http

import (
	"context"
	"fmt"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/session"
)

// GuestSessions issues and forgets guest tokens per client.
type GuestSessions interface {
	GetOrCreateSession(ctx context.Context, clientID string) (string, error)
	Invalidate(ctx context.Context, clientID string) error
}

// BearerVerifier maps a bearer token to a user id the server has accepted.
type BearerVerifier interface {
	Subject(ctx context.Context, token string) (string, error)
}

// Identity is who a request acts for and the credential forwarded to the server.
type Identity struct {
	ClientID string
	OwnerKey string
	Token    string
	Guest    bool
}

type Resolver struct {
	guests  GuestSessions
	bearers BearerVerifier
}

func NewResolver(guests GuestSessions, bearers BearerVerifier) *Resolver {
	return &Resolver{guests: guests, bearers: bearers}
}

// Resolve uses the bearer token when present and otherwise the client's guest
// session, creating one if needed. A bearer only opens a user cart once the server
// has accepted it, so a forged subject never reaches locally stored state.
func (r *Resolver) Resolve(ctx context.Context) (Identity, error) {
	id := Identity{ClientID: clientIDFromContext(ctx)}

	if bearer := bearerFromContext(ctx); bearer != "" {
		subject, err := r.bearers.Subject(ctx, bearer)
		if err != nil {
			return Identity{}, err
		}
		id.OwnerKey = domain.UserOwnerKey(subject)
		id.Token = bearer
		return id, nil
	}

	token, err := r.guests.GetOrCreateSession(ctx, id.ClientID)
	if err != nil {
		return Identity{}, fmt.Errorf("guest session: %w", err)
	}
	sessionID, err := session.ExtractSessionID(token)
	if err != nil {
		return Identity{}, err
	}
	id.OwnerKey = domain.GuestOwnerKey(sessionID)
	id.Token = token
	id.Guest = true
	return id, nil
}
