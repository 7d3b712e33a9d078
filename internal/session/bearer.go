package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"go.uber.org/zap"
)

// CartReader is the remote call used to prove the server accepts a bearer token.
type CartReader interface {
	GetCart(ctx context.Context, token string) (*domain.RemoteCart, error)
}

// Verifier maps bearer tokens to user ids the server has vouched for. The subject
// claim alone is never trusted: a token is verified either because the server just
// issued it at login or because the server answered a call made with it.
type Verifier struct {
	store  *RedisStore
	remote CartReader
	ttl    time.Duration
	log    *zap.Logger
	now    func() time.Time
}

func NewVerifier(store *RedisStore, remote CartReader, ttl time.Duration, log *zap.Logger) *Verifier {
	return &Verifier{
		store:  store,
		remote: remote,
		ttl:    ttl,
		log:    log,
		now:    time.Now,
	}
}

// Remember records a token the server has just issued and returns its subject.
func (v *Verifier) Remember(ctx context.Context, token string) (string, error) {
	subject, err := ExtractSubject(token)
	if err != nil {
		return "", err
	}
	v.save(ctx, token, subject)
	return subject, nil
}

// Subject returns the user id of a verified bearer. An unknown token costs one
// remote call; if the server cannot be asked the token is refused, not trusted.
func (v *Verifier) Subject(ctx context.Context, token string) (string, error) {
	subject, err := v.store.VerifiedSubject(ctx, token)
	if err == nil {
		return subject, nil
	}
	if !errors.Is(err, ErrNotVerified) {
		v.log.Warn("verified bearer lookup failed", zap.Error(err))
	}

	subject, err = ExtractSubject(token)
	if err != nil {
		return "", err
	}
	if _, err := v.remote.GetCart(ctx, token); err != nil {
		return "", fmt.Errorf("verify bearer: %w", err)
	}
	v.save(ctx, token, subject)
	return subject, nil
}

func (v *Verifier) Forget(ctx context.Context, token string) error {
	return v.store.ForgetVerified(ctx, token)
}

func (v *Verifier) save(ctx context.Context, token, subject string) {
	ttl := v.ttl
	if exp, ok := expiry(token); ok {
		if left := exp.Sub(v.now()); left < ttl {
			ttl = left
		}
	}
	if ttl <= 0 {
		return
	}
	if err := v.store.SaveVerifiedSubject(ctx, token, subject, ttl); err != nil {
		v.log.Warn("failed to record verified bearer", zap.String("subject", subject), zap.Error(err))
	}
}
