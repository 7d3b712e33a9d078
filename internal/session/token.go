package session

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

// ExtractSessionID reads the sessionId claim of a guest token without verifying
// the signature. The result is only forwarded to the server, which re-validates it.
func ExtractSessionID(token string) (string, error) {
	claims, err := decodeClaims(token)
	if err != nil {
		return "", err
	}
	id := claimString(claims["sessionId"])
	if id == "" {
		return "", &domain.MalformedTokenError{Reason: "payload has no sessionId"}
	}
	return id, nil
}

// ExtractSubject reads the user id claim of a bearer token. Like ExtractSessionID it
// is advisory and only used to key local state.
func ExtractSubject(token string) (string, error) {
	claims, err := decodeClaims(token)
	if err != nil {
		return "", err
	}
	for _, name := range []string{"sub", "userId", "id"} {
		if v := claimString(claims[name]); v != "" {
			return v, nil
		}
	}
	return "", &domain.MalformedTokenError{Reason: "payload has no subject"}
}

// expiry reads the exp claim, in seconds since the epoch.
func expiry(token string) (time.Time, bool) {
	claims, err := decodeClaims(token)
	if err != nil {
		return time.Time{}, false
	}
	n, ok := claims["exp"].(json.Number)
	if !ok {
		return time.Time{}, false
	}
	secs, err := n.Int64()
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(secs, 0), true
}

func decodeClaims(token string) (map[string]any, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, &domain.MalformedTokenError{Reason: "expected three segments"}
	}
	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return nil, &domain.MalformedTokenError{Reason: "payload is not base64url"}
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var claims map[string]any
	if err := dec.Decode(&claims); err != nil {
		return nil, &domain.MalformedTokenError{Reason: "payload is not a JSON object"}
	}
	return claims, nil
}

func claimString(v any) string {
	switch c := v.(type) {
	case string:
		return c
	case json.Number:
		return c.String()
	default:
		return ""
	}
}
