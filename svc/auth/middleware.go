package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

// TokenExtractor pulls a raw token from a request.
type TokenExtractor func(r *http.Request) (string, error)

// BearerToken reads "Authorization: Bearer <token>".
func BearerToken(r *http.Request) (string, error) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

// CookieToken reads the token from the named cookie.
func CookieToken(name string) TokenExtractor {
	return func(r *http.Request) (string, error) {
		c, err := r.Cookie(name)
		if err != nil || c.Value == "" {
			return "", ErrNoToken
		}
		return c.Value, nil
	}
}

// Middleware attaches the user of the first valid token found by the
// extractors. Requests without a valid token pass through anonymous;
// handlers decide whether a user is required.
func Middleware(v *Verifier, log *slog.Logger, extractors ...TokenExtractor) func(http.Handler) http.Handler {
	if len(extractors) == 0 {
		extractors = []TokenExtractor{BearerToken}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, extract := range extractors {
				token, err := extract(r)
				if err != nil {
					continue
				}
				user, err := v.Verify(token)
				if err != nil {
					if log != nil && !errors.Is(err, ErrExpiredToken) {
						log.DebugContext(r.Context(), "rejected access token", slog.String("error", err.Error()))
					}
					continue
				}
				r = r.WithContext(WithUser(r.Context(), user))
				break
			}
			next.ServeHTTP(w, r)
		})
	}
}
