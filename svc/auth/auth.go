// Package auth verifies access tokens issued by the identity provider and
// carries the authenticated user through the request context.
//
// Sessions, sign-up and password handling live with the identity provider;
// this package only checks HS256-signed tokens whose subject is the local
// user id.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrMissingSecret = errors.New("auth: missing token signing secret")
	ErrInvalidToken  = errors.New("auth: invalid token")
	ErrExpiredToken  = errors.New("auth: token is expired")
	ErrNoToken       = errors.New("auth: no token in request")
)

type Config struct {
	JWTSecret  string `env:"AUTH_JWT_SECRET"`
	Audience   string `env:"AUTH_JWT_AUDIENCE" envDefault:"authenticated"`
	CookieName string `env:"AUTH_COOKIE_NAME" envDefault:"access_token"`
}

// Claims are the access token claims read from the identity provider.
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// User is the authenticated caller.
type User struct {
	ID    uuid.UUID
	Email string
	Role  string
}

type Verifier struct {
	secret   []byte
	audience string
	now      func() time.Time
}

func NewVerifier(cfg Config) (*Verifier, error) {
	if cfg.JWTSecret == "" {
		return nil, ErrMissingSecret
	}
	return &Verifier{secret: []byte(cfg.JWTSecret), audience: cfg.Audience, now: time.Now}, nil
}

// Verify checks the signature, expiry and audience of token and returns the
// user it was issued for.
func (v *Verifier) Verify(token string) (User, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return User{}, ErrExpiredToken
		}
		return User{}, errors.Join(ErrInvalidToken, err)
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return User{}, fmt.Errorf("%w: subject is not a user id", ErrInvalidToken)
	}
	return User{ID: id, Email: claims.Email, Role: claims.Role}, nil
}

// Issue signs a token for user valid for ttl. It is used by the CLI and by
// tests; production tokens come from the identity provider.
func (v *Verifier) Issue(user User, ttl time.Duration) (string, error) {
	now := v.now()
	claims := &Claims{
		Email: user.Email,
		Role:  user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	if v.audience != "" {
		claims.Audience = jwt.ClaimStrings{v.audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
