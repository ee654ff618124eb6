// Package identity resolves the owner the device is currently signed in as.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/OGUN01/fitai-sub001/internal/domain"
	"github.com/OGUN01/fitai-sub001/internal/localstore"
)

// TokenKey is the local store key holding the device session token.
const TokenKey = "auth:session_token"

// ErrInvalidToken wraps parsing and validation errors.
var ErrInvalidToken = errors.New("invalid session token")

// Provider reports the current owner.
type Provider interface {
	Current(ctx context.Context) (domain.Owner, error)
}

// Static always reports the same owner.
type Static struct {
	Owner domain.Owner
}

// Current implements Provider.
func (s Static) Current(context.Context) (domain.Owner, error) {
	return s.Owner, nil
}

// Config holds session token verification parameters.
type Config struct {
	Secret string
	Issuer string
}

// Claims is the normalized content of a verified session token.
type Claims struct {
	Subject   string
	ExpiresAt time.Time
}

// Owner returns the bound owner named by the token subject.
func (c *Claims) Owner() domain.Owner {
	if c == nil {
		return domain.Anonymous()
	}
	return domain.Bound(c.Subject)
}

// Parse validates an HS256 session token and returns its claims. The subject
// must be a canonical account identifier.
func Parse(token string, cfg Config) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidToken)
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}), jwt.WithExpirationRequired()}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(cfg.Secret), nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if !domain.IsCanonicalOwnerID(claims.Subject) {
		return nil, fmt.Errorf("%w: subject %q is not an account id", ErrInvalidToken, claims.Subject)
	}

	return &Claims{Subject: claims.Subject, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// Sign issues a session token for subject valid for ttl. The device receives
// tokens from the account service; Sign exists for local tooling and tests.
func Sign(subject string, ttl time.Duration, cfg Config) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
}

// TokenProvider binds the owner from the session token kept in the local
// store. No stored token means the device is anonymous.
type TokenProvider struct {
	store localstore.Store
	cfg   Config
}

// NewTokenProvider constructs a TokenProvider.
func NewTokenProvider(store localstore.Store, cfg Config) *TokenProvider {
	return &TokenProvider{store: store, cfg: cfg}
}

// Current implements Provider.
func (p *TokenProvider) Current(ctx context.Context) (domain.Owner, error) {
	if owner, ok := FromContext(ctx); ok {
		return owner, nil
	}
	raw, err := p.store.Get(ctx, TokenKey)
	if err != nil {
		return domain.Anonymous(), fmt.Errorf("read session token: %w", err)
	}
	if len(raw) == 0 {
		return domain.Anonymous(), nil
	}
	claims, err := Parse(string(raw), p.cfg)
	if err != nil {
		return domain.Anonymous(), err
	}
	return claims.Owner(), nil
}

// StoreToken persists token after verifying it.
func (p *TokenProvider) StoreToken(ctx context.Context, token string) (domain.Owner, error) {
	claims, err := Parse(token, p.cfg)
	if err != nil {
		return domain.Anonymous(), err
	}
	if err := p.store.Set(ctx, TokenKey, []byte(strings.TrimSpace(token))); err != nil {
		return domain.Anonymous(), fmt.Errorf("store session token: %w", err)
	}
	return claims.Owner(), nil
}

// SignOut removes the stored token.
func (p *TokenProvider) SignOut(ctx context.Context) error {
	return p.store.Remove(ctx, TokenKey)
}
