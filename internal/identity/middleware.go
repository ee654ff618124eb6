package identity

import (
	"context"
	"net/http"
	"strings"

	"github.com/OGUN01/fitai-sub001/internal/domain"
)

type contextKey string

const ownerKey contextKey = "fitsync-owner"

// WithOwner stores owner on the context.
func WithOwner(ctx context.Context, owner domain.Owner) context.Context {
	return context.WithValue(ctx, ownerKey, owner)
}

// FromContext retrieves an owner stored by WithOwner.
func FromContext(ctx context.Context) (domain.Owner, bool) {
	owner, ok := ctx.Value(ownerKey).(domain.Owner)
	return owner, ok
}

// Middleware binds the owner of a bearer token to the request context.
// Requests without an Authorization header pass through unchanged so the
// provider falls back to the stored device token.
type Middleware struct {
	Config Config
}

// NewMiddleware constructs Middleware with validation config.
func NewMiddleware(cfg Config) Middleware {
	return Middleware{Config: cfg}
}

// Wrap attaches authentication handling to an http.Handler.
func (m Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}
		if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
			http.Error(w, ErrInvalidToken.Error(), http.StatusUnauthorized)
			return
		}
		claims, err := Parse(header[len("Bearer "):], m.Config)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), claims.Owner())))
	})
}
