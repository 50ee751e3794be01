package auth

import (
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Middleware authenticates bearer tokens and enforces the route policy.
type Middleware struct {
	secret []byte
	policy Policy
	logger *zap.Logger
}

// MiddlewareOption configures the middleware.
type MiddlewareOption func(*Middleware)

// WithDenyLogger logs rejected requests at debug level.
func WithDenyLogger(logger *zap.Logger) MiddlewareOption {
	return func(m *Middleware) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewMiddleware constructs an auth middleware.
func NewMiddleware(secret []byte, policy Policy, opts ...MiddlewareOption) *Middleware {
	m := &Middleware{secret: secret, policy: policy, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Authenticate returns the identity behind r's bearer token.
func (m *Middleware) Authenticate(r *http.Request) (Identity, error) {
	token, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		return Identity{}, ErrUnauthorized
	}
	return ParseJWT(token, m.secret)
}

// Wrap applies authentication and role checks to next.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.policy.IsExempt(r) {
			next.ServeHTTP(w, r)
			return
		}
		required, ok := m.policy.RequiredRole(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		id, err := m.Authenticate(r)
		if err != nil {
			m.deny(w, r, http.StatusUnauthorized, err)
			return
		}
		if !id.Role.Satisfies(required) {
			m.deny(w, r, http.StatusForbidden, fmt.Errorf("role %q below %q", id.Role, required))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id.TenantID, id.Role, id.Subject)))
	})
}

func (m *Middleware) deny(w http.ResponseWriter, r *http.Request, status int, reason error) {
	m.logger.Debug("request denied",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.Error(reason),
	)
	http.Error(w, strings.ToLower(http.StatusText(status)), status)
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
