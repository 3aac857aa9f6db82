package security

import "context"

// Authentication is the request-scoped security state. It is either
// Unauthenticated or Authenticated.
type Authentication interface {
	isAuthentication()
}

// Unauthenticated marks a request without an established principal.
type Unauthenticated struct{}

// Authenticated carries the principal established for the request.
type Authenticated struct {
	Principal Principal
}

func (Unauthenticated) isAuthentication() {}
func (Authenticated) isAuthentication()   {}

type authenticationKey struct{}

// WithAuthentication stores auth on the context.
func WithAuthentication(ctx context.Context, auth Authentication) context.Context {
	if auth == nil {
		auth = Unauthenticated{}
	}
	return context.WithValue(ctx, authenticationKey{}, auth)
}

// AuthenticationFromContext returns the stored state, defaulting to
// Unauthenticated.
func AuthenticationFromContext(ctx context.Context) Authentication {
	if auth, ok := ctx.Value(authenticationKey{}).(Authentication); ok {
		return auth
	}
	return Unauthenticated{}
}

// PrincipalFromContext returns the authenticated principal, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if auth, ok := AuthenticationFromContext(ctx).(Authenticated); ok {
		return auth.Principal, true
	}
	return Principal{}, false
}
