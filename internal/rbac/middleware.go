package rbac

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/gatekeeper/internal/platform/httpx"
	"github.com/odyssey-erp/gatekeeper/internal/security"
	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

// Decision is the outcome of an authority check.
type Decision int

const (
	// Allow grants access.
	Allow Decision = iota
	// DenyUnauthenticated means no principal is present.
	DenyUnauthenticated
	// DenyForbidden means the principal lacks the authority.
	DenyForbidden
)

// Err maps the decision to the boundary error, nil for Allow.
func (d Decision) Err() error {
	switch d {
	case DenyUnauthenticated:
		return shared.ErrUnauthenticated
	case DenyForbidden:
		return shared.ErrForbidden
	default:
		return nil
	}
}

// RequireAuthority checks the request principal for code, compared verbatim.
func RequireAuthority(ctx context.Context, code string) Decision {
	return decide(ctx, func(granted security.AuthoritySet) bool {
		return granted.Has(code)
	})
}

func decide(ctx context.Context, granted func(security.AuthoritySet) bool) Decision {
	principal, ok := security.PrincipalFromContext(ctx)
	if !ok {
		return DenyUnauthenticated
	}
	if granted(principal.Authorities) {
		return Allow
	}
	return DenyForbidden
}

// Middleware wires authorization checks for HTTP handlers. Requests matching
// Public bypass every check.
type Middleware struct {
	Public   security.EndpointList
	BasePath string
	Logger   *slog.Logger
}

// RequireAuthenticated rejects requests without a principal.
func (m Middleware) RequireAuthenticated() func(http.Handler) http.Handler {
	return m.guard("authenticated", func(ctx context.Context) Decision {
		return decide(ctx, func(security.AuthoritySet) bool { return true })
	})
}

// RequireAuthority ensures the current principal holds code.
func (m Middleware) RequireAuthority(code string) func(http.Handler) http.Handler {
	return m.RequireAll(code)
}

// RequireAny ensures the current principal has at least one of perms.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	required := uniqueStrings(perms)
	return m.guard("require any", func(ctx context.Context) Decision {
		return decide(ctx, func(granted security.AuthoritySet) bool {
			return hasAnyPermission(granted, required)
		})
	})
}

// RequireAll ensures the current principal has every one of perms.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	required := uniqueStrings(perms)
	return m.guard("require all", func(ctx context.Context) Decision {
		return decide(ctx, func(granted security.AuthoritySet) bool {
			return hasAllPermissions(granted, required)
		})
	})
}

func (m Middleware) guard(name string, check func(context.Context) Decision) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.Public.MatchRequest(r, m.BasePath) {
				next.ServeHTTP(w, r)
				return
			}
			decision := check(r.Context())
			if decision == Allow {
				next.ServeHTTP(w, r)
				return
			}
			if m.Logger != nil && decision == DenyForbidden {
				principal, _ := security.PrincipalFromContext(r.Context())
				m.Logger.Info("rbac "+name+" denied",
					slog.String("username", principal.Username),
					slog.String("path", r.URL.Path))
			}
			httpx.RespondError(w, r, m.Logger, decision.Err())
		})
	}
}

func hasAnyPermission(granted security.AuthoritySet, required []string) bool {
	if len(required) == 0 {
		return true
	}
	for _, r := range required {
		if granted.Has(r) {
			return true
		}
	}
	return false
}

func hasAllPermissions(granted security.AuthoritySet, required []string) bool {
	for _, r := range required {
		if !granted.Has(r) {
			return false
		}
	}
	return true
}
