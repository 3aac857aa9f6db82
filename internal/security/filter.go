package security

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/gatekeeper/internal/observability"
)

// Authentication outcomes reported to metrics.
const (
	OutcomeAnonymous     = "anonymous"
	OutcomeInvalidToken  = "invalid_token"
	OutcomeAuthenticated = "authenticated"
	OutcomeUnresolved    = "unresolved"
)

// DefaultResolveTimeout bounds one principal lookup.
const DefaultResolveTimeout = 3 * time.Second

var errPrincipalDisabled = errors.New("security: principal disabled")

// Resolver loads the principal identified by a token subject.
type Resolver interface {
	Resolve(ctx context.Context, userID int64) (*Principal, error)
}

// FilterConfig wires a Filter.
type FilterConfig struct {
	Codec          *TokenCodec
	Cookies        CookieBinder
	Resolver       Resolver
	Logger         *slog.Logger
	Metrics        *observability.Metrics
	ResolveTimeout time.Duration
}

// Filter establishes the request Authentication from the token cookie.
type Filter struct {
	codec          *TokenCodec
	cookies        CookieBinder
	resolver       Resolver
	logger         *slog.Logger
	metrics        *observability.Metrics
	resolveTimeout time.Duration
}

// NewFilter constructs a Filter.
func NewFilter(cfg FilterConfig) *Filter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.ResolveTimeout
	if timeout <= 0 {
		timeout = DefaultResolveTimeout
	}
	return &Filter{
		codec:          cfg.Codec,
		cookies:        cfg.Cookies,
		resolver:       cfg.Resolver,
		logger:         logger,
		metrics:        cfg.Metrics,
		resolveTimeout: timeout,
	}
}

// Middleware attaches the Authentication to the request context and always
// calls next.
func (f *Filter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := f.Authenticate(r)
		next.ServeHTTP(w, r.WithContext(WithAuthentication(r.Context(), auth)))
	})
}

// Authenticate derives the Authentication for r. Lookup faults are logged
// and yield Unauthenticated.
func (f *Filter) Authenticate(r *http.Request) Authentication {
	token, ok := f.cookies.Extract(r)
	if !ok {
		f.metrics.RecordAuthentication(OutcomeAnonymous)
		return Unauthenticated{}
	}
	if !f.codec.Verify(token) {
		f.metrics.RecordAuthentication(OutcomeInvalidToken)
		return Unauthenticated{}
	}
	subject := f.codec.SubjectOf(token)
	principal, err := f.resolve(r.Context(), subject)
	if err != nil {
		f.logger.Warn("resolve principal",
			slog.String("subject", subject),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		f.metrics.RecordAuthentication(OutcomeUnresolved)
		return Unauthenticated{}
	}
	f.metrics.RecordAuthentication(OutcomeAuthenticated)
	return Authenticated{Principal: *principal}
}

func (f *Filter) resolve(ctx context.Context, subject string) (*Principal, error) {
	userID, err := strconv.ParseInt(strings.TrimSpace(subject), 10, 64)
	if err != nil {
		return nil, errors.New("security: subject is not a user id")
	}
	ctx, cancel := context.WithTimeout(ctx, f.resolveTimeout)
	defer cancel()
	principal, err := f.resolver.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	if principal == nil {
		return nil, errors.New("security: resolver returned no principal")
	}
	if !principal.Enabled {
		return nil, errPrincipalDisabled
	}
	return principal, nil
}
