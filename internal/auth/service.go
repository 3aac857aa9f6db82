package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/odyssey-erp/gatekeeper/internal/observability"
	"github.com/odyssey-erp/gatekeeper/internal/platform/ratelimit"
	"github.com/odyssey-erp/gatekeeper/internal/rbac"
	"github.com/odyssey-erp/gatekeeper/internal/security"
	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

// Sign-in outcomes reported to metrics.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeThrottled = "throttled"
)

// dummyPassword is hashed once and compared against when the username is
// unknown so both failure paths pay for one hash comparison.
const dummyPassword = "gatekeeper-timing-equaliser"

// Accounts is the part of the RBAC store the sign flow depends on.
type Accounts interface {
	FindUserByUsername(ctx context.Context, username string) (rbac.User, error)
	UsernameTaken(ctx context.Context, username string) (bool, error)
	RegisterUser(ctx context.Context, username, passwordHash string, roleCodes []string) (rbac.User, error)
}

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Accounts     Accounts
	Hasher       security.PasswordHasher
	Codec        *security.TokenCodec
	Limiter      *ratelimit.Limiter
	Metrics      *observability.Metrics
	Logger       *slog.Logger
	DefaultRoles []string
	// Now overrides the issuing clock. Defaults to time.Now.
	Now func() time.Time
}

// Service wraps the sign-in and sign-up rules.
type Service struct {
	accounts     Accounts
	hasher       security.PasswordHasher
	codec        *security.TokenCodec
	limiter      *ratelimit.Limiter
	metrics      *observability.Metrics
	logger       *slog.Logger
	defaultRoles []string
	now          func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// NewService constructs a new Service.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hasher := cfg.Hasher
	if hasher == nil {
		hasher = security.BcryptHasher{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		accounts:     cfg.Accounts,
		hasher:       hasher,
		codec:        cfg.Codec,
		limiter:      cfg.Limiter,
		metrics:      cfg.Metrics,
		logger:       logger,
		defaultRoles: append([]string(nil), cfg.DefaultRoles...),
		now:          now,
	}
}

// SignInResult is the outcome of a successful sign-in.
type SignInResult struct {
	UserID int64
	Token  string
}

// NormalizeUsername applies NFKC normalisation and trims surrounding space.
func NormalizeUsername(username string) string {
	return strings.TrimSpace(norm.NFKC.String(username))
}

// SignIn verifies the credentials and issues a token for the user. Unknown
// usernames, wrong passwords and disabled accounts all yield
// shared.ErrInvalidCredentials.
func (s *Service) SignIn(ctx context.Context, username, password string) (SignInResult, error) {
	username = NormalizeUsername(username)
	if username == "" || password == "" {
		return SignInResult{}, fmt.Errorf("%w: username and password required", shared.ErrValidation)
	}

	if err := s.limiter.Check(ctx, username); err != nil {
		if errors.Is(err, shared.ErrRateLimited) {
			s.metrics.RecordSignIn(OutcomeThrottled)
			s.logger.Warn("sign-in throttled", slog.String("username", username))
			return SignInResult{}, err
		}
		s.logger.Warn("sign-in throttle unavailable", slog.Any("error", err))
	}

	user, err := s.accounts.FindUserByUsername(ctx, username)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			return SignInResult{}, err
		}
		s.hasher.Verify(s.dummy(), password)
		return SignInResult{}, s.reject(ctx, username, "unknown username")
	}
	if !s.hasher.Verify(user.PasswordHash, password) {
		return SignInResult{}, s.reject(ctx, username, "password mismatch")
	}
	if !user.Enabled {
		return SignInResult{}, s.reject(ctx, username, "account disabled")
	}

	token, err := s.codec.Issue(strconv.FormatInt(user.ID, 10), s.now())
	if err != nil {
		return SignInResult{}, fmt.Errorf("auth: issue token: %w", err)
	}
	if err := s.limiter.Reset(ctx, username); err != nil {
		s.logger.Warn("sign-in throttle reset", slog.Any("error", err))
	}
	s.metrics.RecordSignIn(OutcomeSuccess)
	s.logger.Info("signed in", slog.Int64("user_id", user.ID), slog.String("username", username))
	return SignInResult{UserID: user.ID, Token: token}, nil
}

// SignUp registers a user with the default roles. A taken username yields
// shared.ErrDuplicateUsername.
func (s *Service) SignUp(ctx context.Context, username, password string) (rbac.User, error) {
	username = NormalizeUsername(username)
	if username == "" || password == "" {
		return rbac.User{}, fmt.Errorf("%w: username and password required", shared.ErrValidation)
	}
	if len(password) > security.MaxPasswordBytes {
		return rbac.User{}, fmt.Errorf("%w: password longer than %d bytes", shared.ErrValidation, security.MaxPasswordBytes)
	}
	taken, err := s.accounts.UsernameTaken(ctx, username)
	if err != nil {
		return rbac.User{}, err
	}
	if taken {
		return rbac.User{}, shared.ErrDuplicateUsername
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return rbac.User{}, fmt.Errorf("auth: hash password: %w", err)
	}
	user, err := s.accounts.RegisterUser(ctx, username, hash, s.defaultRoles)
	if err != nil {
		return rbac.User{}, err
	}
	s.logger.Info("user registered", slog.Int64("user_id", user.ID), slog.String("username", username))
	return user, nil
}

func (s *Service) reject(ctx context.Context, username, cause string) error {
	if _, err := s.limiter.Fail(ctx, username); err != nil {
		s.logger.Warn("sign-in throttle unavailable", slog.Any("error", err))
	}
	s.metrics.RecordSignIn(OutcomeFailure)
	s.logger.Info("sign-in rejected", slog.String("username", username), slog.String("cause", cause))
	return shared.ErrInvalidCredentials
}

func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash(dummyPassword)
		if err != nil {
			s.logger.Error("hash dummy password", slog.Any("error", err))
			return
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}
