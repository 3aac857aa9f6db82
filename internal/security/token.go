package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenConfig configures a TokenCodec.
type TokenConfig struct {
	Secret          []byte
	ValidityMinutes int
	// Now overrides the verification clock. Defaults to time.Now.
	Now func() time.Time
}

// TokenCodec issues and verifies HS256 bearer tokens whose subject is the
// user identity key.
type TokenCodec struct {
	secret   []byte
	validity time.Duration
	now      func() time.Time
}

// NewTokenCodec validates the configuration and builds a TokenCodec.
func NewTokenCodec(cfg TokenConfig) (*TokenCodec, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("security: token secret required")
	}
	if cfg.ValidityMinutes <= 0 {
		return nil, errors.New("security: token validity must be positive")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)
	return &TokenCodec{
		secret:   secret,
		validity: time.Duration(cfg.ValidityMinutes) * time.Minute,
		now:      now,
	}, nil
}

// Validity returns the configured token lifetime.
func (c *TokenCodec) Validity() time.Duration {
	return c.validity
}

// Issue signs a token for subject, valid from issuedAt for the configured window.
func (c *TokenCodec) Issue(subject string, issuedAt time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(c.validity)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", err
	}
	return signed, nil
}

// Verify reports whether token carries a valid signature and has not expired.
// Malformed input is reported as false.
func (c *TokenCodec) Verify(token string) bool {
	if token == "" {
		return false
	}
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, c.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	return err == nil && parsed.Valid
}

// SubjectOf extracts the subject claim without checking the signature.
// Callers must gate on Verify first; garbage input yields "".
func (c *TokenCodec) SubjectOf(token string) string {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return ""
	}
	return claims.Subject
}

func (c *TokenCodec) keyFunc(*jwt.Token) (any, error) {
	return c.secret, nil
}
