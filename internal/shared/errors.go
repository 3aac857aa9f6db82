package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates sign-in failure. Unknown usernames and
	// wrong passwords both map to this error.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrDuplicateUsername indicates sign-up with a username that is taken.
	ErrDuplicateUsername = errors.New("username already exists")
	// ErrUnresolvedBinding indicates a bind referencing ids that do not exist.
	ErrUnresolvedBinding = errors.New("bind references unknown entities")
	// ErrValidation indicates a malformed request.
	ErrValidation = errors.New("validation failed")
	// ErrUnauthenticated indicates that no principal is present.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden indicates that the principal lacks the required authority.
	ErrForbidden = errors.New("forbidden")
	// ErrRateLimited indicates too many failed attempts.
	ErrRateLimited = errors.New("too many attempts")
)
