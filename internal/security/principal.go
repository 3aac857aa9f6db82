package security

import "sort"

// AuthoritySet holds permission codes with set semantics. Codes are compared
// verbatim.
type AuthoritySet map[string]struct{}

// NewAuthoritySet builds a set from codes, collapsing duplicates.
func NewAuthoritySet(codes ...string) AuthoritySet {
	set := make(AuthoritySet, len(codes))
	for _, code := range codes {
		if code == "" {
			continue
		}
		set[code] = struct{}{}
	}
	return set
}

// Has reports whether code belongs to the set.
func (s AuthoritySet) Has(code string) bool {
	_, ok := s[code]
	return ok
}

// Codes returns the members in lexical order.
func (s AuthoritySet) Codes() []string {
	codes := make([]string, 0, len(s))
	for code := range s {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Principal is a resolved identity together with its derived authorities.
type Principal struct {
	UserID   int64
	Username string
	// PasswordHash is only consulted on the sign-in path.
	PasswordHash string
	Enabled      bool
	Roles        []string
	Authorities  AuthoritySet
}
