package shared

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize applies when the caller does not supply a size.
	DefaultPageSize = 20
	// MaxPageSize caps the number of rows returned by one page query.
	MaxPageSize = 200
)

// SortField is one caller-supplied ordering term.
type SortField struct {
	Field string
	Desc  bool
}

// PageRequest describes an offset based page with an ordering.
type PageRequest struct {
	Offset int
	Size   int
	Sort   []SortField
}

// Page is a slice of results together with the total matching count.
type Page[T any] struct {
	Total int `json:"total"`
	Data  []T `json:"data"`
}

// EmptyPage returns a page with no rows.
func EmptyPage[T any]() Page[T] {
	return Page[T]{Total: 0, Data: []T{}}
}

// Normalize clamps offset and size into the supported range.
func (p PageRequest) Normalize() PageRequest {
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

// OrderBy renders an ORDER BY clause body using the column whitelist.
// Unknown fields yield ErrValidation. fallback is used when no sort is given.
func (p PageRequest) OrderBy(columns map[string]string, fallback string) (string, error) {
	if len(p.Sort) == 0 {
		return fallback, nil
	}
	terms := make([]string, 0, len(p.Sort))
	for _, s := range p.Sort {
		column, ok := columns[s.Field]
		if !ok {
			return "", fmt.Errorf("%w: unsupported sort field %q", ErrValidation, s.Field)
		}
		dir := "ASC"
		if s.Desc {
			dir = "DESC"
		}
		terms = append(terms, column+" "+dir)
	}
	return strings.Join(terms, ", "), nil
}

// ParsePageRequest reads offset, size and sort from query parameters.
// sort is a comma separated list where a leading '-' means descending.
func ParsePageRequest(values url.Values) (PageRequest, error) {
	var req PageRequest
	if raw := strings.TrimSpace(values.Get("offset")); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return PageRequest{}, fmt.Errorf("%w: invalid offset", ErrValidation)
		}
		req.Offset = offset
	}
	if raw := strings.TrimSpace(values.Get("size")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size <= 0 {
			return PageRequest{}, fmt.Errorf("%w: invalid size", ErrValidation)
		}
		req.Size = size
	}
	for _, term := range strings.Split(values.Get("sort"), ",") {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		field := SortField{Field: term}
		if strings.HasPrefix(term, "-") {
			field = SortField{Field: strings.TrimPrefix(term, "-"), Desc: true}
		}
		if field.Field == "" {
			return PageRequest{}, fmt.Errorf("%w: invalid sort", ErrValidation)
		}
		req.Sort = append(req.Sort, field)
	}
	return req.Normalize(), nil
}
