package security

import (
	"net/http"
	"strings"
)

// Endpoint is a (method, path pattern) pair. An empty or "*" method matches
// every method. A trailing "/**" segment matches any remaining path,
// including none; "*" matches exactly one segment.
type Endpoint struct {
	Method  string
	Pattern string
}

// EndpointList is an ordered allow-list evaluated first match wins.
type EndpointList []Endpoint

// PublicEndpoints returns the endpoints that bypass authorization.
func PublicEndpoints() EndpointList {
	return EndpointList{
		{Method: http.MethodPost, Pattern: "/auth/sign-in"},
		{Method: http.MethodPost, Pattern: "/auth/sign-up"},
		{Method: http.MethodPost, Pattern: "/auth/sign-out"},
		{Method: http.MethodGet, Pattern: "/v3/api-docs/**"},
		{Method: http.MethodGet, Pattern: "/swagger-ui/**"},
		{Method: http.MethodGet, Pattern: "/swagger-ui.html"},
		{Method: "*", Pattern: "/error"},
		{Method: http.MethodGet, Pattern: "/healthz"},
		{Method: http.MethodGet, Pattern: "/metrics"},
	}
}

// Matches reports whether any endpoint in the list accepts method and path.
func (l EndpointList) Matches(method, path string) bool {
	for _, e := range l {
		if e.Matches(method, path) {
			return true
		}
	}
	return false
}

// MatchRequest matches r after removing basePath from its URL path. A path
// outside basePath never matches.
func (l EndpointList) MatchRequest(r *http.Request, basePath string) bool {
	path, ok := stripBasePath(r.URL.Path, basePath)
	if !ok {
		return false
	}
	return l.Matches(r.Method, path)
}

// stripBasePath removes basePath from path on a segment boundary.
func stripBasePath(path, basePath string) (string, bool) {
	prefix := strings.TrimSuffix(basePath, "/")
	if prefix == "" {
		return path, true
	}
	rest, found := strings.CutPrefix(path, prefix)
	switch {
	case !found:
		return "", false
	case rest == "":
		return "/", true
	case rest[0] != '/':
		return "", false
	}
	return rest, true
}

// Matches reports whether e accepts method and path.
func (e Endpoint) Matches(method, path string) bool {
	if e.Method != "" && e.Method != "*" && !strings.EqualFold(e.Method, method) {
		return false
	}
	return matchSegments(splitPath(e.Pattern), splitPath(path))
}

func matchSegments(pattern, path []string) bool {
	for i, seg := range pattern {
		if seg == "**" {
			return true
		}
		if i >= len(path) {
			return false
		}
		if seg != "*" && seg != path[i] {
			return false
		}
	}
	return len(pattern) == len(path)
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
