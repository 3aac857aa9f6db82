package app

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// ErrRequestRejected marks requests refused by the firewall.
var ErrRequestRejected = errors.New("request rejected")

var allowedMethods = map[string]struct{}{
	http.MethodDelete:  {},
	http.MethodGet:     {},
	http.MethodHead:    {},
	http.MethodOptions: {},
	http.MethodPatch:   {},
	http.MethodPost:    {},
	http.MethodPut:     {},
}

// encoded sequences rejected in the raw request path, matched case-insensitively.
var rejectedEncodings = []struct {
	token  string
	reason string
}{
	{"%3b", "encoded semicolon"},
	{"%2f", "encoded slash"},
	{"%5c", "encoded backslash"},
	{"%2e", "encoded period"},
	{"%25", "encoded percent"},
	{"%00", "encoded null"},
}

// CheckRequest applies the strict request firewall. The returned error wraps
// ErrRequestRejected and names the first violated rule.
func CheckRequest(r *http.Request) error {
	if _, ok := allowedMethods[r.Method]; !ok {
		return fmt.Errorf("%w: method %q is not allowed", ErrRequestRejected, r.Method)
	}

	raw := rawPath(r)
	lowered := strings.ToLower(raw)
	if strings.Contains(raw, ";") {
		return fmt.Errorf("%w: the URL contains a semicolon", ErrRequestRejected)
	}
	for _, enc := range rejectedEncodings {
		if strings.Contains(lowered, enc.token) {
			return fmt.Errorf("%w: the URL contains an %s", ErrRequestRejected, enc.reason)
		}
	}
	if strings.Contains(raw, `\`) {
		return fmt.Errorf("%w: the URL contains a backslash", ErrRequestRejected)
	}

	for _, p := range []string{raw, r.URL.Path} {
		if reason := notNormalized(p); reason != "" {
			return fmt.Errorf("%w: the URL %s", ErrRequestRejected, reason)
		}
		for _, c := range p {
			if c < 0x20 || c == 0x7f {
				return fmt.Errorf("%w: the URL contains a non-printable character", ErrRequestRejected)
			}
		}
	}
	return nil
}

func notNormalized(p string) string {
	switch {
	case strings.Contains(p, "//"):
		return "contains a double slash"
	case strings.Contains(p, "/./"), strings.HasSuffix(p, "/."):
		return "contains a current directory segment"
	case strings.Contains(p, "/../"), strings.HasSuffix(p, "/.."):
		return "contains a parent directory segment"
	}
	return ""
}

// rawPath returns the path as it appeared on the request line.
func rawPath(r *http.Request) string {
	raw := r.RequestURI
	if raw == "" || raw == "*" {
		return r.URL.EscapedPath()
	}
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if i := strings.Index(raw, "://"); i >= 0 {
		rest := raw[i+3:]
		if j := strings.IndexByte(rest, '/'); j >= 0 {
			return rest[j:]
		}
		return "/"
	}
	return raw
}

// Firewall rejects malformed requests with 400 text/plain before routing.
func Firewall(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := CheckRequest(r); err != nil {
				logger.Warn("firewall rejected request",
					slog.String("method", r.Method),
					slog.String("uri", r.RequestURI),
					slog.Any("error", err))
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
