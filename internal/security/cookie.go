package security

import (
	"net/http"
	"strings"
	"time"
)

// CookieBinder carries a token in an HttpOnly cookie.
type CookieBinder struct {
	name     string
	basePath string
	validity time.Duration
}

// NewCookieBinder builds a CookieBinder. basePath is the request context
// path; an empty value scopes the cookie to "/".
func NewCookieBinder(name, basePath string, validity time.Duration) CookieBinder {
	return CookieBinder{name: name, basePath: strings.TrimSpace(basePath), validity: validity}
}

// Name returns the cookie name.
func (b CookieBinder) Name() string {
	return b.name
}

// Extract returns the token carried by the request, if any.
func (b CookieBinder) Extract(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(b.name)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}

// Bind writes the token cookie to the response.
func (b CookieBinder) Bind(w http.ResponseWriter, r *http.Request, token string) {
	http.SetCookie(w, b.build(r, token, int(b.validity.Seconds())))
}

// Clear writes a removal cookie. It is safe to call when the request carries
// no cookie.
func (b CookieBinder) Clear(w http.ResponseWriter, r *http.Request) {
	// net/http encodes a negative MaxAge as "Max-Age=0".
	http.SetCookie(w, b.build(r, "", -1))
}

func (b CookieBinder) build(r *http.Request, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     b.name,
		Value:    value,
		Path:     b.path(),
		MaxAge:   maxAge,
		Secure:   IsSecureRequest(r),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

func (b CookieBinder) path() string {
	if b.basePath == "" {
		return "/"
	}
	return b.basePath
}

// IsSecureRequest reports whether the request arrived over TLS, either
// directly or through a proxy announcing X-Forwarded-Proto: https.
func IsSecureRequest(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
