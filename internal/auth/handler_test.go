package auth_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/gatekeeper/internal/auth"
	"github.com/odyssey-erp/gatekeeper/internal/rbac"
	"github.com/odyssey-erp/gatekeeper/internal/security"
)

type handlerFixture struct {
	*signFixture
	cookies security.CookieBinder
	router  http.Handler
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	f := newSignFixture(t)
	cookies := security.NewCookieBinder("jwt", "", time.Hour)
	filter := security.NewFilter(security.FilterConfig{
		Codec:    f.codec,
		Cookies:  cookies,
		Resolver: rbac.NewDirectory(f.store),
		Logger:   f.logger,
	})
	router := chi.NewRouter()
	router.Use(filter.Middleware)
	router.Route("/auth", auth.NewHandler(f.logger, f.service, cookies).MountRoutes)
	return &handlerFixture{signFixture: f, cookies: cookies, router: router}
}

func (h *handlerFixture) post(target, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func tokenCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == "jwt" {
			return c
		}
	}
	t.Fatalf("no jwt cookie in response")
	return nil
}

func TestSignUpEndpoint(t *testing.T) {
	h := newHandlerFixture(t)

	rec := h.post("/auth/sign-up", `{"username":"alice","password":"p1"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"username":"alice"`)
	assert.NotContains(t, rec.Body.String(), "p1")
	assert.Empty(t, rec.Result().Cookies())

	rec = h.post("/auth/sign-up", `{"username":"alice","password":"p1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSignUpEndpointMultibytePassword(t *testing.T) {
	h := newHandlerFixture(t)

	rec := h.post("/auth/sign-up", `{"username":"erin","password":"`+strings.Repeat("é", 40)+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestSignInEndpointSetsCookie(t *testing.T) {
	h := newHandlerFixture(t)
	require.Equal(t, http.StatusCreated, h.post("/auth/sign-up", `{"username":"alice","password":"p1"}`).Code)

	rec := h.post("/auth/sign-in", `{"username":"alice","password":"p1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	cookie := tokenCookie(t, rec)
	assert.True(t, h.codec.Verify(cookie.Value))
	assert.True(t, cookie.HttpOnly)
	assert.False(t, cookie.Secure)
	assert.Equal(t, "/", cookie.Path)
	assert.Equal(t, 3600, cookie.MaxAge)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: "jwt", Value: cookie.Value})
	me := httptest.NewRecorder()
	h.router.ServeHTTP(me, req)
	require.Equal(t, http.StatusOK, me.Code)

	var body struct {
		Username    string   `json:"username"`
		Roles       []string `json:"roles"`
		Authorities []string `json:"authorities"`
	}
	require.NoError(t, json.Unmarshal(me.Body.Bytes(), &body))
	assert.Equal(t, "alice", body.Username)
	assert.Equal(t, []string{"GENERAL"}, body.Roles)
	assert.Empty(t, body.Authorities)
}

func TestSignInEndpointSecureBehindProxy(t *testing.T) {
	h := newHandlerFixture(t)
	require.Equal(t, http.StatusCreated, h.post("/auth/sign-up", `{"username":"alice","password":"p1"}`).Code)

	req := httptest.NewRequest(http.MethodPost, "/auth/sign-in", strings.NewReader(`{"username":"alice","password":"p1"}`))
	req.Header.Set("X-Forwarded-Proto", "https")
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, tokenCookie(t, rec).Secure)
}

func TestSignInEndpointRejections(t *testing.T) {
	h := newHandlerFixture(t)
	require.Equal(t, http.StatusCreated, h.post("/auth/sign-up", `{"username":"alice","password":"p1"}`).Code)

	wrongPassword := h.post("/auth/sign-in", `{"username":"alice","password":"nope"}`)
	unknownUser := h.post("/auth/sign-in", `{"username":"nobody","password":"p1"}`)
	assert.Equal(t, http.StatusUnauthorized, wrongPassword.Code)
	assert.Equal(t, http.StatusUnauthorized, unknownUser.Code)
	assert.JSONEq(t, wrongPassword.Body.String(), unknownUser.Body.String())
	assert.Empty(t, wrongPassword.Result().Cookies())

	cases := map[string]string{
		"malformed":         `{"username":`,
		"missing password":  `{"username":"alice"}`,
		"unknown field":     `{"username":"alice","password":"p1","admin":true}`,
		"password too long": `{"username":"alice","password":"` + strings.Repeat("x", 73) + `"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := h.post("/auth/sign-in", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
		})
	}
}

func TestSignOutWithoutCookie(t *testing.T) {
	h := newHandlerFixture(t)

	rec := h.post("/auth/sign-out", "")
	require.Equal(t, http.StatusOK, rec.Code)
	cookie := tokenCookie(t, rec)
	assert.Empty(t, cookie.Value)
	assert.Contains(t, rec.Header().Get("Set-Cookie"), "Max-Age=0")
}

func TestSignOutClearsCookie(t *testing.T) {
	h := newHandlerFixture(t)
	require.Equal(t, http.StatusCreated, h.post("/auth/sign-up", `{"username":"alice","password":"p1"}`).Code)
	issued := tokenCookie(t, h.post("/auth/sign-in", `{"username":"alice","password":"p1"}`))

	rec := h.post("/auth/sign-out", "", &http.Cookie{Name: "jwt", Value: issued.Value})
	require.Equal(t, http.StatusOK, rec.Code)
	cleared := tokenCookie(t, rec)
	assert.Empty(t, cleared.Value)
	assert.Equal(t, -1, cleared.MaxAge)
}

func TestMeWithoutPrincipal(t *testing.T) {
	h := newHandlerFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: "jwt", Value: "garbage"})
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
