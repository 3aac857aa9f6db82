package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/gatekeeper/internal/auth"
	"github.com/odyssey-erp/gatekeeper/internal/observability"
	"github.com/odyssey-erp/gatekeeper/internal/rbac"
	"github.com/odyssey-erp/gatekeeper/internal/rbac/rbactest"
	"github.com/odyssey-erp/gatekeeper/internal/security"
	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

type routerFixture struct {
	handler http.Handler
	store   *rbactest.MemoryStore
	service *rbac.Service
}

func newRouterFixture(t *testing.T, basePath string, health func(context.Context) error) routerFixture {
	t.Helper()
	cfg := &Config{
		AppEnv:             "test",
		AppRequestTimeout:  5 * time.Second,
		AppBasePath:        basePath,
		JWTSecret:          "router-secret",
		JWTValidityMinutes: 30,
		JWTCookieName:      "jwt",
		RateLimitPerMinute: 1000,
	}
	require.NoError(t, cfg.Validate())

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := rbactest.NewMemoryStore()
	service := rbac.NewService(store)
	_, err := service.Seed(context.Background(), rbac.DefaultCatalog())
	require.NoError(t, err)

	codec, err := security.NewTokenCodec(security.TokenConfig{Secret: []byte(cfg.JWTSecret), ValidityMinutes: cfg.JWTValidityMinutes})
	require.NoError(t, err)
	cookies := security.NewCookieBinder(cfg.JWTCookieName, cfg.AppBasePath, codec.Validity())
	metrics := observability.NewMetrics()
	guard := rbac.Middleware{Public: security.PublicEndpoints(), BasePath: cfg.AppBasePath, Logger: logger}

	signFlow := auth.NewService(auth.ServiceConfig{
		Accounts:     service,
		Hasher:       security.BcryptHasher{Cost: bcrypt.MinCost},
		Codec:        codec,
		Metrics:      metrics,
		Logger:       logger,
		DefaultRoles: []string{shared.RoleGeneral},
	})

	handler := NewRouter(RouterParams{
		Logger: logger,
		Config: cfg,
		Filter: security.NewFilter(security.FilterConfig{
			Codec:    codec,
			Cookies:  cookies,
			Resolver: rbac.NewDirectory(store),
			Logger:   logger,
			Metrics:  metrics,
		}),
		AuthHandler:    auth.NewHandler(logger, signFlow, cookies),
		RBACHandler:    rbac.NewHandler(logger, service, guard),
		RBACMiddleware: guard,
		Metrics:        metrics,
		HealthCheck:    health,
	})
	return routerFixture{handler: handler, store: store, service: service}
}

func (f routerFixture) do(method, target, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f routerFixture) signIn(t *testing.T, prefix, username string) *http.Cookie {
	t.Helper()
	creds := `{"username":"` + username + `","password":"secret-pw"}`
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, prefix+"/auth/sign-up", creds, nil).Code)
	rec := f.do(http.MethodPost, prefix+"/auth/sign-in", creds, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	for _, c := range rec.Result().Cookies() {
		if c.Name == "jwt" {
			return &http.Cookie{Name: c.Name, Value: c.Value}
		}
	}
	t.Fatalf("no jwt cookie")
	return nil
}

func TestRouterPublicEndpoints(t *testing.T) {
	f := newRouterFixture(t, "", nil)

	rec := f.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	rec = f.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gatekeeper_authentications_total")

	rec = f.do(http.MethodGet, "/v3/api-docs", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var doc struct {
		Routes []struct {
			Method string `json:"method"`
			Path   string `json:"path"`
			Public bool   `json:"public"`
		} `json:"routes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	access := map[string]bool{}
	for _, route := range doc.Routes {
		access[route.Method+" "+route.Path] = route.Public
	}
	assert.Equal(t, true, access["POST /auth/sign-in"])
	assert.Equal(t, true, access["POST /auth/sign-up"])
	assert.Equal(t, true, access["POST /auth/sign-out"])
	assert.Equal(t, false, access["GET /urp/user"])
	assert.Contains(t, access, "POST /urp/role/{roleId}/bind-permission")
}

func TestRouterRejectsAnonymous(t *testing.T) {
	f := newRouterFixture(t, "", nil)

	for _, target := range []string{"/urp/user", "/auth/me", "/nowhere"} {
		rec := f.do(http.MethodGet, target, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, target)
		assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"), target)
	}
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/urp/user", "", &http.Cookie{Name: "jwt", Value: "forged"}).Code)
}

func TestRouterForbiddenThenGranted(t *testing.T) {
	f := newRouterFixture(t, "", nil)
	cookie := f.signIn(t, "", "alice")

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/auth/me", "", cookie).Code)
	assert.Equal(t, http.StatusForbidden, f.do(http.MethodGet, "/urp/user", "", cookie).Code)

	ctx := context.Background()
	alice, err := f.service.FindUserByUsername(ctx, "alice")
	require.NoError(t, err)
	admin, err := f.service.PageQueryRoles(ctx, rbac.RoleQuery{Code: shared.RoleAdmin}, shared.PageRequest{})
	require.NoError(t, err)
	require.NoError(t, f.service.BindRolesToUser(ctx, alice.ID, []int64{admin.Data[0].ID}))

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/urp/user", "", cookie).Code)
}

func TestRouterDisabledUserLosesAccess(t *testing.T) {
	f := newRouterFixture(t, "", nil)
	cookie := f.signIn(t, "", "bob")

	require.NoError(t, f.service.SetUserEnabled(context.Background(), "bob", false))
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/auth/me", "", cookie).Code)
}

func TestRouterSignOutClearsAnyCookie(t *testing.T) {
	f := newRouterFixture(t, "", nil)
	disabled := f.signIn(t, "", "dave")
	require.NoError(t, f.service.SetUserEnabled(context.Background(), "dave", false))

	cases := map[string]*http.Cookie{
		"no cookie":     nil,
		"forged cookie": {Name: "jwt", Value: "forged"},
		"disabled user": disabled,
	}
	for name, cookie := range cases {
		rec := f.do(http.MethodPost, "/auth/sign-out", "", cookie)
		assert.Equal(t, http.StatusOK, rec.Code, name)
		cookies := rec.Result().Cookies()
		require.Len(t, cookies, 1, name)
		assert.Equal(t, "jwt", cookies[0].Name, name)
		assert.Equal(t, -1, cookies[0].MaxAge, name)
	}
}

func TestRouterFirewall(t *testing.T) {
	f := newRouterFixture(t, "", nil)

	rec := f.do(http.MethodGet, "/urp//user", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain"))
}

func TestRouterBasePath(t *testing.T) {
	f := newRouterFixture(t, "/api/", nil)

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/healthz", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/urp/role", "", nil).Code)

	creds := `{"username":"carol","password":"secret-pw"}`
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/api/auth/sign-up", creds, nil).Code)
	rec := f.do(http.MethodPost, "/api/auth/sign-in", creds, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "/api", cookies[0].Path)
}

func TestRouterHealthCheckFailure(t *testing.T) {
	f := newRouterFixture(t, "", func(context.Context) error { return assert.AnError })

	rec := f.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
