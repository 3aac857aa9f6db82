package app

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/gatekeeper/internal/auth"
	"github.com/odyssey-erp/gatekeeper/internal/observability"
	"github.com/odyssey-erp/gatekeeper/internal/platform/httpx"
	"github.com/odyssey-erp/gatekeeper/internal/rbac"
	"github.com/odyssey-erp/gatekeeper/internal/security"
)

// healthTimeout bounds one /healthz probe.
const healthTimeout = 2 * time.Second

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	Filter         *security.Filter
	AuthHandler    *auth.Handler
	RBACHandler    *rbac.Handler
	RBACMiddleware rbac.Middleware
	Metrics        *observability.Metrics
	// HealthCheck reports backing store health. Nil means always healthy.
	HealthCheck func(context.Context) error
}

// NewRouter constructs the chi.Router with gatekeeper defaults. Every route
// requires an authenticated principal unless it is on the public allow-list.
func NewRouter(params RouterParams) http.Handler {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	basePath := ""
	if params.Config != nil {
		basePath = normalizeBasePath(params.Config.AppBasePath)
	}

	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  logger,
		Config:  params.Config,
		Filter:  params.Filter,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	api := chi.NewRouter()
	api.Use(params.RBACMiddleware.RequireAuthenticated())
	api.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "no route for "+r.URL.Path)
	})
	api.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusMethodNotAllowed, "Method Not Allowed", r.Method+" is not supported here")
	})

	api.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if params.HealthCheck != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
			defer cancel()
			if err := params.HealthCheck(ctx); err != nil {
				logger.Warn("health check failed", slog.Any("error", err))
				httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	api.Method(http.MethodGet, "/metrics", params.Metrics.Handler())

	if params.AuthHandler != nil {
		api.Route("/auth", params.AuthHandler.MountRoutes)
	}
	if params.RBACHandler != nil {
		api.Route("/urp", params.RBACHandler.MountRoutes)
	}
	api.Get("/v3/api-docs", apiDocs(api, params.RBACMiddleware.Public, basePath))

	if basePath == "" {
		r.Mount("/", api)
	} else {
		r.Mount(basePath, api)
	}
	return r
}

type routeDoc struct {
	Method string `json:"method"`
	Path   string `json:"path"`
	Public bool   `json:"public"`
}

type apiDoc struct {
	BasePath string     `json:"basePath"`
	Routes   []routeDoc `json:"routes"`
}

// apiDocs lists the registered routes together with their access class.
func apiDocs(routes chi.Routes, public security.EndpointList, basePath string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docs := []routeDoc{}
		_ = chi.Walk(routes, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
			docs = append(docs, routeDoc{Method: method, Path: route, Public: public.Matches(method, route)})
			return nil
		})
		sort.Slice(docs, func(i, j int) bool {
			if docs[i].Path != docs[j].Path {
				return docs[i].Path < docs[j].Path
			}
			return docs[i].Method < docs[j].Method
		})
		httpx.JSON(w, http.StatusOK, apiDoc{BasePath: basePath, Routes: docs})
	}
}
