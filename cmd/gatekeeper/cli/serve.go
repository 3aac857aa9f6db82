package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/gatekeeper/internal/app"
	"github.com/odyssey-erp/gatekeeper/internal/auth"
	"github.com/odyssey-erp/gatekeeper/internal/observability"
	"github.com/odyssey-erp/gatekeeper/internal/platform/cache"
	"github.com/odyssey-erp/gatekeeper/internal/platform/ratelimit"
	"github.com/odyssey-erp/gatekeeper/internal/rbac"
	"github.com/odyssey-erp/gatekeeper/internal/security"
)

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 10 * time.Second

func newServeCommand(opts Options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.InTestMode() {
				slog.Default().Info("test mode detected, skipping runtime startup")
				return nil
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts)
		},
	}
}

func serve(ctx context.Context, opts Options) error {
	cfg, err := opts.LoadConfig()
	if err != nil {
		return err
	}
	logger := app.NewLogger(cfg)

	pool, err := openPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	codec, err := security.NewTokenCodec(security.TokenConfig{
		Secret:          []byte(cfg.JWTSecret),
		ValidityMinutes: cfg.JWTValidityMinutes,
	})
	if err != nil {
		return err
	}
	cookies := security.NewCookieBinder(cfg.JWTCookieName, cfg.AppBasePath, codec.Validity())

	store := rbac.NewRepository(pool)
	rbacService := rbac.NewService(store)
	rbacMiddleware := rbac.Middleware{
		Public:   security.PublicEndpoints(),
		BasePath: cfg.AppBasePath,
		Logger:   logger,
	}
	filter := security.NewFilter(security.FilterConfig{
		Codec:          codec,
		Cookies:        cookies,
		Resolver:       rbac.NewDirectory(store),
		Logger:         logger,
		Metrics:        metrics,
		ResolveTimeout: cfg.AuthResolveTimeout,
	})

	signFlow := auth.NewService(auth.ServiceConfig{
		Accounts: rbacService,
		Hasher:   security.BcryptHasher{},
		Codec:    codec,
		Limiter: ratelimit.New(redisClient, ratelimit.Config{
			MaxAttempts: cfg.SignInMaxAttempts,
			Window:      cfg.SignInCooldown,
		}),
		Metrics:      metrics,
		Logger:       logger,
		DefaultRoles: cfg.AuthDefaultRoles,
	})

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		Filter:         filter,
		AuthHandler:    auth.NewHandler(logger, signFlow, cookies),
		RBACHandler:    rbac.NewHandler(logger, rbacService, rbacMiddleware),
		RBACMiddleware: rbacMiddleware,
		Metrics:        metrics,
		HealthCheck:    pool.Ping,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("base_path", cfg.AppBasePath))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			logger.Error("http server", slog.Any("error", err))
			return err
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
		return err
	}
	return nil
}
