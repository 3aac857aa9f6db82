// Package cli implements the gatekeeper command tree.
package cli

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/gatekeeper/internal/app"
	"github.com/odyssey-erp/gatekeeper/internal/platform/db"
	"github.com/odyssey-erp/gatekeeper/internal/rbac"
)

// Options overrides the command dependencies. Zero values select the
// production implementations.
type Options struct {
	Stdout io.Writer
	Stderr io.Writer
	// LoadConfig defaults to app.LoadConfig.
	LoadConfig func() (*app.Config, error)
	// OpenStore defaults to a postgres backed rbac.Repository. The returned
	// func releases the store.
	OpenStore func(ctx context.Context, cfg *app.Config) (rbac.Store, func(), error)
}

func (o Options) withDefaults() Options {
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	if o.LoadConfig == nil {
		o.LoadConfig = app.LoadConfig
	}
	if o.OpenStore == nil {
		o.OpenStore = openPostgresStore
	}
	return o
}

// NewRootCommand builds the gatekeeper command tree.
func NewRootCommand(opts Options) *cobra.Command {
	opts = opts.withDefaults()
	root := &cobra.Command{
		Use:           "gatekeeper",
		Short:         "Cookie carried JWT authentication with role based access control",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(opts.Stdout)
	root.SetErr(opts.Stderr)

	root.AddCommand(
		newServeCommand(opts),
		newMigrateCommand(opts),
		newSeedCommand(opts),
		newUserCommand(opts),
	)
	return root
}

// session carries what a command needs after loading configuration.
type session struct {
	cfg     *app.Config
	logger  *slog.Logger
	service *rbac.Service
	release func()
}

func openSession(ctx context.Context, opts Options) (*session, error) {
	cfg, err := opts.LoadConfig()
	if err != nil {
		return nil, err
	}
	logger := app.NewLogger(cfg)
	store, release, err := opts.OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, logger: logger, service: rbac.NewService(store), release: release}, nil
}

func openPool(ctx context.Context, cfg *app.Config) (*pgxpool.Pool, error) {
	return db.New(ctx, cfg.PGDSN, db.Options{StatementTimeout: cfg.PGStatementTimeout})
}

func openPostgresStore(ctx context.Context, cfg *app.Config) (rbac.Store, func(), error) {
	pool, err := openPool(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return rbac.NewRepository(pool), pool.Close, nil
}
