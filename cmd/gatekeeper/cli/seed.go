package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/gatekeeper/internal/rbac"
)

func newSeedCommand(opts Options) *cobra.Command {
	var catalogPath string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Upsert the permission and role catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog := rbac.DefaultCatalog()
			if catalogPath != "" {
				f, err := os.Open(catalogPath)
				if err != nil {
					return err
				}
				defer f.Close()
				if catalog, err = rbac.LoadCatalog(f); err != nil {
					return fmt.Errorf("load catalog %s: %w", catalogPath, err)
				}
			}

			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.release()

			result, err := s.service.Seed(cmd.Context(), catalog)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d permission(s) and %d role(s)\n", result.Permissions, result.Roles)
			return nil
		},
	}
	cmd.Flags().StringVar(&catalogPath, "catalog", "", "YAML catalog file (defaults to the built-in catalog)")
	return cmd
}
