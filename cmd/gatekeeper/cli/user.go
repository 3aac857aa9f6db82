package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/gatekeeper/internal/auth"
)

func newUserCommand(opts Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Administrative user operations",
	}
	cmd.AddCommand(
		newUserEnabledCommand(opts, "enable", true),
		newUserEnabledCommand(opts, "disable", false),
		&cobra.Command{
			Use:   "delete <username>",
			Short: "Delete a user and its role bindings",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := openSession(cmd.Context(), opts)
				if err != nil {
					return err
				}
				defer s.release()
				username := auth.NormalizeUsername(args[0])
				if err := s.service.DeleteUser(cmd.Context(), username); err != nil {
					return fmt.Errorf("delete user %q: %w", username, err)
				}
				s.logger.Info("user deleted", slog.String("username", username))
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", username)
				return nil
			},
		},
		&cobra.Command{
			Use:   "set-roles <username> [role-code...]",
			Short: "Replace the roles of a user by code",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := openSession(cmd.Context(), opts)
				if err != nil {
					return err
				}
				defer s.release()
				username := auth.NormalizeUsername(args[0])
				user, err := s.service.FindUserByUsername(cmd.Context(), username)
				if err != nil {
					return fmt.Errorf("find user %q: %w", username, err)
				}
				if err := s.service.BindDefaultRolesToUser(cmd.Context(), user.ID, args[1:]); err != nil {
					return fmt.Errorf("set roles of %q: %w", username, err)
				}
				s.logger.Info("user roles replaced", slog.String("username", username), slog.Any("roles", args[1:]))
				fmt.Fprintf(cmd.OutOrStdout(), "%s now holds %d role(s)\n", username, len(args[1:]))
				return nil
			},
		},
	)
	return cmd
}

func newUserEnabledCommand(opts Options, verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <username>",
		Short: verb + " a user account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.release()
			username := auth.NormalizeUsername(args[0])
			if err := s.service.SetUserEnabled(cmd.Context(), username, enabled); err != nil {
				return fmt.Errorf("%s user %q: %w", verb, username, err)
			}
			s.logger.Info("user "+verb+"d", slog.String("username", username))
			fmt.Fprintf(cmd.OutOrStdout(), "%sd %s\n", verb, username)
			return nil
		},
	}
}
