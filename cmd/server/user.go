package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"certdao/internal/database"
	"certdao/internal/services"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage API accounts",
	}
	cmd.AddCommand(newUserCreateCmd())
	return cmd
}

func newUserCreateCmd() *cobra.Command {
	var username, password, identity, email string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account acting as the given identity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(password) < services.MinPasswordLength {
				return fmt.Errorf("password must be at least %d characters", services.MinPasswordLength)
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			authService, err := newAuthService(cfg)
			if err != nil {
				return err
			}

			user, err := createUser(database.GetDB(), authService, username, password, identity, email)
			if err != nil {
				return fmt.Errorf("failed to create user: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %s (id %d) acting as %s\n", user.Username, user.ID, user.Identity)
			return nil
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "login name")
	cmd.Flags().StringVar(&password, "password", "", "login password")
	cmd.Flags().StringVar(&identity, "identity", "", "registry identity the account acts as")
	cmd.Flags().StringVar(&email, "email", "", "contact address")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	_ = cmd.MarkFlagRequired("identity")
	return cmd
}
