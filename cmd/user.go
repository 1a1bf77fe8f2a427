/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sampleapp/apiserver/config"
	"github.com/sampleapp/apiserver/internal/db"
	"github.com/sampleapp/apiserver/internal/logging"
	"github.com/sampleapp/apiserver/internal/services"
	"github.com/sampleapp/apiserver/internal/store"
	"github.com/spf13/cobra"
)

var (
	userEmail    string
	userPassword string
	userAdmin    bool
	userRole     string
)

// userCmd groups account maintenance commands.
var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
}

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an active account",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(userPassword) < 8 {
			return errors.New("password must be at least 8 characters long")
		}
		return withServices(cmd.Context(), func(users *services.UserService, _ *services.AdminService) error {
			user, err := users.CreateUser(cmd.Context(), userEmail, userPassword, userAdmin)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s) roles=%v\n", user.Email, user.ID, user.Roles)
			return nil
		})
	},
}

var userGrantRoleCmd = &cobra.Command{
	Use:   "grant-role",
	Short: "Grant a role to a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd.Context(), func(users *services.UserService, admin *services.AdminService) error {
			user, err := users.GetByEmail(cmd.Context(), userEmail)
			if err != nil {
				return fmt.Errorf("find %s: %w", userEmail, err)
			}
			user, err = admin.GrantRole(cmd.Context(), user.ID, userRole)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s roles=%v\n", user.Email, user.Roles)
			return nil
		})
	},
}

var userRevokeRoleCmd = &cobra.Command{
	Use:   "revoke-role",
	Short: "Revoke a role from a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd.Context(), func(users *services.UserService, admin *services.AdminService) error {
			user, err := users.GetByEmail(cmd.Context(), userEmail)
			if err != nil {
				return fmt.Errorf("find %s: %w", userEmail, err)
			}
			user, err = admin.RevokeRole(cmd.Context(), user.ID, userRole)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s roles=%v\n", user.Email, user.Roles)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userCreateCmd, userGrantRoleCmd, userRevokeRoleCmd)

	userCmd.PersistentFlags().StringVar(&userEmail, "email", "", "account email")
	_ = userCmd.MarkPersistentFlagRequired("email")

	userCreateCmd.Flags().StringVar(&userPassword, "password", "", "account password")
	userCreateCmd.Flags().BoolVar(&userAdmin, "admin", false, "grant the admin role")
	_ = userCreateCmd.MarkFlagRequired("password")

	for _, c := range []*cobra.Command{userGrantRoleCmd, userRevokeRoleCmd} {
		c.Flags().StringVar(&userRole, "role", "admin", "role name")
	}
}

func withServices(ctx context.Context, fn func(users *services.UserService, admin *services.AdminService) error) error {
	cfg := config.LoadConfig()
	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	defer func() { _ = logger.Sync() }()

	conn, err := db.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func(conn *sql.DB) { _ = conn.Close() }(conn)

	userRepo := store.NewUserRepository(conn)
	roleRepo := store.NewRoleRepository(conn)
	users := services.NewUserService(userRepo, roleRepo, services.BcryptHasher{})
	admin := services.NewAdminService(userRepo, roleRepo, nil, logger)
	return fn(users, admin)
}
