package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"planner-sync/internal/auth"
	"planner-sync/internal/config"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			out, closeLog := setupLogging(cfg)
			defer closeLog()

			store, err := openStore(cfg, out)
			if err != nil {
				return err
			}
			defer store.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	var (
		userID string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for development clients",
		Long: `Mint a bearer token signed with JWT_SECRET.

Examples:
  planner-sync token --user 3f0c...      token for an existing user id
  planner-sync token --ttl 720h          token for a fresh random user id`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if userID == "" {
				userID = uuid.NewString()
			}
			token, err := auth.Issue(cfg.JWTSecret, userID, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user:  %s\ntoken: %s\n", userID, token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "user id to put in the token subject (random when empty)")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime")
	return cmd
}
