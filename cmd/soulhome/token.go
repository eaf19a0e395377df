package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Yashkondane/soulhome-official/pkg/config"
	"github.com/Yashkondane/soulhome-official/svc/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an access token signed with AUTH_JWT_SECRET for local testing",
	RunE: func(cmd *cobra.Command, _ []string) error {
		rawID, _ := cmd.Flags().GetString("user")
		email, _ := cmd.Flags().GetString("email")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		id := uuid.New()
		if rawID != "" {
			parsed, err := uuid.Parse(rawID)
			if err != nil {
				return fmt.Errorf("invalid --user: %w", err)
			}
			id = parsed
		}
		if email == "" {
			return errors.New("--email is required")
		}

		var cfg auth.Config
		if err := config.Load(&cfg); err != nil {
			return err
		}
		v, err := auth.NewVerifier(cfg)
		if err != nil {
			return err
		}
		token, err := v.Issue(auth.User{ID: id, Email: email, Role: "authenticated"}, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().String("user", "", "user id (random when empty)")
	tokenCmd.Flags().String("email", "", "user email")
	tokenCmd.Flags().Duration("ttl", time.Hour, "token lifetime")
}
