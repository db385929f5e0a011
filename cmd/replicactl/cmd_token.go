package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"replica/internal/config"
	"replica/internal/domain/auth"
)

// newTokenCmd creates the "replicactl token" subcommand.
func newTokenCmd() *cobra.Command {
	var (
		subject string
		scopes  []string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the admin API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			tcfg := auth.DefaultConfig(cfg.AdminJWTSecret)
			if ttl > 0 {
				tcfg.TTL = ttl
			}
			token, expiresAt, err := auth.NewTokenService(tcfg).Issue(subject, scopes)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.UTC().Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().StringSliceVar(&scopes, "scope", []string{auth.ScopeRead}, "granted scopes ("+auth.ScopeRead+", "+auth.ScopeWrite+")")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default 24h)")
	return cmd
}
