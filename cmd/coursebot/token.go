package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/coursebot/internal/services"
)

var (
	tokenTTL     time.Duration
	tokenSubject string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print an admin bearer token for the HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		tokens, err := services.NewTokenService(cfg.AdminJWTSecret)
		if err != nil {
			return err
		}
		tok, err := tokens.Issue(tokenSubject, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "admin", "token subject")
	rootCmd.AddCommand(tokenCmd)
}
