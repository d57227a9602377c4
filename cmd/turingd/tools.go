package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/RyotaroOda/TuringChatD11-sub000/internal/api"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/obslog"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/turingbuilder"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one sweep pass and print what it did",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, true)
			if err != nil {
				return err
			}
			defer obslog.Sync()

			deps, err := turingbuilder.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer deps.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()
			rep, err := deps.Sweeper.Run(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "abandoned=%d orphaned=%d finalised=%d failed=%d\n",
				rep.Abandoned, rep.Orphaned, rep.Finalised, rep.Failed)
			return nil
		},
	}
}

func newTokenCmd() *cobra.Command {
	var (
		user  string
		name  string
		guest bool
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for a player",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, false)
			if err != nil {
				return err
			}
			if err := cfg.RequireSecret(); err != nil {
				return err
			}
			if user == "" {
				return fmt.Errorf("--user is required")
			}
			if name == "" {
				name = user
			}
			tok, err := api.NewAuthenticator(cfg.JWTSecret).Mint(user, name, guest, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&user, "user", "", "player id (token subject)")
	fs.StringVar(&name, "name", "", "display name, defaults to the id")
	fs.BoolVar(&guest, "guest", false, "mark the player as a guest")
	fs.DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime, 0 for no expiry")
	return cmd
}
