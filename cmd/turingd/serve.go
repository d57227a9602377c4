package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/RyotaroOda/TuringChatD11-sub000/internal/api"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/obslog"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/turingbuilder"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server and the room sweeper",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, true)
			if err != nil {
				return err
			}
			defer obslog.Sync()
			if err := cfg.RequireSecret(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			deps, err := turingbuilder.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := deps.Close(); err != nil {
					obslog.L().Warn("deps_close_error", zap.Error(err))
				}
			}()
			if err := deps.Sweeper.Start(); err != nil {
				return err
			}

			srv := api.NewServer(api.Config{
				Bind:           cfg.Bind,
				Port:           cfg.Port,
				OriginPatterns: cfg.OriginPatterns,
			}, api.Deps{
				Rooms:      deps.Rooms,
				Matchmaker: deps.Matchmaker,
				Results:    deps.Results,
				Profiles:   deps.Profiles,
				Archive:    deps.Archive,
				Events:     deps.Bus,
				Auth:       api.NewAuthenticator(cfg.JWTSecret),
				Catalog:    deps.Catalog,
			})
			return srv.Serve(ctx)
		},
	}
}
