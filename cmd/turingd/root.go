package main

import (
	"github.com/spf13/cobra"

	"github.com/RyotaroOda/TuringChatD11-sub000/internal/config"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/obslog"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "turingd",
		Short:   "Matchmaking and room lifecycle server for the Turing chat game.",
		Args:    cobra.NoArgs,
		Version: releaseVersion,
	}
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(newServeCmd(), newSweepCmd(), newTokenCmd(), newCheckCmd())

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("turingd v{{.Version}}\n")
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true
	return cmd
}

// loadConfig resolves flags and environment. validate is false for commands
// that never touch the store.
func loadConfig(cmd *cobra.Command, validate bool) (*config.AppConfig, error) {
	load := config.Resolve
	if validate {
		load = config.Load
	}
	cfg, err := load(cmd.Flags())
	if err != nil {
		return nil, err
	}
	if err := obslog.Init(obslog.Options{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		File:    cfg.LogFile,
		Console: true,
	}); err != nil {
		return nil, err
	}
	return cfg, nil
}
