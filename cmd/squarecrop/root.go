package main

import (
	"io"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/menta2k/squarecrop/internal/config"
	"github.com/menta2k/squarecrop/internal/logging"
)

// app carries what PersistentPreRunE prepared for the subcommands.
type app struct {
	configPath string
	logLevel   string

	cfg       *config.Config
	logger    *slog.Logger
	logCloser io.Closer
}

func NewRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "squarecrop",
		Short: "Crop batches of images to square regions",
		Long: `Squarecrop loads images, lets you position a square crop region over each one
and exports the crops at the source image's native resolution.

Use "crop" for unattended batches and "serve" for the interactive editor API.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()

			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			if a.logLevel != "" {
				cfg.Log.Level = a.logLevel
			}
			logger, closer, err := logging.Setup(cfg.Log)
			if err != nil {
				return err
			}
			a.cfg, a.logger, a.logCloser = cfg, logger, closer
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.logCloser != nil {
				return a.logCloser.Close()
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", config.GetConfigPath(), "Path to the YAML configuration file")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")

	cmd.AddCommand(newCropCmd(a))
	cmd.AddCommand(newSuggestCmd(a))
	cmd.AddCommand(newServeCmd(a))
	cmd.AddCommand(newConfigCmd(a))

	return cmd
}
