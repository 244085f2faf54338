package main

import (
	"github.com/spf13/cobra"

	"github.com/menta2k/squarecrop/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the crop editor API",
		Long: `Starts the HTTP and WebSocket API of the interactive crop editor.

Images are uploaded to /api/images, the crop square is moved with pointer
events on /api/view/pointer or the /ws stream, and results are downloaded
one by one or as a zip from /api/export.`,
		Example: `  # Start server on the configured address (default :8080)
  squarecrop serve

  # Start server on a custom address
  squarecrop serve --addr 127.0.0.1:3000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if addr != "" {
				cfg.Server.Addr = addr
			}

			sess, err := newSession(cfg, a.logger)
			if err != nil {
				return err
			}

			srv := server.New(sess.view, sess.intake, sess.processor, server.Options{
				MaxUploadBytes:  cfg.Server.MaxUploadBytes,
				ShutdownTimeout: cfg.Server.ShutdownTimeout,
				ExportDir:       cfg.Export.Dir,
				FallbackDir:     cfg.Export.FallbackDir,
				Overwrite:       cfg.Export.Overwrite,
				ExportDelay:     cfg.Export.Delay,
				DefaultName:     cfg.Output.DefaultName,
			}, a.logger)

			return srv.Run(cmd.Context(), cfg.Server.Addr)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Address to listen on (overrides server.addr)")

	return cmd
}
