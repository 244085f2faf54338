package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/menta2k/squarecrop/internal/utils"
	"github.com/menta2k/squarecrop/pkg/export"
	"github.com/menta2k/squarecrop/pkg/intake"
)

func newCropCmd(a *app) *cobra.Command {
	var (
		outDir  string
		zipPath string
		suggest bool
	)

	cmd := &cobra.Command{
		Use:   "crop PATH...",
		Short: "Crop images or directories of images in one batch",
		Long: `Loads every image under the given paths, crops each one to a square and
exports the results as "<name>.jpeg".

Without --suggest every image gets the default centered crop. With --suggest
the configured suggestion backend (smartcrop, ollama or llamacpp) positions the square.`,
		Example: `  # Centered crops into ./thumbs
  squarecrop crop photos/ --out thumbs

  # Content-aware crops, packed into an archive
  squarecrop crop a.jpg b.png --suggest --zip crops.zip`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := a.logger
			if outDir != "" && utils.FileExists(outDir) {
				return fmt.Errorf("--out %s is a file, not a directory", outDir)
			}

			sess, err := newSession(a.cfg, logger)
			if err != nil {
				return err
			}

			files, err := intake.FilesFromPaths(args)
			if err != nil {
				return err
			}
			res, err := sess.intake.Batch(ctx, files)
			if err != nil {
				return err
			}
			for _, f := range res.Failed {
				fmt.Fprintf(cmd.ErrOrStderr(), "skipped %s: %s\n", f.Name, f.Err)
			}
			if len(res.Added) == 0 {
				return errors.New("no images found")
			}

			for _, e := range sess.registry.List() {
				if suggest {
					sess.registry.SetActive(e.ID)
					if _, err := sess.view.Suggest(ctx); err != nil {
						logger.Warn("Suggestion failed, keeping default crop", "name", e.DisplayName, "error", err)
					}
				}
				if _, err := sess.view.CropEntry(ctx, e.ID, ""); err != nil {
					return fmt.Errorf("failed to crop %s: %w", e.DisplayName, err)
				}
			}

			ex := newExporter(a.cfg, sess.view, outDir, logger)
			var zipDst *export.ZipDestination
			if zipPath != "" {
				if err := utils.EnsureDir(filepath.Dir(zipPath)); err != nil {
					return err
				}
				f, err := os.Create(zipPath)
				if err != nil {
					return fmt.Errorf("failed to create archive: %w", err)
				}
				defer f.Close()
				zipDst = export.NewZipDestination(f)
				ex.Picker, ex.Fallback, ex.Delay = nil, zipDst, 0
			}

			rep, err := ex.SaveAll(ctx, sess.registry.List())
			if zipDst != nil {
				if cerr := zipDst.Close(); cerr != nil && err == nil {
					err = fmt.Errorf("failed to finish archive: %w", cerr)
				}
			}
			if err != nil {
				return err
			}

			if rep.Canceled {
				fmt.Fprintf(cmd.OutOrStdout(), "canceled after %d of %d files\n", len(rep.Written), len(res.Added))
				return nil
			}
			if rep.Fallback {
				fmt.Fprintf(cmd.OutOrStdout(), "export directory failed, used %s\n", a.cfg.Export.FallbackDir)
			}
			var total int64
			for _, e := range sess.registry.Cropped() {
				total += int64(len(e.Cropped.Data))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d cropped images (%s)\n", len(rep.Written), utils.FormatFileSize(total))
			return nil
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Output directory (defaults to export.dir, then export.fallback_dir)")
	cmd.Flags().StringVar(&zipPath, "zip", "", "Write all crops into this zip archive instead of a directory")
	cmd.Flags().BoolVar(&suggest, "suggest", false, "Position each crop with the configured suggestion backend")

	return cmd
}
