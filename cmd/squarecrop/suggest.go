package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newSuggestCmd(a *app) *cobra.Command {
	var describe bool

	cmd := &cobra.Command{
		Use:   "suggest IMAGE",
		Short: "Print the suggested square crop region for one image",
		Long: `Loads an image from a path or http(s) URL and prints the crop region the
configured suggestion backend proposes, in original pixel coordinates.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, err := newSession(a.cfg, a.logger)
			if err != nil {
				return err
			}

			img, err := sess.processor.LoadImageSmart(ctx, args[0])
			if err != nil {
				return err
			}

			if describe {
				if sess.detector == nil {
					return errors.New("--describe needs suggest.backend ollama or llamacpp")
				}
				imgB64, err := sess.processor.PrepareImageForModel(img, "jpg", a.cfg.Suggest.SendSize, 85)
				if err != nil {
					return err
				}
				text, err := sess.detector.TestVision(ctx, imgB64)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), text)
			}

			region, err := sess.suggester.Suggest(ctx, img)
			if err != nil {
				return err
			}
			b := img.Bounds()
			out, err := json.MarshalIndent(map[string]any{
				"image":   filepath.Base(args[0]),
				"width":   b.Dx(),
				"height":  b.Dy(),
				"backend": a.cfg.Suggest.Backend,
				"region":  region,
			}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().BoolVar(&describe, "describe", false, "Also ask the vision model to describe the image")

	return cmd
}
