package main

import (
	"fmt"
	"image"
	"image/png"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Brownie44l1/sar-colorize/internal/imageproc"
	"github.com/Brownie44l1/sar-colorize/internal/pipeline"
)

func newColorizeCommand() *cobra.Command {
	var in, out, forceTerrain string

	cmd := &cobra.Command{
		Use:   "colorize",
		Short: "Colorize a single SAR image file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}

			p, err := pipeline.Load(cfg.Models, pipeline.WithLogger(logrus.NewEntry(logger)))
			if err != nil {
				return err
			}
			defer p.Close()

			f, err := os.Open(in)
			if err != nil {
				return err
			}
			defer f.Close()

			img, _, err := imageproc.Decode(f)
			if err != nil {
				return err
			}

			run := p.Run
			if forceTerrain != "" {
				category, err := p.Vocabulary().Parse(forceTerrain)
				if err != nil {
					return err
				}
				run = func(img image.Image) (*pipeline.Result, error) {
					return p.RunAs(img, category)
				}
			}

			res, err := run(img)
			fmt.Fprintln(cmd.OutOrStdout(), pipeline.Status(res, err))
			if err != nil {
				return err
			}

			dst, err := os.Create(out)
			if err != nil {
				return err
			}
			if err := png.Encode(dst, res.Image); err != nil {
				dst.Close()
				return fmt.Errorf("failed to write %s: %w", out, err)
			}
			if err := dst.Close(); err != nil {
				return err
			}

			logger.WithFields(logrus.Fields{
				"in":      in,
				"out":     out,
				"terrain": res.Terrain.String(),
				"scores":  p.Confidences(res),
			}).Info("Colorized image")
			return nil
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "input SAR image")
	cmd.Flags().StringVar(&out, "out", "colorized.png", "output PNG path")
	cmd.Flags().StringVar(&forceTerrain, "terrain", "", "skip classification and condition on this category (urban, grassland, agri, barrenland)")
	_ = cmd.MarkFlagRequired("in")
	return cmd
}
