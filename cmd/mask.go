package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/pii-mask/internal/download"
	"github.com/example/pii-mask/internal/handles"
	"github.com/example/pii-mask/internal/maskservice"
	"github.com/example/pii-mask/internal/workflow"
)

func newMaskCmd(configPath *string) *cobra.Command {
	var (
		outDir string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "mask <image>",
		Short: "Mask a single image and save the result",
		Long: `Uploads one image to the masking service and writes the masked copy into the
output directory, named after the service's filename hint.`,
		Example: `  # Save next to the current directory
  piimask mask passport.jpg

  # Choose a directory and replace an existing result
  piimask mask passport.jpg --out ./masked --force`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadRuntime(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read image: %w", err)
			}

			table := handles.NewTable(handles.NewMemoryStore(), 0, logger)
			client := maskservice.NewHTTPClient(cfg.ServiceURL, nil, cfg.MaxResultBytes, logger)
			ctrl := newController(cfg, client, table, nil, logger)
			defer ctrl.Reset(cmd.Context())

			ctrl.SelectFile(cmd.Context(), workflow.SelectedFile{
				Name:        filepath.Base(args[0]),
				ContentType: mimetype.Detect(data).String(),
				Data:        data,
			})

			snap := ctrl.Submit(cmd.Context())
			if snap.Status != workflow.StatusSucceeded {
				return errors.New(snap.Error)
			}

			saver := &download.DirSaver{Dir: outDir, DefaultName: cfg.DefaultResultName, Overwrite: force}
			if err := ctrl.Download(cmd.Context(), saver); err != nil {
				return err
			}

			logger.Debug("masked image saved", zap.String("path", saver.LastPath))
			fmt.Fprintln(cmd.OutOrStdout(), saver.LastPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "Directory to write the masked image into")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")

	return cmd
}
