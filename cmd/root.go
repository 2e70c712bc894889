package cmd

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/pii-mask/internal/config"
	"github.com/example/pii-mask/internal/logging"
)

func NewRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "piimask",
		Short: "Mask personal information in images through a masking service",
		Long: `piimask sends an image to a PII masking service and hands back the masked copy.

Run it as an HTTP API with "serve", or mask a single file from the shell with "mask".`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "piimask.yaml", "Path to an optional YAML config file")

	cmd.AddCommand(newServeCmd(&configPath))
	cmd.AddCommand(newMaskCmd(&configPath))

	return cmd
}

func loadRuntime(configPath string) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}
