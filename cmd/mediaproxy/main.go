package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/wudi/mediaproxy/internal/config"
	"github.com/wudi/mediaproxy/internal/gateway"
	"github.com/wudi/mediaproxy/internal/logging"
	"go.uber.org/zap"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "mediaproxy",
	Short: "Reverse proxy for a TMDB-style image and API service",
	Long: `mediaproxy fronts an image host (/t/p/...) and an API host (/3/...),
injecting the caller's API key, rewriting cache directives and pointing
configuration payloads back at the proxy.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the proxy",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.NewLoader().Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		logger, err := logging.NewWithOptions(logging.Options{
			Level:      cfg.Logging.Level,
			Output:     cfg.Logging.Output,
			MaxSize:    cfg.Logging.Rotation.MaxSize,
			MaxBackups: cfg.Logging.Rotation.MaxBackups,
			MaxAge:     cfg.Logging.Rotation.MaxAge,
			Compress:   cfg.Logging.Rotation.Compress,
			LocalTime:  cfg.Logging.Rotation.LocalTime,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		defer logger.Sync()
		logging.SetGlobal(logger)

		logging.Info("Starting mediaproxy",
			zap.String("version", version),
			zap.String("config", configPath),
			zap.String("address", cfg.Server.Address),
			zap.String("error_disclosure", cfg.Policy.ErrorDisclosure),
		)

		server, err := gateway.NewServer(cfg, configPath)
		if err != nil {
			logging.Error("Failed to create server", zap.Error(err))
			return err
		}
		if err := server.Run(context.Background()); err != nil {
			logging.Error("Server error", zap.Error(err))
			return err
		}
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := config.NewLoader().Load(configPath); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid")
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "mediaproxy %s (built %s)\n", version, buildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (defaults apply when empty)")
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.AddCommand(serveCmd, validateCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
