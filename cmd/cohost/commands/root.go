// Package commands implements the cohost CLI commands using cobra.
package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jholhewres/cohost/pkg/cohost/config"
	"github.com/jholhewres/cohost/pkg/cohost/llm"
	"github.com/jholhewres/cohost/pkg/cohost/logging"
)

// NewRootCmd creates the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cohost",
		Short: "AI co-host for Twitch and Discord chat",
		Long: `cohost joins a stream chat, answers viewers with a local language
model and speaks its replies through the speech server.

Examples:
  cohost setup
  cohost serve
  cohost console --speak
  cohost devices`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newConsoleCmd(),
		newSetupCmd(),
		newDevicesCmd(),
		newHealthCmd(),
		newLogoutCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}

// loadConfig loads the file named by --config, or discovers one.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, used, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if used != "" {
		slog.Debug("config loaded", "path", used)
	}
	return cfg, nil
}

// newLogger builds the process logger. withFile mirrors output into the
// rotating log directory.
func newLogger(cmd *cobra.Command, cfg *config.Config, withFile bool) (*logging.Logger, error) {
	level := cfg.Logging.Level
	if verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose"); verbose {
		level = "debug"
	}
	opts := logging.Options{
		Name:       cfg.Name,
		Level:      level,
		Format:     cfg.Logging.Format,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	}
	if withFile {
		opts.Dir = cfg.Logging.Dir
	}
	return logging.New(opts)
}

func newModel(cfg *config.Config, logger *slog.Logger) *llm.Client {
	return llm.New(llm.Config{
		BaseURL:         cfg.LLM.BaseURL,
		Model:           cfg.LLM.Model,
		APIKey:          cfg.LLM.APIKey,
		Timeout:         cfg.LLM.Timeout,
		CacheTTL:        cfg.LLM.CacheTTL,
		CacheMaxEntries: cfg.LLM.CacheMaxEntries,
	}, logger)
}
