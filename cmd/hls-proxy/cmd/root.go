// Package cmd implements the CLI commands for hls-proxy.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"hls-proxy-go/internal/version"
	"hls-proxy-go/pkg/config"
	"hls-proxy-go/pkg/logging"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	// cfgFile holds the config file path from CLI flag.
	cfgFile string

	// cfg and logger are populated by PersistentPreRunE for every subcommand.
	cfg    *config.Config
	logger *logging.Logger
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "hls-proxy",
	Short:   "Local HLS rewriting proxy",
	Version: version.Short(),
	Long: `hls-proxy runs a loopback HTTP server that fetches remote HLS playlists,
rewrites every media reference to point back at itself, and streams segments
to the player after stripping fake image headers some hosts prepend.

Only a fixed allow-list of request headers is forwarded to the origin.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return initConfig(cmd)
	}

	// These flags are not bound to viper. They override config and env values
	// only when explicitly set.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./hls-proxy.yaml or $HOME/.config/hls-proxy/hls-proxy.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
}

// initConfig loads configuration and builds the logger.
//
// Priority order (highest to lowest):
//  1. CLI flags, only if explicitly provided
//  2. Environment variables (HLSPROXY_LOGGING_LEVEL, HLSPROXY_SERVER_PORT, ...)
//  3. Config file values
//  4. Built-in defaults
func initConfig(cmd *cobra.Command) error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	overrideString(flags, "log-level", &loaded.Logging.Level)
	overrideString(flags, "log-format", &loaded.Logging.Format)
	loaded.Logging.Level = strings.ToLower(loaded.Logging.Level)
	if loaded.Logging.Level == "warning" {
		loaded.Logging.Level = "warn"
	}
	loaded.Logging.Format = strings.ToLower(loaded.Logging.Format)

	if err := loaded.Validate(); err != nil {
		return fmt.Errorf("validating flags: %w", err)
	}

	cfg = loaded
	logger = logging.New(cfg.Logging.Level, cfg.Logging.Format == "json", os.Stderr)
	return nil
}

// overrideString copies a flag value into dst only if the flag was set.
func overrideString(flags *pflag.FlagSet, name string, dst *string) {
	if flags.Changed(name) {
		*dst, _ = flags.GetString(name)
	}
}

func overrideInt(flags *pflag.FlagSet, name string, dst *int) {
	if flags.Changed(name) {
		*dst, _ = flags.GetInt(name)
	}
}
