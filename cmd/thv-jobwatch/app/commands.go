// Package app provides the entry point for the ToolHive job watcher CLI.
package app

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/stacklok/toolhive-jobwatch/internal/config"
	"github.com/stacklok/toolhive-jobwatch/internal/versions"
)

var rootCmd = &cobra.Command{
	Use:               "thv-jobwatch",
	DisableAutoGenTag: true,
	Short:             "ToolHive job watcher",
	Long: `ToolHive job watcher follows background jobs on a job backend. It polls the
job list, reports jobs that finish, and tails a single job's logs by merging
stored history with the job's live status channel.`,
	Run: func(cmd *cobra.Command, _ []string) {
		if err := cmd.Help(); err != nil {
			zap.L().Error("Error displaying help", zap.Error(err))
		}
	},
}

// NewRootCmd creates a new root command for the job watcher.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().String("config", "", "Path to configuration file (YAML format)")
	rootCmd.PersistentFlags().String("base-url", "", "Jobs REST API root, overrides server.baseURL")

	for _, name := range []string{"config", "base-url"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			zap.L().Error("Error binding flag", zap.String("flag", name), zap.Error(err))
		}
	}
	viper.SetEnvPrefix(config.EnvPrefix)
	viper.AutomaticEnv()

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(versionCmd)

	return rootCmd
}

// loadConfig reads the configuration file, if any, and applies flag overrides
func loadConfig() (*config.Config, error) {
	var opts []config.Option
	if path := viper.GetString("config"); path != "" {
		opts = append(opts, config.WithConfigPath(path))
	}

	cfg, err := config.LoadConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if baseURL := viper.GetString("base-url"); baseURL != "" {
		cfg.Server.BaseURL = baseURL
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}

	return cfg, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		info := versions.GetVersionInfo()
		format, err := cmd.Flags().GetString("format")
		if err != nil {
			zap.L().Error("Error retrieving format flag", zap.Error(err))
			return
		}

		if format == "json" {
			output, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				zap.L().Error("Error formatting version info as JSON", zap.Error(err))
				return
			}
			fmt.Println(string(output))
		} else {
			zap.L().Info("thv-jobwatch version",
				zap.String("version", info.Version),
				zap.String("commit", info.Commit),
				zap.String("built", info.BuildDate),
				zap.String("go", info.GoVersion),
				zap.String("platform", info.Platform))
		}
	},
}

func init() {
	versionCmd.Flags().String("format", "", "Output format (json)")
}
