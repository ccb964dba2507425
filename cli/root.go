// Package cli is the examforge command line: it loads configuration, wires
// the engine and exposes task submission and inspection commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/examforge/examforge/pkg/config"
	"github.com/examforge/examforge/pkg/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const defaultConfigFile = "examforge.yaml"

func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "examforge",
		Short:        "Generate exam papers and practice sets from real papers",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return SetupGlobalConfig(cmd)
		},
	}
	flags := root.PersistentFlags()
	flags.String("config", "", "Path to the configuration file (default ./examforge.yaml when present)")
	flags.String("log-level", "", "Log level (debug, info, warn, error, disabled)")
	flags.Bool("log-json", false, "Emit logs as JSON")
	flags.Bool("log-source", false, "Include source locations in logs")
	flags.StringP("format", "o", "", "Output format (json, table); defaults to table on a terminal")
	flags.String("store-driver", "", "Task store driver (memory, sqlite, postgres)")
	flags.String("store-path", "", "SQLite database path")

	root.AddCommand(
		GenerateCmd(),
		TasksCmd(),
		MigrateCmd(),
		ConfigCmd(),
		VersionCmd(),
	)
	return root
}

// SetupGlobalConfig loads configuration from defaults, the config file, the
// environment and flags, configures logging and stores both in the command
// context.
func SetupGlobalConfig(cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	sources, err := configSources(cmd)
	if err != nil {
		return err
	}
	cfg, err := config.NewLoader().Load(ctx, sources...)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	_, _, logSource, err := logger.GetLoggerConfig(cmd)
	if err != nil {
		return err
	}
	logger.SetupLogger(cfg.Runtime.LogLevel, cfg.Runtime.LogJSON, logSource)
	ctx = logger.ContextWithLogger(ctx, logger.GetDefault())
	ctx = config.ContextWithConfig(ctx, cfg)
	cmd.SetContext(ctx)
	logger.FromContext(ctx).Debug("Configuration loaded", "store_driver", cfg.Store.Driver)
	return nil
}

func configSources(cmd *cobra.Command) ([]config.Source, error) {
	var sources []config.Source
	var path string
	if f := lookupFlag(cmd, "config"); f != nil {
		path = f.Value.String()
	}
	switch {
	case path != "":
		sources = append(sources, config.NewYAMLProvider(path))
	default:
		if _, err := os.Stat(defaultConfigFile); err == nil {
			sources = append(sources, config.NewYAMLProvider(defaultConfigFile))
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("checking %s: %w", defaultConfigFile, err)
		}
	}
	overrides := map[string]any{}
	for flag, path := range map[string]string{
		"log-level":    "runtime.log_level",
		"store-driver": "store.driver",
		"store-path":   "store.path",
	} {
		if f := lookupFlag(cmd, flag); f != nil && f.Changed {
			overrides[path] = f.Value.String()
		}
	}
	if f := lookupFlag(cmd, "log-json"); f != nil && f.Changed {
		v, err := strconv.ParseBool(f.Value.String())
		if err != nil {
			return nil, fmt.Errorf("invalid --log-json value: %w", err)
		}
		overrides["runtime.log_json"] = v
	}
	if len(overrides) > 0 {
		sources = append(sources, config.NewCLIProvider(overrides))
	}
	return sources, nil
}

// lookupFlag finds name on cmd, falling back to the root persistent flags that
// cobra merges into cmd.Flags() only while parsing.
func lookupFlag(cmd *cobra.Command, name string) *pflag.Flag {
	if f := cmd.Flags().Lookup(name); f != nil {
		return f
	}
	return cmd.Root().PersistentFlags().Lookup(name)
}
