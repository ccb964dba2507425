package logger

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func SetupLogger(logLevel string, logJSON, logSource bool) {
	Init(&Config{
		Level:      ParseLevel(logLevel),
		JSON:       logJSON,
		AddSource:  logSource,
		TimeFormat: "15:04:05",
	})
}

func GetLoggerConfig(cmd *cobra.Command) (string, bool, bool, error) {
	logLevel, err := flagSet(cmd, "log-level").GetString("log-level")
	if err != nil {
		return "", false, false, fmt.Errorf("failed to get log-level flag: %w", err)
	}

	logJSON, err := flagSet(cmd, "log-json").GetBool("log-json")
	if err != nil {
		return "", false, false, fmt.Errorf("failed to get log-json flag: %w", err)
	}

	logSource, err := flagSet(cmd, "log-source").GetBool("log-source")
	if err != nil {
		return "", false, false, fmt.Errorf("failed to get log-source flag: %w", err)
	}

	return logLevel, logJSON, logSource, nil
}

// flagSet returns the set holding name. Root persistent flags only show up in
// cmd.Flags() once cobra has parsed the command line.
func flagSet(cmd *cobra.Command, name string) *pflag.FlagSet {
	if cmd.Flags().Lookup(name) == nil && cmd.Root().PersistentFlags().Lookup(name) != nil {
		return cmd.Root().PersistentFlags()
	}
	return cmd.Flags()
}
