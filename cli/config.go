package cli

import (
	"github.com/examforge/examforge/pkg/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func ConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration diagnostics",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.FromContext(cmd.Context())
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}
			if format == formatJSON {
				return writeJSON(cmd.OutOrStdout(), redactedConfig(cfg))
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(redactedConfig(cfg)); err != nil {
				return err
			}
			return enc.Close()
		},
	})
	return cmd
}

// redactedConfig copies cfg with every secret replaced by its redacted form.
func redactedConfig(cfg *config.Config) *config.Config {
	out := *cfg
	out.Provider.Primary.Token = config.SensitiveString(cfg.Provider.Primary.Token.String())
	out.Provider.Fallback.Token = config.SensitiveString(cfg.Provider.Fallback.Token.String())
	if out.Store.ConnString != "" {
		out.Store.ConnString = "[REDACTED]"
	}
	return &out
}
