package cli

import (
	"fmt"

	"github.com/examforge/examforge/pkg/config"
	"github.com/spf13/cobra"
)

func MigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply task store migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg := config.FromContext(ctx)
			// newApp migrates on open
			a, err := newApp(ctx, cfg, appOptions{})
			if err != nil {
				return err
			}
			defer a.close(ctx)
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s store is up to date\n", a.store.Driver())
			return err
		},
	}
}
