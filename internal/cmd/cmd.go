// Package cmd implements the strongroom command line interface.
package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/strongroomhq/strongroom/internal/logging"
)

// Run executes the CLI with the given arguments.
func Run(ctx context.Context, args ...string) error {
	root := NewRootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "strongroom",
		Short:         "Tenant-isolated encryption at rest",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			verbosity, err := cmd.Flags().GetCount("verbosity")
			if err != nil {
				return err
			}

			_, err = logging.Initialize(verbosity)
			return err
		},
	}

	root.PersistentFlags().CountP("verbosity", "v", "Log verbosity, repeat for more detail")
	root.PersistentFlags().StringP("config-file", "f", "", "Configuration file")

	root.AddCommand(newRotateCmd())
	root.AddCommand(newKeysCmd())

	return root
}
