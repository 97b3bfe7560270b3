package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/strongroomhq/strongroom/internal"
	"github.com/strongroomhq/strongroom/internal/server/data"
	"github.com/strongroomhq/strongroom/uid"
)

func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Inspect a tenant's encryption key versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			options := rotateOptions{}
			if err := internal.ParseOptions(cmd, &options); err != nil {
				return err
			}

			if options.Tenant == "" {
				return errors.New("missing required flag: --tenant")
			}

			tenantID, err := uid.Parse([]byte(options.Tenant))
			if err != nil {
				return fmt.Errorf("invalid tenant id %q: %w", options.Tenant, err)
			}

			db, err := openDB(options)
			if err != nil {
				return err
			}

			keys, err := data.ListTenantKeys(db, data.ByTenantID(tenantID))
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "VERSION\tSTATUS\tPROVIDER\tACTIVATED\tRETIRED")
			for i := range keys {
				retired := ""
				if keys[i].RetiredAt != nil {
					retired = keys[i].RetiredAt.Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(w, "%d\t%v\t%v\t%v\t%v\n",
					keys[i].KeyVersion,
					keys[i].Status,
					keys[i].Provider,
					keys[i].ActivatedAt.Format("2006-01-02 15:04:05"),
					retired,
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().String("tenant", "", "Tenant ID")
	cmd.Flags().String("db-file", "$HOME/.strongroom/strongroom.db", "Path to SQLite database")
	cmd.Flags().String("db-connection", "", "PostgreSQL connection string, takes precedence over db-file")

	return cmd
}
