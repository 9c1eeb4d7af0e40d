package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newStatusCommand() *cobra.Command {
	var (
		kind       string
		operations int
	)

	cmd := &cobra.Command{
		Use:   "status [kind [name]]",
		Short: "Show managed entities and recent operations",
		Long: `Show the stored state of managed entities.

Without arguments, lists every managed entity. With a kind (and
optionally a name), narrows the listing. --operations additionally
prints the most recent operations-log entries for the selection.`,
		Example: `  # List everything
  moor status

  # List managed buckets
  moor status bucket

  # One entity with its last 5 operations
  moor status cdn frontend --operations 5`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			d, err := newDriver(ctx)
			if err != nil {
				return err
			}
			defer d.Close(ctx)

			var kindFilter, nameFilter *string
			if len(args) > 0 {
				kindFilter = &args[0]
			} else if kind != "" {
				kindFilter = &kind
			}
			if len(args) > 1 {
				nameFilter = &args[1]
			}

			entities, err := d.store.ListEntities(ctx, kindFilter, 1000, 0)
			if err != nil {
				return err
			}
			if nameFilter != nil {
				filtered := entities[:0]
				for _, e := range entities {
					if e.Name == *nameFilter {
						filtered = append(filtered, e)
					}
				}
				entities = filtered
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(entities)
			}

			if len(entities) == 0 {
				fmt.Println("No managed entities")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KIND\tNAME\tSTATUS\tEXISTING\tUPDATED")
			for _, e := range entities {
				fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\n",
					e.Kind, e.Name, orDash(e.Status), e.Existing,
					e.UpdatedAt.Format("2006-01-02 15:04:05"))
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if operations > 0 {
				return printOperations(cmd, d, kindFilter, nameFilter, operations)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "filter by entity kind")
	cmd.Flags().IntVar(&operations, "operations", 0, "also show the N most recent operations")

	return cmd
}

func printOperations(cmd *cobra.Command, d *driver, kind, name *string, limit int) error {
	ops, err := d.store.ListOperations(cmd.Context(), kind, name, limit, 0)
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		return nil
	}

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tKIND\tNAME\tOP\tOUTCOME\tERROR")
	for _, op := range ops {
		errMsg := ""
		if op.Error != nil {
			errMsg = *op.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			op.StartedAt.Format("2006-01-02 15:04:05"),
			op.Kind, op.Name, op.Op, op.Outcome, errMsg)
	}
	return w.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
