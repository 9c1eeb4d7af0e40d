package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloudmoor/cloudmoor/pkg/reconcile"
	"github.com/cloudmoor/cloudmoor/pkg/stores"
)

func newDeleteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <kind> <name>",
		Short: "Tear down a managed entity",
		Long: `Tear down a managed entity through its multi-phase teardown sequence.

Adopted resources are never deleted at the vendor: their management
record is cleared and the vendor resource is left untouched. Policies
at error severity can block the delete entirely.`,
		Example: `  # Delete a managed bucket
  moor delete bucket photos

  # Delete a CDN distribution (disable, await deployment, then delete)
  moor delete cdn frontend`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			kind, name := args[0], args[1]

			d, err := newDriver(ctx)
			if err != nil {
				return err
			}
			defer d.Close(ctx)

			ent, err := d.entityFromRecord(ctx, kind, name)
			if err != nil {
				if errors.Is(err, stores.ErrNotFound) {
					return fmt.Errorf("no managed %s named %s", kind, name)
				}
				return err
			}

			if _, err := d.reconcileEntity(ctx, ent, reconcile.OpDelete, "", nil); err != nil {
				return err
			}

			fmt.Printf("Deleted %s/%s\n", kind, name)
			return nil
		},
	}

	return cmd
}
