package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloudmoor/cloudmoor/pkg/stores"
)

func newWaitCommand() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "wait <kind> <name>",
		Short: "Wait for an entity to report ready",
		Long: `Poll an entity's readiness on its kind's schedule until it reports
ready, the schedule's attempt budget runs out, or the vendor reports a
terminal failure status.`,
		Example: `  # Wait with the kind's default schedule
  moor wait database orders

  # Cap the total wait regardless of the schedule
  moor wait cdn frontend --timeout 10m`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			kind, name := args[0], args[1]

			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

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

			return d.waitReady(ctx, ent)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 0, "overall wait timeout (0 uses the kind's schedule budget)")

	return cmd
}
