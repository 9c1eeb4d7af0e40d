package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloudmoor/cloudmoor/pkg/config"
	"github.com/cloudmoor/cloudmoor/pkg/reconcile"
)

func newApplyCommand() *cobra.Command {
	var (
		wait   bool
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "apply [sources...]",
		Short: "Reconcile declared entities against the vendor",
		Long: `Reconcile the entities declared in CUE sources against the vendor API.

For each entity this command:
  - Creates the resource if it has no stored identity, adopting a
    same-named pre-existing resource on conflict
  - Updates the resource when it already carries an identity
  - Gates every operation through the policy engine
  - Persists the returned state and appends to the operations log`,
		Example: `  # Apply the sources from the host config
  moor apply

  # Apply specific sources and wait for readiness
  moor apply ./entities --wait

  # Show what would be applied without touching the vendor
  moor apply --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			d, err := newDriver(ctx)
			if err != nil {
				return err
			}
			defer d.Close(ctx)

			result, err := d.parseEntities(ctx, args)
			if err != nil {
				return err
			}

			waves, err := config.Order(result.Entities)
			if err != nil {
				return err
			}

			var failed int
			for _, wave := range waves {
				for _, ent := range wave {
					prior, err := loadPrior(ctx, d, ent)
					if err != nil {
						return err
					}

					op := reconcile.OpCreate
					if prior.ID != "" {
						op = reconcile.OpUpdate
					}

					if dryRun {
						fmt.Printf("would %s %s\n", op, ent.Ref())
						continue
					}

					if _, err := d.reconcileEntity(ctx, ent, op, "", nil); err != nil {
						d.tel.Logger.WithEntity(ent.Kind, ent.Name).WithError(err).Error("Reconciliation failed")
						failed++
						continue
					}

					if wait {
						if err := d.waitReady(ctx, ent); err != nil {
							d.tel.Logger.WithEntity(ent.Kind, ent.Name).WithError(err).Error("Readiness wait failed")
							failed++
						}
					}
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d entities failed", failed, len(result.Entities))
			}
			if !dryRun {
				fmt.Printf("Applied %d entities\n", len(result.Entities))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "wait for each entity to report ready")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report planned operations without calling the vendor")

	return cmd
}
