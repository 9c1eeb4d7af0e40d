package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cloudmoor/cloudmoor/pkg/reconcile"
	"github.com/cloudmoor/cloudmoor/pkg/stores"
)

func newActionCommand() *cobra.Command {
	var argPairs []string

	cmd := &cobra.Command{
		Use:   "action <kind> <name> <action>",
		Short: "Invoke a named action on a managed entity",
		Long: `Invoke a vendor-side action that is neither create, update, nor
delete, such as a cache invalidation or a database reboot. Actions never
change the entity's stored identity.`,
		Example: `  # Invalidate CDN paths
  moor action cdn frontend create-invalidation --arg paths=/index.html

  # Reboot a database (the integration requires confirm=true)
  moor action database orders reboot --arg confirm=true`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			kind, name, actionName := args[0], args[1], args[2]

			actionArgs, err := parseActionArgs(argPairs)
			if err != nil {
				return err
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

			res, err := d.reconcileEntity(ctx, ent, reconcile.OpAction, actionName, actionArgs)
			if err != nil {
				return err
			}

			if len(res.Output) > 0 {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(res.Output)
			}
			fmt.Printf("Action %s completed on %s/%s\n", actionName, kind, name)
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&argPairs, "arg", nil, "action argument as key=value (repeatable)")

	return cmd
}

// parseActionArgs converts key=value pairs, mapping the literals true and
// false to booleans so confirmation flags work naturally.
func parseActionArgs(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	args := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid action argument %q, want key=value", p)
		}
		switch v {
		case "true":
			args[k] = true
		case "false":
			args[k] = false
		default:
			args[k] = v
		}
	}
	return args, nil
}
