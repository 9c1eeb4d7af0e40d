package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cloudmoor/cloudmoor/pkg/policy"
)

func newPolicyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and test the loaded policies",
	}

	cmd.AddCommand(newPolicyListCommand())
	cmd.AddCommand(newPolicyTestCommand())

	return cmd
}

func newPolicyListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the loaded policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			d, err := newDriver(ctx)
			if err != nil {
				return err
			}
			defer d.Close(ctx)

			policies := d.policies.List()

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(policies)
			}

			if len(policies) == 0 {
				fmt.Println("No policies loaded")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSEVERITY\tENABLED\tTAGS\tDESCRIPTION")
			for _, p := range policies {
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n",
					p.Name, p.Severity, p.Enabled,
					strings.Join(p.Tags, ","), p.Description)
			}
			return w.Flush()
		},
	}
}

func newPolicyTestCommand() *cobra.Command {
	var (
		op       string
		existing bool
		defPairs []string
	)

	cmd := &cobra.Command{
		Use:   "test <kind> <name>",
		Short: "Evaluate the loaded policies against a synthetic operation",
		Long: `Evaluate the loaded policies against a synthetic operation without
calling the vendor. Useful for checking what a policy would block
before applying entities for real.`,
		Example: `  # Would deleting the photos bucket be allowed?
  moor policy test bucket photos --op delete

  # Test a create with definition fields
  moor policy test database orders --op create --def tier=starter`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			d, err := newDriver(ctx)
			if err != nil {
				return err
			}
			defer d.Close(ctx)

			definition, err := parseActionArgs(defPairs)
			if err != nil {
				return err
			}

			result, err := d.policies.Evaluate(ctx, policy.Input{
				Kind:       args[0],
				Name:       args[1],
				Op:         op,
				Existing:   existing,
				Definition: definition,
			})
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}

			if result.Allowed {
				fmt.Printf("%s %s/%s: allowed", op, args[0], args[1])
				if len(result.Warnings) > 0 {
					fmt.Printf(" (%d warnings)", len(result.Warnings))
				}
				fmt.Println()
			} else {
				fmt.Printf("%s %s/%s: blocked\n", op, args[0], args[1])
			}
			for _, v := range append(result.Violations, result.Warnings...) {
				fmt.Printf("  [%s] %s: %s\n", v.Severity, v.Policy, v.Message)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&op, "op", "create", "operation to test (create, update, delete, or an action name)")
	cmd.Flags().BoolVar(&existing, "existing", false, "treat the resource as adopted")
	cmd.Flags().StringArrayVar(&defPairs, "def", nil, "definition field as key=value (repeatable)")

	return cmd
}
