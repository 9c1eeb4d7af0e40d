package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloudmoor/cloudmoor/pkg/config"
)

func newValidateCommand() *cobra.Command {
	var checkPolicies bool

	cmd := &cobra.Command{
		Use:   "validate [sources...]",
		Short: "Validate entity sources without touching the vendor",
		Long: `Parse and validate CUE entity sources.

This command checks:
  - CUE syntax validity
  - Entity schema conformance (kind, name, definition)
  - Dependency references and ordering (unknown targets, cycles)
  - Starlark definition hooks
  - Policy compliance for the implied create operations (--policies)`,
		Example: `  # Validate the sources from the host config
  moor validate

  # Validate a directory and run policy checks
  moor validate ./entities --policies`,
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

			if _, err := config.Order(result.Entities); err != nil {
				return err
			}

			if checkPolicies {
				for _, ent := range result.Entities {
					if err := d.gate(ctx, ent, "create", false); err != nil {
						return err
					}
				}
			}

			fmt.Printf("Validated %d entities from %d sources\n",
				len(result.Entities), len(result.SourceFiles))
			for _, ent := range result.Entities {
				fmt.Printf("  %s/%s\n", ent.Kind, ent.Name)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&checkPolicies, "policies", false, "also evaluate policies for the implied creates")

	return cmd
}
