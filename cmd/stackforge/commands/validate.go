package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/stackforge/pkg/config"
)

func newValidateCommand() *cobra.Command {
	var params []string

	cmd := &cobra.Command{
		Use:   "validate <template>",
		Short: "Validate a template",
		Long: `Validate a template without creating anything.

This command checks:
  - Template syntax and sections
  - Parameter values against their constraints
  - Resource types and property schemas
  - References and dependency cycles`,
		Example: `  # Validate a template with its default parameters
  stackforge validate web.yaml

  # Validate with parameter values
  stackforge validate web.yaml -P Flavor=m1.small`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseParameters(params)
			if err != nil {
				return err
			}
			tmpl, err := config.LoadTemplate(args[0])
			if err != nil {
				return err
			}

			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				log.Debug().Str("path", args[0]).Msg("Validating template")

				summary, err := rt.engine.ValidateTemplate(ctx, tmpl, values)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), summary)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Template is valid: %d resources, %d parameters\n",
					len(summary.Resources), len(summary.Parameters))
				return nil
			})
		},
	}

	cmd.Flags().StringArrayVarP(&params, "parameter", "P", nil, "parameter value as key=value (repeatable)")

	return cmd
}
