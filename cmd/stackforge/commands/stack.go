package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/stackforge/pkg/config"
	"github.com/openfroyo/stackforge/pkg/service"
)

func newCreateCommand() *cobra.Command {
	var (
		params          []string
		timeout         time.Duration
		disableRollback bool
	)

	cmd := &cobra.Command{
		Use:   "create <name> <template>",
		Short: "Create a stack",
		Long: `Create a stack from a template and wait for it to finish.

Resources are created in dependency order. If any resource fails, the
stack rolls back and every resource created so far is deleted, unless
rollback is disabled.`,
		Example: `  # Create a stack
  stackforge create web web.yaml -P Greeting=hi

  # Keep failed resources for inspection
  stackforge create web web.yaml --disable-rollback`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseParameters(params)
			if err != nil {
				return err
			}
			tmpl, err := config.LoadTemplate(args[1])
			if err != nil {
				return err
			}

			req := service.CreateRequest{Name: args[0], Template: tmpl, Parameters: values}
			if cmd.Flags().Changed("timeout") {
				req.Timeout = &timeout
			}
			if cmd.Flags().Changed("disable-rollback") {
				req.DisableRollback = &disableRollback
			}

			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				info, err := rt.engine.CreateStack(ctx, req)
				return report(cmd, info, err)
			})
		},
	}

	cmd.Flags().StringArrayVarP(&params, "parameter", "P", nil, "parameter value as key=value (repeatable)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "stack timeout (default from settings)")
	cmd.Flags().BoolVar(&disableRollback, "disable-rollback", false, "keep resources when the create fails")

	return cmd
}

func newUpdateCommand() *cobra.Command {
	var (
		params []string
		reuse  bool
	)

	cmd := &cobra.Command{
		Use:   "update <stack> [template]",
		Short: "Update a stack",
		Long: `Update a stack to a new template and parameters.

Unchanged resources are left alone, changed resources are updated in
place when their type allows it and replaced otherwise, new resources are
created and removed ones deleted. Without a template the current one is
kept, so only the parameters change.`,
		Example: `  # Apply a new template
  stackforge update web web.yaml

  # Change one parameter and keep the others
  stackforge update web --reuse-parameters -P Greeting=hey`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseParameters(params)
			if err != nil {
				return err
			}
			req := service.UpdateRequest{Parameters: values, ReuseParameters: reuse}
			if len(args) > 1 {
				if req.Template, err = config.LoadTemplate(args[1]); err != nil {
					return err
				}
			}

			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				info, err := rt.engine.UpdateStack(ctx, args[0], req)
				return report(cmd, info, err)
			})
		},
	}

	cmd.Flags().StringArrayVarP(&params, "parameter", "P", nil, "parameter value as key=value (repeatable)")
	cmd.Flags().BoolVar(&reuse, "reuse-parameters", false, "start from the stored parameter values")

	return cmd
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <stack>",
		Aliases: []string{"rm"},
		Short:   "Delete a stack and its resources",
		Long: `Delete every resource of a stack in reverse dependency order, then the
stack itself. Resources with a Retain deletion policy are left in place.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				info, err := rt.engine.DeleteStack(ctx, args[0])
				return report(cmd, info, err)
			})
		},
	}
}

func newSuspendCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "suspend <stack>",
		Short: "Suspend every resource of a stack",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				info, err := rt.engine.SuspendStack(ctx, args[0])
				return report(cmd, info, err)
			})
		},
	}
}

func newResumeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <stack>",
		Short: "Resume a suspended stack",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				info, err := rt.engine.ResumeStack(ctx, args[0])
				return report(cmd, info, err)
			})
		},
	}
}

func newRestartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "restart <stack> <resource>",
		Short: "Recreate a resource and everything that depends on it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				info, err := rt.engine.RestartResource(ctx, args[0], args[1])
				return report(cmd, info, err)
			})
		},
	}
}

// report prints the stack state even when the operation failed, then
// returns the error.
func report(cmd *cobra.Command, info *service.StackInfo, err error) error {
	if printErr := printStack(cmd.OutOrStdout(), info); printErr != nil && err == nil {
		err = printErr
	}
	return err
}
