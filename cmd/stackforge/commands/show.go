package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/stackforge/pkg/config"
)

func newShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <stack>",
		Short: "Show a stack, its resources and outputs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				info, err := rt.engine.ShowStack(ctx, args[0])
				if err != nil {
					return err
				}
				return printStack(cmd.OutOrStdout(), info)
			})
		},
	}
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List stacks",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				stacks, err := rt.engine.ListStacks(ctx)
				if err != nil {
					return err
				}
				return printStackList(cmd.OutOrStdout(), stacks)
			})
		},
	}
}

func newEventsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "events <stack>",
		Short: "List the resource events of a stack",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				events, err := rt.engine.ListEvents(ctx, args[0])
				if err != nil {
					return err
				}
				return printEvents(cmd.OutOrStdout(), events)
			})
		},
	}
}

func newOutputsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "outputs <stack>",
		Short: "Resolve the outputs of a stack",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				outputs, err := rt.engine.StackOutputs(ctx, args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), outputs)
				}
				printOutputs(cmd.OutOrStdout(), outputs)
				return nil
			})
		},
	}
}

func newTemplateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "template <stack>",
		Short: "Print the template a stack was last created or updated with",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				tmpl, err := rt.engine.StackTemplate(ctx, args[0])
				if err != nil {
					return err
				}
				text, err := config.FormatTemplate(tmpl)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), text)
				return nil
			})
		},
	}
}
