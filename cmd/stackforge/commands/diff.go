package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/spf13/cobra"

	"github.com/openfroyo/stackforge/pkg/config"
)

func newDiffCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diff <stack> <template>",
		Short: "Show how a template differs from a stack's current one",
		Long: `Compare the template a stack was last created or updated with against
a new template, line by line in canonical form. Nothing is changed.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			desired, err := config.LoadTemplate(args[1])
			if err != nil {
				return err
			}
			desiredText, err := config.FormatTemplate(desired)
			if err != nil {
				return err
			}

			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				current, err := rt.engine.StackTemplate(ctx, args[0])
				if err != nil {
					return err
				}
				currentText, err := config.FormatTemplate(current)
				if err != nil {
					return err
				}

				out, changed := renderDiff(currentText, desiredText)
				if !changed {
					fmt.Fprintln(cmd.OutOrStdout(), "No changes")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}
	return cmd
}

// renderDiff returns a line diff of current and desired with "+ ", "- " and
// "  " prefixes, and whether anything changed.
func renderDiff(current, desired string) (string, bool) {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(current, desired)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var buf strings.Builder
	changed := false
	for _, d := range diffs {
		prefix := "  "
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+ "
			changed = true
		case diffmatchpatch.DiffDelete:
			prefix = "- "
			changed = true
		}
		for _, line := range strings.Split(strings.TrimSuffix(d.Text, "\n"), "\n") {
			buf.WriteString(prefix + line + "\n")
		}
	}
	return buf.String(), changed
}
