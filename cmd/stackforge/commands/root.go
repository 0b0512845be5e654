package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	envFile    string
	jsonOutput bool

	// appVersion is reported to other engines and in telemetry.
	appVersion = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	appVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stackforge",
		Short: "Stackforge - declarative stack orchestration engine",
		Long: `Stackforge creates, updates and deletes stacks of resources described
by a declarative template.

Resources are ordered by the dependencies implied by Ref, Fn::GetAtt and
DependsOn. Independent resources progress concurrently, failed creates and
updates roll back, and a per-stack lock keeps engines from acting on the
same stack at once.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file with STACKFORGE_ overrides (default .env if present)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newCreateCommand())
	rootCmd.AddCommand(newUpdateCommand())
	rootCmd.AddCommand(newDiffCommand())
	rootCmd.AddCommand(newDeleteCommand())
	rootCmd.AddCommand(newSuspendCommand())
	rootCmd.AddCommand(newResumeCommand())
	rootCmd.AddCommand(newRestartCommand())
	rootCmd.AddCommand(newShowCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newEventsCommand())
	rootCmd.AddCommand(newOutputsCommand())
	rootCmd.AddCommand(newTemplateCommand())
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newWatchCommand())

	return rootCmd
}
