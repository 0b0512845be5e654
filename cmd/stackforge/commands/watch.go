package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/openfroyo/stackforge/pkg/config"
	"github.com/openfroyo/stackforge/pkg/engine"
	"github.com/openfroyo/stackforge/pkg/service"
)

func newWatchCommand() *cobra.Command {
	var (
		params   []string
		debounce time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch <stack> <template>",
		Short: "Keep a stack converged on a template file",
		Long: `Watch a template file and update the stack every time the file changes.
The stack is created first if it does not exist. Invalid templates are
reported and skipped until the next change.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseParameters(params)
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				w := &templateWatcher{
					rt:       rt,
					stack:    args[0],
					path:     args[1],
					params:   values,
					debounce: debounce,
				}
				return w.run(ctx)
			})
		},
	}

	cmd.Flags().StringArrayVarP(&params, "parameter", "P", nil, "parameter value as key=value (repeatable)")
	cmd.Flags().DurationVar(&debounce, "debounce", 500*time.Millisecond, "quiet period before a change is applied")

	return cmd
}

// templateWatcher applies a template file to a stack whenever it changes.
type templateWatcher struct {
	rt       *runtime
	stack    string
	path     string
	params   map[string]string
	debounce time.Duration
}

func (w *templateWatcher) run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Editors often replace the file, so watch the directory.
	abs, err := filepath.Abs(w.path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}

	w.apply(ctx)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs || !event.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.rt.logger.Warn().Err(err).Msg("Watcher error")
		case <-timer.C:
			w.apply(ctx)
		}
	}
}

// apply creates or updates the stack from the current file contents.
// Failures are logged; the watcher keeps going.
func (w *templateWatcher) apply(ctx context.Context) {
	logger := w.rt.logger.With().Str("stack", w.stack).Str("path", w.path).Logger()

	tmpl, err := config.LoadTemplate(w.path)
	if err != nil {
		logger.Error().Err(err).Msg("Template rejected")
		return
	}

	var info *service.StackInfo
	info, err = w.rt.engine.UpdateStack(ctx, w.stack, service.UpdateRequest{Template: tmpl, Parameters: w.params})
	if engine.IsNotFound(err) {
		info, err = w.rt.engine.CreateStack(ctx, service.CreateRequest{Name: w.stack, Template: tmpl, Parameters: w.params})
	}
	if err != nil {
		logger.Error().Err(err).Msg("Stack operation failed")
	}
	if info != nil {
		logger.Info().Str("status", info.State()).Str("reason", info.StatusReason).Msg("Stack converged")
	}
}
