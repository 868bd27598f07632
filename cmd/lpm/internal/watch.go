package internal

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/goplus/lpm/internal/ctxlog"
	"github.com/goplus/lpm/internal/watch"
)

var watchDebounce time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch [name[@range]...]",
	Short: "Re-check recipes whenever they change",
	Long: `Watch loads the recipe directory, prints the build plan, and does it again
every time a recipe file changes, reporting recipe and graph errors as
they appear.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 200*time.Millisecond, "quiet period before reloading")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := ctxlog.FromContext(ctx)

	dir, _, err := recipeDir(ctx)
	if err != nil {
		return err
	}
	w, err := watch.New(dir, watchDebounce)
	if err != nil {
		return err
	}
	changes, err := w.Start()
	if err != nil {
		w.Stop()
		return err
	}
	defer w.Stop()

	reload := func() {
		dag, err := loadGraph(dir, args)
		if err != nil {
			logger.Error("recipes invalid", "err", err)
			return
		}
		logger.Info("recipes loaded", "nodes", dag.Len())
		if err := writePlan(cmd.OutOrStdout(), dag); err != nil {
			logger.Error("print plan", "err", err)
		}
	}
	reload()
	for {
		select {
		case <-changes:
			reload()
		case err := <-w.Errors():
			logger.Warn("watch", "err", err)
		case <-ctx.Done():
			return nil
		}
	}
}
