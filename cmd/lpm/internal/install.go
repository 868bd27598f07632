package internal

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/goplus/lpm/internal/archive"
	"github.com/goplus/lpm/internal/build"
	"github.com/goplus/lpm/internal/ctxlog"
	"github.com/goplus/lpm/internal/env"
	"github.com/goplus/lpm/internal/fetch"
	"github.com/goplus/lpm/internal/installdb"
	"github.com/goplus/lpm/internal/installer"
	"github.com/goplus/lpm/internal/patchelf"
	"github.com/goplus/lpm/internal/report"
	"github.com/goplus/lpm/internal/scheduler"
	"github.com/goplus/lpm/internal/tracing"
)

var (
	installOutput  string
	installVerbose bool
)

var installCmd = &cobra.Command{
	Use:   "install [name[@range]...]",
	Short: "Build and install packages",
	Long: `Install resolves the named packages and everything they depend on from the
recipe directory, then builds them in dependency order. Without arguments
every recipe is installed.`,
	RunE: runInstall,
}

func init() {
	installCmd.Flags().IntP("jobs", "j", 0, "number of packages built in parallel")
	installCmd.Flags().Bool("reuse", true, "keep packages that are already installed")
	installCmd.Flags().Duration("timeout", 0, "time limit of each build phase")
	installCmd.Flags().StringVarP(&installOutput, "output", "o", "text", "report format: text, json or yaml")
	installCmd.Flags().BoolVarP(&installVerbose, "verbose", "v", false, "stream build tool output")
	rootCmd.AddCommand(installCmd)
}

func runInstall(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := ctxlog.FromContext(ctx)

	format, err := report.ParseFormat(installOutput)
	if err != nil {
		return err
	}
	dir, _, err := recipeDir(ctx)
	if err != nil {
		return err
	}
	dag, err := loadGraph(dir, args)
	if err != nil {
		return err
	}

	tp, err := tracing.NewProvider(ctx, cfg.Tracing.Provider(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer tp.Shutdown(context.WithoutCancel(ctx))

	db, err := installdb.Open(cfg.DB)
	if err != nil {
		return err
	}
	defer db.Close()

	var installOpts []installer.Option
	if installVerbose {
		installOpts = append(installOpts, installer.WithOutput(cmd.ErrOrStderr()))
	}
	exec, err := build.NewExecutor(build.Options{
		Root:         cfg.Root,
		WorkDir:      cfg.WorkDir,
		Fetcher:      fetch.NewTransport(fetch.WithVCS(gitVCS())),
		Verifier:     fetch.SHA256Verifier{},
		Unpacker:     archive.Unpacker{},
		Patcher:      patchelf.Tool{Path: cfg.Patchelf},
		Installer:    installer.New(installOpts...),
		PhaseTimeout: cfg.PhaseTimeout,
		Reuse:        cfg.Reuse,
		OnPhase: func(ctx context.Context, node string, phase build.Phase) {
			logger.Debug("phase", "node", node, "phase", phase.String())
			tracing.PhaseHook(ctx, node, phase)
		},
	})
	if err != nil {
		return err
	}

	s := scheduler.New(tracing.WrapExecutor(tp.Tracer(), exec),
		scheduler.WithConcurrency(cfg.Workers),
		scheduler.WithDefaults(env.Merge(environ(os.Environ()), cfg.Environment())),
		scheduler.WithObserver(scheduler.Observers(&recorder{db: db, logger: logger}, tracing.Observer{})),
	)

	start := time.Now()
	runCtx, span := tracing.StartRun(ctx, tp.Tracer(), args)
	res, err := s.Run(runCtx, dag)
	tracing.EndRun(span, res)
	if err != nil {
		return err
	}
	logger.Info("run finished", "run", res.RunID, "nodes", dag.Len(), "elapsed", time.Since(start).Round(time.Millisecond))

	if err := report.Write(cmd.OutOrStdout(), res, format); err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("install: %d failed, %d skipped", res.Count(scheduler.Failed), res.Count(scheduler.Skipped))
	}
	return nil
}

// environ converts "key=value" pairs to a map.
func environ(kvs []string) map[string]string {
	m := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			m[k] = v
		}
	}
	return m
}
