package internal

import (
	"context"
	"log"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/goplus/lpm/internal/config"
	"github.com/goplus/lpm/internal/ctxlog"
)

var rootCmd = &cobra.Command{
	Use:   "lpm",
	Short: "lpm builds and installs packages from recipes",
	Long: `lpm reads package recipes, resolves them into a dependency graph and builds
every package in dependency order, each into its own install root.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// cfg is the configuration of the running command.
var cfg *config.Config

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"recipes":      "recipes",
	"recipes-repo": "recipes_repo",
	"recipes-ref":  "recipes_ref",
	"root":         "root",
	"log-level":    "log.level",
	"log-format":   "log.format",
	"platform":     "platform",
	"jobs":         "workers",
	"reuse":        "reuse",
	"timeout":      "phase_timeout",
	"db":           "db",
	"git":          "git",
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default .lpm.yaml)")
	flags.String("recipes", "", "recipe directory")
	flags.String("recipes-repo", "", "git repository to load recipes from instead")
	flags.String("recipes-ref", "", "branch, tag or commit of --recipes-repo")
	flags.String("root", "", "parent directory of install roots")
	flags.String("db", "", "install database")
	flags.String("git", "", "git executable")
	flags.String("platform", "", "target platform")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.String("log-format", "", "log format: text or json")
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		log.Fatal(err)
	}
}

func loadConfig(cmd *cobra.Command, args []string) error {
	v := config.New()
	path, _ := cmd.Flags().GetString("config")
	if err := config.ReadFile(v, path); err != nil {
		return err
	}
	if err := bindFlags(v, cmd); err != nil {
		return err
	}
	c, err := config.Load(v)
	if err != nil {
		return err
	}
	cfg = c

	logger := ctxlog.New(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
	cmd.SetContext(ctxlog.WithLogger(cmd.Context(), logger))
	return nil
}

// bindFlags binds the flags the user set on cmd over the configuration.
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for name, key := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return err
		}
	}
	return nil
}
