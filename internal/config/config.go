// Package config loads lpm's runtime configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/goplus/lpm/internal/ctxlog"
	"github.com/goplus/lpm/internal/env"
	"github.com/goplus/lpm/internal/graph"
	"github.com/goplus/lpm/internal/tracing"
)

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	Exporter    string  `mapstructure:"exporter"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	ServiceName string  `mapstructure:"service_name"`
}

// Provider returns the tracing provider configuration.
func (c TracingConfig) Provider() tracing.Config {
	return tracing.Config{
		Exporter:    c.Exporter,
		Endpoint:    c.Endpoint,
		SampleRate:  c.SampleRate,
		ServiceName: c.ServiceName,
	}
}

// Config holds all runtime configuration. Values are populated from
// .lpm.yaml, LPM_* env vars, and CLI flags.
type Config struct {
	Root           string        `mapstructure:"root"`
	WorkDir        string        `mapstructure:"work_dir"`
	DB             string        `mapstructure:"db"`
	Workers        int           `mapstructure:"workers"`
	PhaseTimeout   time.Duration `mapstructure:"phase_timeout"`
	Platform       string        `mapstructure:"platform"`
	PlatformPolicy string        `mapstructure:"platform_policy"`
	Recipes        string        `mapstructure:"recipes"`
	RecipesRepo    string        `mapstructure:"recipes_repo"` // git remote; overrides Recipes when set
	RecipesRef     string        `mapstructure:"recipes_ref"`
	RecipesCache   string        `mapstructure:"recipes_cache"`
	Patchelf       string        `mapstructure:"patchelf"`
	Git            string        `mapstructure:"git"`
	Reuse          bool          `mapstructure:"reuse"`
	Env            []string      `mapstructure:"env"` // KEY=VALUE; a list keeps key case
	Log            LogConfig     `mapstructure:"log"`
	Tracing        TracingConfig `mapstructure:"tracing"`
}

// Policy returns the parsed platform policy of a validated Config.
func (c *Config) Policy() graph.PlatformPolicy {
	p, _ := graph.ParsePlatformPolicy(c.PlatformPolicy)
	return p
}

// New returns a viper instance with lpm's defaults and LPM_* environment
// bindings.
func New() *viper.Viper {
	v := viper.New()
	base, err := env.WorkDir()
	if err != nil {
		base = filepath.Join(os.TempDir(), ".lpm")
	}
	v.SetDefault("root", filepath.Join(base, "installs"))
	v.SetDefault("work_dir", filepath.Join(base, "stage"))
	v.SetDefault("db", filepath.Join(base, "installs.db"))
	v.SetDefault("workers", runtime.NumCPU())
	v.SetDefault("phase_timeout", time.Duration(0))
	v.SetDefault("platform", runtime.GOOS)
	v.SetDefault("platform_policy", graph.PlatformSkip.String())
	v.SetDefault("recipes", "recipes")
	v.SetDefault("recipes_repo", "")
	v.SetDefault("recipes_ref", "")
	v.SetDefault("recipes_cache", filepath.Join(base, "recipes"))
	v.SetDefault("patchelf", "patchelf")
	v.SetDefault("git", "git")
	v.SetDefault("reuse", true)
	v.SetDefault("env", []string{})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("tracing.exporter", tracing.ExporterNone)
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.service_name", "lpm")

	v.SetEnvPrefix("LPM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// ReadFile reads path, or .lpm.yaml from the current directory and then
// the home directory when path is empty. A missing default file is not
// an error.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		return v.ReadInConfig()
	}
	v.SetConfigName(".lpm")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
	}
	err := v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return nil
	}
	return err
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Environment returns the default build environment as a map. Later
// entries override earlier ones.
func (c *Config) Environment() map[string]string {
	m := make(map[string]string, len(c.Env))
	for _, kv := range c.Env {
		k, v, _ := strings.Cut(kv, "=")
		m[k] = v
	}
	return m
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Root == "":
		return errors.New("config: root is empty")
	case c.Workers < 1:
		return fmt.Errorf("config: workers must be at least 1, got %d", c.Workers)
	case c.PhaseTimeout < 0:
		return fmt.Errorf("config: negative phase_timeout %s", c.PhaseTimeout)
	case c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1:
		return fmt.Errorf("config: tracing.sample_rate %v not in [0, 1]", c.Tracing.SampleRate)
	}
	for _, kv := range c.Env {
		if k, _, ok := strings.Cut(kv, "="); !ok || k == "" {
			return fmt.Errorf("config: env entry %q is not KEY=VALUE", kv)
		}
	}
	if _, err := graph.ParsePlatformPolicy(c.PlatformPolicy); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := ctxlog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	switch c.Tracing.Exporter {
	case "", tracing.ExporterNone, tracing.ExporterStdout, tracing.ExporterOTLP:
	default:
		return fmt.Errorf("config: unknown tracing exporter %q", c.Tracing.Exporter)
	}
	return nil
}
