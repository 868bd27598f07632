package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/goplus/lpm/internal/graph"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(New())
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"Workers", cfg.Workers, runtime.NumCPU()},
		{"PhaseTimeout", cfg.PhaseTimeout, time.Duration(0)},
		{"Platform", cfg.Platform, runtime.GOOS},
		{"PlatformPolicy", cfg.PlatformPolicy, "skip"},
		{"Recipes", cfg.Recipes, "recipes"},
		{"Patchelf", cfg.Patchelf, "patchelf"},
		{"Git", cfg.Git, "git"},
		{"Reuse", cfg.Reuse, true},
		{"Log.Level", cfg.Log.Level, "info"},
		{"Log.Format", cfg.Log.Format, "text"},
		{"Tracing.Exporter", cfg.Tracing.Exporter, "none"},
		{"Tracing.ServiceName", cfg.Tracing.ServiceName, "lpm"},
		{"RootBase", filepath.Base(cfg.Root), "installs"},
		{"DBBase", filepath.Base(cfg.DB), "installs.db"},
		{"RecipesRepo", cfg.RecipesRepo, ""},
		{"RecipesCacheBase", filepath.Base(cfg.RecipesCache), "recipes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
			}
		})
	}
	if cfg.Policy() != graph.PlatformSkip {
		t.Errorf("Policy() = %v", cfg.Policy())
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	tests := []struct {
		envKey string
		envVal string
		field  func(*Config) any
		want   any
	}{
		{"LPM_ROOT", "/opt/lpm", func(c *Config) any { return c.Root }, "/opt/lpm"},
		{"LPM_WORKERS", "8", func(c *Config) any { return c.Workers }, 8},
		{"LPM_RECIPES_REPO", "https://example.com/recipes.git", func(c *Config) any { return c.RecipesRepo }, "https://example.com/recipes.git"},
		{"LPM_GIT", "/opt/git/bin/git", func(c *Config) any { return c.Git }, "/opt/git/bin/git"},
		{"LPM_RECIPES_REF", "v2", func(c *Config) any { return c.RecipesRef }, "v2"},
		{"LPM_PHASE_TIMEOUT", "90s", func(c *Config) any { return c.PhaseTimeout }, 90 * time.Second},
		{"LPM_PLATFORM_POLICY", "error", func(c *Config) any { return c.PlatformPolicy }, "error"},
		{"LPM_REUSE", "false", func(c *Config) any { return c.Reuse }, false},
		{"LPM_LOG_LEVEL", "debug", func(c *Config) any { return c.Log.Level }, "debug"},
		{"LPM_TRACING_EXPORTER", "stdout", func(c *Config) any { return c.Tracing.Exporter }, "stdout"},
	}
	for _, tt := range tests {
		t.Run(tt.envKey, func(t *testing.T) {
			t.Setenv(tt.envKey, tt.envVal)
			cfg, err := Load(New())
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if got := tt.field(cfg); got != tt.want {
				t.Errorf("%s = %v, want %v", tt.envKey, got, tt.want)
			}
		})
	}
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lpm.yaml")
	data := `
root: /srv/lpm
workers: 3
phase_timeout: 2m
platform: linux
recipes: /srv/recipes
env:
  - CC=gcc-13
  - CXX=g++-13
  - CFLAGS=-O2 -g
log:
  format: json
tracing:
  exporter: otlp
  endpoint: collector:4317
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	v := New()
	if err := ReadFile(v, path); err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Root != "/srv/lpm" || cfg.Workers != 3 || cfg.PhaseTimeout != 2*time.Minute {
		t.Errorf("cfg = %+v", cfg)
	}
	if e := cfg.Environment(); e["CC"] != "gcc-13" || e["CXX"] != "g++-13" || e["CFLAGS"] != "-O2 -g" {
		t.Errorf("Environment() = %v", e)
	}
	if cfg.Log.Format != "json" || cfg.Log.Level != "info" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	p := cfg.Tracing.Provider()
	if p.Exporter != "otlp" || p.Endpoint != "collector:4317" || p.ServiceName != "lpm" {
		t.Errorf("Tracing = %+v", p)
	}
}

func TestReadFile_Missing(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	if err := ReadFile(New(), ""); err != nil {
		t.Errorf("ReadFile without a config file: %v", err)
	}
	if err := ReadFile(New(), filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("ReadFile of an explicit missing file succeeded")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"root", func(c *Config) { c.Root = "" }, "root"},
		{"workers", func(c *Config) { c.Workers = 0 }, "workers"},
		{"timeout", func(c *Config) { c.PhaseTimeout = -time.Second }, "phase_timeout"},
		{"policy", func(c *Config) { c.PlatformPolicy = "ignore" }, "ignore"},
		{"level", func(c *Config) { c.Log.Level = "loud" }, "loud"},
		{"format", func(c *Config) { c.Log.Format = "xml" }, "xml"},
		{"exporter", func(c *Config) { c.Tracing.Exporter = "zipkin" }, "zipkin"},
		{"env", func(c *Config) { c.Env = []string{"=x"} }, "KEY=VALUE"},
		{"sample rate", func(c *Config) { c.Tracing.SampleRate = 2 }, "sample_rate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(New())
			if err != nil {
				t.Fatal(err)
			}
			tt.mutate(cfg)
			err = cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error mentioning %q", err, tt.want)
			}
		})
	}
}
