package internal

import (
	"bytes"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/goplus/lpm/internal/report"
	"github.com/goplus/lpm/mod/versions"
)

func TestParseModuleArg(t *testing.T) {
	tests := []struct {
		arg         string
		wantName    string
		wantVersion string
	}{
		{"intel-oneapi-mpi@2021.1.1", "intel-oneapi-mpi", "2021.1.1"},
		{"mpi@:3", "mpi", ":3"},
		{"zlib@1.2:", "zlib", "1.2:"},
		{"patchelf", "patchelf", ""},
		{"multiple@at@signs", "multiple@at", "signs"},
	}

	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			name, version := parseModuleArg(tt.arg)
			if name != tt.wantName {
				t.Errorf("parseModuleArg(%q) name = %q, want %q", tt.arg, name, tt.wantName)
			}
			if version != tt.wantVersion {
				t.Errorf("parseModuleArg(%q) version = %q, want %q", tt.arg, version, tt.wantVersion)
			}
		})
	}
}

const baseRecipe = `
name = "base"

[[versions]]
version = "1"

[exports]
BASE_ROOT = "${prefix}"
`

const appRecipe = `
name = "app"

[[versions]]
version = "1"

[[depends]]
spec = "base"

[install]
system = "script"
command = ["sh", "-c", "echo $BASE_ROOT > ${prefix}/base-root"]
`

const brokenRecipe = `
name = "broken"

[[versions]]
version = "1"

[[depends]]
spec = "base"

[install]
system = "script"
command = ["sh", "-c", "echo out of disk >&2; exit 3"]
`

type workspace struct {
	recipes string
	root    string
}

func newWorkspace(t *testing.T, recipes map[string]string) *workspace {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("recipes run shell scripts")
	}
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	w := &workspace{recipes: filepath.Join(dir, "recipes"), root: filepath.Join(dir, "installs")}
	t.Setenv("LPM_ROOT", w.root)
	t.Setenv("LPM_WORK_DIR", filepath.Join(dir, "stage"))
	t.Setenv("LPM_DB", filepath.Join(dir, "installs.db"))

	if err := os.MkdirAll(w.recipes, 0o755); err != nil {
		t.Fatal(err)
	}
	for name, data := range recipes {
		if err := os.WriteFile(filepath.Join(w.recipes, name), []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return w
}

func (w *workspace) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	planOutput, planCheck = "text", ""
	rootCmd.SetArgs(append(args, "--recipes", w.recipes))
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	err := rootCmd.Execute()
	if err != nil {
		t.Logf("stderr:\n%s", stderr.String())
	}
	return stdout.String(), err
}

func TestPlanCommand(t *testing.T) {
	w := newWorkspace(t, map[string]string{"base.toml": baseRecipe, "app.toml": appRecipe})

	out, err := w.run(t, "plan")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if want := "base@1\napp@1 <- base@1\n"; out != want {
		t.Errorf("plan =\n%s\nwant\n%s", out, want)
	}

	out, err = w.run(t, "plan", "base")
	if err != nil {
		t.Fatalf("plan base: %v", err)
	}
	if out != "base@1\n" {
		t.Errorf("plan base = %q", out)
	}

	if _, err := w.run(t, "plan", "zlib"); err == nil {
		t.Error("plan of an unknown package succeeded")
	}
}

func TestInstallCommand(t *testing.T) {
	w := newWorkspace(t, map[string]string{"base.toml": baseRecipe, "app.toml": appRecipe})

	out, err := w.run(t, "install", "-o", "text", "-j", "2", "app")
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if !strings.Contains(out, "2 installed, 0 failed, 0 skipped") {
		t.Errorf("report:\n%s", out)
	}

	baseRoot := filepath.Join(w.root, "base@1-e3b0c442")
	data, err := os.ReadFile(filepath.Join(w.root, "app@1-e3b0c442", "base-root"))
	if err != nil {
		t.Fatalf("app did not run its script: %v", err)
	}
	if got := strings.TrimSpace(string(data)); got != baseRoot {
		t.Errorf("BASE_ROOT seen by app = %q, want %q", got, baseRoot)
	}

	out, err = w.run(t, "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "app@1 ") || !strings.HasPrefix(lines[1], "base@1 ") {
		t.Errorf("list =\n%s", out)
	}

	out, err = w.run(t, "list", "base")
	if err != nil {
		t.Fatalf("list base: %v", err)
	}
	if !strings.Contains(out, baseRoot) || strings.Contains(out, "app@1") {
		t.Errorf("list base =\n%s", out)
	}
}

func TestInstallFailure(t *testing.T) {
	w := newWorkspace(t, map[string]string{"base.toml": baseRecipe, "broken.toml": brokenRecipe})

	out, err := w.run(t, "install", "-o", "json")
	if err == nil {
		t.Fatal("install with a failing recipe succeeded")
	}
	var s report.Summary
	if err := json.Unmarshal([]byte(out), &s); err != nil {
		t.Fatalf("report is not JSON: %v\n%s", err, out)
	}
	if s.OK || s.Installed != 1 || s.Failed != 1 {
		t.Errorf("summary = %+v", s)
	}
	for _, n := range s.Nodes {
		if n.ID == "broken@1" && !strings.Contains(n.Error, "out of disk") {
			t.Errorf("broken@1 error = %q", n.Error)
		}
	}
}

func TestPlanFile(t *testing.T) {
	w := newWorkspace(t, map[string]string{"base.toml": baseRecipe, "app.toml": appRecipe})

	out, err := w.run(t, "plan", "-o", "json")
	if err != nil {
		t.Fatalf("plan -o json: %v", err)
	}
	plan, err := versions.Parse("", []byte(out))
	if err != nil {
		t.Fatalf("plan file: %v\n%s", err, out)
	}
	if plan.Path != w.recipes {
		t.Errorf("plan path = %q, want %q", plan.Path, w.recipes)
	}
	if deps := plan.Dependencies["app@1"]; len(deps) != 1 || deps[0].String() != "base@1" {
		t.Errorf("app@1 deps = %v", deps)
	}
	file := filepath.Join(t.TempDir(), "plan.json")
	if err := os.WriteFile(file, []byte(out), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := w.run(t, "plan", "--check", file); err != nil {
		t.Errorf("plan --check of an unchanged plan: %v", err)
	}

	if err := os.WriteFile(filepath.Join(w.recipes, "broken.toml"), []byte(brokenRecipe), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err = w.run(t, "plan", "--check", file)
	if err == nil || !strings.Contains(err.Error(), "+broken@1") {
		t.Errorf("plan --check after adding a recipe = %v", err)
	}
}

func TestPlanFromRepo(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	w := newWorkspace(t, nil)
	repo := t.TempDir()
	for name, data := range map[string]string{"base.toml": baseRecipe, "app.toml": appRecipe} {
		if err := os.WriteFile(filepath.Join(repo, name), []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	for _, args := range [][]string{
		{"init", "--quiet"},
		{"add", "."},
		{"commit", "--quiet", "-m", "recipes"},
	} {
		cmd := exec.Command("git", append([]string{"-c", "user.name=lpm", "-c", "user.email=lpm@example.com"}, args...)...)
		cmd.Dir = repo
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %s: %v\n%s", args[0], err, out)
		}
	}
	t.Setenv("LPM_RECIPES_REPO", "file://"+repo)
	t.Setenv("LPM_RECIPES_CACHE", filepath.Join(t.TempDir(), "cache"))

	out, err := w.run(t, "plan")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if want := "base@1\napp@1 <- base@1\n"; out != want {
		t.Errorf("plan =\n%s\nwant\n%s", out, want)
	}

	head, err := exec.Command("git", "-C", repo, "rev-parse", "HEAD").Output()
	if err != nil {
		t.Fatal(err)
	}
	out, err = w.run(t, "plan", "-o", "json")
	if err != nil {
		t.Fatalf("plan -o json: %v", err)
	}
	plan, err := versions.Parse("", []byte(out))
	if err != nil {
		t.Fatalf("plan file: %v\n%s", err, out)
	}
	if want := "file://" + repo + "@" + strings.TrimSpace(string(head)); plan.Path != want {
		t.Errorf("plan path = %q, want %q", plan.Path, want)
	}

	t.Setenv("LPM_GIT", filepath.Join(t.TempDir(), "no-such-git"))
	if _, err := w.run(t, "plan"); err == nil {
		t.Error("plan with a missing git executable succeeded")
	}
}
