package internal

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/goplus/lpm/internal/graph"
	"github.com/goplus/lpm/mod/module"
	"github.com/goplus/lpm/mod/versions"
)

var (
	planOutput string
	planCheck  string
)

var planCmd = &cobra.Command{
	Use:   "plan [name[@range]...]",
	Short: "Print the build order",
	Long: `Plan resolves packages like install does and prints them in the order they
would be built. With -o json it prints a plan file instead; --check compares
the current resolution against a plan file written earlier and fails if it
has drifted.`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVarP(&planOutput, "output", "o", "text", "output format: text or json")
	planCmd.Flags().StringVar(&planCheck, "check", "", "fail if the plan differs from this plan file")
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	dir, source, err := recipeDir(cmd.Context())
	if err != nil {
		return err
	}
	dag, err := loadGraph(dir, args)
	if err != nil {
		return err
	}
	if planCheck != "" {
		want, err := versions.Parse(planCheck, nil)
		if err != nil {
			return err
		}
		if err := versions.Check(want, planFile(source, dag)); err != nil {
			return err
		}
	}
	switch planOutput {
	case "text":
		return writePlan(cmd.OutOrStdout(), dag)
	case "json":
		return planFile(source, dag).Write(cmd.OutOrStdout())
	}
	return fmt.Errorf("unknown plan format %q", planOutput)
}

// writePlan prints one node per line in topological order, followed by
// the nodes it depends on.
func writePlan(w io.Writer, dag *graph.DAG) error {
	for _, n := range dag.TopologicalOrder() {
		line := n.ID
		if deps := n.Deps(); len(deps) > 0 {
			ids := make([]string, len(deps))
			for i, e := range deps {
				ids[i] = e.To.ID
			}
			line += " <- " + strings.Join(ids, ", ")
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

// planFile records every node of dag and the nodes it depends on.
func planFile(source string, dag *graph.DAG) *versions.Versions {
	v := &versions.Versions{Path: source}
	for _, n := range dag.Nodes() {
		deps := make([]module.Version, 0, len(n.Deps()))
		for _, e := range n.Deps() {
			deps = append(deps, e.To.Spec.Module())
		}
		v.Add(n.ID, deps...)
	}
	return v
}
