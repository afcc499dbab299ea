package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/applyr-io/applyr/internal/engine"
	"github.com/applyr-io/applyr/internal/eval"
)

var graphCmd = &cobra.Command{
	Use:   "graph [path]",
	Short: "Output the dependency graph in DOT format",
	Long: `Generates a visual representation of the resource dependency graph
in Graphviz DOT format. Pipe the output to 'dot' to generate an image:

  applyr graph | dot -Tpng > graph.png`,
	RunE: runGraph,
}

func runGraph(cmd *cobra.Command, args []string) error {
	wd, entryPoint, err := resolveProject(args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	evaluator := eval.NewEvaluator(wd)
	cfg, err := evaluator.LoadConfig(ctx, entryPoint, nil)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	graph, err := engine.BuildGraph(cfg)
	if err != nil {
		return fmt.Errorf("failed to build graph: %w", err)
	}

	fmt.Println("digraph applyr {")
	fmt.Println("  rankdir = \"BT\";")
	fmt.Println("  node [shape = rect];")
	fmt.Println()

	for _, addr := range graph.Order() {
		fmt.Printf("  %q;\n", addr)
	}
	fmt.Println()

	for _, addr := range graph.Order() {
		for _, dep := range graph.Dependencies(addr) {
			fmt.Printf("  %q -> %q;\n", addr, dep)
		}
	}

	fmt.Println("}")
	return nil
}
