package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/applyr-io/applyr/internal/engine"
	"github.com/applyr-io/applyr/internal/eval"
)

var validateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Validate configuration files",
	Long: `Validates the configuration: PKL syntax and types, duplicate
resource declarations, unresolved references and dependency cycles.`,
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	wd, entryPoint, err := resolveProject(args)
	if err != nil {
		return err
	}

	evaluator := eval.NewEvaluator(wd)

	fmt.Printf("Checking %s... ", entryPoint)
	cfg, err := evaluator.LoadConfig(cmd.Context(), entryPoint, nil)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("validation failed: %w", err)
	}

	// Graph construction catches unresolved references and cycles.
	if _, err := engine.BuildGraph(cfg); err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("validation failed: %w", err)
	}
	fmt.Println("OK")

	fmt.Println("\nConfiguration is valid!")
	return nil
}
