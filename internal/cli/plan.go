package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/applyr-io/applyr/internal/engine"
	"github.com/applyr-io/applyr/internal/eval"
	"github.com/applyr-io/applyr/internal/provider"
)

var (
	planOutFile    string
	planProperties map[string]string
)

var planCmd = &cobra.Command{
	Use:   "plan [path]",
	Short: "Generate an execution plan",
	Long: `Generates an execution plan showing what actions applyr will take
to reach the desired state defined in your configuration.

The plan shows:
  • Resources to be created
  • Resources to be updated (with diff)
  • Resources to be deleted`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVarP(&planOutFile, "out", "o", "", "Write plan to file as JSON")
	planCmd.Flags().StringToStringVarP(&planProperties, "prop", "D", nil, "Set external properties (format: key=value)")
}

func runPlan(cmd *cobra.Command, args []string) error {
	wd, entryPoint, err := resolveProject(args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	evaluator := eval.NewEvaluator(wd)
	store, err := newStore(ctx, wd)
	if err != nil {
		return err
	}
	eng := engine.New(provider.NewRegistry(), store)

	fmt.Print("Loading configuration... ")
	cfg, err := evaluator.LoadConfig(ctx, entryPoint, planProperties)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("failed to load config: %w", err)
	}
	fmt.Println("OK")

	fmt.Print("Calculating plan... ")
	plan, err := eng.Plan(ctx, cfg)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("plan generation failed: %w", err)
	}
	fmt.Println("OK")

	renderPlanSummary(plan)

	if len(plan.Changes()) > 0 {
		fmt.Println("\nApplyr will perform the following actions:")
		renderPlan(plan)
	} else {
		fmt.Println("\nNo changes. Resources are up-to-date.")
	}

	if planOutFile != "" {
		data, err := json.MarshalIndent(plan, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal plan: %w", err)
		}
		if err := os.WriteFile(planOutFile, data, 0o644); err != nil {
			return fmt.Errorf("failed to write plan file: %w", err)
		}
		fmt.Printf("\nPlan written to %s\n", planOutFile)
	}

	return nil
}
