package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/applyr-io/applyr/internal/engine"
	"github.com/applyr-io/applyr/internal/eval"
	"github.com/applyr-io/applyr/internal/provider"
)

var (
	applyAutoApprove bool
	applyParallelism int
	applyTimeout     time.Duration
	applyProperties  map[string]string
)

var applyCmd = &cobra.Command{
	Use:   "apply [path]",
	Short: "Apply a configuration",
	Long:  `Creates, updates or deletes resources to match the configuration.`,
	RunE:  runApply,
}

func init() {
	applyCmd.Flags().BoolVar(&applyAutoApprove, "auto-approve", false, "Skip interactive approval of plan before applying")
	applyCmd.Flags().IntVar(&applyParallelism, "parallelism", 0, "Maximum number of concurrent operations (0 uses the default)")
	applyCmd.Flags().DurationVar(&applyTimeout, "timeout", 0, "Per-operation timeout (0 uses the default)")
	applyCmd.Flags().StringToStringVarP(&applyProperties, "prop", "D", nil, "Set external properties (format: key=value)")
}

func runApply(cmd *cobra.Command, args []string) error {
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
	registry := provider.NewRegistry()
	eng := engine.New(registry, store)
	eng.Parallelism = applyParallelism
	eng.OperationTimeout = applyTimeout

	unlock, err := lockStore(ctx, store)
	if err != nil {
		return err
	}
	defer unlock()

	fmt.Print("Loading configuration... ")
	cfg, err := evaluator.LoadConfig(ctx, entryPoint, applyProperties)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("failed to load config: %w", err)
	}
	fmt.Println("OK")

	if err := loadConfigProviders(registry, cfg); err != nil {
		return err
	}

	// Providers for resources only present in state are still needed to
	// delete them.
	records, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}
	if err := loadRecordProviders(registry, records); err != nil {
		return err
	}

	fmt.Print("Calculating plan... ")
	plan, err := eng.Plan(ctx, cfg)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("plan generation failed: %w", err)
	}
	fmt.Println("OK")

	changes := plan.Changes()
	if len(changes) == 0 {
		fmt.Println("No changes. Resources are up-to-date.")
		return nil
	}

	fmt.Println("\nApplyr will perform the following actions:")
	renderPlan(plan)
	renderPlanSummary(plan)

	if !applyAutoApprove {
		if !confirm("Do you want to perform these actions?") {
			fmt.Println("Apply cancelled.")
			return nil
		}
	}

	fmt.Printf("\nApplying %d changes...\n", len(changes))

	result, applyErr := eng.Apply(ctx, plan)
	renderApplyResult(result)
	if applyErr != nil {
		return fmt.Errorf("apply failed: %w", applyErr)
	}

	fmt.Printf("\nApply complete! Resources: %d added, %d changed, %d destroyed.\n",
		plan.Summary.Create, plan.Summary.Update, plan.Summary.Delete)
	return nil
}
