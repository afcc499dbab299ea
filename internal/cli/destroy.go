package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/applyr-io/applyr/internal/engine"
	"github.com/applyr-io/applyr/internal/provider"
)

var destroyAutoApprove bool

var destroyCmd = &cobra.Command{
	Use:   "destroy [path]",
	Short: "Destroy all managed resources",
	Long: `Destroys every resource tracked in state, in reverse dependency
order. This command is the inverse of 'applyr apply'.`,
	RunE: runDestroy,
}

func init() {
	destroyCmd.Flags().BoolVar(&destroyAutoApprove, "auto-approve", false, "Skip interactive approval before destroying")
}

func runDestroy(cmd *cobra.Command, args []string) error {
	wd, _, err := resolveProject(args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	store, err := newStore(ctx, wd)
	if err != nil {
		return err
	}
	registry := provider.NewRegistry()
	eng := engine.New(registry, store)

	unlock, err := lockStore(ctx, store)
	if err != nil {
		return err
	}
	defer unlock()

	records, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("No resources in state. Nothing to destroy.")
		return nil
	}
	if err := loadRecordProviders(registry, records); err != nil {
		return err
	}

	plan, err := eng.PlanDestroy(ctx)
	if err != nil {
		return fmt.Errorf("plan generation failed: %w", err)
	}

	fmt.Println("Applyr will destroy the following resources:")
	renderPlan(plan)
	renderPlanSummary(plan)

	if !destroyAutoApprove {
		if !confirm("Do you really want to destroy all resources?") {
			fmt.Println("Destroy cancelled.")
			return nil
		}
	}

	fmt.Printf("\nDestroying %d resources...\n", len(plan.Operations))

	result, applyErr := eng.Apply(ctx, plan)
	renderApplyResult(result)
	if applyErr != nil {
		return fmt.Errorf("destroy failed: %w", applyErr)
	}

	fmt.Println("\nDestroy complete! All resources have been deleted.")
	return nil
}
