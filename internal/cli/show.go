package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var showJSON bool

var showCmd = &cobra.Command{
	Use:   "show [path]",
	Short: "Show the current state",
	Long:  `Displays a human-readable view of the resources tracked in state.`,
	RunE:  runShow,
}

func init() {
	showCmd.Flags().BoolVar(&showJSON, "json", false, "Output in JSON format")
}

func runShow(cmd *cobra.Command, args []string) error {
	wd, _, err := resolveProject(args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	store, err := newStore(ctx, wd)
	if err != nil {
		return err
	}

	records, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	if showJSON {
		data, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal state: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("Resources: %d\n\n", len(records))
	for _, rec := range records {
		fmt.Printf("# %s\n", rec.Address())
		fmt.Printf("  provider = %s\n", rec.Provider)
		fmt.Printf("  id       = %s\n", rec.ID)
		if !rec.AppliedAt.IsZero() {
			fmt.Printf("  applied  = %s\n", rec.AppliedAt.Format("2006-01-02 15:04:05 MST"))
		}
		for k, v := range rec.Outputs {
			fmt.Printf("  %s = %v\n", k, v)
		}
		fmt.Println()
	}

	return nil
}
