package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/applyr-io/applyr/internal/engine"
	"github.com/applyr-io/applyr/internal/ir"
	"github.com/applyr-io/applyr/internal/provider"
	"github.com/applyr-io/applyr/internal/state"
)

const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
)

// colorize returns the ANSI code, or nothing when colors are disabled.
func colorize(code string) string {
	if noColor {
		return ""
	}
	return code
}

// resolveProject turns an optional path argument into a project directory
// and configuration entry point.
func resolveProject(args []string) (string, string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", "", fmt.Errorf("failed to get working directory: %w", err)
	}
	entryPoint := "main.pkl"

	if len(args) > 0 {
		absPath, err := filepath.Abs(args[0])
		if err != nil {
			return "", "", fmt.Errorf("failed to resolve path %s: %w", args[0], err)
		}
		info, err := os.Stat(absPath)
		if err != nil {
			return "", "", fmt.Errorf("failed to stat path %s: %w", args[0], err)
		}
		if info.IsDir() {
			wd = absPath
		} else {
			wd = filepath.Dir(absPath)
			entryPoint = filepath.Base(absPath)
		}
	}
	return wd, entryPoint, nil
}

// newStore builds the state store from the backend flags. The local
// backend defaults to .applyr/state.json inside the project directory.
func newStore(ctx context.Context, wd string) (state.Store, error) {
	cfg := &state.BackendConfig{
		Type:   backendType,
		Config: make(map[string]string, len(backendConfig)+1),
	}
	for k, v := range backendConfig {
		cfg.Config[k] = v
	}
	if (cfg.Type == "local" || cfg.Type == "") && cfg.Config["path"] == "" {
		dir := filepath.Join(wd, ".applyr")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
		cfg.Config["path"] = filepath.Join(dir, "state.json")
	}
	return state.NewStore(ctx, cfg)
}

// lockStore acquires the backend lock when the store supports one. The
// returned func releases it.
func lockStore(ctx context.Context, store state.Store) (func(), error) {
	locker, ok := store.(state.Locker)
	if !ok {
		return func() {}, nil
	}
	if err := locker.Lock(ctx); err != nil {
		return nil, err
	}
	return func() {
		if err := locker.Unlock(context.WithoutCancel(ctx)); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to release state lock: %v\n", err)
		}
	}, nil
}

// loadConfigProviders loads every provider referenced by config resources.
func loadConfigProviders(registry *provider.Registry, cfg *ir.Config) error {
	seen := make(map[string]bool)
	for _, res := range cfg.Resources {
		if res.Provider != "" && !seen[res.Provider] {
			seen[res.Provider] = true
			if err := registry.Load(res.Provider); err != nil {
				return fmt.Errorf("failed to load provider %s: %w", res.Provider, err)
			}
		}
	}
	return nil
}

// loadRecordProviders loads every provider referenced by state records,
// needed to delete resources whose provider vanished from the config.
func loadRecordProviders(registry *provider.Registry, records []*ir.Record) error {
	seen := make(map[string]bool)
	for _, rec := range records {
		if rec.Provider != "" && !seen[rec.Provider] {
			seen[rec.Provider] = true
			if err := registry.Load(rec.Provider); err != nil {
				return fmt.Errorf("failed to load provider %s: %w", rec.Provider, err)
			}
		}
	}
	return nil
}

// renderPlan prints the detailed change list for a plan.
func renderPlan(plan *ir.Plan) {
	for _, op := range plan.Operations {
		if op.Action == ir.ActionNoOp {
			continue
		}

		symbol := "~"
		color := colorize(colorYellow)
		switch op.Action {
		case ir.ActionCreate:
			symbol = "+"
			color = colorize(colorGreen)
		case ir.ActionDelete:
			symbol = "-"
			color = colorize(colorRed)
		}

		var resourceType, resourceName string
		if op.Desired != nil {
			resourceType = op.Desired.Type
			resourceName = op.Desired.Name
		} else if op.Prior != nil {
			resourceType = op.Prior.Type
			resourceName = op.Prior.Name
		}

		fmt.Printf("\n%s  # %s will be %sd%s\n", color, op.Address, op.Action, colorize(colorReset))
		fmt.Printf("%s  %s resource \"%s\" \"%s\" {\n", color, symbol, resourceType, resourceName)
		renderAttributeDiff(op.Diff)
		fmt.Printf("%s    }%s\n", color, colorize(colorReset))
	}
}

// renderAttributeDiff prints per-attribute changes.
func renderAttributeDiff(diff map[string]*ir.AttributeDiff) {
	for key, d := range diff {
		switch d.Action {
		case ir.ActionCreate:
			fmt.Printf("%s      + %s = %s%s\n", colorize(colorGreen), key, formatValue(d.After), colorize(colorReset))
		case ir.ActionDelete:
			fmt.Printf("%s      - %s = %s%s\n", colorize(colorRed), key, formatValue(d.Before), colorize(colorReset))
		case ir.ActionUpdate:
			fmt.Printf("%s      ~ %s = %s -> %s%s\n", colorize(colorYellow), key, formatValue(d.Before), formatValue(d.After), colorize(colorReset))
		}
	}
}

// formatValue returns a human-readable representation of a value.
func formatValue(v any) string {
	if v == nil {
		return "null"
	}
	switch val := v.(type) {
	case string:
		return fmt.Sprintf("%q", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// renderPlanSummary prints the plan summary counts.
func renderPlanSummary(plan *ir.Plan) {
	fmt.Println("\nPlan Summary:")
	fmt.Printf("  Create: %d\n", plan.Summary.Create)
	fmt.Printf("  Update: %d\n", plan.Summary.Update)
	fmt.Printf("  Delete: %d\n", plan.Summary.Delete)
	fmt.Printf("  NoOp:   %d\n", plan.Summary.NoOp)
}

// renderApplyResult prints per-operation outcomes after a run.
func renderApplyResult(result *engine.ExecutionResult) {
	for _, res := range result.Results {
		switch res.Status {
		case engine.StatusApplied:
			fmt.Printf("%s  ✓ %s: %sd (%s)%s\n", colorize(colorGreen), res.Address, res.Action, res.Duration.Round(time.Millisecond), colorize(colorReset))
		case engine.StatusFailed:
			fmt.Printf("%s  ✗ %s: %s failed: %v%s\n", colorize(colorRed), res.Address, res.Action, res.Err, colorize(colorReset))
		case engine.StatusSkipped:
			reason := ""
			if res.BlockedBy != "" {
				reason = fmt.Sprintf(" (blocked by %s)", res.BlockedBy)
			}
			fmt.Printf("%s  - %s: skipped%s%s\n", colorize(colorYellow), res.Address, reason, colorize(colorReset))
		}
	}
}

// confirm asks for interactive approval.
func confirm(prompt string) bool {
	fmt.Printf("\n%s (y/n): ", prompt)
	var response string
	fmt.Scanln(&response)
	return response == "y" || response == "yes"
}
