package bundle

import (
	"context"
	"fmt"

	"github.com/zerobrew/zb/pkg/installer"
)

// Plan is the set of actions importing a Brewfile would take, computed
// without installing anything.
type Plan struct {
	ToInstall        []Entry
	AlreadyInstalled []string
	Unsupported      []string // formatted as `<kind> "<name>"`, for display
}

// Empty reports whether the import would do nothing.
func (p Plan) Empty() bool {
	return len(p.ToInstall) == 0
}

// PlanImport diffs a Brewfile's brew entries against what in already has
// installed, and renders the directives zb cannot act on for display.
func PlanImport(in *installer.Installer, bf Brewfile) (Plan, error) {
	var plan Plan
	for _, e := range bf.BrewEntries() {
		installed, err := in.IsInstalled(e.Name)
		if err != nil {
			return Plan{}, fmt.Errorf("checking %s: %w", e.Name, err)
		}
		if installed {
			plan.AlreadyInstalled = append(plan.AlreadyInstalled, e.Name)
			continue
		}
		plan.ToInstall = append(plan.ToInstall, e)
	}
	for _, e := range bf.Unsupported() {
		plan.Unsupported = append(plan.Unsupported, fmt.Sprintf("%s %q", e.Kind, e.Name))
	}
	return plan, nil
}

// FailedEntry records one entry that failed to install during Execute.
type FailedEntry struct {
	Name string
	Err  error
}

// Result is the outcome of executing an import Plan.
type Result struct {
	Installed []string
	Failed    []FailedEntry
}

// Execute installs every entry in plan.ToInstall, continuing past individual
// failures so one bad formula name doesn't abort the rest of the import.
func Execute(ctx context.Context, in *installer.Installer, plan Plan) Result {
	var result Result
	for _, e := range plan.ToInstall {
		if err := installOne(ctx, in, e); err != nil {
			result.Failed = append(result.Failed, FailedEntry{Name: e.Name, Err: err})
			continue
		}
		result.Installed = append(result.Installed, e.Name)
	}
	return result
}

func installOne(ctx context.Context, in *installer.Installer, e Entry) error {
	link := true
	if e.Link != nil {
		link = *e.Link
	}
	installPlan, err := in.Plan(ctx, []string{e.Name})
	if err != nil {
		return err
	}
	_, err = in.Execute(ctx, installPlan, link)
	return err
}
