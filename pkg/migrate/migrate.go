package migrate

import (
	"context"
	"fmt"

	"github.com/zerobrew/zb/pkg/installer"
)

// IncompatibleReason explains why a scanned formula was excluded from a
// migration plan.
type IncompatibleReason int

const (
	// RequiresTap means the formula's source Tab names a tap other than
	// homebrew/core, and zb has no notion of that tap's formulas.
	RequiresTap IncompatibleReason = iota
	// AlreadyInstalled means zb already has this package.
	AlreadyInstalled
)

// Incompatible is a formula the plan will not migrate.
type Incompatible struct {
	Name   string
	Reason IncompatibleReason
	Tap    string // set when Reason is RequiresTap
}

// Plan is a migration plan: what Migrate would install, skip, and refuse.
type Plan struct {
	ToInstall        []string
	Dependencies     []string // informational: deps that'll come along for free
	Incompatible     []Incompatible
	AlreadyInstalled []string
}

// Empty reports whether the plan has nothing left to install.
func (p Plan) Empty() bool {
	return len(p.ToInstall) == 0
}

// Migrator scans a Homebrew installation and migrates its formulas into zb.
type Migrator struct {
	scanner Scanner
	in      *installer.Installer
}

// NewMigrator returns a Migrator reading from the given Homebrew prefix.
func NewMigrator(in *installer.Installer, homebrewPrefix string) Migrator {
	return Migrator{scanner: NewScanner(homebrewPrefix), in: in}
}

// IsHomebrewInstalled reports whether the migrator's prefix has a Cellar.
func (m Migrator) IsHomebrewInstalled() bool {
	return m.scanner.IsHomebrewInstalled()
}

// Plan scans Homebrew and builds a migration plan. When names is non-empty,
// only those formulas are considered; otherwise every user-requested
// formula (i.e. not a bare dependency) is.
func (m Migrator) Plan(names []string) (Plan, error) {
	all, err := m.scanner.Scan()
	if err != nil {
		return Plan{}, err
	}
	if len(all) == 0 {
		return Plan{}, nil
	}

	var toMigrate []InstalledFormula
	if len(names) > 0 {
		wanted := make(map[string]bool, len(names))
		for _, n := range names {
			wanted[n] = true
		}
		for _, f := range all {
			if wanted[f.Name] {
				toMigrate = append(toMigrate, f)
			}
		}
	} else {
		for _, f := range all {
			if f.InstalledOnRequest || !f.InstalledAsDependency {
				toMigrate = append(toMigrate, f)
			}
		}
	}

	var plan Plan
	for _, f := range toMigrate {
		installed, err := m.in.IsInstalled(f.Name)
		if err != nil {
			return Plan{}, fmt.Errorf("checking %s: %w", f.Name, err)
		}
		if installed {
			plan.AlreadyInstalled = append(plan.AlreadyInstalled, f.Name)
			continue
		}
		if f.Tap != "" && f.Tap != "homebrew/core" {
			plan.Incompatible = append(plan.Incompatible, Incompatible{
				Name: f.Name, Reason: RequiresTap, Tap: f.Tap,
			})
			continue
		}
		plan.ToInstall = append(plan.ToInstall, f.Name)
	}

	toInstall := make(map[string]bool, len(plan.ToInstall))
	for _, n := range plan.ToInstall {
		toInstall[n] = true
	}
	alreadyInstalled := make(map[string]bool, len(plan.AlreadyInstalled))
	for _, n := range plan.AlreadyInstalled {
		alreadyInstalled[n] = true
	}
	for _, f := range all {
		if f.InstalledAsDependency && !toInstall[f.Name] && !alreadyInstalled[f.Name] {
			plan.Dependencies = append(plan.Dependencies, f.Name)
		}
	}

	return plan, nil
}

// FailedFormula records one formula that failed to install during Execute.
type FailedFormula struct {
	Name string
	Err  error
}

// Result is the outcome of executing a migration Plan.
type Result struct {
	Installed []string
	Failed    []FailedFormula
}

// Execute installs every formula in plan.ToInstall, continuing past
// individual failures.
func (m Migrator) Execute(ctx context.Context, plan Plan) Result {
	var result Result
	for _, name := range plan.ToInstall {
		if err := m.installOne(ctx, name); err != nil {
			result.Failed = append(result.Failed, FailedFormula{Name: name, Err: err})
			continue
		}
		result.Installed = append(result.Installed, name)
	}
	return result
}

func (m Migrator) installOne(ctx context.Context, name string) error {
	plan, err := m.in.Plan(ctx, []string{name})
	if err != nil {
		return err
	}
	_, err = m.in.Execute(ctx, plan, true)
	return err
}
