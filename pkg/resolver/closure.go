package resolver

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/zerobrew/zb/internal/zberr"
	"github.com/zerobrew/zb/pkg/types"
)

// FormulaFetcher looks up a single formula's metadata by reference, tap-
// qualified or bare. It is satisfied by (*Client).GetFormula.
type FormulaFetcher func(ctx context.Context, ref string) (types.Formula, error)

// source records which reference string first resolved a formula name, so
// Closure can detect the same name arriving from two different taps.
type source struct {
	ref string
}

// Closure fetches every formula transitively reachable from roots, in
// parallel batches by BFS frontier, and returns them topologically sorted
// (dependencies before dependents, ties broken alphabetically). It returns
// a ConflictingFormulaSource error if the same formula name resolves from
// two different references, and a DependencyCycle error if the graph isn't
// a DAG.
func Closure(ctx context.Context, roots []string, fetch FormulaFetcher) ([]types.Formula, error) {
	formulas := make(map[string]types.Formula)
	sources := make(map[string]source)

	frontier := make([]string, 0, len(roots))
	seen := make(map[string]bool)
	for _, r := range roots {
		if !seen[r] {
			seen[r] = true
			frontier = append(frontier, r)
		}
	}

	for len(frontier) > 0 {
		batch := frontier
		frontier = nil

		results := make([]types.Formula, len(batch))
		g, gctx := errgroup.WithContext(ctx)
		for i, ref := range batch {
			i, ref := i, ref
			g.Go(func() error {
				f, err := fetch(gctx, ref)
				if err != nil {
					return err
				}
				results[i] = f
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		for i, f := range results {
			ref := batch[i]
			if existing, ok := sources[f.Name]; ok && existing.ref != ref {
				return nil, zberr.NewConflictingFormulaSource(f.Name, existing.ref, ref)
			}
			sources[f.Name] = source{ref: ref}
			formulas[f.Name] = f

			for _, dep := range f.Dependencies {
				if !seen[dep] {
					seen[dep] = true
					frontier = append(frontier, dep)
				}
			}
		}
	}

	return topoSort(formulas)
}

// topoSort orders formulas so every dependency precedes its dependents,
// Kahn's algorithm seeded with zero-in-degree nodes and always popping the
// alphabetically smallest ready node for a deterministic order.
func topoSort(formulas map[string]types.Formula) ([]types.Formula, error) {
	indegree := make(map[string]int, len(formulas))
	adjacency := make(map[string][]string)

	for name := range formulas {
		indegree[name] = 0
	}
	for name, f := range formulas {
		deps := append([]string(nil), f.Dependencies...)
		sort.Strings(deps)
		for _, dep := range deps {
			if _, ok := formulas[dep]; !ok {
				continue
			}
			indegree[name]++
			adjacency[dep] = append(adjacency[dep], name)
		}
	}

	var ready []string
	for name, n := range indegree {
		if n == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	ordered := make([]types.Formula, 0, len(formulas))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		ordered = append(ordered, formulas[name])

		children := append([]string(nil), adjacency[name]...)
		sort.Strings(children)
		for _, child := range children {
			indegree[child]--
			if indegree[child] == 0 {
				insertSorted(&ready, child)
			}
		}
	}

	if len(ordered) != len(formulas) {
		var cycle []string
		for name, n := range indegree {
			if n > 0 {
				cycle = append(cycle, name)
			}
		}
		sort.Strings(cycle)
		return nil, zberr.NewDependencyCycle(cycle)
	}

	return ordered, nil
}

func insertSorted(ready *[]string, name string) {
	r := *ready
	i := sort.SearchStrings(r, name)
	r = append(r, "")
	copy(r[i+1:], r[i:])
	r[i] = name
	*ready = r
}
