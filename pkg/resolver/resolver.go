package resolver

import (
	"context"

	"github.com/google/uuid"

	"github.com/zerobrew/zb/pkg/types"
)

// Resolver turns a list of user-supplied formula references into an
// InstallPlan: fetch the transitive closure, order it topologically, and
// select a bottle archive for each formula on the configured platform.
type Resolver struct {
	client       *Client
	platformTags []string
}

// New builds a Resolver. platformTags is the preference-ordered list of
// bottle tags to select archives for (see config.Config.PlatformTags).
func New(client *Client, platformTags []string) *Resolver {
	return &Resolver{client: client, platformTags: platformTags}
}

// Plan resolves names into an ordered InstallPlan: dependencies appear
// before dependents, and every step carries the bottle archive selected for
// the current platform.
func (r *Resolver) Plan(ctx context.Context, names []string) (types.InstallPlan, error) {
	formulas, err := Closure(ctx, names, r.client.GetFormula)
	if err != nil {
		return types.InstallPlan{}, err
	}

	steps := make([]types.PlanStep, 0, len(formulas))
	for _, f := range formulas {
		archive, tag, err := SelectBottle(f, r.platformTags)
		if err != nil {
			return types.InstallPlan{}, err
		}
		steps = append(steps, types.PlanStep{Formula: f, Archive: archive, Tag: tag})
	}

	return types.InstallPlan{ID: uuid.NewString(), Steps: steps}, nil
}
