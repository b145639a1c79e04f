package plan

import (
	"context"

	"github.com/xraph/atelier/id"
)

// Store persists the plan catalog. Slugs are unique across active and
// inactive plans; a duplicate slug is reported as atelier.ErrPlanExists.
type Store interface {
	CreatePlan(ctx context.Context, p *Plan) error
	GetPlan(ctx context.Context, planID id.PlanID) (*Plan, error)
	GetPlanBySlug(ctx context.Context, slug string) (*Plan, error)
	ListPlans(ctx context.Context, opts ListOpts) ([]*Plan, error)
	UpdatePlan(ctx context.Context, p *Plan) error
	DeletePlan(ctx context.Context, planID id.PlanID) error
}
