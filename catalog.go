package atelier

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/xraph/atelier/id"
	"github.com/xraph/atelier/plan"
	"github.com/xraph/atelier/types"
)

var maxCommissionRate = decimal.NewFromInt(100)

// ──────────────────────────────────────────────────
// Plan Catalog
// ──────────────────────────────────────────────────

// CreatePlan validates p, assigns an ID when missing and persists it.
func (e *Engine) CreatePlan(ctx context.Context, p *plan.Plan) error {
	if err := e.validatePlan(p); err != nil {
		return err
	}
	if p.ID.IsNil() {
		p.ID = id.NewPlanID()
	}
	p.Entity = types.NewEntity(e.Now())

	if err := e.store.CreatePlan(ctx, p); err != nil {
		return fmt.Errorf("create plan %q: %w", p.Slug, err)
	}
	e.forgetPlan(p.Slug)

	e.logger.Info("plan created", "plan_id", p.ID.String(), "slug", p.Slug)
	e.plugins.EmitPlanCreated(ctx, p)
	return nil
}

// UpdatePlan replaces the plan with p.ID. Subscriptions keep referencing
// the plan by ID and see the new terms from their next renewal.
func (e *Engine) UpdatePlan(ctx context.Context, p *plan.Plan) error {
	if err := e.validatePlan(p); err != nil {
		return err
	}
	old, err := e.store.GetPlan(ctx, p.ID)
	if err != nil {
		return err
	}
	p.CreatedAt = old.CreatedAt
	p.Touch(e.Now())

	if err := e.store.UpdatePlan(ctx, p); err != nil {
		return fmt.Errorf("update plan %q: %w", p.Slug, err)
	}
	e.forgetPlan(old.Slug)
	e.forgetPlan(p.Slug)

	e.logger.Info("plan updated", "plan_id", p.ID.String(), "slug", p.Slug, "active", p.Active)
	e.plugins.EmitPlanUpdated(ctx, old, p)
	return nil
}

// DeactivatePlan hides a plan from the catalog. Existing subscriptions are
// unaffected.
func (e *Engine) DeactivatePlan(ctx context.Context, slug string) (*plan.Plan, error) {
	p, err := e.GetPlan(ctx, slug, plan.IncludeInactive())
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return p, nil
	}
	updated := p.Clone()
	updated.Active = false
	if err := e.UpdatePlan(ctx, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// DeletePlan removes a plan no subscription has ever referenced.
func (e *Engine) DeletePlan(ctx context.Context, slug string) error {
	p, err := e.GetPlan(ctx, slug, plan.IncludeInactive())
	if err != nil {
		return err
	}
	n, err := e.store.CountSubscriptionsForPlan(ctx, p.ID)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%w: %q has %d subscriptions", ErrPlanInUse, slug, n)
	}
	if n, err = e.store.CountChangesForPlan(ctx, p.ID); err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%w: %q appears in %d change records", ErrPlanInUse, slug, n)
	}
	if err := e.store.DeletePlan(ctx, p.ID); err != nil {
		return err
	}
	e.forgetPlan(slug)

	e.logger.Info("plan deleted", "plan_id", p.ID.String(), "slug", slug)
	e.plugins.EmitPlanDeleted(ctx, p)
	return nil
}

// ListPlans returns active plans ordered by display order, then price.
func (e *Engine) ListPlans(ctx context.Context) ([]*plan.Plan, error) {
	return e.store.ListPlans(ctx, plan.ListOpts{})
}

// GetPlan fetches a plan by slug. Inactive plans are reported as not found
// unless plan.IncludeInactive is passed.
func (e *Engine) GetPlan(ctx context.Context, slug string, opts ...plan.LookupOption) (*plan.Plan, error) {
	o := plan.ApplyLookup(opts...)

	p, ok := e.cachedPlan(slug)
	if !ok {
		var err error
		p, err = e.store.GetPlanBySlug(ctx, slug)
		if err != nil {
			return nil, err
		}
		if e.planCache != nil {
			e.planCache.Add(slug, p.Clone())
		}
	}

	if !p.Active && !o.IncludeInactive {
		return nil, fmt.Errorf("%w: %q is inactive", ErrPlanNotFound, slug)
	}
	return p, nil
}

func (e *Engine) cachedPlan(slug string) (*plan.Plan, bool) {
	if e.planCache == nil {
		return nil, false
	}
	p, ok := e.planCache.Get(slug)
	if !ok {
		return nil, false
	}
	e.logger.Debug("plan cache hit", "slug", slug)
	return p.Clone(), true
}

func (e *Engine) forgetPlan(slug string) {
	if e.planCache != nil {
		e.planCache.Remove(slug)
	}
}

func (e *Engine) validatePlan(p *plan.Plan) error {
	var errs MultiError

	if err := e.validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			errs.Add(Invalid(fe.Field(), "failed %q rule", fe.Tag()))
		}
	}
	if p.Price.IsNegative() {
		errs.Add(Invalid("Price", "must not be negative, got %s", p.Price))
	}
	if !types.ValidCurrency(p.Price.Currency) {
		errs.Add(Invalid("Price", "unknown currency %q", p.Price.Currency))
	}
	if p.CommissionRate.IsNegative() || p.CommissionRate.GreaterThan(maxCommissionRate) {
		errs.Add(Invalid("CommissionRate", "must be within [0, 100], got %s", p.CommissionRate))
	}
	if err := p.Features.Validate(); err != nil {
		errs.Add(Invalid("Features", "%v", err))
	}

	return errs.ErrOrNil()
}
