package lifecycle

import (
	"strings"

	"github.com/fatflowers/membership/pkg/types"
)

const defaultPlanName = "membership"

// Policy holds the configuration Decide depends on.
type Policy struct {
	Plans           []*types.Plan
	DefaultTermDays int
	RenewalDays     int
}

// MatchPlan finds the plan a payment pays for. With no plans configured every
// positive payment buys the default term.
func (p Policy) MatchPlan(amount int64, currency, planName string) (*types.Plan, bool) {
	if amount <= 0 {
		return nil, false
	}
	if len(p.Plans) == 0 {
		name := planName
		if name == "" {
			name = defaultPlanName
		}
		return &types.Plan{
			Name:         name,
			Amount:       amount,
			Currency:     types.NormalizeCurrency(currency),
			BillingCycle: types.BillingCycleYearly,
			DurationDays: p.termDays(),
		}, true
	}
	if planName != "" {
		for _, plan := range p.Plans {
			if strings.EqualFold(plan.Name, planName) {
				return plan, plan.Matches(amount, currency)
			}
		}
	}
	for _, plan := range p.Plans {
		if plan.Matches(amount, currency) {
			return plan, true
		}
	}
	return nil, false
}

func (p Policy) termDays() int {
	if p.DefaultTermDays > 0 {
		return p.DefaultTermDays
	}
	return 365
}
