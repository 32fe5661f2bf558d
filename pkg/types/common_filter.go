package types

import (
	"fmt"
	"time"

	"github.com/samber/lo"
	"gorm.io/gorm/clause"
)

type CommonFilterOperator string

const (
	CommonFilterOperatorEq        CommonFilterOperator = "eq"
	CommonFilterOperatorNotEq     CommonFilterOperator = "not_eq"
	CommonFilterOperatorLt        CommonFilterOperator = "lt"
	CommonFilterOperatorLte       CommonFilterOperator = "lte"
	CommonFilterOperatorGt        CommonFilterOperator = "gt"
	CommonFilterOperatorGte       CommonFilterOperator = "gte"
	CommonFilterOperatorDateRange CommonFilterOperator = "date_range"
	CommonFilterOperatorRange     CommonFilterOperator = "range"
	CommonFilterOperatorIn        CommonFilterOperator = "in"
	// CommonFilterOperatorAny matches when any of Filters matches. Field and Values are unused.
	CommonFilterOperatorAny CommonFilterOperator = "any"
)

// dateLayouts are accepted for date_range bounds, most specific first.
var dateLayouts = []string{time.RFC3339Nano, time.RFC3339, time.DateTime, time.DateOnly}

// CommonFilter is one condition of an admin listing. Filters only apply to
// the "any" operator.
type CommonFilter struct {
	Field    string               `json:"field"`
	Operator CommonFilterOperator `json:"operator"`
	Values   []any                `json:"values"`
	Filters  []CommonFilter       `json:"filters"`
}

// Validate checks the filter against the allowed columns and operator arity.
// date_range bounds are parsed in place so Build can compare them as times.
func (f *CommonFilter) Validate(allowed map[string]bool) error {
	if f == nil {
		return fmt.Errorf("empty filter")
	}
	if f.Operator == CommonFilterOperatorAny {
		if len(f.Filters) == 0 {
			return fmt.Errorf("filter %q needs at least one nested filter", f.Operator)
		}
		for i := range f.Filters {
			if err := f.Filters[i].Validate(allowed); err != nil {
				return err
			}
		}
		return nil
	}
	if !allowed[f.Field] {
		return fmt.Errorf("filter on %q is not allowed", f.Field)
	}
	switch f.Operator {
	case CommonFilterOperatorEq, CommonFilterOperatorNotEq,
		CommonFilterOperatorLt, CommonFilterOperatorLte,
		CommonFilterOperatorGt, CommonFilterOperatorGte:
		if len(f.Values) != 1 {
			return fmt.Errorf("filter %q on %q needs exactly one value", f.Operator, f.Field)
		}
	case CommonFilterOperatorIn:
		if len(f.Values) == 0 {
			return fmt.Errorf("filter %q on %q needs at least one value", f.Operator, f.Field)
		}
	case CommonFilterOperatorRange:
		if len(f.Values) != 2 {
			return fmt.Errorf("filter %q on %q needs two values", f.Operator, f.Field)
		}
	case CommonFilterOperatorDateRange:
		if len(f.Values) != 2 {
			return fmt.Errorf("filter %q on %q needs two values", f.Operator, f.Field)
		}
		for i, v := range f.Values {
			t, err := parseDate(v)
			if err != nil {
				return fmt.Errorf("filter %q on %q: %w", f.Operator, f.Field, err)
			}
			f.Values[i] = t
		}
	default:
		return fmt.Errorf("unknown filter operator %q", f.Operator)
	}
	return nil
}

// Build constructs a GORM expression. Call Validate first; invalid filters build nothing.
func (f *CommonFilter) Build(builder clause.Builder) {
	if f.Operator == CommonFilterOperatorAny {
		exprs := lo.Map(f.Filters, func(c CommonFilter, _ int) clause.Expression { return &c })
		clause.Or(exprs...).Build(builder)
		return
	}
	if len(f.Values) == 0 {
		return
	}
	value := f.Values[0]
	col := clause.Column{Name: f.Field}

	switch f.Operator {
	case CommonFilterOperatorEq:
		clause.Eq{Column: col, Value: value}.Build(builder)
	case CommonFilterOperatorNotEq:
		clause.Neq{Column: col, Value: value}.Build(builder)
	case CommonFilterOperatorLt:
		clause.Lt{Column: col, Value: value}.Build(builder)
	case CommonFilterOperatorLte:
		clause.Lte{Column: col, Value: value}.Build(builder)
	case CommonFilterOperatorGt:
		clause.Gt{Column: col, Value: value}.Build(builder)
	case CommonFilterOperatorGte:
		clause.Gte{Column: col, Value: value}.Build(builder)
	case CommonFilterOperatorRange:
		if len(f.Values) < 2 {
			return
		}
		clause.And(clause.Gte{Column: col, Value: f.Values[0]}, clause.Lte{Column: col, Value: f.Values[1]}).Build(builder)
	case CommonFilterOperatorDateRange:
		// half-open so that consecutive day ranges never overlap
		if len(f.Values) < 2 {
			return
		}
		clause.And(clause.Gte{Column: col, Value: f.Values[0]}, clause.Lt{Column: col, Value: f.Values[1]}).Build(builder)
	case CommonFilterOperatorIn:
		clause.IN{Column: col, Values: f.Values}.Build(builder)
	}
}

func parseDate(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		for _, layout := range dateLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("cannot parse %q as a date", t)
	default:
		return time.Time{}, fmt.Errorf("date must be a string, got %T", v)
	}
}
