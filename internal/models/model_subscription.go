package models

import (
	"time"

	"github.com/fatflowers/membership/pkg/types"
	"github.com/shopspring/decimal"
)

// Subscription is the membership record of a member. There is exactly one row per member.
// EndDate is nil only while the status is inactive.
type Subscription struct {
	ID                   int64                  `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	MemberID             int64                  `gorm:"column:member_id;not null;uniqueIndex" json:"member_id"`
	Status               types.MembershipStatus `gorm:"column:status;type:varchar(32);not null;index:idx_subscriptions_status_end_date,priority:1" json:"status"`
	RemoteCustomerID     *string                `gorm:"column:remote_customer_id;type:varchar(128);index" json:"remote_customer_id"`
	RemoteSubscriptionID *string                `gorm:"column:remote_subscription_id;type:varchar(128);index" json:"remote_subscription_id"`
	PlanName             string                 `gorm:"column:plan_name;type:varchar(64);not null;default:''" json:"plan_name"`
	Amount               decimal.Decimal        `gorm:"column:amount;type:numeric(12,2);not null;default:0" json:"amount"`
	Currency             string                 `gorm:"column:currency;type:varchar(8);not null;default:''" json:"currency"`
	BillingCycle         types.BillingCycle     `gorm:"column:billing_cycle;type:varchar(32);not null;default:''" json:"billing_cycle"`
	StartDate            *time.Time             `gorm:"column:start_date" json:"start_date"`
	EndDate              *time.Time             `gorm:"column:end_date;index:idx_subscriptions_status_end_date,priority:2" json:"end_date"`
	NextBillingDate      *time.Time             `gorm:"column:next_billing_date" json:"next_billing_date"`
	CancelledAt          *time.Time             `gorm:"column:cancelled_at" json:"cancelled_at"`
	// FirstActivatedAt is set on the first ever activation and drives the welcome email.
	FirstActivatedAt *time.Time `gorm:"column:first_activated_at" json:"first_activated_at"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}

// Active reports whether the record is active and not past its end date at now.
func (s *Subscription) Active(now time.Time) bool {
	return s != nil &&
		s.Status == types.MembershipStatusActive &&
		s.EndDate != nil &&
		s.EndDate.After(now)
}

func (s *Subscription) IsStatus(status types.MembershipStatus) bool {
	return s != nil && s.Status == status
}

func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// SubscriptionFields is a partial update of a Subscription: nil fields are left untouched.
type SubscriptionFields struct {
	Status               *types.MembershipStatus
	RemoteCustomerID     *string
	RemoteSubscriptionID *string
	PlanName             *string
	Amount               *decimal.Decimal
	Currency             *string
	BillingCycle         *types.BillingCycle
	StartDate            *time.Time
	EndDate              *time.Time
	NextBillingDate      *time.Time
	CancelledAt          *time.Time
	FirstActivatedAt     *time.Time

	ClearNextBillingDate bool
	ClearCancelledAt     bool
}

func (f *SubscriptionFields) Empty() bool {
	return f == nil || len(f.Columns()) == 0
}

// Columns returns the column updates described by f.
func (f *SubscriptionFields) Columns() map[string]any {
	cols := map[string]any{}
	if f == nil {
		return cols
	}
	if f.Status != nil {
		cols["status"] = *f.Status
	}
	if f.RemoteCustomerID != nil {
		cols["remote_customer_id"] = *f.RemoteCustomerID
	}
	if f.RemoteSubscriptionID != nil {
		cols["remote_subscription_id"] = *f.RemoteSubscriptionID
	}
	if f.PlanName != nil {
		cols["plan_name"] = *f.PlanName
	}
	if f.Amount != nil {
		cols["amount"] = *f.Amount
	}
	if f.Currency != nil {
		cols["currency"] = *f.Currency
	}
	if f.BillingCycle != nil {
		cols["billing_cycle"] = *f.BillingCycle
	}
	if f.StartDate != nil {
		cols["start_date"] = *f.StartDate
	}
	if f.EndDate != nil {
		cols["end_date"] = *f.EndDate
	}
	if f.NextBillingDate != nil {
		cols["next_billing_date"] = *f.NextBillingDate
	} else if f.ClearNextBillingDate {
		cols["next_billing_date"] = nil
	}
	if f.CancelledAt != nil {
		cols["cancelled_at"] = *f.CancelledAt
	} else if f.ClearCancelledAt {
		cols["cancelled_at"] = nil
	}
	if f.FirstActivatedAt != nil {
		cols["first_activated_at"] = *f.FirstActivatedAt
	}
	return cols
}

// ApplyTo writes the supplied fields onto s.
func (f *SubscriptionFields) ApplyTo(s *Subscription) {
	if f == nil || s == nil {
		return
	}
	if f.Status != nil {
		s.Status = *f.Status
	}
	if f.RemoteCustomerID != nil {
		s.RemoteCustomerID = copyPtr(f.RemoteCustomerID)
	}
	if f.RemoteSubscriptionID != nil {
		s.RemoteSubscriptionID = copyPtr(f.RemoteSubscriptionID)
	}
	if f.PlanName != nil {
		s.PlanName = *f.PlanName
	}
	if f.Amount != nil {
		s.Amount = *f.Amount
	}
	if f.Currency != nil {
		s.Currency = *f.Currency
	}
	if f.BillingCycle != nil {
		s.BillingCycle = *f.BillingCycle
	}
	if f.StartDate != nil {
		s.StartDate = copyPtr(f.StartDate)
	}
	if f.EndDate != nil {
		s.EndDate = copyPtr(f.EndDate)
	}
	if f.NextBillingDate != nil {
		s.NextBillingDate = copyPtr(f.NextBillingDate)
	} else if f.ClearNextBillingDate {
		s.NextBillingDate = nil
	}
	if f.CancelledAt != nil {
		s.CancelledAt = copyPtr(f.CancelledAt)
	} else if f.ClearCancelledAt {
		s.CancelledAt = nil
	}
	if f.FirstActivatedAt != nil {
		s.FirstActivatedAt = copyPtr(f.FirstActivatedAt)
	}
}

func copyPtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
