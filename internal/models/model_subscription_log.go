package models

import (
	"time"

	"github.com/fatflowers/membership/pkg/types"
	"gorm.io/datatypes"
)

// SubscriptionLog records every change to a membership record.
// Use case: troubleshooting reconciliation.
type SubscriptionLog struct {
	ID       string                       `gorm:"column:id;type:uuid;primary_key" json:"id"`
	MemberID int64                        `gorm:"column:member_id;not null;index:idx_subscription_log_member_id_created,priority:1" json:"member_id"`
	Reason   types.MembershipChangeReason `gorm:"column:reason;type:varchar(64);not null" json:"reason"`
	// EventID is the provider event that caused the change, empty for sweeps and operators.
	EventID   string                            `gorm:"column:event_id;type:varchar(128);index" json:"event_id"`
	Before    datatypes.JSONType[*Subscription] `gorm:"column:before;type:jsonb;default:'null'" json:"before"`
	After     datatypes.JSONType[*Subscription] `gorm:"column:after;type:jsonb;default:'null'" json:"after"`
	Extra     datatypes.JSONMap                 `gorm:"column:extra;type:jsonb;default:'{}'" json:"extra"`
	CreatedAt time.Time                         `gorm:"index:idx_subscription_log_member_id_created,priority:2" json:"created_at"`
}

func (SubscriptionLog) TableName() string {
	return "subscription_log"
}
