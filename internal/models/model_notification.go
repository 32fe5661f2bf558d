package models

import (
	"time"

	"github.com/fatflowers/membership/pkg/types"
)

// Notification is an outbox row consumed by the dispatcher.
type Notification struct {
	ID          int64                    `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	MemberID    int64                    `gorm:"column:member_id;not null;index:idx_notifications_member_type_created,priority:1" json:"member_id"`
	Type        types.NotificationType   `gorm:"column:notification_type;type:varchar(64);not null;index:idx_notifications_member_type_created,priority:2" json:"notification_type"`
	Subject     string                   `gorm:"column:subject;type:varchar(255);not null" json:"subject"`
	Body        string                   `gorm:"column:body;type:text;not null" json:"body"`
	Status      types.NotificationStatus `gorm:"column:status;type:varchar(32);not null;index:idx_notifications_status_scheduled,priority:1" json:"status"`
	DedupKey    *string                  `gorm:"column:dedup_key;type:varchar(191);uniqueIndex" json:"dedup_key,omitempty"`
	ScheduledAt time.Time                `gorm:"column:scheduled_at;not null;index:idx_notifications_status_scheduled,priority:2" json:"scheduled_at"`
	SentAt      *time.Time               `gorm:"column:sent_at" json:"sent_at"`
	Attempts    int                      `gorm:"column:attempts;not null;default:0" json:"attempts"`
	LastError   *string                  `gorm:"column:last_error;type:text" json:"last_error,omitempty"`
	CreatedAt   time.Time                `gorm:"index:idx_notifications_member_type_created,priority:3" json:"created_at"`
	UpdatedAt   time.Time                `json:"updated_at"`
}

func (Notification) TableName() string {
	return "notifications"
}
