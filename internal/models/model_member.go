package models

import "time"

// Member is the read model of the member directory. Rows are owned by the
// member management application; this service only reads them.
type Member struct {
	ID          int64     `gorm:"column:id;primaryKey" json:"id"`
	Email       string    `gorm:"column:email;type:varchar(255);not null" json:"email"`
	DisplayName string    `gorm:"column:display_name;type:varchar(255);not null;default:''" json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Member) TableName() string {
	return "members"
}
