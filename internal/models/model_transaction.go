package models

import (
	"fmt"
	"time"

	"github.com/fatflowers/membership/pkg/types"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Transaction is a ledger row. LedgerKey is the idempotency key derived from TransactionKey.
type Transaction struct {
	ID              int64                   `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	LedgerKey       string                  `gorm:"column:ledger_key;type:varchar(191);not null;uniqueIndex" json:"ledger_key"`
	MemberID        int64                   `gorm:"column:member_id;not null;index:idx_transactions_member_id_id,priority:1" json:"member_id"`
	PaymentIntentID *string                 `gorm:"column:payment_intent_id;type:varchar(128);index" json:"payment_intent_id"`
	SubscriptionID  *string                 `gorm:"column:subscription_id;type:varchar(128);index" json:"subscription_id"`
	Amount          decimal.Decimal         `gorm:"column:amount;type:numeric(12,2);not null;default:0" json:"amount"`
	Currency        string                  `gorm:"column:currency;type:varchar(8);not null;default:''" json:"currency"`
	Status          types.TransactionStatus `gorm:"column:status;type:varchar(32);not null;index" json:"status"`
	Type            types.TransactionType   `gorm:"column:transaction_type;type:varchar(32);not null" json:"transaction_type"`
	Metadata        datatypes.JSONMap       `gorm:"column:metadata;type:jsonb;default:'{}'" json:"metadata"`
	OccurredAt      time.Time               `gorm:"column:occurred_at;index" json:"occurred_at"`
	CreatedAt       time.Time               `json:"created_at"`
	UpdatedAt       time.Time               `json:"updated_at"`
}

func (Transaction) TableName() string {
	return "transactions"
}

// TransactionKey identifies a ledger row. A payment intent id wins; otherwise
// subscription id + type + day bucket tells renewal rows apart.
type TransactionKey struct {
	PaymentIntentID string
	SubscriptionID  string
	Type            types.TransactionType
	BucketAt        time.Time
}

func (k TransactionKey) Valid() bool {
	return k.PaymentIntentID != "" || (k.SubscriptionID != "" && k.Type != "" && !k.BucketAt.IsZero())
}

// LedgerKey renders the unique ledger key.
func (k TransactionKey) LedgerKey() string {
	if k.PaymentIntentID != "" {
		return "pi:" + k.PaymentIntentID
	}
	return fmt.Sprintf("sub:%s:%s:%s", k.SubscriptionID, k.Type, k.BucketAt.UTC().Format("20060102"))
}

func (k TransactionKey) String() string {
	return k.LedgerKey()
}

// TransactionFields are the values carried by an upsert.
type TransactionFields struct {
	MemberID   int64
	Amount     decimal.Decimal
	Currency   string
	Status     types.TransactionStatus
	Type       types.TransactionType
	Metadata   map[string]any
	OccurredAt time.Time
}
