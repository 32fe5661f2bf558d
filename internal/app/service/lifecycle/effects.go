package lifecycle

import (
	"github.com/fatflowers/membership/internal/models"
	"github.com/fatflowers/membership/pkg/types"
	"github.com/shopspring/decimal"
)

// Effect is a side effect the caller must carry out after persisting a Decision.
type Effect interface {
	effect()
}

// RecordTransaction upserts a ledger row.
type RecordTransaction struct {
	Key    models.TransactionKey
	Fields models.TransactionFields
}

// SendNotification enqueues an outbound message. An empty DedupKey relies on the
// queue's window rule (renewal reminders).
type SendNotification struct {
	Type     types.NotificationType
	DedupKey string
	Data     NotificationData
}

// NotificationData feeds the message templates.
type NotificationData struct {
	PlanName string
	Amount   decimal.Decimal
	Currency string
	EndDate  string
	DaysLeft int
	Reason   string
}

type ListAction string

const (
	ListSubscribe   ListAction = "subscribe"
	ListUnsubscribe ListAction = "unsubscribe"
)

// MailingList adds or removes the member from the mailing list after commit.
type MailingList struct {
	Action ListAction
}

func (RecordTransaction) effect() {}
func (SendNotification) effect()  {}
func (MailingList) effect()       {}
