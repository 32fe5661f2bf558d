package types

type MembershipStatus string

const (
	MembershipStatusInactive  MembershipStatus = "inactive"
	MembershipStatusActive    MembershipStatus = "active"
	MembershipStatusExpired   MembershipStatus = "expired"
	MembershipStatusCancelled MembershipStatus = "cancelled"
)

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

// rank orders statuses so that a status never moves backwards.
// pending < failed < completed; completed is absorbing.
func (s TransactionStatus) rank() int {
	switch s {
	case TransactionStatusPending:
		return 0
	case TransactionStatusFailed:
		return 1
	case TransactionStatusCompleted:
		return 2
	default:
		return -1
	}
}

// Supersedes reports whether s may replace the stored status cur.
func (s TransactionStatus) Supersedes(cur TransactionStatus) bool {
	return s.rank() > cur.rank()
}

func (s TransactionStatus) Terminal() bool {
	return s == TransactionStatusCompleted || s == TransactionStatusFailed
}

type TransactionType string

const (
	TransactionTypeMembershipPayment   TransactionType = "membership_payment"
	TransactionTypeSubscriptionRenewal TransactionType = "subscription_renewal"
)

type NotificationType string

const (
	NotificationTypeRenewalReminder          NotificationType = "renewal_reminder"
	NotificationTypeMembershipExpired        NotificationType = "membership_expired"
	NotificationTypeWelcomeEmail             NotificationType = "welcome_email"
	NotificationTypePaymentConfirmation      NotificationType = "payment_confirmation"
	NotificationTypePaymentFailed            NotificationType = "payment_failed"
	NotificationTypeRegistrationConfirmation NotificationType = "registration_confirmation"
)

type NotificationStatus string

const (
	NotificationStatusPending NotificationStatus = "pending"
	NotificationStatusSent    NotificationStatus = "sent"
	NotificationStatusFailed  NotificationStatus = "failed"
)

// MembershipChangeReason is recorded on every membership change log row.
type MembershipChangeReason string

const (
	MembershipChangeReasonActivate    MembershipChangeReason = "activate"
	MembershipChangeReasonPayment     MembershipChangeReason = "payment"
	MembershipChangeReasonRenew       MembershipChangeReason = "renew"
	MembershipChangeReasonCancel      MembershipChangeReason = "cancel"
	MembershipChangeReasonExpire      MembershipChangeReason = "expire"
	MembershipChangeReasonLink        MembershipChangeReason = "link"
	MembershipChangeReasonPaymentFail MembershipChangeReason = "payment_failed"
	MembershipChangeReasonRemind      MembershipChangeReason = "remind"
)
