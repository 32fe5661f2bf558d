package ledger

import (
	"context"
	"errors"
	"reflect"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/membership/internal/models"
	"github.com/fatflowers/membership/internal/platform/db"
	"github.com/fatflowers/membership/pkg/logctx"
	"github.com/fatflowers/membership/pkg/tool"
	"github.com/fatflowers/membership/pkg/types"
)

// Store is the durable ledger: transactions and one membership record per member.
type Store struct {
	db  *gorm.DB
	now tool.Clock
	log *zap.SugaredLogger
}

func NewStore(gdb *gorm.DB, now tool.Clock, log *zap.SugaredLogger) *Store {
	return &Store{db: gdb, now: now, log: log}
}

// WithTx returns a Store bound to tx.
func (s *Store) WithTx(tx *gorm.DB) *Store {
	return &Store{db: tx, now: s.now, log: s.log}
}

// DB returns the underlying handle, the transaction when bound with WithTx.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Transaction runs fn in a database transaction; fn's store shares the transaction.
func (s *Store) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

// Change describes why a membership record is written.
type Change struct {
	Reason  types.MembershipChangeReason
	EventID string
	Extra   map[string]any
}

// UpsertTransaction writes the ledger row identified by key. A replayed key never
// inserts a second row: status only moves forward (pending < failed < completed),
// completed rows only accept metadata, and blanks are filled in.
func (s *Store) UpsertTransaction(ctx context.Context, key models.TransactionKey, f models.TransactionFields) (*models.Transaction, error) {
	if !key.Valid() {
		return nil, storeErr("upsert transaction", errors.New("invalid transaction key"))
	}
	row := newTransaction(key, f, s.now())
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "ledger_key"}}, DoNothing: true}).
		Create(row)
	if res.Error != nil {
		return nil, storeErr("upsert transaction", res.Error)
	}
	if res.RowsAffected == 1 {
		return row, nil
	}

	existing, err := s.findTransaction(ctx, key, true)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, storeErr("upsert transaction", errors.New("conflicting row vanished"))
	}
	updates := mergeTransaction(existing, f)
	if len(updates) == 0 {
		return existing, nil
	}
	if err := s.db.WithContext(ctx).Model(existing).Updates(updates).Error; err != nil {
		return nil, storeErr("upsert transaction", err)
	}
	logctx.FromCtx(ctx, s.log).Infow("transaction merged", "ledger_key", existing.LedgerKey, "status", existing.Status)
	return existing, nil
}

// FindTransaction returns the row for key, or nil when there is none.
func (s *Store) FindTransaction(ctx context.Context, key models.TransactionKey) (*models.Transaction, error) {
	return s.findTransaction(ctx, key, false)
}

func (s *Store) findTransaction(ctx context.Context, key models.TransactionKey, forUpdate bool) (*models.Transaction, error) {
	var tx models.Transaction
	q := s.lockable(s.db.WithContext(ctx), forUpdate)
	err := q.Where("ledger_key = ?", key.LedgerKey()).First(&tx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("find transaction", err)
	}
	return &tx, nil
}

func newTransaction(key models.TransactionKey, f models.TransactionFields, now time.Time) *models.Transaction {
	row := &models.Transaction{
		LedgerKey:  key.LedgerKey(),
		MemberID:   f.MemberID,
		Amount:     f.Amount,
		Currency:   f.Currency,
		Status:     f.Status,
		Type:       f.Type,
		Metadata:   datatypes.JSONMap(f.Metadata),
		OccurredAt: f.OccurredAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if row.Status == "" {
		row.Status = types.TransactionStatusPending
	}
	if row.Metadata == nil {
		row.Metadata = datatypes.JSONMap{}
	}
	if row.OccurredAt.IsZero() {
		row.OccurredAt = now
	}
	if key.PaymentIntentID != "" {
		row.PaymentIntentID = &key.PaymentIntentID
	}
	if key.SubscriptionID != "" {
		row.SubscriptionID = &key.SubscriptionID
	}
	return row
}

// mergeTransaction applies f onto existing and returns the changed columns.
func mergeTransaction(existing *models.Transaction, f models.TransactionFields) map[string]any {
	updates := map[string]any{}

	if len(f.Metadata) > 0 {
		merged := datatypes.JSONMap{}
		for k, v := range existing.Metadata {
			merged[k] = v
		}
		changed := false
		for k, v := range f.Metadata {
			if cur, ok := merged[k]; !ok || !reflect.DeepEqual(cur, v) {
				merged[k] = v
				changed = true
			}
		}
		if changed {
			existing.Metadata = merged
			updates["metadata"] = merged
		}
	}
	if existing.Status == types.TransactionStatusCompleted {
		return updates
	}

	if f.Status != "" && f.Status.Supersedes(existing.Status) {
		existing.Status = f.Status
		updates["status"] = f.Status
		if !f.OccurredAt.IsZero() {
			existing.OccurredAt = f.OccurredAt
			updates["occurred_at"] = f.OccurredAt
		}
	}
	if existing.MemberID == 0 && f.MemberID != 0 {
		existing.MemberID = f.MemberID
		updates["member_id"] = f.MemberID
	}
	if existing.Amount.IsZero() && !f.Amount.IsZero() {
		existing.Amount = f.Amount
		updates["amount"] = f.Amount
	}
	if existing.Currency == "" && f.Currency != "" {
		existing.Currency = f.Currency
		updates["currency"] = f.Currency
	}
	return updates
}

// GetSubscription loads the membership record of memberID, nil when none exists.
// forUpdate takes a row lock where the database supports it.
func (s *Store) GetSubscription(ctx context.Context, memberID int64, forUpdate bool) (*models.Subscription, error) {
	var sub models.Subscription
	q := s.lockable(s.db.WithContext(ctx), forUpdate)
	err := q.Where("member_id = ?", memberID).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get subscription", err)
	}
	return &sub, nil
}

// FindSubscriptionByRemote looks a record up by remote subscription id, then by remote customer id.
func (s *Store) FindSubscriptionByRemote(ctx context.Context, customerID, subscriptionID string) (*models.Subscription, error) {
	lookups := []struct{ column, value string }{
		{"remote_subscription_id", subscriptionID},
		{"remote_customer_id", customerID},
	}
	for _, l := range lookups {
		if l.value == "" {
			continue
		}
		var sub models.Subscription
		err := s.db.WithContext(ctx).Where(l.column+" = ?", l.value).Order("id").First(&sub).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, storeErr("find subscription by remote id", err)
		}
		return &sub, nil
	}
	return nil, nil
}

// UpsertSubscription applies a partial update to the record of memberID, creating
// an inactive record first when none exists, and logs the before/after snapshot.
func (s *Store) UpsertSubscription(ctx context.Context, memberID int64, f *models.SubscriptionFields, change Change) (*models.Subscription, error) {
	if f.Empty() {
		return s.GetSubscription(ctx, memberID, false)
	}
	now := s.now()
	cur, err := s.GetSubscription(ctx, memberID, true)
	if err != nil {
		return nil, err
	}

	if cur == nil {
		row := &models.Subscription{MemberID: memberID, Status: types.MembershipStatusInactive, CreatedAt: now, UpdatedAt: now}
		f.ApplyTo(row)
		res := s.db.WithContext(ctx).
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "member_id"}}, DoNothing: true}).
			Create(row)
		if res.Error != nil {
			return nil, storeErr("create subscription", res.Error)
		}
		if res.RowsAffected == 1 {
			return row, s.writeLog(ctx, memberID, nil, row, change)
		}
		// lost a create race; fall through to a partial update of the winner
		if cur, err = s.GetSubscription(ctx, memberID, true); err != nil {
			return nil, err
		}
		if cur == nil {
			return nil, storeErr("create subscription", errors.New("conflicting row vanished"))
		}
	}

	before := cur.Clone()
	cols := f.Columns()
	cols["updated_at"] = now
	if err := s.db.WithContext(ctx).Model(&models.Subscription{}).Where("id = ?", cur.ID).Updates(cols).Error; err != nil {
		return nil, storeErr("update subscription", err)
	}
	f.ApplyTo(cur)
	cur.UpdatedAt = now
	return cur, s.writeLog(ctx, memberID, before, cur, change)
}

func (s *Store) writeLog(ctx context.Context, memberID int64, before, after *models.Subscription, change Change) error {
	entry := &models.SubscriptionLog{
		ID:        tool.GenerateUUIDV7(),
		MemberID:  memberID,
		Reason:    change.Reason,
		EventID:   change.EventID,
		Before:    datatypes.NewJSONType(before),
		After:     datatypes.NewJSONType(after),
		Extra:     datatypes.JSONMap(change.Extra),
		CreatedAt: s.now(),
	}
	if entry.Extra == nil {
		entry.Extra = datatypes.JSONMap{}
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return storeErr("write subscription log", err)
	}
	return nil
}

// GetExpiring returns active records whose end date falls in (now, now+daysAhead], soonest first.
func (s *Store) GetExpiring(ctx context.Context, daysAhead int) ([]*models.Subscription, error) {
	now := s.now()
	var subs []*models.Subscription
	err := s.db.WithContext(ctx).
		Where("status = ? AND end_date > ? AND end_date <= ?", types.MembershipStatusActive, now, now.AddDate(0, 0, daysAhead)).
		Order("end_date ASC, id ASC").
		Find(&subs).Error
	if err != nil {
		return nil, storeErr("get expiring", err)
	}
	return subs, nil
}

// GetExpired returns active records whose end date is before now.
func (s *Store) GetExpired(ctx context.Context) ([]*models.Subscription, error) {
	var subs []*models.Subscription
	err := s.db.WithContext(ctx).
		Where("status = ? AND end_date < ?", types.MembershipStatusActive, s.now()).
		Order("end_date ASC, id ASC").
		Find(&subs).Error
	if err != nil {
		return nil, storeErr("get expired", err)
	}
	return subs, nil
}

// History returns the change log of a member, newest first.
func (s *Store) History(ctx context.Context, memberID int64, limit int) ([]*models.SubscriptionLog, error) {
	if limit <= 0 {
		limit = 50
	}
	var logs []*models.SubscriptionLog
	err := s.db.WithContext(ctx).Where("member_id = ?", memberID).Order("created_at DESC, id DESC").Limit(limit).Find(&logs).Error
	if err != nil {
		return nil, storeErr("history", err)
	}
	return logs, nil
}

func (s *Store) lockable(q *gorm.DB, forUpdate bool) *gorm.DB {
	if forUpdate && db.IsPostgres(s.db) {
		return q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return q
}

var transactionColumns = map[string]bool{
	"id": true, "member_id": true, "status": true, "transaction_type": true, "currency": true,
	"payment_intent_id": true, "subscription_id": true, "occurred_at": true, "created_at": true, "amount": true,
}

var subscriptionColumns = map[string]bool{
	"id": true, "member_id": true, "status": true, "plan_name": true, "end_date": true,
	"start_date": true, "remote_customer_id": true, "remote_subscription_id": true, "updated_at": true,
}

// ScanTransactions implements paginated admin listing with filters.
func (s *Store) ScanTransactions(ctx context.Context, req *types.ScanRequest) (*types.ScanResponse[*models.Transaction], error) {
	return types.Scan[*models.Transaction](s.db.WithContext(ctx).Model(&models.Transaction{}), req, transactionColumns, "id")
}

// ScanSubscriptions implements paginated admin listing of membership records.
func (s *Store) ScanSubscriptions(ctx context.Context, req *types.ScanRequest) (*types.ScanResponse[*models.Subscription], error) {
	return types.Scan[*models.Subscription](s.db.WithContext(ctx).Model(&models.Subscription{}), req, subscriptionColumns, "id")
}
