// Package notification is the outbound notification outbox: lifecycle decisions
// enqueue rows here and the dispatcher delivers them out of band.
package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/membership/internal/models"
	"github.com/fatflowers/membership/pkg/config"
	"github.com/fatflowers/membership/pkg/logctx"
	"github.com/fatflowers/membership/pkg/metrics"
	"github.com/fatflowers/membership/pkg/tool"
	"github.com/fatflowers/membership/pkg/types"
)

// ErrQueue marks a failed queue read or write.
var ErrQueue = errors.New("notification queue error")

func queueErr(op string, err error) error {
	return fmt.Errorf("notification %s: %w: %w", op, ErrQueue, err)
}

// Message is a request to notify a member.
type Message struct {
	MemberID    int64
	Type        types.NotificationType
	Subject     string
	Body        string
	ScheduledAt time.Time
	// DedupKey, when set, makes the enqueue idempotent across retries and replays.
	DedupKey string
}

type Queue struct {
	db     *gorm.DB
	now    tool.Clock
	window time.Duration
	rec    *metrics.Recorder
	log    *zap.SugaredLogger
}

func NewQueue(gdb *gorm.DB, now tool.Clock, cfg *config.Config, rec *metrics.Recorder, log *zap.SugaredLogger) *Queue {
	window := cfg.Membership.ReminderDedupWindow()
	if window <= 0 {
		window = 7 * 24 * time.Hour
	}
	return &Queue{db: gdb, now: now, window: window, rec: rec, log: log}
}

// WithTx returns a Queue that writes inside tx, so enqueues commit with the ledger.
func (q *Queue) WithTx(tx *gorm.DB) *Queue {
	cp := *q
	cp.db = tx
	return &cp
}

// Enqueue adds a pending notification. It returns created=false, with the row
// nil, when the message was suppressed: a renewal reminder for the same member
// already exists within the dedup window, or DedupKey was enqueued before.
func (q *Queue) Enqueue(ctx context.Context, m Message) (*models.Notification, bool, error) {
	now := q.now()
	log := logctx.FromCtx(ctx, q.log)
	if m.MemberID <= 0 {
		return nil, false, queueErr("enqueue", fmt.Errorf("invalid member id %d", m.MemberID))
	}
	if m.ScheduledAt.IsZero() {
		m.ScheduledAt = now
	}

	if m.Type == types.NotificationTypeRenewalReminder {
		recent, err := q.recentlyQueued(ctx, m.MemberID, m.Type, now)
		if err != nil {
			return nil, false, err
		}
		if recent {
			log.Infow("renewal reminder suppressed", "member_id", m.MemberID, "window", q.window.String())
			q.rec.Notification(string(m.Type), "suppressed")
			return nil, false, nil
		}
	}

	row := &models.Notification{
		MemberID:    m.MemberID,
		Type:        m.Type,
		Subject:     m.Subject,
		Body:        m.Body,
		Status:      types.NotificationStatusPending,
		ScheduledAt: m.ScheduledAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if m.DedupKey != "" {
		key := m.DedupKey
		row.DedupKey = &key
	}
	res := q.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "dedup_key"}}, DoNothing: true}).
		Create(row)
	if res.Error != nil {
		return nil, false, queueErr("enqueue", res.Error)
	}
	if res.RowsAffected == 0 {
		log.Infow("notification already queued", "member_id", m.MemberID, "dedup_key", m.DedupKey)
		q.rec.Notification(string(m.Type), "duplicate")
		return nil, false, nil
	}
	q.rec.Notification(string(m.Type), "queued")
	return row, true, nil
}

func (q *Queue) recentlyQueued(ctx context.Context, memberID int64, t types.NotificationType, now time.Time) (bool, error) {
	var n int64
	err := q.db.WithContext(ctx).Model(&models.Notification{}).
		Where("member_id = ? AND notification_type = ? AND created_at > ?", memberID, t, now.Add(-q.window)).
		Count(&n).Error
	if err != nil {
		return false, queueErr("dedup lookup", err)
	}
	return n > 0, nil
}

// DequeueBatch returns up to limit pending notifications that are due, oldest first.
func (q *Queue) DequeueBatch(ctx context.Context, limit int) ([]*models.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []*models.Notification
	err := q.db.WithContext(ctx).
		Where("status = ? AND scheduled_at <= ?", types.NotificationStatusPending, q.now()).
		Order("scheduled_at ASC, id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, queueErr("dequeue", err)
	}
	return rows, nil
}

// MarkSent records a delivered notification.
func (q *Queue) MarkSent(ctx context.Context, id int64) error {
	now := q.now()
	return q.transition(ctx, "mark sent", id, map[string]any{
		"status":     types.NotificationStatusSent,
		"sent_at":    now,
		"attempts":   gorm.Expr("attempts + 1"),
		"last_error": nil,
		"updated_at": now,
	})
}

// MarkFailed records a permanent delivery failure.
func (q *Queue) MarkFailed(ctx context.Context, id int64, reason string) error {
	return q.transition(ctx, "mark failed", id, map[string]any{
		"status":     types.NotificationStatusFailed,
		"attempts":   gorm.Expr("attempts + 1"),
		"last_error": reason,
		"updated_at": q.now(),
	})
}

// MarkRetry keeps the notification pending after a transient failure.
func (q *Queue) MarkRetry(ctx context.Context, id int64, reason string) error {
	return q.transition(ctx, "mark retry", id, map[string]any{
		"attempts":   gorm.Expr("attempts + 1"),
		"last_error": reason,
		"updated_at": q.now(),
	})
}

// transition only touches pending rows; sent and failed are final for the dispatcher.
func (q *Queue) transition(ctx context.Context, op string, id int64, cols map[string]any) error {
	res := q.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND status = ?", id, types.NotificationStatusPending).
		Updates(cols)
	if res.Error != nil {
		return queueErr(op, res.Error)
	}
	if res.RowsAffected == 0 {
		logctx.FromCtx(ctx, q.log).Warnw("notification not pending, skipped", "op", op, "notification_id", id)
	}
	return nil
}

// RequeueFailed moves failed notifications back to pending. With no ids every
// failed notification is requeued.
func (q *Queue) RequeueFailed(ctx context.Context, ids ...int64) (int64, error) {
	now := q.now()
	stmt := q.db.WithContext(ctx).Model(&models.Notification{}).
		Where("status = ?", types.NotificationStatusFailed)
	if len(ids) > 0 {
		stmt = stmt.Where("id IN ?", ids)
	}
	res := stmt.Updates(map[string]any{
		"status":       types.NotificationStatusPending,
		"scheduled_at": now,
		"updated_at":   now,
	})
	if res.Error != nil {
		return 0, queueErr("requeue", res.Error)
	}
	return res.RowsAffected, nil
}

// PurgeSent deletes sent notifications older than retention.
func (q *Queue) PurgeSent(ctx context.Context, retention time.Duration) (int64, error) {
	res := q.db.WithContext(ctx).
		Where("status = ? AND sent_at < ?", types.NotificationStatusSent, q.now().Add(-retention)).
		Delete(&models.Notification{})
	if res.Error != nil {
		return 0, queueErr("purge", res.Error)
	}
	return res.RowsAffected, nil
}

var scanColumns = map[string]bool{
	"id": true, "member_id": true, "notification_type": true, "status": true,
	"scheduled_at": true, "sent_at": true, "attempts": true, "created_at": true,
}

func (q *Queue) Scan(ctx context.Context, req *types.ScanRequest) (*types.ScanResponse[*models.Notification], error) {
	return types.Scan[*models.Notification](q.db.WithContext(ctx).Model(&models.Notification{}), req, scanColumns, "id")
}

// Counts returns the number of notifications per status.
func (q *Queue) Counts(ctx context.Context) (map[types.NotificationStatus]int64, error) {
	var rows []struct {
		Status types.NotificationStatus
		N      int64
	}
	err := q.db.WithContext(ctx).Model(&models.Notification{}).
		Select("status, count(*) AS n").Group("status").Scan(&rows).Error
	if err != nil {
		return nil, queueErr("count", err)
	}
	out := make(map[types.NotificationStatus]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}
