package statistics

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/membership/internal/app/service/notification"
	"github.com/fatflowers/membership/internal/models"
	"github.com/fatflowers/membership/pkg/tool"
	"github.com/fatflowers/membership/pkg/types"
)

type StatisticType string

const (
	// Transactions
	StatisticTypeDailyTransactionCount StatisticType = "daily_transaction_count"
	StatisticTypeDailyRevenue          StatisticType = "daily_revenue"
	StatisticTypeTotalRevenue          StatisticType = "total_revenue"

	// Memberships
	StatisticTypeMembershipStatusCount   StatisticType = "membership_status_count"
	StatisticTypeActiveMembershipCount   StatisticType = "active_membership_count"
	StatisticTypeDailyNewMembershipCount StatisticType = "daily_new_membership_count"

	// Notification queue
	StatisticTypeNotificationStatusCount StatisticType = "notification_status_count"
)

// transaction columns a statistics filter may use
var transactionFilterColumns = map[string]bool{
	"currency":         true,
	"transaction_type": true,
	"member_id":        true,
	"occurred_at":      true,
}

type DataItem struct {
	ID StatisticType `json:"id"`
}

// Request asks for several statistics at once. Filters apply to the
// transaction statistics only.
type Request struct {
	Filters   []*types.CommonFilter `json:"filters"`
	DataItems []*DataItem           `json:"data_items"`
}

func (r *Request) validate() error {
	if len(r.DataItems) == 0 {
		return fmt.Errorf("data_items is required")
	}
	for _, f := range r.Filters {
		if err := f.Validate(transactionFilterColumns); err != nil {
			return err
		}
	}
	return nil
}

type ResponseDataItem struct {
	Date   string           `json:"date,omitempty"`
	Label  string           `json:"label,omitempty"`
	Value  int64            `json:"value"`
	Amount *decimal.Decimal `json:"amount,omitempty"`
}

type Response struct {
	DataItems map[StatisticType][]ResponseDataItem `json:"data_items"`
}

// Service computes operator statistics. Day bucketing happens in Go so the
// queries stay portable across database drivers.
type Service struct {
	db    *gorm.DB
	queue *notification.Queue
	now   tool.Clock
}

func New(db *gorm.DB, queue *notification.Queue, now tool.Clock) *Service {
	return &Service{db: db, queue: queue, now: now}
}

func (s *Service) completedTransactions(ctx context.Context, req *Request) ([]*models.Transaction, error) {
	var rows []*models.Transaction
	q := s.db.WithContext(ctx).Model(&models.Transaction{}).
		Select("id", "amount", "currency", "occurred_at").
		Where("status = ?", types.TransactionStatusCompleted)
	if len(req.Filters) > 0 {
		q = q.Where(clause.Where{Exprs: []clause.Expression{types.FiltersAnd{Filters: req.Filters}}})
	}
	if err := q.Order("occurred_at").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func day(t time.Time) string { return t.UTC().Format(time.DateOnly) }

func (s *Service) getDailyTransactionCount(ctx context.Context, req *Request) ([]ResponseDataItem, error) {
	rows, err := s.completedTransactions(ctx, req)
	if err != nil {
		return nil, err
	}
	counts := lo.CountValuesBy(rows, func(t *models.Transaction) string { return day(t.OccurredAt) })
	out := lo.MapToSlice(counts, func(date string, n int) ResponseDataItem {
		return ResponseDataItem{Date: date, Value: int64(n)}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func sumAmounts(rows []*models.Transaction) decimal.Decimal {
	return lo.Reduce(rows, func(acc decimal.Decimal, t *models.Transaction, _ int) decimal.Decimal {
		return acc.Add(t.Amount)
	}, decimal.Zero)
}

// getDailyRevenue returns one row per day and currency, newest day first.
func (s *Service) getDailyRevenue(ctx context.Context, req *Request) ([]ResponseDataItem, error) {
	rows, err := s.completedTransactions(ctx, req)
	if err != nil {
		return nil, err
	}
	type bucket struct{ date, currency string }
	groups := lo.GroupBy(rows, func(t *models.Transaction) bucket {
		return bucket{date: day(t.OccurredAt), currency: t.Currency}
	})
	out := make([]ResponseDataItem, 0, len(groups))
	for k, g := range groups {
		amount := sumAmounts(g)
		out = append(out, ResponseDataItem{Date: k.date, Label: k.currency, Value: int64(len(g)), Amount: &amount})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date > out[j].Date
		}
		return out[i].Label < out[j].Label
	})
	return out, nil
}

func (s *Service) getTotalRevenue(ctx context.Context, req *Request) ([]ResponseDataItem, error) {
	rows, err := s.completedTransactions(ctx, req)
	if err != nil {
		return nil, err
	}
	groups := lo.GroupBy(rows, func(t *models.Transaction) string { return t.Currency })
	out := lo.MapToSlice(groups, func(currency string, g []*models.Transaction) ResponseDataItem {
		amount := sumAmounts(g)
		return ResponseDataItem{Label: currency, Value: int64(len(g)), Amount: &amount}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out, nil
}

func (s *Service) getMembershipStatusCount(ctx context.Context, _ *Request) ([]ResponseDataItem, error) {
	var out []ResponseDataItem
	err := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Select("status AS label, count(*) AS value").
		Group("status").
		Order("status").
		Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) getActiveMembershipCount(ctx context.Context, _ *Request) ([]ResponseDataItem, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("status = ?", types.MembershipStatusActive).
		Where("end_date > ?", s.now()).
		Count(&n).Error
	if err != nil {
		return nil, err
	}
	return []ResponseDataItem{{Value: n}}, nil
}

func (s *Service) getDailyNewMembershipCount(ctx context.Context, _ *Request) ([]ResponseDataItem, error) {
	var firsts []time.Time
	err := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("first_activated_at IS NOT NULL").
		Pluck("first_activated_at", &firsts).Error
	if err != nil {
		return nil, err
	}
	counts := lo.CountValuesBy(firsts, day)
	out := lo.MapToSlice(counts, func(date string, n int) ResponseDataItem {
		return ResponseDataItem{Date: date, Value: int64(n)}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	return out, nil
}

func (s *Service) getNotificationStatusCount(ctx context.Context, _ *Request) ([]ResponseDataItem, error) {
	counts, err := s.queue.Counts(ctx)
	if err != nil {
		return nil, err
	}
	out := lo.MapToSlice(counts, func(st types.NotificationStatus, n int64) ResponseDataItem {
		return ResponseDataItem{Label: string(st), Value: n}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out, nil
}

func (s *Service) getStatistic(ctx context.Context, req *Request, item *DataItem) ([]ResponseDataItem, error) {
	switch item.ID {
	case StatisticTypeDailyTransactionCount:
		return s.getDailyTransactionCount(ctx, req)
	case StatisticTypeDailyRevenue:
		return s.getDailyRevenue(ctx, req)
	case StatisticTypeTotalRevenue:
		return s.getTotalRevenue(ctx, req)
	case StatisticTypeMembershipStatusCount:
		return s.getMembershipStatusCount(ctx, req)
	case StatisticTypeActiveMembershipCount:
		return s.getActiveMembershipCount(ctx, req)
	case StatisticTypeDailyNewMembershipCount:
		return s.getDailyNewMembershipCount(ctx, req)
	case StatisticTypeNotificationStatusCount:
		return s.getNotificationStatusCount(ctx, req)
	default:
		return nil, fmt.Errorf("invalid data item id: %s", item.ID)
	}
}

// Get computes every requested data item concurrently.
func (s *Service) Get(ctx context.Context, req *Request) (*Response, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	var wg sync.WaitGroup
	errChan := make(chan error, len(req.DataItems))
	resChan := make(chan *lo.Entry[StatisticType, []ResponseDataItem], len(req.DataItems))

	for _, item := range req.DataItems {
		wg.Add(1)
		go func(di *DataItem) {
			defer wg.Done()
			res, err := s.getStatistic(ctx, req, di)
			if err != nil {
				errChan <- err
				return
			}
			resChan <- &lo.Entry[StatisticType, []ResponseDataItem]{Key: di.ID, Value: res}
		}(item)
	}

	wg.Wait()
	close(errChan)
	close(resChan)
	if err := <-errChan; err != nil {
		return nil, err
	}

	results := make(map[StatisticType][]ResponseDataItem, len(req.DataItems))
	for entry := range resChan {
		results[entry.Key] = entry.Value
	}
	return &Response{DataItems: results}, nil
}

var Module = fx.Options(
	fx.Provide(New),
)
