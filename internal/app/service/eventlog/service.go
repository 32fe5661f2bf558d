// Package eventlog keeps an audit trail of inbound webhook deliveries.
package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/fatflowers/membership/internal/models"
	"github.com/fatflowers/membership/pkg/logctx"
	"github.com/fatflowers/membership/pkg/tool"
	"github.com/fatflowers/membership/pkg/types"
)

type Service struct {
	db  *gorm.DB
	log *zap.SugaredLogger
	wg  sync.WaitGroup
}

func New(db *gorm.DB, log *zap.SugaredLogger) *Service { return &Service{db: db, log: log} }

// Entry builds a log row for one delivery.
func Entry(ctx context.Context, eventID, eventType string, memberID int64, payload []byte, status models.WebhookEventLogStatus, result map[string]any) *models.WebhookEventLog {
	entry := &models.WebhookEventLog{
		EventID:   eventID,
		EventType: eventType,
		TraceID:   logctx.TraceID(ctx),
		Status:    status,
		Result:    datatypes.JSONMap(result),
	}
	if memberID > 0 {
		entry.MemberID = &memberID
	}
	if json.Valid(payload) {
		entry.Data = datatypes.JSON(payload)
	} else if len(payload) > 0 {
		raw, _ := json.Marshal(string(payload))
		entry.Data = datatypes.JSON(raw)
	}
	if entry.Result == nil {
		entry.Result = datatypes.JSONMap{}
	}
	return entry
}

// Save asynchronously persists entry. Nil input is ignored.
func (s *Service) Save(ctx context.Context, entry *models.WebhookEventLog) {
	if entry == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Record(ctx, entry); err != nil {
			logctx.FromCtx(ctx, s.log).Errorf("failed to save webhook event log: %v", err)
		}
	}()
}

// Record persists entry synchronously.
func (s *Service) Record(ctx context.Context, entry *models.WebhookEventLog) error {
	if entry.ID == "" {
		entry.ID = tool.GenerateUUIDV7()
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("save webhook event log %s: %w", entry.EventID, err)
	}
	return nil
}

// Wait blocks until pending asynchronous saves finish.
func (s *Service) Wait() { s.wg.Wait() }

var scanColumns = map[string]bool{
	"id": true, "event_id": true, "event_type": true, "member_id": true,
	"status": true, "trace_id": true, "created_at": true,
}

func (s *Service) Scan(ctx context.Context, req *types.ScanRequest) (*types.ScanResponse[*models.WebhookEventLog], error) {
	q := s.db.WithContext(ctx).Model(&models.WebhookEventLog{})
	return types.Scan[*models.WebhookEventLog](q, req, scanColumns, "created_at")
}

func registerShutdown(lc fx.Lifecycle, s *Service) {
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			s.Wait()
			return nil
		},
	})
}

var Module = fx.Options(
	fx.Provide(New),
	fx.Invoke(registerShutdown),
)
