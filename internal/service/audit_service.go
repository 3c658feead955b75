package service

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/spec-kit/salescrm/internal/config"
	"github.com/spec-kit/salescrm/internal/events"
	"github.com/spec-kit/salescrm/internal/observability"
	"github.com/spec-kit/salescrm/internal/persistence"
)

// AuditService records committed record changes and forwards them to a
// Redis channel when one is configured.
type AuditService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	redis      *persistence.Redis
	channel    string
}

// NewAuditService creates the service. A nil redis keeps events in process.
func NewAuditService(dispatcher events.Dispatcher, logger *zap.Logger, redis *persistence.Redis, cfg config.RedisConfig) *AuditService {
	return &AuditService{
		dispatcher: dispatcher,
		logger:     observability.OrNop(logger),
		redis:      redis,
		channel:    cfg.EventsChannel,
	}
}

// RegisterHandlers subscribes to events.
func (a *AuditService) RegisterHandlers() {
	if a.dispatcher == nil {
		return
	}
	for _, et := range events.EventTypes {
		a.dispatcher.Subscribe(et, a.handleRecordChanged)
	}
}

func (a *AuditService) handleRecordChanged(ctx context.Context, event events.Event) error {
	a.logger.Info("RecordChanged",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("entity", string(event.Entity)),
		zap.String("record_id", event.RecordID),
		zap.String("actor_id", event.Actor.ID),
		zap.String("actor_role", string(event.Actor.Role)),
		zap.Any("payload", event.Payload))
	return a.forward(ctx, event)
}

func (a *AuditService) forward(ctx context.Context, event events.Event) error {
	if a.redis == nil || a.channel == "" {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := a.redis.Publish(ctx, a.channel, payload); err != nil {
		return err
	}
	a.logger.Debug("change event forwarded",
		zap.String("channel", a.channel),
		zap.String("event_id", event.ID))
	return nil
}
