package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spec-kit/salescrm/internal/config"
	"github.com/spec-kit/salescrm/internal/domain"
	"github.com/spec-kit/salescrm/internal/events"
	"github.com/spec-kit/salescrm/internal/persistence"
)

func TestAuditServiceForwardsToRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.RedisConfig{Addr: mr.Addr(), EventsChannel: "salescrm.records"}
	rdb := persistence.NewRedis(cfg, nil)
	require.NotNil(t, rdb)
	defer rdb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sub := rdb.Client.Subscribe(ctx, cfg.EventsChannel)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	dispatcher := events.NewInMemoryDispatcher(nil)
	NewAuditService(dispatcher, nil, rdb, cfg).RegisterHandlers()

	actor := domain.Actor{ID: "U2", Role: domain.RoleSalesman}
	ev := events.NewEvent(events.EventRecordDeleted, domain.EntityCallback, "c9", actor, nil)
	require.NoError(t, dispatcher.Publish(ctx, ev))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	var got events.Event
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, events.EventRecordDeleted, got.Type)
	assert.Equal(t, "c9", got.RecordID)
	assert.Equal(t, domain.RoleSalesman, got.Actor.Role)
}

func TestAuditServiceLogsWithoutRedis(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	dispatcher := events.NewInMemoryDispatcher(nil)
	NewAuditService(dispatcher, zap.New(core), nil, config.RedisConfig{}).RegisterHandlers()

	actor := domain.Actor{ID: "M1", Role: domain.RoleManager}
	ev := events.NewEvent(events.EventRecordCreated, domain.EntityNotification, "n1", actor, events.RecordChangedPayload{Columns: []string{"user_id"}})
	require.NoError(t, dispatcher.Publish(context.Background(), ev))

	entries := logs.FilterMessage("RecordChanged").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "n1", entries[0].ContextMap()["record_id"])
}

func TestAuditServiceReportsForwardFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.RedisConfig{Addr: mr.Addr(), EventsChannel: "salescrm.records"}
	rdb := persistence.NewRedis(cfg, nil)
	defer rdb.Close()
	mr.Close()

	svc := NewAuditService(nil, nil, rdb, cfg)
	ev := events.NewEvent(events.EventRecordUpdated, domain.EntityDeal, "d1", domain.Actor{ID: "U2", Role: domain.RoleSalesman}, nil)
	assert.Error(t, svc.handleRecordChanged(context.Background(), ev))
}
