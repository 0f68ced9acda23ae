package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charging-platform/central-system/internal/billing"
	"github.com/charging-platform/central-system/internal/capability"
	"github.com/charging-platform/central-system/internal/domain/model"
	"github.com/charging-platform/central-system/internal/logger"
	"github.com/charging-platform/central-system/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *store.MemoryStore) {
	log, err := logger.New(&logger.Config{
		Level:      "error",
		Format:     "console",
		Output:     "stderr",
		TimeFormat: time.RFC3339,
	})
	require.NoError(t, err)

	mem := store.NewMemoryStore()
	engine := billing.NewEngine(0.30, "EUR")
	manager := NewManager(nil, mem, mem, mem, mem, mem, engine,
		capability.NoopNotifier{}, capability.NoopBillingService{}, log)
	return manager, mem
}

func TestStartSession(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	session, err := manager.StartSession(ctx, StartParams{
		TenantID:    "tenant-1",
		StationID:   "ST001",
		ConnectorID: 1,
		MeterStart:  1000,
	})
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusCharging, session.Status)
	assert.NotEmpty(t, session.ID)
	assert.Equal(t, 0, session.TransactionID)

	// 同一连接器上的第二次启动返回已有会话
	duplicate, err := manager.StartSession(ctx, StartParams{
		TenantID:    "tenant-1",
		StationID:   "ST001",
		ConnectorID: 1,
	})
	assert.ErrorIs(t, err, ErrActiveSessionExists)
	require.NotNil(t, duplicate)
	assert.Equal(t, session.ID, duplicate.ID)

	// 其他连接器不受影响
	_, err = manager.StartSession(ctx, StartParams{
		TenantID:    "tenant-1",
		StationID:   "ST001",
		ConnectorID: 2,
	})
	assert.NoError(t, err)
}

func TestAssignTransaction(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	session, err := manager.StartSession(ctx, StartParams{
		TenantID: "tenant-1", StationID: "ST001", ConnectorID: 1,
	})
	require.NoError(t, err)

	startedAt := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, manager.AssignTransaction(ctx, session, 42, 100000, startedAt))
	assert.Equal(t, 42, session.TransactionID)
	assert.Equal(t, 100000, session.MeterStart)
	assert.Equal(t, startedAt, session.StartedAt)

	// 交易ID只能绑定一次
	err = manager.AssignTransaction(ctx, session, 43, 0, time.Time{})
	assert.Error(t, err)
	assert.Equal(t, 42, session.TransactionID)
	assert.Equal(t, 100000, session.MeterStart)
}

func TestComplete_FallbackRate(t *testing.T) {
	manager, mem := newTestManager(t)
	ctx := context.Background()

	session, err := manager.StartSession(ctx, StartParams{
		TenantID: "tenant-1", StationID: "ST001", ConnectorID: 1,
		StartedAt: time.Now().UTC().Add(-time.Hour),
	})
	require.NoError(t, err)

	endedAt := time.Now().UTC()
	require.NoError(t, manager.Complete(ctx, session, 5.0, endedAt))

	assert.Equal(t, model.SessionStatusCompleted, session.Status)
	assert.Equal(t, 1.50, session.Cost)
	assert.Equal(t, "EUR", session.Currency)
	require.NotNil(t, session.EndedAt)

	record, err := mem.GetBillingRecordBySession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.50, record.Amount)
}

func TestComplete_UsesDefaultTariff(t *testing.T) {
	manager, mem := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, mem.SaveTariff(ctx, &model.Tariff{
		ID: "tariff-1", TenantID: "tenant-1", Currency: "SEK",
		Active: true, IsDefault: true,
		Components: []model.TariffComponent{
			{ID: "energy", Type: model.TariffComponentEnergy, Price: 1.00, Active: true},
			{ID: "fee", Type: model.TariffComponentSessionFee, Price: 2.00, Active: true},
		},
	}))

	session, err := manager.StartSession(ctx, StartParams{
		TenantID: "tenant-1", StationID: "ST001", ConnectorID: 1,
	})
	require.NoError(t, err)

	require.NoError(t, manager.Complete(ctx, session, 10.0, time.Now().UTC()))
	assert.Equal(t, 12.0, session.Cost)
	assert.Equal(t, "SEK", session.Currency)
}

func TestComplete_BillingIdempotent(t *testing.T) {
	manager, mem := newTestManager(t)
	ctx := context.Background()

	session, err := manager.StartSession(ctx, StartParams{
		TenantID: "tenant-1", StationID: "ST001", ConnectorID: 1,
	})
	require.NoError(t, err)

	endedAt := time.Now().UTC()
	require.NoError(t, manager.Complete(ctx, session, 2.0, endedAt))
	first, err := mem.GetBillingRecordBySession(ctx, session.ID)
	require.NoError(t, err)

	// 两条停止路径并发到达时第二次完成不产生新记录
	require.NoError(t, manager.Complete(ctx, session, 2.0, endedAt))
	second, err := mem.GetBillingRecordBySession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestRecordEnergy_UpdatesLiveCost(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	session, err := manager.StartSession(ctx, StartParams{
		TenantID: "tenant-1", StationID: "ST001", ConnectorID: 1,
	})
	require.NoError(t, err)

	require.NoError(t, manager.RecordEnergy(ctx, session, 4.0))
	assert.Equal(t, 4.0, session.EnergyKWh)
	assert.Equal(t, 1.20, session.Cost)
	assert.Equal(t, model.SessionStatusCharging, session.Status)
}

func TestForceStop_NoBilling(t *testing.T) {
	manager, mem := newTestManager(t)
	ctx := context.Background()

	session, err := manager.StartSession(ctx, StartParams{
		TenantID: "tenant-1", StationID: "ST001", ConnectorID: 1,
	})
	require.NoError(t, err)

	require.NoError(t, manager.ForceStop(ctx, session))
	assert.Equal(t, model.SessionStatusStopped, session.Status)
	require.NotNil(t, session.EndedAt)

	_, err = mem.GetBillingRecordBySession(ctx, session.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestResolveDuplicates(t *testing.T) {
	manager, mem := newTestManager(t)
	ctx := context.Background()

	// 绕过管理器直接写入两个Charging会话，模拟远程启动与站点上报的竞态
	earliest := &model.ChargingSession{
		ID: "sess-early", TenantID: "tenant-1", StationID: "ST001", ConnectorID: 1,
		StartedAt: time.Now().UTC().Add(-10 * time.Minute),
		Status:    model.SessionStatusCharging,
	}
	late := &model.ChargingSession{
		ID: "sess-late", TenantID: "tenant-1", StationID: "ST001", ConnectorID: 1,
		StartedAt: time.Now().UTC().Add(-5 * time.Minute),
		Status:    model.SessionStatusCharging,
	}
	require.NoError(t, mem.SaveSession(ctx, earliest))
	require.NoError(t, mem.SaveSession(ctx, late))

	stopped, err := manager.ResolveDuplicates(ctx, "ST001", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, stopped)

	kept, err := manager.ActiveSession(ctx, "ST001", 1)
	require.NoError(t, err)
	require.NotNil(t, kept)
	assert.Equal(t, "sess-early", kept.ID)

	loser, err := mem.GetSession(ctx, "sess-late")
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusStopped, loser.Status)
}

func TestActiveSession_NoneReturnsNil(t *testing.T) {
	manager, _ := newTestManager(t)

	session, err := manager.ActiveSession(context.Background(), "ST001", 1)
	require.NoError(t, err)
	assert.Nil(t, session)
}
