package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charging-platform/central-system/internal/domain/model"
)

func timePtr(t time.Time) *time.Time { return &t }

func floatPtr(v float64) *float64 { return &v }

// chargedSession 构造一个已结束的会话：充电minutes分钟，电量energy kWh
func chargedSession(start time.Time, minutes int, energy float64) *model.ChargingSession {
	end := start.Add(time.Duration(minutes) * time.Minute)
	return &model.ChargingSession{
		ID:                  "sess-1",
		TenantID:            "tenant-1",
		StationID:           "ST001",
		ConnectorID:         1,
		EnergyKWh:           energy,
		StartedAt:           start,
		ChargingCompletedAt: timePtr(end),
		EndedAt:             timePtr(end),
		Status:              model.SessionStatusCompleted,
	}
}

func singleComponentTariff(c model.TariffComponent) *model.Tariff {
	c.Active = true
	return &model.Tariff{
		ID:         "tariff-1",
		TenantID:   "tenant-1",
		Currency:   "EUR",
		Active:     true,
		Components: []model.TariffComponent{c},
	}
}

func TestComputeCost_Pure(t *testing.T) {
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	session := chargedSession(start, 60, 12.5)
	tariff := singleComponentTariff(model.TariffComponent{
		ID: "energy", Type: model.TariffComponentEnergy, Price: 0.25,
	})
	now := start.Add(2 * time.Hour)

	first := ComputeCost(session, tariff, now)
	second := ComputeCost(session, tariff, now)
	assert.Equal(t, first, second)
	assert.Equal(t, 3.125, first.Total)
	assert.Equal(t, "EUR", first.Currency)
}

func TestComputeCost_ZeroUsageStillChargesSessionFee(t *testing.T) {
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	session := chargedSession(start, 0, 0)
	tariff := &model.Tariff{
		ID: "tariff-1", TenantID: "tenant-1", Currency: "EUR", Active: true,
		Components: []model.TariffComponent{
			{ID: "energy", Type: model.TariffComponentEnergy, Price: 0.30, Active: true},
			{ID: "time", Type: model.TariffComponentChargingTime, Price: 0.05, Active: true},
			{ID: "fee", Type: model.TariffComponentSessionFee, Price: 1.50, Active: true},
		},
	}

	result := ComputeCost(session, tariff, start)
	assert.Equal(t, 1.50, result.Total)
	require.Len(t, result.Components, 1)
	assert.Equal(t, model.TariffComponentSessionFee, result.Components[0].Type)
}

func TestComputeCost_EnergyStepping(t *testing.T) {
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	session := chargedSession(start, 30, 2.3)
	tariff := singleComponentTariff(model.TariffComponent{
		ID: "energy", Type: model.TariffComponentEnergy, Price: 0.30, StepSize: 1,
	})

	result := ComputeCost(session, tariff, start)
	assert.Equal(t, 0.90, result.Total)
}

func TestComputeCost_GracePeriodCoversDuration(t *testing.T) {
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	session := chargedSession(start, 90, 10)
	tariff := singleComponentTariff(model.TariffComponent{
		ID: "time", Type: model.TariffComponentChargingTime, Price: 0.05, GracePeriodMinutes: 120,
	})

	result := ComputeCost(session, tariff, start.Add(2*time.Hour))
	assert.Equal(t, 0.0, result.Total)
	assert.Empty(t, result.Components)
}

func TestComputeCost_GracePeriodPartial(t *testing.T) {
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	session := chargedSession(start, 90, 10)
	tariff := singleComponentTariff(model.TariffComponent{
		ID: "time", Type: model.TariffComponentChargingTime, Price: 0.10, GracePeriodMinutes: 30,
	})

	// 90分钟扣除30分钟免费时长，计费60分钟
	result := ComputeCost(session, tariff, start.Add(2*time.Hour))
	assert.Equal(t, 6.0, result.Total)
}

func TestComputeCost_TimeOfDayOvernightWindow(t *testing.T) {
	tariff := singleComponentTariff(model.TariffComponent{
		ID: "night", Type: model.TariffComponentTimeOfDay, Price: 0.10,
		TimeFrom: "22:00", TimeTo: "06:00",
	})

	// 23:00到次日01:00，首尾都落在窗口内
	nightStart := time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)
	night := chargedSession(nightStart, 120, 8)
	result := ComputeCost(night, tariff, nightStart.Add(3*time.Hour))
	assert.Equal(t, 0.80, result.Total)

	// 10:00到11:00不在窗口内
	dayStart := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	day := chargedSession(dayStart, 60, 8)
	result = ComputeCost(day, tariff, dayStart.Add(2*time.Hour))
	assert.Equal(t, 0.0, result.Total)
}

func TestComputeCost_MinMaxClamp(t *testing.T) {
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	session := chargedSession(start, 30, 100)

	capped := singleComponentTariff(model.TariffComponent{
		ID: "energy", Type: model.TariffComponentEnergy, Price: 0.30,
		MaximumCharge: floatPtr(5.0),
	})
	result := ComputeCost(session, capped, start)
	assert.Equal(t, 5.0, result.Total)

	floored := singleComponentTariff(model.TariffComponent{
		ID: "energy", Type: model.TariffComponentEnergy, Price: 0.30,
		MinimumCharge: floatPtr(50.0),
	})
	result = ComputeCost(session, floored, start)
	assert.Equal(t, 50.0, result.Total)
}

func TestComputeCost_DayOfWeekMask(t *testing.T) {
	// 2026-03-10是周二
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	session := chargedSession(start, 60, 10)

	weekendOnly := singleComponentTariff(model.TariffComponent{
		ID: "time", Type: model.TariffComponentChargingTime, Price: 0.10,
		DaysOfWeek: []time.Weekday{time.Saturday, time.Sunday},
	})
	result := ComputeCost(session, weekendOnly, start.Add(2*time.Hour))
	assert.Equal(t, 0.0, result.Total)

	tuesdayIncluded := singleComponentTariff(model.TariffComponent{
		ID: "time", Type: model.TariffComponentChargingTime, Price: 0.10,
		DaysOfWeek: []time.Weekday{time.Tuesday},
	})
	result = ComputeCost(session, tuesdayIncluded, start.Add(2*time.Hour))
	assert.Equal(t, 6.0, result.Total)
}

func TestComputeCost_IdleTime(t *testing.T) {
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	chargingEnd := start.Add(time.Hour)
	sessionEnd := chargingEnd.Add(30 * time.Minute)
	session := &model.ChargingSession{
		ID: "sess-1", TenantID: "tenant-1", EnergyKWh: 10,
		StartedAt:           start,
		ChargingCompletedAt: timePtr(chargingEnd),
		EndedAt:             timePtr(sessionEnd),
	}
	tariff := singleComponentTariff(model.TariffComponent{
		ID: "idle", Type: model.TariffComponentIdleTime, Price: 0.20,
	})

	// 空闲30分钟
	result := ComputeCost(session, tariff, sessionEnd)
	assert.Equal(t, 6.0, result.Total)
}

func TestComputeCost_MultiComponentBreakdown(t *testing.T) {
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	session := chargedSession(start, 60, 10)
	tariff := &model.Tariff{
		ID: "tariff-1", TenantID: "tenant-1", Currency: "EUR", Active: true,
		Components: []model.TariffComponent{
			{ID: "fee", Type: model.TariffComponentSessionFee, Price: 1.00, Active: true, DisplayOrder: 2},
			{ID: "energy", Type: model.TariffComponentEnergy, Price: 0.25, Active: true, DisplayOrder: 1},
			{ID: "inactive", Type: model.TariffComponentEnergy, Price: 9.99, Active: false},
		},
	}

	result := ComputeCost(session, tariff, start.Add(2*time.Hour))
	assert.Equal(t, 3.50, result.Total)
	require.Len(t, result.Components, 2)
	assert.Equal(t, "energy", result.Components[0].ComponentID)
	assert.Equal(t, "fee", result.Components[1].ComponentID)
}

func TestEngine_FallbackFlatRate(t *testing.T) {
	engine := NewEngine(0.30, "EUR")
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	session := chargedSession(start, 60, 5)

	result := engine.Cost(session, nil, start.Add(time.Hour))
	assert.Equal(t, 1.50, result.Total)
	assert.Equal(t, "EUR", result.Currency)
	assert.Empty(t, result.Components)
}

func TestSelectTariff(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	expired := now.Add(-time.Hour)

	groupHigh := &model.Tariff{ID: "group-high", TenantID: "tenant-1", Active: true, Priority: 10, GroupIDs: []string{"fleet"}}
	groupLow := &model.Tariff{ID: "group-low", TenantID: "tenant-1", Active: true, Priority: 1, GroupIDs: []string{"fleet"}}
	defaultTariff := &model.Tariff{ID: "default", TenantID: "tenant-1", Active: true, IsDefault: true}
	expiredTariff := &model.Tariff{ID: "expired", TenantID: "tenant-1", Active: true, Priority: 99, GroupIDs: []string{"fleet"}, ValidTo: timePtr(expired)}
	otherTenant := &model.Tariff{ID: "other", TenantID: "tenant-2", Active: true, IsDefault: true}
	tariffs := []*model.Tariff{groupLow, groupHigh, defaultTariff, expiredTariff, otherTenant}

	fleetUser := &model.User{ID: "user-1", TenantID: "tenant-1", Active: true, GroupIDs: []string{"fleet"}}
	selected := SelectTariff(tariffs, "tenant-1", fleetUser, now)
	require.NotNil(t, selected)
	assert.Equal(t, "group-high", selected.ID)

	// 无组匹配时落到租户默认方案
	guest := &model.User{ID: "user-2", TenantID: "tenant-1", Active: true}
	selected = SelectTariff(tariffs, "tenant-1", guest, now)
	require.NotNil(t, selected)
	assert.Equal(t, "default", selected.ID)

	// 匿名会话同样使用默认方案
	selected = SelectTariff(tariffs, "tenant-1", nil, now)
	require.NotNil(t, selected)
	assert.Equal(t, "default", selected.ID)

	// 无任何可用方案
	assert.Nil(t, SelectTariff(tariffs, "tenant-3", nil, now))
}
