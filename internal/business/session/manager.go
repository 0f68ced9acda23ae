package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/charging-platform/central-system/internal/billing"
	"github.com/charging-platform/central-system/internal/capability"
	"github.com/charging-platform/central-system/internal/domain/model"
	"github.com/charging-platform/central-system/internal/logger"
	"github.com/charging-platform/central-system/internal/metrics"
	"github.com/charging-platform/central-system/internal/store"
)

// ErrActiveSessionExists 连接器上已有进行中的会话
var ErrActiveSessionExists = errors.New("connector already has an active charging session")

// StartParams 创建会话的参数
type StartParams struct {
	TenantID      string
	StationID     string
	ConnectorID   int
	UserID        *string
	VehicleID     *string
	TransactionID int
	MeterStart    int
	StartedAt     time.Time
}

// Config 会话管理器配置
type Config struct {
	// SweepInterval 重复会话清理周期，0表示关闭后台清理
	SweepInterval time.Duration `json:"sweepInterval"`
	// DefaultCurrency 未选中方案时的币种
	DefaultCurrency string `json:"defaultCurrency"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		SweepInterval:   time.Minute,
		DefaultCurrency: "EUR",
	}
}

// Manager 充电会话状态机
// 会话唯一入口状态是Charging；Completed和Stopped为终态。
// 同一连接器最多一个Charging会话，重复时保留最早开始的。
type Manager struct {
	config     *Config
	sessions   store.SessionStore
	stations   store.StationStore
	tariffs    store.TariffStore
	auth       store.AuthStore
	billings   store.BillingStore
	engine     *billing.Engine
	notifier   capability.Notifier
	billingSvc capability.BillingService

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    zerolog.Logger
}

// NewManager 创建会话管理器
func NewManager(
	config *Config,
	sessions store.SessionStore,
	stations store.StationStore,
	tariffs store.TariffStore,
	auth store.AuthStore,
	billings store.BillingStore,
	engine *billing.Engine,
	notifier capability.Notifier,
	billingSvc capability.BillingService,
	log *logger.Logger,
) *Manager {
	if config == nil {
		config = DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		config:     config,
		sessions:   sessions,
		stations:   stations,
		tariffs:    tariffs,
		auth:       auth,
		billings:   billings,
		engine:     engine,
		notifier:   notifier,
		billingSvc: billingSvc,
		ctx:        ctx,
		cancel:     cancel,
		log:        log.Component("session-manager"),
	}
}

// Start 启动后台重复会话清理
func (m *Manager) Start() {
	if m.config.SweepInterval <= 0 {
		return
	}
	m.wg.Add(1)
	go m.sweepRoutine()
	m.log.Info().Dur("interval", m.config.SweepInterval).Msg("Session manager started")
}

// Stop 停止后台任务
func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()
}

// Session 按ID获取会话
func (m *Manager) Session(ctx context.Context, id string) (*model.ChargingSession, error) {
	return m.sessions.GetSession(ctx, id)
}

// ActiveSession 连接器上当前的Charging会话，按开始时间取最早的一个
// 不存在时返回(nil, nil)。
func (m *Manager) ActiveSession(ctx context.Context, stationID string, connectorID int) (*model.ChargingSession, error) {
	active, err := m.sessions.ListActiveSessionsByConnector(ctx, stationID, connectorID)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, nil
	}
	return active[0], nil
}

// LatestActiveSession 连接器上最近开始的Charging会话
// 站点上报不带交易ID的电表数据时归属到最新的会话，不存在时返回(nil, nil)。
func (m *Manager) LatestActiveSession(ctx context.Context, stationID string, connectorID int) (*model.ChargingSession, error) {
	active, err := m.sessions.ListActiveSessionsByConnector(ctx, stationID, connectorID)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, nil
	}
	return active[len(active)-1], nil
}

// StartSession 创建一个Charging状态的新会话
// 连接器上已有Charging会话时返回ErrActiveSessionExists。
func (m *Manager) StartSession(ctx context.Context, params StartParams) (*model.ChargingSession, error) {
	existing, err := m.ActiveSession(ctx, params.StationID, params.ConnectorID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, ErrActiveSessionExists
	}

	startedAt := params.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}

	now := time.Now().UTC()
	session := &model.ChargingSession{
		ID:            uuid.New().String(),
		TenantID:      params.TenantID,
		StationID:     params.StationID,
		ConnectorID:   params.ConnectorID,
		UserID:        params.UserID,
		VehicleID:     params.VehicleID,
		TransactionID: params.TransactionID,
		StartedAt:     startedAt,
		MeterStart:    params.MeterStart,
		Currency:      m.config.DefaultCurrency,
		Status:        model.SessionStatusCharging,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := m.sessions.SaveSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	metrics.SessionsStarted.Inc()
	m.notifySession(ctx, session)
	m.log.Info().
		Str("session_id", session.ID).
		Str("station_id", session.StationID).
		Int("connector_id", session.ConnectorID).
		Msg("Charging session started")

	return session, nil
}

// AssignTransaction 为会话绑定交易ID，只允许绑定一次
// 远程启动的占位会话电表起始读数为0，绑定时以站点上报的读数和时间为准，
// 否则后续电量结算会把电表绝对读数当作本次充电量。
func (m *Manager) AssignTransaction(ctx context.Context, session *model.ChargingSession, transactionID int, meterStart int, startedAt time.Time) error {
	if session.TransactionID != 0 {
		return fmt.Errorf("session %s already has transaction %d", session.ID, session.TransactionID)
	}
	session.TransactionID = transactionID
	session.MeterStart = meterStart
	if !startedAt.IsZero() {
		session.StartedAt = startedAt
	}
	session.UpdatedAt = time.Now().UTC()
	if err := m.sessions.SaveSession(ctx, session); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	m.notifySession(ctx, session)
	return nil
}

// RecordEnergy 更新会话电量并重算实时费用
func (m *Manager) RecordEnergy(ctx context.Context, session *model.ChargingSession, energyKWh float64) error {
	session.EnergyKWh = energyKWh
	result := m.costFor(ctx, session, time.Now().UTC())
	session.Cost = result.Total
	session.Currency = result.Currency
	session.UpdatedAt = time.Now().UTC()

	if err := m.sessions.SaveSession(ctx, session); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	m.notifySession(ctx, session)
	return nil
}

// Complete 结束会话：计算最终费用，置为Completed，幂等地创建计费记录
func (m *Manager) Complete(ctx context.Context, session *model.ChargingSession, energyKWh float64, endedAt time.Time) error {
	session.EnergyKWh = energyKWh
	session.ChargingCompletedAt = &endedAt
	session.EndedAt = &endedAt

	result := m.costFor(ctx, session, endedAt)
	session.Cost = result.Total
	session.Currency = result.Currency
	session.Status = model.SessionStatusCompleted
	session.UpdatedAt = time.Now().UTC()

	if err := m.sessions.SaveSession(ctx, session); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	metrics.SessionsEnded.WithLabelValues(string(model.SessionStatusCompleted)).Inc()
	metrics.SessionCost.Observe(session.Cost)

	m.createBillingRecord(ctx, session)
	m.notifySession(ctx, session)

	m.log.Info().
		Str("session_id", session.ID).
		Float64("energy_kwh", session.EnergyKWh).
		Float64("cost", session.Cost).
		Str("currency", session.Currency).
		Msg("Charging session completed")

	return nil
}

// ForceStop 将会话置为Stopped，不计费
// 用于重复会话清理和运营侧干预。
func (m *Manager) ForceStop(ctx context.Context, session *model.ChargingSession) error {
	now := time.Now().UTC()
	session.Status = model.SessionStatusStopped
	if session.EndedAt == nil {
		session.EndedAt = &now
	}
	session.UpdatedAt = now

	if err := m.sessions.SaveSession(ctx, session); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	metrics.SessionsEnded.WithLabelValues(string(model.SessionStatusStopped)).Inc()
	m.notifySession(ctx, session)
	return nil
}

// ResolveDuplicates 清理连接器上的重复Charging会话
// 保留最早开始的一个，其余强制置为Stopped。返回被停止的数量。
func (m *Manager) ResolveDuplicates(ctx context.Context, stationID string, connectorID int) (int, error) {
	active, err := m.sessions.ListActiveSessionsByConnector(ctx, stationID, connectorID)
	if err != nil {
		return 0, err
	}
	if len(active) <= 1 {
		return 0, nil
	}

	stopped := 0
	for _, duplicate := range active[1:] {
		if err := m.ForceStop(ctx, duplicate); err != nil {
			m.log.Error().Err(err).Str("session_id", duplicate.ID).Msg("Failed to stop duplicate session")
			continue
		}
		stopped++
		m.log.Warn().
			Str("kept_session_id", active[0].ID).
			Str("stopped_session_id", duplicate.ID).
			Str("station_id", stationID).
			Int("connector_id", connectorID).
			Msg("Duplicate charging session resolved")
	}
	return stopped, nil
}

// FinalCost 对会话做一次费用计算，不修改存储
func (m *Manager) FinalCost(ctx context.Context, session *model.ChargingSession, now time.Time) *billing.CostResult {
	return m.costFor(ctx, session, now)
}

// costFor 选择适用方案并计算费用，无方案时引擎落到保底价
func (m *Manager) costFor(ctx context.Context, session *model.ChargingSession, now time.Time) *billing.CostResult {
	tariffs, err := m.tariffs.ListTariffs(ctx)
	if err != nil {
		m.log.Error().Err(err).Msg("Failed to load tariffs, using fallback rate")
		return m.engine.Cost(session, nil, now)
	}

	var user *model.User
	if session.UserID != nil {
		user, err = m.auth.GetUser(ctx, *session.UserID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			m.log.Error().Err(err).Str("user_id", *session.UserID).Msg("Failed to load user for tariff selection")
		}
	}

	tariff := billing.SelectTariff(tariffs, session.TenantID, user, now)
	return m.engine.Cost(session, tariff, now)
}

// createBillingRecord 幂等地创建计费记录，失败只记录日志
func (m *Manager) createBillingRecord(ctx context.Context, session *model.ChargingSession) {
	if _, err := m.billings.GetBillingRecordBySession(ctx, session.ID); err == nil {
		m.log.Debug().Str("session_id", session.ID).Msg("Billing record already exists, skipping")
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		m.log.Error().Err(err).Str("session_id", session.ID).Msg("Failed to check existing billing record")
		return
	}

	record := &model.BillingRecord{
		ID:        uuid.New().String(),
		SessionID: session.ID,
		StationID: session.StationID,
		TenantID:  session.TenantID,
		Amount:    session.Cost,
		Currency:  session.Currency,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.billings.SaveBillingRecord(ctx, record); err != nil {
		m.log.Error().Err(err).Str("session_id", session.ID).Msg("Failed to save billing record")
		return
	}
	m.notifier.NotifyBillingRecord(ctx, record)

	if err := m.billingSvc.CreateTransactionForSession(ctx, session); err != nil {
		m.log.Error().Err(err).Str("session_id", session.ID).Msg("Billing service call failed")
	}
}

// notifySession 发送会话更新通知，失败由实现方自行记录
func (m *Manager) notifySession(ctx context.Context, session *model.ChargingSession) {
	m.notifier.NotifySessionUpdate(ctx, session)
}

// sweepRoutine 周期性地清理所有连接器上的重复会话
func (m *Manager) sweepRoutine() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.sweepDuplicates()
		}
	}
}

// sweepDuplicates 遍历全部站点连接器执行重复会话清理
func (m *Manager) sweepDuplicates() {
	ctx, cancel := context.WithTimeout(m.ctx, 30*time.Second)
	defer cancel()

	stations, err := m.stations.ListStations(ctx)
	if err != nil {
		m.log.Error().Err(err).Msg("Duplicate sweep failed to list stations")
		return
	}

	for _, station := range stations {
		connectors, err := m.stations.ListConnectors(ctx, station.ID)
		if err != nil {
			m.log.Error().Err(err).Str("station_id", station.ID).Msg("Duplicate sweep failed to list connectors")
			continue
		}
		for _, connector := range connectors {
			if _, err := m.ResolveDuplicates(ctx, station.ID, connector.ID); err != nil {
				m.log.Error().Err(err).
					Str("station_id", station.ID).
					Int("connector_id", connector.ID).
					Msg("Duplicate sweep failed")
			}
		}
	}
}
