package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/charging-platform/central-system/internal/business/session"
	"github.com/charging-platform/central-system/internal/capability"
	"github.com/charging-platform/central-system/internal/domain/events"
	"github.com/charging-platform/central-system/internal/domain/model"
	"github.com/charging-platform/central-system/internal/domain/ocpp16"
	"github.com/charging-platform/central-system/internal/logger"
	"github.com/charging-platform/central-system/internal/metrics"
	"github.com/charging-platform/central-system/internal/store"
	"github.com/charging-platform/central-system/internal/transport/ws"
)

var (
	// ErrStationNotConnected 站点没有活跃的WebSocket连接
	ErrStationNotConnected = errors.New("station is not connected")
	// ErrStationStale 站点心跳超时，视为离线
	ErrStationStale = errors.New("station heartbeat is stale")
	// ErrStationUnavailable 站点处于不可用状态
	ErrStationUnavailable = errors.New("station is unavailable")
	// ErrConnectorBusy 连接器不可用或已有进行中的会话
	ErrConnectorBusy = errors.New("connector is not available")
	// ErrNoTransactionID 会话尚未绑定交易ID，无法下发远程停止
	ErrNoTransactionID = errors.New("session has no transaction id")
	// ErrCommandRejected 站点拒绝了远程指令
	ErrCommandRejected = errors.New("command rejected by station")
)

// StationCaller 向站点发起服务端Call的传输抽象
type StationCaller interface {
	HasConnection(stationID string) bool
	Call(ctx context.Context, stationID string, action string, payload interface{}) (*ws.CallOutcome, error)
}

// Config 指令编排器配置
type Config struct {
	// EventChannelSize 事件通道缓冲大小
	EventChannelSize int `json:"eventChannelSize"`
	// ConfigCommandTimeout 配置类指令的后台等待上限
	ConfigCommandTimeout time.Duration `json:"configCommandTimeout"`
	// HeartbeatTimeout 远程启动前置检查的心跳超时阈值
	HeartbeatTimeout time.Duration `json:"heartbeatTimeout"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		EventChannelSize:     1000,
		ConfigCommandTimeout: 60 * time.Second,
		HeartbeatTimeout:     model.DefaultHeartbeatTimeout,
	}
}

// StartRequest 远程启动请求
type StartRequest struct {
	StationID   string
	ConnectorID int
	UserID      *string
	VehicleID   *string
	// ChargingProfile 原样透传到RemoteStartTransaction
	ChargingProfile json.RawMessage
}

// Orchestrator 服务端指令编排器
// 校验前置条件后向站点下发远程指令。远程停止遵循最终一致语义：
// 指令投递失败不回滚本地已经完成的状态变更。
type Orchestrator struct {
	config       *Config
	caller       StationCaller
	stations     store.StationStore
	auth         store.AuthStore
	sessionMgr   *session.Manager
	tenants      capability.TenantResolver
	eventFactory *events.EventFactory
	eventChan    chan events.Event

	ctx    context.Context
	cancel context.CancelFunc
	log    zerolog.Logger
}

// NewOrchestrator 创建指令编排器
func NewOrchestrator(config *Config, caller StationCaller, stations store.StationStore,
	auth store.AuthStore, sessionMgr *session.Manager, tenants capability.TenantResolver,
	log *logger.Logger) *Orchestrator {
	if config == nil {
		config = DefaultConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		config:       config,
		caller:       caller,
		stations:     stations,
		auth:         auth,
		sessionMgr:   sessionMgr,
		tenants:      tenants,
		eventFactory: events.NewEventFactory("command-orchestrator"),
		eventChan:    make(chan events.Event, config.EventChannelSize),
		ctx:          ctx,
		cancel:       cancel,
		log:          log.Component("command-orchestrator"),
	}
}

// Events 指令事件通道
func (o *Orchestrator) Events() <-chan events.Event {
	return o.eventChan
}

// Stop 停止后台指令处理
func (o *Orchestrator) Stop() {
	o.cancel()
}

// StartSession 远程启动充电
// 传输成功即创建Charging会话，交易ID留空等待站点的StartTransaction回填。
func (o *Orchestrator) StartSession(ctx context.Context, req StartRequest) (*model.ChargingSession, error) {
	station, err := o.stations.GetStation(ctx, req.StationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load station %s: %w", req.StationID, err)
	}
	if err := o.checkStationReady(station); err != nil {
		return nil, err
	}

	connector, err := o.stations.GetConnector(ctx, req.StationID, req.ConnectorID)
	if err != nil {
		return nil, fmt.Errorf("failed to load connector %d on station %s: %w", req.ConnectorID, req.StationID, err)
	}
	if connector.Status != model.ConnectorStatusAvailable {
		return nil, ErrConnectorBusy
	}
	active, err := o.sessionMgr.ActiveSession(ctx, req.StationID, req.ConnectorID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, ErrConnectorBusy
	}

	idTag, err := o.resolveIdTag(ctx, station.TenantID, req.UserID)
	if err != nil {
		return nil, err
	}

	connectorID := req.ConnectorID
	outcome, err := o.call(ctx, req.StationID, string(ocpp16.ActionRemoteStartTransaction),
		&ocpp16.RemoteStartTransactionRequest{ConnectorId: &connectorID, IdTag: idTag, ChargingProfile: req.ChargingProfile})
	if err != nil {
		return nil, err
	}

	var resp ocpp16.RemoteStartTransactionResponse
	if err := json.Unmarshal(outcome.Payload, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode RemoteStartTransaction response: %w", err)
	}
	if resp.Status != ocpp16.RemoteStartStopStatusAccepted {
		metrics.CommandsExecuted.WithLabelValues(string(ocpp16.ActionRemoteStartTransaction), "rejected").Inc()
		return nil, ErrCommandRejected
	}
	metrics.CommandsExecuted.WithLabelValues(string(ocpp16.ActionRemoteStartTransaction), "accepted").Inc()

	tenantID := station.TenantID
	if o.tenants != nil {
		if resolved, err := o.tenants.ResolveTenant(ctx, req.StationID); err == nil && resolved != "" {
			tenantID = resolved
		}
	}

	created, err := o.sessionMgr.StartSession(ctx, session.StartParams{
		TenantID:    tenantID,
		StationID:   req.StationID,
		ConnectorID: req.ConnectorID,
		UserID:      req.UserID,
		VehicleID:   req.VehicleID,
		MeterStart:  0,
		StartedAt:   time.Now().UTC(),
	})
	if err != nil && !errors.Is(err, session.ErrActiveSessionExists) {
		return nil, err
	}

	o.markConnector(ctx, req.StationID, req.ConnectorID, model.ConnectorStatusOccupied)
	o.sendCommandEvent(events.EventTypeCommandCompleted, req.StationID,
		string(ocpp16.ActionRemoteStartTransaction), "Accepted", nil)

	o.log.Info().
		Str("station_id", req.StationID).
		Int("connector_id", req.ConnectorID).
		Str("session_id", created.ID).
		Msg("Remote start accepted")

	return created, nil
}

// StopSession 远程停止充电
// 本地先完结：即使远程停止指令投递失败，会话也会被标记为Completed并计费。
func (o *Orchestrator) StopSession(ctx context.Context, sessionID string) error {
	sess, err := o.sessionMgr.Session(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status.IsTerminal() {
		return nil
	}
	if sess.TransactionID == 0 {
		return ErrNoTransactionID
	}

	outcome, err := o.call(ctx, sess.StationID, string(ocpp16.ActionRemoteStopTransaction),
		&ocpp16.RemoteStopTransactionRequest{TransactionId: sess.TransactionID})
	switch {
	case err != nil:
		o.log.Warn().Err(err).
			Str("session_id", sessionID).
			Str("station_id", sess.StationID).
			Msg("Remote stop delivery failed, completing session locally")
	default:
		var resp ocpp16.RemoteStopTransactionResponse
		if err := json.Unmarshal(outcome.Payload, &resp); err != nil {
			o.log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to decode RemoteStopTransaction response")
		} else if resp.Status != ocpp16.RemoteStartStopStatusAccepted {
			o.log.Warn().Str("session_id", sessionID).Msg("Remote stop rejected by station, completing session locally")
		}
		metrics.CommandsExecuted.WithLabelValues(string(ocpp16.ActionRemoteStopTransaction), "accepted").Inc()
	}

	if err := o.sessionMgr.Complete(ctx, sess, sess.EnergyKWh, time.Now().UTC()); err != nil {
		return err
	}
	o.markConnector(ctx, sess.StationID, sess.ConnectorID, model.ConnectorStatusAvailable)
	o.sendCommandEvent(events.EventTypeCommandCompleted, sess.StationID,
		string(ocpp16.ActionRemoteStopTransaction), "Accepted", nil)
	return nil
}

// GetConfiguration 查询站点配置
// 即发即弃：传输投递后立即返回，返回的配置键在后台持久化。
func (o *Orchestrator) GetConfiguration(ctx context.Context, stationID string, keys []string) error {
	if !o.caller.HasConnection(stationID) {
		return ErrStationNotConnected
	}

	go func() {
		bg, cancel := context.WithTimeout(o.ctx, o.config.ConfigCommandTimeout)
		defer cancel()

		outcome, err := o.call(bg, stationID, string(ocpp16.ActionGetConfiguration),
			&ocpp16.GetConfigurationRequest{Key: keys})
		if err != nil {
			o.log.Warn().Err(err).Str("station_id", stationID).Msg("GetConfiguration failed")
			return
		}

		var resp ocpp16.GetConfigurationResponse
		if err := json.Unmarshal(outcome.Payload, &resp); err != nil {
			o.log.Warn().Err(err).Str("station_id", stationID).Msg("Failed to decode GetConfiguration response")
			return
		}

		now := time.Now().UTC()
		for _, kv := range resp.ConfigurationKey {
			key := model.ConfigurationKey{
				StationID: stationID,
				Key:       kv.Key,
				Value:     kv.Value,
				Readonly:  kv.Readonly,
				UpdatedAt: now,
			}
			if err := o.stations.SaveConfigurationKey(bg, stationID, key); err != nil {
				o.log.Error().Err(err).Str("station_id", stationID).Str("key", kv.Key).Msg("Failed to persist configuration key")
			}
		}
		metrics.CommandsExecuted.WithLabelValues(string(ocpp16.ActionGetConfiguration), "accepted").Inc()
		o.log.Info().
			Str("station_id", stationID).
			Int("keys", len(resp.ConfigurationKey)).
			Int("unknown_keys", len(resp.UnknownKey)).
			Msg("Station configuration persisted")
	}()

	o.sendCommandEvent(events.EventTypeCommandDispatched, stationID, string(ocpp16.ActionGetConfiguration), "Dispatched", nil)
	return nil
}

// ChangeConfiguration 修改站点配置
// 即发即弃：结果只记录日志，权威状态由站点后续上报刷新。
func (o *Orchestrator) ChangeConfiguration(ctx context.Context, stationID, key, value string) error {
	if !o.caller.HasConnection(stationID) {
		return ErrStationNotConnected
	}

	go func() {
		bg, cancel := context.WithTimeout(o.ctx, o.config.ConfigCommandTimeout)
		defer cancel()

		outcome, err := o.call(bg, stationID, string(ocpp16.ActionChangeConfiguration),
			&ocpp16.ChangeConfigurationRequest{Key: key, Value: value})
		if err != nil {
			o.log.Warn().Err(err).Str("station_id", stationID).Str("key", key).Msg("ChangeConfiguration failed")
			return
		}

		var resp ocpp16.ChangeConfigurationResponse
		if err := json.Unmarshal(outcome.Payload, &resp); err != nil {
			o.log.Warn().Err(err).Str("station_id", stationID).Msg("Failed to decode ChangeConfiguration response")
			return
		}
		metrics.CommandsExecuted.WithLabelValues(string(ocpp16.ActionChangeConfiguration), string(resp.Status)).Inc()
		o.log.Info().
			Str("station_id", stationID).
			Str("key", key).
			Str("status", string(resp.Status)).
			Msg("ChangeConfiguration completed")
	}()

	o.sendCommandEvent(events.EventTypeCommandDispatched, stationID, string(ocpp16.ActionChangeConfiguration), "Dispatched",
		map[string]interface{}{"key": key, "value": value})
	return nil
}

// GetDiagnostics 请求站点上传诊断文件
func (o *Orchestrator) GetDiagnostics(ctx context.Context, stationID, location string) error {
	if !o.caller.HasConnection(stationID) {
		return ErrStationNotConnected
	}

	go func() {
		bg, cancel := context.WithTimeout(o.ctx, o.config.ConfigCommandTimeout)
		defer cancel()

		outcome, err := o.call(bg, stationID, string(ocpp16.ActionGetDiagnostics),
			&ocpp16.GetDiagnosticsRequest{Location: location})
		if err != nil {
			o.log.Warn().Err(err).Str("station_id", stationID).Msg("GetDiagnostics failed")
			return
		}

		var resp ocpp16.GetDiagnosticsResponse
		if err := json.Unmarshal(outcome.Payload, &resp); err != nil {
			o.log.Warn().Err(err).Str("station_id", stationID).Msg("Failed to decode GetDiagnostics response")
			return
		}
		metrics.CommandsExecuted.WithLabelValues(string(ocpp16.ActionGetDiagnostics), "accepted").Inc()
		event := o.log.Info().Str("station_id", stationID)
		if resp.FileName != nil {
			event = event.Str("file_name", *resp.FileName)
		}
		event.Msg("GetDiagnostics completed")
	}()

	o.sendCommandEvent(events.EventTypeCommandDispatched, stationID, string(ocpp16.ActionGetDiagnostics), "Dispatched",
		map[string]interface{}{"location": location})
	return nil
}

// checkStationReady 远程启动的站点前置检查
// 连通性以心跳为准，套接字仍然打开但心跳超时的站点一律视为离线。
func (o *Orchestrator) checkStationReady(station *model.Station) error {
	if !o.caller.HasConnection(station.ID) {
		return ErrStationNotConnected
	}
	if !station.IsAlive(time.Now().UTC(), o.config.HeartbeatTimeout) {
		return ErrStationStale
	}
	if station.Status == model.StationStatusUnavailable || station.Status == model.StationStatusOutOfOrder {
		return ErrStationUnavailable
	}
	return nil
}

// resolveIdTag 复用用户已有的授权方式，没有用户或没有可用方式时铸造会话级标识
func (o *Orchestrator) resolveIdTag(ctx context.Context, tenantID string, userID *string) (string, error) {
	if userID != nil {
		methods, err := o.auth.ListAuthorizationMethodsByUser(ctx, *userID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return "", err
		}
		for _, method := range methods {
			if method.Active {
				return method.Identifier, nil
			}
		}
	}

	// OCPP 1.6的idTag上限20字符，截断uuid保证合规
	identifier := "RS" + uuid.New().String()[:18]
	method := &model.AuthorizationMethod{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		Identifier: identifier,
		Active:     true,
		CreatedAt:  time.Now().UTC(),
	}
	if userID != nil {
		method.UserID = *userID
	}
	if err := o.auth.SaveAuthorizationMethod(ctx, method); err != nil {
		return "", fmt.Errorf("failed to mint authorization method: %w", err)
	}
	return identifier, nil
}

// call 下发指令并把本地失败(超时/未连接)统一为error
func (o *Orchestrator) call(ctx context.Context, stationID, action string, payload interface{}) (*ws.CallOutcome, error) {
	outcome, err := o.caller.Call(ctx, stationID, action, payload)
	if err != nil {
		metrics.CommandsExecuted.WithLabelValues(action, "transport_error").Inc()
		o.sendCommandEvent(events.EventTypeCommandFailed, stationID, action, "Failed", nil)
		return nil, err
	}
	if outcome.Err != nil {
		metrics.CommandsExecuted.WithLabelValues(action, "timeout").Inc()
		o.sendCommandEvent(events.EventTypeCommandFailed, stationID, action, "Failed", nil)
		return nil, outcome.Err
	}
	if outcome.IsError() {
		metrics.CommandsExecuted.WithLabelValues(action, "call_error").Inc()
		o.sendCommandEvent(events.EventTypeCommandFailed, stationID, action, "Failed", nil)
		return nil, fmt.Errorf("station returned %s: %s", outcome.ErrorCode, outcome.ErrorDescription)
	}
	return outcome, nil
}

// markConnector 更新连接器状态，失败只记录日志
func (o *Orchestrator) markConnector(ctx context.Context, stationID string, connectorID int, status model.ConnectorStatus) {
	connector, err := o.stations.GetConnector(ctx, stationID, connectorID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			o.log.Error().Err(err).Str("station_id", stationID).Int("connector_id", connectorID).Msg("Failed to load connector")
			return
		}
		connector = &model.Connector{ID: connectorID, StationID: stationID}
	}
	if connector.Status == status {
		return
	}
	connector.Status = status
	connector.UpdatedAt = time.Now().UTC()
	if err := o.stations.SaveConnector(ctx, connector); err != nil {
		o.log.Error().Err(err).Str("station_id", stationID).Int("connector_id", connectorID).Msg("Failed to save connector")
	}
}

// sendCommandEvent 非阻塞发送指令事件
func (o *Orchestrator) sendCommandEvent(eventType events.EventType, stationID, action, status string, params map[string]interface{}) {
	event := o.eventFactory.CreateCommandEvent(eventType, stationID, events.CommandInfo{
		ID:         uuid.New().String(),
		StationID:  stationID,
		Action:     action,
		Status:     status,
		Parameters: params,
		CreatedAt:  time.Now().UTC(),
	})
	select {
	case o.eventChan <- event:
	default:
		o.log.Warn().Str("type", string(eventType)).Msg("Event channel full, dropping event")
	}
}
