package ocpp16

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/charging-platform/central-system/internal/business/session"
	"github.com/charging-platform/central-system/internal/cache"
	"github.com/charging-platform/central-system/internal/capability"
	"github.com/charging-platform/central-system/internal/domain/events"
	"github.com/charging-platform/central-system/internal/domain/ocpp16"
	"github.com/charging-platform/central-system/internal/domain/validation"
	"github.com/charging-platform/central-system/internal/domain/wire"
	"github.com/charging-platform/central-system/internal/logger"
	"github.com/charging-platform/central-system/internal/metrics"
	"github.com/charging-platform/central-system/internal/store"
)

// Config 调度器配置
type Config struct {
	// HeartbeatInterval BootNotification响应中下发的心跳间隔
	HeartbeatInterval time.Duration `json:"heartbeatInterval"`
	// PresenceTTL 站点归属记录的有效期
	PresenceTTL time.Duration `json:"presenceTTL"`
	// EventChannelSize 事件通道缓冲大小
	EventChannelSize int `json:"eventChannelSize"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		HeartbeatInterval: 300 * time.Second,
		PresenceTTL:       5 * time.Minute,
		EventChannelSize:  1000,
	}
}

// Deps 调度器依赖
type Deps struct {
	Stations store.StationStore
	Sessions store.SessionStore
	Auth     store.AuthStore
	Presence store.PresenceStore

	SessionManager *session.Manager
	Notifier       capability.Notifier

	// AuthCache 可选的授权解析缓存，为nil时每次都查存储
	AuthCache *cache.AuthCache
}

// Dispatcher OCPP 1.6消息调度器
// 站点发起的Call在这里路由到具体处理逻辑，产生响应和持久化副作用。
// 传输层错误(FormationViolation/NotImplemented)与业务拒绝
// (idTagInfo.status)严格分离：业务拒绝永远是成功响应里的状态字段。
type Dispatcher struct {
	config       *Config
	validator    *validation.Validator
	eventFactory *events.EventFactory
	eventChan    chan events.Event

	stations   store.StationStore
	sessions   store.SessionStore
	auth       store.AuthStore
	presence   store.PresenceStore
	sessionMgr *session.Manager
	notifier   capability.Notifier
	authCache  *cache.AuthCache

	podID string
	log   zerolog.Logger
}

// NewDispatcher 创建调度器
func NewDispatcher(config *Config, deps Deps, podID string, log *logger.Logger) *Dispatcher {
	if config == nil {
		config = DefaultConfig()
	}

	return &Dispatcher{
		config:       config,
		validator:    validation.NewValidator(),
		eventFactory: events.NewEventFactory("ocpp16-dispatcher"),
		eventChan:    make(chan events.Event, config.EventChannelSize),
		stations:     deps.Stations,
		sessions:     deps.Sessions,
		auth:         deps.Auth,
		presence:     deps.Presence,
		sessionMgr:   deps.SessionManager,
		notifier:     deps.Notifier,
		authCache:    deps.AuthCache,
		podID:        podID,
		log:          log.Component("ocpp16-dispatcher"),
	}
}

// Events 业务事件通道
func (d *Dispatcher) Events() <-chan events.Event {
	return d.eventChan
}

// HandleCall 处理站点发起的Call，返回要回写的响应帧
func (d *Dispatcher) HandleCall(ctx context.Context, stationID string, frame *wire.Frame) ([]byte, error) {
	if !validation.IsSupportedAction(frame.Action) {
		d.log.Warn().Str("station_id", stationID).Str("action", frame.Action).Msg("Unsupported action")
		metrics.CallErrors.WithLabelValues(string(wire.ErrNotImplemented)).Inc()
		return wire.EncodeCallError(frame.MessageID, wire.ErrNotImplemented,
			fmt.Sprintf("action %s is not supported", frame.Action))
	}

	request, err := d.decodeRequest(frame)
	if err != nil {
		d.log.Warn().Err(err).Str("station_id", stationID).Str("action", frame.Action).Msg("Invalid request payload")
		metrics.CallErrors.WithLabelValues(string(wire.ErrFormationViolation)).Inc()
		d.sendEvent(d.eventFactory.CreateProtocolErrorEvent(stationID, events.ErrorInfo{
			Code:        string(wire.ErrFormationViolation),
			Description: err.Error(),
			Timestamp:   time.Now().UTC(),
		}))
		return wire.EncodeCallError(frame.MessageID, wire.ErrFormationViolation, err.Error())
	}

	response, err := d.dispatch(ctx, stationID, frame.Action, request)
	if err != nil {
		return nil, err
	}

	return wire.EncodeCallResult(frame.MessageID, response)
}

// decodeRequest 按动作反序列化并校验请求载荷
func (d *Dispatcher) decodeRequest(frame *wire.Frame) (interface{}, error) {
	var request interface{}
	switch ocpp16.Action(frame.Action) {
	case ocpp16.ActionBootNotification:
		request = &ocpp16.BootNotificationRequest{}
	case ocpp16.ActionHeartbeat:
		request = &ocpp16.HeartbeatRequest{}
	case ocpp16.ActionStatusNotification:
		request = &ocpp16.StatusNotificationRequest{}
	case ocpp16.ActionFirmwareStatusNotification:
		request = &ocpp16.FirmwareStatusNotificationRequest{}
	case ocpp16.ActionAuthorize:
		request = &ocpp16.AuthorizeRequest{}
	case ocpp16.ActionStartTransaction:
		request = &ocpp16.StartTransactionRequest{}
	case ocpp16.ActionStopTransaction:
		request = &ocpp16.StopTransactionRequest{}
	case ocpp16.ActionMeterValues:
		request = &ocpp16.MeterValuesRequest{}
	default:
		return nil, fmt.Errorf("action %s has no request type", frame.Action)
	}

	if err := wire.DecodePayload(frame.Payload, request); err != nil {
		return nil, err
	}
	if err := d.validator.ValidateStruct(request); err != nil {
		return nil, err
	}
	return request, nil
}

// dispatch 路由到具体动作处理
func (d *Dispatcher) dispatch(ctx context.Context, stationID, action string, request interface{}) (interface{}, error) {
	switch ocpp16.Action(action) {
	case ocpp16.ActionBootNotification:
		return d.handleBootNotification(ctx, stationID, request.(*ocpp16.BootNotificationRequest))
	case ocpp16.ActionHeartbeat:
		return d.handleHeartbeat(ctx, stationID, request.(*ocpp16.HeartbeatRequest))
	case ocpp16.ActionStatusNotification:
		return d.handleStatusNotification(ctx, stationID, request.(*ocpp16.StatusNotificationRequest))
	case ocpp16.ActionFirmwareStatusNotification:
		return d.handleFirmwareStatusNotification(ctx, stationID, request.(*ocpp16.FirmwareStatusNotificationRequest))
	case ocpp16.ActionAuthorize:
		return d.handleAuthorize(ctx, stationID, request.(*ocpp16.AuthorizeRequest))
	case ocpp16.ActionStartTransaction:
		return d.handleStartTransaction(ctx, stationID, request.(*ocpp16.StartTransactionRequest))
	case ocpp16.ActionStopTransaction:
		return d.handleStopTransaction(ctx, stationID, request.(*ocpp16.StopTransactionRequest))
	case ocpp16.ActionMeterValues:
		return d.handleMeterValues(ctx, stationID, request.(*ocpp16.MeterValuesRequest))
	default:
		return nil, fmt.Errorf("unsupported action: %s", action)
	}
}

// refreshPresence 刷新站点归属记录，失败只记录日志
func (d *Dispatcher) refreshPresence(ctx context.Context, stationID string) {
	if d.presence == nil {
		return
	}
	if err := d.presence.SetPresence(ctx, stationID, d.podID, d.config.PresenceTTL); err != nil {
		d.log.Error().Err(err).Str("station_id", stationID).Msg("Failed to refresh presence mapping")
	}
}

// sendEvent 非阻塞发送事件，通道满时丢弃
func (d *Dispatcher) sendEvent(event events.Event) {
	select {
	case d.eventChan <- event:
	default:
		d.log.Warn().Str("type", string(event.GetType())).Msg("Event channel full, dropping event")
	}
}
