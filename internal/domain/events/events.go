package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event 统一业务事件接口
type Event interface {
	// GetID 获取事件ID
	GetID() string
	// GetType 获取事件类型
	GetType() EventType
	// GetStationID 获取站点ID
	GetStationID() string
	// GetTimestamp 获取事件时间戳
	GetTimestamp() time.Time
	// GetSeverity 获取事件严重程度
	GetSeverity() EventSeverity
	// GetMetadata 获取事件元数据
	GetMetadata() Metadata
	// ToJSON 序列化为JSON
	ToJSON() ([]byte, error)
}

// BaseEvent 基础事件结构
type BaseEvent struct {
	ID        string        `json:"id"`
	Type      EventType     `json:"type"`
	StationID string        `json:"station_id"`
	Timestamp time.Time     `json:"timestamp"`
	Severity  EventSeverity `json:"severity"`
	Metadata  Metadata      `json:"metadata"`
}

// GetID 实现Event接口
func (e *BaseEvent) GetID() string {
	return e.ID
}

// GetType 实现Event接口
func (e *BaseEvent) GetType() EventType {
	return e.Type
}

// GetStationID 实现Event接口
func (e *BaseEvent) GetStationID() string {
	return e.StationID
}

// GetTimestamp 实现Event接口
func (e *BaseEvent) GetTimestamp() time.Time {
	return e.Timestamp
}

// GetSeverity 实现Event接口
func (e *BaseEvent) GetSeverity() EventSeverity {
	return e.Severity
}

// GetMetadata 实现Event接口
func (e *BaseEvent) GetMetadata() Metadata {
	return e.Metadata
}

// NewBaseEvent 创建基础事件
func NewBaseEvent(eventType EventType, stationID string, severity EventSeverity, metadata Metadata) *BaseEvent {
	return &BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		StationID: stationID,
		Timestamp: time.Now().UTC(),
		Severity:  severity,
		Metadata:  metadata,
	}
}

// StationConnectedEvent 站点连接事件
type StationConnectedEvent struct {
	*BaseEvent
	StationInfo StationInfo `json:"station_info"`
}

// ToJSON 实现Event接口
func (e *StationConnectedEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// StationDisconnectedEvent 站点断开连接事件
type StationDisconnectedEvent struct {
	*BaseEvent
	Reason string `json:"reason"`
}

// ToJSON 实现Event接口
func (e *StationDisconnectedEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// StationStatusChangedEvent 站点状态变更事件
type StationStatusChangedEvent struct {
	*BaseEvent
	StationInfo    StationInfo `json:"station_info"`
	PreviousStatus string      `json:"previous_status"`
}

// ToJSON 实现Event接口
func (e *StationStatusChangedEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// ConnectorStatusChangedEvent 连接器状态变更事件
type ConnectorStatusChangedEvent struct {
	*BaseEvent
	ConnectorInfo  ConnectorInfo `json:"connector_info"`
	PreviousStatus string        `json:"previous_status"`
}

// ToJSON 实现Event接口
func (e *ConnectorStatusChangedEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FirmwareStatusChangedEvent 固件更新状态事件
type FirmwareStatusChangedEvent struct {
	*BaseEvent
	Status string `json:"status"`
}

// ToJSON 实现Event接口
func (e *FirmwareStatusChangedEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// SessionEvent 充电会话事件，session.started/updated/charging_completed/ended共用
type SessionEvent struct {
	*BaseEvent
	SessionInfo SessionInfo `json:"session_info"`
}

// ToJSON 实现Event接口
func (e *SessionEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// BillingRecordCreatedEvent 计费记录创建事件
type BillingRecordCreatedEvent struct {
	*BaseEvent
	BillingInfo BillingInfo `json:"billing_info"`
}

// ToJSON 实现Event接口
func (e *BillingRecordCreatedEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// MeterValuesReceivedEvent 电表值接收事件
type MeterValuesReceivedEvent struct {
	*BaseEvent
	ConnectorID   int            `json:"connector_id"`
	TransactionID *int           `json:"transaction_id,omitempty"`
	Readings      []MeterReading `json:"readings"`
}

// ToJSON 实现Event接口
func (e *MeterValuesReceivedEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// CommandEvent 远程指令事件
type CommandEvent struct {
	*BaseEvent
	Command CommandInfo `json:"command"`
}

// ToJSON 实现Event接口
func (e *CommandEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// ProtocolErrorEvent 协议错误事件
type ProtocolErrorEvent struct {
	*BaseEvent
	ErrorInfo ErrorInfo `json:"error_info"`
}

// ToJSON 实现Event接口
func (e *ProtocolErrorEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// EventFactory 事件工厂
type EventFactory struct {
	source string
}

// NewEventFactory 创建事件工厂
func NewEventFactory(source string) *EventFactory {
	return &EventFactory{source: source}
}

func (f *EventFactory) metadata() Metadata {
	return Metadata{
		Source:          f.source,
		ProtocolVersion: "ocpp1.6",
	}
}

// CreateStationConnectedEvent 创建站点连接事件
func (f *EventFactory) CreateStationConnectedEvent(stationID string, info StationInfo) *StationConnectedEvent {
	return &StationConnectedEvent{
		BaseEvent:   NewBaseEvent(EventTypeStationConnected, stationID, EventSeverityInfo, f.metadata()),
		StationInfo: info,
	}
}

// CreateStationDisconnectedEvent 创建站点断开事件
func (f *EventFactory) CreateStationDisconnectedEvent(stationID string, reason string) *StationDisconnectedEvent {
	return &StationDisconnectedEvent{
		BaseEvent: NewBaseEvent(EventTypeStationDisconnected, stationID, EventSeverityInfo, f.metadata()),
		Reason:    reason,
	}
}

// CreateStationStatusChangedEvent 创建站点状态变更事件
func (f *EventFactory) CreateStationStatusChangedEvent(stationID string, info StationInfo, previous string) *StationStatusChangedEvent {
	return &StationStatusChangedEvent{
		BaseEvent:      NewBaseEvent(EventTypeStationStatusChanged, stationID, EventSeverityInfo, f.metadata()),
		StationInfo:    info,
		PreviousStatus: previous,
	}
}

// CreateConnectorStatusChangedEvent 创建连接器状态变更事件
func (f *EventFactory) CreateConnectorStatusChangedEvent(stationID string, info ConnectorInfo, previous string) *ConnectorStatusChangedEvent {
	return &ConnectorStatusChangedEvent{
		BaseEvent:      NewBaseEvent(EventTypeConnectorStatusChanged, stationID, EventSeverityInfo, f.metadata()),
		ConnectorInfo:  info,
		PreviousStatus: previous,
	}
}

// CreateFirmwareStatusChangedEvent 创建固件状态事件
func (f *EventFactory) CreateFirmwareStatusChangedEvent(stationID string, status string) *FirmwareStatusChangedEvent {
	return &FirmwareStatusChangedEvent{
		BaseEvent: NewBaseEvent(EventTypeFirmwareStatusChanged, stationID, EventSeverityInfo, f.metadata()),
		Status:    status,
	}
}

// CreateSessionEvent 创建充电会话事件
func (f *EventFactory) CreateSessionEvent(eventType EventType, stationID string, info SessionInfo) *SessionEvent {
	return &SessionEvent{
		BaseEvent:   NewBaseEvent(eventType, stationID, EventSeverityInfo, f.metadata()),
		SessionInfo: info,
	}
}

// CreateBillingRecordCreatedEvent 创建计费记录事件
func (f *EventFactory) CreateBillingRecordCreatedEvent(stationID string, info BillingInfo) *BillingRecordCreatedEvent {
	return &BillingRecordCreatedEvent{
		BaseEvent:   NewBaseEvent(EventTypeBillingRecordCreated, stationID, EventSeverityInfo, f.metadata()),
		BillingInfo: info,
	}
}

// CreateMeterValuesReceivedEvent 创建电表值接收事件
func (f *EventFactory) CreateMeterValuesReceivedEvent(stationID string, connectorID int, transactionID *int, readings []MeterReading) *MeterValuesReceivedEvent {
	return &MeterValuesReceivedEvent{
		BaseEvent:     NewBaseEvent(EventTypeMeterValuesReceived, stationID, EventSeverityInfo, f.metadata()),
		ConnectorID:   connectorID,
		TransactionID: transactionID,
		Readings:      readings,
	}
}

// CreateCommandEvent 创建远程指令事件
func (f *EventFactory) CreateCommandEvent(eventType EventType, stationID string, command CommandInfo) *CommandEvent {
	severity := EventSeverityInfo
	if eventType == EventTypeCommandFailed {
		severity = EventSeverityWarning
	}
	return &CommandEvent{
		BaseEvent: NewBaseEvent(eventType, stationID, severity, f.metadata()),
		Command:   command,
	}
}

// CreateProtocolErrorEvent 创建协议错误事件
func (f *EventFactory) CreateProtocolErrorEvent(stationID string, errorInfo ErrorInfo) *ProtocolErrorEvent {
	return &ProtocolErrorEvent{
		BaseEvent: NewBaseEvent(EventTypeProtocolError, stationID, EventSeverityError, f.metadata()),
		ErrorInfo: errorInfo,
	}
}
