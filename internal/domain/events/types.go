package events

import (
	"time"
)

// EventType 事件类型
type EventType string

const (
	// 站点生命周期事件
	EventTypeStationConnected    EventType = "station.connected"
	EventTypeStationDisconnected EventType = "station.disconnected"
	EventTypeStationRegistered   EventType = "station.registered"
	EventTypeStationRejected     EventType = "station.rejected"
	EventTypeStationHeartbeat    EventType = "station.heartbeat"

	// 状态事件
	EventTypeStationStatusChanged   EventType = "station.status_changed"
	EventTypeConnectorStatusChanged EventType = "connector.status_changed"
	EventTypeFirmwareStatusChanged  EventType = "firmware.status_changed"

	// 充电会话事件
	EventTypeSessionStarted           EventType = "session.started"
	EventTypeSessionUpdated           EventType = "session.updated"
	EventTypeSessionChargingCompleted EventType = "session.charging_completed"
	EventTypeSessionEnded             EventType = "session.ended"

	// 计费事件
	EventTypeBillingRecordCreated EventType = "billing.record_created"

	// 授权事件
	EventTypeAuthorizationGranted EventType = "authorization.granted"
	EventTypeAuthorizationDenied  EventType = "authorization.denied"

	// 电表数据事件
	EventTypeMeterValuesReceived EventType = "meter_values.received"

	// 远程指令事件
	EventTypeCommandDispatched EventType = "command.dispatched"
	EventTypeCommandCompleted  EventType = "command.completed"
	EventTypeCommandFailed     EventType = "command.failed"

	// 错误事件
	EventTypeProtocolError EventType = "protocol.error"
)

// EventSeverity 事件严重程度
type EventSeverity string

const (
	EventSeverityInfo     EventSeverity = "info"
	EventSeverityWarning  EventSeverity = "warning"
	EventSeverityError    EventSeverity = "error"
	EventSeverityCritical EventSeverity = "critical"
)

// StationInfo 站点基本信息
type StationInfo struct {
	ID              string    `json:"id"`
	TenantID        string    `json:"tenant_id,omitempty"`
	Vendor          string    `json:"vendor"`
	Model           string    `json:"model"`
	SerialNumber    *string   `json:"serial_number,omitempty"`
	FirmwareVersion *string   `json:"firmware_version,omitempty"`
	Status          string    `json:"status"`
	LastSeen        time.Time `json:"last_seen"`
}

// ConnectorInfo 连接器信息
type ConnectorInfo struct {
	ID               int     `json:"id"`
	StationID        string  `json:"station_id"`
	Status           string  `json:"status"`
	ErrorCode        *string `json:"error_code,omitempty"`
	ErrorDescription *string `json:"error_description,omitempty"`
	VendorErrorCode  *string `json:"vendor_error_code,omitempty"`
}

// SessionInfo 充电会话信息
type SessionInfo struct {
	ID                  string     `json:"id"`
	TenantID            string     `json:"tenant_id,omitempty"`
	StationID           string     `json:"station_id"`
	ConnectorID         int        `json:"connector_id"`
	TransactionID       int        `json:"transaction_id"`
	UserID              *string    `json:"user_id,omitempty"`
	Status              string     `json:"status"`
	StartedAt           time.Time  `json:"started_at"`
	ChargingCompletedAt *time.Time `json:"charging_completed_at,omitempty"`
	EndedAt             *time.Time `json:"ended_at,omitempty"`
	EnergyKWh           float64    `json:"energy_kwh"`
	Cost                float64    `json:"cost"`
	Currency            string     `json:"currency,omitempty"`
}

// BillingInfo 计费记录信息
type BillingInfo struct {
	RecordID  string    `json:"record_id"`
	SessionID string    `json:"session_id"`
	TenantID  string    `json:"tenant_id,omitempty"`
	Amount    float64   `json:"amount"`
	Currency  string    `json:"currency"`
	CreatedAt time.Time `json:"created_at"`
}

// MeterReading 统一的电表读数
type MeterReading struct {
	Measurand string    `json:"measurand"`
	Value     string    `json:"value"`
	Unit      *string   `json:"unit,omitempty"`
	Phase     *string   `json:"phase,omitempty"`
	Context   *string   `json:"context,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// CommandInfo 远程指令信息
type CommandInfo struct {
	ID          string                 `json:"id"`
	StationID   string                 `json:"station_id"`
	Action      string                 `json:"action"`
	Status      string                 `json:"status"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	Error       *string                `json:"error,omitempty"`
}

// ErrorInfo 错误信息
type ErrorInfo struct {
	Code        string                 `json:"code"`
	Description string                 `json:"description"`
	Details     map[string]interface{} `json:"details,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

// Metadata 事件元数据
type Metadata struct {
	Source          string                 `json:"source"`
	CorrelationID   *string                `json:"correlation_id,omitempty"`
	TenantID        *string                `json:"tenant_id,omitempty"`
	ProtocolVersion string                 `json:"protocol_version"`
	MessageID       *string                `json:"message_id,omitempty"`
	Custom          map[string]interface{} `json:"custom,omitempty"`
}
