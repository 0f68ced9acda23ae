package model

import (
	"time"
)

// StationStatus 充电站状态
type StationStatus string

const (
	StationStatusAvailable   StationStatus = "Available"
	StationStatusOccupied    StationStatus = "Occupied"
	StationStatusOffline     StationStatus = "Offline"
	StationStatusUnavailable StationStatus = "Unavailable"
	StationStatusOutOfOrder  StationStatus = "OutOfOrder"
)

// ConnectorStatus 连接器状态
type ConnectorStatus string

const (
	ConnectorStatusAvailable   ConnectorStatus = "Available"
	ConnectorStatusOccupied    ConnectorStatus = "Occupied"
	ConnectorStatusReserved    ConnectorStatus = "Reserved"
	ConnectorStatusUnavailable ConnectorStatus = "Unavailable"
	ConnectorStatusFaulted     ConnectorStatus = "Faulted"
)

// Station 充电站实体
type Station struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`

	// BootNotification 上报的元数据
	Vendor            string  `json:"vendor"`
	Model             string  `json:"model"`
	SerialNumber      *string `json:"serial_number,omitempty"`
	FirmwareVersion   *string `json:"firmware_version,omitempty"`
	Iccid             *string `json:"iccid,omitempty"`
	Imsi              *string `json:"imsi,omitempty"`
	MeterType         *string `json:"meter_type,omitempty"`
	MeterSerialNumber *string `json:"meter_serial_number,omitempty"`

	// 最近上报的固件更新状态
	FirmwareStatus *string `json:"firmware_status,omitempty"`

	Status          StationStatus `json:"status"`
	LastHeartbeatAt *time.Time    `json:"last_heartbeat_at,omitempty"`

	// 站点所属的权限组
	GroupIDs []string `json:"group_ids,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultHeartbeatTimeout 心跳超时阈值的默认值，超过该时间未上报心跳视为离线
const DefaultHeartbeatTimeout = 10 * time.Minute

// IsAlive 判断站点心跳是否仍然有效，timeout为0时使用默认阈值
// 连接是否在握手层面存在与此无关，连通性检查只看心跳。
func (s *Station) IsAlive(now time.Time, timeout time.Duration) bool {
	if s.LastHeartbeatAt == nil {
		return false
	}
	if timeout <= 0 {
		timeout = DefaultHeartbeatTimeout
	}
	return now.Sub(*s.LastHeartbeatAt) <= timeout
}

// Connector 连接器实体
type Connector struct {
	ID        int             `json:"id"`
	StationID string          `json:"station_id"`
	Status    ConnectorStatus `json:"status"`
	ErrorCode string          `json:"error_code,omitempty"`
	Info      string          `json:"info,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ConfigurationKey 站点配置项（由 GetConfiguration 回包持久化）
type ConfigurationKey struct {
	StationID string    `json:"station_id"`
	Key       string    `json:"key"`
	Value     *string   `json:"value,omitempty"`
	Readonly  bool      `json:"readonly"`
	UpdatedAt time.Time `json:"updated_at"`
}
