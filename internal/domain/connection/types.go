package connection

import (
	"sync"
	"time"
)

// State 连接状态
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateRegistered   State = "registered"
	StateSuperseded   State = "superseded"
	StateDisconnected State = "disconnected"
)

// ProtocolVersion 协议版本
type ProtocolVersion string

const (
	ProtocolVersionOCPP16 ProtocolVersion = "ocpp1.6"
)

// Info 连接的网络与流量信息
type Info struct {
	RemoteAddr       string    `json:"remote_addr"`
	ConnectedAt      time.Time `json:"connected_at"`
	LastActivity     time.Time `json:"last_activity"`
	BytesSent        int64     `json:"bytes_sent"`
	BytesReceived    int64     `json:"bytes_received"`
	MessagesSent     int64     `json:"messages_sent"`
	MessagesReceived int64     `json:"messages_received"`
}

// Connection 单个站点的WebSocket连接模型
type Connection struct {
	ID              string          `json:"id"`
	StationID       string          `json:"station_id"`
	State           State           `json:"state"`
	ProtocolVersion ProtocolVersion `json:"protocol_version"`
	Info            Info            `json:"info"`

	mutex sync.RWMutex
}

// New 创建新连接
func New(id, stationID, remoteAddr string) *Connection {
	now := time.Now().UTC()
	return &Connection{
		ID:              id,
		StationID:       stationID,
		State:           StateConnected,
		ProtocolVersion: ProtocolVersionOCPP16,
		Info: Info{
			RemoteAddr:   remoteAddr,
			ConnectedAt:  now,
			LastActivity: now,
		},
	}
}

// GetState 获取连接状态
func (c *Connection) GetState() State {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.State
}

// SetState 设置连接状态
func (c *Connection) SetState(state State) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.State = state
}

// IsActive 连接是否仍可收发
func (c *Connection) IsActive() bool {
	state := c.GetState()
	return state == StateConnected || state == StateRegistered
}

// TouchActivity 更新最后活动时间
func (c *Connection) TouchActivity() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.Info.LastActivity = time.Now().UTC()
}

// RecordSent 记录发送的消息
func (c *Connection) RecordSent(bytes int64) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.Info.MessagesSent++
	c.Info.BytesSent += bytes
	c.Info.LastActivity = time.Now().UTC()
}

// RecordReceived 记录接收的消息
func (c *Connection) RecordReceived(bytes int64) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.Info.MessagesReceived++
	c.Info.BytesReceived += bytes
	c.Info.LastActivity = time.Now().UTC()
}

// LastActivity 获取最后活动时间
func (c *Connection) LastActivity() time.Time {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.Info.LastActivity
}

// IdleDuration 获取空闲时长
func (c *Connection) IdleDuration() time.Duration {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return time.Since(c.Info.LastActivity)
}
