package model

import (
	"time"
)

// SessionStatus 充电会话状态
type SessionStatus string

const (
	SessionStatusCharging  SessionStatus = "Charging"
	SessionStatusCompleted SessionStatus = "Completed"
	SessionStatusStopped   SessionStatus = "Stopped"
	SessionStatusFaulted   SessionStatus = "Faulted"
	SessionStatusReserved  SessionStatus = "Reserved"
)

// IsTerminal 判断状态是否为终态
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusStopped
}

// ChargingSession 充电会话实体
// TransactionID 由协议层分配一次，之后不再变更；0 表示尚未分配。
type ChargingSession struct {
	ID            string  `json:"id"`
	TenantID      string  `json:"tenant_id"`
	StationID     string  `json:"station_id"`
	ConnectorID   int     `json:"connector_id"`
	UserID        *string `json:"user_id,omitempty"`
	VehicleID     *string `json:"vehicle_id,omitempty"`
	TransactionID int     `json:"transaction_id"`

	StartedAt           time.Time  `json:"started_at"`
	ChargingCompletedAt *time.Time `json:"charging_completed_at,omitempty"`
	EndedAt             *time.Time `json:"ended_at,omitempty"`

	// 电表起始读数，单位 Wh
	MeterStart int `json:"meter_start"`
	// 累计充电电量，单位 kWh
	EnergyKWh float64 `json:"energy_kwh"`

	// 计费信息
	Cost     float64 `json:"cost"`
	Currency string  `json:"currency"`

	Status SessionStatus `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChargingDuration 充电时长：chargingCompletedAt（或 now）- startedAt
func (s *ChargingSession) ChargingDuration(now time.Time) time.Duration {
	end := now
	if s.ChargingCompletedAt != nil {
		end = *s.ChargingCompletedAt
	}
	d := end.Sub(s.StartedAt)
	if d < 0 {
		return 0
	}
	return d
}

// IdleDuration 空闲时长：充电结束后到会话释放前的时间
func (s *ChargingSession) IdleDuration(now time.Time) time.Duration {
	end := now
	if s.EndedAt != nil {
		end = *s.EndedAt
	}
	start := end
	if s.ChargingCompletedAt != nil {
		start = *s.ChargingCompletedAt
	} else if s.EndedAt != nil {
		start = *s.EndedAt
	}
	d := end.Sub(start)
	if d < 0 {
		return 0
	}
	return d
}

// ParkingDuration 停车时长：endedAt（或 now）- startedAt
func (s *ChargingSession) ParkingDuration(now time.Time) time.Duration {
	end := now
	if s.EndedAt != nil {
		end = *s.EndedAt
	}
	d := end.Sub(s.StartedAt)
	if d < 0 {
		return 0
	}
	return d
}

// BillingRecord 计费记录
// 每个会话至多一条，作为幂等检查的依据。
type BillingRecord struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	StationID string    `json:"station_id"`
	TenantID  string    `json:"tenant_id"`
	Amount    float64   `json:"amount"`
	Currency  string    `json:"currency"`
	CreatedAt time.Time `json:"created_at"`
}
