package model

import (
	"time"
)

// TariffComponentType 计价组件类型
type TariffComponentType string

const (
	TariffComponentEnergy       TariffComponentType = "Energy"
	TariffComponentChargingTime TariffComponentType = "ChargingTime"
	TariffComponentParkingTime  TariffComponentType = "ParkingTime"
	TariffComponentIdleTime     TariffComponentType = "IdleTime"
	TariffComponentSessionFee   TariffComponentType = "SessionFee"
	TariffComponentTimeOfDay    TariffComponentType = "TimeOfDay"
)

// TariffComponent 单条计价规则
// 在一次费用计算过程中不可变。
type TariffComponent struct {
	ID          string              `json:"id"`
	Type        TariffComponentType `json:"type"`
	Description string              `json:"description,omitempty"`

	// 单价：Energy/TimeOfDay 为 每kWh，时间类为 每分钟，SessionFee 为固定值
	Price float64 `json:"price"`

	// 阶梯粒度：能量按 kWh，时间按分钟；0 表示不启用阶梯计价
	StepSize float64 `json:"step_size,omitempty"`

	// 免费时长（分钟），仅对时间类组件有效
	GracePeriodMinutes int `json:"grace_period_minutes,omitempty"`

	// 单组件费用上下限，nil 表示不限制
	MinimumCharge *float64 `json:"minimum_charge,omitempty"`
	MaximumCharge *float64 `json:"maximum_charge,omitempty"`

	// 生效的星期掩码，空表示每天生效
	DaysOfWeek []time.Weekday `json:"days_of_week,omitempty"`

	// 时段窗口，仅 TimeOfDay 组件使用，格式 "HH:MM"，可跨午夜
	TimeFrom string `json:"time_from,omitempty"`
	TimeTo   string `json:"time_to,omitempty"`

	Active       bool `json:"active"`
	DisplayOrder int  `json:"display_order"`
}

// AppliesOnDay 判断组件在给定星期是否生效
func (c *TariffComponent) AppliesOnDay(day time.Weekday) bool {
	if len(c.DaysOfWeek) == 0 {
		return true
	}
	for _, d := range c.DaysOfWeek {
		if d == day {
			return true
		}
	}
	return false
}

// Tariff 计费方案
type Tariff struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenant_id"`
	Name      string `json:"name"`
	Currency  string `json:"currency"`
	IsDefault bool   `json:"is_default"`
	Active    bool   `json:"active"`
	Priority  int    `json:"priority"`

	ValidFrom *time.Time `json:"valid_from,omitempty"`
	ValidTo   *time.Time `json:"valid_to,omitempty"`

	// 授权使用该方案的用户组
	GroupIDs []string `json:"group_ids,omitempty"`

	Components []TariffComponent `json:"components"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsValidAt 判断方案在给定时间是否处于有效期内
func (t *Tariff) IsValidAt(now time.Time) bool {
	if !t.Active {
		return false
	}
	if t.ValidFrom != nil && now.Before(*t.ValidFrom) {
		return false
	}
	if t.ValidTo != nil && now.After(*t.ValidTo) {
		return false
	}
	return true
}

// ActiveComponents 返回按显示顺序排列的生效组件
func (t *Tariff) ActiveComponents() []TariffComponent {
	result := make([]TariffComponent, 0, len(t.Components))
	for _, c := range t.Components {
		if c.Active {
			result = append(result, c)
		}
	}
	// 组件数量很小，插入排序即可
	for i := 1; i < len(result); i++ {
		for j := i; j > 0 && result[j-1].DisplayOrder > result[j].DisplayOrder; j-- {
			result[j-1], result[j] = result[j], result[j-1]
		}
	}
	return result
}
