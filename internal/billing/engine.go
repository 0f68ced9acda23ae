package billing

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/charging-platform/central-system/internal/domain/model"
)

// ComponentCost 单个计价组件的费用明细
type ComponentCost struct {
	ComponentID string                    `json:"component_id"`
	Type        model.TariffComponentType `json:"type"`
	Description string                    `json:"description,omitempty"`
	Amount      float64                   `json:"amount"`
}

// CostResult 一次费用计算的结果
type CostResult struct {
	Total      float64         `json:"total"`
	Currency   string          `json:"currency"`
	TariffID   string          `json:"tariff_id,omitempty"`
	Components []ComponentCost `json:"components,omitempty"`
}

// Engine 费用计算引擎
// 计算本身是纯函数，引擎只携带无方案可用时的保底价。
type Engine struct {
	fallbackRate    float64
	defaultCurrency string
}

// NewEngine 创建费用计算引擎
func NewEngine(fallbackRate float64, defaultCurrency string) *Engine {
	return &Engine{
		fallbackRate:    fallbackRate,
		defaultCurrency: defaultCurrency,
	}
}

// Cost 计算会话费用
// tariff为nil时按保底单价直接乘以电量。
func (e *Engine) Cost(session *model.ChargingSession, tariff *model.Tariff, now time.Time) *CostResult {
	if tariff == nil {
		return &CostResult{
			Total:    round4(e.fallbackRate * session.EnergyKWh),
			Currency: e.defaultCurrency,
		}
	}
	return ComputeCost(session, tariff, now)
}

// ComputeCost 按方案计算会话费用，纯函数
// 三个时间区间的推导：
//
//	chargingDuration = (chargingCompletedAt 或 now) - startedAt
//	idleDuration     = (endedAt 或 now) - (chargingCompletedAt 或 endedAt 或 now)
//	parkingDuration  = (endedAt 或 now) - startedAt
func ComputeCost(session *model.ChargingSession, tariff *model.Tariff, now time.Time) *CostResult {
	result := &CostResult{
		Currency: tariff.Currency,
		TariffID: tariff.ID,
	}

	for _, component := range tariff.ActiveComponents() {
		amount, applies := componentAmount(session, &component, now)
		if !applies {
			continue
		}

		amount = clamp(amount, component.MinimumCharge, component.MaximumCharge)
		amount = round4(amount)
		if amount == 0 {
			continue
		}

		result.Components = append(result.Components, ComponentCost{
			ComponentID: component.ID,
			Type:        component.Type,
			Description: component.Description,
			Amount:      amount,
		})
		result.Total += amount
	}

	result.Total = round4(result.Total)
	return result
}

// componentAmount 单组件费用，applies为false表示组件对该会话完全不生效
func componentAmount(session *model.ChargingSession, c *model.TariffComponent, now time.Time) (float64, bool) {
	switch c.Type {
	case model.TariffComponentEnergy:
		return c.Price * stepped(session.EnergyKWh, c.StepSize), true

	case model.TariffComponentChargingTime:
		return timeAmount(session.ChargingDuration(now), c, session.StartedAt)

	case model.TariffComponentParkingTime:
		return timeAmount(session.ParkingDuration(now), c, session.StartedAt)

	case model.TariffComponentIdleTime:
		return timeAmount(session.IdleDuration(now), c, session.StartedAt)

	case model.TariffComponentSessionFee:
		return c.Price, true

	case model.TariffComponentTimeOfDay:
		end := now
		if session.EndedAt != nil {
			end = *session.EndedAt
		}
		if !inTimeWindow(session.StartedAt, c.TimeFrom, c.TimeTo) || !inTimeWindow(end, c.TimeFrom, c.TimeTo) {
			return 0, false
		}
		return c.Price * session.EnergyKWh, true

	default:
		return 0, false
	}
}

// timeAmount 时间类组件费用：扣除免费时长后按分钟计价
func timeAmount(duration time.Duration, c *model.TariffComponent, startedAt time.Time) (float64, bool) {
	if !c.AppliesOnDay(startedAt.Weekday()) {
		return 0, false
	}
	minutes := duration.Minutes() - float64(c.GracePeriodMinutes)
	if minutes < 0 {
		minutes = 0
	}
	return c.Price * stepped(minutes, c.StepSize), true
}

// stepped 阶梯计价：向上取整到步长的整数倍，步长为0时原值返回
func stepped(quantity, stepSize float64) float64 {
	if stepSize <= 0 {
		return quantity
	}
	return math.Ceil(quantity/stepSize) * stepSize
}

// clamp 将金额限制在组件配置的上下限内
func clamp(amount float64, min, max *float64) float64 {
	if min != nil && amount < *min {
		amount = *min
	}
	if max != nil && amount > *max {
		amount = *max
	}
	return amount
}

// round4 金额保留4位小数
func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// inTimeWindow 判断时刻的钟点是否落在"HH:MM"窗口内，窗口可跨午夜
func inTimeWindow(t time.Time, from, to string) bool {
	fromMin, err := parseClock(from)
	if err != nil {
		return false
	}
	toMin, err := parseClock(to)
	if err != nil {
		return false
	}

	m := t.Hour()*60 + t.Minute()
	if fromMin <= toMin {
		return m >= fromMin && m <= toMin
	}
	// 跨午夜窗口，如 22:00-06:00
	return m >= fromMin || m <= toMin
}

// parseClock 解析"HH:MM"为当日分钟数
func parseClock(clock string) (int, error) {
	parts := strings.Split(clock, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock value %q", clock)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid hour in %q", clock)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid minute in %q", clock)
	}
	return hour*60 + minute, nil
}
