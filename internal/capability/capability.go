package capability

import (
	"context"

	"github.com/charging-platform/central-system/internal/domain/model"
)

// Notifier 向上游系统发布状态变化通知
// 通知失败只记录日志，不影响协议响应。
type Notifier interface {
	// NotifyStationStatus 站点状态变化通知
	NotifyStationStatus(ctx context.Context, station *model.Station)
	// NotifyConnectorStatus 连接器状态变化通知
	NotifyConnectorStatus(ctx context.Context, connector *model.Connector)
	// NotifySessionUpdate 会话状态变化通知
	NotifySessionUpdate(ctx context.Context, session *model.ChargingSession)
	// NotifyBillingRecord 计费记录生成通知
	NotifyBillingRecord(ctx context.Context, record *model.BillingRecord)
}

// BillingService 计费记录创建服务
type BillingService interface {
	// CreateTransactionForSession 为会话创建计费记录，同一会话重复调用应幂等
	CreateTransactionForSession(ctx context.Context, session *model.ChargingSession) error
}

// TenantResolver 站点到租户的解析
type TenantResolver interface {
	// ResolveTenant 解析站点所属租户
	ResolveTenant(ctx context.Context, stationID string) (string, error)
}

// NoopNotifier 空实现，未接入通知系统时使用
type NoopNotifier struct{}

func (NoopNotifier) NotifyStationStatus(ctx context.Context, station *model.Station)         {}
func (NoopNotifier) NotifyConnectorStatus(ctx context.Context, connector *model.Connector)   {}
func (NoopNotifier) NotifySessionUpdate(ctx context.Context, session *model.ChargingSession) {}
func (NoopNotifier) NotifyBillingRecord(ctx context.Context, record *model.BillingRecord)    {}

// NoopBillingService 空实现，未接入计费系统时使用
type NoopBillingService struct{}

func (NoopBillingService) CreateTransactionForSession(ctx context.Context, session *model.ChargingSession) error {
	return nil
}

// StaticTenantResolver 固定租户解析，单租户部署时使用
type StaticTenantResolver struct {
	TenantID string
}

func (r StaticTenantResolver) ResolveTenant(ctx context.Context, stationID string) (string, error) {
	return r.TenantID, nil
}
