package message

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/charging-platform/central-system/internal/domain/events"
	"github.com/charging-platform/central-system/internal/domain/model"
	"github.com/charging-platform/central-system/internal/logger"
)

// EventNotifier 把业务通知转换为统一事件并发布到消息队列
// 发布失败只记录日志，通知投递永远不影响调用方的协议处理。
type EventNotifier struct {
	publisher    EventPublisher
	eventFactory *events.EventFactory
	log          zerolog.Logger
}

// NewEventNotifier 创建事件通知器
func NewEventNotifier(publisher EventPublisher, source string, log *logger.Logger) *EventNotifier {
	return &EventNotifier{
		publisher:    publisher,
		eventFactory: events.NewEventFactory(source),
		log:          log.Component("event-notifier"),
	}
}

// NotifyStationStatus 站点状态变化通知
func (n *EventNotifier) NotifyStationStatus(ctx context.Context, station *model.Station) {
	info := events.StationInfo{
		ID:              station.ID,
		TenantID:        station.TenantID,
		Vendor:          station.Vendor,
		Model:           station.Model,
		SerialNumber:    station.SerialNumber,
		FirmwareVersion: station.FirmwareVersion,
		Status:          string(station.Status),
	}
	if station.LastHeartbeatAt != nil {
		info.LastSeen = *station.LastHeartbeatAt
	}
	n.publish(n.eventFactory.CreateStationStatusChangedEvent(station.ID, info, ""))
}

// NotifyConnectorStatus 连接器状态变化通知
func (n *EventNotifier) NotifyConnectorStatus(ctx context.Context, connector *model.Connector) {
	info := events.ConnectorInfo{
		ID:        connector.ID,
		StationID: connector.StationID,
		Status:    string(connector.Status),
	}
	if connector.ErrorCode != "" {
		errorCode := connector.ErrorCode
		info.ErrorCode = &errorCode
	}
	n.publish(n.eventFactory.CreateConnectorStatusChangedEvent(connector.StationID, info, ""))
}

// NotifySessionUpdate 会话状态变化通知
func (n *EventNotifier) NotifySessionUpdate(ctx context.Context, session *model.ChargingSession) {
	eventType := events.EventTypeSessionUpdated
	switch session.Status {
	case model.SessionStatusCompleted, model.SessionStatusStopped:
		eventType = events.EventTypeSessionEnded
	}
	n.publish(n.eventFactory.CreateSessionEvent(eventType, session.StationID, events.SessionInfo{
		ID:                  session.ID,
		TenantID:            session.TenantID,
		StationID:           session.StationID,
		ConnectorID:         session.ConnectorID,
		TransactionID:       session.TransactionID,
		UserID:              session.UserID,
		Status:              string(session.Status),
		StartedAt:           session.StartedAt,
		ChargingCompletedAt: session.ChargingCompletedAt,
		EndedAt:             session.EndedAt,
		EnergyKWh:           session.EnergyKWh,
		Cost:                session.Cost,
		Currency:            session.Currency,
	}))
}

// NotifyBillingRecord 计费记录生成通知
func (n *EventNotifier) NotifyBillingRecord(ctx context.Context, record *model.BillingRecord) {
	n.publish(n.eventFactory.CreateBillingRecordCreatedEvent(record.StationID, events.BillingInfo{
		RecordID:  record.ID,
		SessionID: record.SessionID,
		TenantID:  record.TenantID,
		Amount:    record.Amount,
		Currency:  record.Currency,
		CreatedAt: record.CreatedAt,
	}))
}

func (n *EventNotifier) publish(event events.Event) {
	if err := n.publisher.PublishEvent(event); err != nil {
		n.log.Error().Err(err).Str("type", string(event.GetType())).Msg("Failed to publish notification event")
	}
}
