package ocpp16

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/charging-platform/central-system/internal/business/session"
	"github.com/charging-platform/central-system/internal/cache"
	"github.com/charging-platform/central-system/internal/domain/events"
	"github.com/charging-platform/central-system/internal/domain/model"
	"github.com/charging-platform/central-system/internal/domain/ocpp16"
	"github.com/charging-platform/central-system/internal/store"
)

// handleBootNotification 处理启动通知
// 未知站点一律拒绝且不产生任何持久化变更，响应携带重试间隔提示。
func (d *Dispatcher) handleBootNotification(ctx context.Context, stationID string, req *ocpp16.BootNotificationRequest) (*ocpp16.BootNotificationResponse, error) {
	now := time.Now().UTC()
	interval := int(d.config.HeartbeatInterval.Seconds())

	station, err := d.stations.GetStation(ctx, stationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			d.log.Warn().Str("station_id", stationID).Msg("BootNotification from unknown station rejected")
			return &ocpp16.BootNotificationResponse{
				Status:      ocpp16.RegistrationStatusRejected,
				CurrentTime: ocpp16.DateTime{Time: now},
				Interval:    interval,
			}, nil
		}
		return nil, err
	}

	previousStatus := station.Status
	station.Vendor = req.ChargePointVendor
	station.Model = req.ChargePointModel
	station.SerialNumber = req.ChargePointSerialNumber
	station.FirmwareVersion = req.FirmwareVersion
	station.Iccid = req.Iccid
	station.Imsi = req.Imsi
	station.MeterType = req.MeterType
	station.MeterSerialNumber = req.MeterSerialNumber
	station.Status = model.StationStatusAvailable
	station.LastHeartbeatAt = &now
	station.UpdatedAt = now

	if err := d.stations.SaveStation(ctx, station); err != nil {
		return nil, err
	}

	d.refreshPresence(ctx, stationID)
	// 状态通知总是发出，周期性重启也刷新下游视图
	d.notifier.NotifyStationStatus(ctx, station)
	d.sendEvent(d.eventFactory.CreateStationStatusChangedEvent(stationID, stationInfo(station), string(previousStatus)))

	d.log.Info().
		Str("station_id", stationID).
		Str("vendor", req.ChargePointVendor).
		Str("model", req.ChargePointModel).
		Msg("Station registered")

	return &ocpp16.BootNotificationResponse{
		Status:      ocpp16.RegistrationStatusAccepted,
		CurrentTime: ocpp16.DateTime{Time: now},
		Interval:    interval,
	}, nil
}

// handleHeartbeat 处理心跳
func (d *Dispatcher) handleHeartbeat(ctx context.Context, stationID string, _ *ocpp16.HeartbeatRequest) (*ocpp16.HeartbeatResponse, error) {
	now := time.Now().UTC()

	station, err := d.stations.GetStation(ctx, stationID)
	if err == nil {
		station.LastHeartbeatAt = &now
		station.UpdatedAt = now
		if err := d.stations.SaveStation(ctx, station); err != nil {
			d.log.Error().Err(err).Str("station_id", stationID).Msg("Failed to persist heartbeat")
		}
		d.refreshPresence(ctx, stationID)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	return &ocpp16.HeartbeatResponse{
		CurrentTime: ocpp16.DateTime{Time: now},
	}, nil
}

// handleStatusNotification 处理状态通知
// connectorId为0表示站点整体状态；变更通知只在映射后的状态真正变化时发出。
func (d *Dispatcher) handleStatusNotification(ctx context.Context, stationID string, req *ocpp16.StatusNotificationRequest) (*ocpp16.StatusNotificationResponse, error) {
	if req.ConnectorId == 0 {
		if err := d.updateStationStatus(ctx, stationID, req); err != nil {
			return nil, err
		}
		return &ocpp16.StatusNotificationResponse{}, nil
	}

	mapped := mapConnectorStatus(req.Status)
	now := time.Now().UTC()

	connector, err := d.stations.GetConnector(ctx, stationID, req.ConnectorId)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		connector = &model.Connector{ID: req.ConnectorId, StationID: stationID}
	}

	changed := connector.Status != mapped
	connector.Status = mapped
	connector.ErrorCode = string(req.ErrorCode)
	if req.Info != nil {
		connector.Info = *req.Info
	}
	connector.UpdatedAt = now

	if err := d.stations.SaveConnector(ctx, connector); err != nil {
		return nil, err
	}

	if changed {
		d.notifier.NotifyConnectorStatus(ctx, connector)
		d.sendEvent(d.eventFactory.CreateConnectorStatusChangedEvent(stationID, events.ConnectorInfo{
			ID:        connector.ID,
			StationID: stationID,
			Status:    string(connector.Status),
			ErrorCode: strPtr(connector.ErrorCode),
		}, ""))
	}

	return &ocpp16.StatusNotificationResponse{}, nil
}

// updateStationStatus 连接器0的状态通知映射为站点状态
func (d *Dispatcher) updateStationStatus(ctx context.Context, stationID string, req *ocpp16.StatusNotificationRequest) error {
	station, err := d.stations.GetStation(ctx, stationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	mapped := mapStationStatus(req.Status)
	if station.Status == mapped {
		return nil
	}

	previous := station.Status
	station.Status = mapped
	station.UpdatedAt = time.Now().UTC()
	if err := d.stations.SaveStation(ctx, station); err != nil {
		return err
	}

	d.notifier.NotifyStationStatus(ctx, station)
	d.sendEvent(d.eventFactory.CreateStationStatusChangedEvent(stationID, stationInfo(station), string(previous)))
	return nil
}

// handleFirmwareStatusNotification 处理固件状态通知
func (d *Dispatcher) handleFirmwareStatusNotification(ctx context.Context, stationID string, req *ocpp16.FirmwareStatusNotificationRequest) (*ocpp16.FirmwareStatusNotificationResponse, error) {
	station, err := d.stations.GetStation(ctx, stationID)
	if err == nil {
		status := string(req.Status)
		station.FirmwareStatus = &status
		station.UpdatedAt = time.Now().UTC()
		if err := d.stations.SaveStation(ctx, station); err != nil {
			d.log.Error().Err(err).Str("station_id", stationID).Msg("Failed to persist firmware status")
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	d.sendEvent(d.eventFactory.CreateFirmwareStatusChangedEvent(stationID, string(req.Status)))
	return &ocpp16.FirmwareStatusNotificationResponse{}, nil
}

// handleAuthorize 处理授权请求
// 标识必须解析到启用的授权方式和启用的用户，否则Invalid。
func (d *Dispatcher) handleAuthorize(ctx context.Context, stationID string, req *ocpp16.AuthorizeRequest) (*ocpp16.AuthorizeResponse, error) {
	user, method, err := d.resolveIdentifier(ctx, req.IdTag)
	if err != nil {
		return nil, err
	}
	if user == nil || !method.Active || !user.Active {
		return authorizeResult(ocpp16.AuthorizationStatusInvalid), nil
	}
	return authorizeResult(ocpp16.AuthorizationStatusAccepted), nil
}

// resolveIdentifier 解析授权标识，命中缓存时跳过存储查询
// 未知标识以(nil, nil, nil)返回并同样进入缓存。
func (d *Dispatcher) resolveIdentifier(ctx context.Context, idTag string) (*model.User, *model.AuthorizationMethod, error) {
	if d.authCache != nil {
		if entry, ok := d.authCache.Get(idTag); ok {
			return entry.User, entry.Method, nil
		}
	}

	user, method, err := d.auth.GetUserByIdentifier(ctx, idTag)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, nil, err
		}
		user, method = nil, nil
	}
	if d.authCache != nil {
		d.authCache.Set(idTag, cache.AuthEntry{User: user, Method: method})
	}
	return user, method, nil
}

// handleStartTransaction 处理启动交易
// 连接器上已有Charging会话时跳过权限检查并复用该会话，
// 覆盖远程启动先行创建会话、站点随后上报StartTransaction的场景。
func (d *Dispatcher) handleStartTransaction(ctx context.Context, stationID string, req *ocpp16.StartTransactionRequest) (*ocpp16.StartTransactionResponse, error) {
	active, err := d.sessionMgr.ActiveSession(ctx, stationID, req.ConnectorId)
	if err != nil {
		return nil, err
	}

	user, method, authErr := d.resolveIdentifier(ctx, req.IdTag)
	if authErr != nil {
		return nil, authErr
	}
	authorized := user != nil && method.Active && user.Active

	if active == nil {
		if !authorized {
			d.log.Info().Str("station_id", stationID).Str("id_tag", req.IdTag).Msg("StartTransaction with unknown identifier rejected")
			return startResult(ocpp16.AuthorizationStatusInvalid, 0), nil
		}

		station, err := d.stations.GetStation(ctx, stationID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return startResult(ocpp16.AuthorizationStatusInvalid, 0), nil
			}
			return nil, err
		}
		if len(station.GroupIDs) > 0 && !user.HasAnyGroup(station.GroupIDs) {
			d.log.Info().Str("station_id", stationID).Str("user_id", user.ID).Msg("StartTransaction blocked by group permissions")
			return startResult(ocpp16.AuthorizationStatusBlocked, 0), nil
		}

		transactionID, err := d.sessions.NextTransactionID(ctx)
		if err != nil {
			return nil, err
		}

		created, err := d.sessionMgr.StartSession(ctx, session.StartParams{
			TenantID:      station.TenantID,
			StationID:     stationID,
			ConnectorID:   req.ConnectorId,
			UserID:        &user.ID,
			TransactionID: transactionID,
			MeterStart:    req.MeterStart,
			StartedAt:     req.Timestamp.Time,
		})
		if err != nil && !errors.Is(err, session.ErrActiveSessionExists) {
			return nil, err
		}
		d.markConnectorOccupied(ctx, stationID, req.ConnectorId)
		d.sendEvent(d.eventFactory.CreateSessionEvent(events.EventTypeSessionStarted, stationID, sessionInfo(created)))
		return startResult(ocpp16.AuthorizationStatusAccepted, transactionID), nil
	}

	// 复用已有会话
	if active.TransactionID == 0 {
		transactionID, err := d.sessions.NextTransactionID(ctx)
		if err != nil {
			return nil, err
		}
		if err := d.sessionMgr.AssignTransaction(ctx, active, transactionID, req.MeterStart, req.Timestamp.Time); err != nil {
			return nil, err
		}
	}
	d.markConnectorOccupied(ctx, stationID, req.ConnectorId)
	return startResult(ocpp16.AuthorizationStatusAccepted, active.TransactionID), nil
}

// handleStopTransaction 处理停止交易
// 计费记录创建是幂等的，重复停止不会产生第二条记录。
func (d *Dispatcher) handleStopTransaction(ctx context.Context, stationID string, req *ocpp16.StopTransactionRequest) (*ocpp16.StopTransactionResponse, error) {
	sess, err := d.sessions.GetSessionByTransaction(ctx, req.TransactionId)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			d.log.Warn().Str("station_id", stationID).Int("transaction_id", req.TransactionId).Msg("StopTransaction for unknown transaction")
			return stopResult(ocpp16.AuthorizationStatusInvalid), nil
		}
		return nil, err
	}

	if sess.Status.IsTerminal() {
		return stopResult(ocpp16.AuthorizationStatusAccepted), nil
	}

	energy := meterDeltaKWh(req.MeterStop, sess.MeterStart)
	if err := d.sessionMgr.Complete(ctx, sess, energy, req.Timestamp.Time.UTC()); err != nil {
		return nil, err
	}

	d.markConnectorAvailable(ctx, stationID, sess.ConnectorID)
	d.sendEvent(d.eventFactory.CreateSessionEvent(events.EventTypeSessionEnded, stationID, sessionInfo(sess)))

	return stopResult(ocpp16.AuthorizationStatusAccepted), nil
}

// handleMeterValues 处理电表值上报
// 交易ID缺失或为0时回落到连接器上最近开始的Charging会话，
// 覆盖StartTransaction被拒但充电仍在进行的场景。
func (d *Dispatcher) handleMeterValues(ctx context.Context, stationID string, req *ocpp16.MeterValuesRequest) (*ocpp16.MeterValuesResponse, error) {
	var sess *model.ChargingSession
	var err error

	if req.TransactionId != nil && *req.TransactionId != 0 {
		sess, err = d.sessions.GetSessionByTransaction(ctx, *req.TransactionId)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	if sess == nil {
		sess, err = d.sessionMgr.LatestActiveSession(ctx, stationID, req.ConnectorId)
		if err != nil {
			return nil, err
		}
	}

	d.sendEvent(d.eventFactory.CreateMeterValuesReceivedEvent(stationID, req.ConnectorId, req.TransactionId, meterReadings(req.MeterValue)))

	if sess == nil {
		d.log.Debug().Str("station_id", stationID).Int("connector_id", req.ConnectorId).Msg("MeterValues without matching session")
		return &ocpp16.MeterValuesResponse{}, nil
	}

	reading, ok := latestEnergyReadingWh(req.MeterValue)
	if ok {
		energy := meterDeltaKWh(reading, sess.MeterStart)
		if err := d.sessionMgr.RecordEnergy(ctx, sess, energy); err != nil {
			return nil, err
		}
	}

	return &ocpp16.MeterValuesResponse{}, nil
}

// markConnectorOccupied 将连接器置为占用
func (d *Dispatcher) markConnectorOccupied(ctx context.Context, stationID string, connectorID int) {
	d.setConnectorStatus(ctx, stationID, connectorID, model.ConnectorStatusOccupied)
}

// markConnectorAvailable 将连接器置为可用
func (d *Dispatcher) markConnectorAvailable(ctx context.Context, stationID string, connectorID int) {
	d.setConnectorStatus(ctx, stationID, connectorID, model.ConnectorStatusAvailable)
}

// setConnectorStatus 更新连接器状态，变化时发出通知；失败只记录日志
func (d *Dispatcher) setConnectorStatus(ctx context.Context, stationID string, connectorID int, status model.ConnectorStatus) {
	connector, err := d.stations.GetConnector(ctx, stationID, connectorID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			d.log.Error().Err(err).Str("station_id", stationID).Int("connector_id", connectorID).Msg("Failed to load connector")
			return
		}
		connector = &model.Connector{ID: connectorID, StationID: stationID}
	}

	if connector.Status == status {
		return
	}
	connector.Status = status
	connector.UpdatedAt = time.Now().UTC()

	if err := d.stations.SaveConnector(ctx, connector); err != nil {
		d.log.Error().Err(err).Str("station_id", stationID).Int("connector_id", connectorID).Msg("Failed to save connector")
		return
	}
	d.notifier.NotifyConnectorStatus(ctx, connector)
}

// mapConnectorStatus 站点上报词汇到内部连接器状态的映射
func mapConnectorStatus(status ocpp16.ChargePointStatus) model.ConnectorStatus {
	switch status {
	case ocpp16.ChargePointStatusAvailable:
		return model.ConnectorStatusAvailable
	case ocpp16.ChargePointStatusPreparing,
		ocpp16.ChargePointStatusCharging,
		ocpp16.ChargePointStatusSuspendedEVSE,
		ocpp16.ChargePointStatusSuspendedEV,
		ocpp16.ChargePointStatusFinishing:
		return model.ConnectorStatusOccupied
	case ocpp16.ChargePointStatusReserved:
		return model.ConnectorStatusReserved
	case ocpp16.ChargePointStatusUnavailable:
		return model.ConnectorStatusUnavailable
	case ocpp16.ChargePointStatusFaulted:
		return model.ConnectorStatusFaulted
	default:
		return model.ConnectorStatusUnavailable
	}
}

// mapStationStatus 连接器0上报词汇到站点状态的映射
func mapStationStatus(status ocpp16.ChargePointStatus) model.StationStatus {
	switch status {
	case ocpp16.ChargePointStatusAvailable:
		return model.StationStatusAvailable
	case ocpp16.ChargePointStatusUnavailable:
		return model.StationStatusUnavailable
	case ocpp16.ChargePointStatusFaulted:
		return model.StationStatusOutOfOrder
	default:
		return model.StationStatusOccupied
	}
}

// meterDeltaKWh 电表差值换算为kWh，电表读数单位为Wh
func meterDeltaKWh(meterStop, meterStart int) float64 {
	delta := meterStop - meterStart
	if delta < 0 {
		return 0
	}
	return float64(delta) / 1000.0
}

// latestEnergyReadingWh 提取最新的累计电量读数(Wh)
// 缺省measurand按累计电量处理，单位kWh时换算为Wh。
func latestEnergyReadingWh(meterValues []ocpp16.MeterValue) (int, bool) {
	var latest float64
	var latestAt time.Time
	found := false

	for _, mv := range meterValues {
		for _, sv := range mv.SampledValue {
			if sv.Measurand != nil && *sv.Measurand != ocpp16.MeasurandEnergyActiveImportRegister {
				continue
			}
			value, err := strconv.ParseFloat(sv.Value, 64)
			if err != nil {
				continue
			}
			if sv.Unit != nil && *sv.Unit == ocpp16.UnitOfMeasureKWh {
				value *= 1000
			}
			if !found || mv.Timestamp.Time.After(latestAt) {
				latest = value
				latestAt = mv.Timestamp.Time
				found = true
			}
		}
	}
	return int(latest), found
}

// meterReadings 转换为事件中的统一读数格式
func meterReadings(meterValues []ocpp16.MeterValue) []events.MeterReading {
	var readings []events.MeterReading
	for _, mv := range meterValues {
		for _, sv := range mv.SampledValue {
			reading := events.MeterReading{
				Value:     sv.Value,
				Timestamp: mv.Timestamp.Time,
				Phase:     sv.Phase,
			}
			if sv.Measurand != nil {
				reading.Measurand = string(*sv.Measurand)
			} else {
				reading.Measurand = string(ocpp16.MeasurandEnergyActiveImportRegister)
			}
			if sv.Unit != nil {
				unit := string(*sv.Unit)
				reading.Unit = &unit
			}
			if sv.Context != nil {
				context := string(*sv.Context)
				reading.Context = &context
			}
			readings = append(readings, reading)
		}
	}
	return readings
}

// stationInfo 站点实体转事件载荷
func stationInfo(station *model.Station) events.StationInfo {
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
	return info
}

// sessionInfo 会话实体转事件载荷
func sessionInfo(sess *model.ChargingSession) events.SessionInfo {
	return events.SessionInfo{
		ID:                  sess.ID,
		TenantID:            sess.TenantID,
		StationID:           sess.StationID,
		ConnectorID:         sess.ConnectorID,
		TransactionID:       sess.TransactionID,
		UserID:              sess.UserID,
		Status:              string(sess.Status),
		StartedAt:           sess.StartedAt,
		ChargingCompletedAt: sess.ChargingCompletedAt,
		EndedAt:             sess.EndedAt,
		EnergyKWh:           sess.EnergyKWh,
		Cost:                sess.Cost,
		Currency:            sess.Currency,
	}
}

func authorizeResult(status ocpp16.AuthorizationStatus) *ocpp16.AuthorizeResponse {
	return &ocpp16.AuthorizeResponse{IdTagInfo: ocpp16.IdTagInfo{Status: status}}
}

func startResult(status ocpp16.AuthorizationStatus, transactionID int) *ocpp16.StartTransactionResponse {
	return &ocpp16.StartTransactionResponse{
		IdTagInfo:     ocpp16.IdTagInfo{Status: status},
		TransactionId: transactionID,
	}
}

func stopResult(status ocpp16.AuthorizationStatus) *ocpp16.StopTransactionResponse {
	return &ocpp16.StopTransactionResponse{
		IdTagInfo: &ocpp16.IdTagInfo{Status: status},
	}
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
