package message

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charging-platform/central-system/internal/business/command"
	"github.com/charging-platform/central-system/internal/domain/model"
)

// 平台侧下发的指令名
const (
	CommandStartSession        = "StartSession"
	CommandStopSession         = "StopSession"
	CommandGetConfiguration    = "GetConfiguration"
	CommandChangeConfiguration = "ChangeConfiguration"
	CommandGetDiagnostics      = "GetDiagnostics"
)

// Command 平台经消息队列下发的指令信封
type Command struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	StationID string          `json:"station_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	IssuedAt  time.Time       `json:"issued_at"`
}

// StartSessionPayload 远程启动指令参数
type StartSessionPayload struct {
	ConnectorID int     `json:"connector_id"`
	UserID      *string `json:"user_id,omitempty"`
	VehicleID   *string `json:"vehicle_id,omitempty"`
	// ChargingProfile 原样透传给站点
	ChargingProfile json.RawMessage `json:"charging_profile,omitempty"`
}

// StopSessionPayload 远程停止指令参数
type StopSessionPayload struct {
	SessionID string `json:"session_id"`
}

// GetConfigurationPayload 查询配置指令参数
type GetConfigurationPayload struct {
	Keys []string `json:"keys,omitempty"`
}

// ChangeConfigurationPayload 修改配置指令参数
type ChangeConfigurationPayload struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// GetDiagnosticsPayload 获取诊断指令参数
type GetDiagnosticsPayload struct {
	Location string `json:"location"`
}

// CommandExecutor 指令的实际执行方
type CommandExecutor interface {
	StartSession(ctx context.Context, req command.StartRequest) (*model.ChargingSession, error)
	StopSession(ctx context.Context, sessionID string) error
	GetConfiguration(ctx context.Context, stationID string, keys []string) error
	ChangeConfiguration(ctx context.Context, stationID, key, value string) error
	GetDiagnostics(ctx context.Context, stationID, location string) error
}

// ExecuteCommand 解析指令载荷并路由到执行方
func ExecuteCommand(ctx context.Context, executor CommandExecutor, cmd *Command) error {
	switch cmd.Name {
	case CommandStartSession:
		var payload StartSessionPayload
		if err := json.Unmarshal(cmd.Payload, &payload); err != nil {
			return fmt.Errorf("invalid %s payload: %w", cmd.Name, err)
		}
		_, err := executor.StartSession(ctx, command.StartRequest{
			StationID:       cmd.StationID,
			ConnectorID:     payload.ConnectorID,
			UserID:          payload.UserID,
			VehicleID:       payload.VehicleID,
			ChargingProfile: payload.ChargingProfile,
		})
		return err
	case CommandStopSession:
		var payload StopSessionPayload
		if err := json.Unmarshal(cmd.Payload, &payload); err != nil {
			return fmt.Errorf("invalid %s payload: %w", cmd.Name, err)
		}
		return executor.StopSession(ctx, payload.SessionID)
	case CommandGetConfiguration:
		var payload GetConfigurationPayload
		if len(cmd.Payload) > 0 {
			if err := json.Unmarshal(cmd.Payload, &payload); err != nil {
				return fmt.Errorf("invalid %s payload: %w", cmd.Name, err)
			}
		}
		return executor.GetConfiguration(ctx, cmd.StationID, payload.Keys)
	case CommandChangeConfiguration:
		var payload ChangeConfigurationPayload
		if err := json.Unmarshal(cmd.Payload, &payload); err != nil {
			return fmt.Errorf("invalid %s payload: %w", cmd.Name, err)
		}
		return executor.ChangeConfiguration(ctx, cmd.StationID, payload.Key, payload.Value)
	case CommandGetDiagnostics:
		var payload GetDiagnosticsPayload
		if err := json.Unmarshal(cmd.Payload, &payload); err != nil {
			return fmt.Errorf("invalid %s payload: %w", cmd.Name, err)
		}
		return executor.GetDiagnostics(ctx, cmd.StationID, payload.Location)
	default:
		return fmt.Errorf("unknown command: %s", cmd.Name)
	}
}
