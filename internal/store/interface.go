package store

import (
	"context"
	"errors"
	"time"

	"github.com/charging-platform/central-system/internal/domain/model"
)

// ErrNotFound 实体不存在
var ErrNotFound = errors.New("store: not found")

// StationStore 站点与连接器存储
type StationStore interface {
	// GetStation 按ID获取站点
	GetStation(ctx context.Context, id string) (*model.Station, error)
	// SaveStation 保存站点
	SaveStation(ctx context.Context, station *model.Station) error
	// ListStations 列出所有站点
	ListStations(ctx context.Context) ([]*model.Station, error)

	// GetConnector 获取站点下指定连接器
	GetConnector(ctx context.Context, stationID string, connectorID int) (*model.Connector, error)
	// SaveConnector 保存连接器
	SaveConnector(ctx context.Context, connector *model.Connector) error
	// ListConnectors 列出站点下所有连接器
	ListConnectors(ctx context.Context, stationID string) ([]*model.Connector, error)

	// GetConfiguration 获取站点的配置键
	GetConfiguration(ctx context.Context, stationID string) ([]model.ConfigurationKey, error)
	// SaveConfigurationKey 保存单个配置键
	SaveConfigurationKey(ctx context.Context, stationID string, key model.ConfigurationKey) error
}

// SessionStore 充电会话存储
type SessionStore interface {
	// GetSession 按ID获取会话
	GetSession(ctx context.Context, id string) (*model.ChargingSession, error)
	// GetSessionByTransaction 按交易ID获取会话
	GetSessionByTransaction(ctx context.Context, transactionID int) (*model.ChargingSession, error)
	// ListActiveSessionsByConnector 列出连接器上处于Charging状态的会话
	ListActiveSessionsByConnector(ctx context.Context, stationID string, connectorID int) ([]*model.ChargingSession, error)
	// ListSessionsByStation 列出站点的所有会话
	ListSessionsByStation(ctx context.Context, stationID string) ([]*model.ChargingSession, error)
	// SaveSession 保存会话
	SaveSession(ctx context.Context, session *model.ChargingSession) error
	// NextTransactionID 分配下一个单调递增的交易ID
	NextTransactionID(ctx context.Context) (int, error)
}

// TariffStore 费率存储
type TariffStore interface {
	// GetTariff 按ID获取费率
	GetTariff(ctx context.Context, id string) (*model.Tariff, error)
	// ListTariffs 列出所有费率
	ListTariffs(ctx context.Context) ([]*model.Tariff, error)
	// SaveTariff 保存费率
	SaveTariff(ctx context.Context, tariff *model.Tariff) error
}

// AuthStore 用户与授权方式存储
type AuthStore interface {
	// GetUser 按ID获取用户
	GetUser(ctx context.Context, id string) (*model.User, error)
	// GetUserByIdentifier 按授权标识(idTag)查找用户
	GetUserByIdentifier(ctx context.Context, identifier string) (*model.User, *model.AuthorizationMethod, error)
	// ListAuthorizationMethodsByUser 列出用户的全部授权方式
	ListAuthorizationMethodsByUser(ctx context.Context, userID string) ([]*model.AuthorizationMethod, error)
	// SaveUser 保存用户
	SaveUser(ctx context.Context, user *model.User) error
	// SaveAuthorizationMethod 保存授权方式
	SaveAuthorizationMethod(ctx context.Context, method *model.AuthorizationMethod) error
}

// BillingStore 计费记录存储
type BillingStore interface {
	// GetBillingRecordBySession 获取会话的计费记录
	GetBillingRecordBySession(ctx context.Context, sessionID string) (*model.BillingRecord, error)
	// SaveBillingRecord 保存计费记录
	SaveBillingRecord(ctx context.Context, record *model.BillingRecord) error
}

// PresenceStore 站点在线状态存储，多实例部署时定位连接归属
type PresenceStore interface {
	// SetPresence 注册或刷新站点与服务实例的归属
	SetPresence(ctx context.Context, stationID string, podID string, ttl time.Duration) error
	// GetPresence 获取站点当前归属的服务实例ID
	GetPresence(ctx context.Context, stationID string) (string, error)
	// DeletePresence 删除站点的归属记录
	DeletePresence(ctx context.Context, stationID string) error
	// Close 关闭与存储后端的连接
	Close() error
}
