package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/charging-platform/central-system/internal/domain/model"
)

// MemoryStore 线程安全的内存存储，实现全部实体存储接口
type MemoryStore struct {
	mu sync.RWMutex

	stations       map[string]*model.Station
	connectors     map[string]*model.Connector // key: stationID/connectorID
	configurations map[string]map[string]model.ConfigurationKey

	sessions         map[string]*model.ChargingSession
	sessionsByTx     map[int]string
	transactionSeq   int
	users            map[string]*model.User
	authMethods      map[string]*model.AuthorizationMethod // key: identifier
	tariffs          map[string]*model.Tariff
	billingBySession map[string]*model.BillingRecord

	presence map[string]presenceEntry
}

type presenceEntry struct {
	podID     string
	expiresAt time.Time
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		stations:         make(map[string]*model.Station),
		connectors:       make(map[string]*model.Connector),
		configurations:   make(map[string]map[string]model.ConfigurationKey),
		sessions:         make(map[string]*model.ChargingSession),
		sessionsByTx:     make(map[int]string),
		users:            make(map[string]*model.User),
		authMethods:      make(map[string]*model.AuthorizationMethod),
		tariffs:          make(map[string]*model.Tariff),
		billingBySession: make(map[string]*model.BillingRecord),
		presence:         make(map[string]presenceEntry),
	}
}

func connectorKey(stationID string, connectorID int) string {
	return fmt.Sprintf("%s/%d", stationID, connectorID)
}

// GetStation 按ID获取站点
func (s *MemoryStore) GetStation(ctx context.Context, id string) (*model.Station, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	station, ok := s.stations[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *station
	return &copied, nil
}

// SaveStation 保存站点
func (s *MemoryStore) SaveStation(ctx context.Context, station *model.Station) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *station
	s.stations[station.ID] = &copied
	return nil
}

// ListStations 列出所有站点
func (s *MemoryStore) ListStations(ctx context.Context) ([]*model.Station, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*model.Station, 0, len(s.stations))
	for _, station := range s.stations {
		copied := *station
		result = append(result, &copied)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// GetConnector 获取站点下指定连接器
func (s *MemoryStore) GetConnector(ctx context.Context, stationID string, connectorID int) (*model.Connector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	connector, ok := s.connectors[connectorKey(stationID, connectorID)]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *connector
	return &copied, nil
}

// SaveConnector 保存连接器
func (s *MemoryStore) SaveConnector(ctx context.Context, connector *model.Connector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *connector
	s.connectors[connectorKey(connector.StationID, connector.ID)] = &copied
	return nil
}

// ListConnectors 列出站点下所有连接器
func (s *MemoryStore) ListConnectors(ctx context.Context, stationID string) ([]*model.Connector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*model.Connector
	for _, connector := range s.connectors {
		if connector.StationID == stationID {
			copied := *connector
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// GetConfiguration 获取站点的配置键
func (s *MemoryStore) GetConfiguration(ctx context.Context, stationID string) ([]model.ConfigurationKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := s.configurations[stationID]
	result := make([]model.ConfigurationKey, 0, len(keys))
	for _, key := range keys {
		result = append(result, key)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result, nil
}

// SaveConfigurationKey 保存单个配置键
func (s *MemoryStore) SaveConfigurationKey(ctx context.Context, stationID string, key model.ConfigurationKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.configurations[stationID] == nil {
		s.configurations[stationID] = make(map[string]model.ConfigurationKey)
	}
	s.configurations[stationID][key.Key] = key
	return nil
}

// GetSession 按ID获取会话
func (s *MemoryStore) GetSession(ctx context.Context, id string) (*model.ChargingSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *session
	return &copied, nil
}

// GetSessionByTransaction 按交易ID获取会话
func (s *MemoryStore) GetSessionByTransaction(ctx context.Context, transactionID int) (*model.ChargingSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.sessionsByTx[transactionID]
	if !ok {
		return nil, ErrNotFound
	}
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *session
	return &copied, nil
}

// ListActiveSessionsByConnector 列出连接器上处于Charging状态的会话
func (s *MemoryStore) ListActiveSessionsByConnector(ctx context.Context, stationID string, connectorID int) ([]*model.ChargingSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*model.ChargingSession
	for _, session := range s.sessions {
		if session.StationID == stationID && session.ConnectorID == connectorID && session.Status == model.SessionStatusCharging {
			copied := *session
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartedAt.Before(result[j].StartedAt) })
	return result, nil
}

// ListSessionsByStation 列出站点的所有会话
func (s *MemoryStore) ListSessionsByStation(ctx context.Context, stationID string) ([]*model.ChargingSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*model.ChargingSession
	for _, session := range s.sessions {
		if session.StationID == stationID {
			copied := *session
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartedAt.Before(result[j].StartedAt) })
	return result, nil
}

// SaveSession 保存会话
func (s *MemoryStore) SaveSession(ctx context.Context, session *model.ChargingSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *session
	s.sessions[session.ID] = &copied
	if session.TransactionID != 0 {
		s.sessionsByTx[session.TransactionID] = session.ID
		if session.TransactionID > s.transactionSeq {
			s.transactionSeq = session.TransactionID
		}
	}
	return nil
}

// NextTransactionID 分配下一个单调递增的交易ID，种子为已知的最大交易ID
func (s *MemoryStore) NextTransactionID(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactionSeq++
	return s.transactionSeq, nil
}

// GetTariff 按ID获取费率
func (s *MemoryStore) GetTariff(ctx context.Context, id string) (*model.Tariff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tariff, ok := s.tariffs[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *tariff
	return &copied, nil
}

// ListTariffs 列出所有费率
func (s *MemoryStore) ListTariffs(ctx context.Context) ([]*model.Tariff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*model.Tariff, 0, len(s.tariffs))
	for _, tariff := range s.tariffs {
		copied := *tariff
		result = append(result, &copied)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// SaveTariff 保存费率
func (s *MemoryStore) SaveTariff(ctx context.Context, tariff *model.Tariff) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *tariff
	s.tariffs[tariff.ID] = &copied
	return nil
}

// GetUser 按ID获取用户
func (s *MemoryStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *user
	return &copied, nil
}

// GetUserByIdentifier 按授权标识查找用户
func (s *MemoryStore) GetUserByIdentifier(ctx context.Context, identifier string) (*model.User, *model.AuthorizationMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	method, ok := s.authMethods[identifier]
	if !ok {
		return nil, nil, ErrNotFound
	}
	user, ok := s.users[method.UserID]
	if !ok {
		return nil, nil, ErrNotFound
	}
	userCopy := *user
	methodCopy := *method
	return &userCopy, &methodCopy, nil
}

// ListAuthorizationMethodsByUser 列出用户的全部授权方式
func (s *MemoryStore) ListAuthorizationMethodsByUser(ctx context.Context, userID string) ([]*model.AuthorizationMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var methods []*model.AuthorizationMethod
	for _, method := range s.authMethods {
		if method.UserID == userID {
			copied := *method
			methods = append(methods, &copied)
		}
	}
	sort.Slice(methods, func(i, j int) bool { return methods[i].CreatedAt.Before(methods[j].CreatedAt) })
	return methods, nil
}

// SaveUser 保存用户
func (s *MemoryStore) SaveUser(ctx context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *user
	s.users[user.ID] = &copied
	return nil
}

// SaveAuthorizationMethod 保存授权方式
func (s *MemoryStore) SaveAuthorizationMethod(ctx context.Context, method *model.AuthorizationMethod) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *method
	s.authMethods[method.Identifier] = &copied
	return nil
}

// GetBillingRecordBySession 获取会话的计费记录
func (s *MemoryStore) GetBillingRecordBySession(ctx context.Context, sessionID string) (*model.BillingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.billingBySession[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *record
	return &copied, nil
}

// SaveBillingRecord 保存计费记录，每个会话只保留首条
func (s *MemoryStore) SaveBillingRecord(ctx context.Context, record *model.BillingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.billingBySession[record.SessionID]; exists {
		return nil
	}
	copied := *record
	s.billingBySession[record.SessionID] = &copied
	return nil
}

// SetPresence 注册或刷新站点归属，ttl为0时永不过期
func (s *MemoryStore) SetPresence(ctx context.Context, stationID string, podID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := presenceEntry{podID: podID}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	s.presence[stationID] = entry
	return nil
}

// GetPresence 获取站点当前归属的服务实例ID
func (s *MemoryStore) GetPresence(ctx context.Context, stationID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.presence[stationID]
	if !ok {
		return "", ErrNotFound
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		delete(s.presence, stationID)
		return "", ErrNotFound
	}
	return entry.podID, nil
}

// DeletePresence 删除站点的归属记录
func (s *MemoryStore) DeletePresence(ctx context.Context, stationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.presence, stationID)
	return nil
}

// Close 内存存储无需释放资源
func (s *MemoryStore) Close() error {
	return nil
}
