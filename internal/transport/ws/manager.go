package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/charging-platform/central-system/internal/domain/connection"
	"github.com/charging-platform/central-system/internal/domain/protocol"
	"github.com/charging-platform/central-system/internal/domain/wire"
	"github.com/charging-platform/central-system/internal/logger"
	"github.com/charging-platform/central-system/internal/metrics"
)

// CallHandler 处理站点发起的Call消息并返回响应帧
type CallHandler interface {
	// HandleCall 处理一条Call消息，返回要回写的CallResult或CallError帧
	HandleCall(ctx context.Context, stationID string, frame *wire.Frame) ([]byte, error)
}

// ConnectionEventType 连接事件类型
type ConnectionEventType string

const (
	ConnectionEventConnected    ConnectionEventType = "connected"
	ConnectionEventDisconnected ConnectionEventType = "disconnected"
	ConnectionEventSuperseded   ConnectionEventType = "superseded"
)

// ConnectionEvent 连接生命周期事件
type ConnectionEvent struct {
	Type      ConnectionEventType
	StationID string
	Timestamp time.Time
}

// Config WebSocket管理器配置
type Config struct {
	ReadBufferSize   int           `json:"readBufferSize"`
	WriteBufferSize  int           `json:"writeBufferSize"`
	HandshakeTimeout time.Duration `json:"handshakeTimeout"`
	ReadTimeout      time.Duration `json:"readTimeout"`
	WriteTimeout     time.Duration `json:"writeTimeout"`
	PingInterval     time.Duration `json:"pingInterval"`
	PongTimeout      time.Duration `json:"pongTimeout"`
	MaxMessageSize   int64         `json:"maxMessageSize"`
	MaxConnections   int           `json:"maxConnections"`
	SendChannelSize  int           `json:"sendChannelSize"`
	IdleTimeout      time.Duration `json:"idleTimeout"`
	CallTimeout      time.Duration `json:"callTimeout"`
	Subprotocols     []string      `json:"subprotocols"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
		PingInterval:     30 * time.Second,
		PongTimeout:      10 * time.Second,
		MaxMessageSize:   1048576,
		MaxConnections:   10000,
		SendChannelSize:  1000,
		IdleTimeout:      5 * time.Minute,
		CallTimeout:      30 * time.Second,
		Subprotocols:     protocol.GetSupportedVersions(),
	}
}

// GlobalPingService 全局Ping服务
// 单个goroutine定期遍历所有连接发送ping，避免每连接一个定时器。
type GlobalPingService struct {
	connections sync.Map // stationID -> *ConnectionWrapper
	interval    time.Duration
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	logger      zerolog.Logger

	mu           sync.Mutex
	totalPings   int64
	skippedPings int64
}

// NewGlobalPingService 创建全局Ping服务
func NewGlobalPingService(interval time.Duration, log *logger.Logger) *GlobalPingService {
	ctx, cancel := context.WithCancel(context.Background())
	return &GlobalPingService{
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
		logger:   log.Component("ping-service"),
	}
}

// Start 启动Ping服务
func (s *GlobalPingService) Start() {
	s.wg.Add(1)
	go s.pingLoop()
	s.logger.Info().Dur("interval", s.interval).Msg("Global ping service started")
}

// Stop 停止Ping服务
func (s *GlobalPingService) Stop() {
	s.cancel()
	s.wg.Wait()
	s.logger.Info().Msg("Global ping service stopped")
}

// AddConnection 注册连接
func (s *GlobalPingService) AddConnection(stationID string, wrapper *ConnectionWrapper) {
	s.connections.Store(stationID, wrapper)
}

// RemoveConnection 注销连接
func (s *GlobalPingService) RemoveConnection(stationID string) {
	s.connections.Delete(stationID)
}

// Stats 返回发送与跳过的ping计数
func (s *GlobalPingService) Stats() (total, skipped int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalPings, s.skippedPings
}

func (s *GlobalPingService) pingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.pingAll()
		}
	}
}

func (s *GlobalPingService) pingAll() {
	s.connections.Range(func(key, value interface{}) bool {
		wrapper, ok := value.(*ConnectionWrapper)
		if !ok {
			return true
		}
		// 最近有活动的连接跳过ping
		if wrapper.meta.IdleDuration() < s.interval {
			s.mu.Lock()
			s.skippedPings++
			s.mu.Unlock()
			return true
		}
		if err := wrapper.sendPing(); err != nil {
			s.logger.Debug().Err(err).Str("station_id", wrapper.stationID).Msg("Failed to send ping")
			return true
		}
		s.mu.Lock()
		s.totalPings++
		s.mu.Unlock()
		return true
	})
}

// Manager WebSocket连接管理器
// 维护站点ID到连接的注册表。同一站点重复接入时取代旧连接：
// 旧连接标记为superseded并关闭，新连接成为唯一活动连接。
type Manager struct {
	config      *Config
	upgrader    websocket.Upgrader
	connections map[string]*ConnectionWrapper
	mutex       sync.RWMutex
	eventChan   chan ConnectionEvent
	handler     CallHandler
	pending     *PendingCalls
	pingService *GlobalPingService
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	startTime   time.Time
	logger      *logger.Logger
	log         zerolog.Logger
}

// NewManager 创建连接管理器
func NewManager(config *Config, handler CallHandler, log *logger.Logger) *Manager {
	if config == nil {
		config = DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   config.ReadBufferSize,
			WriteBufferSize:  config.WriteBufferSize,
			HandshakeTimeout: config.HandshakeTimeout,
			Subprotocols:     config.Subprotocols,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		connections: make(map[string]*ConnectionWrapper),
		eventChan:   make(chan ConnectionEvent, 1000),
		handler:     handler,
		pending:     NewPendingCalls(config.CallTimeout, log),
		pingService: NewGlobalPingService(config.PingInterval, log),
		ctx:         ctx,
		cancel:      cancel,
		startTime:   time.Now(),
		logger:      log,
		log:         log.Component("ws-manager"),
	}

	return m
}

// Start 启动管理器后台任务
func (m *Manager) Start() {
	m.pingService.Start()
	m.wg.Add(1)
	go m.cleanupRoutine()
	m.log.Info().Msg("WebSocket manager started")
}

// HandleConnection 处理新的WebSocket连接
// 路径格式: /ocpp/{stationID}
func (m *Manager) HandleConnection(w http.ResponseWriter, r *http.Request, stationID string) {
	if stationID == "" {
		http.Error(w, "Station ID is required", http.StatusBadRequest)
		return
	}

	m.mutex.RLock()
	count := len(m.connections)
	m.mutex.RUnlock()
	if count >= m.config.MaxConnections {
		m.log.Warn().Int("count", count).Msg("Connection limit reached")
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}

	// 客户端声明了子协议但没有一个受支持时拒绝握手
	if requested := websocket.Subprotocols(r); len(requested) > 0 {
		supported := false
		for _, version := range requested {
			if protocol.IsVersionSupported(version) {
				supported = true
				break
			}
		}
		if !supported {
			m.log.Warn().Str("station_id", stationID).Strs("subprotocols", requested).Msg("No supported subprotocol offered")
			http.Error(w, "Unsupported subprotocol", http.StatusBadRequest)
			return
		}
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.log.Error().Err(err).Str("station_id", stationID).Msg("Failed to upgrade connection")
		return
	}

	// 同一站点已有连接时取代旧连接
	m.mutex.Lock()
	if old, exists := m.connections[stationID]; exists {
		delete(m.connections, stationID)
		m.mutex.Unlock()

		old.supersede()
		metrics.ConnectionsSuperseded.Inc()
		m.sendEvent(ConnectionEvent{
			Type:      ConnectionEventSuperseded,
			StationID: stationID,
			Timestamp: time.Now(),
		})
		m.log.Info().Str("station_id", stationID).Msg("Existing connection superseded by new connection")

		m.mutex.Lock()
	}

	wrapper := m.createConnectionWrapper(conn, stationID, r)
	m.connections[stationID] = wrapper
	m.mutex.Unlock()

	metrics.ActiveConnections.Set(float64(m.ConnectionCount()))
	m.pingService.AddConnection(stationID, wrapper)

	m.sendEvent(ConnectionEvent{
		Type:      ConnectionEventConnected,
		StationID: stationID,
		Timestamp: time.Now(),
	})

	m.log.Info().
		Str("station_id", stationID).
		Str("remote_addr", r.RemoteAddr).
		Str("subprotocol", conn.Subprotocol()).
		Msg("Station connected")

	wrapper.start()
}

// createConnectionWrapper 创建连接包装器
func (m *Manager) createConnectionWrapper(conn *websocket.Conn, stationID string, r *http.Request) *ConnectionWrapper {
	ctx, cancel := context.WithCancel(m.ctx)

	meta := connection.New(uuid.New().String(), stationID, r.RemoteAddr)
	negotiated := conn.Subprotocol()
	if negotiated == "" {
		negotiated = protocol.GetDefaultVersion()
	}
	if version := protocol.NormalizeVersion(negotiated); version != "" {
		meta.ProtocolVersion = connection.ProtocolVersion(version)
	}

	wrapper := &ConnectionWrapper{
		conn:      conn,
		stationID: stationID,
		meta:      meta,
		sendChan:  make(chan []byte, m.config.SendChannelSize),
		manager:   m,
		ctx:       ctx,
		cancel:    cancel,
		config:    m.config,
		log:       m.logger.Component("ws-conn").With().Str("station_id", stationID).Logger(),
	}

	conn.SetReadLimit(m.config.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(m.config.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(m.config.ReadTimeout))
		wrapper.meta.TouchActivity()
		return nil
	})

	return wrapper
}

// GetConnection 按站点ID查找连接
func (m *Manager) GetConnection(stationID string) (*ConnectionWrapper, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	wrapper, exists := m.connections[stationID]
	return wrapper, exists
}

// HasConnection 站点是否在线
func (m *Manager) HasConnection(stationID string) bool {
	_, exists := m.GetConnection(stationID)
	return exists
}

// ConnectionCount 当前连接数
func (m *Manager) ConnectionCount() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.connections)
}

// ConnectedStations 当前在线站点ID列表
func (m *Manager) ConnectedStations() []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	ids := make([]string, 0, len(m.connections))
	for id := range m.connections {
		ids = append(ids, id)
	}
	return ids
}

// Events 连接事件通道
func (m *Manager) Events() <-chan ConnectionEvent {
	return m.eventChan
}

// Send 向站点发送一条原始帧
func (m *Manager) Send(stationID string, data []byte) error {
	wrapper, exists := m.GetConnection(stationID)
	if !exists {
		return fmt.Errorf("station %s is not connected", stationID)
	}
	return wrapper.Send(data)
}

// Call 向站点发起一次请求并等待响应
// 消息ID使用UUID，响应超过配置的超时时间后返回ErrCallTimeout。
func (m *Manager) Call(ctx context.Context, stationID string, action string, payload interface{}) (*CallOutcome, error) {
	wrapper, exists := m.GetConnection(stationID)
	if !exists {
		return nil, fmt.Errorf("station %s is not connected", stationID)
	}

	messageID := uuid.New().String()
	data, err := wire.EncodeCall(messageID, action, payload)
	if err != nil {
		return nil, err
	}

	outcomeCh := m.pending.Register(messageID, stationID, action)

	if err := wrapper.Send(data); err != nil {
		m.pending.Cancel(messageID)
		<-outcomeCh
		return nil, err
	}

	select {
	case outcome := <-outcomeCh:
		if outcome.Err != nil {
			return nil, outcome.Err
		}
		return outcome, nil
	case <-ctx.Done():
		m.pending.Cancel(messageID)
		return nil, ctx.Err()
	}
}

// handleFrame 处理收到的消息帧
// Call交给处理器并回写响应；CallResult和CallError路由到在途指令表。
func (m *Manager) handleFrame(ctx context.Context, wrapper *ConnectionWrapper, data []byte) {
	frame, err := wire.Decode(data)
	if err != nil {
		wrapper.log.Warn().Err(err).Msg("Received malformed frame")
		// 畸形帧无法提取消息ID时不回复
		var codecErr wire.CodecError
		if errors.As(err, &codecErr) && codecErr.MessageID != "" {
			if response, encErr := wire.EncodeCallError(codecErr.MessageID, wire.ErrFormationViolation, codecErr.Message); encErr == nil {
				wrapper.Send(response)
			}
		}
		metrics.CallErrors.WithLabelValues(string(wire.ErrFormationViolation)).Inc()
		return
	}

	switch {
	case frame.IsCall():
		metrics.MessagesReceived.WithLabelValues(frame.Action).Inc()
		start := time.Now()
		response, err := m.handler.HandleCall(ctx, wrapper.stationID, frame)
		metrics.MessageProcessingDuration.WithLabelValues(frame.Action).Observe(time.Since(start).Seconds())
		if err != nil {
			wrapper.log.Error().Err(err).Str("action", frame.Action).Msg("Call handler failed")
			if response, encErr := wire.EncodeCallError(frame.MessageID, wire.ErrInternalError, "internal error"); encErr == nil {
				wrapper.Send(response)
			}
			metrics.CallErrors.WithLabelValues(string(wire.ErrInternalError)).Inc()
			return
		}
		if response != nil {
			if err := wrapper.Send(response); err != nil {
				wrapper.log.Error().Err(err).Msg("Failed to send response")
			}
		}

	case frame.IsCallResult():
		if !m.pending.Resolve(frame.MessageID, frame.Payload) {
			wrapper.log.Warn().Str("message_id", frame.MessageID).Msg("CallResult for unknown message ID")
		}

	case frame.IsCallError():
		if !m.pending.ResolveError(frame.MessageID, frame.ErrorCode, frame.ErrorDescription) {
			wrapper.log.Warn().Str("message_id", frame.MessageID).Msg("CallError for unknown message ID")
		}
	}
}

// removeConnection 移除连接并发布断开事件
func (m *Manager) removeConnection(wrapper *ConnectionWrapper) {
	m.mutex.Lock()
	current, exists := m.connections[wrapper.stationID]
	// 被取代的旧连接退出时不能移除新连接
	if exists && current == wrapper {
		delete(m.connections, wrapper.stationID)
	} else {
		exists = false
	}
	m.mutex.Unlock()

	m.pingService.RemoveConnection(wrapper.stationID)

	if exists {
		m.pending.CancelForStation(wrapper.stationID)
		metrics.ActiveConnections.Set(float64(m.ConnectionCount()))
		m.sendEvent(ConnectionEvent{
			Type:      ConnectionEventDisconnected,
			StationID: wrapper.stationID,
			Timestamp: time.Now(),
		})
		m.log.Info().Str("station_id", wrapper.stationID).Msg("Station disconnected")
	}
}

// sendEvent 非阻塞发送连接事件，通道满时丢弃
func (m *Manager) sendEvent(event ConnectionEvent) {
	select {
	case m.eventChan <- event:
	default:
		m.log.Warn().Str("type", string(event.Type)).Msg("Connection event channel full, dropping event")
	}
}

// cleanupRoutine 定期清理空闲连接
func (m *Manager) cleanupRoutine() {
	defer m.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.cleanupIdleConnections()
		}
	}
}

// cleanupIdleConnections 关闭超过空闲阈值的连接
func (m *Manager) cleanupIdleConnections() {
	if m.config.IdleTimeout <= 0 {
		return
	}

	m.mutex.RLock()
	var idle []*ConnectionWrapper
	for _, wrapper := range m.connections {
		if wrapper.meta.IdleDuration() > m.config.IdleTimeout {
			idle = append(idle, wrapper)
		}
	}
	m.mutex.RUnlock()

	for _, wrapper := range idle {
		m.log.Info().
			Str("station_id", wrapper.stationID).
			Dur("idle", wrapper.meta.IdleDuration()).
			Msg("Closing idle connection")
		wrapper.Close()
	}
}

// HealthStatus 管理器健康状态
type HealthStatus struct {
	Status      string    `json:"status"`
	Connections int       `json:"connections"`
	Uptime      string    `json:"uptime"`
	Timestamp   time.Time `json:"timestamp"`
}

// HandleHealthCheck 健康检查HTTP接口
func (m *Manager) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Status:      "healthy",
		Connections: m.ConnectionCount(),
		Uptime:      time.Since(m.startTime).String(),
		Timestamp:   time.Now(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(status)
}

// Shutdown 优雅关闭：停止后台任务并关闭全部连接
func (m *Manager) Shutdown(ctx context.Context) error {
	m.log.Info().Msg("Shutting down WebSocket manager")

	m.cancel()
	m.pingService.Stop()

	m.mutex.Lock()
	wrappers := make([]*ConnectionWrapper, 0, len(m.connections))
	for _, wrapper := range m.connections {
		wrappers = append(wrappers, wrapper)
	}
	m.mutex.Unlock()

	for _, wrapper := range wrappers {
		wrapper.Close()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.log.Info().Msg("WebSocket manager stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
