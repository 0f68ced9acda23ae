package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charging-platform/central-system/internal/domain/connection"
	"github.com/charging-platform/central-system/internal/domain/wire"
	"github.com/charging-platform/central-system/internal/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	log, err := logger.New(&logger.Config{
		Level:      "error",
		Format:     "console",
		Output:     "stderr",
		TimeFormat: time.RFC3339,
	})
	require.NoError(t, err)
	return log
}

// acceptAllHandler 对任何Call回复{"status":"Accepted"}
type acceptAllHandler struct{}

func (acceptAllHandler) HandleCall(ctx context.Context, stationID string, frame *wire.Frame) ([]byte, error) {
	return wire.EncodeCallResult(frame.MessageID, map[string]string{"status": "Accepted"})
}

func newTestManager(t *testing.T, config *Config) (*Manager, *httptest.Server) {
	manager := NewManager(config, acceptAllHandler{}, testLogger(t))
	manager.Start()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stationID := strings.TrimPrefix(r.URL.Path, "/ocpp/")
		manager.HandleConnection(w, r, stationID)
	}))

	t.Cleanup(func() {
		server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		manager.Shutdown(ctx)
	})

	return manager, server
}

func dialStation(t *testing.T, server *httptest.Server, stationID string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ocpp/" + stationID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func waitForConnection(t *testing.T, manager *Manager, stationID string) {
	require.Eventually(t, func() bool {
		return manager.HasConnection(stationID)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, 4096, config.ReadBufferSize)
	assert.Equal(t, 4096, config.WriteBufferSize)
	assert.Equal(t, 10*time.Second, config.HandshakeTimeout)
	assert.Equal(t, 30*time.Second, config.CallTimeout)
	assert.Equal(t, 10000, config.MaxConnections)
	assert.Contains(t, config.Subprotocols, "ocpp1.6")
}

func TestNewManager(t *testing.T) {
	manager := NewManager(DefaultConfig(), acceptAllHandler{}, testLogger(t))

	assert.NotNil(t, manager)
	assert.NotNil(t, manager.connections)
	assert.NotNil(t, manager.eventChan)
	assert.NotNil(t, manager.pending)
	assert.NotNil(t, manager.pingService)
}

func TestNewManagerWithNilConfig(t *testing.T) {
	manager := NewManager(nil, acceptAllHandler{}, testLogger(t))

	assert.NotNil(t, manager)
	assert.Equal(t, DefaultConfig().MaxConnections, manager.config.MaxConnections)
}

func TestManager_SendConnectionNotFound(t *testing.T) {
	manager := NewManager(DefaultConfig(), acceptAllHandler{}, testLogger(t))

	err := manager.Send("nonexistent", []byte("test"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}

func TestManager_CallConnectionNotFound(t *testing.T) {
	manager := NewManager(DefaultConfig(), acceptAllHandler{}, testLogger(t))

	_, err := manager.Call(context.Background(), "nonexistent", "RemoteStopTransaction", nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}

func TestManager_StationCallRoundTrip(t *testing.T) {
	manager, server := newTestManager(t, DefaultConfig())

	conn := dialStation(t, server, "ST001")
	defer conn.Close()
	waitForConnection(t, manager, "ST001")

	err := conn.WriteMessage(websocket.TextMessage, []byte(`[2,"msg-1","Heartbeat",{}]`))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	frame, err := wire.Decode(data)
	require.NoError(t, err)
	assert.True(t, frame.IsCallResult())
	assert.Equal(t, "msg-1", frame.MessageID)
	assert.JSONEq(t, `{"status":"Accepted"}`, string(frame.Payload))
}

func TestManager_MalformedFrameGetsCallError(t *testing.T) {
	manager, server := newTestManager(t, DefaultConfig())

	conn := dialStation(t, server, "ST001")
	defer conn.Close()
	waitForConnection(t, manager, "ST001")

	// Call帧缺少载荷，消息ID可提取，应收到FormationViolation
	err := conn.WriteMessage(websocket.TextMessage, []byte(`[2,"bad-1","Heartbeat"]`))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	frame, err := wire.Decode(data)
	require.NoError(t, err)
	assert.True(t, frame.IsCallError())
	assert.Equal(t, "bad-1", frame.MessageID)
	assert.Equal(t, wire.ErrFormationViolation, frame.ErrorCode)
}

func TestManager_MalformedFrameWithoutIDIgnored(t *testing.T) {
	manager, server := newTestManager(t, DefaultConfig())

	conn := dialStation(t, server, "ST001")
	defer conn.Close()
	waitForConnection(t, manager, "ST001")

	// 非JSON数组，无法提取消息ID，连接保持可用
	err := conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
	require.NoError(t, err)

	err = conn.WriteMessage(websocket.TextMessage, []byte(`[2,"msg-2","Heartbeat",{}]`))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	frame, err := wire.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "msg-2", frame.MessageID)
}

func TestManager_Supersede(t *testing.T) {
	manager, server := newTestManager(t, DefaultConfig())

	first := dialStation(t, server, "ST001")
	defer first.Close()
	waitForConnection(t, manager, "ST001")

	second := dialStation(t, server, "ST001")
	defer second.Close()

	// 旧连接被服务端关闭
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := first.ReadMessage()
	assert.Error(t, err)

	// 新连接是唯一活动连接并可正常通信
	assert.Equal(t, 1, manager.ConnectionCount())
	require.NoError(t, second.WriteMessage(websocket.TextMessage, []byte(`[2,"msg-1","Heartbeat",{}]`)))
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := second.ReadMessage()
	require.NoError(t, err)
	frame, err := wire.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "msg-1", frame.MessageID)

	// 取代事件已发布
	superseded := false
	for !superseded {
		select {
		case event := <-manager.Events():
			if event.Type == ConnectionEventSuperseded && event.StationID == "ST001" {
				superseded = true
			}
		case <-time.After(2 * time.Second):
			t.Fatal("superseded event not received")
		}
	}
}

func TestManager_CallToStation(t *testing.T) {
	manager, server := newTestManager(t, DefaultConfig())

	conn := dialStation(t, server, "ST001")
	defer conn.Close()
	waitForConnection(t, manager, "ST001")

	// 站点侧：读取Call并回复CallResult
	go func() {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		frame, err := wire.Decode(data)
		if err != nil || !frame.IsCall() {
			return
		}
		response, _ := wire.EncodeCallResult(frame.MessageID, map[string]string{"status": "Accepted"})
		conn.WriteMessage(websocket.TextMessage, response)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	outcome, err := manager.Call(ctx, "ST001", "RemoteStartTransaction", map[string]string{"idTag": "TAG001"})
	require.NoError(t, err)
	assert.False(t, outcome.IsError())

	var payload map[string]string
	require.NoError(t, json.Unmarshal(outcome.Payload, &payload))
	assert.Equal(t, "Accepted", payload["status"])
}

func TestManager_CallErrorFromStation(t *testing.T) {
	manager, server := newTestManager(t, DefaultConfig())

	conn := dialStation(t, server, "ST001")
	defer conn.Close()
	waitForConnection(t, manager, "ST001")

	go func() {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		frame, err := wire.Decode(data)
		if err != nil {
			return
		}
		response, _ := wire.EncodeCallError(frame.MessageID, wire.ErrNotImplemented, "not supported")
		conn.WriteMessage(websocket.TextMessage, response)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	outcome, err := manager.Call(ctx, "ST001", "GetDiagnostics", nil)
	require.NoError(t, err)
	assert.True(t, outcome.IsError())
	assert.Equal(t, wire.ErrNotImplemented, outcome.ErrorCode)
	assert.Equal(t, "not supported", outcome.ErrorDescription)
}

func TestManager_CallTimeout(t *testing.T) {
	config := DefaultConfig()
	config.CallTimeout = 100 * time.Millisecond
	manager, server := newTestManager(t, config)

	conn := dialStation(t, server, "ST001")
	defer conn.Close()
	waitForConnection(t, manager, "ST001")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := manager.Call(ctx, "ST001", "RemoteStopTransaction", nil)
	assert.ErrorIs(t, err, ErrCallTimeout)
	assert.Equal(t, 0, manager.pending.Count())
}

func TestManager_TooManyConnections(t *testing.T) {
	config := DefaultConfig()
	config.MaxConnections = 0
	_, server := newTestManager(t, config)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ocpp/ST001"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	assert.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestManager_UnsupportedSubprotocolRejected(t *testing.T) {
	_, server := newTestManager(t, DefaultConfig())

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ocpp/ST001"
	dialer := websocket.Dialer{Subprotocols: []string{"ocpp2.0.1"}}
	_, resp, err := dialer.Dial(url, nil)
	assert.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestManager_NegotiatedSubprotocolRecorded(t *testing.T) {
	manager, server := newTestManager(t, DefaultConfig())

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ocpp/ST001"
	dialer := websocket.Dialer{Subprotocols: []string{"ocpp1.6"}}
	conn, _, err := dialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	waitForConnection(t, manager, "ST001")

	manager.mutex.RLock()
	wrapper := manager.connections["ST001"]
	manager.mutex.RUnlock()
	require.NotNil(t, wrapper)
	assert.Equal(t, connection.ProtocolVersionOCPP16, wrapper.meta.ProtocolVersion)
}

func TestManager_DisconnectCancelsPendingCalls(t *testing.T) {
	manager, server := newTestManager(t, DefaultConfig())

	conn := dialStation(t, server, "ST001")
	waitForConnection(t, manager, "ST001")

	errCh := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := manager.Call(ctx, "ST001", "RemoteStopTransaction", nil)
		errCh <- err
	}()

	// 等待指令登记后断开连接
	require.Eventually(t, func() bool {
		return manager.pending.Count() == 1
	}, 2*time.Second, 10*time.Millisecond)
	conn.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrCallCancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("pending call was not cancelled on disconnect")
	}
}

func TestManager_HandleHealthCheck(t *testing.T) {
	manager := NewManager(DefaultConfig(), acceptAllHandler{}, testLogger(t))

	req := httptest.NewRequest("GET", "/health", nil)
	recorder := httptest.NewRecorder()
	manager.HandleHealthCheck(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code)

	var status HealthStatus
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &status))
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, 0, status.Connections)
}
