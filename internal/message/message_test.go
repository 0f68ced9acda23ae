package message

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charging-platform/central-system/internal/business/command"
	"github.com/charging-platform/central-system/internal/domain/events"
	"github.com/charging-platform/central-system/internal/domain/model"
	"github.com/charging-platform/central-system/internal/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(&logger.Config{
		Level:      "error",
		Format:     "console",
		Output:     "stderr",
		TimeFormat: time.RFC3339,
	})
	require.NoError(t, err)
	return log
}

// mockAsyncProducer 捕获写入消息的sarama.AsyncProducer桩
type mockAsyncProducer struct {
	input     chan *sarama.ProducerMessage
	successes chan *sarama.ProducerMessage
	errors    chan *sarama.ProducerError

	mu       sync.Mutex
	captured []*sarama.ProducerMessage
	done     chan struct{}
}

func newMockAsyncProducer() *mockAsyncProducer {
	m := &mockAsyncProducer{
		input:     make(chan *sarama.ProducerMessage, 16),
		successes: make(chan *sarama.ProducerMessage),
		errors:    make(chan *sarama.ProducerError),
		done:      make(chan struct{}),
	}
	go func() {
		for msg := range m.input {
			m.mu.Lock()
			m.captured = append(m.captured, msg)
			m.mu.Unlock()
		}
		close(m.done)
	}()
	return m
}

func (m *mockAsyncProducer) AsyncClose() {
	close(m.input)
	close(m.successes)
	close(m.errors)
}

func (m *mockAsyncProducer) Close() error {
	m.AsyncClose()
	<-m.done
	return nil
}

func (m *mockAsyncProducer) Input() chan<- *sarama.ProducerMessage     { return m.input }
func (m *mockAsyncProducer) Successes() <-chan *sarama.ProducerMessage { return m.successes }
func (m *mockAsyncProducer) Errors() <-chan *sarama.ProducerError      { return m.errors }
func (m *mockAsyncProducer) IsTransactional() bool                     { return false }
func (m *mockAsyncProducer) TxnStatus() sarama.ProducerTxnStatusFlag {
	return sarama.ProducerTxnFlagReady
}
func (m *mockAsyncProducer) BeginTxn() error  { return nil }
func (m *mockAsyncProducer) CommitTxn() error { return nil }
func (m *mockAsyncProducer) AbortTxn() error  { return nil }
func (m *mockAsyncProducer) AddOffsetsToTxn(map[string][]*sarama.PartitionOffsetMetadata, string) error {
	return nil
}
func (m *mockAsyncProducer) AddMessageToTxn(*sarama.ConsumerMessage, string, *string) error {
	return nil
}

func (m *mockAsyncProducer) messages() []*sarama.ProducerMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*sarama.ProducerMessage(nil), m.captured...)
}

func TestKafkaProducer_PublishEvent(t *testing.T) {
	mock := newMockAsyncProducer()
	producer := NewKafkaProducerWithClient(mock, "csms-events", testLogger(t))

	factory := events.NewEventFactory("test")
	event := factory.CreateStationDisconnectedEvent("ST001", "EOF")
	require.NoError(t, producer.PublishEvent(event))

	require.Eventually(t, func() bool { return len(mock.messages()) == 1 }, time.Second, 10*time.Millisecond)

	msg := mock.messages()[0]
	assert.Equal(t, "csms-events", msg.Topic)
	assert.Equal(t, sarama.StringEncoder("ST001"), msg.Key)

	value, err := msg.Value.Encode()
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(value, &decoded))
	assert.Equal(t, string(events.EventTypeStationDisconnected), decoded["type"])

	require.NoError(t, producer.Close())
}

func TestEventNotifier_NotifyBillingRecord(t *testing.T) {
	mock := newMockAsyncProducer()
	producer := NewKafkaProducerWithClient(mock, "csms-events", testLogger(t))
	t.Cleanup(func() { _ = producer.Close() })

	notifier := NewEventNotifier(producer, "pod-test", testLogger(t))
	notifier.NotifyBillingRecord(context.Background(), &model.BillingRecord{
		ID:        "rec-1",
		SessionID: "sess-1",
		StationID: "ST001",
		TenantID:  "tenant-1",
		Amount:    1.5,
		Currency:  "EUR",
		CreatedAt: time.Now().UTC(),
	})

	require.Eventually(t, func() bool { return len(mock.messages()) == 1 }, time.Second, 10*time.Millisecond)

	msg := mock.messages()[0]
	assert.Equal(t, sarama.StringEncoder("ST001"), msg.Key)

	value, err := msg.Value.Encode()
	require.NoError(t, err)
	var decoded struct {
		Type        string             `json:"type"`
		BillingInfo events.BillingInfo `json:"billing_info"`
	}
	require.NoError(t, json.Unmarshal(value, &decoded))
	assert.Equal(t, string(events.EventTypeBillingRecordCreated), decoded.Type)
	assert.Equal(t, "rec-1", decoded.BillingInfo.RecordID)
	assert.Equal(t, "sess-1", decoded.BillingInfo.SessionID)
}

func TestKafkaProducer_Pump(t *testing.T) {
	mock := newMockAsyncProducer()
	producer := NewKafkaProducerWithClient(mock, "csms-events", testLogger(t))
	t.Cleanup(func() { _ = producer.Close() })

	factory := events.NewEventFactory("test")
	eventChan := make(chan events.Event, 2)
	eventChan <- factory.CreateStationDisconnectedEvent("ST001", "EOF")
	eventChan <- factory.CreateStationDisconnectedEvent("ST002", "EOF")
	close(eventChan)

	producer.Pump(context.Background(), eventChan)

	require.Eventually(t, func() bool { return len(mock.messages()) == 2 }, time.Second, 10*time.Millisecond)
}

// recordingExecutor 记录收到的指令调用
type recordingExecutor struct {
	mu      sync.Mutex
	started []command.StartRequest
	stopped []string
	config  []string
	changed [][2]string
	diag    []string
}

func (e *recordingExecutor) StartSession(ctx context.Context, req command.StartRequest) (*model.ChargingSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started = append(e.started, req)
	return &model.ChargingSession{ID: "sess-1"}, nil
}

func (e *recordingExecutor) StopSession(ctx context.Context, sessionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = append(e.stopped, sessionID)
	return nil
}

func (e *recordingExecutor) GetConfiguration(ctx context.Context, stationID string, keys []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.config = append(e.config, stationID)
	return nil
}

func (e *recordingExecutor) ChangeConfiguration(ctx context.Context, stationID, key, value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.changed = append(e.changed, [2]string{key, value})
	return nil
}

func (e *recordingExecutor) GetDiagnostics(ctx context.Context, stationID, location string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.diag = append(e.diag, location)
	return nil
}

func TestExecuteCommand_StartSession(t *testing.T) {
	executor := &recordingExecutor{}
	userID := "user-1"
	payload, _ := json.Marshal(StartSessionPayload{ConnectorID: 2, UserID: &userID})

	err := ExecuteCommand(context.Background(), executor, &Command{
		ID:        "cmd-1",
		Name:      CommandStartSession,
		StationID: "ST001",
		Payload:   payload,
	})
	require.NoError(t, err)
	require.Len(t, executor.started, 1)
	assert.Equal(t, "ST001", executor.started[0].StationID)
	assert.Equal(t, 2, executor.started[0].ConnectorID)
	require.NotNil(t, executor.started[0].UserID)
	assert.Equal(t, "user-1", *executor.started[0].UserID)
}

func TestExecuteCommand_StopSession(t *testing.T) {
	executor := &recordingExecutor{}
	payload, _ := json.Marshal(StopSessionPayload{SessionID: "sess-9"})

	err := ExecuteCommand(context.Background(), executor, &Command{
		Name:      CommandStopSession,
		StationID: "ST001",
		Payload:   payload,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"sess-9"}, executor.stopped)
}

func TestExecuteCommand_ChangeConfiguration(t *testing.T) {
	executor := &recordingExecutor{}
	payload, _ := json.Marshal(ChangeConfigurationPayload{Key: "HeartbeatInterval", Value: "600"})

	err := ExecuteCommand(context.Background(), executor, &Command{
		Name:      CommandChangeConfiguration,
		StationID: "ST001",
		Payload:   payload,
	})
	require.NoError(t, err)
	assert.Equal(t, [2]string{"HeartbeatInterval", "600"}, executor.changed[0])
}

func TestExecuteCommand_GetConfiguration_EmptyPayload(t *testing.T) {
	executor := &recordingExecutor{}

	err := ExecuteCommand(context.Background(), executor, &Command{
		Name:      CommandGetConfiguration,
		StationID: "ST001",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ST001"}, executor.config)
}

func TestExecuteCommand_UnknownCommand(t *testing.T) {
	executor := &recordingExecutor{}

	err := ExecuteCommand(context.Background(), executor, &Command{Name: "Reboot", StationID: "ST001"})
	assert.Error(t, err)
}

func TestExecuteCommand_InvalidPayload(t *testing.T) {
	executor := &recordingExecutor{}

	err := ExecuteCommand(context.Background(), executor, &Command{
		Name:      CommandStopSession,
		StationID: "ST001",
		Payload:   json.RawMessage(`{not json`),
	})
	assert.Error(t, err)
	assert.Empty(t, executor.stopped)
}
