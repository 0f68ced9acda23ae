package message

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockConsumerGroupSession 记录已标记消息的会话桩
type mockConsumerGroupSession struct {
	mu     sync.Mutex
	marked []*sarama.ConsumerMessage
}

func (s *mockConsumerGroupSession) Claims() map[string][]int32               { return nil }
func (s *mockConsumerGroupSession) MemberID() string                         { return "member-1" }
func (s *mockConsumerGroupSession) GenerationID() int32                      { return 1 }
func (s *mockConsumerGroupSession) MarkOffset(string, int32, int64, string)  {}
func (s *mockConsumerGroupSession) Commit()                                  {}
func (s *mockConsumerGroupSession) ResetOffset(string, int32, int64, string) {}
func (s *mockConsumerGroupSession) Context() context.Context                 { return context.Background() }

func (s *mockConsumerGroupSession) MarkMessage(msg *sarama.ConsumerMessage, metadata string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, msg)
}

func (s *mockConsumerGroupSession) markedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.marked)
}

// mockConsumerGroupClaim 提供固定消息序列的claim桩
type mockConsumerGroupClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (c *mockConsumerGroupClaim) Topic() string                            { return "csms-commands" }
func (c *mockConsumerGroupClaim) Partition() int32                         { return 0 }
func (c *mockConsumerGroupClaim) InitialOffset() int64                     { return 0 }
func (c *mockConsumerGroupClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *mockConsumerGroupClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func commandMessage(t *testing.T, cmd *Command) *sarama.ConsumerMessage {
	t.Helper()
	data, err := json.Marshal(cmd)
	require.NoError(t, err)
	return &sarama.ConsumerMessage{
		Topic: "csms-commands",
		Key:   []byte(cmd.StationID),
		Value: data,
	}
}

func TestKafkaConsumer_ConsumeClaim(t *testing.T) {
	executor := &recordingExecutor{}
	consumer := NewKafkaConsumerWithGroup(nil, "csms-commands", executor, testLogger(t))

	payload, _ := json.Marshal(StopSessionPayload{SessionID: "sess-1"})
	claim := &mockConsumerGroupClaim{messages: make(chan *sarama.ConsumerMessage, 3)}
	claim.messages <- commandMessage(t, &Command{ID: "cmd-1", Name: CommandStopSession, StationID: "ST001", Payload: payload})
	claim.messages <- &sarama.ConsumerMessage{Topic: "csms-commands", Value: []byte("not json")}
	claim.messages <- commandMessage(t, &Command{ID: "cmd-2", Name: "Bogus", StationID: "ST001"})
	close(claim.messages)

	session := &mockConsumerGroupSession{}
	require.NoError(t, consumer.ConsumeClaim(session, claim))

	// 有效与无效消息都被标记，避免卡住消费进度
	assert.Equal(t, 3, session.markedCount())
	assert.Equal(t, []string{"sess-1"}, executor.stopped)
}
