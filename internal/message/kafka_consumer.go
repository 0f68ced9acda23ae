package message

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/charging-platform/central-system/internal/logger"
	"github.com/charging-platform/central-system/internal/metrics"
)

// SaramaConsumerGroup sarama消费者组中本包用到的子集
type SaramaConsumerGroup interface {
	Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error
	Close() error
}

// ConsumerConfig Kafka消费者配置
type ConsumerConfig struct {
	Brokers       []string
	Topic         string
	GroupID       string
	OffsetInitial string
}

// KafkaConsumer 消费平台下发的指令并交给执行方
type KafkaConsumer struct {
	consumerGroup SaramaConsumerGroup
	topic         string
	executor      CommandExecutor
	cancel        context.CancelFunc
	log           zerolog.Logger
}

// NewKafkaConsumer 创建指令消费者
func NewKafkaConsumer(config ConsumerConfig, executor CommandExecutor, log *logger.Logger) (*KafkaConsumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Consumer.Return.Errors = true
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	if config.OffsetInitial == "oldest" {
		saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	saramaConfig.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRange()
	saramaConfig.Consumer.Group.Session.Timeout = 10 * time.Second
	saramaConfig.Consumer.Group.Heartbeat.Interval = 3 * time.Second

	consumerGroup, err := sarama.NewConsumerGroup(config.Brokers, config.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Sarama consumer group: %w", err)
	}

	consumer := NewKafkaConsumerWithGroup(consumerGroup, config.Topic, executor, log)
	go func() {
		for err := range consumerGroup.Errors() {
			consumer.log.Error().Err(err).Msg("Sarama consumer group error")
		}
	}()
	return consumer, nil
}

// NewKafkaConsumerWithGroup 注入消费者组，测试时使用
func NewKafkaConsumerWithGroup(group SaramaConsumerGroup, topic string, executor CommandExecutor, log *logger.Logger) *KafkaConsumer {
	return &KafkaConsumer{
		consumerGroup: group,
		topic:         topic,
		executor:      executor,
		log:           log.Component("kafka-consumer"),
	}
}

// Start 启动消费循环
func (c *KafkaConsumer) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	go func() {
		defer cancel()
		for {
			if err := c.consumerGroup.Consume(ctx, []string{c.topic}, c); err != nil {
				c.log.Error().Err(err).Msg("Error from Kafka consumer group")
				if ctx.Err() != nil {
					c.log.Info().Msg("Kafka consumer context cancelled, stopping consumption")
					return
				}
				// 错误后退避，避免快速重试空转
				time.Sleep(time.Second)
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()
	return nil
}

// Close 关闭消费者
func (c *KafkaConsumer) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	if c.consumerGroup != nil {
		return c.consumerGroup.Close()
	}
	return nil
}

func (c *KafkaConsumer) Setup(sarama.ConsumerGroupSession) error {
	c.log.Info().Msg("Kafka consumer group setup completed")
	return nil
}

func (c *KafkaConsumer) Cleanup(sarama.ConsumerGroupSession) error {
	c.log.Info().Msg("Kafka consumer group cleanup completed")
	return nil
}

// ConsumeClaim 核心消费逻辑
// 消息总是被标记，指令执行失败只记录日志，由平台侧自行重发。
func (c *KafkaConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		c.handleMessage(session.Context(), message)
		session.MarkMessage(message, "")
	}
	return nil
}

func (c *KafkaConsumer) handleMessage(ctx context.Context, message *sarama.ConsumerMessage) {
	var cmd Command
	if err := json.Unmarshal(message.Value, &cmd); err != nil {
		c.log.Error().Err(err).
			Str("topic", message.Topic).
			Int64("offset", message.Offset).
			Msg("Failed to unmarshal command message")
		return
	}

	metrics.CommandsConsumed.WithLabelValues(cmd.Name).Inc()

	if err := ExecuteCommand(ctx, c.executor, &cmd); err != nil {
		c.log.Warn().Err(err).
			Str("command_id", cmd.ID).
			Str("command", cmd.Name).
			Str("station_id", cmd.StationID).
			Msg("Command execution failed")
		return
	}

	c.log.Debug().
		Str("command_id", cmd.ID).
		Str("command", cmd.Name).
		Str("station_id", cmd.StationID).
		Msg("Command executed")
}
