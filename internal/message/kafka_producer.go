package message

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/charging-platform/central-system/internal/domain/events"
	"github.com/charging-platform/central-system/internal/logger"
	"github.com/charging-platform/central-system/internal/metrics"
)

// EventPublisher 向消息队列发布统一业务事件
type EventPublisher interface {
	// PublishEvent 异步发布一个事件
	PublishEvent(event events.Event) error
	// Close 关闭发布方
	Close() error
}

// ProducerConfig Kafka生产者配置
type ProducerConfig struct {
	Brokers        []string
	Topic          string
	RetryMax       int
	FlushFrequency time.Duration
}

// KafkaProducer 基于sarama异步生产者的事件发布实现
type KafkaProducer struct {
	producer sarama.AsyncProducer
	topic    string
	log      zerolog.Logger
}

// NewKafkaProducer 创建事件生产者
func NewKafkaProducer(config ProducerConfig, log *logger.Logger) (*KafkaProducer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Flush.Frequency = config.FlushFrequency
	saramaConfig.Producer.Retry.Max = config.RetryMax
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(config.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka async producer: %w", err)
	}

	return NewKafkaProducerWithClient(producer, config.Topic, log), nil
}

// NewKafkaProducerWithClient 注入底层生产者，测试时使用
func NewKafkaProducerWithClient(producer sarama.AsyncProducer, topic string, log *logger.Logger) *KafkaProducer {
	kp := &KafkaProducer{
		producer: producer,
		topic:    topic,
		log:      log.Component("kafka-producer"),
	}
	go kp.handleSuccesses()
	go kp.handleErrors()
	return kp
}

// PublishEvent 异步发布事件，以站点ID作为分区键保证同站点事件有序
func (p *KafkaProducer) PublishEvent(event events.Event) error {
	data, err := event.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal event to JSON: %w", err)
	}

	p.producer.Input() <- &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.GetStationID()),
		Value: sarama.ByteEncoder(data),
	}
	metrics.EventsPublished.WithLabelValues(string(event.GetType())).Inc()
	return nil
}

// Pump 持续将事件通道中的事件发布出去，直到通道关闭或上下文取消
func (p *KafkaProducer) Pump(ctx context.Context, eventChan <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-eventChan:
			if !ok {
				return
			}
			if err := p.PublishEvent(event); err != nil {
				p.log.Error().Err(err).Str("type", string(event.GetType())).Msg("Failed to publish event")
			}
		}
	}
}

// Close 关闭生产者
func (p *KafkaProducer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka producer: %w", err)
	}
	return nil
}

func (p *KafkaProducer) handleSuccesses() {
	for msg := range p.producer.Successes() {
		p.log.Debug().
			Str("topic", msg.Topic).
			Str("key", string(msg.Key.(sarama.StringEncoder))).
			Msg("Kafka message sent successfully")
	}
}

func (p *KafkaProducer) handleErrors() {
	for err := range p.producer.Errors() {
		p.log.Error().
			Err(err).
			Str("topic", err.Msg.Topic).
			Msg("Failed to send Kafka message")
	}
}
