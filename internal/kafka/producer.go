package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// 文档事件类型
const (
	EventDocumentIngested  = "document.ingested"
	EventDocumentDeleted   = "document.deleted"
	EventDocumentReindexed = "document.reindexed"
)

// DocumentEvent 文档生命周期事件
type DocumentEvent struct {
	Type           string    `json:"type"`
	DocumentID     string    `json:"document_id"`
	Filename       string    `json:"filename"`
	ChunkCount     int       `json:"chunk_count"`
	EmbeddingModel string    `json:"embedding_model"`
	Timestamp      time.Time `json:"timestamp"`
}

// EventProducer Kafka事件生产者
type EventProducer struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

// NewEventProducer 连接Kafka并创建事件生产者
func NewEventProducer(brokers []string, topic string, logger *zap.Logger) (*EventProducer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Timeout = 10 * time.Second

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("创建Kafka生产者失败: %w", err)
	}

	p := NewEventProducerWithClient(producer, topic, logger)
	p.logger.Info("Kafka生产者初始化成功", zap.Strings("brokers", brokers), zap.String("topic", topic))
	return p, nil
}

// NewEventProducerWithClient 使用已有的 sarama producer
func NewEventProducerWithClient(producer sarama.SyncProducer, topic string, logger *zap.Logger) *EventProducer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventProducer{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}
}

// Publish 发送文档事件，按文档ID分区保证同一文档的事件有序
func (p *EventProducer) Publish(ctx context.Context, event DocumentEvent) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("Kafka生产者未初始化")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化消息失败: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.DocumentID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{
				Key:   []byte("event_type"),
				Value: []byte(event.Type),
			},
		},
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.Error("发送Kafka消息失败", zap.Error(err))
		return fmt.Errorf("发送消息失败: %w", err)
	}

	p.logger.Debug("Kafka消息发送成功",
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
		zap.String("event", event.Type),
		zap.String("document_id", event.DocumentID))

	return nil
}

// Close 关闭生产者
func (p *EventProducer) Close() error {
	if p != nil && p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
