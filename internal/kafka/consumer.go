package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// Consumer Kafka消费者
type Consumer struct {
	consumer sarama.ConsumerGroup
	groupID  string
	topics   []string
	handlers map[string]MessageHandler
	logger   *zap.Logger
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// MessageHandler 消息处理函数
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// NewConsumer 创建Kafka消费者组
func NewConsumer(brokers []string, groupID string, topics []string, logger *zap.Logger) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true
	config.Version = sarama.V2_6_0_0

	consumerGroup, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("创建Kafka消费者组失败: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	logger.Info("Kafka消费者初始化成功",
		zap.Strings("brokers", brokers),
		zap.String("group_id", groupID),
		zap.Strings("topics", topics))

	return &Consumer{
		consumer: consumerGroup,
		groupID:  groupID,
		topics:   topics,
		handlers: make(map[string]MessageHandler),
		logger:   logger,
	}, nil
}

// RegisterHandler 注册消息处理器，需在 Start 之前调用
func (c *Consumer) RegisterHandler(topic string, handler MessageHandler) {
	if c == nil {
		return
	}
	c.handlers[topic] = handler
	c.logger.Info("注册Kafka消息处理器", zap.String("topic", topic))
}

// Start 启动消费者
func (c *Consumer) Start(ctx context.Context) {
	if c == nil || c.consumer == nil {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		handler := &consumerGroupHandler{handlers: c.handlers, logger: c.logger}
		for {
			select {
			case <-ctx.Done():
				c.logger.Info("Kafka消费者停止")
				return
			default:
				if err := c.consumer.Consume(ctx, c.topics, handler); err != nil {
					c.logger.Error("消费消息失败", zap.Error(err))
					select {
					case <-ctx.Done():
					case <-time.After(5 * time.Second):
					}
				}
			}
		}
	}()

	// 处理错误
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.consumer.Errors() {
			c.logger.Error("Kafka消费者错误", zap.Error(err))
		}
	}()
}

// Close 关闭消费者
func (c *Consumer) Close() error {
	if c == nil {
		return nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	var err error
	if c.consumer != nil {
		err = c.consumer.Close()
	}
	c.wg.Wait()
	return err
}

// consumerGroupHandler 消费者组处理器
type consumerGroupHandler struct {
	handlers map[string]MessageHandler
	logger   *zap.Logger
}

// Setup 会话开始
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup 会话结束
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim 消费消息
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}

			handler, found := h.handlers[message.Topic]
			if !found {
				h.logger.Warn("未找到消息处理器", zap.String("topic", message.Topic))
				session.MarkMessage(message, "")
				continue
			}

			if err := handler(session.Context(), message); err != nil {
				h.logger.Error("处理消息失败",
					zap.String("topic", message.Topic),
					zap.Int32("partition", message.Partition),
					zap.Int64("offset", message.Offset),
					zap.Error(err))
				// 不标记消息，等待重新投递
				continue
			}

			session.MarkMessage(message, "")
			h.logger.Debug("消息处理成功",
				zap.String("topic", message.Topic),
				zap.Int32("partition", message.Partition),
				zap.Int64("offset", message.Offset))

		case <-session.Context().Done():
			return nil
		}
	}
}

// IngestMessage 入库主题上的消息
type IngestMessage struct {
	DocumentID string `json:"document_id,omitempty"`
	Filename   string `json:"filename"`
	Content    string `json:"content"`
}

// ParseIngestMessage 解析入库消息
func ParseIngestMessage(data []byte) (*IngestMessage, error) {
	var msg IngestMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("解析消息失败: %w", err)
	}
	if strings.TrimSpace(msg.Filename) == "" {
		return nil, fmt.Errorf("消息缺少 filename")
	}
	return &msg, nil
}

// NewIngestHandler 将入库消息交给 ingest 处理
// 无法解析的消息只记录日志并跳过，ingest 的错误会让消息保持未提交
func NewIngestHandler(ingest func(ctx context.Context, msg *IngestMessage) error, logger *zap.Logger) MessageHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		msg, err := ParseIngestMessage(message.Value)
		if err != nil {
			logger.Warn("丢弃无效的入库消息",
				zap.Int64("offset", message.Offset),
				zap.Error(err))
			return nil
		}
		return ingest(ctx, msg)
	}
}
