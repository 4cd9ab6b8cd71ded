// Package kafka 提供了向 Kafka 发布对话事件的功能。
package kafka

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"chat-relay-go/internal/config"
	"chat-relay-go/pkg/log"
	"chat-relay-go/pkg/tasks"

	"github.com/segmentio/kafka-go"
)

// Publisher 发布对话完成事件。
type Publisher interface {
	PublishTurn(ctx context.Context, event tasks.TurnCompletedEvent) error
	Close() error
}

// messageWriter 是 kafka.Writer 中被用到的方法集合。
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type producer struct {
	writer messageWriter
}

// NewPublisher 根据配置创建 Kafka 生产者；未配置 brokers 时返回不做任何事的实现。
func NewPublisher(cfg config.KafkaConfig) Publisher {
	brokers := splitBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		log.Info("未配置 Kafka brokers，对话事件不会被发布")
		return noopPublisher{}
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	log.Infof("Kafka 生产者初始化成功，主题 '%s'", cfg.Topic)
	return &producer{writer: w}
}

// PublishTurn 以会话 ID 为 key 发送事件，同一会话的事件落在同一分区。
func (p *producer) PublishTurn(ctx context.Context, event tasks.TurnCompletedEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatUint(uint64(event.ConversationID), 10)),
		Value: value,
	})
}

func (p *producer) Close() error {
	return p.writer.Close()
}

type noopPublisher struct{}

func (noopPublisher) PublishTurn(context.Context, tasks.TurnCompletedEvent) error { return nil }
func (noopPublisher) Close() error                                               { return nil }

func splitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
