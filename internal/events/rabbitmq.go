package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQConfig 描述 RabbitMQ 发布器的连接参数。
type RabbitMQConfig struct {
	URL      string
	Exchange string
}

// RabbitMQ 把事件以持久化 JSON 消息发布到 topic exchange，routing key
// 为事件类型。
type RabbitMQ struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

// NewRabbitMQ 建立连接并声明 exchange。
func NewRabbitMQ(cfg RabbitMQConfig) (*RabbitMQ, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = "agentvault.events"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("声明 RabbitMQ exchange 失败: %w", err)
	}
	return &RabbitMQ{conn: conn, ch: ch, exchange: exchange}, nil
}

// Publish 实现 Publisher。amqp Channel 不支持并发发布，这里串行化。
func (r *RabbitMQ) Publish(ctx context.Context, event Event) error {
	if r == nil || r.ch == nil {
		return errors.New("RabbitMQ 发布器未初始化")
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ch.PublishWithContext(ctx, r.exchange, string(event.Type), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Timestamp:    event.OccurredAt,
		Type:         string(event.Type),
		Body:         body,
	})
}

// Close 关闭 RabbitMQ 连接。
func (r *RabbitMQ) Close() error {
	if r == nil {
		return nil
	}
	if r.ch != nil {
		_ = r.ch.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
