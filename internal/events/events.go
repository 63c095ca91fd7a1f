// Package events 发布钱包生命周期事件，供下游对账、风控等系统订阅。
//
// 发布是尽力而为且发生在操作完成之后：失败只记录日志，不影响操作结果。
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type 是事件类型，同时作为 RabbitMQ 的 routing key。
type Type string

const (
	TypeAgentCreated      Type = "agent.created"
	TypeWalletIssued      Type = "wallet.issued"
	TypeWalletOrphaned    Type = "wallet.orphaned"
	TypeTransferSubmitted Type = "transfer.submitted"
	TypeTransferRejected  Type = "transfer.rejected"
	TypeTransferFailed    Type = "transfer.failed"
	TypeAlertRaised       Type = "alert.raised"
)

// Event 描述一次已发生的事实。Attributes 只允许放入可公开的信息。
type Event struct {
	ID         string            `json:"id"`
	Type       Type              `json:"type"`
	AgentID    string            `json:"agent_id,omitempty"`
	Chain      string            `json:"chain,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// New 创建带唯一 ID 与时间戳的事件。
func New(typ Type, agentID, chain string, attrs map[string]string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		AgentID:    agentID,
		Chain:      chain,
		Attributes: attrs,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher 将事件投递给外部订阅者。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Noop 丢弃所有事件。
type Noop struct{}

// Publish 实现 Publisher。
func (Noop) Publish(context.Context, Event) error { return nil }

// Close 实现 Publisher。
func (Noop) Close() error { return nil }

// Memory 在内存中保留事件，用于开发环境与测试。
type Memory struct {
	mu     sync.Mutex
	events []Event
	limit  int
}

// NewMemory 创建内存发布器，limit<=0 时不限制保留数量。
func NewMemory(limit int) *Memory {
	return &Memory{limit: limit}
}

// Publish 实现 Publisher。
func (m *Memory) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	if m.limit > 0 && len(m.events) > m.limit {
		m.events = append([]Event(nil), m.events[len(m.events)-m.limit:]...)
	}
	return nil
}

// Events 返回已发布事件的副本。
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// OfType 过滤指定类型的事件。
func (m *Memory) OfType(typ Type) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// Close 实现 Publisher。
func (m *Memory) Close() error { return nil }
