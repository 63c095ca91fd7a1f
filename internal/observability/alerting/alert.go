package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "AgentVault/internal/errors"
	"AgentVault/internal/events"
	"AgentVault/pkg/logger"
)

// Channel 表示通知渠道。
type Channel string

// 支持的通知渠道
const (
	ChannelLog    Channel = "log"
	ChannelEvents Channel = "events"
)

// Event 描述一次需要告警的事件。
type Event struct {
	Code       xerrors.Code
	Message    string
	Severity   xerrors.Severity
	Operation  string
	AgentID    string
	Chain      string
	Metadata   map[string]string
	OccurredAt time.Time
}

// FromError 根据统一错误构造告警事件；错误码未要求告警时返回 false。
func FromError(err error, operation, agentID, chain string) (Event, bool) {
	if err == nil || !xerrors.ShouldAlert(err) {
		return Event{}, false
	}
	result := xerrors.ToResult(err)
	event := Event{
		Code:       result.Code,
		Message:    result.Message,
		Severity:   xerrors.SeverityOf(err),
		Operation:  operation,
		AgentID:    agentID,
		Chain:      chain,
		OccurredAt: time.Now().UTC(),
	}
	if e, ok := xerrors.From(err); ok {
		event.Metadata = e.Metadata()
	}
	return event, true
}

// Notifier 负责将事件发送到指定渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给多个通知器。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 实现将事件投递到多个通知器的逻辑。
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewFanout 创建一个新的 FanoutDispatcher。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set}
}

// Notify 将事件广播至所有注册渠道。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// LogNotifier 把告警写入审计日志。
type LogNotifier struct {
	Logger *slog.Logger
}

// Channel 返回日志渠道。
func (n *LogNotifier) Channel() Channel { return ChannelLog }

// Notify 写入一条审计记录。
func (n *LogNotifier) Notify(ctx context.Context, event Event) error {
	log := logger.Audit()
	if n != nil && n.Logger != nil {
		log = n.Logger
	}
	attrs := []slog.Attr{
		slog.String("event", "alert_raised"),
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.String("operation", event.Operation),
		slog.String("agent_id", event.AgentID),
		slog.String("chain", event.Chain),
		slog.String("message", event.Message),
	}
	for k, v := range event.Metadata {
		attrs = append(attrs, slog.String("meta."+k, v))
	}
	level := slog.LevelWarn
	if event.Severity == xerrors.SeverityCritical {
		level = slog.LevelError
	}
	log.LogAttrs(ctx, level, "告警触发", attrs...)
	return nil
}

// EventNotifier 以 alert.raised 事件的形式发布告警。
type EventNotifier struct {
	Publisher events.Publisher
}

// Channel 返回事件渠道。
func (n *EventNotifier) Channel() Channel { return ChannelEvents }

// Notify 发布告警事件。
func (n *EventNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.Publisher == nil {
		logger.L().Warn("EventNotifier 未正确配置，跳过发送", slog.String("agent_id", event.AgentID))
		return nil
	}
	attrs := map[string]string{
		"code":      string(event.Code),
		"severity":  string(event.Severity),
		"operation": event.Operation,
		"message":   event.Message,
	}
	for k, v := range event.Metadata {
		attrs["meta."+k] = v
	}
	return n.Publisher.Publish(ctx, events.New(events.TypeAlertRaised, event.AgentID, event.Chain, attrs))
}
