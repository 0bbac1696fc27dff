// Package alerting 把需要人工关注的事件（不变量被破坏、关键依赖持续
// 失败）广播到若干通知渠道。
package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	xerrors "SonicOnboard/internal/errors"
	"SonicOnboard/pkg/logger"
)

// Channel 表示通知渠道。
type Channel string

// 支持的通知渠道
const (
	ChannelSlack    Channel = "slack"
	ChannelRabbitMQ Channel = "rabbitmq"
)

// Event 描述一次需要告警的事件。
type Event struct {
	Code           xerrors.Code      `json:"code"`
	Message        string            `json:"message"`
	Severity       xerrors.Severity  `json:"severity"`
	ConversationID string            `json:"conversation_id,omitempty"`
	RequestID      string            `json:"request_id,omitempty"`
	Flow           string            `json:"flow,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	OccurredAt     time.Time         `json:"occurred_at"`
}

// FromError 由错误构造告警事件，错误码属性决定严重程度。
func FromError(err error, conversationID, requestID, flow string) Event {
	return Event{
		Code:           xerrors.CodeOf(err),
		Message:        err.Error(),
		Severity:       xerrors.SeverityOf(err),
		ConversationID: conversationID,
		RequestID:      requestID,
		Flow:           flow,
		OccurredAt:     time.Now().UTC(),
	}
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

// Notify 将事件广播至所有注册渠道。单个渠道失败不阻断其余渠道。
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
		return xerrors.Join(errs...)
	}
	return nil
}

// NotifyIfNeeded 仅在错误属性要求告警时派发事件，派发失败只记日志。
func NotifyIfNeeded(ctx context.Context, dispatcher Dispatcher, err error, conversationID, requestID, flow string) {
	if dispatcher == nil || err == nil || !xerrors.ShouldAlert(err) {
		return
	}
	event := FromError(err, conversationID, requestID, flow)
	if notifyErr := dispatcher.Notify(ctx, event); notifyErr != nil {
		logger.Named("alerting").Error("alert dispatch failed",
			slog.String("code", string(event.Code)), slog.Any("error", notifyErr))
	}
}
