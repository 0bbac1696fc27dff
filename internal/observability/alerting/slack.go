package alerting

import (
	"context"
	"fmt"
	"strings"

	xerrors "SonicOnboard/internal/errors"
	"SonicOnboard/internal/httpx"
)

// SlackNotifier 通过 Incoming Webhook 发送告警。
type SlackNotifier struct {
	client     *httpx.Client
	webhookURL string
}

// NewSlackNotifier 创建 Slack 通知器。
func NewSlackNotifier(client *httpx.Client, webhookURL string) (*SlackNotifier, error) {
	if strings.TrimSpace(webhookURL) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Slack webhook URL 不能为空")
	}
	if client == nil {
		client = httpx.New()
	}
	return &SlackNotifier{client: client, webhookURL: webhookURL}, nil
}

// Channel 返回 Slack 渠道。
func (n *SlackNotifier) Channel() Channel { return ChannelSlack }

// Notify 发送 Slack 消息。
func (n *SlackNotifier) Notify(ctx context.Context, event Event) error {
	var b strings.Builder
	fmt.Fprintf(&b, "*[%s]* %s - %s", event.Severity, event.Code, event.Message)
	if event.ConversationID != "" {
		fmt.Fprintf(&b, "\n会话: %s", event.ConversationID)
	}
	if event.RequestID != "" {
		fmt.Fprintf(&b, "\n请求: %s", event.RequestID)
	}
	if event.Flow != "" {
		fmt.Fprintf(&b, "\n流程: %s", event.Flow)
	}
	for k, v := range event.Metadata {
		fmt.Fprintf(&b, "\n- %s: %s", k, v)
	}

	payload := map[string]string{"text": b.String()}
	return n.client.PostJSON(ctx, n.webhookURL, nil, payload, nil)
}
