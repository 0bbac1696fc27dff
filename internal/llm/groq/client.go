// Package groq 通过 Groq 的 OpenAI 兼容接口调用大模型，支持工具调用。
// 部分模型会把工具调用以定界文本形式混入普通回复，客户端负责识别并
// 还原为结构化调用。
package groq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"SonicOnboard/internal/llm"
	"SonicOnboard/pkg/logger"

	"github.com/google/uuid"
)

const (
	defaultBaseURL   = "https://api.groq.com/openai/v1"
	defaultModelName = "deepseek-r1-distill-llama-70b"
	defaultTimeout   = 60 * time.Second

	// 对畸形工具调用文本的最大重新请求次数。
	maxMalformedRetries = 3
)

// Config 描述了调用 Groq Chat Completions API 所需的信息。
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client 通过 HTTP 调用 Groq 提供的大模型能力。
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient 根据配置创建 Groq 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 Groq API Key")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// wire 格式：OpenAI 兼容的消息与工具结构。

type wireFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

type wireTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Parameters  json.RawMessage `json:"parameters"`
	} `json:"function"`
}

type completionResponse struct {
	Choices []struct {
		Message wireMessage `json:"message"`
	} `json:"choices"`
}

// Complete 请求一次补全。若模型把工具调用以定界文本返回，会尝试还原，
// 还原失败则重新请求，直到达到次数上限。
func (c *Client) Complete(ctx context.Context, messages []llm.Message, tools []llm.Tool) (*llm.Message, error) {
	for attempt := 0; ; attempt++ {
		message, err := c.complete(ctx, messages, tools)
		if err != nil {
			return nil, err
		}

		if len(message.ToolCalls) > 0 || !containsInlineToolCall(message.Content) {
			return message, nil
		}

		if calls, ok := reparseInlineToolCalls(message.Content); ok {
			message.ToolCalls = calls
			message.Content = ""
			return message, nil
		}

		if attempt >= maxMalformedRetries {
			logger.Named("groq").Warn("giving up on malformed tool-call content",
				"attempts", attempt+1)
			return message, nil
		}
		logger.Named("groq").Warn("malformed tool-call content, retrying completion",
			"attempt", attempt+1)
	}
}

func (c *Client) complete(ctx context.Context, messages []llm.Message, tools []llm.Tool) (*llm.Message, error) {
	payload := map[string]any{
		"model":    c.model,
		"messages": toWireMessages(messages),
	}
	if len(tools) > 0 {
		payload["tools"] = toWireTools(tools)
		payload["tool_choice"] = "auto"
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("编码请求失败: %w", err)
	}

	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("构建 Groq 请求失败: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("请求 Groq 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("Groq 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var decoded completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("解析 Groq 响应失败: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return nil, errors.New("Groq 响应中没有有效的 choices")
	}

	wire := decoded.Choices[0].Message
	message := &llm.Message{
		Role:    llm.RoleAssistant,
		Content: wire.Content,
	}
	for _, call := range wire.ToolCalls {
		message.ToolCalls = append(message.ToolCalls, llm.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		})
	}
	return message, nil
}

func toWireMessages(messages []llm.Message) []wireMessage {
	wires := make([]wireMessage, 0, len(messages))
	for _, msg := range messages {
		wire := wireMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
			Name:       msg.Name,
		}
		for _, call := range msg.ToolCalls {
			wireCall := wireToolCall{ID: call.ID, Type: "function"}
			wireCall.Function.Name = call.Name
			wireCall.Function.Arguments = call.Arguments
			wire.ToolCalls = append(wire.ToolCalls, wireCall)
		}
		wires = append(wires, wire)
	}
	return wires
}

func toWireTools(tools []llm.Tool) []wireTool {
	wires := make([]wireTool, 0, len(tools))
	for _, tool := range tools {
		var wire wireTool
		wire.Type = "function"
		wire.Function.Name = tool.Name
		wire.Function.Description = tool.Description
		wire.Function.Parameters = tool.Parameters
		if wire.Function.Parameters == nil {
			wire.Function.Parameters = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		wires = append(wires, wire)
	}
	return wires
}

const (
	inlineCallPrefix = "<function="
	inlineCallSuffix = "</function>"
)

func containsInlineToolCall(content string) bool {
	return strings.Contains(content, inlineCallPrefix)
}

// reparseInlineToolCalls 把 "<function=name{json}</function>" 形式的定界
// 文本还原为结构化工具调用。任何一段无法解析即整体失败。
func reparseInlineToolCalls(content string) ([]llm.ToolCall, bool) {
	var calls []llm.ToolCall
	rest := content
	for {
		start := strings.Index(rest, inlineCallPrefix)
		if start < 0 {
			break
		}
		rest = rest[start+len(inlineCallPrefix):]
		end := strings.Index(rest, inlineCallSuffix)
		if end < 0 {
			return nil, false
		}
		segment := rest[:end]
		rest = rest[end+len(inlineCallSuffix):]

		brace := strings.Index(segment, "{")
		if brace < 0 {
			return nil, false
		}
		name := strings.TrimSpace(segment[:brace])
		args := strings.TrimSpace(segment[brace:])
		if name == "" || !json.Valid([]byte(args)) {
			return nil, false
		}
		calls = append(calls, llm.ToolCall{
			ID:        "call_" + uuid.NewString(),
			Name:      name,
			Arguments: args,
		})
	}
	if len(calls) == 0 {
		return nil, false
	}
	return calls, true
}
