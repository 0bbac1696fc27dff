package groq

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"SonicOnboard/internal/llm"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(Config{APIKey: "test-key", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient 返回错误: %v", err)
	}
	return client
}

func TestCompleteStructuredToolCall(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["tool_choice"] != "auto" {
			t.Errorf("tool_choice = %v", body["tool_choice"])
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","tool_calls":[
			{"id":"call_1","type":"function","function":{"name":"stake_sonic","arguments":"{\"amount\":5}"}}
		]}}]}`))
	})

	message, err := client.Complete(context.Background(), []llm.Message{
		{Role: llm.RoleUser, Content: "stake 5 S"},
	}, []llm.Tool{{Name: "stake_sonic"}})
	if err != nil {
		t.Fatalf("Complete 返回错误: %v", err)
	}
	if len(message.ToolCalls) != 1 || message.ToolCalls[0].Name != "stake_sonic" {
		t.Fatalf("工具调用 = %+v", message.ToolCalls)
	}
}

func TestReparseInlineToolCalls(t *testing.T) {
	content := `<function=swap_tokens{"input_token_symbol":"USDC","input_token_amount":5,"output_token_symbol":"S"}</function>`
	calls, ok := reparseInlineToolCalls(content)
	if !ok {
		t.Fatal("应能还原定界文本")
	}
	if len(calls) != 1 || calls[0].Name != "swap_tokens" {
		t.Fatalf("calls = %+v", calls)
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(calls[0].Arguments), &args); err != nil {
		t.Fatalf("参数不是合法 JSON: %v", err)
	}
	if args["input_token_symbol"] != "USDC" {
		t.Fatalf("args = %v", args)
	}
	if calls[0].ID == "" {
		t.Fatal("应生成调用 ID")
	}
}

func TestReparseInvalidJSONFails(t *testing.T) {
	if _, ok := reparseInlineToolCalls(`<function=swap_tokens{not json}</function>`); ok {
		t.Fatal("非法 JSON 不应被还原")
	}
	if _, ok := reparseInlineToolCalls(`<function=swap_tokens{"a":1}`); ok {
		t.Fatal("缺少结束定界符不应被还原")
	}
}

func TestCompleteReparsesMalformedContent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"<function=lend_tokens{\"token_symbol\":\"USDC\",\"amount\":10}</function>"}}]}`))
	})

	message, err := client.Complete(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Complete 返回错误: %v", err)
	}
	if len(message.ToolCalls) != 1 || message.ToolCalls[0].Name != "lend_tokens" {
		t.Fatalf("工具调用 = %+v", message.ToolCalls)
	}
	if message.Content != "" {
		t.Fatalf("还原后内容应清空, got %q", message.Content)
	}
}

func TestCompleteMalformedRetryCeiling(t *testing.T) {
	var calls int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"<function=broken{bad"}}]}`))
	})

	message, err := client.Complete(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Complete 返回错误: %v", err)
	}
	if calls != maxMalformedRetries+1 {
		t.Fatalf("请求次数 = %d, 期望 %d", calls, maxMalformedRetries+1)
	}
	if len(message.ToolCalls) != 0 {
		t.Fatal("放弃后不应返回工具调用")
	}
}
