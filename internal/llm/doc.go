// Package llm 定义会话消息、工具调用与大模型客户端的统一抽象，
// 具体后端在子包中实现。
package llm
