// Package agent 驱动大模型工具调用循环：把用户消息连同会话历史交给
// 大模型，逐个执行其请求的工具，产出待签交易时中断循环等待用户签名，
// 签名提交后从会话恢复继续推理。
package agent
