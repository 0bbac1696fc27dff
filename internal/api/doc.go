// Package api 暴露会话、交易流程与持仓查询的 REST 接口。
package api
