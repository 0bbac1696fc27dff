package txnflow

import (
	"context"
	"fmt"

	"SonicOnboard/internal/chat"
	"SonicOnboard/internal/errors"
	"SonicOnboard/internal/llm"
	"SonicOnboard/internal/observability/metrics"
	"SonicOnboard/pkg/logger"
)

// Result 是一次编排调用的产物。Reply 是给大模型工具响应或前端展示的
// 人类可读文本；待签交易通过 Request.Transaction 暴露。
type Result struct {
	Outcome Outcome
	Request *Request
	Reply   string
}

// Orchestrator 把会话级的交易意图映射到流程状态机：同一会话同一时刻
// 最多一个 PROCESSING 请求，意图重入时复用它继续推进而不是新建。
type Orchestrator struct {
	flows         *Flows
	store         Store
	conversations chat.Store
	directory     TokenDirectory
}

// NewOrchestrator 创建编排器。
func NewOrchestrator(flows *Flows, store Store, conversations chat.Store, directory TokenDirectory) *Orchestrator {
	return &Orchestrator{
		flows:         flows,
		store:         store,
		conversations: conversations,
		directory:     directory,
	}
}

// SwapTokens 发起或继续一次代币兑换。
func (o *Orchestrator) SwapTokens(ctx context.Context, conversationID, userAddress, toolCallID, inputSymbol string, amount float64, outputSymbol string) (*Result, error) {
	addresses, badSymbol, err := o.resolveTokens(ctx, inputSymbol, outputSymbol)
	if err != nil {
		return nil, err
	}
	data := map[string]any{
		"input_token_symbol":   inputSymbol,
		"input_token_amount":   amount,
		"output_token_symbol":  outputSymbol,
		"input_token_address":  addresses[inputSymbol],
		"output_token_address": addresses[outputSymbol],
	}
	return o.initiate(ctx, conversationID, userAddress, toolCallID, FlowSwap, data, badSymbol)
}

// LendTokens 发起或继续一次借贷存入。
func (o *Orchestrator) LendTokens(ctx context.Context, conversationID, userAddress, toolCallID, tokenSymbol string, amount float64) (*Result, error) {
	addresses, badSymbol, err := o.resolveTokens(ctx, tokenSymbol)
	if err != nil {
		return nil, err
	}
	data := map[string]any{
		"token_symbol":  tokenSymbol,
		"token_address": addresses[tokenSymbol],
		"amount":        amount,
	}
	return o.initiate(ctx, conversationID, userAddress, toolCallID, FlowLend, data, badSymbol)
}

// WithdrawTokens 发起或继续一次提取。amount 为 nil 时提取全部。
func (o *Orchestrator) WithdrawTokens(ctx context.Context, conversationID, userAddress, toolCallID, tokenSymbol string, amount *float64) (*Result, error) {
	addresses, badSymbol, err := o.resolveTokens(ctx, tokenSymbol)
	if err != nil {
		return nil, err
	}
	data := map[string]any{
		"token_symbol":  tokenSymbol,
		"token_address": addresses[tokenSymbol],
	}
	if amount != nil {
		data["amount"] = *amount
	}
	return o.initiate(ctx, conversationID, userAddress, toolCallID, FlowWithdraw, data, badSymbol)
}

// StakeSonic 发起或继续一次原生代币质押。
func (o *Orchestrator) StakeSonic(ctx context.Context, conversationID, userAddress, toolCallID string, amount float64) (*Result, error) {
	data := map[string]any{
		"amount": amount,
	}
	return o.initiate(ctx, conversationID, userAddress, toolCallID, FlowStake, data, "")
}

// PendingTransaction 返回会话当前的 PROCESSING 请求。
func (o *Orchestrator) PendingTransaction(ctx context.Context, conversationID string) (*Request, error) {
	return o.store.ActiveRequest(ctx, conversationID)
}

// Submit 记录用户已签名提交的交易哈希并推进流程。当前步骤已是最后
// 一步时直接完结：记录哈希、清空待签交易、把合成的工具响应追加进
// 会话消息日志，两者原子落盘；否则继续推进产出下一笔待签交易。
func (o *Orchestrator) Submit(ctx context.Context, conversationID, signedTxHash string) (*Result, error) {
	request, err := o.store.ActiveRequest(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	request.SignedTxHash = signedTxHash
	request.Transaction = nil

	if request.Step >= FinalStep(request.Flow) {
		request.State = StateCompleted

		conversation, err := o.conversations.GetConversation(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		conversation.Append(llm.Message{
			Role:       llm.RoleTool,
			ToolCallID: request.ToolCallID,
			Content: fmt.Sprintf("Transaction submitted successfully with hash %s. The %s flow is complete.",
				signedTxHash, request.Flow),
		})
		if err := o.store.SaveRequestWithConversation(ctx, request, conversation); err != nil {
			return nil, err
		}

		logger.Audit().Info("transaction flow completed",
			"conversation_id", conversationID, "request_id", request.ID,
			"flow", request.Flow, "tx_hash", signedTxHash)
		return &Result{
			Outcome: OutcomeComplete,
			Request: request,
			Reply:   fmt.Sprintf("Transaction submitted successfully with hash %s.", signedTxHash),
		}, nil
	}

	if err := o.store.SaveRequest(ctx, request); err != nil {
		return nil, err
	}
	return o.process(ctx, request)
}

// initiate 取回会话的活跃请求，没有时新建一个，然后推进流程。
// 活跃请求的流程与本次意图不一致属于不变量被破坏。
func (o *Orchestrator) initiate(ctx context.Context, conversationID, userAddress, toolCallID string, flow Flow, data map[string]any, badSymbol string) (*Result, error) {
	request, err := o.store.ActiveRequest(ctx, conversationID)
	switch {
	case err == nil:
		if request.Flow != flow {
			return nil, errors.New(CodeFlowMismatch,
				fmt.Sprintf("active request is %s, got %s", request.Flow, flow))
		}
		// 新的工具调用接管这条请求的响应槽位。
		request.ToolCallID = toolCallID
		// 符号解析门槛对每次发起调用都生效：重入时解析失败同样终结
		// 这条活跃请求，不能继续推进旧的待签交易。
		if badSymbol != "" {
			reply := fmt.Sprintf("Error: Token %s not supported", badSymbol)
			request.MarkFailed(reply)
			if err := o.store.SaveRequest(ctx, request); err != nil {
				return nil, err
			}
			return &Result{Outcome: OutcomeFailed, Request: request, Reply: reply}, nil
		}
	case errors.Is(err, ErrNoPendingTransaction):
		request = NewRequest(conversationID, userAddress, flow, data, toolCallID)
		if badSymbol != "" {
			reply := fmt.Sprintf("Error: Token %s not supported", badSymbol)
			request.MarkFailed(reply)
			if err := o.store.CreateRequest(ctx, request); err != nil {
				return nil, err
			}
			return &Result{Outcome: OutcomeFailed, Request: request, Reply: reply}, nil
		}
		if err := o.store.CreateRequest(ctx, request); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	return o.process(ctx, request)
}

// process 推进一次流程并把结果翻译为对话回复。
func (o *Orchestrator) process(ctx context.Context, request *Request) (*Result, error) {
	outcome, err := o.flows.Process(ctx, request)
	if err != nil {
		return nil, err
	}
	metrics.ObserveFlowOutcome(string(request.Flow), outcome.String())
	logger.Audit().Info("flow step processed",
		"conversation_id", request.ConversationID, "request_id", request.ID,
		"flow", request.Flow, "step", request.Step, "outcome", outcome.String())

	result := &Result{Outcome: outcome, Request: request}
	switch outcome {
	case OutcomeComplete:
		request.State = StateCompleted
		request.Transaction = nil
		if err := o.store.SaveRequest(ctx, request); err != nil {
			return nil, err
		}
		result.Reply = fmt.Sprintf("The %s flow is complete.", request.Flow)
	case OutcomeNeedsSigning:
		result.Reply = fmt.Sprintf("Transaction ready for user signature: %s", request.Transaction.Description)
	case OutcomeBlocked:
		result.Reply = blockedReply(request)
	case OutcomeFailed:
		result.Reply = request.FailedReason
	}
	return result, nil
}

// blockedReply 生成流程无法继续时的说明文本，请求保持 PROCESSING。
func blockedReply(request *Request) string {
	symbol := dataString(request.Data, "token_symbol")
	switch request.Flow {
	case FlowLend:
		return fmt.Sprintf("Error: No lending market found for %s", symbol)
	case FlowWithdraw:
		return fmt.Sprintf("Error: No active lending position found for %s", symbol)
	default:
		return "Error: Unable to continue this transaction flow"
	}
}

// resolveTokens 把符号解析为地址，返回第一个解析失败的符号。
func (o *Orchestrator) resolveTokens(ctx context.Context, symbols ...string) (map[string]string, string, error) {
	addresses, err := o.directory.AddressesFromSymbols(ctx, symbols)
	if err != nil {
		return nil, "", err
	}
	for _, symbol := range symbols {
		if addresses[symbol] == "" {
			return addresses, symbol, nil
		}
	}
	return addresses, "", nil
}
