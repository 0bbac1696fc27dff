package agent

import (
	"context"

	"SonicOnboard/internal/chat"
	xerrors "SonicOnboard/internal/errors"
	"SonicOnboard/internal/identity"
	"SonicOnboard/internal/llm"
	"SonicOnboard/internal/txnflow"
	"SonicOnboard/internal/web3"
	"SonicOnboard/pkg/logger"
)

// defaultMaxToolRounds 限制单条用户消息允许的大模型推理轮数。
const defaultMaxToolRounds = 8

// FlowOrchestrator 是交易编排能力的边界。
type FlowOrchestrator interface {
	SwapTokens(ctx context.Context, conversationID, userAddress, toolCallID, inputSymbol string, amount float64, outputSymbol string) (*txnflow.Result, error)
	LendTokens(ctx context.Context, conversationID, userAddress, toolCallID, tokenSymbol string, amount float64) (*txnflow.Result, error)
	WithdrawTokens(ctx context.Context, conversationID, userAddress, toolCallID, tokenSymbol string, amount *float64) (*txnflow.Result, error)
	StakeSonic(ctx context.Context, conversationID, userAddress, toolCallID string, amount float64) (*txnflow.Result, error)
	Submit(ctx context.Context, conversationID, signedTxHash string) (*txnflow.Result, error)
}

// WalletResolver 把 privy 用户 ID 解析为钱包地址。
type WalletResolver interface {
	UserProfile(ctx context.Context, privyUserID string) (*identity.UserProfile, error)
}

// ChainRegistry 提供按名字访问已注册链客户端的能力。
type ChainRegistry interface {
	Chains() []string
	Client(name string) (web3.Client, bool)
}

// Reply 是一轮对话处理的产物。Transaction 非空表示大模型的回应被一笔
// 待签交易中断，前端应引导用户签名后调用提交接口。
type Reply struct {
	Message     string                      `json:"message,omitempty"`
	Transaction *txnflow.TransactionDetails `json:"transaction,omitempty"`
	RequestID   string                      `json:"request_id,omitempty"`
}

// Agent 驱动大模型工具调用循环。
type Agent struct {
	llmClient     llm.Client
	store         chat.Store
	orchestrator  FlowOrchestrator
	identity      WalletResolver
	chains        ChainRegistry
	maxToolRounds int
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithMaxToolRounds 设置单条消息允许的推理轮数上限。
func WithMaxToolRounds(rounds int) Option {
	return func(a *Agent) {
		if rounds > 0 {
			a.maxToolRounds = rounds
		}
	}
}

// New 创建 Agent。
func New(llmClient llm.Client, store chat.Store, orchestrator FlowOrchestrator, resolver WalletResolver, chains ChainRegistry, opts ...Option) *Agent {
	a := &Agent{
		llmClient:     llmClient,
		store:         store,
		orchestrator:  orchestrator,
		identity:      resolver,
		chains:        chains,
		maxToolRounds: defaultMaxToolRounds,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// StartConversation 创建带系统提示与欢迎语的新会话。
func (a *Agent) StartConversation(ctx context.Context, privyUserID string) (*chat.Conversation, error) {
	conversation := chat.NewConversation(privyUserID, []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleAssistant, Content: greeting},
	})
	if err := a.store.CreateConversation(ctx, conversation); err != nil {
		return nil, err
	}
	logger.Named("agent").Info("conversation started",
		"conversation_id", conversation.ID, "user_id", privyUserID)
	return conversation, nil
}

// HandleMessage 把用户消息追加进会话并驱动推理循环。
func (a *Agent) HandleMessage(ctx context.Context, conversationID, privyUserID, text string) (*Reply, error) {
	if text == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "消息内容不能为空")
	}

	conversation, err := a.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	profile, err := a.identity.UserProfile(ctx, privyUserID)
	if err != nil {
		return nil, err
	}

	conversation.Append(llm.Message{Role: llm.RoleUser, Content: text})
	// 用户消息先落盘，推理失败也不丢失这轮输入。
	if err := a.store.SaveConversation(ctx, conversation); err != nil {
		return nil, err
	}
	logger.Audit().Info("user message received",
		"conversation_id", conversationID, "user_id", privyUserID)
	return a.completeConversation(ctx, conversation, profile.EVMWalletAddress)
}

// SubmitSignedTransaction 记录已签名提交的交易哈希并恢复会话。流程
// 还有后续交易时直接返回下一笔待签交易；流程完结时让大模型接着响应。
func (a *Agent) SubmitSignedTransaction(ctx context.Context, conversationID, privyUserID, signedTxHash string) (*Reply, error) {
	if signedTxHash == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "交易哈希不能为空")
	}

	result, err := a.orchestrator.Submit(ctx, conversationID, signedTxHash)
	if err != nil {
		return nil, err
	}

	switch result.Outcome {
	case txnflow.OutcomeNeedsSigning:
		return &Reply{
			Message:     result.Request.Transaction.Description,
			Transaction: result.Request.Transaction,
			RequestID:   result.Request.ID,
		}, nil
	case txnflow.OutcomeComplete:
		// 合成的工具响应已随请求状态落盘，让大模型接着说。
		conversation, err := a.store.GetConversation(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		profile, err := a.identity.UserProfile(ctx, privyUserID)
		if err != nil {
			return nil, err
		}
		return a.completeConversation(ctx, conversation, profile.EVMWalletAddress)
	default:
		// 流程受阻或失败：关闭挂起的工具调用并让大模型解释。
		conversation, err := a.store.GetConversation(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		conversation.Append(llm.Message{
			Role:       llm.RoleTool,
			ToolCallID: result.Request.ToolCallID,
			Content:    result.Reply,
		})
		profile, err := a.identity.UserProfile(ctx, privyUserID)
		if err != nil {
			return nil, err
		}
		return a.completeConversation(ctx, conversation, profile.EVMWalletAddress)
	}
}

// completeConversation 是推理循环：请求补全，执行工具调用，直到大模型
// 给出纯文本回复、产出待签交易或用完轮数预算。
func (a *Agent) completeConversation(ctx context.Context, conversation *chat.Conversation, userAddress string) (*Reply, error) {
	tools := toolDefinitions()

	for round := 0; round < a.maxToolRounds; round++ {
		message, err := a.llmClient.Complete(ctx, conversation.Messages, tools)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeLLMFailure, err, "大模型推理失败")
		}
		conversation.Append(*message)

		if len(message.ToolCalls) == 0 {
			if err := a.store.SaveConversation(ctx, conversation); err != nil {
				return nil, err
			}
			return &Reply{Message: message.Content}, nil
		}

		for i, call := range message.ToolCalls {
			outcome, err := a.executeTool(ctx, conversation.ID, userAddress, call)
			if err != nil {
				return nil, err
			}

			if outcome.flowResult != nil && outcome.flowResult.Outcome == txnflow.OutcomeNeedsSigning {
				// 待签交易中断循环。当前调用的工具响应推迟到签名提交
				// 完结时再补进会话；同一条消息里未执行的其余调用要先
				// 关闭掉，否则下次补全会携带未应答的工具调用。
				for _, skipped := range message.ToolCalls[i+1:] {
					conversation.Append(llm.Message{
						Role:       llm.RoleTool,
						ToolCallID: skipped.ID,
						Content:    "Error: not executed, a transaction is awaiting the user's signature.",
					})
				}
				if err := a.store.SaveConversation(ctx, conversation); err != nil {
					return nil, err
				}
				request := outcome.flowResult.Request
				return &Reply{
					Message:     request.Transaction.Description,
					Transaction: request.Transaction,
					RequestID:   request.ID,
				}, nil
			}

			conversation.Append(llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: call.ID,
				Content:    outcome.content,
			})
		}
	}

	if err := a.store.SaveConversation(ctx, conversation); err != nil {
		return nil, err
	}
	logger.Named("agent").Warn("tool round budget exhausted",
		"conversation_id", conversation.ID, "rounds", a.maxToolRounds)
	last := conversation.Messages[len(conversation.Messages)-1]
	return &Reply{Message: last.Content}, nil
}
