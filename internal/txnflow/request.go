// Package txnflow 实现多步、可恢复的链上交易编排：把一次用户意图
// （兑换、借贷、提取、质押）展开为有序的交易序列，每步持久化进度，
// 用户签名提交后从持久化的步骤恢复。
package txnflow

import (
	"time"

	"SonicOnboard/internal/errors"
	"SonicOnboard/internal/web3"

	"github.com/google/uuid"
)

// ChainIDSonic 是 Sonic 主网链 ID。
const ChainIDSonic int64 = 146

// Flow 是用户意图的类别。
type Flow string

const (
	FlowSwap     Flow = "SWAP"
	FlowLend     Flow = "LEND"
	FlowWithdraw Flow = "WITHDRAW"
	FlowStake    Flow = "STAKE"
)

// State 是请求的生命周期状态。PROCESSING 为初始态，终态不可再变。
type State string

const (
	StateProcessing State = "PROCESSING"
	StateCompleted  State = "COMPLETED"
	StateFailed     State = "FAILED"
)

// 各流程的步骤序号。步骤只会单调递增。
const (
	SwapStepApproval  = 1
	SwapStepBuildSwap = 2

	LendStepApproval = 1
	LendStepDeposit  = 2

	WithdrawStepWithdraw = 1

	StakeStepDelegate = 1
)

// FinalStep 返回流程的最后一步序号。提交签名时用它判断是否可以直接
// 完结而无需再次推导。
func FinalStep(flow Flow) int {
	switch flow {
	case FlowSwap:
		return SwapStepBuildSwap
	case FlowLend:
		return LendStepDeposit
	case FlowWithdraw:
		return WithdrawStepWithdraw
	case FlowStake:
		return StakeStepDelegate
	default:
		return 0
	}
}

// 领域错误码。
const (
	CodeNoPendingTransaction       errors.Code = "NO_PENDING_TRANSACTION"
	CodeMultiplePendingTransaction errors.Code = "MULTIPLE_PENDING_TRANSACTIONS"
	CodeUnsupportedFlow            errors.Code = "UNSUPPORTED_FLOW"
	CodeTokenNotSupported          errors.Code = "TOKEN_NOT_SUPPORTED"
	CodeFlowMismatch               errors.Code = "FLOW_MISMATCH"
)

func init() {
	errors.Register(CodeNoPendingTransaction, errors.Attributes{
		Message:  "no pending transaction for conversation",
		Severity: errors.SeverityInfo,
	})
	errors.Register(CodeMultiplePendingTransaction, errors.Attributes{
		Message:  "multiple pending transactions for conversation",
		Severity: errors.SeverityCritical,
		Alert:    true,
	})
	errors.Register(CodeUnsupportedFlow, errors.Attributes{
		Message:  "unsupported transaction flow",
		Severity: errors.SeverityInfo,
	})
	errors.Register(CodeTokenNotSupported, errors.Attributes{
		Message:  "token not supported",
		Severity: errors.SeverityInfo,
	})
	errors.Register(CodeFlowMismatch, errors.Attributes{
		Message:  "active request flow does not match requested flow",
		Severity: errors.SeverityCritical,
		Alert:    true,
	})
}

// TransactionDetails 是等待用户签名的交易及其人类可读描述。
// 仅在编排器刚产出待签交易时非空。
type TransactionDetails struct {
	Transaction *web3.UnsignedTransaction `json:"transaction"`
	Description string                    `json:"description"`
}

// Request 是编排状态的载体，只追加、永不删除。
type Request struct {
	ID             string              `json:"id"`
	ConversationID string              `json:"conversation_id"`
	ChainID        int64               `json:"chain_id"`
	UserAddress    string              `json:"user_address"`
	Flow           Flow                `json:"flow"`
	Step           int                 `json:"step"`
	State          State               `json:"state"`
	Data           map[string]any      `json:"data"`
	Transaction    *TransactionDetails `json:"transaction_details,omitempty"`
	FailedReason   string              `json:"failed_reason,omitempty"`
	ToolCallID     string              `json:"tool_call_id,omitempty"`
	SignedTxHash   string              `json:"signed_tx_hash,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// NewRequest 创建初始状态的请求。
func NewRequest(conversationID, userAddress string, flow Flow, data map[string]any, toolCallID string) *Request {
	now := time.Now().UTC()
	if data == nil {
		data = map[string]any{}
	}
	return &Request{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		ChainID:        ChainIDSonic,
		UserAddress:    userAddress,
		Flow:           flow,
		State:          StateProcessing,
		Data:           data,
		ToolCallID:     toolCallID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Clone 返回深拷贝，存储层用它实现读时复制。
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Data = make(map[string]any, len(r.Data))
	for k, v := range r.Data {
		clone.Data[k] = v
	}
	if r.Transaction != nil {
		details := *r.Transaction
		if r.Transaction.Transaction != nil {
			tx := *r.Transaction.Transaction
			details.Transaction = &tx
		}
		clone.Transaction = &details
	}
	return &clone
}

// MarkFailed 把请求置为终态 FAILED 并记录原因。
func (r *Request) MarkFailed(reason string) {
	r.State = StateFailed
	r.FailedReason = reason
	r.Transaction = nil
	r.UpdatedAt = time.Now().UTC()
}

// Outcome 是一次流程推进的结果。
type Outcome int

const (
	// OutcomeComplete 表示所有步骤的前置条件均已满足，流程完成。
	OutcomeComplete Outcome = iota
	// OutcomeNeedsSigning 表示产出了待签交易，等待用户签名。
	OutcomeNeedsSigning
	// OutcomeBlocked 表示流程无法继续（例如没有市场收录该代币），
	// 请求保持 PROCESSING，与完成态严格区分。
	OutcomeBlocked
	// OutcomeFailed 表示请求已进入 FAILED 终态。
	OutcomeFailed
)

// String 便于日志输出。
func (o Outcome) String() string {
	switch o {
	case OutcomeComplete:
		return "complete"
	case OutcomeNeedsSigning:
		return "needs_signing"
	case OutcomeBlocked:
		return "blocked"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}
