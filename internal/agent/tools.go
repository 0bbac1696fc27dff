package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	"SonicOnboard/internal/errors"
	"SonicOnboard/internal/knowledge"
	"SonicOnboard/internal/llm"
	"SonicOnboard/internal/txnflow"
	"SonicOnboard/internal/web3"

	"github.com/ethereum/go-ethereum/common"
)

// 工具名称。调度是封闭的：大模型请求未注册的工具按错误处理。
const (
	toolWalletFunded   = "is_user_wallet_funded"
	toolSwapTokens     = "swap_tokens"
	toolLendTokens     = "lend_tokens"
	toolWithdrawTokens = "withdraw_tokens"
	toolStakeSonic     = "stake_sonic"
	toolBridgeAssets   = "bridge_assets"
	toolAirdropDetails = "airdrop_details"
)

const bridgeGuidance = "To bridge assets to Sonic chain, use the Sonic Gateway at https://gateway.soniclabs.com. " +
	"It supports transfers from Ethereum with a security guarantee backed by Sonic validators. " +
	"For assets on Solana or other chains, deBridge (https://app.debridge.finance) supports direct routes to Sonic."

// toolDefinitions 返回暴露给大模型的全部工具。
func toolDefinitions() []llm.Tool {
	return []llm.Tool{
		{
			Name:        toolWalletFunded,
			Description: "Check which chains the user's wallet holds native tokens on. Use this to verify the user has funded their wallet.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
		},
		{
			Name:        toolSwapTokens,
			Description: "Swap one token for another on Sonic chain using the Odos aggregator.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"input_token_symbol": {"type": "string", "description": "Symbol of the token to sell, e.g. S or USDC"},
					"input_token_amount": {"type": "number", "description": "Human readable amount of the input token"},
					"output_token_symbol": {"type": "string", "description": "Symbol of the token to buy"}
				},
				"required": ["input_token_symbol", "input_token_amount", "output_token_symbol"]
			}`),
		},
		{
			Name:        toolLendTokens,
			Description: "Lend tokens to the highest-yield Silo Protocol vault on Sonic chain.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"token_symbol": {"type": "string", "description": "Symbol of the token to lend"},
					"amount": {"type": "number", "description": "Human readable amount to lend"}
				},
				"required": ["token_symbol", "amount"]
			}`),
		},
		{
			Name:        toolWithdrawTokens,
			Description: "Withdraw previously lent tokens from Silo Protocol. Omit amount to withdraw the full position.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"token_symbol": {"type": "string", "description": "Symbol of the token to withdraw"},
					"amount": {"type": "number", "description": "Human readable amount to withdraw; omit to withdraw everything"}
				},
				"required": ["token_symbol"]
			}`),
		},
		{
			Name:        toolStakeSonic,
			Description: "Stake native S tokens with a Sonic validator to earn staking rewards.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"amount": {"type": "number", "description": "Amount of S to stake"}
				},
				"required": ["amount"]
			}`),
		},
		{
			Name:        toolBridgeAssets,
			Description: "Explain how to bridge assets from other chains to Sonic chain.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
		},
		{
			Name:        toolAirdropDetails,
			Description: "Return details about the Sonic airdrop: Sonic Points, Sonic Gems, multipliers and seasons.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
		},
	}
}

// toolOutcome 是一次工具执行的结果。flowResult 非空且等待签名时，
// 调用循环会中断并把待签交易交还给用户。
type toolOutcome struct {
	content    string
	flowResult *txnflow.Result
}

// executeTool 解析并执行一次工具调用。普通执行错误转成工具响应文本
// 交还给大模型；不变量被破坏（重复活跃请求、流程不一致）才向上抛出。
func (a *Agent) executeTool(ctx context.Context, conversationID, userAddress string, call llm.ToolCall) (toolOutcome, error) {
	switch call.Name {
	case toolWalletFunded:
		return a.checkWalletFunded(ctx, userAddress), nil
	case toolSwapTokens:
		var args struct {
			InputTokenSymbol  string  `json:"input_token_symbol"`
			InputTokenAmount  float64 `json:"input_token_amount"`
			OutputTokenSymbol string  `json:"output_token_symbol"`
		}
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return toolError(call.Name, err), nil
		}
		result, err := a.orchestrator.SwapTokens(ctx, conversationID, userAddress, call.ID,
			strings.ToUpper(args.InputTokenSymbol), args.InputTokenAmount, strings.ToUpper(args.OutputTokenSymbol))
		return flowOutcome(result, err)
	case toolLendTokens:
		var args struct {
			TokenSymbol string  `json:"token_symbol"`
			Amount      float64 `json:"amount"`
		}
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return toolError(call.Name, err), nil
		}
		result, err := a.orchestrator.LendTokens(ctx, conversationID, userAddress, call.ID,
			strings.ToUpper(args.TokenSymbol), args.Amount)
		return flowOutcome(result, err)
	case toolWithdrawTokens:
		var args struct {
			TokenSymbol string   `json:"token_symbol"`
			Amount      *float64 `json:"amount"`
		}
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return toolError(call.Name, err), nil
		}
		result, err := a.orchestrator.WithdrawTokens(ctx, conversationID, userAddress, call.ID,
			strings.ToUpper(args.TokenSymbol), args.Amount)
		return flowOutcome(result, err)
	case toolStakeSonic:
		var args struct {
			Amount float64 `json:"amount"`
		}
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return toolError(call.Name, err), nil
		}
		result, err := a.orchestrator.StakeSonic(ctx, conversationID, userAddress, call.ID, args.Amount)
		return flowOutcome(result, err)
	case toolBridgeAssets:
		return toolOutcome{content: bridgeGuidance}, nil
	case toolAirdropDetails:
		return toolOutcome{content: knowledge.AirdropDetails()}, nil
	default:
		return toolOutcome{content: fmt.Sprintf("Error: unknown tool %q", call.Name)}, nil
	}
}

// flowOutcome 把编排结果翻译为工具响应。
func flowOutcome(result *txnflow.Result, err error) (toolOutcome, error) {
	if err != nil {
		if errors.Is(err, txnflow.ErrMultiplePendingTransactions) ||
			errors.CodeOf(err) == txnflow.CodeFlowMismatch {
			return toolOutcome{}, err
		}
		return toolOutcome{content: fmt.Sprintf("Error: %v", err)}, nil
	}
	if result.Outcome == txnflow.OutcomeNeedsSigning {
		return toolOutcome{flowResult: result}, nil
	}
	return toolOutcome{content: result.Reply, flowResult: result}, nil
}

func toolError(name string, err error) toolOutcome {
	return toolOutcome{content: fmt.Sprintf("Error: invalid arguments for %s: %v", name, err)}
}

// checkWalletFunded 并发扫描已注册链上的原生余额，回报有余额的链。
func (a *Agent) checkWalletFunded(ctx context.Context, userAddress string) toolOutcome {
	names := a.chains.Chains()
	owner := common.HexToAddress(userAddress)

	balances := make([]*big.Int, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		client, ok := a.chains.Client(name)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(i int, client web3.Client) {
			defer wg.Done()
			balance, err := client.NativeBalance(ctx, owner)
			if err != nil {
				return
			}
			balances[i] = balance
		}(i, client)
	}
	wg.Wait()

	var funded []string
	for i, balance := range balances {
		if balance != nil && balance.Sign() > 0 {
			funded = append(funded, names[i])
		}
	}
	sort.Strings(funded)

	if len(funded) == 0 {
		return toolOutcome{content: "The user's wallet has no native tokens on any supported chain yet."}
	}
	return toolOutcome{content: fmt.Sprintf("The user's wallet is funded on: %s", strings.Join(funded, ", "))}
}
