package txnflow

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"SonicOnboard/internal/errors"
	"SonicOnboard/internal/market/odos"
	"SonicOnboard/internal/market/silo"
	"SonicOnboard/internal/tokens"
	"SonicOnboard/internal/web3"
	"SonicOnboard/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
)

// ChainClient 是流程需要的链访问能力子集。
type ChainClient interface {
	CallContract(ctx context.Context, contract common.Address, abiJSON, method string, args ...any) ([]any, error)
	BuildTransaction(ctx context.Context, contract common.Address, abiJSON, method string, from common.Address, value *big.Int, args ...any) (*web3.UnsignedTransaction, error)
}

// TokenDirectory 是代币白名单能力子集。
type TokenDirectory interface {
	AddressesFromSymbols(ctx context.Context, symbols []string) (map[string]string, error)
	Decimals(ctx context.Context, address string) (int, error)
}

// SwapAggregator 负责报价并组装可签名的兑换交易。
type SwapAggregator interface {
	BuildSwapTransaction(ctx context.Context, chainID int64, inputToken string, inputAmount *big.Int, outputToken, userAddress string) (*web3.UnsignedTransaction, error)
}

// MarketSource 提供借贷市场列表。
type MarketSource interface {
	DisplayMarkets(ctx context.Context) ([]silo.Market, error)
}

// Flows 聚合各流程的步骤处理器及其外部协作方。
// 链上状态相关的参数（最优金库、当前授权额度、精度）每次调用都重新
// 推导，步骤之间可能相隔任意长的真实时间。
type Flows struct {
	store      Store
	chain      ChainClient
	directory  TokenDirectory
	aggregator SwapAggregator
	markets    MarketSource

	// swapSpender 是兑换授权的被授权地址。
	swapSpender string
	// sfcContract 与 stakeValidatorID 是质押委托的目标。
	sfcContract      string
	stakeValidatorID int64
}

// FlowOption 调整流程处理器的链上常量，测试用。
type FlowOption func(*Flows)

// WithSwapSpender 覆盖兑换授权的被授权地址。
func WithSwapSpender(address string) FlowOption {
	return func(f *Flows) {
		if address != "" {
			f.swapSpender = address
		}
	}
}

// WithStakeTarget 覆盖质押合约地址与验证人 ID。
func WithStakeTarget(contract string, validatorID int64) FlowOption {
	return func(f *Flows) {
		if contract != "" {
			f.sfcContract = contract
		}
		if validatorID > 0 {
			f.stakeValidatorID = validatorID
		}
	}
}

// NewFlows 创建流程处理器集合。
func NewFlows(store Store, chain ChainClient, directory TokenDirectory, aggregator SwapAggregator, markets MarketSource, opts ...FlowOption) *Flows {
	f := &Flows{
		store:            store,
		chain:            chain,
		directory:        directory,
		aggregator:       aggregator,
		markets:          markets,
		swapSpender:      odos.RouterSpenderAddress,
		sfcContract:      SFCContractAddress,
		stakeValidatorID: TopSelfStakeValidatorID,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// Process 按流程分发一次步骤推进。
func (f *Flows) Process(ctx context.Context, request *Request) (Outcome, error) {
	switch request.Flow {
	case FlowSwap:
		return f.processSwap(ctx, request)
	case FlowLend:
		return f.processLend(ctx, request)
	case FlowWithdraw:
		return f.processWithdraw(ctx, request)
	case FlowStake:
		return f.processStake(ctx, request)
	default:
		return OutcomeFailed, ErrUnsupportedFlow(request.Flow)
	}
}

// ErrUnsupportedFlow 构造未知流程错误。
func ErrUnsupportedFlow(flow Flow) error {
	return errors.New(CodeUnsupportedFlow, fmt.Sprintf("unsupported flow %q", flow))
}

// decimalsOrDefault 查询精度，失败时按 18 处理并记录警告。
func (f *Flows) decimalsOrDefault(ctx context.Context, tokenAddress string) int {
	decimals, err := f.directory.Decimals(ctx, tokenAddress)
	if err != nil || decimals <= 0 {
		logger.Named("txnflow").Warn("token decimals lookup failed, assuming 18",
			"token", tokenAddress, "error", err)
		return 18
	}
	return decimals
}

// amountToWei 把人类可读金额换算为最小单位整数。
func amountToWei(amount float64, decimals int) *big.Int {
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	scaled := new(big.Float).Mul(big.NewFloat(amount), scale)
	wei, _ := scaled.Int(nil)
	return wei
}

// effectiveTokenAddress 把原生占位地址替换为 wS，借贷金库只认包装资产。
func effectiveTokenAddress(tokenAddress string) string {
	if strings.EqualFold(tokenAddress, tokens.NativeTokenPlaceholder) {
		return tokens.WrappedNativeAddress
	}
	return tokenAddress
}

func dataString(data map[string]any, key string) string {
	if value, ok := data[key].(string); ok {
		return value
	}
	return ""
}

func dataFloat(data map[string]any, key string) (float64, bool) {
	switch value := data[key].(type) {
	case float64:
		return value, true
	case int:
		return float64(value), true
	case int64:
		return float64(value), true
	default:
		return 0, false
	}
}
