package txnflow_test

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"

	"SonicOnboard/internal/chat"
	"SonicOnboard/internal/errors"
	"SonicOnboard/internal/llm"
	"SonicOnboard/internal/market/silo"
	"SonicOnboard/internal/storage/memory"
	"SonicOnboard/internal/tokens"
	"SonicOnboard/internal/txnflow"
	"SonicOnboard/internal/web3"

	"github.com/ethereum/go-ethereum/common"
)

const (
	userAddress = "0x1111111111111111111111111111111111111111"
	usdcAddress = "0x29219dd400f2Bf60E5a23d13Be72B486D4038894"
	wethAddress = "0x50c42dEAcD8Fc9773493ED674b675bE577f2634b"
)

type buildRecord struct {
	Contract common.Address
	Method   string
	Value    *big.Int
	Args     []any
}

// fakeChain 按 合约地址/方法 预置只读调用结果，并记录所有交易构造。
type fakeChain struct {
	mu      sync.Mutex
	results map[string][]any
	builds  []buildRecord
}

func newFakeChain() *fakeChain {
	return &fakeChain{results: make(map[string][]any)}
}

func callKey(contract common.Address, method string) string {
	return strings.ToLower(contract.Hex()) + "/" + method
}

func (c *fakeChain) stub(contract, method string, values ...any) {
	c.results[callKey(common.HexToAddress(contract), method)] = values
}

func (c *fakeChain) CallContract(_ context.Context, contract common.Address, _ string, method string, _ ...any) ([]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	values, ok := c.results[callKey(contract, method)]
	if !ok {
		return nil, fmt.Errorf("unexpected call %s", callKey(contract, method))
	}
	return values, nil
}

func (c *fakeChain) BuildTransaction(_ context.Context, contract common.Address, _ string, method string, _ common.Address, value *big.Int, args ...any) (*web3.UnsignedTransaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.builds = append(c.builds, buildRecord{Contract: contract, Method: method, Value: value, Args: args})
	return &web3.UnsignedTransaction{ChainID: "0x92", To: contract.Hex(), Data: "0x" + method}, nil
}

func (c *fakeChain) lastBuild(t *testing.T) buildRecord {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.builds) == 0 {
		t.Fatal("没有构造任何交易")
	}
	return c.builds[len(c.builds)-1]
}

type fakeDirectory struct {
	addresses map[string]string
	decimals  map[string]int
}

func (d *fakeDirectory) AddressesFromSymbols(_ context.Context, symbols []string) (map[string]string, error) {
	out := make(map[string]string, len(symbols))
	for _, symbol := range symbols {
		if address, ok := d.addresses[symbol]; ok {
			out[symbol] = address
		}
	}
	return out, nil
}

func (d *fakeDirectory) Decimals(_ context.Context, address string) (int, error) {
	if decimals, ok := d.decimals[strings.ToLower(address)]; ok {
		return decimals, nil
	}
	return 18, nil
}

type fakeAggregator struct {
	lastChainID int64
	lastInput   string
	lastAmount  *big.Int
	lastOutput  string
}

func (a *fakeAggregator) BuildSwapTransaction(_ context.Context, chainID int64, inputToken string, inputAmount *big.Int, outputToken, _ string) (*web3.UnsignedTransaction, error) {
	a.lastChainID = chainID
	a.lastInput = inputToken
	a.lastAmount = inputAmount
	a.lastOutput = outputToken
	return &web3.UnsignedTransaction{ChainID: "0x92", To: "0xrouter", Data: "0xswapdata"}, nil
}

type fakeMarkets struct {
	markets []silo.Market
}

func (m *fakeMarkets) DisplayMarkets(context.Context) ([]silo.Market, error) {
	return m.markets, nil
}

func marketFor(config, token string) silo.Market {
	return silo.Market{
		ConfigAddress: config,
		Silo0:         &silo.Vault{TokenAddress: token, CollateralBaseAPR: "50000000000000000"},
	}
}

type fixture struct {
	store        *memory.Store
	chain        *fakeChain
	directory    *fakeDirectory
	aggregator   *fakeAggregator
	markets      *fakeMarkets
	orchestrator *txnflow.Orchestrator
	conversation *chat.Conversation
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: memory.New(),
		chain: newFakeChain(),
		directory: &fakeDirectory{
			addresses: map[string]string{
				"USDC": usdcAddress,
				"WETH": wethAddress,
				"S":    tokens.NativeTokenPlaceholder,
			},
			decimals: map[string]int{strings.ToLower(usdcAddress): 6},
		},
		aggregator: &fakeAggregator{},
		markets:    &fakeMarkets{},
	}
	flows := txnflow.NewFlows(f.store, f.chain, f.directory, f.aggregator, f.markets)
	f.orchestrator = txnflow.NewOrchestrator(flows, f.store, f.store, f.directory)

	f.conversation = chat.NewConversation("user-1", []llm.Message{{Role: llm.RoleSystem, Content: "prompt"}})
	if err := f.store.CreateConversation(context.Background(), f.conversation); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	return f
}

func TestFinalStepPerFlow(t *testing.T) {
	cases := []struct {
		flow txnflow.Flow
		want int
	}{
		{txnflow.FlowSwap, txnflow.SwapStepBuildSwap},
		{txnflow.FlowLend, txnflow.LendStepDeposit},
		{txnflow.FlowWithdraw, txnflow.WithdrawStepWithdraw},
		{txnflow.FlowStake, txnflow.StakeStepDelegate},
	}
	for _, tc := range cases {
		if got := txnflow.FinalStep(tc.flow); got != tc.want {
			t.Errorf("FinalStep(%s) = %d, 期望 %d", tc.flow, got, tc.want)
		}
	}
	if txnflow.FinalStep(txnflow.Flow("BOGUS")) != 0 {
		t.Error("未知流程的最后一步应为 0")
	}
}

func TestEnsureAllowance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	flows := txnflow.NewFlows(f.store, f.chain, f.directory, f.aggregator, f.markets)
	spender := "0x2222222222222222222222222222222222222222"

	// 原生占位地址无需授权。
	details, err := flows.EnsureAllowance(ctx, tokens.NativeTokenPlaceholder, userAddress, spender, 5, 18, "S", "swap")
	if err != nil || details != nil {
		t.Fatalf("原生代币应返回 (nil, nil), got (%v, %v)", details, err)
	}

	// 额度足够时无需授权。
	f.chain.stub(usdcAddress, "allowance", new(big.Int).SetUint64(200_000_000))
	details, err = flows.EnsureAllowance(ctx, usdcAddress, userAddress, spender, 100, 6, "USDC", "swap")
	if err != nil || details != nil {
		t.Fatalf("额度足够应返回 (nil, nil), got (%v, %v)", details, err)
	}

	// 额度不足时产出最大额度授权交易。
	f.chain.stub(usdcAddress, "allowance", big.NewInt(1))
	details, err = flows.EnsureAllowance(ctx, usdcAddress, userAddress, spender, 100, 6, "USDC", "swap")
	if err != nil {
		t.Fatalf("EnsureAllowance: %v", err)
	}
	if details == nil || details.Transaction == nil {
		t.Fatal("额度不足应产出授权交易")
	}
	build := f.chain.lastBuild(t)
	if build.Method != "approve" {
		t.Fatalf("构造方法 = %s, 期望 approve", build.Method)
	}
	amount, ok := build.Args[1].(*big.Int)
	if !ok || amount.BitLen() != 256 {
		t.Fatalf("授权金额应为 2^256-1, got %v", build.Args[1])
	}
	if !strings.Contains(details.Description, "for swap") {
		t.Fatalf("描述 = %q", details.Description)
	}
}

func TestSwapScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.chain.stub(usdcAddress, "allowance", big.NewInt(0))

	// 第一步：额度不足，产出授权交易。
	result, err := f.orchestrator.SwapTokens(ctx, f.conversation.ID, userAddress, "call_1", "USDC", 100, "WETH")
	if err != nil {
		t.Fatalf("SwapTokens: %v", err)
	}
	if result.Outcome != txnflow.OutcomeNeedsSigning {
		t.Fatalf("outcome = %s, 期望 needs_signing", result.Outcome)
	}
	if result.Request.Step != txnflow.SwapStepApproval {
		t.Fatalf("step = %d, 期望 %d", result.Request.Step, txnflow.SwapStepApproval)
	}
	if result.Request.Transaction == nil || !strings.HasPrefix(result.Request.Transaction.Description, "Approve") {
		t.Fatalf("transaction = %+v", result.Request.Transaction)
	}

	// 授权签名后推进到兑换交易。
	result, err = f.orchestrator.Submit(ctx, f.conversation.ID, "0xhash1")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if result.Outcome != txnflow.OutcomeNeedsSigning || result.Request.Step != txnflow.SwapStepBuildSwap {
		t.Fatalf("outcome = %s step = %d", result.Outcome, result.Request.Step)
	}
	if result.Request.Transaction.Description != "Swap 100 USDC to WETH" {
		t.Fatalf("描述 = %q", result.Request.Transaction.Description)
	}
	if f.aggregator.lastAmount.Cmp(big.NewInt(100_000_000)) != 0 {
		t.Fatalf("聚合器收到金额 = %v, 期望 1e8", f.aggregator.lastAmount)
	}
	if f.aggregator.lastChainID != txnflow.ChainIDSonic {
		t.Fatalf("chainID = %d", f.aggregator.lastChainID)
	}

	// 兑换签名后流程完结，工具响应与请求状态一起落盘。
	result, err = f.orchestrator.Submit(ctx, f.conversation.ID, "0xhash2")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if result.Outcome != txnflow.OutcomeComplete {
		t.Fatalf("outcome = %s, 期望 complete", result.Outcome)
	}
	if result.Request.State != txnflow.StateCompleted || result.Request.SignedTxHash != "0xhash2" {
		t.Fatalf("request = %+v", result.Request)
	}
	if result.Request.Transaction != nil {
		t.Fatal("完结后不应残留待签交易")
	}

	conversation, err := f.store.GetConversation(ctx, f.conversation.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	last := conversation.Messages[len(conversation.Messages)-1]
	if last.Role != llm.RoleTool || last.ToolCallID != "call_1" || !strings.Contains(last.Content, "0xhash2") {
		t.Fatalf("工具响应 = %+v", last)
	}

	if _, err := f.store.ActiveRequest(ctx, f.conversation.ID); !errors.Is(err, txnflow.ErrNoPendingTransaction) {
		t.Fatalf("完结后不应再有活跃请求, got %v", err)
	}
}

func TestSwapSufficientAllowanceSkipsApproval(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.chain.stub(usdcAddress, "allowance", new(big.Int).SetUint64(1_000_000_000))

	result, err := f.orchestrator.SwapTokens(ctx, f.conversation.ID, userAddress, "call_1", "USDC", 100, "WETH")
	if err != nil {
		t.Fatalf("SwapTokens: %v", err)
	}
	if result.Outcome != txnflow.OutcomeNeedsSigning || result.Request.Step != txnflow.SwapStepBuildSwap {
		t.Fatalf("额度足够应直达兑换步骤, outcome = %s step = %d", result.Outcome, result.Request.Step)
	}
}

func TestSwapUnknownTokenFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	result, err := f.orchestrator.SwapTokens(ctx, f.conversation.ID, userAddress, "call_1", "USDC", 100, "PEPE")
	if err != nil {
		t.Fatalf("SwapTokens: %v", err)
	}
	if result.Outcome != txnflow.OutcomeFailed {
		t.Fatalf("outcome = %s, 期望 failed", result.Outcome)
	}
	if result.Reply != "Error: Token PEPE not supported" {
		t.Fatalf("reply = %q", result.Reply)
	}
	stored, err := f.store.GetRequest(ctx, result.Request.ID)
	if err != nil {
		t.Fatalf("GetRequest: %v", err)
	}
	if stored.State != txnflow.StateFailed {
		t.Fatalf("state = %s, 期望 FAILED", stored.State)
	}
	// 失败请求不占用活跃槽位，后续意图可以正常发起。
	if _, err := f.store.ActiveRequest(ctx, f.conversation.ID); !errors.Is(err, txnflow.ErrNoPendingTransaction) {
		t.Fatalf("FAILED 请求不应计入活跃请求, got %v", err)
	}
}

func TestLendNativeSkipsApproval(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	config := "0x3333333333333333333333333333333333333333"
	vaultA := common.HexToAddress("0x4444444444444444444444444444444444444444")
	vaultB := common.HexToAddress("0x5555555555555555555555555555555555555555")
	wrapped := common.HexToAddress(tokens.WrappedNativeAddress)

	f.markets.markets = []silo.Market{marketFor(config, tokens.WrappedNativeAddress)}
	f.chain.stub(config, "getSilos", vaultA, vaultB)
	f.chain.stub(vaultA.Hex(), "asset", wrapped)
	f.chain.stub(vaultB.Hex(), "asset", common.HexToAddress(usdcAddress))

	result, err := f.orchestrator.LendTokens(ctx, f.conversation.ID, userAddress, "call_1", "S", 2)
	if err != nil {
		t.Fatalf("LendTokens: %v", err)
	}
	if result.Outcome != txnflow.OutcomeNeedsSigning || result.Request.Step != txnflow.LendStepDeposit {
		t.Fatalf("原生借贷应直达存入步骤, outcome = %s step = %d", result.Outcome, result.Request.Step)
	}

	build := f.chain.lastBuild(t)
	if build.Method != "deposit" || build.Contract != vaultA {
		t.Fatalf("build = %+v", build)
	}
	if token, ok := build.Args[1].(common.Address); !ok || token != wrapped {
		t.Fatalf("存入的代币参数 = %v, 期望包装资产地址", build.Args[1])
	}
	if result.Request.Transaction.Description != "Lend 2 S to Silo Protocol" {
		t.Fatalf("描述 = %q", result.Request.Transaction.Description)
	}
}

func TestLendNoMarketBlocks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.markets.markets = nil

	result, err := f.orchestrator.LendTokens(ctx, f.conversation.ID, userAddress, "call_1", "USDC", 50)
	if err != nil {
		t.Fatalf("LendTokens: %v", err)
	}
	if result.Outcome != txnflow.OutcomeBlocked {
		t.Fatalf("outcome = %s, 期望 blocked", result.Outcome)
	}
	if result.Reply != "Error: No lending market found for USDC" {
		t.Fatalf("reply = %q", result.Reply)
	}
	// 受阻不是完成，请求保持 PROCESSING。
	active, err := f.store.ActiveRequest(ctx, f.conversation.ID)
	if err != nil {
		t.Fatalf("ActiveRequest: %v", err)
	}
	if active.State != txnflow.StateProcessing {
		t.Fatalf("state = %s, 期望 PROCESSING", active.State)
	}
}

func TestWithdrawAllRedeemsMaxShares(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	config1 := "0x3333333333333333333333333333333333333333"
	config2 := "0x6666666666666666666666666666666666666666"
	vaultA := common.HexToAddress("0x4444444444444444444444444444444444444444")
	vaultB := common.HexToAddress("0x5555555555555555555555555555555555555555")
	vaultC := common.HexToAddress("0x7777777777777777777777777777777777777777")
	vaultD := common.HexToAddress("0x8888888888888888888888888888888888888888")
	usdc := common.HexToAddress(usdcAddress)

	f.markets.markets = []silo.Market{marketFor(config1, usdcAddress), marketFor(config2, usdcAddress)}
	f.chain.stub(config1, "getSilos", vaultA, vaultB)
	f.chain.stub(config2, "getSilos", vaultC, vaultD)
	f.chain.stub(vaultA.Hex(), "asset", usdc)
	f.chain.stub(vaultB.Hex(), "asset", common.HexToAddress(wethAddress))
	f.chain.stub(vaultC.Hex(), "asset", usdc)
	f.chain.stub(vaultD.Hex(), "asset", common.HexToAddress(wethAddress))
	// 第一个候选金库份额为零，应选中第二个。
	f.chain.stub(vaultA.Hex(), "balanceOf", big.NewInt(0))
	f.chain.stub(vaultC.Hex(), "balanceOf", big.NewInt(42))
	f.chain.stub(vaultC.Hex(), "maxRedeem", big.NewInt(123))

	result, err := f.orchestrator.WithdrawTokens(ctx, f.conversation.ID, userAddress, "call_1", "USDC", nil)
	if err != nil {
		t.Fatalf("WithdrawTokens: %v", err)
	}
	if result.Outcome != txnflow.OutcomeNeedsSigning {
		t.Fatalf("outcome = %s", result.Outcome)
	}

	build := f.chain.lastBuild(t)
	if build.Method != "redeem" || build.Contract != vaultC {
		t.Fatalf("build = %+v", build)
	}
	if shares, ok := build.Args[0].(*big.Int); !ok || shares.Cmp(big.NewInt(123)) != 0 {
		t.Fatalf("赎回份额 = %v, 期望 maxRedeem 的 123", build.Args[0])
	}
	if result.Request.Transaction.Description != "Withdraw all USDC from Silo Protocol" {
		t.Fatalf("描述 = %q", result.Request.Transaction.Description)
	}
}

func TestWithdrawPartialAmount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	config := "0x3333333333333333333333333333333333333333"
	vaultA := common.HexToAddress("0x4444444444444444444444444444444444444444")
	vaultB := common.HexToAddress("0x5555555555555555555555555555555555555555")
	usdc := common.HexToAddress(usdcAddress)

	f.markets.markets = []silo.Market{marketFor(config, usdcAddress)}
	f.chain.stub(config, "getSilos", vaultA, vaultB)
	f.chain.stub(vaultA.Hex(), "asset", usdc)
	f.chain.stub(vaultB.Hex(), "asset", common.HexToAddress(wethAddress))
	f.chain.stub(vaultA.Hex(), "balanceOf", big.NewInt(9_000_000))

	amount := 5.0
	result, err := f.orchestrator.WithdrawTokens(ctx, f.conversation.ID, userAddress, "call_1", "USDC", &amount)
	if err != nil {
		t.Fatalf("WithdrawTokens: %v", err)
	}
	if result.Outcome != txnflow.OutcomeNeedsSigning {
		t.Fatalf("outcome = %s", result.Outcome)
	}

	build := f.chain.lastBuild(t)
	if build.Method != "withdraw" {
		t.Fatalf("build = %+v", build)
	}
	if wei, ok := build.Args[0].(*big.Int); !ok || wei.Cmp(big.NewInt(5_000_000)) != 0 {
		t.Fatalf("提取金额 = %v, 期望 5e6", build.Args[0])
	}
	if result.Request.Transaction.Description != "Withdraw 5 USDC from Silo Protocol" {
		t.Fatalf("描述 = %q", result.Request.Transaction.Description)
	}
}

func TestWithdrawNoPositionBlocks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	config := "0x3333333333333333333333333333333333333333"
	vaultA := common.HexToAddress("0x4444444444444444444444444444444444444444")
	vaultB := common.HexToAddress("0x5555555555555555555555555555555555555555")

	f.markets.markets = []silo.Market{marketFor(config, usdcAddress)}
	f.chain.stub(config, "getSilos", vaultA, vaultB)
	f.chain.stub(vaultA.Hex(), "asset", common.HexToAddress(usdcAddress))
	f.chain.stub(vaultB.Hex(), "asset", common.HexToAddress(wethAddress))
	f.chain.stub(vaultA.Hex(), "balanceOf", big.NewInt(0))

	result, err := f.orchestrator.WithdrawTokens(ctx, f.conversation.ID, userAddress, "call_1", "USDC", nil)
	if err != nil {
		t.Fatalf("WithdrawTokens: %v", err)
	}
	if result.Outcome != txnflow.OutcomeBlocked {
		t.Fatalf("outcome = %s, 期望 blocked", result.Outcome)
	}
	if result.Reply != "Error: No active lending position found for USDC" {
		t.Fatalf("reply = %q", result.Reply)
	}
}

func TestStakeScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	result, err := f.orchestrator.StakeSonic(ctx, f.conversation.ID, userAddress, "call_1", 2)
	if err != nil {
		t.Fatalf("StakeSonic: %v", err)
	}
	if result.Outcome != txnflow.OutcomeNeedsSigning || result.Request.Step != txnflow.StakeStepDelegate {
		t.Fatalf("outcome = %s step = %d", result.Outcome, result.Request.Step)
	}

	build := f.chain.lastBuild(t)
	if build.Method != "delegate" || build.Contract != common.HexToAddress(txnflow.SFCContractAddress) {
		t.Fatalf("build = %+v", build)
	}
	want := new(big.Int).Mul(big.NewInt(2), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	if build.Value == nil || build.Value.Cmp(want) != 0 {
		t.Fatalf("质押金额应通过 value 携带, got %v", build.Value)
	}
	if id, ok := build.Args[0].(*big.Int); !ok || id.Int64() != txnflow.TopSelfStakeValidatorID {
		t.Fatalf("验证人 ID = %v", build.Args[0])
	}
	if result.Request.Transaction.Description != "Staking 2 S" {
		t.Fatalf("描述 = %q", result.Request.Transaction.Description)
	}

	result, err = f.orchestrator.Submit(ctx, f.conversation.ID, "0xstakehash")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if result.Outcome != txnflow.OutcomeComplete || result.Request.State != txnflow.StateCompleted {
		t.Fatalf("result = %+v", result)
	}
}

func TestFlowMismatchRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.chain.stub(usdcAddress, "allowance", big.NewInt(0))

	if _, err := f.orchestrator.SwapTokens(ctx, f.conversation.ID, userAddress, "call_1", "USDC", 100, "WETH"); err != nil {
		t.Fatalf("SwapTokens: %v", err)
	}

	_, err := f.orchestrator.LendTokens(ctx, f.conversation.ID, userAddress, "call_2", "USDC", 50)
	if err == nil {
		t.Fatal("活跃请求流程不一致应返回错误")
	}
	if errors.CodeOf(err) != txnflow.CodeFlowMismatch {
		t.Fatalf("错误码 = %s, 期望 FLOW_MISMATCH", errors.CodeOf(err))
	}
}

func TestReentryReusesActiveRequest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.chain.stub(usdcAddress, "allowance", big.NewInt(0))

	first, err := f.orchestrator.SwapTokens(ctx, f.conversation.ID, userAddress, "call_1", "USDC", 100, "WETH")
	if err != nil {
		t.Fatalf("SwapTokens: %v", err)
	}

	// 同一意图重入复用活跃请求，步骤只前进不回退。
	second, err := f.orchestrator.SwapTokens(ctx, f.conversation.ID, userAddress, "call_2", "USDC", 100, "WETH")
	if err != nil {
		t.Fatalf("SwapTokens: %v", err)
	}
	if second.Request.ID != first.Request.ID {
		t.Fatalf("应复用请求 %s, got %s", first.Request.ID, second.Request.ID)
	}
	if second.Request.Step <= first.Request.Step {
		t.Fatalf("步骤应单调前进, first = %d second = %d", first.Request.Step, second.Request.Step)
	}
	if second.Request.ToolCallID != "call_2" {
		t.Fatalf("新工具调用应接管响应槽位, got %s", second.Request.ToolCallID)
	}
}

func TestReentryUnknownTokenFailsActiveRequest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.chain.stub(usdcAddress, "allowance", big.NewInt(0))

	first, err := f.orchestrator.SwapTokens(ctx, f.conversation.ID, userAddress, "call_1", "USDC", 100, "WETH")
	if err != nil {
		t.Fatalf("SwapTokens: %v", err)
	}
	if first.Outcome != txnflow.OutcomeNeedsSigning {
		t.Fatalf("outcome = %s, 期望 needs_signing", first.Outcome)
	}

	// 符号解析对重入同样生效：未知代币终结活跃请求，不得把旧的
	// 待签交易重新交给用户。
	second, err := f.orchestrator.SwapTokens(ctx, f.conversation.ID, userAddress, "call_2", "FAKE", 5, "WETH")
	if err != nil {
		t.Fatalf("SwapTokens: %v", err)
	}
	if second.Outcome != txnflow.OutcomeFailed {
		t.Fatalf("outcome = %s, 期望 failed", second.Outcome)
	}
	if second.Reply != "Error: Token FAKE not supported" {
		t.Fatalf("reply = %q", second.Reply)
	}
	if second.Request.ID != first.Request.ID {
		t.Fatalf("应终结同一条活跃请求 %s, got %s", first.Request.ID, second.Request.ID)
	}
	if second.Request.Transaction != nil {
		t.Fatalf("失败请求不应再携带待签交易: %+v", second.Request.Transaction)
	}

	stored, err := f.store.GetRequest(ctx, first.Request.ID)
	if err != nil {
		t.Fatalf("GetRequest: %v", err)
	}
	if stored.State != txnflow.StateFailed {
		t.Fatalf("state = %s, 期望 FAILED", stored.State)
	}
	if _, err := f.store.ActiveRequest(ctx, f.conversation.ID); !errors.Is(err, txnflow.ErrNoPendingTransaction) {
		t.Fatalf("终结后不应再有活跃请求, got %v", err)
	}
}

func TestMultiplePendingSurfaces(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for _, id := range []string{"call_a", "call_b"} {
		request := txnflow.NewRequest(f.conversation.ID, userAddress, txnflow.FlowSwap, nil, id)
		if err := f.store.CreateRequest(ctx, request); err != nil {
			t.Fatalf("CreateRequest: %v", err)
		}
	}

	_, err := f.orchestrator.StakeSonic(ctx, f.conversation.ID, userAddress, "call_c", 1)
	if !errors.Is(err, txnflow.ErrMultiplePendingTransactions) {
		t.Fatalf("期望 ErrMultiplePendingTransactions, got %v", err)
	}
}
