package txnflow

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"SonicOnboard/internal/errors"
	"SonicOnboard/internal/market/silo"
	"SonicOnboard/internal/web3"

	"github.com/ethereum/go-ethereum/common"
)

// processLend 推进借贷流程：1 APPROVAL → 2 DEPOSIT。
// 最优金库每次调用重新推导，没有市场收录该代币时返回 OutcomeBlocked。
func (f *Flows) processLend(ctx context.Context, request *Request) (Outcome, error) {
	tokenSymbol := dataString(request.Data, "token_symbol")
	tokenAddress := dataString(request.Data, "token_address")
	amount, _ := dataFloat(request.Data, "amount")

	// 原生代币存入金库时使用包装资产地址，授权检查仍用占位地址，
	// 因此原生借贷不会产生授权步骤。
	vaultToken := effectiveTokenAddress(tokenAddress)

	decimals := f.decimalsOrDefault(ctx, vaultToken)

	vault, found, err := f.bestLendingVault(ctx, vaultToken)
	if err != nil {
		return OutcomeFailed, err
	}
	if !found {
		return OutcomeBlocked, nil
	}

	if request.Step < LendStepApproval {
		request.Step = LendStepApproval

		details, err := f.EnsureAllowance(ctx, tokenAddress, request.UserAddress, vault.Hex(),
			amount, decimals, tokenSymbol, "lending")
		if err != nil {
			return OutcomeFailed, err
		}
		if details != nil {
			request.Transaction = details
			if err := f.store.SaveRequest(ctx, request); err != nil {
				return OutcomeFailed, err
			}
			return OutcomeNeedsSigning, nil
		}
		if err := f.store.SaveRequest(ctx, request); err != nil {
			return OutcomeFailed, err
		}
	}

	if request.Step < LendStepDeposit {
		request.Step = LendStepDeposit

		tx, err := f.chain.BuildTransaction(ctx, vault, web3.SiloVaultABI, "deposit",
			common.HexToAddress(request.UserAddress), nil,
			amountToWei(amount, decimals), common.HexToAddress(vaultToken))
		if err != nil {
			return OutcomeFailed, errors.Wrap(errors.CodeChainFailure, err, "构造存入交易失败")
		}

		request.Transaction = &TransactionDetails{
			Transaction: tx,
			Description: fmt.Sprintf("Lend %v %s to Silo Protocol", amount, tokenSymbol),
		}
		if err := f.store.SaveRequest(ctx, request); err != nil {
			return OutcomeFailed, err
		}
		return OutcomeNeedsSigning, nil
	}

	return OutcomeComplete, nil
}

// bestLendingVault 在所有市场中为代币挑选总收益率最高的金库。
// 先按收益率选出市场配置合约，再从配置合约取回两个金库并发查询各自
// 的底层资产，返回资产匹配的那个。
func (f *Flows) bestLendingVault(ctx context.Context, tokenAddress string) (common.Address, bool, error) {
	markets, err := f.markets.DisplayMarkets(ctx)
	if err != nil {
		return common.Address{}, false, err
	}

	configAddress, ok := silo.BestMarket(markets, tokenAddress)
	if !ok {
		return common.Address{}, false, nil
	}

	vaults, err := f.silosOf(ctx, common.HexToAddress(configAddress))
	if err != nil {
		return common.Address{}, false, err
	}

	assets, err := f.vaultAssets(ctx, vaults)
	if err != nil {
		return common.Address{}, false, err
	}

	want := common.HexToAddress(tokenAddress)
	for i, asset := range assets {
		if asset == want {
			return vaults[i], true, nil
		}
	}
	return common.Address{}, false, nil
}

// silosOf 调用市场配置合约取回两个金库地址。
func (f *Flows) silosOf(ctx context.Context, configAddress common.Address) ([]common.Address, error) {
	values, err := f.chain.CallContract(ctx, configAddress, web3.SiloConfigABI, "getSilos")
	if err != nil {
		return nil, errors.Wrap(errors.CodeChainFailure, err, "查询金库列表失败")
	}
	vaults := make([]common.Address, 0, len(values))
	for _, value := range values {
		addr, ok := value.(common.Address)
		if !ok {
			return nil, errors.New(errors.CodeChainFailure, "getSilos 返回值类型错误")
		}
		vaults = append(vaults, addr)
	}
	return vaults, nil
}

// vaultAssets 并发查询每个金库的底层资产，结果顺序与输入一致。
func (f *Flows) vaultAssets(ctx context.Context, vaults []common.Address) ([]common.Address, error) {
	assets := make([]common.Address, len(vaults))
	errs := make([]error, len(vaults))

	var wg sync.WaitGroup
	for i, vault := range vaults {
		wg.Add(1)
		go func(i int, vault common.Address) {
			defer wg.Done()
			values, err := f.chain.CallContract(ctx, vault, web3.SiloVaultABI, "asset")
			if err != nil {
				errs[i] = err
				return
			}
			if len(values) == 0 {
				errs[i] = errors.New(errors.CodeChainFailure, "asset 返回值为空")
				return
			}
			addr, ok := values[0].(common.Address)
			if !ok {
				errs[i] = errors.New(errors.CodeChainFailure, "asset 返回值类型错误")
				return
			}
			assets[i] = addr
		}(i, vault)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, errors.Wrap(errors.CodeChainFailure, err, "查询金库资产失败")
		}
	}
	return assets, nil
}

// vaultBalances 并发查询用户在每个金库的份额余额，结果顺序与输入一致。
func (f *Flows) vaultBalances(ctx context.Context, owner common.Address, vaults []common.Address) ([]*big.Int, error) {
	balances := make([]*big.Int, len(vaults))
	errs := make([]error, len(vaults))

	var wg sync.WaitGroup
	for i, vault := range vaults {
		wg.Add(1)
		go func(i int, vault common.Address) {
			defer wg.Done()
			values, err := f.chain.CallContract(ctx, vault, web3.SiloVaultABI, "balanceOf", owner)
			if err != nil {
				errs[i] = err
				return
			}
			if len(values) == 0 {
				errs[i] = errors.New(errors.CodeChainFailure, "balanceOf 返回值为空")
				return
			}
			balance, ok := values[0].(*big.Int)
			if !ok {
				errs[i] = errors.New(errors.CodeChainFailure, "balanceOf 返回值类型错误")
				return
			}
			balances[i] = balance
		}(i, vault)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, errors.Wrap(errors.CodeChainFailure, err, "查询金库份额失败")
		}
	}
	return balances, nil
}
