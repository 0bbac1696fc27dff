package txnflow

import (
	"context"
	"fmt"
	"math/big"

	"SonicOnboard/internal/errors"
	"SonicOnboard/internal/market/silo"
	"SonicOnboard/internal/web3"

	"github.com/ethereum/go-ethereum/common"
)

// processWithdraw 推进提取流程：1 WITHDRAW。
// 反查代币对应的所有金库，并发扫描用户份额，取第一个余额为正的金库
// （按市场列表顺序，不是余额最大的）。未指定金额时提取全部可赎回份额。
func (f *Flows) processWithdraw(ctx context.Context, request *Request) (Outcome, error) {
	tokenSymbol := dataString(request.Data, "token_symbol")
	tokenAddress := dataString(request.Data, "token_address")
	amount, hasAmount := dataFloat(request.Data, "amount")

	vaultToken := effectiveTokenAddress(tokenAddress)
	owner := common.HexToAddress(request.UserAddress)

	vault, found, err := f.vaultWithBalance(ctx, owner, vaultToken)
	if err != nil {
		return OutcomeFailed, err
	}
	if !found {
		return OutcomeBlocked, nil
	}

	if request.Step < WithdrawStepWithdraw {
		request.Step = WithdrawStepWithdraw

		var details *TransactionDetails
		if hasAmount {
			decimals := f.decimalsOrDefault(ctx, vaultToken)
			tx, err := f.chain.BuildTransaction(ctx, vault, web3.SiloVaultABI, "withdraw",
				owner, nil, amountToWei(amount, decimals), owner, owner)
			if err != nil {
				return OutcomeFailed, errors.Wrap(errors.CodeChainFailure, err, "构造提取交易失败")
			}
			details = &TransactionDetails{
				Transaction: tx,
				Description: fmt.Sprintf("Withdraw %v %s from Silo Protocol", amount, tokenSymbol),
			}
		} else {
			shares, err := f.maxRedeemableShares(ctx, vault, owner)
			if err != nil {
				return OutcomeFailed, err
			}
			tx, err := f.chain.BuildTransaction(ctx, vault, web3.SiloVaultABI, "redeem",
				owner, nil, shares, owner, owner)
			if err != nil {
				return OutcomeFailed, errors.Wrap(errors.CodeChainFailure, err, "构造赎回交易失败")
			}
			details = &TransactionDetails{
				Transaction: tx,
				Description: fmt.Sprintf("Withdraw all %s from Silo Protocol", tokenSymbol),
			}
		}

		request.Transaction = details
		if err := f.store.SaveRequest(ctx, request); err != nil {
			return OutcomeFailed, err
		}
		return OutcomeNeedsSigning, nil
	}

	return OutcomeComplete, nil
}

// vaultWithBalance 反查代币的所有金库并按顺序扫描用户份额，返回第一个
// 余额严格为正的金库。
func (f *Flows) vaultWithBalance(ctx context.Context, owner common.Address, tokenAddress string) (common.Address, bool, error) {
	markets, err := f.markets.DisplayMarkets(ctx)
	if err != nil {
		return common.Address{}, false, err
	}

	configs := silo.MarketsForToken(markets, tokenAddress)
	if len(configs) == 0 {
		return common.Address{}, false, nil
	}

	want := common.HexToAddress(tokenAddress)
	var candidates []common.Address
	for _, config := range configs {
		vaults, err := f.silosOf(ctx, common.HexToAddress(config))
		if err != nil {
			return common.Address{}, false, err
		}
		assets, err := f.vaultAssets(ctx, vaults)
		if err != nil {
			return common.Address{}, false, err
		}
		for i, asset := range assets {
			if asset == want {
				candidates = append(candidates, vaults[i])
			}
		}
	}
	if len(candidates) == 0 {
		return common.Address{}, false, nil
	}

	balances, err := f.vaultBalances(ctx, owner, candidates)
	if err != nil {
		return common.Address{}, false, err
	}
	for i, balance := range balances {
		if balance != nil && balance.Sign() > 0 {
			return candidates[i], true, nil
		}
	}
	return common.Address{}, false, nil
}

// maxRedeemableShares 查询用户当前可赎回的全部份额。
func (f *Flows) maxRedeemableShares(ctx context.Context, vault, owner common.Address) (*big.Int, error) {
	values, err := f.chain.CallContract(ctx, vault, web3.SiloVaultABI, "maxRedeem", owner)
	if err != nil {
		return nil, errors.Wrap(errors.CodeChainFailure, err, "查询可赎回份额失败")
	}
	if len(values) == 0 {
		return nil, errors.New(errors.CodeChainFailure, "maxRedeem 返回值为空")
	}
	shares, ok := values[0].(*big.Int)
	if !ok {
		return nil, errors.New(errors.CodeChainFailure, "maxRedeem 返回值类型错误")
	}
	return shares, nil
}
