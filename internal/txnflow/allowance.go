package txnflow

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"SonicOnboard/internal/errors"
	"SonicOnboard/internal/tokens"
	"SonicOnboard/internal/web3"

	"github.com/ethereum/go-ethereum/common"
)

// maxApproval 是 2^256-1，授权交易一律授到最大额度，避免每次操作都
// 重新授权。
var maxApproval = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// EnsureAllowance 检查 spender 对 owner 的授权额度是否覆盖 amount。
// 不足时返回待签的最大额度授权交易，足够时返回 nil。原生占位地址
// 无需授权，无条件返回 nil。
//
// 该检查幂等：用户签名授权后再次调用会读到新的链上额度并返回 nil，
// 编排器由此越过授权步骤，不需要单独的"确认授权完成"回合。
func (f *Flows) EnsureAllowance(ctx context.Context, tokenAddress, owner, spender string, amount float64, decimals int, tokenSymbol, purpose string) (*TransactionDetails, error) {
	if strings.EqualFold(tokenAddress, tokens.NativeTokenPlaceholder) {
		return nil, nil
	}

	token := common.HexToAddress(tokenAddress)
	values, err := f.chain.CallContract(ctx, token, web3.ERC20ABI, "allowance",
		common.HexToAddress(owner), common.HexToAddress(spender))
	if err != nil {
		return nil, errors.Wrap(errors.CodeChainFailure, err, "查询授权额度失败")
	}
	if len(values) == 0 {
		return nil, errors.New(errors.CodeChainFailure, "allowance 返回值为空")
	}
	allowance, ok := values[0].(*big.Int)
	if !ok {
		return nil, errors.New(errors.CodeChainFailure, "allowance 返回值类型错误")
	}

	required := amountToWei(amount, decimals)
	if allowance.Cmp(required) >= 0 {
		return nil, nil
	}

	tx, err := f.chain.BuildTransaction(ctx, token, web3.ERC20ABI, "approve",
		common.HexToAddress(owner), nil, common.HexToAddress(spender), new(big.Int).Set(maxApproval))
	if err != nil {
		return nil, errors.Wrap(errors.CodeChainFailure, err, "构造授权交易失败")
	}

	return &TransactionDetails{
		Transaction: tx,
		Description: fmt.Sprintf("Approve %s to spend %s for %s", spender, tokenSymbol, purpose),
	}, nil
}
