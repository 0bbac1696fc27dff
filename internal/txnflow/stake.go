package txnflow

import (
	"context"
	"fmt"
	"math/big"

	"SonicOnboard/internal/errors"
	"SonicOnboard/internal/web3"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// SFCContractAddress 是 Sonic 特殊收费合约（SFC）的代理地址，
	// 质押委托都通过它完成。
	SFCContractAddress = "0xFC00FACE00000000000000000000000000000000"

	// TopSelfStakeValidatorID 是默认委托的验证人编号。
	TopSelfStakeValidatorID int64 = 18

	// nativeDecimals 是原生代币 S 的精度。
	nativeDecimals = 18
)

// processStake 推进质押流程：1 DELEGATE。
// 质押金额通过交易 value 携带，calldata 只编码验证人编号。
func (f *Flows) processStake(ctx context.Context, request *Request) (Outcome, error) {
	amount, _ := dataFloat(request.Data, "amount")

	if request.Step < StakeStepDelegate {
		request.Step = StakeStepDelegate

		tx, err := f.chain.BuildTransaction(ctx, common.HexToAddress(f.sfcContract), web3.SFCABI, "delegate",
			common.HexToAddress(request.UserAddress), amountToWei(amount, nativeDecimals),
			big.NewInt(f.stakeValidatorID))
		if err != nil {
			return OutcomeFailed, errors.Wrap(errors.CodeChainFailure, err, "构造质押交易失败")
		}

		request.Transaction = &TransactionDetails{
			Transaction: tx,
			Description: fmt.Sprintf("Staking %v S", amount),
		}
		if err := f.store.SaveRequest(ctx, request); err != nil {
			return OutcomeFailed, err
		}
		return OutcomeNeedsSigning, nil
	}

	return OutcomeComplete, nil
}
