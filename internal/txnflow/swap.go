package txnflow

import (
	"context"
	"fmt"

	"SonicOnboard/internal/errors"
)

// processSwap 推进兑换流程：1 APPROVAL → 2 BUILD_SWAP。
func (f *Flows) processSwap(ctx context.Context, request *Request) (Outcome, error) {
	inputSymbol := dataString(request.Data, "input_token_symbol")
	outputSymbol := dataString(request.Data, "output_token_symbol")
	inputAddress := dataString(request.Data, "input_token_address")
	outputAddress := dataString(request.Data, "output_token_address")
	amount, _ := dataFloat(request.Data, "input_token_amount")

	decimals := f.decimalsOrDefault(ctx, inputAddress)

	if request.Step < SwapStepApproval {
		request.Step = SwapStepApproval

		details, err := f.EnsureAllowance(ctx, inputAddress, request.UserAddress, f.swapSpender,
			amount, decimals, inputSymbol, "swap")
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

	if request.Step < SwapStepBuildSwap {
		request.Step = SwapStepBuildSwap

		tx, err := f.aggregator.BuildSwapTransaction(ctx, request.ChainID,
			inputAddress, amountToWei(amount, decimals), outputAddress, request.UserAddress)
		if err != nil {
			return OutcomeFailed, errors.Wrap(errors.CodeUnknown, err, "构造兑换交易失败")
		}

		request.Transaction = &TransactionDetails{
			Transaction: tx,
			Description: fmt.Sprintf("Swap %v %s to %s", amount, inputSymbol, outputSymbol),
		}
		if err := f.store.SaveRequest(ctx, request); err != nil {
			return OutcomeFailed, err
		}
		return OutcomeNeedsSigning, nil
	}

	return OutcomeComplete, nil
}
