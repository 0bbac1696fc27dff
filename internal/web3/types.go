package web3

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// UnsignedTransaction 是交付给用户钱包签名的交易载荷。
// 所有数值字段都使用十六进制字符串，与钱包端约定保持一致。
type UnsignedTransaction struct {
	ChainID string `json:"chainId"`
	From    string `json:"from"`
	To      string `json:"to"`
	Value   string `json:"value"`
	Data    string `json:"data"`
	Gas     string `json:"gas,omitempty"`
}

// Client 定义链访问的统一接口，上层流程通过它读取链上状态并构造交易。
type Client interface {
	// ChainID 返回链 ID。
	ChainID(ctx context.Context) (*big.Int, error)
	// CallContract 执行只读合约调用并返回解包后的结果。
	CallContract(ctx context.Context, contract common.Address, abiJSON, method string, args ...any) ([]any, error)
	// BuildTransaction 构造未签名的合约调用交易，绝不提交上链。
	BuildTransaction(ctx context.Context, contract common.Address, abiJSON, method string, from common.Address, value *big.Int, args ...any) (*UnsignedTransaction, error)
	// NativeBalance 查询原生代币余额。
	NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error)
	// TokenBalances 批量查询 ERC20 余额，结果顺序与输入一致。
	TokenBalances(ctx context.Context, owner common.Address, tokens []common.Address) ([]*big.Int, error)
	// Close 释放底层连接。
	Close()
}
