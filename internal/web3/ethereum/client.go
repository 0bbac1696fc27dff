package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"SonicOnboard/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name        string
	ChainID     int64
	RPCURL      string
	BatchRPCURL string
	Notes       string
}

// Client implements the web3.Client interface for EVM compatible chains.
type Client struct {
	name        string
	notes       string
	rpcClient   *gethrpc.Client
	batchClient *gethrpc.Client
	eth         *ethclient.Client

	mu      sync.Mutex
	chainID *big.Int

	abiCache sync.Map // abiJSON -> *abi.ABI
}

// NewClient dials the configured RPC endpoints and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接节点失败: %w", err)
	}

	batchClient := rpcClient
	if batchURL := strings.TrimSpace(cfg.BatchRPCURL); batchURL != "" && batchURL != rpcURL {
		batchClient, err = gethrpc.DialContext(ctx, batchURL)
		if err != nil {
			rpcClient.Close()
			return nil, fmt.Errorf("连接批量查询节点失败: %w", err)
		}
	}

	client := &Client{
		name:        cfg.Name,
		notes:       cfg.Notes,
		rpcClient:   rpcClient,
		batchClient: batchClient,
		eth:         ethclient.NewClient(rpcClient),
	}
	if cfg.ChainID > 0 {
		client.chainID = big.NewInt(cfg.ChainID)
	}
	return client, nil
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	if c.batchClient != nil && c.batchClient != c.rpcClient {
		c.batchClient.Close()
	}
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
	c.rpcClient = nil
	c.batchClient = nil
}

// ChainID 返回链 ID。配置了静态值时不发起 RPC。
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	if c.chainID != nil {
		id := new(big.Int).Set(c.chainID)
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	if c.eth == nil {
		return nil, errors.New("未初始化的链客户端")
	}
	id, err := c.eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}

	c.mu.Lock()
	c.chainID = new(big.Int).Set(id)
	c.mu.Unlock()
	return id, nil
}

// CallContract 执行只读合约调用并返回解包后的结果。
func (c *Client) CallContract(ctx context.Context, contract common.Address, abiJSON, method string, args ...any) ([]any, error) {
	if c == nil || c.eth == nil {
		return nil, errors.New("未初始化的链客户端")
	}
	parsed, err := c.parseABI(abiJSON)
	if err != nil {
		return nil, err
	}
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("编码调用 %s 失败: %w", method, err)
	}

	output, err := c.eth.CallContract(ctx, gethcore.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("调用 %s.%s 失败: %w", contract.Hex(), method, err)
	}

	values, err := parsed.Unpack(method, output)
	if err != nil {
		return nil, fmt.Errorf("解包 %s 返回值失败: %w", method, err)
	}
	return values, nil
}

// BuildTransaction 构造未签名交易。gas 通过节点预估，绝不签名或提交。
func (c *Client) BuildTransaction(ctx context.Context, contract common.Address, abiJSON, method string, from common.Address, value *big.Int, args ...any) (*web3.UnsignedTransaction, error) {
	if c == nil || c.eth == nil {
		return nil, errors.New("未初始化的链客户端")
	}
	parsed, err := c.parseABI(abiJSON)
	if err != nil {
		return nil, err
	}
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("编码调用 %s 失败: %w", method, err)
	}

	chainID, err := c.ChainID(ctx)
	if err != nil {
		return nil, err
	}

	if value == nil {
		value = new(big.Int)
	}
	msg := gethcore.CallMsg{From: from, To: &contract, Value: value, Data: data}
	gas, err := c.eth.EstimateGas(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("预估 gas 失败: %w", err)
	}

	return &web3.UnsignedTransaction{
		ChainID: hexutil.EncodeBig(chainID),
		From:    from.Hex(),
		To:      contract.Hex(),
		Value:   hexutil.EncodeBig(value),
		Data:    hexutil.Encode(data),
		Gas:     hexutil.EncodeUint64(gas),
	}, nil
}

// NativeBalance 查询原生代币余额。
func (c *Client) NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	if c == nil || c.eth == nil {
		return nil, errors.New("未初始化的链客户端")
	}
	balance, err := c.eth.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("查询余额失败: %w", err)
	}
	return balance, nil
}

// TokenBalances 在单次 RPC 批量调用中查询多个 ERC20 的余额。
// 返回结果的顺序与 tokens 一致。
func (c *Client) TokenBalances(ctx context.Context, owner common.Address, tokens []common.Address) ([]*big.Int, error) {
	if c == nil || c.batchClient == nil {
		return nil, errors.New("未初始化的链客户端")
	}
	if len(tokens) == 0 {
		return nil, nil
	}

	parsed, err := c.parseABI(web3.ERC20ABI)
	if err != nil {
		return nil, err
	}
	data, err := parsed.Pack("balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("编码 balanceOf 失败: %w", err)
	}
	payload := hexutil.Encode(data)

	results := make([]string, len(tokens))
	elems := make([]gethrpc.BatchElem, len(tokens))
	for i, token := range tokens {
		elems[i] = gethrpc.BatchElem{
			Method: "eth_call",
			Args: []any{
				map[string]string{"to": token.Hex(), "data": payload},
				"latest",
			},
			Result: &results[i],
		}
	}

	if err := c.batchClient.BatchCallContext(ctx, elems); err != nil {
		return nil, fmt.Errorf("批量查询余额失败: %w", err)
	}

	balances := make([]*big.Int, len(tokens))
	for i := range elems {
		if elems[i].Error != nil {
			return nil, fmt.Errorf("查询 %s 余额失败: %w", tokens[i].Hex(), elems[i].Error)
		}
		raw, err := hexutil.Decode(results[i])
		if err != nil {
			return nil, fmt.Errorf("解析 %s 余额失败: %w", tokens[i].Hex(), err)
		}
		balances[i] = new(big.Int).SetBytes(raw)
	}
	return balances, nil
}

func (c *Client) parseABI(abiJSON string) (*abi.ABI, error) {
	if cached, ok := c.abiCache.Load(abiJSON); ok {
		return cached.(*abi.ABI), nil
	}
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("解析 ABI 失败: %w", err)
	}
	c.abiCache.Store(abiJSON, &parsed)
	return &parsed, nil
}
