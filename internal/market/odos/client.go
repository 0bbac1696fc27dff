// Package odos 封装 Odos 聚合器的报价、交易组装与白名单价格接口。
// 只构造交易，绝不提交。
package odos

import (
	"context"
	"fmt"
	"math/big"

	"SonicOnboard/internal/errors"
	"SonicOnboard/internal/httpx"
	"SonicOnboard/internal/web3"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	defaultBaseURL    = "https://api.odos.xyz/sor"
	defaultPricingURL = "https://api.odos.xyz/pricing/token"

	// RouterSpenderAddress 是 Odos 路由在 Sonic 上的授权地址。
	RouterSpenderAddress = "0xaC041Df48dF9791B0654f1Dbbf2CC8450C5f2e9D"
)

// Client 访问 Odos 的 HTTP API。
type Client struct {
	baseURL    string
	pricingURL string
	http       *httpx.Client
}

// Option 定义可选配置。
type Option func(*Client)

// WithBaseURL 覆盖 SOR 接口地址，测试用。
func WithBaseURL(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.baseURL = url
		}
	}
}

// WithPricingURL 覆盖价格接口地址，测试用。
func WithPricingURL(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.pricingURL = url
		}
	}
}

// New 创建客户端。
func New(http *httpx.Client, opts ...Option) *Client {
	if http == nil {
		http = httpx.New()
	}
	c := &Client{baseURL: defaultBaseURL, pricingURL: defaultPricingURL, http: http}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// QuoteResponse 是 quote/v2 返回中流程需要的字段。
type QuoteResponse struct {
	PathID    string   `json:"pathId"`
	OutAmount []string `json:"outAmounts"`
}

// assembledTransaction 对应 assemble 返回中的 transaction 对象。
type assembledTransaction struct {
	ChainID int64  `json:"chainId"`
	From    string `json:"from"`
	To      string `json:"to"`
	Value   string `json:"value"`
	Data    string `json:"data"`
	Gas     int64  `json:"gas"`
}

type assembleResponse struct {
	Transaction assembledTransaction `json:"transaction"`
}

// Quote 请求兑换报价。金额为最小单位的整数。
func (c *Client) Quote(ctx context.Context, chainID int64, inputToken string, inputAmount *big.Int, outputToken, userAddress string) (*QuoteResponse, error) {
	body := map[string]any{
		"chainId": chainID,
		"inputTokens": []map[string]any{
			{"tokenAddress": inputToken, "amount": inputAmount.String()},
		},
		"outputTokens": []map[string]any{
			{"tokenAddress": outputToken, "proportion": 1},
		},
		"slippageLimitPercent": 1,
		"userAddr":             userAddress,
		"referralCode":         0,
		"disableRFQs":          true,
		"compact":              true,
	}

	var quote QuoteResponse
	if err := c.http.PostJSON(ctx, c.baseURL+"/quote/v2", nil, body, &quote); err != nil {
		return nil, errors.Wrap(errors.CodeUnknown, err, "请求兑换报价失败")
	}
	if quote.PathID == "" {
		return nil, errors.New(errors.CodeUnknown, "报价响应缺少 pathId")
	}
	return &quote, nil
}

// Assemble 将报价组装为可签名交易。
func (c *Client) Assemble(ctx context.Context, quote *QuoteResponse, userAddress string) (*web3.UnsignedTransaction, error) {
	body := map[string]any{
		"userAddr": userAddress,
		"pathId":   quote.PathID,
		"simulate": false,
	}

	var assembled assembleResponse
	if err := c.http.PostJSON(ctx, c.baseURL+"/assemble", nil, body, &assembled); err != nil {
		return nil, errors.Wrap(errors.CodeUnknown, err, "组装兑换交易失败")
	}

	tx := assembled.Transaction
	value := new(big.Int)
	if tx.Value != "" {
		if _, ok := value.SetString(tx.Value, 10); !ok {
			return nil, errors.New(errors.CodeUnknown, fmt.Sprintf("无法解析交易金额 %q", tx.Value))
		}
	}

	return &web3.UnsignedTransaction{
		ChainID: hexutil.EncodeBig(big.NewInt(tx.ChainID)),
		From:    tx.From,
		To:      tx.To,
		Value:   hexutil.EncodeBig(value),
		Data:    tx.Data,
		Gas:     hexutil.EncodeUint64(uint64(tx.Gas)),
	}, nil
}

// BuildSwapTransaction 一步完成报价与组装。
func (c *Client) BuildSwapTransaction(ctx context.Context, chainID int64, inputToken string, inputAmount *big.Int, outputToken, userAddress string) (*web3.UnsignedTransaction, error) {
	quote, err := c.Quote(ctx, chainID, inputToken, inputAmount, outputToken, userAddress)
	if err != nil {
		return nil, err
	}
	return c.Assemble(ctx, quote, userAddress)
}

type pricingResponse struct {
	TokenPrices map[string]float64 `json:"tokenPrices"`
}

// Prices 返回白名单代币的美元价格。无价格的地址不出现在结果中。
func (c *Client) Prices(ctx context.Context, addresses []string) (map[string]float64, error) {
	var resp pricingResponse
	url := fmt.Sprintf("%s/146?currencyId=USD", c.pricingURL)
	if err := c.http.GetJSON(ctx, url, nil, &resp); err != nil {
		return nil, errors.Wrap(errors.CodeUnknown, err, "获取代币价格失败")
	}

	result := make(map[string]float64, len(addresses))
	for _, address := range addresses {
		if price, ok := resp.TokenPrices[address]; ok {
			result[address] = price
		}
	}
	return result, nil
}
