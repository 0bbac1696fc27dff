package tokens

import (
	"context"
	"math/big"

	"SonicOnboard/internal/errors"

	"github.com/ethereum/go-ethereum/common"
)

// BalanceReader 是持仓扫描需要的链上读取能力。
type BalanceReader interface {
	NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error)
	TokenBalances(ctx context.Context, owner common.Address, tokens []common.Address) ([]*big.Int, error)
}

// PriceSource 返回若干地址的美元价格，无价格的地址不出现在结果中。
type PriceSource interface {
	Prices(ctx context.Context, addresses []string) (map[string]float64, error)
}

// Holding 是用户的一笔代币持仓。
type Holding struct {
	TokenAddress string   `json:"token_address"`
	Balance      float64  `json:"balance"`
	Name         string   `json:"name"`
	Symbol       string   `json:"symbol"`
	Decimals     int      `json:"decimals"`
	LogoURL      string   `json:"logo_url,omitempty"`
	Price        *float64 `json:"price,omitempty"`
	USDValue     *float64 `json:"usd_value,omitempty"`
}

// Holdings 是持仓汇总。
type Holdings struct {
	Holdings      []Holding `json:"holdings"`
	TotalUSDValue float64   `json:"total_usd_value"`
}

// Portfolio 将白名单余额、元数据和价格拼装为持仓视图。
type Portfolio struct {
	directory *Directory
	chain     BalanceReader
	prices    PriceSource
}

// NewPortfolio 创建持仓服务。
func NewPortfolio(directory *Directory, chain BalanceReader, prices PriceSource) *Portfolio {
	return &Portfolio{directory: directory, chain: chain, prices: prices}
}

// SonicHoldings 扫描白名单内所有代币加原生余额，过滤零余额后
// 结合元数据与价格计算美元市值。
func (p *Portfolio) SonicHoldings(ctx context.Context, userAddress string) (*Holdings, error) {
	entries, err := p.directory.List(ctx)
	if err != nil {
		return nil, err
	}

	addresses := make([]string, 0, len(entries)+1)
	contracts := make([]common.Address, 0, len(entries))
	for _, token := range entries {
		addresses = append(addresses, token.Address)
		contracts = append(contracts, common.HexToAddress(token.Address))
	}
	addresses = append(addresses, NativeTokenPlaceholder)

	owner := common.HexToAddress(userAddress)

	type balancesResult struct {
		balances []*big.Int
		native   *big.Int
		err      error
	}
	type metadataResult struct {
		metadata map[string]Metadata
		err      error
	}
	type pricesResult struct {
		prices map[string]float64
		err    error
	}

	balancesCh := make(chan balancesResult, 1)
	metadataCh := make(chan metadataResult, 1)
	pricesCh := make(chan pricesResult, 1)

	go func() {
		balances, err := p.chain.TokenBalances(ctx, owner, contracts)
		if err != nil {
			balancesCh <- balancesResult{err: err}
			return
		}
		native, err := p.chain.NativeBalance(ctx, owner)
		balancesCh <- balancesResult{balances: balances, native: native, err: err}
	}()
	go func() {
		metadata, err := p.directory.MetadataByAddress(ctx, addresses)
		metadataCh <- metadataResult{metadata: metadata, err: err}
	}()
	go func() {
		prices, err := p.prices.Prices(ctx, addresses)
		pricesCh <- pricesResult{prices: prices, err: err}
	}()

	balRes := <-balancesCh
	metaRes := <-metadataCh
	priceRes := <-pricesCh

	if balRes.err != nil {
		return nil, errors.Wrap(errors.CodeChainFailure, balRes.err, "查询余额失败")
	}
	if metaRes.err != nil {
		return nil, metaRes.err
	}
	if priceRes.err != nil {
		return nil, priceRes.err
	}

	result := &Holdings{Holdings: []Holding{}}
	appendHolding := func(address string, raw *big.Int) {
		if raw == nil || raw.Sign() <= 0 {
			return
		}
		meta, ok := metaRes.metadata[address]
		if !ok {
			return
		}
		decimals := meta.Decimals
		if decimals <= 0 {
			decimals = 18
		}

		scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
		balance, _ := new(big.Float).Quo(new(big.Float).SetInt(raw), scale).Float64()

		holding := Holding{
			TokenAddress: address,
			Balance:      balance,
			Name:         meta.Name,
			Symbol:       meta.Symbol,
			Decimals:     decimals,
			LogoURL:      meta.LogoURL,
		}
		if price, ok := priceRes.prices[address]; ok {
			usd := price * balance
			holding.Price = &price
			holding.USDValue = &usd
			result.TotalUSDValue += usd
		}
		result.Holdings = append(result.Holdings, holding)
	}

	for i, token := range entries {
		if i < len(balRes.balances) {
			appendHolding(token.Address, balRes.balances[i])
		}
	}
	appendHolding(NativeTokenPlaceholder, balRes.native)

	return result, nil
}
