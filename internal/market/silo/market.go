package silo

import (
	"strconv"
	"strings"
)

// aprScale 是接口返回的定点收益率到百分比的换算因子（1e16）。
const aprScale = 1e16

// Market 是一个 Silo 市场：一个配置合约加两个金库。
type Market struct {
	ConfigAddress string `json:"configAddress"`
	Silo0         *Vault `json:"silo0"`
	Silo1         *Vault `json:"silo1"`
}

// Vault 描述市场中的单个金库。收益率字段为 1e18 定点数的十进制字符串。
type Vault struct {
	TokenAddress      string             `json:"tokenAddress"`
	CollateralBaseAPR string             `json:"collateralBaseApr"`
	CollateralPrograms []IncentiveProgram `json:"collateralPrograms"`
}

// IncentiveProgram 是金库上的一个激励计划。
type IncentiveProgram struct {
	APR string `json:"apr"`
}

// TotalAPR 返回基础收益率加所有激励计划收益率之和（百分比）。
func (v *Vault) TotalAPR() float64 {
	if v == nil {
		return 0
	}
	total := parseAPR(v.CollateralBaseAPR)
	for _, program := range v.CollateralPrograms {
		total += parseAPR(program.APR)
	}
	return total
}

func parseAPR(raw string) float64 {
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0
	}
	return value / aprScale
}

// BestMarket 在市场列表中为给定代币挑选总收益率严格最高的市场，
// 返回其配置合约地址。收益率相同保留先出现的市场；没有市场收录该
// 代币时返回 ok=false。
func BestMarket(markets []Market, tokenAddress string) (string, bool) {
	var configAddress string
	bestAPR := 0.0

	for _, market := range markets {
		for _, vault := range []*Vault{market.Silo0, market.Silo1} {
			if vault == nil || !strings.EqualFold(vault.TokenAddress, tokenAddress) {
				continue
			}
			if total := vault.TotalAPR(); total > bestAPR {
				bestAPR = total
				configAddress = market.ConfigAddress
			}
		}
	}

	if configAddress == "" {
		return "", false
	}
	return configAddress, true
}

// MarketsForToken 返回收录了给定代币的全部市场配置地址，保持列表顺序。
// 提取流程用它反查用户可能持有份额的金库。
func MarketsForToken(markets []Market, tokenAddress string) []string {
	var configs []string
	seen := make(map[string]struct{})
	for _, market := range markets {
		for _, vault := range []*Vault{market.Silo0, market.Silo1} {
			if vault == nil || !strings.EqualFold(vault.TokenAddress, tokenAddress) {
				continue
			}
			if _, ok := seen[market.ConfigAddress]; !ok {
				seen[market.ConfigAddress] = struct{}{}
				configs = append(configs, market.ConfigAddress)
			}
		}
	}
	return configs
}
