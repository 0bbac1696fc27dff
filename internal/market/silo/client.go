// Package silo 访问 Silo Finance 的市场列表接口，并提供按收益率挑选
// 借贷金库的纯函数逻辑。
package silo

import (
	"context"

	"SonicOnboard/internal/errors"
	"SonicOnboard/internal/httpx"
)

const defaultMarketsURL = "https://v2.silo.finance/api/display-markets-v2"

// Client 访问 Silo 的展示接口。
type Client struct {
	marketsURL string
	http       *httpx.Client
}

// New 创建客户端。marketsURL 为空时使用生产地址。
func New(http *httpx.Client, marketsURL string) *Client {
	if http == nil {
		http = httpx.New()
	}
	if marketsURL == "" {
		marketsURL = defaultMarketsURL
	}
	return &Client{marketsURL: marketsURL, http: http}
}

// DisplayMarkets 拉取当前市场列表。
func (c *Client) DisplayMarkets(ctx context.Context) ([]Market, error) {
	body := map[string]any{
		"isApeMode":   false,
		"isCurated":   true,
		"protocolKey": nil,
		"search":      nil,
		"sort":        nil,
	}

	var markets []Market
	if err := c.http.PostJSON(ctx, c.marketsURL, nil, body, &markets); err != nil {
		return nil, errors.Wrap(errors.CodeUnknown, err, "拉取 Silo 市场列表失败")
	}
	return markets, nil
}
