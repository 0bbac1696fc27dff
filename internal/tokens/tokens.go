// Package tokens 维护 Sonic 链上的代币白名单：符号到地址的解析、精度
// 查询以及用户持仓汇总。白名单来源于 Shadow Exchange 维护的 token list，
// 属于低频变化的参考数据，进程内惰性加载一次后复用。
package tokens

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"SonicOnboard/internal/errors"
	"SonicOnboard/internal/httpx"
	"SonicOnboard/pkg/logger"
)

const (
	// NativeTokenSymbol 是原生代币的保留符号。
	NativeTokenSymbol = "S"
	// NativeTokenPlaceholder 是原生代币的占位地址。
	NativeTokenPlaceholder = "0x0000000000000000000000000000000000000000"
	// WrappedNativeAddress 是 wS 合约地址，借贷场景下替代原生占位地址。
	WrappedNativeAddress = "0x039e2fB66102314Ce7b64Ce5Ce3E5183bc94aD38"

	// DefaultListURL 是默认的代币白名单地址。
	DefaultListURL = "https://raw.githubusercontent.com/Shadow-Exchange/shadow-assets/main/blockchains/sonic/tokenlist.json"

	logoURLTemplate = "https://raw.githubusercontent.com/Shadow-Exchange/shadow-assets/main/blockchains/sonic/assets/%s/logo.png"
)

// Token 是白名单中的一个条目。
type Token struct {
	Address  string `json:"address"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
	LogoURL  string `json:"logo_url,omitempty"`
}

// Metadata 描述某个代币地址的展示信息。
type Metadata struct {
	Name     string
	Symbol   string
	Decimals int
	LogoURL  string
}

// Directory 提供符号解析与元数据查询，背后是带缓存的白名单。
type Directory struct {
	listURL string
	client  *httpx.Client
	cache   Cache
	mu      sync.Mutex
}

// NewDirectory 创建目录。cache 为空时使用进程内缓存。
func NewDirectory(listURL string, client *httpx.Client, cache Cache) *Directory {
	if listURL == "" {
		listURL = DefaultListURL
	}
	if client == nil {
		client = httpx.New()
	}
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Directory{listURL: listURL, client: client, cache: cache}
}

// tokenList 对应白名单 JSON 的结构，tokens 是列表的列表，取第一组。
type tokenList struct {
	Tokens [][]Token `json:"tokens"`
}

// List 返回白名单条目，必要时触发一次远端拉取。
func (d *Directory) List(ctx context.Context) ([]Token, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if cached, ok, err := d.cache.Get(ctx); err == nil && ok {
		return cached, nil
	} else if err != nil {
		logger.Named("tokens").Warn("token list cache read failed", "error", err)
	}

	var list tokenList
	if err := d.client.GetJSON(ctx, d.listURL, nil, &list); err != nil {
		return nil, errors.Wrap(errors.CodeUnknown, err, "拉取代币白名单失败")
	}

	var entries []Token
	if len(list.Tokens) > 0 {
		entries = list.Tokens[0]
	}
	for i := range entries {
		if entries[i].LogoURL == "" {
			entries[i].LogoURL = fmt.Sprintf(logoURLTemplate, entries[i].Address)
		}
	}

	if err := d.cache.Set(ctx, entries); err != nil {
		logger.Named("tokens").Warn("token list cache write failed", "error", err)
	}
	return entries, nil
}

// AddressesFromSymbols 将符号解析为地址。未知符号不会出现在结果中。
// 保留符号 "S" 始终解析到原生占位地址。
func (d *Directory) AddressesFromSymbols(ctx context.Context, symbols []string) (map[string]string, error) {
	result := make(map[string]string, len(symbols))
	wanted := make(map[string]struct{}, len(symbols))
	for _, symbol := range symbols {
		if symbol == NativeTokenSymbol {
			result[symbol] = NativeTokenPlaceholder
			continue
		}
		wanted[symbol] = struct{}{}
	}
	if len(wanted) == 0 {
		return result, nil
	}

	entries, err := d.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, token := range entries {
		if _, ok := wanted[token.Symbol]; ok {
			if _, exists := result[token.Symbol]; !exists {
				result[token.Symbol] = token.Address
			}
		}
	}
	return result, nil
}

// MetadataByAddress 返回若干地址的元数据。原生占位地址返回固定元数据。
func (d *Directory) MetadataByAddress(ctx context.Context, addresses []string) (map[string]Metadata, error) {
	wanted := make(map[string]struct{}, len(addresses))
	var needsNative bool
	for _, addr := range addresses {
		if strings.EqualFold(addr, NativeTokenPlaceholder) {
			needsNative = true
			continue
		}
		wanted[strings.ToLower(addr)] = struct{}{}
	}

	result := make(map[string]Metadata)
	if needsNative {
		result[NativeTokenPlaceholder] = NativeMetadata()
	}
	if len(wanted) == 0 {
		return result, nil
	}

	entries, err := d.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, token := range entries {
		if _, ok := wanted[strings.ToLower(token.Address)]; ok {
			result[token.Address] = Metadata{
				Name:     token.Name,
				Symbol:   token.Symbol,
				Decimals: token.Decimals,
				LogoURL:  token.LogoURL,
			}
		}
	}
	return result, nil
}

// Decimals 返回代币精度。未知地址按 18 处理并记录警告。
func (d *Directory) Decimals(ctx context.Context, address string) (int, error) {
	metadata, err := d.MetadataByAddress(ctx, []string{address})
	if err != nil {
		return 0, err
	}
	for _, m := range metadata {
		if m.Decimals > 0 {
			return m.Decimals, nil
		}
	}
	logger.Named("tokens").Warn("token not found in metadata, assuming 18 decimals", "address", address)
	return 18, nil
}

// NativeMetadata 返回原生代币的固定元数据。
func NativeMetadata() Metadata {
	return Metadata{
		Name:     "Sonic",
		Symbol:   NativeTokenSymbol,
		Decimals: 18,
		LogoURL:  "https://sonicscan.org/token/images/s-token.svg",
	}
}
