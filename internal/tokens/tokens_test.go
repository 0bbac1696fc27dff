package tokens

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"SonicOnboard/internal/httpx"
)

const sampleTokenList = `{
  "tokens": [[
    {"address": "0x29219dd400f2Bf60E5a23d13Be72B486D4038894", "name": "USD Coin", "symbol": "USDC", "decimals": 6},
    {"address": "0x039e2fB66102314Ce7b64Ce5Ce3E5183bc94aD38", "name": "Wrapped Sonic", "symbol": "wS", "decimals": 18}
  ]]
}`

func newTestDirectory(t *testing.T) (*Directory, *int) {
	t.Helper()
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(sampleTokenList))
	}))
	t.Cleanup(server.Close)
	return NewDirectory(server.URL, httpx.New(), NewMemoryCache()), &calls
}

func TestAddressesFromSymbols(t *testing.T) {
	directory, _ := newTestDirectory(t)

	got, err := directory.AddressesFromSymbols(context.Background(), []string{"USDC", "S", "FAKE"})
	if err != nil {
		t.Fatalf("AddressesFromSymbols 返回错误: %v", err)
	}
	if got["USDC"] != "0x29219dd400f2Bf60E5a23d13Be72B486D4038894" {
		t.Fatalf("USDC 地址 = %s", got["USDC"])
	}
	if got["S"] != NativeTokenPlaceholder {
		t.Fatalf("原生符号应解析到占位地址, got %s", got["S"])
	}
	if _, ok := got["FAKE"]; ok {
		t.Fatal("未知符号不应出现在结果中")
	}
}

func TestListFetchedOncePerProcess(t *testing.T) {
	directory, calls := newTestDirectory(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := directory.List(ctx); err != nil {
			t.Fatalf("List 第 %d 次返回错误: %v", i+1, err)
		}
	}
	if *calls != 1 {
		t.Fatalf("白名单拉取次数 = %d, 期望 1", *calls)
	}
}

func TestDecimalsDefaultsTo18(t *testing.T) {
	directory, _ := newTestDirectory(t)
	ctx := context.Background()

	decimals, err := directory.Decimals(ctx, "0x29219dd400f2Bf60E5a23d13Be72B486D4038894")
	if err != nil {
		t.Fatalf("Decimals 返回错误: %v", err)
	}
	if decimals != 6 {
		t.Fatalf("USDC 精度 = %d, 期望 6", decimals)
	}

	decimals, err = directory.Decimals(ctx, "0x00000000000000000000000000000000deadbeef")
	if err != nil {
		t.Fatalf("Decimals 返回错误: %v", err)
	}
	if decimals != 18 {
		t.Fatalf("未知代币精度 = %d, 期望默认 18", decimals)
	}
}

func TestNativeMetadata(t *testing.T) {
	directory, _ := newTestDirectory(t)

	metadata, err := directory.MetadataByAddress(context.Background(), []string{NativeTokenPlaceholder})
	if err != nil {
		t.Fatalf("MetadataByAddress 返回错误: %v", err)
	}
	native, ok := metadata[NativeTokenPlaceholder]
	if !ok {
		t.Fatal("缺少原生代币元数据")
	}
	if native.Symbol != NativeTokenSymbol || native.Decimals != 18 {
		t.Fatalf("原生元数据 = %+v", native)
	}
}
