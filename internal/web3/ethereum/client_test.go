package ethereum

import (
	"encoding/hex"
	"math/big"
	"strings"
	"testing"

	"SonicOnboard/internal/web3"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

func mustParse(t *testing.T, abiJSON string) abi.ABI {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		t.Fatalf("内嵌 ABI 解析失败: %v", err)
	}
	return parsed
}

func TestEmbeddedABIsParse(t *testing.T) {
	for name, abiJSON := range map[string]string{
		"erc20":       web3.ERC20ABI,
		"silo_vault":  web3.SiloVaultABI,
		"silo_config": web3.SiloConfigABI,
		"sfc":         web3.SFCABI,
	} {
		if _, err := abi.JSON(strings.NewReader(abiJSON)); err != nil {
			t.Errorf("ABI %s 解析失败: %v", name, err)
		}
	}
}

func TestApproveSelector(t *testing.T) {
	parsed := mustParse(t, web3.ERC20ABI)
	spender := common.HexToAddress("0xaC041Df48dF9791B0654f1Dbbf2CC8450C5f2e9D")
	amount := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

	data, err := parsed.Pack("approve", spender, amount)
	if err != nil {
		t.Fatalf("编码 approve 失败: %v", err)
	}
	// approve(address,uint256) 的函数选择器。
	if got := hex.EncodeToString(data[:4]); got != "095ea7b3" {
		t.Fatalf("approve 选择器 = %s", got)
	}
	// 最大授权额度应为全 1。
	for _, b := range data[len(data)-32:] {
		if b != 0xff {
			t.Fatal("approve 金额不是 2^256-1")
		}
	}
}

func TestDelegateSelectorAndArgs(t *testing.T) {
	parsed := mustParse(t, web3.SFCABI)
	data, err := parsed.Pack("delegate", big.NewInt(18))
	if err != nil {
		t.Fatalf("编码 delegate 失败: %v", err)
	}
	if len(data) != 4+32 {
		t.Fatalf("delegate 数据长度 = %d", len(data))
	}
	if data[len(data)-1] != 18 {
		t.Fatal("delegate 验证人 ID 编码错误")
	}
}

func TestGetSilosUnpack(t *testing.T) {
	parsed := mustParse(t, web3.SiloConfigABI)

	silo0 := common.HexToAddress("0x0000000000000000000000000000000000000aa1")
	silo1 := common.HexToAddress("0x0000000000000000000000000000000000000bb2")
	output := make([]byte, 64)
	copy(output[12:32], silo0.Bytes())
	copy(output[44:64], silo1.Bytes())

	values, err := parsed.Unpack("getSilos", output)
	if err != nil {
		t.Fatalf("解包 getSilos 失败: %v", err)
	}
	if len(values) != 2 {
		t.Fatalf("返回值个数 = %d", len(values))
	}
	if got := values[0].(common.Address); got != silo0 {
		t.Fatalf("silo0 = %s", got.Hex())
	}
	if got := values[1].(common.Address); got != silo1 {
		t.Fatalf("silo1 = %s", got.Hex())
	}
}
