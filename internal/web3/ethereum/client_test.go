package ethereum

import (
	"context"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind/backends"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/crypto"

	"Ethernaut-Agent/internal/web3"
)

func TestNewClientRequiresRPCURL(t *testing.T) {
	if _, err := NewClient(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for empty RPC URL")
	}
}

func TestParseWei(t *testing.T) {
	cases := []struct {
		raw     string
		want    *big.Int
		wantErr bool
	}{
		{raw: "", want: big.NewInt(0)},
		{raw: "1000000000000000000", want: big.NewInt(1_000_000_000_000_000_000)},
		{raw: "0xde0b6b3a7640000", want: big.NewInt(1_000_000_000_000_000_000)},
		{raw: "  42 ", want: big.NewInt(42)},
		{raw: "-5", wantErr: true},
		{raw: "ether", wantErr: true},
	}
	for _, tc := range cases {
		got, err := parseWei(tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("parseWei(%q): expected error", tc.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseWei(%q): unexpected error: %v", tc.raw, err)
		}
		if got.Cmp(tc.want) != 0 {
			t.Fatalf("parseWei(%q) = %s, want %s", tc.raw, got, tc.want)
		}
	}
}

func TestDecodeHexData(t *testing.T) {
	data, err := decodeHexData("0xdeadbeef")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(data) != 4 {
		t.Fatalf("expected 4 bytes, got %d", len(data))
	}

	// The 0x prefix is optional.
	data, err = decodeHexData("deadbeef")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(data) != 4 {
		t.Fatalf("expected 4 bytes, got %d", len(data))
	}

	if data, err := decodeHexData(""); err != nil || data != nil {
		t.Fatalf("empty input should yield nil data, got %v, %v", data, err)
	}

	if _, err := decodeHexData("0xzz"); err == nil {
		t.Fatalf("expected error for invalid hex")
	}
}

const (
	// 运行时一被调用就发出一条 LOG1 的合约。
	eventContractBin = "0x6027600c60003960276000f37f0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f2060006000a100"
	// 构造器向 0 号槽写入 1，运行时为空。
	storageContractBin = "0x600160005560006000f3"
	// 运行时对任何调用都直接回滚的合约。
	revertContractBin = "0x6005600c60003960056000f360006000fd"
	// 构造器本身回滚，部署必然失败。
	revertingInitCode = "0x60006000fd"
)

func newSimulatedClient(t *testing.T) (*Client, common.Address) {
	t.Helper()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)
	alloc := core.GenesisAlloc{
		from: {Balance: big.NewInt(1_000_000_000_000_000_000)},
	}
	backend := backends.NewSimulatedBackend(alloc, 8_000_000)
	client := NewSimulatedClient("simulated", big.NewInt(1337), key, backend)
	t.Cleanup(client.Close)
	return client, from
}

func TestSimulatedClientDeployCallQuery(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, from := newSimulatedClient(t)

	deployed, err := client.DeployContract(ctx, common.FromHex(eventContractBin), big.NewInt(0))
	if err != nil {
		t.Fatalf("deploy contract: %v", err)
	}
	if deployed.ContractAddress == (common.Address{}) {
		t.Fatal("expected contract address to be non-zero")
	}
	if deployed.GasUsed == 0 {
		t.Fatal("expected deployment to consume gas")
	}

	stored, err := client.DeployContract(ctx, common.FromHex(storageContractBin), big.NewInt(0))
	if err != nil {
		t.Fatalf("deploy storage contract: %v", err)
	}

	snapshot, err := client.FetchChainSnapshot(ctx)
	if err != nil {
		t.Fatalf("fetch snapshot: %v", err)
	}
	if snapshot.ChainID != "0x539" {
		t.Fatalf("unexpected chain id %s", snapshot.ChainID)
	}
	if snapshot.BlockNumber == "0x0" {
		t.Fatal("expected block number to advance after deployment")
	}

	balance, err := client.QueryState(ctx, web3.StateQuery{Address: from.Hex(), Kind: "balance"})
	if err != nil {
		t.Fatalf("query balance: %v", err)
	}
	if balance == "" || balance == "0x0" {
		t.Fatalf("expected funded balance, got %s", balance)
	}

	nonce, err := client.QueryState(ctx, web3.StateQuery{Address: from.Hex(), Kind: "nonce"})
	if err != nil {
		t.Fatalf("query nonce: %v", err)
	}
	if nonce != "0x2" {
		t.Fatalf("expected nonce 0x2 after two deployments, got %s", nonce)
	}

	code, err := client.QueryState(ctx, web3.StateQuery{Address: deployed.ContractAddress.Hex(), Kind: "code"})
	if err != nil {
		t.Fatalf("query code: %v", err)
	}
	if !strings.HasPrefix(code, "0x7f") {
		t.Fatalf("unexpected runtime code %s", code)
	}

	slot, err := client.QueryState(ctx, web3.StateQuery{
		Address: stored.ContractAddress.Hex(),
		Kind:    "storage",
		Slot:    "0x0",
	})
	if err != nil {
		t.Fatalf("query storage: %v", err)
	}
	if len(slot) != 66 || !strings.HasSuffix(slot, "01") {
		t.Fatalf("expected slot 0 to hold 1, got %s", slot)
	}

	viewed, err := client.CallContract(ctx, web3.ContractCall{Address: deployed.ContractAddress.Hex()})
	if err != nil {
		t.Fatalf("eth_call: %v", err)
	}
	if viewed.Output != "0x" {
		t.Fatalf("unexpected eth_call output %s", viewed.Output)
	}
	if viewed.TxHash != (common.Hash{}) {
		t.Fatal("eth_call must not produce a transaction")
	}

	sent, err := client.CallContract(ctx, web3.ContractCall{Address: deployed.ContractAddress.Hex(), Send: true})
	if err != nil {
		t.Fatalf("send transaction: %v", err)
	}
	if sent.Reverted {
		t.Fatal("expected transaction to succeed")
	}
	if sent.TxHash == (common.Hash{}) || sent.GasUsed == 0 {
		t.Fatalf("expected mined transaction with gas usage, got %+v", sent)
	}
}

func TestSimulatedClientRevertAndGasFallback(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, _ := newSimulatedClient(t)

	deployed, err := client.DeployContract(ctx, common.FromHex(revertContractBin), big.NewInt(0))
	if err != nil {
		t.Fatalf("deploy contract: %v", err)
	}

	// eth_call 在回滚时直接报错。
	if _, err := client.CallContract(ctx, web3.ContractCall{Address: deployed.ContractAddress.Hex()}); err == nil {
		t.Fatal("expected eth_call against reverting contract to fail")
	}

	// 发送交易时 gas 估算必然失败，走保底上限上链，回执标记为回滚。
	sent, err := client.CallContract(ctx, web3.ContractCall{Address: deployed.ContractAddress.Hex(), Send: true})
	if err != nil {
		t.Fatalf("send transaction: %v", err)
	}
	if !sent.Reverted {
		t.Fatal("expected mined transaction to be marked reverted")
	}
	if sent.TxHash == (common.Hash{}) {
		t.Fatal("expected transaction hash for mined transaction")
	}

	// 构造器回滚的部署返回错误而不是地址。
	if _, err := client.DeployContract(ctx, common.FromHex(revertingInitCode), big.NewInt(0)); err == nil {
		t.Fatal("expected deployment with reverting constructor to fail")
	}
}

func TestSimulatedClientRequiresSigningKey(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	backend := backends.NewSimulatedBackend(core.GenesisAlloc{}, 8_000_000)
	client := NewSimulatedClient("readonly", big.NewInt(1337), nil, backend)
	t.Cleanup(client.Close)

	_, err := client.CallContract(ctx, web3.ContractCall{
		Address: common.Address{0xaa}.Hex(),
		Send:    true,
	})
	if err == nil {
		t.Fatal("expected send without signing key to fail")
	}
}
