package web3

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadChainDefinitions(t *testing.T) {
	t.Parallel()

	content := `chains:
  local:
    type: evm
    rpc_url: http://127.0.0.1:8545
    ws_url: ws://127.0.0.1:8546
    description: 本地测试链
  sepolia:
    type: evm
    rpc_url: https://rpc.sepolia.org
`
	path := filepath.Join(t.TempDir(), "chains.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write chain config: %v", err)
	}

	defs, err := LoadChainDefinitions(path)
	if err != nil {
		t.Fatalf("load chain config: %v", err)
	}
	if len(defs.Chains) != 2 {
		t.Fatalf("expected 2 chains, got %d", len(defs.Chains))
	}

	local, ok := defs.Chains["local"]
	if !ok {
		t.Fatal("expected local chain definition")
	}
	if local.Type != "evm" || local.RPCURL != "http://127.0.0.1:8545" || local.WSURL != "ws://127.0.0.1:8546" {
		t.Fatalf("unexpected local chain definition: %+v", local)
	}
}

func TestLoadChainDefinitionsEmptyPath(t *testing.T) {
	t.Parallel()

	defs, err := LoadChainDefinitions("")
	if err != nil {
		t.Fatalf("empty path should not fail: %v", err)
	}
	if defs.Chains == nil || len(defs.Chains) != 0 {
		t.Fatalf("expected empty chain map, got %+v", defs.Chains)
	}
}

func TestLoadChainDefinitionsMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := LoadChainDefinitions(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
