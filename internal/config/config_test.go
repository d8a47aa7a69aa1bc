package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	raw := `{
		"web3": {"rpc_url": "http://localhost:8545"},
		"llm": {"provider": "script", "script": {"script_path": "bridge.py"}}
	}`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("server address = %s, want :8080", cfg.Server.Address)
	}
	if cfg.Storage.TaskStore.Driver != "memory" || cfg.Queue.Driver != "memory" {
		t.Fatalf("unexpected backend defaults: %+v", cfg.Storage.TaskStore)
	}
	if cfg.LLM.Provider != "script" || cfg.LLM.Script.Executable != "python3" {
		t.Fatalf("unexpected llm defaults: %+v", cfg.LLM)
	}
	if cfg.LLM.Script.WorkingDir != dir {
		t.Fatalf("working dir = %s, want %s", cfg.LLM.Script.WorkingDir, dir)
	}
	if cfg.Web3.PrivateKeyEnv != "PLAYER_PRIVATE_KEY" {
		t.Fatalf("private key env = %s", cfg.Web3.PrivateKeyEnv)
	}
	if cfg.Solver.MaxTaskRetries != 3 || cfg.Solver.Workers != 4 {
		t.Fatalf("unexpected solver defaults: %+v", cfg.Solver)
	}
	if len(cfg.Alerting.Channels) != 1 || cfg.Alerting.Channels[0] != "log" {
		t.Fatalf("unexpected alert channels: %v", cfg.Alerting.Channels)
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
