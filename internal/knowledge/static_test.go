package knowledge

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestQueryMatchesKeywordsAndTags(t *testing.T) {
	t.Parallel()

	provider := NewStaticProvider([]Snippet{
		{Title: "reentrancy", Keywords: []string{"reentrancy", "withdraw"}},
		{Title: "storage", Keywords: []string{"vault"}, Tags: []string{"private"}},
		{Title: "general"},
	}, 0)

	got := provider.Query("Drain the Reentrancy challenge")
	if len(got) != 2 {
		t.Fatalf("expected 2 snippets, got %d", len(got))
	}
	if got[0].Title != "reentrancy" || got[1].Title != "general" {
		t.Fatalf("unexpected snippets: %q, %q", got[0].Title, got[1].Title)
	}

	got = provider.Query("unlock the PRIVATE data")
	if len(got) != 2 {
		t.Fatalf("expected tag match plus general snippet, got %d", len(got))
	}
	if got[0].Title != "storage" {
		t.Fatalf("expected tag match first, got %q", got[0].Title)
	}
}

func TestQueryRespectsMaxResults(t *testing.T) {
	t.Parallel()

	items := []Snippet{
		{Title: "a"},
		{Title: "b"},
		{Title: "c"},
	}
	provider := NewStaticProvider(items, 2)

	got := provider.Query("anything")
	if len(got) != 2 {
		t.Fatalf("expected result cap of 2, got %d", len(got))
	}
}

func TestDefaultPatternsCoverCommonGoals(t *testing.T) {
	t.Parallel()

	provider := NewStaticProvider(DefaultPatterns(), 8)

	goals := map[string]string{
		"beat the delegatecall proxy":      "delegatecall 劫持",
		"read the vault password":          "存储槽直读",
		"win the coin flip ten times":      "链上伪随机",
		"claim ownership via the fallback": "重入攻击",
	}
	for goal, wantTitle := range goals {
		found := false
		for _, snippet := range provider.Query(goal) {
			if snippet.Title == wantTitle {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("goal %q did not match pattern %q", goal, wantTitle)
		}
	}
}

func TestLoadStaticProvider(t *testing.T) {
	t.Parallel()

	entries := []Snippet{
		{Title: "custom", Content: "notes", Keywords: []string{"king"}},
	}
	data, err := json.Marshal(entries)
	if err != nil {
		t.Fatalf("marshal entries: %v", err)
	}

	path := filepath.Join(t.TempDir(), "patterns.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write patterns file: %v", err)
	}

	provider, err := LoadStaticProvider(path, 3)
	if err != nil {
		t.Fatalf("load provider: %v", err)
	}

	got := provider.Query("become the king")
	if len(got) != 1 || got[0].Title != "custom" {
		t.Fatalf("unexpected query result: %+v", got)
	}
}

func TestLoadStaticProviderErrors(t *testing.T) {
	t.Parallel()

	if _, err := LoadStaticProvider("", 3); err == nil {
		t.Fatal("expected error for empty path")
	}
	if _, err := LoadStaticProvider(filepath.Join(t.TempDir(), "missing.json"), 3); err == nil {
		t.Fatal("expected error for missing file")
	}
}
