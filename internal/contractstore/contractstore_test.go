package contractstore

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/jpsweeney97/phaser/internal/types"
)

func writeContractYAML(t *testing.T, dir, id, yaml string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	path := filepath.Join(dir, id+".yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestLoadValidContract(t *testing.T) {
	root := t.TempDir()
	home := t.TempDir()
	writeContractYAML(t, filepath.Join(root, ".claude", "contracts"), "no-todo", `
rule:
  id: no-todo
  type: forbid_pattern
  pattern: "TODO"
  file_glob: "**/*.go"
  message: "no TODO markers"
  severity: error
`)

	s := New(root, home)
	result, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(result.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", result.Warnings)
	}
	if len(result.Contracts) != 1 {
		t.Fatalf("expected 1 contract, got %d", len(result.Contracts))
	}
	c := result.Contracts[0]
	if c.Rule.ID != "no-todo" || !c.Enabled {
		t.Errorf("unexpected contract: %+v", c)
	}
	if c.Scope != "project" {
		t.Errorf("Scope = %q, want project", c.Scope)
	}
	if _, ok := s.Compiled("no-todo"); !ok {
		t.Error("expected pattern to be cached after validation")
	}
}

func TestLoadSkipsInvalidRuleWithWarning(t *testing.T) {
	root := t.TempDir()
	home := t.TempDir()
	writeContractYAML(t, filepath.Join(root, ".claude", "contracts"), "bad", `
rule:
  id: bad
  type: forbid_pattern
  file_glob: "**/*.go"
  message: "missing pattern"
  severity: error
`)

	s := New(root, home)
	result, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(result.Contracts) != 0 {
		t.Fatalf("expected invalid rule to be skipped, got %d contracts", len(result.Contracts))
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("expected 1 warning, got %d", len(result.Warnings))
	}
}

func TestLoadProjectOverridesUser(t *testing.T) {
	root := t.TempDir()
	home := t.TempDir()
	body := `
rule:
  id: shared
  type: file_exists
  file_glob: "**/*.go"
  message: %q
  severity: error
`
	writeContractYAML(t, filepath.Join(home, ".phaser", "contracts"), "shared", fmt.Sprintf(body, "user message"))
	writeContractYAML(t, filepath.Join(root, ".claude", "contracts"), "shared", fmt.Sprintf(body, "project message"))

	s := New(root, home)
	result, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(result.Contracts) != 1 {
		t.Fatalf("expected rules merged by ID, got %d", len(result.Contracts))
	}
	if result.Contracts[0].Rule.Message != "project message" {
		t.Errorf("expected project scope to win, got %q", result.Contracts[0].Rule.Message)
	}
}

func TestMatchWithTimeoutCompletes(t *testing.T) {
	re := regexp.MustCompile(`hello`)
	loc, ok := MatchWithTimeout(re, "say hello world")
	if !ok {
		t.Fatal("expected match to complete before timeout")
	}
	if loc == nil {
		t.Error("expected a match location")
	}
}

func TestSelectFilesMatchesGlobAndSkipsDisabled(t *testing.T) {
	enabled := &types.Contract{Enabled: true, Rule: types.Rule{ID: "go-files", FileGlob: "**/*.go"}}
	disabled := &types.Contract{Enabled: false, Rule: types.Rule{ID: "disabled", FileGlob: "**/*.go"}}

	out := SelectFiles([]*types.Contract{enabled, disabled}, []string{"main.go", "README.md"})
	if len(out["go-files"]) != 1 || out["go-files"][0] != "main.go" {
		t.Errorf("unexpected selection: %v", out)
	}
	if _, present := out["disabled"]; present {
		t.Error("disabled contract should not appear in selection")
	}
}
