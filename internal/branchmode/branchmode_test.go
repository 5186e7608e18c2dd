package branchmode

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jpsweeney97/phaser/internal/store"
)

func initGitRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) string {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
		)
		out, err := cmd.CombinedOutput()
		if err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
		return string(out)
	}
	run("init", "-q", "-b", "main")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	if err := os.WriteFile(filepath.Join(dir, "f.txt"), []byte("1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	run("add", "-A")
	run("commit", "-q", "-m", "initial")
	return dir
}

func newTestStoreAt(t *testing.T, dir string) *store.Store {
	t.Helper()
	t.Setenv("PHASER_STORAGE_DIR", filepath.Join(dir, ".phaser"))
	s, err := store.Open(dir)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	return s
}

func TestBranchNameTruncatesWithHashSuffix(t *testing.T) {
	long := strings.Repeat("x", 200)
	name := BranchName("my-audit", 3, long)
	if len(name) > maxBranchName {
		t.Errorf("len(name) = %d, want <= %d", len(name), maxBranchName)
	}
	if !strings.HasPrefix(name, "audit/my-audit/phase-03-") {
		t.Errorf("name = %q, missing expected prefix", name)
	}
}

func TestBranchNameShortNamePassesThrough(t *testing.T) {
	name := BranchName("audit", 1, "add-logging")
	if name != "audit/audit/phase-01-add-logging" {
		t.Errorf("name = %q", name)
	}
}

func TestBeginRejectsDirtyTree(t *testing.T) {
	dir := initGitRepo(t)
	s := newTestStoreAt(t, dir)
	mgr := New(s, dir)

	if err := os.WriteFile(filepath.Join(dir, "f.txt"), []byte("dirty\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := mgr.Begin("audit-1", "my-audit", ""); err == nil {
		t.Fatal("expected error for dirty working tree")
	}
}

func TestCreatePhaseBranchAndCommit(t *testing.T) {
	dir := initGitRepo(t)
	s := newTestStoreAt(t, dir)
	mgr := New(s, dir)

	if _, err := mgr.Begin("audit-1", "my-audit", ""); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := mgr.CreatePhaseBranch(1, "add-logging", "Add logging"); err != nil {
		t.Fatalf("CreatePhaseBranch: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "f.txt"), []byte("2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	sha, err := mgr.CommitPhase(1, "Add logging", "")
	if err != nil {
		t.Fatalf("CommitPhase: %v", err)
	}
	if sha == "" {
		t.Error("expected a commit SHA")
	}

	ctx, found, err := mgr.Load()
	if err != nil {
		t.Fatal(err)
	}
	if !found || len(ctx.Branches) != 1 || ctx.Branches[0].CommitSHA == "" {
		t.Errorf("expected recorded commit SHA, got %+v", ctx)
	}
}

func TestCommitPhaseNoOpWhenNothingStaged(t *testing.T) {
	dir := initGitRepo(t)
	s := newTestStoreAt(t, dir)
	mgr := New(s, dir)

	if _, err := mgr.Begin("audit-1", "my-audit", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.CreatePhaseBranch(1, "noop", "Noop"); err != nil {
		t.Fatal(err)
	}

	sha, err := mgr.CommitPhase(1, "Noop", "")
	if err != nil {
		t.Fatalf("CommitPhase: %v", err)
	}
	if sha != "" {
		t.Errorf("expected empty SHA for no-op commit, got %q", sha)
	}
}
