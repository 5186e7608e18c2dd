package simulation

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/jpsweeney97/phaser/internal/store"
	"github.com/jpsweeney97/phaser/internal/types"
)

func initGitRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
		)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}
	run("init", "-q")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")

	if err := os.WriteFile(filepath.Join(dir, "b.txt"), []byte("b-original\n"), 0o644); err != nil {
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

func TestBeginRejectsNonGitRoot(t *testing.T) {
	dir := t.TempDir()
	s := newTestStoreAt(t, dir)
	sim := New(s, dir)

	if _, err := sim.Begin("audit-1"); err == nil {
		t.Fatal("expected error for non-git root")
	}
}

func TestBeginRejectsSecondActiveContext(t *testing.T) {
	dir := initGitRepo(t)
	s := newTestStoreAt(t, dir)
	sim := New(s, dir)

	if _, err := sim.Begin("audit-1"); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := sim.Begin("audit-2"); err == nil {
		t.Fatal("expected error for concurrent simulation")
	}
}

func TestRollbackIsIdempotentWhenInactive(t *testing.T) {
	dir := initGitRepo(t)
	s := newTestStoreAt(t, dir)
	sim := New(s, dir)

	ok, failed, err := sim.Rollback()
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if !ok || len(failed) != 0 {
		t.Errorf("expected no-op rollback to succeed cleanly, got ok=%v failed=%v", ok, failed)
	}
}

func TestRollbackRestoresTrackedChanges(t *testing.T) {
	dir := initGitRepo(t)
	s := newTestStoreAt(t, dir)
	sim := New(s, dir)

	if _, err := sim.Begin("audit-1"); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("created\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "b.txt"), []byte("modified\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := sim.Track(&types.DiffResult{
		Added:    []types.FileChange{{Path: "a.txt", ChangeType: types.ChangeAdded}},
		Modified: []types.FileChange{{Path: "b.txt", ChangeType: types.ChangeModified}},
	})
	if err != nil {
		t.Fatalf("Track: %v", err)
	}

	ok, failed, err := sim.Rollback()
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if !ok {
		t.Fatalf("rollback incomplete, failed paths: %v", failed)
	}

	if _, err := os.Stat(filepath.Join(dir, "a.txt")); !os.IsNotExist(err) {
		t.Error("expected created file a.txt to be removed by rollback")
	}
	data, err := os.ReadFile(filepath.Join(dir, "b.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "b-original\n" {
		t.Errorf("b.txt = %q, want original content restored", data)
	}
	if _, found, _ := sim.Load(); found {
		t.Error("expected simulation context removed after rollback")
	}
}

func TestCommitDropsStashAndClearsContext(t *testing.T) {
	dir := initGitRepo(t)
	s := newTestStoreAt(t, dir)
	sim := New(s, dir)

	if err := os.WriteFile(filepath.Join(dir, "b.txt"), []byte("dirty\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := sim.Begin("audit-1"); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := sim.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	_, found, err := sim.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if found {
		t.Error("expected simulation context to be removed after commit")
	}
}
