// Package branchmode implements one linear chain of phase branches rooted at
// a configurable base, with squash/rebase/merge strategies (§4.7).
package branchmode

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/jpsweeney97/phaser/internal/phaserr"
	"github.com/jpsweeney97/phaser/internal/store"
	"github.com/jpsweeney97/phaser/internal/types"
)

const (
	gitTimeout    = 60 * time.Second
	maxBranchName = 100
)

// Strategy is one of the three merge-all strategies (§4.7).
type Strategy string

const (
	StrategySquash Strategy = "squash"
	StrategyRebase Strategy = "rebase"
	StrategyMerge  Strategy = "merge"
)

// Manager drives one project root's BranchContext via Store.
type Manager struct {
	store *store.Store
	root  string
}

// New returns a Manager for root, persisting state via s.
func New(s *store.Store, root string) *Manager {
	return &Manager{store: s, root: root}
}

func (m *Manager) git(args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), gitTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = m.root
	out, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return "", phaserr.New(phaserr.Resource, "git %s timed out", strings.Join(args, " "))
	}
	if err != nil {
		return string(out), phaserr.New(phaserr.Resource, "git %s: %v: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

func (m *Manager) currentBranch() (string, error) {
	out, err := m.git("rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	branch := strings.TrimSpace(out)
	if branch == "HEAD" {
		return "", phaserr.Wrap(phaserr.Resource, phaserr.ErrDetachedHead)
	}
	return branch, nil
}

func (m *Manager) isDirty() (bool, error) {
	out, err := m.git("status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

// Load returns the active branch context, if any.
func (m *Manager) Load() (*types.BranchContext, bool, error) {
	var ctx types.BranchContext
	found, err := m.store.ReadYAML(&ctx, m.store.BranchesPath()...)
	if err != nil || !found {
		return nil, found, err
	}
	return &ctx, true, nil
}

func (m *Manager) save(ctx *types.BranchContext) error {
	return m.store.WriteYAML(ctx, m.store.BranchesPath()...)
}

// Begin opens a new branch context rooted at base (current branch if empty).
// Rejects a dirty working tree or detached HEAD (§4.7 Begin).
func (m *Manager) Begin(auditID, auditSlug, base string) (*types.BranchContext, error) {
	if dirty, err := m.isDirty(); err != nil {
		return nil, err
	} else if dirty {
		return nil, phaserr.Wrap(phaserr.Resource, phaserr.ErrDirtyWorkingTree)
	}

	if base == "" {
		cur, err := m.currentBranch()
		if err != nil {
			return nil, err
		}
		base = cur
	}

	ctx := &types.BranchContext{
		AuditID:    auditID,
		AuditSlug:  auditSlug,
		Root:       m.root,
		BaseBranch: base,
		Active:     true,
		Version:    1,
	}
	if err := m.save(ctx); err != nil {
		return nil, err
	}
	return ctx, nil
}

// BranchName formats the audit/{slug}/phase-{NN}-{slug} name, truncating
// with a hash suffix when the result would exceed 100 chars (§4.7).
func BranchName(auditSlug string, phaseNum int, phaseSlug string) string {
	name := fmt.Sprintf("audit/%s/phase-%02d-%s", auditSlug, phaseNum, phaseSlug)
	if len(name) <= maxBranchName {
		return name
	}
	sum := sha256.Sum256([]byte(name))
	suffix := hex.EncodeToString(sum[:])[:6]
	prefix := fmt.Sprintf("audit/%s/phase-%02d-", auditSlug, phaseNum)
	budget := maxBranchName - len(prefix) - len(suffix) - 1
	if budget < 0 {
		budget = 0
	}
	if budget > len(phaseSlug) {
		budget = len(phaseSlug)
	}
	return prefix + phaseSlug[:budget] + "-" + suffix
}

// CreatePhaseBranch bases a new branch on the previous phase branch (if any)
// or the recorded base branch, checks it out, and appends a BranchInfo
// (§4.7 Create phase branch).
func (m *Manager) CreatePhaseBranch(phaseNum int, phaseSlug, phaseTitle string) (*types.BranchContext, error) {
	ctx, found, err := m.Load()
	if err != nil {
		return nil, err
	}
	if !found || !ctx.Active {
		return nil, phaserr.New(phaserr.Concurrency, "no active branch context for %s", m.root)
	}

	base := ctx.BaseBranch
	if n := len(ctx.Branches); n > 0 {
		base = ctx.Branches[n-1].BranchName
	}

	name := BranchName(ctx.AuditSlug, phaseNum, phaseSlug)
	if _, err := m.git("branch", name, base); err != nil {
		return nil, err
	}
	if _, err := m.git("checkout", name); err != nil {
		return nil, err
	}

	info := types.BranchInfo{
		PhaseNum:   phaseNum,
		PhaseSlug:  phaseSlug,
		BranchName: name,
		CreatedAt:  time.Now().UTC(),
	}
	ctx.Branches = append(ctx.Branches, info)
	num := phaseNum
	ctx.CurrentPhase = &num
	if err := m.save(ctx); err != nil {
		return nil, err
	}
	return ctx, nil
}

// CommitPhase stages every change outside the store directory and commits
// with message (or a default), recording the resulting SHA. Returns ("", nil)
// without committing if staging is empty (§4.7 Commit phase).
func (m *Manager) CommitPhase(phaseNum int, phaseTitle, message string) (string, error) {
	var pathspec []string
	if absRoot, err := filepath.Abs(m.root); err == nil {
		if rel, err := filepath.Rel(absRoot, m.store.Root()); err == nil && rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			pathspec = []string{"--", ".", ":(exclude)" + filepath.ToSlash(rel)}
		}
	}
	if _, err := m.git(append([]string{"add", "-A"}, pathspec...)...); err != nil {
		return "", err
	}
	status, err := m.git(append([]string{"status", "--porcelain"}, pathspec...)...)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(status) == "" {
		return "", nil
	}

	if message == "" {
		message = fmt.Sprintf("Phase %d: %s", phaseNum, phaseTitle)
	}
	if _, err := m.git("commit", "-m", message); err != nil {
		return "", err
	}
	sha, err := m.git("rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	sha = strings.TrimSpace(sha)

	ctx, found, err := m.Load()
	if err != nil {
		return "", err
	}
	if found {
		for i := range ctx.Branches {
			if ctx.Branches[i].PhaseNum == phaseNum {
				ctx.Branches[i].CommitSHA = sha
			}
		}
		if err := m.save(ctx); err != nil {
			return "", err
		}
	}
	return sha, nil
}

// ConflictError carries the list of conflicting paths from a failed merge
// (§4.7 Merge all).
type ConflictError struct {
	Branch string
	Paths  []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%v: merging %s conflicts on: %s", phaserr.ErrMergeConflict, e.Branch, strings.Join(e.Paths, ", "))
}

func (e *ConflictError) Unwrap() error { return phaserr.ErrMergeConflict }

// MergeAll checks out target (default = recorded base) and applies strategy
// to each phase branch in order (§4.7 Merge all).
func (m *Manager) MergeAll(strategy Strategy, target string) error {
	ctx, found, err := m.Load()
	if err != nil {
		return err
	}
	if !found || !ctx.Active {
		return phaserr.New(phaserr.Concurrency, "no active branch context for %s", m.root)
	}
	if target == "" {
		target = ctx.BaseBranch
	}

	if _, err := m.git("checkout", target); err != nil {
		return err
	}

	for i := range ctx.Branches {
		b := &ctx.Branches[i]
		if b.Merged {
			continue
		}
		if err := m.mergeOne(strategy, target, b.BranchName); err != nil {
			_ = m.save(ctx) // preserve partial progress so the context remains resumable
			return err
		}
		b.Merged = true
	}

	return m.save(ctx)
}

func (m *Manager) mergeOne(strategy Strategy, target, branch string) error {
	switch strategy {
	case StrategyRebase:
		if _, err := m.git("checkout", branch); err != nil {
			return err
		}
		if _, err := m.git("rebase", target); err != nil {
			conflict := m.conflictOrErr(branch, err)
			m.abortRebase()
			_, _ = m.git("checkout", target)
			return conflict
		}
		if _, err := m.git("checkout", target); err != nil {
			return err
		}
		if _, err := m.git("merge", "--ff-only", branch); err != nil {
			return err
		}
		return nil
	case StrategyMerge:
		if _, err := m.git("merge", "--no-ff", branch, "-m", "Merge "+branch); err != nil {
			conflict := m.conflictOrErr(branch, err)
			m.abortMerge()
			return conflict
		}
		return nil
	default: // squash
		if _, err := m.git("merge", "--squash", branch); err != nil {
			conflict := m.conflictOrErr(branch, err)
			// --squash leaves no MERGE_HEAD, so merge --abort cannot clean up.
			_, _ = m.git("reset", "--merge")
			return conflict
		}
		status, err := m.git("status", "--porcelain")
		if err != nil {
			return err
		}
		if strings.TrimSpace(status) == "" {
			return nil
		}
		if _, err := m.git("commit", "-m", "Squash merge "+branch); err != nil {
			return err
		}
		return nil
	}
}

func (m *Manager) conflictOrErr(branch string, original error) error {
	out, _ := m.git("diff", "--name-only", "--diff-filter=U")
	var paths []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line != "" {
			paths = append(paths, line)
		}
	}
	if len(paths) > 0 {
		return &ConflictError{Branch: branch, Paths: paths}
	}
	return original
}

func (m *Manager) abortMerge()  { _, _ = m.git("merge", "--abort") }
func (m *Manager) abortRebase() { _, _ = m.git("rebase", "--abort") }

// Cleanup deletes merged branches (or all, force-deleted, if all=true),
// returning a message suggesting the equivalent remote-deletion command for
// each branch, since remote branches are never touched directly (§4.7).
func (m *Manager) Cleanup(all bool) ([]string, error) {
	ctx, found, err := m.Load()
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	var messages []string
	for _, b := range ctx.Branches {
		if !all && !b.Merged {
			continue
		}
		flag := "-d"
		if all {
			flag = "-D"
		}
		if _, err := m.git("branch", flag, b.BranchName); err != nil {
			return messages, err
		}
		messages = append(messages, fmt.Sprintf("deleted %s locally; run `git push origin --delete %s` to remove it remotely", b.BranchName, b.BranchName))
	}
	return messages, nil
}
