// Package simulation implements the git-stash-backed sandbox described in
// §4.6: begin/track/rollback/commit plus context-manager semantics.
package simulation

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/jpsweeney97/phaser/internal/phaserr"
	"github.com/jpsweeney97/phaser/internal/store"
	"github.com/jpsweeney97/phaser/internal/types"
)

const gitTimeout = 60 * time.Second

// Simulator drives a single project root's SimulationContext via Store.
type Simulator struct {
	store *store.Store
	root  string
}

// New returns a Simulator for root, persisting state via s.
func New(s *store.Store, root string) *Simulator {
	return &Simulator{store: s, root: root}
}

func (sim *Simulator) git(args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), gitTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = sim.root
	out, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return "", phaserr.New(phaserr.Resource, "git %s timed out after %s", strings.Join(args, " "), gitTimeout)
	}
	if err != nil {
		return string(out), phaserr.New(phaserr.Resource, "git %s: %v: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

func (sim *Simulator) isGitRepo() bool {
	_, err := sim.git("rev-parse", "--is-inside-work-tree")
	return err == nil
}

func (sim *Simulator) currentBranch() (string, error) {
	out, err := sim.git("rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Load returns the active context, if any.
func (sim *Simulator) Load() (*types.SimulationContext, bool, error) {
	var ctx types.SimulationContext
	found, err := sim.store.ReadYAML(&ctx, sim.store.SimulationPath()...)
	if err != nil || !found {
		return nil, found, err
	}
	return &ctx, true, nil
}

// Begin opens a new sandbox for root (§4.6 Begin). Only one active context
// per root is permitted; Begin rejects if one already exists.
func (sim *Simulator) Begin(auditID string) (*types.SimulationContext, error) {
	if !sim.isGitRepo() {
		return nil, phaserr.Wrap(phaserr.Resource, phaserr.ErrNotGitRepo)
	}
	if existing, found, err := sim.Load(); err != nil {
		return nil, err
	} else if found && existing.Active {
		return nil, phaserr.New(phaserr.Concurrency, "%w: simulation already active for %s", phaserr.ErrAlreadyActive, existing.Root)
	}

	branch, err := sim.currentBranch()
	if err != nil {
		return nil, err
	}

	simCtx := &types.SimulationContext{
		AuditID:        auditID,
		Root:           sim.root,
		OriginalBranch: branch,
		StartedAt:      time.Now().UTC(),
		Active:         true,
		Version:        1,
	}

	// When the store directory lies inside root it is left out of the dirty
	// check and the stash, so the sandbox never stashes its own state.
	var pathspec []string
	if absRoot, err := filepath.Abs(sim.root); err == nil {
		if rel, err := filepath.Rel(absRoot, sim.store.Root()); err == nil && rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			pathspec = []string{"--", ".", ":(exclude)" + filepath.ToSlash(rel)}
		}
	}
	status, err := sim.git(append([]string{"status", "--porcelain"}, pathspec...)...)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(status) != "" {
		msg := fmt.Sprintf("phaser-simulation: %s @ %s", auditID, simCtx.StartedAt.Format(time.RFC3339))
		if _, err := sim.git(append([]string{"stash", "push", "-u", "-m", msg}, pathspec...)...); err != nil {
			return nil, err
		}
		simCtx.StashRef = "stash@{0}"
	}

	if err := sim.store.WriteYAML(simCtx, sim.store.SimulationPath()...); err != nil {
		return nil, err
	}
	return simCtx, nil
}

// Track records a diff's changes into the active context (§4.6 Track).
func (sim *Simulator) Track(diff *types.DiffResult) (*types.SimulationContext, error) {
	simCtx, found, err := sim.Load()
	if err != nil {
		return nil, err
	}
	if !found || !simCtx.Active {
		return nil, phaserr.New(phaserr.Concurrency, "no active simulation context for %s", sim.root)
	}

	for _, fc := range diff.Added {
		simCtx.CreatedFiles = appendUnique(simCtx.CreatedFiles, fc.Path)
	}
	for _, fc := range diff.Modified {
		simCtx.ModifiedFiles = appendUnique(simCtx.ModifiedFiles, fc.Path)
	}
	for _, fc := range diff.Deleted {
		simCtx.DeletedFiles = appendUnique(simCtx.DeletedFiles, fc.Path)
	}

	if err := sim.store.WriteYAML(simCtx, sim.store.SimulationPath()...); err != nil {
		return nil, err
	}
	return simCtx, nil
}

func appendUnique(list []string, item string) []string {
	for _, existing := range list {
		if existing == item {
			return list
		}
	}
	return append(list, item)
}

// Rollback best-effort reverses tracked changes and restores the stash, in
// the order specified by §4.6 Rollback. It is idempotent on an inactive
// context (§8 Round-trip and idempotence).
func (sim *Simulator) Rollback() (bool, []string, error) {
	simCtx, found, err := sim.Load()
	if err != nil {
		return false, nil, err
	}
	if !found || !simCtx.Active {
		return true, nil, nil
	}

	var failed []string

	for _, path := range simCtx.CreatedFiles {
		if _, err := sim.git("rm", "-f", "--ignore-unmatch", "--", path); err != nil {
			failed = append(failed, path)
		}
		// rm -f leaves disk untouched for untracked files; remove explicitly too.
		_, _ = sim.git("clean", "-f", "--", path)
	}
	for _, path := range append(append([]string{}, simCtx.ModifiedFiles...), simCtx.DeletedFiles...) {
		if _, err := sim.git("checkout", "--", path); err != nil {
			failed = append(failed, path)
		}
	}
	if simCtx.StashRef != "" {
		if _, err := sim.git("stash", "pop", simCtx.StashRef); err != nil {
			failed = append(failed, "stash:"+simCtx.StashRef)
		}
	}

	simCtx.Active = false
	if err := sim.store.Remove(sim.store.SimulationPath()...); err != nil {
		return len(failed) == 0, failed, err
	}

	return len(failed) == 0, failed, nil
}

// Commit keeps all changes: drops the stash (if any) and marks the context
// inactive (§4.6 Commit). Prior uncommitted work the stash would have held
// is lost, by design.
func (sim *Simulator) Commit() error {
	simCtx, found, err := sim.Load()
	if err != nil {
		return err
	}
	if !found || !simCtx.Active {
		return nil
	}
	if simCtx.StashRef != "" {
		if _, err := sim.git("stash", "drop", simCtx.StashRef); err != nil {
			return err
		}
	}
	return sim.store.Remove(sim.store.SimulationPath()...)
}

// Teardown is the exit action chosen by a scoped RunInContext call.
type Teardown int

const (
	// TeardownRollback is the default: best-effort rollback on scope exit.
	TeardownRollback Teardown = iota
	// TeardownCommit keeps changes on scope exit.
	TeardownCommit
)

// Scope is a handle passed to RunInContext's callback, letting it switch the
// teardown action before leaving scope (§4.6 Context manager).
type Scope struct {
	teardown Teardown
}

// SetTeardown switches the exit action for the enclosing RunInContext call.
func (s *Scope) SetTeardown(t Teardown) { s.teardown = t }

// RunInContext begins a simulation, invokes fn with a Scope, and guarantees
// teardown (rollback by default, or commit if fn called
// Scope.SetTeardown(TeardownCommit)) on every exit path including a panic.
func (sim *Simulator) RunInContext(auditID string, fn func(*Scope) error) error {
	if _, err := sim.Begin(auditID); err != nil {
		return err
	}

	scope := &Scope{teardown: TeardownRollback}
	fnErr := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = phaserr.New(phaserr.Internal, "simulation scope panic: %v", r)
			}
		}()
		return fn(scope)
	}()

	var teardownErr error
	switch scope.teardown {
	case TeardownCommit:
		teardownErr = sim.Commit()
	default:
		_, _, teardownErr = sim.Rollback()
	}

	if fnErr != nil {
		return fnErr
	}
	return teardownErr
}
