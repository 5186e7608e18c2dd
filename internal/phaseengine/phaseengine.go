// Package phaseengine drives one audit's phase lifecycle end to end: start,
// execute, verify, retry, commit, mark (§4.5).
package phaseengine

import (
	"context"
	"encoding/json"
	"os/exec"
	"time"

	"github.com/jpsweeney97/phaser/internal/branchmode"
	"github.com/jpsweeney97/phaser/internal/eventbus"
	"github.com/jpsweeney97/phaser/internal/manifest"
	"github.com/jpsweeney97/phaser/internal/simulation"
	"github.com/jpsweeney97/phaser/internal/store"
	"github.com/jpsweeney97/phaser/internal/types"
)

const (
	defaultRetries      = 3
	verificationTimeout = 5 * time.Minute
	maxOutputChars      = 1000
)

// Options configures one Run (§4.5 Contract).
type Options struct {
	Retries  int
	FailFast bool
	Emit     bool
	Simulate bool
	Branch   bool
}

// Executor performs the out-of-scope "execute the phase via the agent" step
// (§4.5 step c). PhaseEngine only drives the lifecycle around it.
type Executor func(ctx context.Context, audit *types.Audit, phase *types.Phase) error

// Result summarizes one Run call.
type Result struct {
	Status          types.AuditStatus
	PhasesCompleted int
	PhasesFailed    int
	PhasesSkipped   int
	FilesCreated    int
	FilesModified   int
	FilesDeleted    int
}

// Engine drives phase execution for audits persisted via store, emitting
// events through bus. The simulator and branch manager are optional
// collaborators consulted when Options.Simulate / Options.Branch are set.
type Engine struct {
	store   *store.Store
	bus     *eventbus.Bus
	sim     *simulation.Simulator
	branch  *branchmode.Manager
	emitOff bool
}

// New returns an Engine backed by s and bus.
func New(s *store.Store, bus *eventbus.Bus) *Engine {
	return &Engine{store: s, bus: bus}
}

// WithSimulator attaches the sandbox consulted when Options.Simulate is set.
func (e *Engine) WithSimulator(sim *simulation.Simulator) *Engine {
	e.sim = sim
	return e
}

// WithBranchManager attaches the branch-mode manager consulted when
// Options.Branch is set.
func (e *Engine) WithBranchManager(m *branchmode.Manager) *Engine {
	e.branch = m
	return e
}

// Run drives audit's phases per §4.5's algorithm, invoking exec to perform
// each phase's actual work and running its verification commands.
func (e *Engine) Run(audit *types.Audit, root string, opts Options, exec_ Executor) (*Result, error) {
	if opts.Retries <= 0 {
		opts.Retries = defaultRetries
	}
	e.emitOff = !opts.Emit

	if opts.Simulate && e.sim != nil {
		if _, found, err := e.sim.Load(); err != nil {
			return nil, err
		} else if !found {
			if _, err := e.sim.Begin(audit.ID); err != nil {
				return nil, err
			}
		}
	}

	start := time.Now().UTC()
	audit.StartedAt = &start
	audit.Status = types.AuditStatusInProgress
	e.persistAudit(audit)
	e.emit(types.EventAuditStarted, audit, nil, nil)

	totals := &Result{}
	for i := range audit.Phases {
		phase := &audit.Phases[i]
		if phase.Status == types.PhaseStatusSkipped {
			num := phase.Number
			e.emit(types.EventPhaseSkipped, audit, &num, nil)
			continue
		}
		if phase.Status != types.PhaseStatusPending {
			continue
		}
		if !e.runPhase(audit, phase, root, opts, exec_, totals) && opts.FailFast {
			break
		}
	}

	return e.finish(audit, start, totals), nil
}

func (e *Engine) runPhase(audit *types.Audit, phase *types.Phase, root string, opts Options, exec_ Executor, totals *Result) bool {
	started := time.Now().UTC()
	phase.Status = types.PhaseStatusExecuting
	phase.StartedAt = &started
	phaseNum := phase.Number
	e.emit(types.EventPhaseStarted, audit, &phaseNum, nil)
	e.persistAudit(audit)

	if opts.Branch && e.branch != nil {
		if _, err := e.branch.CreatePhaseBranch(phase.Number, slugify(phase.Title), phase.Title); err != nil {
			return e.failPhase(audit, phase, started, err)
		}
	}

	var preManifest *types.Manifest
	if root != "" {
		preManifest, _ = manifest.Capture(root, manifest.CaptureOptions{})
	}

	var lastErr error
	for attempt := 0; attempt <= opts.Retries; attempt++ {
		execCtx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		err := exec_(execCtx, audit, phase)
		cancel()
		if err != nil {
			lastErr = err
			continue
		}

		passed, verifyErr := e.runVerifications(audit, phase, root)
		if passed {
			lastErr = nil
			break
		}
		lastErr = verifyErr
	}

	var diff *types.DiffResult
	if root != "" && preManifest != nil {
		postManifest, err := manifest.Capture(root, manifest.CaptureOptions{})
		if err == nil {
			diff = manifest.Compare(preManifest, postManifest)
			e.emitFileEvents(audit, phase, diff)
			totals.FilesCreated += len(diff.Added)
			totals.FilesModified += len(diff.Modified)
			totals.FilesDeleted += len(diff.Deleted)
			if opts.Simulate && e.sim != nil {
				_, _ = e.sim.Track(diff)
			}
		}
	}

	if lastErr != nil {
		return e.failPhase(audit, phase, started, lastErr)
	}

	completed := time.Now().UTC()
	phase.Status = types.PhaseStatusCompleted
	phase.CompletedAt = &completed
	data := map[string]interface{}{
		"duration_ms": completed.Sub(started).Milliseconds(),
	}
	if diff != nil {
		data["files_created"] = len(diff.Added)
		data["files_modified"] = len(diff.Modified)
		data["files_deleted"] = len(diff.Deleted)
	}
	e.emit(types.EventPhaseCompleted, audit, &phaseNum, data)
	audit.PhasesCompleted++

	if opts.Branch && e.branch != nil {
		_, _ = e.branch.CommitPhase(phase.Number, phase.Title, "")
	}

	e.persistAudit(audit)
	return true
}

func (e *Engine) failPhase(audit *types.Audit, phase *types.Phase, started time.Time, cause error) bool {
	completed := time.Now().UTC()
	phaseNum := phase.Number
	phase.Status = types.PhaseStatusFailed
	phase.CompletedAt = &completed
	e.emit(types.EventPhaseFailed, audit, &phaseNum, map[string]interface{}{
		"error":       cause.Error(),
		"duration_ms": completed.Sub(started).Milliseconds(),
	})
	audit.PhasesFailed++
	e.persistAudit(audit)
	return false
}

func (e *Engine) runVerifications(audit *types.Audit, phase *types.Phase, root string) (bool, error) {
	phaseNum := phase.Number
	allPassed := true
	var lastErr error

	for _, step := range phase.Verification {
		ctx, cancel := context.WithTimeout(context.Background(), verificationTimeout)
		start := time.Now()
		cmd := exec.CommandContext(ctx, "sh", "-c", step)
		if root != "" {
			cmd.Dir = root
		}
		out, err := cmd.CombinedOutput()
		duration := time.Since(start)
		cancel()

		exitCode := 0
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				exitCode = exitErr.ExitCode()
			} else {
				exitCode = -1
			}
		}

		truncated := string(out)
		if len(truncated) > maxOutputChars {
			truncated = truncated[:maxOutputChars]
		}

		data := map[string]interface{}{
			"command":     step,
			"exit_code":   exitCode,
			"duration_ms": duration.Milliseconds(),
			"output":      truncated,
		}

		if err == nil {
			e.emit(types.EventVerificationPassed, audit, &phaseNum, data)
			continue
		}

		allPassed = false
		lastErr = err
		e.emit(types.EventVerificationFailed, audit, &phaseNum, data)
	}

	return allPassed, lastErr
}

func (e *Engine) emitFileEvents(audit *types.Audit, phase *types.Phase, diff *types.DiffResult) {
	phaseNum := phase.Number
	for _, fc := range diff.Added {
		e.emit(types.EventFileCreated, audit, &phaseNum, map[string]interface{}{"path": fc.Path})
	}
	for _, fc := range diff.Modified {
		e.emit(types.EventFileModified, audit, &phaseNum, map[string]interface{}{"path": fc.Path})
	}
	for _, fc := range diff.Deleted {
		e.emit(types.EventFileDeleted, audit, &phaseNum, map[string]interface{}{"path": fc.Path})
	}
}

func (e *Engine) finish(audit *types.Audit, start time.Time, totals *Result) *Result {
	completed := time.Now().UTC()
	audit.CompletedAt = &completed

	anyFailed := false
	for _, p := range audit.Phases {
		if p.Status == types.PhaseStatusFailed {
			anyFailed = true
		}
		if p.Status == types.PhaseStatusSkipped {
			audit.PhasesSkipped++
		}
	}

	if anyFailed {
		audit.Status = types.AuditStatusPartial
	} else {
		audit.Status = types.AuditStatusCompleted
		e.emit(types.EventAuditCompleted, audit, nil, map[string]interface{}{
			"duration_ms":      completed.Sub(start).Milliseconds(),
			"phases_completed": audit.PhasesCompleted,
			"phases_skipped":   audit.PhasesSkipped,
			"files_created":    totals.FilesCreated,
			"files_modified":   totals.FilesModified,
			"files_deleted":    totals.FilesDeleted,
		})
	}
	e.persistAudit(audit)

	totals.Status = audit.Status
	totals.PhasesCompleted = audit.PhasesCompleted
	totals.PhasesFailed = audit.PhasesFailed
	totals.PhasesSkipped = audit.PhasesSkipped
	return totals
}

func (e *Engine) emit(t types.EventType, audit *types.Audit, phase *int, data map[string]interface{}) {
	if e.bus == nil || e.emitOff {
		return
	}
	e.bus.Emit(t, audit.ID, phase, data)
}

func (e *Engine) persistAudit(audit *types.Audit) {
	if e.store == nil {
		return
	}
	if audit.ID == "" {
		id, err := e.store.SaveAudit(audit)
		if err == nil {
			audit.ID = id
		}
		return
	}
	delta, err := toDelta(audit)
	if err != nil {
		return
	}
	_, _ = e.store.UpdateAudit(audit.ID, delta)
}

// slugify reduces a phase title to the lowercase-dashed form used in branch
// names.
func slugify(s string) string {
	out := make([]rune, 0, len(s))
	lastDash := true
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
			out = append(out, r+('a'-'A'))
			lastDash = false
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			out = append(out, r)
			lastDash = false
		default:
			if !lastDash {
				out = append(out, '-')
				lastDash = true
			}
		}
	}
	for len(out) > 0 && out[len(out)-1] == '-' {
		out = out[:len(out)-1]
	}
	return string(out)
}

// toDelta round-trips audit through JSON so the full current state (phases,
// status, timestamps) lands as the merge delta; UpdateAudit preserves any
// unknown fields already on disk that Audit's struct doesn't model.
func toDelta(audit *types.Audit) (map[string]interface{}, error) {
	raw, err := json.Marshal(audit)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
