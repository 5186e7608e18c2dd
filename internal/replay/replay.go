// Package replay re-checks a previously executed audit's final state against
// the working tree, surfacing file-level drift and contract regressions
// introduced since the audit completed (§6.3 `replay <slug>`).
package replay

import (
	"sort"
	"time"

	"github.com/jpsweeney97/phaser/internal/contractstore"
	"github.com/jpsweeney97/phaser/internal/enforcer"
	"github.com/jpsweeney97/phaser/internal/manifest"
	"github.com/jpsweeney97/phaser/internal/phaserr"
	"github.com/jpsweeney97/phaser/internal/store"
	"github.com/jpsweeney97/phaser/internal/types"
)

// Scope selects which kind of regression a replay checks for.
type Scope string

const (
	ScopeAll       Scope = "all"
	ScopeContracts Scope = "contracts"
	ScopeFiles     Scope = "files"
)

// Result is the outcome of one replay run.
type Result struct {
	AuditID         string
	Scope           Scope
	FileRegressions []types.FileChange
	Violations      []types.Violation
	Passed          bool
}

// Run compares the manifest captured at the end of audit auditID against the
// current contents of root (scope files/all), and/or re-runs the enforcer's
// contract check over the stored manifest's files (scope contracts/all).
func Run(s *store.Store, cs *contractstore.Store, root, auditID string, scope Scope) (*Result, error) {
	var after types.Manifest
	found, err := s.ReadYAML(&after, s.ManifestPath(auditID, "post")...)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, phaserr.New(phaserr.Usage, "no stored manifest for audit %q; run `diff capture` or an audit execution first", auditID)
	}

	res := &Result{AuditID: auditID, Scope: scope, Passed: true}

	if scope == ScopeFiles || scope == ScopeAll {
		current, err := manifest.Capture(root, manifest.CaptureOptions{})
		if err != nil {
			return nil, err
		}
		diff := manifest.Compare(&after, current)
		res.FileRegressions = append(res.FileRegressions, diff.Added...)
		res.FileRegressions = append(res.FileRegressions, diff.Modified...)
		res.FileRegressions = append(res.FileRegressions, diff.Deleted...)
		sortChanges(res.FileRegressions)
		if len(res.FileRegressions) > 0 {
			res.Passed = false
		}
	}

	if scope == ScopeContracts || scope == ScopeAll {
		loaded, err := cs.Load()
		if err != nil {
			return nil, err
		}
		for _, f := range after.Files {
			if f.Type != types.FileKindText || f.Unreadable {
				continue
			}
			check := enforcer.Check(cs, loaded.Contracts, f.Path, f.Content, false)
			res.Violations = append(res.Violations, check.Violations...)
		}
		for _, v := range res.Violations {
			if v.Severity == types.SeverityError {
				res.Passed = false
				break
			}
		}
	}

	return res, nil
}

func sortChanges(changes []types.FileChange) {
	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
}

// Record is one persisted row of replays.json, logging that a replay ran.
type Record struct {
	AuditID    string    `json:"audit_id"`
	Scope      Scope     `json:"scope"`
	Passed     bool      `json:"passed"`
	FileDrifts int       `json:"file_drifts"`
	Violations int       `json:"violations"`
	RanAt      time.Time `json:"ran_at"`
}

type replaysFile struct {
	Version int      `json:"version"`
	Replays []Record `json:"replays"`
}

// Log appends a Record describing res to the project's replays.json.
func Log(s *store.Store, res *Result) error {
	var f replaysFile
	found, err := s.ReadJSON(&f, s.ReplaysPath()...)
	if err != nil {
		return err
	}
	if !found {
		f.Version = 1
	}
	f.Replays = append(f.Replays, Record{
		AuditID:    res.AuditID,
		Scope:      res.Scope,
		Passed:     res.Passed,
		FileDrifts: len(res.FileRegressions),
		Violations: len(res.Violations),
		RanAt:      time.Now().UTC(),
	})
	return s.WriteJSON(f, s.ReplaysPath()...)
}
