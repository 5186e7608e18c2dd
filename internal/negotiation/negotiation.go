// Package negotiation implements the non-destructive operation-history-based
// editor over a parsed phase graph: split, merge, reorder, skip, modify,
// reset, with session persistence (§4.11).
package negotiation

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jpsweeney97/phaser/internal/formatter"
	"github.com/jpsweeney97/phaser/internal/phaserr"
	"github.com/jpsweeney97/phaser/internal/store"
	"github.com/jpsweeney97/phaser/internal/types"
)

// SourceHash returns the stable hash used to key a session under
// negotiate/<hash>.yaml (§4.1 Layout, §4.11 Persistence).
func SourceHash(sourceContent string) string {
	sum := sha256.Sum256([]byte(sourceContent))
	return hex.EncodeToString(sum[:])[:16]
}

// Session wraps a types.NegotiationState with the operations that mutate it.
type Session struct {
	store *store.Store
	state *types.NegotiationState
}

// Open loads an existing session for sourceHash, or creates a fresh one from
// phases if none exists (§4.11 Persistence).
func Open(s *store.Store, sourceFile, sourceContent string, phases []types.Phase) (*Session, bool, error) {
	hash := SourceHash(sourceContent)
	var state types.NegotiationState
	found, err := s.ReadYAML(&state, s.NegotiatePath(hash)...)
	if err != nil {
		return nil, false, err
	}
	if found {
		return &Session{store: s, state: &state}, true, nil
	}

	now := time.Now().UTC()
	state = types.NegotiationState{
		SourceFile:     sourceFile,
		SourceHash:     hash,
		CreatedAt:      now,
		ModifiedAt:     now,
		OriginalPhases: clonePhases(phases),
		CurrentPhases:  clonePhases(phases),
		Version:        1,
	}
	return &Session{store: s, state: &state}, false, nil
}

// State returns the underlying negotiation state.
func (sess *Session) State() *types.NegotiationState { return sess.state }

// Save persists the session under negotiate/<source-hash>.yaml.
func (sess *Session) Save() error {
	sess.state.ModifiedAt = time.Now().UTC()
	return sess.store.WriteYAML(sess.state, sess.store.NegotiatePath(sess.state.SourceHash)...)
}

func clonePhases(phases []types.Phase) []types.Phase {
	out := make([]types.Phase, len(phases))
	for i, p := range phases {
		cp := p
		cp.Files = append([]types.FileChangeIntent{}, p.Files...)
		cp.Plan = append([]string{}, p.Plan...)
		cp.Verification = append([]string{}, p.Verification...)
		cp.AcceptanceCriteria = append([]string{}, p.AcceptanceCriteria...)
		cp.Rollback = append([]string{}, p.Rollback...)
		out[i] = cp
	}
	return out
}

func (sess *Session) findIndex(id string) int {
	for i, p := range sess.state.CurrentPhases {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func (sess *Session) appendOp(opType string, targetIDs []string, params map[string]interface{}, description string) {
	sess.state.Operations = append(sess.state.Operations, types.NegotiationOp{
		OpType:      opType,
		Timestamp:   time.Now().UTC(),
		TargetIDs:   targetIDs,
		Params:      params,
		Description: description,
	})
}

// renumber rewrites Number fields to 1..N in current order. Stable IDs are
// never touched: a suffixed ID ("phase-2a") records its split lineage, and an
// unsuffixed ID ("phase-3") keeps naming the phase it was parsed as even when
// its position changes, so an ID is never reused by a different phase (§3.1
// invariant iii, §4.11 Renumbering rule).
func (sess *Session) renumber() {
	for i := range sess.state.CurrentPhases {
		sess.state.CurrentPhases[i].Number = i + 1
	}
}

// Split divides phase phaseID's file list at the given 0-indexed split
// points, defaulting to one new phase per file (§4.11 split).
func (sess *Session) Split(phaseID string, splitAt []int) error {
	idx := sess.findIndex(phaseID)
	if idx < 0 {
		return phaserr.New(phaserr.Validation, "phase not found: %s", phaseID)
	}
	original := sess.state.CurrentPhases[idx]
	groups := splitIndices(len(original.Files), splitAt)
	if len(groups) < 2 {
		return phaserr.New(phaserr.Validation, "split produced fewer than 2 phases")
	}

	var newPhases []types.Phase
	var newIDs []string
	for i, g := range groups {
		suffix := string(rune('a' + i))
		np := original
		np.ID = original.ID + suffix
		np.Files = append([]types.FileChangeIntent{}, original.Files[g[0]:g[1]]...)
		np.SplitFrom = original.ID
		np.MergedFrom = nil
		newPhases = append(newPhases, np)
		newIDs = append(newIDs, np.ID)
	}

	out := make([]types.Phase, 0, len(sess.state.CurrentPhases)+len(newPhases)-1)
	out = append(out, sess.state.CurrentPhases[:idx]...)
	out = append(out, newPhases...)
	out = append(out, sess.state.CurrentPhases[idx+1:]...)
	sess.state.CurrentPhases = out
	sess.renumber()

	sess.appendOp("split", append([]string{phaseID}, newIDs...), map[string]interface{}{"split_at": splitAt}, fmt.Sprintf("split %s into %s", phaseID, strings.Join(newIDs, ", ")))
	return nil
}

// splitIndices returns the [start,end) file-index ranges for a split,
// defaulting to one file per group when splitAt is empty.
func splitIndices(fileCount int, splitAt []int) [][2]int {
	if fileCount == 0 {
		return nil
	}
	if len(splitAt) == 0 {
		groups := make([][2]int, fileCount)
		for i := 0; i < fileCount; i++ {
			groups[i] = [2]int{i, i + 1}
		}
		return groups
	}
	points := append([]int{0}, splitAt...)
	points = append(points, fileCount)
	var groups [][2]int
	for i := 0; i < len(points)-1; i++ {
		if points[i] >= points[i+1] {
			continue
		}
		groups = append(groups, [2]int{points[i], points[i+1]})
	}
	return groups
}

// Merge concatenates ≥2 phases' content into one, inheriting the first
// participant's ID. If the phases are not consecutive by pre-merge number
// and force is false, it returns a validation error surfacing the would-be
// prompt (§4.11 merge).
func (sess *Session) Merge(phaseIDs []string, force bool) error {
	if len(phaseIDs) < 2 {
		return phaserr.New(phaserr.Validation, "merge requires at least 2 phases")
	}
	var idxs []int
	for _, id := range phaseIDs {
		i := sess.findIndex(id)
		if i < 0 {
			return phaserr.New(phaserr.Validation, "phase not found: %s", id)
		}
		idxs = append(idxs, i)
	}

	nums := make([]int, len(idxs))
	for i, idx := range idxs {
		nums[i] = sess.state.CurrentPhases[idx].Number
	}
	if !force && !consecutive(nums) {
		return phaserr.New(phaserr.Validation, "phases %v are not consecutive; pass force to merge anyway", phaseIDs)
	}

	sort.Ints(idxs)
	merged := sess.state.CurrentPhases[idxs[0]]
	merged.MergedFrom = append([]string{}, phaseIDs...)
	merged.SplitFrom = ""
	for _, idx := range idxs[1:] {
		p := sess.state.CurrentPhases[idx]
		merged.Files = append(merged.Files, p.Files...)
		merged.Plan = append(merged.Plan, p.Plan...)
		merged.Verification = append(merged.Verification, p.Verification...)
		merged.AcceptanceCriteria = append(merged.AcceptanceCriteria, p.AcceptanceCriteria...)
		merged.Rollback = append(merged.Rollback, p.Rollback...)
	}

	remove := make(map[int]bool, len(idxs))
	for _, idx := range idxs {
		remove[idx] = true
	}
	var out []types.Phase
	for i, p := range sess.state.CurrentPhases {
		if !remove[i] {
			out = append(out, p)
			continue
		}
		if i == idxs[0] {
			out = append(out, merged)
		}
	}
	sess.state.CurrentPhases = out
	sess.renumber()

	sess.appendOp("merge", phaseIDs, map[string]interface{}{"force": force}, "merged "+strings.Join(phaseIDs, ", "))
	return nil
}

func consecutive(nums []int) bool {
	sorted := append([]int{}, nums...)
	sort.Ints(sorted)
	for i := 1; i < len(sorted); i++ {
		if sorted[i] != sorted[i-1]+1 {
			return false
		}
	}
	return true
}

// Reorder moves phaseID to the 1-indexed newPosition, then renumbers
// (§4.11 reorder).
func (sess *Session) Reorder(phaseID string, newPosition int) error {
	idx := sess.findIndex(phaseID)
	if idx < 0 {
		return phaserr.New(phaserr.Validation, "phase not found: %s", phaseID)
	}
	n := len(sess.state.CurrentPhases)
	if newPosition < 1 || newPosition > n {
		return phaserr.New(phaserr.Validation, "position %d out of range [1, %d]", newPosition, n)
	}

	phases := sess.state.CurrentPhases
	p := phases[idx]
	phases = append(phases[:idx], phases[idx+1:]...)
	target := newPosition - 1
	out := make([]types.Phase, 0, n)
	out = append(out, phases[:target]...)
	out = append(out, p)
	out = append(out, phases[target:]...)
	sess.state.CurrentPhases = out
	sess.renumber()

	sess.appendOp("reorder", []string{phaseID}, map[string]interface{}{"new_position": newPosition}, fmt.Sprintf("moved %s to position %d", phaseID, newPosition))
	return nil
}

// Skip marks phaseID as skipped without mutating the phase list (§4.11 skip).
func (sess *Session) Skip(phaseID string) error {
	if sess.findIndex(phaseID) < 0 {
		return phaserr.New(phaserr.Validation, "phase not found: %s", phaseID)
	}
	if !containsStr(sess.state.SkippedIDs, phaseID) {
		sess.state.SkippedIDs = append(sess.state.SkippedIDs, phaseID)
	}
	sess.appendOp("skip", []string{phaseID}, nil, "skipped "+phaseID)
	return nil
}

// Unskip reverses Skip.
func (sess *Session) Unskip(phaseID string) error {
	sess.state.SkippedIDs = removeStr(sess.state.SkippedIDs, phaseID)
	sess.appendOp("unskip", []string{phaseID}, nil, "unskipped "+phaseID)
	return nil
}

// ModifiableField enumerates the fields Modify accepts (§4.11 modify).
type ModifiableField string

const (
	FieldTitle              ModifiableField = "title"
	FieldContext            ModifiableField = "context"
	FieldGoal               ModifiableField = "goal"
	FieldPlan               ModifiableField = "plan"
	FieldVerification       ModifiableField = "verification"
	FieldAcceptanceCriteria ModifiableField = "acceptance_criteria"
	FieldRollback           ModifiableField = "rollback"
)

// Modify sets one field of phaseID to value. Scalar fields (title, context,
// goal) take a string; list fields take a []string.
func (sess *Session) Modify(phaseID string, field ModifiableField, value interface{}) error {
	idx := sess.findIndex(phaseID)
	if idx < 0 {
		return phaserr.New(phaserr.Validation, "phase not found: %s", phaseID)
	}
	p := &sess.state.CurrentPhases[idx]

	switch field {
	case FieldTitle:
		p.Title, _ = value.(string)
	case FieldContext:
		p.Context, _ = value.(string)
	case FieldGoal:
		p.Goal, _ = value.(string)
	case FieldPlan:
		p.Plan = toStringSlice(value)
	case FieldVerification:
		p.Verification = toStringSlice(value)
	case FieldAcceptanceCriteria:
		p.AcceptanceCriteria = toStringSlice(value)
	case FieldRollback:
		p.Rollback = toStringSlice(value)
	default:
		return phaserr.New(phaserr.Validation, "unknown field: %s", field)
	}

	sess.appendOp("modify", []string{phaseID}, map[string]interface{}{"field": string(field)}, fmt.Sprintf("modified %s.%s", phaseID, field))
	return nil
}

func toStringSlice(v interface{}) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []interface{}:
		out := make([]string, len(vv))
		for i, x := range vv {
			out[i], _ = x.(string)
		}
		return out
	default:
		return nil
	}
}

// Reset restores scope: "all" clears the whole session back to
// OriginalPhases with no history; a phase ID restores that one phase from
// OriginalPhases and logs a reset op (§4.11 reset, spec Open Question #2).
func (sess *Session) Reset(scope string) error {
	if scope == "all" {
		sess.state.CurrentPhases = clonePhases(sess.state.OriginalPhases)
		sess.state.SkippedIDs = nil
		sess.state.Operations = nil
		return nil
	}

	var original *types.Phase
	for i := range sess.state.OriginalPhases {
		if sess.state.OriginalPhases[i].ID == scope {
			original = &sess.state.OriginalPhases[i]
			break
		}
	}
	if original == nil {
		return phaserr.New(phaserr.Validation, "phase %s not present in original audit", scope)
	}

	idx := sess.findIndex(scope)
	restored := clonePhases([]types.Phase{*original})[0]
	if idx < 0 {
		sess.state.CurrentPhases = append(sess.state.CurrentPhases, restored)
	} else {
		sess.state.CurrentPhases[idx] = restored
	}
	sess.renumber()
	sess.appendOp("reset", []string{scope}, nil, "reset "+scope+" to original")
	return nil
}

func containsStr(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func removeStr(list []string, s string) []string {
	out := list[:0:0]
	for _, x := range list {
		if x != s {
			out = append(out, x)
		}
	}
	return out
}

// Export renders the current session as a Markdown document with a header
// comment listing applied operations; phases are renumbered sequentially and
// skipped phases are either omitted or rendered as a comment block depending
// on includeSkipped (§4.11 Export).
func (sess *Session) Export(w io.Writer, title string, includeSkipped bool) error {
	var header []string
	for _, op := range sess.state.Operations {
		header = append(header, fmt.Sprintf("[%s] %s: %s", op.Timestamp.Format(time.RFC3339), op.OpType, op.Description))
	}

	skippedSet := map[string]bool{}
	for _, id := range sess.state.SkippedIDs {
		skippedSet[id] = true
	}

	var active, skipped []types.Phase
	for _, p := range sess.state.CurrentPhases {
		if skippedSet[p.ID] {
			skipped = append(skipped, p)
			continue
		}
		active = append(active, p)
	}
	for i := range active {
		active[i].Number = i + 1
	}

	doc := &formatter.PhaseDocument{
		Title:           title,
		OperationHeader: header,
		Phases:          active,
		Skipped:         skipped,
		IncludeSkipped:  includeSkipped,
	}
	return formatter.NewMarkdownFormatter().Format(w, doc)
}

// Validate checks the invariants that must hold after every operation: no
// duplicate IDs, numbers 1..N, every phase has ≥1 file-change intent (§3.1,
// §8).
func (sess *Session) Validate() error {
	seen := map[string]bool{}
	for i, p := range sess.state.CurrentPhases {
		if seen[p.ID] {
			return phaserr.New(phaserr.Internal, "duplicate phase ID: %s", p.ID)
		}
		seen[p.ID] = true
		if p.Number != i+1 {
			return phaserr.New(phaserr.Internal, "phase numbering gap at %s: want %d, got %d", p.ID, i+1, p.Number)
		}
		if !p.HasFileChanges() {
			return phaserr.New(phaserr.Internal, "phase %s has no file-change intents", p.ID)
		}
	}
	return nil
}
