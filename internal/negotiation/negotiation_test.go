package negotiation

import (
	"bytes"
	"testing"

	"github.com/jpsweeney97/phaser/internal/store"
	"github.com/jpsweeney97/phaser/internal/types"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("PHASER_STORAGE_DIR", dir)
	s, err := store.Open(dir)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	return s
}

func testPhases() []types.Phase {
	return []types.Phase{
		{ID: "phase-1", Number: 1, Title: "One", Files: []types.FileChangeIntent{{Path: "a.go", Action: types.ActionModify}}},
		{ID: "phase-2", Number: 2, Title: "Two", Files: []types.FileChangeIntent{{Path: "b.go", Action: types.ActionModify}, {Path: "c.go", Action: types.ActionCreate}}},
		{ID: "phase-3", Number: 3, Title: "Three", Files: []types.FileChangeIntent{{Path: "d.go", Action: types.ActionModify}}},
	}
}

func TestOpenCreatesThenResumes(t *testing.T) {
	s := newTestStore(t)
	sess, resumed, err := Open(s, "audit.md", "source content", testPhases())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if resumed {
		t.Fatal("expected a fresh session, not resumed")
	}
	if err := sess.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	sess2, resumed2, err := Open(s, "audit.md", "source content", testPhases())
	if err != nil {
		t.Fatalf("Open (resume): %v", err)
	}
	if !resumed2 {
		t.Fatal("expected the second Open to resume the saved session")
	}
	if len(sess2.State().CurrentPhases) != 3 {
		t.Errorf("expected 3 phases to survive resume, got %d", len(sess2.State().CurrentPhases))
	}
}

func TestSplitProducesSuffixedPhases(t *testing.T) {
	s := newTestStore(t)
	sess, _, err := Open(s, "audit.md", "content-a", testPhases())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := sess.Split("phase-2", nil); err != nil {
		t.Fatalf("Split: %v", err)
	}
	ids := phaseIDs(sess.State().CurrentPhases)
	if len(sess.State().CurrentPhases) != 4 {
		t.Fatalf("expected 4 phases after split, got %d: %v", len(sess.State().CurrentPhases), ids)
	}
	if ids[1] != "phase-2a" || ids[2] != "phase-2b" {
		t.Errorf("expected suffixed split IDs, got %v", ids)
	}
	// Renumbering changes positions only; phase-3 keeps its stable ID.
	last := sess.State().CurrentPhases[3]
	if last.ID != "phase-3" || last.Number != 4 {
		t.Errorf("expected phase-3 renumbered to 4 with its ID intact, got %s/%d", last.ID, last.Number)
	}
	for _, p := range sess.State().CurrentPhases[1:3] {
		if p.SplitFrom != "phase-2" {
			t.Errorf("expected split_from=phase-2 on %s, got %q", p.ID, p.SplitFrom)
		}
	}
}

func TestMergeRequiresConsecutiveUnlessForced(t *testing.T) {
	s := newTestStore(t)
	sess, _, err := Open(s, "audit.md", "content-b", testPhases())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := sess.Merge([]string{"phase-1", "phase-3"}, false); err == nil {
		t.Fatal("expected non-consecutive merge to fail without force")
	}
	if err := sess.Merge([]string{"phase-1", "phase-3"}, true); err != nil {
		t.Fatalf("expected forced merge to succeed: %v", err)
	}
	if len(sess.State().CurrentPhases) != 2 {
		t.Fatalf("expected 2 phases after merge, got %d", len(sess.State().CurrentPhases))
	}
}

func TestReorderMovesPhase(t *testing.T) {
	s := newTestStore(t)
	sess, _, err := Open(s, "audit.md", "content-c", testPhases())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := sess.Reorder("phase-3", 1); err != nil {
		t.Fatalf("Reorder: %v", err)
	}
	ids := phaseIDs(sess.State().CurrentPhases)
	if ids[0] != "phase-3" {
		t.Errorf("expected phase-3 first, got %v", ids)
	}
}

func TestSkipAndUnskip(t *testing.T) {
	s := newTestStore(t)
	sess, _, err := Open(s, "audit.md", "content-d", testPhases())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := sess.Skip("phase-2"); err != nil {
		t.Fatalf("Skip: %v", err)
	}
	if !containsStr(sess.State().SkippedIDs, "phase-2") {
		t.Fatal("expected phase-2 to be in SkippedIDs")
	}
	if err := sess.Unskip("phase-2"); err != nil {
		t.Fatalf("Unskip: %v", err)
	}
	if containsStr(sess.State().SkippedIDs, "phase-2") {
		t.Error("expected phase-2 to be removed from SkippedIDs after unskip")
	}
}

func TestModifyScalarAndListFields(t *testing.T) {
	s := newTestStore(t)
	sess, _, err := Open(s, "audit.md", "content-e", testPhases())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := sess.Modify("phase-1", FieldTitle, "Renamed"); err != nil {
		t.Fatalf("Modify title: %v", err)
	}
	if err := sess.Modify("phase-1", FieldPlan, []string{"step one", "step two"}); err != nil {
		t.Fatalf("Modify plan: %v", err)
	}
	p := sess.State().CurrentPhases[0]
	if p.Title != "Renamed" {
		t.Errorf("Title = %q, want Renamed", p.Title)
	}
	if len(p.Plan) != 2 {
		t.Errorf("expected 2 plan steps, got %d", len(p.Plan))
	}
}

func TestResetAllClearsHistory(t *testing.T) {
	s := newTestStore(t)
	sess, _, err := Open(s, "audit.md", "content-f", testPhases())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := sess.Skip("phase-1"); err != nil {
		t.Fatalf("Skip: %v", err)
	}
	if err := sess.Reset("all"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if len(sess.State().Operations) != 0 {
		t.Errorf("expected Reset(\"all\") to clear operation history, got %d entries", len(sess.State().Operations))
	}
	if len(sess.State().SkippedIDs) != 0 {
		t.Error("expected Reset(\"all\") to clear skipped IDs")
	}
}

func TestResetSinglePhaseLogsOp(t *testing.T) {
	s := newTestStore(t)
	sess, _, err := Open(s, "audit.md", "content-g", testPhases())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := sess.Modify("phase-1", FieldTitle, "Changed"); err != nil {
		t.Fatalf("Modify: %v", err)
	}
	if err := sess.Reset("phase-1"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if sess.State().CurrentPhases[0].Title != "One" {
		t.Errorf("expected phase-1 restored to original title, got %q", sess.State().CurrentPhases[0].Title)
	}
	last := sess.State().Operations[len(sess.State().Operations)-1]
	if last.OpType != "reset" {
		t.Errorf("expected a logged reset op, got %q", last.OpType)
	}
}

func TestValidateDetectsMissingFileChanges(t *testing.T) {
	s := newTestStore(t)
	sess, _, err := Open(s, "audit.md", "content-h", testPhases())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sess.State().CurrentPhases[0].Files = nil
	if err := sess.Validate(); err == nil {
		t.Fatal("expected Validate to reject a phase with no file changes")
	}
}

func TestExportRendersMarkdown(t *testing.T) {
	s := newTestStore(t)
	sess, _, err := Open(s, "audit.md", "content-i", testPhases())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := sess.Skip("phase-3"); err != nil {
		t.Fatalf("Skip: %v", err)
	}
	var buf bytes.Buffer
	if err := sess.Export(&buf, "Test Export", true); err != nil {
		t.Fatalf("Export: %v", err)
	}
	out := buf.String()
	if !bytes.Contains([]byte(out), []byte("Test Export")) {
		t.Error("expected exported document to contain the title")
	}
}

func phaseIDs(phases []types.Phase) []string {
	ids := make([]string, len(phases))
	for i, p := range phases {
		ids[i] = p.ID
	}
	return ids
}
