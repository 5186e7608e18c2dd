package reverseaudit

import (
	"testing"
	"time"
)

func commit(hash, message string, files []FileStat) Commit {
	return Commit{Hash: hash, ShortHash: hash[:7], Message: message, Date: time.Now(), Files: files}
}

func TestGroupByCommitOneCommitPerPhase(t *testing.T) {
	commits := []Commit{
		commit("aaaaaaa1", "feat: add login", []FileStat{{Path: "auth/login.go", ChangeType: ChangeAdded}}),
		commit("bbbbbbb2", "fix: nil pointer", []FileStat{{Path: "auth/login.go", ChangeType: ChangeModified}}),
	}
	phases := Group(commits, StrategyCommits, 20)
	if len(phases) != 2 {
		t.Fatalf("len(phases) = %d, want 2", len(phases))
	}
	if phases[0].Number != 1 || phases[1].Number != 2 {
		t.Errorf("phase numbers not sequential: %+v", phases)
	}
}

func TestGroupByDirectoryOrdersByFileCountDescending(t *testing.T) {
	commits := []Commit{
		commit("aaaaaaa1", "touch auth", []FileStat{{Path: "auth/a.go"}}),
		commit("bbbbbbb2", "touch web twice", []FileStat{{Path: "web/a.go"}, {Path: "web/b.go"}}),
	}
	phases := Group(commits, StrategyDirectories, 20)
	if len(phases) != 2 {
		t.Fatalf("len(phases) = %d, want 2", len(phases))
	}
	if phases[0].Context == "" || phases[0].Files[0].Path[:4] != "web/" {
		t.Errorf("expected web/ directory group first (more files), got %+v", phases[0])
	}
}

func TestGroupByFiletypeGroupsByExtension(t *testing.T) {
	commits := []Commit{
		commit("aaaaaaa1", "update go files", []FileStat{{Path: "a.go"}, {Path: "b.go"}}),
		commit("bbbbbbb2", "update docs", []FileStat{{Path: "README.md"}}),
	}
	phases := Group(commits, StrategyFiletypes, 20)
	if len(phases) != 2 {
		t.Fatalf("len(phases) = %d, want 2", len(phases))
	}
	if phases[0].Files[0].Path != "a.go" && phases[0].Files[0].Path != "b.go" {
		t.Errorf("expected .go group first (more files), got %+v", phases[0])
	}
}

func TestGroupBySemanticUsesConventionalPrefix(t *testing.T) {
	commits := []Commit{
		commit("aaaaaaa1", "feat: add widget", []FileStat{{Path: "widget.go", ChangeType: ChangeAdded}}),
		commit("bbbbbbb2", "fix: widget crash", []FileStat{{Path: "widget.go", ChangeType: ChangeModified}}),
		commit("ccccccc3", "docs: describe widget", []FileStat{{Path: "widget.md", ChangeType: ChangeAdded}}),
	}
	phases := Group(commits, StrategySemantic, 20)
	if len(phases) != 3 {
		t.Fatalf("len(phases) = %d, want 3", len(phases))
	}
	// semanticOrder is feat, fix, refactor, test, docs, chore, other
	if phases[0].Title == "" {
		t.Fatal("expected non-empty title for feat group")
	}
}

func TestGroupBySemanticFallsBackToKeywordHeuristic(t *testing.T) {
	c := commit("aaaaaaa1", "squash a nasty bug in parser", []FileStat{{Path: "parser.go"}})
	if got := semanticType(c.Message); got != "fix" {
		t.Errorf("semanticType(%q) = %q, want fix", c.Message, got)
	}
}

func TestCategoryTestOnlyFiles(t *testing.T) {
	g := group{commits: []Commit{
		commit("aaaaaaa1", "add coverage", []FileStat{{Path: "foo_test.go", ChangeType: ChangeAdded}}),
	}}
	if got := category(g); got != "test" {
		t.Errorf("category = %q, want test", got)
	}
}

func TestCategoryDocsOnlyFiles(t *testing.T) {
	g := group{commits: []Commit{
		commit("aaaaaaa1", "update readme", []FileStat{{Path: "README.md", ChangeType: ChangeModified}}),
	}}
	if got := category(g); got != "docs" {
		t.Errorf("category = %q, want docs", got)
	}
}

func TestCategoryMajorityDeletedIsRefactor(t *testing.T) {
	g := group{commits: []Commit{
		commit("aaaaaaa1", "remove dead code", []FileStat{
			{Path: "a.go", ChangeType: ChangeDeleted},
			{Path: "b.go", ChangeType: ChangeDeleted},
			{Path: "c.go", ChangeType: ChangeModified},
		}),
	}}
	if got := category(g); got != "refactor" {
		t.Errorf("category = %q, want refactor", got)
	}
}

func TestTitleStripsConventionalPrefix(t *testing.T) {
	g := group{commits: []Commit{commit("aaaaaaa1", "feat: add login flow", nil)}}
	if got := title(g); got != "Add login flow" {
		t.Errorf("title = %q, want %q", got, "Add login flow")
	}
}

func TestGroupRespectsMaxPhases(t *testing.T) {
	var commits []Commit
	for i := 0; i < 30; i++ {
		commits = append(commits, commit("aaaaaaa1", "feat: x", []FileStat{{Path: "x.go"}}))
	}
	phases := Group(commits, StrategyCommits, 5)
	if len(phases) != 5 {
		t.Fatalf("len(phases) = %d, want 5", len(phases))
	}
}

func TestParseNumstatHandlesRenames(t *testing.T) {
	out := "5\t2\told/path.go => new/path.go\n"
	files := parseNumstat(out)
	if len(files) != 1 {
		t.Fatalf("len(files) = %d, want 1", len(files))
	}
	if files[0].ChangeType != ChangeRenamed || files[0].OldPath != "old/path.go" || files[0].Path != "new/path.go" {
		t.Errorf("unexpected rename parse: %+v", files[0])
	}
}

func TestParseNumstatHandlesBraceRename(t *testing.T) {
	out := "1\t1\tsrc/{old => new}/file.go\n"
	files := parseNumstat(out)
	if len(files) != 1 {
		t.Fatalf("len(files) = %d, want 1", len(files))
	}
	if files[0].OldPath != "src/old/file.go" || files[0].Path != "src/new/file.go" {
		t.Errorf("unexpected brace rename parse: %+v", files[0])
	}
}

func TestParseNumstatBinaryFileHasZeroCounts(t *testing.T) {
	out := "-\t-\timage.png\n"
	files := parseNumstat(out)
	if len(files) != 1 || files[0].Insertions != 0 || files[0].Deletions != 0 {
		t.Fatalf("unexpected binary numstat parse: %+v", files)
	}
}
