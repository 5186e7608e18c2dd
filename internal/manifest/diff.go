package manifest

import (
	"fmt"
	"sort"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/jpsweeney97/phaser/internal/types"
)

const diffMaxBytes = 100 * 1024

// Compare implements §4.3's Compare algorithm: added/deleted/modified sets
// plus unified diffs for small text files.
func Compare(before, after *types.Manifest) *types.DiffResult {
	beforeByPath := indexByPath(before)
	afterByPath := indexByPath(after)

	result := &types.DiffResult{}

	for path, a := range afterByPath {
		b, existed := beforeByPath[path]
		if !existed {
			result.Added = append(result.Added, FileChange(types.ChangeAdded, path, nil, &a))
			continue
		}
		if changed, fc := compareEntry(path, b, a); changed {
			result.Modified = append(result.Modified, fc)
		}
	}
	for path, b := range beforeByPath {
		if _, ok := afterByPath[path]; !ok {
			result.Deleted = append(result.Deleted, FileChange(types.ChangeDeleted, path, &b, nil))
		}
	}

	sortChanges(result.Added)
	sortChanges(result.Modified)
	sortChanges(result.Deleted)
	return result
}

func indexByPath(m *types.Manifest) map[string]types.FileEntry {
	out := make(map[string]types.FileEntry, len(m.Files))
	for _, f := range m.Files {
		out[f.Path] = f
	}
	return out
}

func compareEntry(path string, before, after types.FileEntry) (bool, types.FileChange) {
	sameHash := hashEqual(before.SHA256, after.SHA256)
	samePerm := before.IsExecutable == after.IsExecutable

	if sameHash && samePerm {
		return false, types.FileChange{}
	}

	fc := types.FileChange{
		Path:       path,
		ChangeType: types.ChangeModified,
		BeforeHash: before.SHA256,
		AfterHash:  after.SHA256,
		BeforeSize: ptrI64(before.Size),
		AfterSize:  ptrI64(after.Size),
	}

	if sameHash && !samePerm {
		// Permission-only change: reported as modified with empty diff_lines (§4.3).
		fc.DiffLines = []string{}
		return true, fc
	}

	if before.Type == types.FileKindText && after.Type == types.FileKindText &&
		before.Size <= diffMaxBytes && after.Size <= diffMaxBytes {
		fc.DiffLines = unifiedDiff(path, before.Content, after.Content)
	} else {
		fc.DiffLines = []string{"(diff skipped: file too large)"}
	}

	return true, fc
}

func unifiedDiff(path, before, after string) []string {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: "a/" + path,
		ToFile:   "b/" + path,
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return []string{fmt.Sprintf("(diff error: %v)", err)}
	}
	return difflib.SplitLines(text)
}

func hashEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func ptrI64(v int64) *int64 { return &v }

// FileChange constructs the FileChange record for an added or deleted entry.
func FileChange(kind types.ChangeType, path string, before, after *types.FileEntry) types.FileChange {
	fc := types.FileChange{Path: path, ChangeType: kind}
	if before != nil {
		fc.BeforeHash = before.SHA256
		fc.BeforeSize = ptrI64(before.Size)
	}
	if after != nil {
		fc.AfterHash = after.SHA256
		fc.AfterSize = ptrI64(after.Size)
	}
	return fc
}

func sortChanges(changes []types.FileChange) {
	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
}
