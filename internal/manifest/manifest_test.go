package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jpsweeney97/phaser/internal/types"
)

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	full := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestCaptureSkipsExcludedDirs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "hello")
	writeFile(t, dir, "node_modules/pkg/index.js", "ignored")
	writeFile(t, dir, ".git/HEAD", "ignored")

	m, err := Capture(dir, CaptureOptions{})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if m.FileCount != 1 {
		t.Fatalf("FileCount = %d, want 1; files=%v", m.FileCount, m.Files)
	}
	if m.Files[0].Path != "a.txt" {
		t.Errorf("Files[0].Path = %q, want a.txt", m.Files[0].Path)
	}
}

func TestCaptureHonorsRootGitignore(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".gitignore", "*.log\nbuild\n")
	writeFile(t, dir, "keep.go", "package x")
	writeFile(t, dir, "debug.log", "noise")
	writeFile(t, dir, "build/out.bin", "artifact")

	m, err := Capture(dir, CaptureOptions{})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	var paths []string
	for _, f := range m.Files {
		paths = append(paths, f.Path)
	}
	if strings.Join(paths, ",") != ".gitignore,keep.go" {
		t.Errorf("paths = %v, want [.gitignore keep.go]", paths)
	}
}

func TestCaptureClassifiesBinaryByNulByte(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "blob.dat", "abc\x00def")

	m, err := Capture(dir, CaptureOptions{})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if len(m.Files) != 1 || m.Files[0].Type != types.FileKindBinary {
		t.Fatalf("expected binary classification, got %+v", m.Files)
	}
	if m.Files[0].Content != "" {
		t.Error("binary entry should have no content")
	}
}

func TestCaptureSortsEntriesByPath(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "z.txt", "z")
	writeFile(t, dir, "a.txt", "a")
	writeFile(t, dir, "m.txt", "m")

	m, err := Capture(dir, CaptureOptions{})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	var paths []string
	for _, f := range m.Files {
		paths = append(paths, f.Path)
	}
	if strings.Join(paths, ",") != "a.txt,m.txt,z.txt" {
		t.Errorf("paths = %v, want sorted", paths)
	}
}

func TestCompareDetectsAddedModifiedDeleted(t *testing.T) {
	dirBefore := t.TempDir()
	writeFile(t, dirBefore, "keep.txt", "same")
	writeFile(t, dirBefore, "change.txt", "before")
	writeFile(t, dirBefore, "gone.txt", "bye")

	before, err := Capture(dirBefore, CaptureOptions{})
	if err != nil {
		t.Fatal(err)
	}

	dirAfter := t.TempDir()
	writeFile(t, dirAfter, "keep.txt", "same")
	writeFile(t, dirAfter, "change.txt", "after")
	writeFile(t, dirAfter, "new.txt", "new")

	after, err := Capture(dirAfter, CaptureOptions{})
	if err != nil {
		t.Fatal(err)
	}

	diff := Compare(before, after)

	if len(diff.Added) != 1 || diff.Added[0].Path != "new.txt" {
		t.Errorf("Added = %+v", diff.Added)
	}
	if len(diff.Deleted) != 1 || diff.Deleted[0].Path != "gone.txt" {
		t.Errorf("Deleted = %+v", diff.Deleted)
	}
	if len(diff.Modified) != 1 || diff.Modified[0].Path != "change.txt" {
		t.Errorf("Modified = %+v", diff.Modified)
	}
	if len(diff.Modified[0].DiffLines) == 0 {
		t.Error("expected unified diff lines for small text change")
	}
}

func TestCompareSetsAreDisjoint(t *testing.T) {
	dirBefore := t.TempDir()
	writeFile(t, dirBefore, "a.txt", "1")
	before, err := Capture(dirBefore, CaptureOptions{})
	if err != nil {
		t.Fatal(err)
	}

	dirAfter := t.TempDir()
	writeFile(t, dirAfter, "b.txt", "2")
	after, err := Capture(dirAfter, CaptureOptions{})
	if err != nil {
		t.Fatal(err)
	}

	diff := Compare(before, after)
	seen := map[string]int{}
	for _, fc := range diff.Added {
		seen[fc.Path]++
	}
	for _, fc := range diff.Modified {
		seen[fc.Path]++
	}
	for _, fc := range diff.Deleted {
		seen[fc.Path]++
	}
	for path, count := range seen {
		if count != 1 {
			t.Errorf("path %q appeared in %d change sets, want 1", path, count)
		}
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "hello\nworld\n")
	m, err := Capture(dir, CaptureOptions{})
	if err != nil {
		t.Fatal(err)
	}

	data, err := Marshal(m)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.FileCount != m.FileCount {
		t.Errorf("FileCount = %d, want %d", got.FileCount, m.FileCount)
	}
	if got.Files[0].Content != "hello\nworld\n" {
		t.Errorf("Content = %q, want preserved line endings", got.Files[0].Content)
	}
}
