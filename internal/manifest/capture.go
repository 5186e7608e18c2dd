// Package manifest implements content-addressed directory snapshots and
// change computation (§4.3).
package manifest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/jpsweeney97/phaser/internal/phaserr"
	"github.com/jpsweeney97/phaser/internal/types"
	"github.com/jpsweeney97/phaser/internal/worker"
)

const (
	sniffBytes      = 8 * 1024
	defaultMaxFile  = 10 * 1024 * 1024
	defaultMaxTotal = 100 * 1024 * 1024
)

// BinaryExtensions forces binary classification regardless of decoded
// content (§4.3).
var BinaryExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".ico": true,
	".pdf": true, ".zip": true, ".tar": true, ".gz": true, ".exe": true,
	".dll": true, ".so": true, ".dylib": true, ".woff": true, ".woff2": true,
	".ttf": true, ".eot": true,
}

// DefaultExcludes are directory names always skipped during capture, beyond
// whatever gitignore rules or caller-supplied excludes add.
var DefaultExcludes = []string{".git", "node_modules", "__pycache__", ".venv", ".audit", ".phaser"}

// CaptureOptions tunes a capture run.
type CaptureOptions struct {
	// Excludes are additional gitignore-style glob patterns to skip.
	Excludes []string
	// MaxFileBytes is the per-file size above which content is skipped (the
	// entry is still recorded with its size and SHA-256 hash).
	MaxFileBytes int64
	// MaxTotalBytes aborts capture once the running total would exceed it.
	MaxTotalBytes int64
	// Concurrency bounds the number of parallel hashing workers; 0 = NumCPU.
	Concurrency int
}

func (o CaptureOptions) maxFile() int64 {
	if o.MaxFileBytes > 0 {
		return o.MaxFileBytes
	}
	return defaultMaxFile
}

func (o CaptureOptions) maxTotal() int64 {
	if o.MaxTotalBytes > 0 {
		return o.MaxTotalBytes
	}
	return defaultMaxTotal
}

// Capture walks root and produces a deterministic Manifest (§4.3 Capture
// algorithm). Entries are sorted by path; hashing is parallelized via
// internal/worker.
func Capture(root string, opts CaptureOptions) (*types.Manifest, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, phaserr.Wrap(phaserr.Resource, err)
	}

	excludes := append(append([]string{}, DefaultExcludes...), opts.Excludes...)
	excludes = append(excludes, gitignorePatterns(absRoot)...)

	var paths []string
	walkErr := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // broken symlinks / transient errors are skipped with a warning-equivalent omission
		}
		rel, relErr := filepath.Rel(absRoot, path)
		if relErr != nil {
			return nil
		}
		if rel == "." {
			return nil
		}
		if d.IsDir() {
			if isExcludedDir(rel, excludes) {
				return filepath.SkipDir
			}
			return nil
		}
		if isExcluded(rel, excludes) {
			return nil
		}
		paths = append(paths, rel)
		return nil
	})
	if walkErr != nil {
		return nil, phaserr.Wrap(phaserr.Resource, walkErr)
	}
	sort.Strings(paths)

	pool := worker.NewPool[types.FileEntry](opts.Concurrency)
	results := pool.Process(paths, func(rel string) (types.FileEntry, error) {
		return captureFile(absRoot, rel, opts.maxFile())
	})

	entries := make([]types.FileEntry, 0, len(results))
	var total int64
	for _, r := range results {
		if r.Err != nil {
			continue // unreadable files are recorded by captureFile itself, not surfaced as Err
		}
		entries = append(entries, r.Value)
		total += r.Value.Size
		if total > opts.maxTotal() {
			return nil, phaserr.New(phaserr.Resource, "manifest capture aborted: total size exceeds %d bytes", opts.maxTotal())
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	return &types.Manifest{
		Root:           absRoot,
		Timestamp:      time.Now().UTC(),
		FileCount:      len(entries),
		TotalSizeBytes: total,
		Files:          entries,
	}, nil
}

func captureFile(root, rel string, maxFile int64) (types.FileEntry, error) {
	full := filepath.Join(root, rel)
	info, err := os.Lstat(full)
	if err != nil {
		return types.FileEntry{Path: rel, Unreadable: true}, nil
	}
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Stat(full)
		if err != nil {
			return types.FileEntry{Path: rel, Unreadable: true}, nil
		}
		info = target
	}

	entry := types.FileEntry{
		Path:         rel,
		Size:         info.Size(),
		IsExecutable: info.Mode()&0o111 != 0,
	}

	data, err := os.ReadFile(full)
	if err != nil {
		entry.Unreadable = true
		return entry, nil
	}

	hash := sha256.Sum256(data)
	hexHash := hex.EncodeToString(hash[:])
	entry.SHA256 = &hexHash

	if info.Size() > maxFile {
		entry.Type = classifyByExtOrSniff(rel, data)
		return entry, nil
	}

	entry.Type = classify(rel, data)
	if entry.Type == types.FileKindText {
		entry.Content = string(data)
	}
	return entry, nil
}

// gitignorePatterns reads the root .gitignore and returns its plain ignore
// patterns as doublestar globs. Negations and nested .gitignore files are not
// honored; the capture exclude set is advisory, not a git reimplementation.
func gitignorePatterns(root string) []string {
	data, err := os.ReadFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		return nil
	}
	var patterns []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		line = strings.TrimSuffix(line, "/")
		if strings.HasPrefix(line, "/") {
			patterns = append(patterns, strings.TrimPrefix(line, "/"))
		} else {
			patterns = append(patterns, line, "**/"+line)
		}
	}
	return patterns
}

func classifyByExtOrSniff(rel string, data []byte) types.FileKind {
	if BinaryExtensions[strings.ToLower(filepath.Ext(rel))] {
		return types.FileKindBinary
	}
	sniff := data
	if len(sniff) > sniffBytes {
		sniff = sniff[:sniffBytes]
	}
	if bytes.IndexByte(sniff, 0) >= 0 {
		return types.FileKindBinary
	}
	return types.FileKindText
}

// classify implements §4.3 step 3: NUL-byte sniff + extension allow-list,
// falling back to UTF-8 decode validity.
func classify(rel string, data []byte) types.FileKind {
	if BinaryExtensions[strings.ToLower(filepath.Ext(rel))] {
		return types.FileKindBinary
	}
	sniff := data
	if len(sniff) > sniffBytes {
		sniff = sniff[:sniffBytes]
	}
	if bytes.IndexByte(sniff, 0) >= 0 {
		return types.FileKindBinary
	}
	if !utf8.Valid(data) {
		return types.FileKindBinary
	}
	return types.FileKindText
}

func isExcludedDir(rel string, excludes []string) bool {
	base := filepath.Base(rel)
	for _, ex := range excludes {
		if !strings.ContainsAny(ex, "*?[") && base == ex {
			return true
		}
		if ok, _ := doublestar.Match(ex, rel); ok {
			return true
		}
	}
	return false
}

func isExcluded(rel string, excludes []string) bool {
	for _, ex := range excludes {
		if ok, _ := doublestar.Match(ex, rel); ok {
			return true
		}
		if ok, _ := doublestar.Match(ex+"/**", rel); ok {
			return true
		}
	}
	return false
}
