// Package reverseaudit infers an audit-shaped document from a git commit
// range, grouping commits into phases by one of four strategies (§4.12).
package reverseaudit

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jpsweeney97/phaser/internal/phaserr"
	"github.com/jpsweeney97/phaser/internal/types"
	"github.com/jpsweeney97/phaser/internal/worker"
)

const (
	gitTimeout       = 60 * time.Second
	defaultMaxPhases = 20
)

// ChangeType mirrors git's per-file status letters (§4.12 Commit parsing).
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeDeleted  ChangeType = "deleted"
	ChangeRenamed  ChangeType = "renamed"
)

// FileStat is one file touched by a commit.
type FileStat struct {
	Path        string
	ChangeType  ChangeType
	Insertions  int
	Deletions   int
	OldPath     string
}

// Commit is one parsed commit in the range (§4.12 Commit parsing).
type Commit struct {
	Hash      string
	ShortHash string
	Author    string
	Date      time.Time
	Message   string
	Files     []FileStat
	IsMerge   bool
}

// Reader runs git subprocesses against root.
type Reader struct {
	root string
}

// New returns a Reader for a git working tree at root.
func New(root string) *Reader {
	return &Reader{root: root}
}

func (r *Reader) git(args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), gitTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.root
	out, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return "", phaserr.New(phaserr.Resource, "git %s timed out", strings.Join(args, " "))
	}
	if err != nil {
		return string(out), phaserr.New(phaserr.Resource, "git %s: %v: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// Diff returns the unified diff for commitRange (§6.3 `reverse diff`).
func (r *Reader) Diff(commitRange string) (string, error) {
	return r.git("diff", commitRange)
}

const logFormat = "%H%x01%h%x01%an%x01%aI%x01%s%x02"

// CommitHashes returns the commit hashes in commitRange, oldest first,
// excluding merge commits by default (§4.12 Input).
func (r *Reader) CommitHashes(commitRange string, includeMerges bool) ([]string, error) {
	args := []string{"log", "--reverse", "--format=%H"}
	if !includeMerges {
		args = append(args, "--no-merges")
	}
	args = append(args, commitRange)
	out, err := r.git(args...)
	if err != nil {
		return nil, err
	}
	var hashes []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line != "" {
			hashes = append(hashes, line)
		}
	}
	return hashes, nil
}

// ParseCommits fans out a `git show` per hash across a worker pool and
// returns parsed Commit records in input order (§4.12, §5 "parallel git
// subprocess spawns").
func (r *Reader) ParseCommits(hashes []string, concurrency int) ([]Commit, error) {
	pool := worker.NewPool[Commit](concurrency)
	results := pool.Process(hashes, func(hash string) (Commit, error) {
		return r.showCommit(hash)
	})

	out := make([]Commit, 0, len(results))
	for _, res := range results {
		if res.Err != nil {
			return nil, res.Err
		}
		out = append(out, res.Value)
	}
	return out, nil
}

func (r *Reader) showCommit(hash string) (Commit, error) {
	meta, err := r.git("show", "-s", "--format="+logFormat, hash)
	if err != nil {
		return Commit{}, err
	}
	fields := strings.Split(strings.TrimRight(meta, "\x02\n"), "\x01")
	if len(fields) < 5 {
		return Commit{}, phaserr.New(phaserr.Internal, "malformed git show output for %s", hash)
	}
	date, _ := time.Parse(time.RFC3339, fields[3])

	statOut, err := r.git("show", "--numstat", "--find-renames", "--format=", hash)
	if err != nil {
		return Commit{}, err
	}

	return Commit{
		Hash:      fields[0],
		ShortHash: fields[1],
		Author:    fields[2],
		Date:      date,
		Message:   fields[4],
		Files:     parseNumstat(statOut),
	}, nil
}

func parseNumstat(out string) []FileStat {
	var files []FileStat
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) != 3 {
			continue
		}
		ins, del := parseNumstatCount(parts[0]), parseNumstatCount(parts[1])
		path := parts[2]

		stat := FileStat{Insertions: ins, Deletions: del, ChangeType: ChangeModified}
		if strings.Contains(path, "=>") {
			oldPath, newPath := splitRename(path)
			stat.ChangeType = ChangeRenamed
			stat.OldPath = oldPath
			stat.Path = newPath
		} else {
			stat.Path = path
		}
		files = append(files, stat)
	}
	return files
}

func parseNumstatCount(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0 // binary files show "-"; line counts are zero (§4.12 Bounds)
	}
	return n
}

// splitRename parses numstat's "old{dir => new}base" or "old => new" forms.
func splitRename(path string) (string, string) {
	if i := strings.Index(path, "{"); i >= 0 {
		if j := strings.Index(path, "}"); j > i {
			prefix := path[:i]
			suffix := path[j+1:]
			inner := path[i+1 : j]
			parts := strings.SplitN(inner, " => ", 2)
			if len(parts) == 2 {
				return prefix + parts[0] + suffix, prefix + parts[1] + suffix
			}
		}
	}
	parts := strings.SplitN(path, " => ", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return path, path
}

// RefineChangeTypes upgrades ChangeModified entries to added/deleted using
// `git show --name-status`, since --numstat alone cannot distinguish them.
func (r *Reader) RefineChangeTypes(commits []Commit) ([]Commit, error) {
	for i := range commits {
		statusOut, err := r.git("show", "--name-status", "--find-renames", "--format=", commits[i].Hash)
		if err != nil {
			return nil, err
		}
		statusByPath := map[string]ChangeType{}
		for _, line := range strings.Split(strings.TrimSpace(statusOut), "\n") {
			fields := strings.Fields(line)
			if len(fields) < 2 {
				continue
			}
			switch {
			case strings.HasPrefix(fields[0], "A"):
				statusByPath[fields[len(fields)-1]] = ChangeAdded
			case strings.HasPrefix(fields[0], "D"):
				statusByPath[fields[len(fields)-1]] = ChangeDeleted
			case strings.HasPrefix(fields[0], "R"):
				statusByPath[fields[len(fields)-1]] = ChangeRenamed
			case strings.HasPrefix(fields[0], "M"):
				statusByPath[fields[len(fields)-1]] = ChangeModified
			}
		}
		for j, f := range commits[i].Files {
			if ct, ok := statusByPath[f.Path]; ok {
				commits[i].Files[j].ChangeType = ct
			}
		}
	}
	return commits, nil
}

// Strategy is one of the four grouping strategies (§4.12).
type Strategy string

const (
	StrategyCommits     Strategy = "commits"
	StrategyDirectories Strategy = "directories"
	StrategyFiletypes   Strategy = "filetypes"
	StrategySemantic    Strategy = "semantic"
)

var conventionalRe = regexp.MustCompile(`^(feat|fix|docs|style|refactor|test|chore)(\([^)]*\))?!?:\s*(.+)$`)

var semanticOrder = []string{"feat", "fix", "refactor", "test", "docs", "chore", "other"}

var fixKeywords = regexp.MustCompile(`(?i)\b(fix|bug|patch|hotfix)\b`)
var choreKeywords = regexp.MustCompile(`(?i)\b(chore|bump|deps|dependency)\b`)

// Group buckets commits into phases per strategy, bounded by maxPhases
// (§4.12 Grouping strategies, Bounds).
func Group(commits []Commit, strategy Strategy, maxPhases int) []types.Phase {
	if maxPhases <= 0 {
		maxPhases = defaultMaxPhases
	}

	var groups []group
	switch strategy {
	case StrategyDirectories:
		groups = groupByDirectory(commits)
	case StrategyFiletypes:
		groups = groupByFiletype(commits)
	case StrategySemantic:
		groups = groupBySemantic(commits)
	default:
		groups = groupByCommit(commits)
	}

	if len(groups) > maxPhases {
		groups = groups[:maxPhases]
	}

	phases := make([]types.Phase, 0, len(groups))
	for i, g := range groups {
		phases = append(phases, toPhase(i+1, g))
	}
	return phases
}

type group struct {
	key     string
	commits []Commit
}

func groupByCommit(commits []Commit) []group {
	groups := make([]group, 0, len(commits))
	for _, c := range commits {
		groups = append(groups, group{key: c.ShortHash, commits: []Commit{c}})
	}
	return groups
}

func groupByDirectory(commits []Commit) []group {
	byDir := map[string][]Commit{}
	order := []string{}
	for _, c := range commits {
		for _, top := range topLevelDirs(c) {
			if _, ok := byDir[top]; !ok {
				order = append(order, top)
			}
			byDir[top] = appendIfAbsent(byDir[top], c)
		}
	}
	return sortGroupsByFileCountDesc(byDir, order)
}

func topLevelDirs(c Commit) []string {
	seen := map[string]bool{}
	var out []string
	for _, f := range c.Files {
		top := f.Path
		if i := strings.Index(f.Path, "/"); i >= 0 {
			top = f.Path[:i]
		}
		if !seen[top] {
			seen[top] = true
			out = append(out, top)
		}
	}
	return out
}

func groupByFiletype(commits []Commit) []group {
	byExt := map[string][]Commit{}
	order := []string{}
	for _, c := range commits {
		exts := map[string]bool{}
		for _, f := range c.Files {
			ext := fileExt(f.Path)
			exts[ext] = true
		}
		for ext := range exts {
			if _, ok := byExt[ext]; !ok {
				order = append(order, ext)
			}
			byExt[ext] = appendIfAbsent(byExt[ext], c)
		}
	}
	return sortGroupsByFileCountDesc(byExt, order)
}

func fileExt(path string) string {
	i := strings.LastIndex(path, ".")
	if i < 0 {
		return "(no extension)"
	}
	return path[i:]
}

func sortGroupsByFileCountDesc(byKey map[string][]Commit, order []string) []group {
	groups := make([]group, 0, len(byKey))
	for _, k := range order {
		groups = append(groups, group{key: k, commits: byKey[k]})
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return fileCount(groups[i].commits) > fileCount(groups[j].commits)
	})
	return groups
}

func fileCount(commits []Commit) int {
	n := 0
	for _, c := range commits {
		n += len(c.Files)
	}
	return n
}

func appendIfAbsent(list []Commit, c Commit) []Commit {
	for _, x := range list {
		if x.Hash == c.Hash {
			return list
		}
	}
	return append(list, c)
}

func groupBySemantic(commits []Commit) []group {
	byType := map[string][]Commit{}
	for _, c := range commits {
		t := semanticType(c.Message)
		byType[t] = append(byType[t], c)
	}
	var groups []group
	for _, t := range semanticOrder {
		if cs, ok := byType[t]; ok {
			groups = append(groups, group{key: t, commits: cs})
		}
	}
	return groups
}

func semanticType(message string) string {
	first := strings.SplitN(message, "\n", 2)[0]
	if m := conventionalRe.FindStringSubmatch(first); m != nil {
		return m[1]
	}
	switch {
	case fixKeywords.MatchString(first):
		return "fix"
	case choreKeywords.MatchString(first):
		return "chore"
	default:
		return "other"
	}
}

// Category classifies a group for title inference (§4.12 Category inference).
func category(g group) string {
	allPaths := func(pred func(string) bool) bool {
		any := false
		for _, c := range g.commits {
			for _, f := range c.Files {
				any = true
				if !pred(f.Path) {
					return false
				}
			}
		}
		return any
	}

	if allPaths(func(p string) bool { return strings.Contains(p, "test") || strings.HasSuffix(p, "_test.go") }) {
		return "test"
	}
	if allPaths(func(p string) bool {
		return strings.HasSuffix(p, ".md") || strings.Contains(p, "docs/")
	}) {
		return "docs"
	}
	for _, c := range g.commits {
		if fixKeywords.MatchString(c.Message) {
			return "fix"
		}
	}
	if allPaths(func(p string) bool {
		return isConfigPath(p)
	}) {
		return "chore"
	}
	for _, c := range g.commits {
		if choreKeywords.MatchString(c.Message) {
			return "chore"
		}
	}

	added, deleted := 0, 0
	for _, c := range g.commits {
		for _, f := range c.Files {
			switch f.ChangeType {
			case ChangeAdded:
				added++
			case ChangeDeleted:
				deleted++
			}
		}
	}
	total := added + deleted
	if total > 0 && deleted*2 > total {
		return "refactor"
	}
	return "feature"
}

func isConfigPath(p string) bool {
	base := p
	if i := strings.LastIndex(p, "/"); i >= 0 {
		base = p[i+1:]
	}
	switch base {
	case "package.json", "package-lock.json", "go.mod", "go.sum", "Cargo.toml", "Cargo.lock", "requirements.txt", "Gemfile", "Gemfile.lock":
		return true
	}
	return strings.HasSuffix(base, ".config.js") || strings.HasSuffix(base, ".yml") || strings.HasSuffix(base, ".yaml")
}

var conventionalPrefixRe = regexp.MustCompile(`^(feat|fix|docs|style|refactor|test|chore)(\([^)]*\))?!?:\s*`)

func title(g group) string {
	cat := category(g)
	if len(g.commits) == 1 {
		subject := strings.SplitN(g.commits[0].Message, "\n", 2)[0]
		subject = conventionalPrefixRe.ReplaceAllString(subject, "")
		return capitalize(strings.TrimSpace(subject))
	}
	words := topWords(g.commits)
	if len(words) == 0 {
		return capitalize(cat)
	}
	return fmt.Sprintf("%s: %s", capitalize(cat), strings.Join(words, " "))
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "to": true, "for": true, "of": true,
	"and": true, "in": true, "on": true, "with": true, "is": true, "it": true,
}

func topWords(commits []Commit) []string {
	counts := map[string]int{}
	var order []string
	for _, c := range commits {
		subject := strings.SplitN(c.Message, "\n", 2)[0]
		subject = conventionalPrefixRe.ReplaceAllString(subject, "")
		for _, w := range strings.Fields(subject) {
			w = strings.ToLower(strings.Trim(w, ".,:;!?()"))
			if w == "" || stopWords[w] || len(w) < 3 {
				continue
			}
			if counts[w] == 0 {
				order = append(order, w)
			}
			counts[w]++
		}
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if len(order) > 4 {
		order = order[:4]
	}
	return order
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	if r[0] >= 'a' && r[0] <= 'z' {
		r[0] -= 'a' - 'A'
	}
	return string(r)
}

func toPhase(number int, g group) types.Phase {
	intents := fileIntents(g.commits)
	return types.Phase{
		ID:      fmt.Sprintf("phase-%d", number),
		Number:  number,
		Title:   title(g),
		Context: fmt.Sprintf("Inferred from %d commit(s): %s", len(g.commits), commitHashList(g.commits)),
		Goal:    fmt.Sprintf("%s changes: %s", capitalize(category(g)), commitSubjects(g.commits)),
		Files:   intents,
		Status:  types.PhaseStatusCompleted,
	}
}

func fileIntents(commits []Commit) []types.FileChangeIntent {
	seen := map[string]types.FileChangeIntent{}
	var order []string
	for _, c := range commits {
		for _, f := range c.Files {
			if _, ok := seen[f.Path]; !ok {
				order = append(order, f.Path)
			}
			seen[f.Path] = types.FileChangeIntent{
				Path:    f.Path,
				Action:  actionFor(f.ChangeType),
				OldPath: f.OldPath,
			}
		}
	}
	out := make([]types.FileChangeIntent, 0, len(order))
	for _, p := range order {
		out = append(out, seen[p])
	}
	return out
}

func actionFor(ct ChangeType) types.Action {
	switch ct {
	case ChangeAdded:
		return types.ActionCreate
	case ChangeDeleted:
		return types.ActionDelete
	case ChangeRenamed:
		return types.ActionRename
	default:
		return types.ActionModify
	}
}

func commitHashList(commits []Commit) string {
	var hashes []string
	for _, c := range commits {
		hashes = append(hashes, c.ShortHash)
	}
	return strings.Join(hashes, ", ")
}

func commitSubjects(commits []Commit) string {
	var subjects []string
	for _, c := range commits {
		subjects = append(subjects, strings.SplitN(c.Message, "\n", 2)[0])
	}
	return strings.Join(subjects, "; ")
}
