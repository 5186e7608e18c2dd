// Package ignoreparser recognizes per-line ignore directives embedded in
// proposed file content, scoped by the file's comment style (§4.9).
package ignoreparser

import (
	"path/filepath"
	"regexp"
	"strings"
)

// commentStyle selects where the directive regex looks for its marker.
type commentStyle struct {
	re *regexp.Regexp
}

var (
	hashStyle      = commentStyle{re: regexp.MustCompile(`#\s*phaser:(ignore-next-line|ignore-all|ignore)\b\s*(.*)$`)}
	slashStyle     = commentStyle{re: regexp.MustCompile(`//\s*phaser:(ignore-next-line|ignore-all|ignore)\b\s*(.*)$`)}
	htmlStyle      = commentStyle{re: regexp.MustCompile(`<!--\s*phaser:(ignore-next-line|ignore-all|ignore)\b\s*(.*?)\s*-->`)}
	blockStyle     = commentStyle{re: regexp.MustCompile(`/\*\s*phaser:(ignore-next-line|ignore-all|ignore)\b\s*(.*?)\s*\*/`)}
)

var extensionStyles = map[string]commentStyle{
	".py": hashStyle, ".rb": hashStyle, ".sh": hashStyle,
	".yaml": hashStyle, ".yml": hashStyle, ".toml": hashStyle,

	".js": slashStyle, ".ts": slashStyle, ".jsx": slashStyle, ".tsx": slashStyle,
	".swift": slashStyle, ".go": slashStyle, ".rs": slashStyle, ".c": slashStyle,
	".cpp": slashStyle, ".java": slashStyle, ".kt": slashStyle, ".cs": slashStyle,

	".html": htmlStyle, ".xml": htmlStyle, ".vue": htmlStyle, ".svelte": htmlStyle,

	".css": blockStyle, ".scss": blockStyle, ".less": blockStyle,
}

// directive is one parsed ignore marker: the line it appears on, its kind,
// and the (possibly empty) set of rule IDs it covers.
type directive struct {
	line    int // 1-indexed
	kind    string
	ruleIDs map[string]bool // empty/nil means "all rules"
}

func (d directive) covers(ruleID string) bool {
	if d.kind == "ignore-all" {
		return true
	}
	if len(d.ruleIDs) == 0 {
		return true
	}
	return d.ruleIDs[ruleID]
}

// StyleFor returns the comment style for ext (including the leading dot), or
// ok=false if the extension has no ignore support (§4.9 table).
func StyleFor(ext string) (commentStyle, bool) {
	s, ok := extensionStyles[strings.ToLower(ext)]
	return s, ok
}

// parseDirectives parses all ignore directives out of content for the comment
// style matching path's extension. Returns nil if the extension has no
// ignore support.
func parseDirectives(path, content string) []directive {
	style, ok := StyleFor(filepath.Ext(path))
	if !ok {
		return nil
	}

	var out []directive
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		m := style.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		kind := "ignore"
		switch m[1] {
		case "ignore-next-line":
			kind = "ignore-next-line"
		case "ignore-all":
			kind = "ignore-all"
		}
		out = append(out, directive{
			line:    i + 1,
			kind:    kind,
			ruleIDs: parseRuleList(m[2]),
		})
	}
	return out
}

func parseRuleList(s string) map[string]bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	out := map[string]bool{}
	for _, part := range strings.Split(s, ",") {
		id := strings.TrimSpace(part)
		if id != "" {
			out[id] = true
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Suppressed reports whether a violation for ruleID on lineNumber of path's
// proposed content is suppressed by an ignore/ignore-next-line/ignore-all
// directive (§4.9 Matching). Directives are parsed from content itself, never
// from disk.
func Suppressed(path, content string, ruleID string, lineNumber int) bool {
	for _, d := range parseDirectives(path, content) {
		switch d.kind {
		case "ignore", "ignore-all":
			if d.line == lineNumber && d.covers(ruleID) {
				return true
			}
		case "ignore-next-line":
			if d.line == lineNumber-1 && d.covers(ruleID) {
				return true
			}
		}
	}
	return false
}
