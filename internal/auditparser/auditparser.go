// Package auditparser parses an audit Markdown document into an ordered
// phase graph (§4.4), robust to nested code fences.
package auditparser

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jpsweeney97/phaser/internal/types"
)

var (
	fenceRe      = regexp.MustCompile(`^\s*(` + "```" + `|~~~)`)
	phaseHeadRe  = regexp.MustCompile(`^#{2,3}\s*Phase\s+(\d+)\s*:\s*(.+?)\s*$`)
	h3Re         = regexp.MustCompile(`^###\s+(.+?)\s*$`)
	bulletRe     = regexp.MustCompile(`^\s*[-*]\s+(.*)$`)
	fileItemRe   = regexp.MustCompile("^(Create|Modify|Delete|Rename)\\s+`([^`]+)`\\s*(?::\\s*(.*))?$")
)

// ParseResult is the parser's output: the phase list plus any warnings
// collected along the way (§4.4 Failure semantics).
type ParseResult struct {
	Phases   []types.Phase
	Warnings []string
}

// Parse scans doc and returns an ordered list of Phase entities with stable
// IDs `phase-N`. Malformed or missing sections never abort parsing; they are
// recorded as warnings on the affected phase, or on the whole document for
// document-level issues such as an unterminated fence.
func Parse(doc string) *ParseResult {
	lines := splitLines(doc)
	inFence := false
	fenceCount := 0

	var headers []int // line index of each recognized phase header
	for i, line := range lines {
		if fenceRe.MatchString(line) {
			inFence = !inFence
			fenceCount++
			continue
		}
		if inFence {
			continue
		}
		if phaseHeadRe.MatchString(line) {
			headers = append(headers, i)
		}
	}

	result := &ParseResult{}
	if fenceCount%2 != 0 {
		result.Warnings = append(result.Warnings, "unterminated code fence: document may be truncated")
	}

	for idx, startLine := range headers {
		endLine := len(lines)
		if idx+1 < len(headers) {
			endLine = headers[idx+1]
		}
		phase := parsePhaseBlock(lines[startLine:endLine])
		result.Phases = append(result.Phases, phase)
	}

	return result
}

func splitLines(doc string) []string {
	doc = strings.ReplaceAll(doc, "\r\n", "\n")
	return strings.Split(doc, "\n")
}

func parsePhaseBlock(lines []string) types.Phase {
	header := phaseHeadRe.FindStringSubmatch(lines[0])
	num, _ := strconv.Atoi(header[1])
	phase := types.Phase{
		ID:     fmt.Sprintf("phase-%d", num),
		Number: num,
		Title:  header[2],
		Status: types.PhaseStatusPending,
	}

	sections := splitSections(lines[1:])

	phase.Context = firstParagraph(sections["Context"])
	phase.Goal = firstParagraph(sections["Goal"])
	phase.Files = parseFiles(sections["Files"])
	phase.Plan = bulletList(sections["Plan"])
	phase.Verification = bulletList(sections["Verification"])
	phase.AcceptanceCriteria = bulletList(sections["Acceptance Criteria"])
	phase.Rollback = bulletList(sections["Rollback"])

	if len(sections["Files"]) == 0 {
		phase.ParseWarnings = append(phase.ParseWarnings, fmt.Sprintf("phase-%d: missing Files section", num))
	}
	if phase.Goal == "" {
		phase.ParseWarnings = append(phase.ParseWarnings, fmt.Sprintf("phase-%d: missing Goal section", num))
	}

	return phase
}

// splitSections groups the lines of a phase body under each H3 heading. It
// tracks fence state itself, so an H3 line inside a fenced code block does
// not start a new section.
func splitSections(lines []string) map[string][]string {
	sections := map[string][]string{}
	current := ""
	inFence := false
	for _, line := range lines {
		if fenceRe.MatchString(line) {
			inFence = !inFence
			sections[current] = append(sections[current], line)
			continue
		}
		if !inFence {
			if m := h3Re.FindStringSubmatch(line); m != nil {
				current = m[1]
				if _, ok := sections[current]; !ok {
					sections[current] = nil
				}
				continue
			}
		}
		if current != "" {
			sections[current] = append(sections[current], line)
		}
	}
	return sections
}

func firstParagraph(lines []string) string {
	var para []string
	started := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if started {
				break
			}
			continue
		}
		if bulletRe.MatchString(line) {
			break
		}
		started = true
		para = append(para, trimmed)
	}
	return strings.Join(para, " ")
}

func bulletList(lines []string) []string {
	var out []string
	for _, line := range lines {
		if m := bulletRe.FindStringSubmatch(line); m != nil {
			item := strings.TrimSpace(m[1])
			if item != "" {
				out = append(out, item)
			}
		}
	}
	return out
}

func parseFiles(lines []string) []types.FileChangeIntent {
	var out []types.FileChangeIntent
	for _, line := range lines {
		m := bulletRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		item := strings.TrimSpace(m[1])
		fm := fileItemRe.FindStringSubmatch(item)
		if fm == nil {
			continue
		}
		out = append(out, types.FileChangeIntent{
			Path:        fm[2],
			Action:      actionFromKeyword(fm[1]),
			Description: strings.TrimSpace(fm[3]),
		})
	}
	return out
}

func actionFromKeyword(kw string) types.Action {
	switch kw {
	case "Create":
		return types.ActionCreate
	case "Modify":
		return types.ActionModify
	case "Delete":
		return types.ActionDelete
	case "Rename":
		return types.ActionRename
	default:
		return types.ActionModify
	}
}

// ScanReader is a convenience wrapper for Parse over an io.Reader-backed
// scanner, preserved for callers streaming a document from disk.
func ScanReader(scanner *bufio.Scanner) *ParseResult {
	var b strings.Builder
	for scanner.Scan() {
		b.WriteString(scanner.Text())
		b.WriteByte('\n')
	}
	return Parse(b.String())
}
