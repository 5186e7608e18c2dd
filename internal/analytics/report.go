// Package analytics parses post-execution reports, stores per-run records, and
// answers aggregation queries over execution history (§4.13).
package analytics

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jpsweeney97/phaser/internal/phaserr"
	"github.com/jpsweeney97/phaser/internal/types"
)

var (
	sectionRe    = regexp.MustCompile(`^##\s+(.+)$`)
	metadataRowRe = regexp.MustCompile(`^\|\s*([^|]+?)\s*\|\s*([^|]+?)\s*\|\s*$`)
	phaseRowRe   = regexp.MustCompile(`^\|\s*(\d+)\s*\|\s*(.+?)\s*\|\s*(✅|⚠️|❌)\s*\|\s*([0-9a-fA-F]*)\s*\|\s*$`)
	baselineRe   = regexp.MustCompile(`\*\*Baseline:\*\*\s*(\d+)`)
	finalRe      = regexp.MustCompile(`\*\*Final:\*\*\s*(\d+)`)
)

// ParseReport extracts an ExecutionRecord from an execution report's Markdown
// body (§4.13 Import, §6.1 Execution report). reportPath is recorded verbatim
// as ReportPath.
func ParseReport(content, reportPath string) (*types.ExecutionRecord, error) {
	lines := strings.Split(content, "\n")

	sections, err := splitSections(lines)
	if err != nil {
		return nil, err
	}

	metaLines, ok := sections["Metadata"]
	if !ok {
		return nil, phaserr.New(phaserr.Validation, "execution report missing required section: Metadata")
	}
	summaryLines, ok := sections["Execution Summary"]
	if !ok {
		return nil, phaserr.New(phaserr.Validation, "execution report missing required section: Execution Summary")
	}
	testLines, ok := sections["Test Results"]
	if !ok {
		return nil, phaserr.New(phaserr.Validation, "execution report missing required section: Test Results")
	}

	meta, unknown := parseMetadata(metaLines)
	phases, err := parsePhaseTable(summaryLines)
	if err != nil {
		return nil, err
	}
	baseline, final, err := parseTestResults(testLines)
	if err != nil {
		return nil, err
	}

	rec := &types.ExecutionRecord{
		ReportPath:    reportPath,
		SchemaVersion: "1.0",
		BaselineTests: baseline,
		FinalTests:    final,
		Phases:        phases,
	}

	applyMetadata(rec, meta)
	rec.PhasesPlanned = len(phases)
	rec.PhasesCompleted = countByStatus(phases, "completed")
	if len(unknown) > 0 {
		rec.Metadata = unknown
	}

	return rec, nil
}

// splitSections groups lines under "##" headers, keyed by header text with
// leading/trailing whitespace trimmed. Returns a parse error naming the
// offending 1-indexed line if a "##" header repeats (ambiguous report).
func splitSections(lines []string) (map[string][]string, error) {
	sections := map[string][]string{}
	current := ""
	for i, line := range lines {
		if m := sectionRe.FindStringSubmatch(line); m != nil {
			current = strings.TrimSpace(m[1])
			if _, exists := sections[current]; exists {
				return nil, phaserr.New(phaserr.Validation, "duplicate section %q at line %d", current, i+1)
			}
			sections[current] = nil
			continue
		}
		if current != "" {
			sections[current] = append(sections[current], line)
		}
	}
	return sections, nil
}

func parseMetadata(lines []string) (map[string]string, map[string]string) {
	meta := map[string]string{}
	unknown := map[string]string{}
	knownKeys := map[string]bool{
		"execution_id": true, "audit_document": true, "document_title": true,
		"project_name": true, "project_path": true, "branch": true,
		"started_at": true, "completed_at": true, "phaser_version": true,
		"status": true, "base_commit": true, "final_commit": true,
		"commit_count": true, "files_changed": true,
	}
	for _, line := range lines {
		m := metadataRowRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(m[1]))
		val := strings.TrimSpace(m[2])
		if key == "" || strings.Trim(key, "-") == "" {
			continue // header separator row
		}
		key = strings.ReplaceAll(key, " ", "_")
		if knownKeys[key] {
			meta[key] = val
		} else {
			unknown[key] = val
		}
	}
	return meta, unknown
}

func applyMetadata(rec *types.ExecutionRecord, meta map[string]string) {
	rec.ExecutionID = meta["execution_id"]
	rec.AuditDocument = meta["audit_document"]
	rec.DocumentTitle = meta["document_title"]
	rec.ProjectName = meta["project_name"]
	rec.ProjectPath = meta["project_path"]
	rec.Branch = meta["branch"]
	rec.PhaserVersion = meta["phaser_version"]
	rec.BaseCommit = meta["base_commit"]
	rec.FinalCommit = meta["final_commit"]

	if t, err := time.Parse(time.RFC3339, meta["started_at"]); err == nil {
		rec.StartedAt = t
	}
	if t, err := time.Parse(time.RFC3339, meta["completed_at"]); err == nil {
		rec.CompletedAt = t
	}
	switch types.ExecutionStatus(strings.ToLower(meta["status"])) {
	case types.ExecutionSuccess, types.ExecutionPartial, types.ExecutionFailed:
		rec.Status = types.ExecutionStatus(strings.ToLower(meta["status"]))
	default:
		rec.Status = types.ExecutionPartial
	}
	if n, err := strconv.Atoi(meta["commit_count"]); err == nil {
		rec.CommitCount = n
	}
	if n, err := strconv.Atoi(meta["files_changed"]); err == nil {
		rec.FilesChanged = n
	}
}

func parsePhaseTable(lines []string) ([]types.PhaseRecord, error) {
	var phases []types.PhaseRecord
	for i, line := range lines {
		m := phaseRowRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		num, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, phaserr.New(phaserr.Validation, "bad phase number at line %d: %v", i+1, err)
		}
		phases = append(phases, types.PhaseRecord{
			Number:    num,
			Title:     m[2],
			Status:    statusFromSymbol(m[3]),
			CommitSHA: m[4],
		})
	}
	return phases, nil
}

func statusFromSymbol(symbol string) string {
	switch symbol {
	case "✅":
		return "completed"
	case "⚠️":
		return "skipped"
	case "❌":
		return "failed"
	default:
		return "unknown"
	}
}

func countByStatus(phases []types.PhaseRecord, status string) int {
	n := 0
	for _, p := range phases {
		if p.Status == status {
			n++
		}
	}
	return n
}

func parseTestResults(lines []string) (baseline, final int, err error) {
	joined := strings.Join(lines, "\n")
	bm := baselineRe.FindStringSubmatch(joined)
	fm := finalRe.FindStringSubmatch(joined)
	if bm == nil || fm == nil {
		return 0, 0, phaserr.New(phaserr.Validation, "Test Results section missing Baseline/Final lines")
	}
	baseline, err = strconv.Atoi(bm[1])
	if err != nil {
		return 0, 0, phaserr.New(phaserr.Validation, "bad baseline test count: %v", err)
	}
	final, err = strconv.Atoi(fm[1])
	if err != nil {
		return 0, 0, phaserr.New(phaserr.Validation, "bad final test count: %v", err)
	}
	return baseline, final, nil
}

// renderStatusSymbol is the inverse of statusFromSymbol, used by export.
func renderStatusSymbol(status string) string {
	switch status {
	case "completed":
		return "✅"
	case "skipped":
		return "⚠️"
	case "failed":
		return "❌"
	default:
		return fmt.Sprintf("(%s)", status)
	}
}
