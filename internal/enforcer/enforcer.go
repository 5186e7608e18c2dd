// Package enforcer implements the synchronous hook entry point that decides
// whether to allow or deny a proposed file edit (§4.10).
package enforcer

import (
	"encoding/json"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/jpsweeney97/phaser/internal/contractstore"
	"github.com/jpsweeney97/phaser/internal/ignoreparser"
	"github.com/jpsweeney97/phaser/internal/phaserr"
	"github.com/jpsweeney97/phaser/internal/types"
)

const maxStdinBytes = 10 * 1024 * 1024

// HookInput is the JSON object the host agent writes to stdin (§4.10 Input).
type HookInput struct {
	ToolName      string    `json:"tool_name"`
	ToolInput     ToolInput `json:"tool_input"`
	Cwd           string    `json:"cwd"`
	HookEventName string    `json:"hook_event_name"`
}

// ToolInput covers both the Write and Edit stdin shapes.
type ToolInput struct {
	FilePath string `json:"file_path"`
	Content  string `json:"content"` // Write
	OldStr   string `json:"old_str"` // Edit
	NewStr   string `json:"new_str"` // Edit
}

// SeverityFilter selects which violation severities are reported (§4.10 Severity filter).
type SeverityFilter string

const (
	SeverityFilterError   SeverityFilter = "error"
	SeverityFilterWarning SeverityFilter = "warning"
	SeverityFilterAll     SeverityFilter = "all"
)

// HookOutput is the single JSON object written to stdout (§4.10 Output).
type HookOutput struct {
	Decision          string                `json:"decision,omitempty"`
	Reason            string                `json:"reason,omitempty"`
	HookSpecificOutput *HookSpecificOutput  `json:"hookSpecificOutput,omitempty"`
}

type HookSpecificOutput struct {
	HookEventName            string `json:"hookEventName"`
	PermissionDecision        string `json:"permissionDecision,omitempty"`
	PermissionDecisionReason  string `json:"permissionDecisionReason,omitempty"`
	AdditionalContext          string `json:"additionalContext,omitempty"`
}

// ReconstructResult is the outcome of turning stdin into proposed content.
type ReconstructResult struct {
	Path     string
	Content  string
	IsNew    bool
	Skip     bool // true when enforcement should be bypassed entirely (allow)
	SkipWhy  string
}

// ReadInput reads and decodes at most maxStdinBytes from r (§4.10 Security).
func ReadInput(r io.Reader) (*HookInput, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxStdinBytes+1))
	if err != nil {
		return nil, phaserr.Wrap(phaserr.Internal, err)
	}
	if len(data) > maxStdinBytes {
		return nil, phaserr.New(phaserr.Internal, "stdin exceeds %d bytes", maxStdinBytes)
	}
	var in HookInput
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, phaserr.Wrap(phaserr.Internal, err)
	}
	return &in, nil
}

// Reconstruct turns stdin into the proposed file content (§4.10 State reconstruction).
func Reconstruct(in *HookInput) (*ReconstructResult, error) {
	if strings.Contains(in.ToolInput.FilePath, "..") {
		return nil, phaserr.New(phaserr.Internal, "file_path must not contain '..': %s", in.ToolInput.FilePath)
	}

	switch in.ToolName {
	case "Write":
		return reconstructWrite(in)
	case "Edit":
		return reconstructEdit(in)
	default:
		return &ReconstructResult{Skip: true, SkipWhy: "unknown tool_name"}, nil
	}
}

func reconstructWrite(in *HookInput) (*ReconstructResult, error) {
	content := in.ToolInput.Content
	_, statErr := os.Stat(in.ToolInput.FilePath)
	isNew := os.IsNotExist(statErr)

	if looksBinary(content) {
		return &ReconstructResult{Skip: true, SkipWhy: "binary content"}, nil
	}

	return &ReconstructResult{Path: in.ToolInput.FilePath, Content: content, IsNew: isNew}, nil
}

func reconstructEdit(in *HookInput) (*ReconstructResult, error) {
	data, err := os.ReadFile(in.ToolInput.FilePath)
	if err != nil {
		return &ReconstructResult{Skip: true, SkipWhy: "file not found or unreadable"}, nil
	}
	if !utf8.Valid(data) {
		return &ReconstructResult{Skip: true, SkipWhy: "not valid UTF-8"}, nil
	}
	current := string(data)
	if !strings.Contains(current, in.ToolInput.OldStr) {
		return &ReconstructResult{Skip: true, SkipWhy: "old_str not found"}, nil
	}
	proposed := strings.Replace(current, in.ToolInput.OldStr, in.ToolInput.NewStr, 1)
	return &ReconstructResult{Path: in.ToolInput.FilePath, Content: proposed}, nil
}

// looksBinary classifies content as binary if it contains a NUL byte or more
// than 10% non-printable characters excluding \n\r\t (§4.10 State reconstruction).
func looksBinary(content string) bool {
	if strings.IndexByte(content, 0) >= 0 {
		return true
	}
	if len(content) == 0 {
		return false
	}
	var nonPrintable int
	for _, r := range content {
		if r == '\n' || r == '\r' || r == '\t' {
			continue
		}
		if r < 0x20 || r == 0x7f {
			nonPrintable++
		}
	}
	return float64(nonPrintable)/float64(len([]rune(content))) > 0.10
}

// CheckResult is the outcome of checking proposed content against contracts.
type CheckResult struct {
	Violations []types.Violation
	Warnings   []string // rule-load or per-pattern timeout diagnostics
}

// Check evaluates every enabled rule in contracts whose file_glob matches
// path, against the proposed content and the filesystem, filtering out
// directive-suppressed violations (§4.10 Checking, Ignore filtering).
func Check(store *contractstore.Store, contracts []*types.Contract, path, content string, isNew bool) *CheckResult {
	result := &CheckResult{}

	candidates := contractstore.SelectFiles(contracts, []string{path})
	for _, c := range contracts {
		if !c.Enabled {
			continue
		}
		if _, matched := candidates[c.Rule.ID]; !matched {
			continue
		}
		v, warn := evaluateRule(store, c, path, content, isNew)
		if warn != "" {
			result.Warnings = append(result.Warnings, warn)
			continue
		}
		if v == nil {
			continue
		}
		if v.LineNumber != nil && ignoreparser.Suppressed(path, content, c.Rule.ID, *v.LineNumber) {
			continue
		}
		result.Violations = append(result.Violations, *v)
	}
	return result
}

func evaluateRule(store *contractstore.Store, c *types.Contract, path, content string, isNew bool) (*types.Violation, string) {
	r := c.Rule
	switch r.Type {
	case types.RuleForbidPattern:
		re, ok := store.Compiled(r.ID)
		if !ok {
			return nil, "rule " + r.ID + ": pattern not compiled"
		}
		loc, done := contractstore.MatchWithTimeout(re, content)
		if !done {
			return nil, "rule " + r.ID + ": pattern match timed out"
		}
		if loc == nil {
			return nil, ""
		}
		line := lineOf(content, loc[0])
		return &types.Violation{RuleID: r.ID, FilePath: path, LineNumber: &line, MatchedText: content[loc[0]:loc[1]], Message: r.Message, Severity: r.Severity}, ""

	case types.RuleRequirePattern:
		re, ok := store.Compiled(r.ID)
		if !ok {
			return nil, "rule " + r.ID + ": pattern not compiled"
		}
		loc, done := contractstore.MatchWithTimeout(re, content)
		if !done {
			return nil, "rule " + r.ID + ": pattern match timed out"
		}
		if loc != nil {
			return nil, ""
		}
		line := 1
		return &types.Violation{RuleID: r.ID, FilePath: path, LineNumber: &line, MatchedText: "", Message: r.Message, Severity: r.Severity}, ""

	case types.RuleFileContains:
		if !strings.Contains(content, r.Pattern) {
			return nil, ""
		}
		idx := strings.Index(content, r.Pattern)
		line := lineOf(content, idx)
		return &types.Violation{RuleID: r.ID, FilePath: path, LineNumber: &line, MatchedText: r.Pattern, Message: r.Message, Severity: r.Severity}, ""

	case types.RuleFileNotContains:
		if strings.Contains(content, r.Pattern) {
			return nil, ""
		}
		line := 1
		return &types.Violation{RuleID: r.ID, FilePath: path, LineNumber: &line, MatchedText: "", Message: r.Message, Severity: r.Severity}, ""

	case types.RuleFileExists:
		if _, err := os.Stat(path); err == nil {
			return nil, ""
		}
		return &types.Violation{RuleID: r.ID, FilePath: path, Message: r.Message, Severity: r.Severity}, ""

	case types.RuleFileNotExists:
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, ""
		}
		return &types.Violation{RuleID: r.ID, FilePath: path, Message: r.Message, Severity: r.Severity}, ""

	default:
		return nil, "unknown rule type: " + string(r.Type)
	}
}

func lineOf(content string, byteOffset int) int {
	if byteOffset < 0 || byteOffset > len(content) {
		return 1
	}
	return 1 + strings.Count(content[:byteOffset], "\n")
}

// FilterSeverity restricts violations to the requested severity filter
// (§4.10 Severity filter).
func FilterSeverity(violations []types.Violation, filter SeverityFilter) []types.Violation {
	if filter == SeverityFilterAll || filter == "" {
		return violations
	}
	var out []types.Violation
	want := types.SeverityError
	if filter == SeverityFilterWarning {
		want = types.SeverityWarning
	}
	for _, v := range violations {
		if v.Severity == want {
			out = append(out, v)
		}
	}
	return out
}

// DecidePreToolUse builds the PreToolUse stdout payload (§4.10 Output).
func DecidePreToolUse(violations []types.Violation) HookOutput {
	var errViol *types.Violation
	for i := range violations {
		if violations[i].Severity == types.SeverityError {
			errViol = &violations[i]
			break
		}
	}
	if errViol == nil {
		return HookOutput{HookSpecificOutput: &HookSpecificOutput{
			HookEventName:     "PreToolUse",
			PermissionDecision: "allow",
		}}
	}
	line := 0
	if errViol.LineNumber != nil {
		line = *errViol.LineNumber
	}
	reason := "Contract violation: " + errViol.RuleID + " at line " + strconv.Itoa(line) + ". " + errViol.Message
	return HookOutput{HookSpecificOutput: &HookSpecificOutput{
		HookEventName:            "PreToolUse",
		PermissionDecision:        "deny",
		PermissionDecisionReason:  reason,
	}}
}

// DecidePostToolUse builds the PostToolUse stdout payload (§4.10 Output).
func DecidePostToolUse(violations []types.Violation) HookOutput {
	var warnViol *types.Violation
	for i := range violations {
		if violations[i].Severity == types.SeverityWarning {
			warnViol = &violations[i]
			break
		}
	}
	if warnViol == nil {
		return HookOutput{}
	}
	line := 0
	if warnViol.LineNumber != nil {
		line = *warnViol.LineNumber
	}
	ctx := "Warning: " + warnViol.RuleID + " at line " + strconv.Itoa(line) + ". " + warnViol.Message
	return HookOutput{
		Decision: "block",
		Reason:   "Contract warning detected after file write",
		HookSpecificOutput: &HookSpecificOutput{
			HookEventName:     "PostToolUse",
			AdditionalContext: ctx,
		},
	}
}
