// Package types defines the data model shared by every Phaser component:
// audits, phases, events, manifests, contracts, and the negotiation,
// simulation, branch, and analytics records layered on top of them (§3).
package types

import (
	"encoding/json"
	"time"
)

// Action is the advisory intent recorded against a FileChangeIntent.
type Action string

const (
	ActionCreate Action = "create"
	ActionModify Action = "modify"
	ActionDelete Action = "delete"
	ActionRename Action = "rename"
)

// FileChangeIntent is one file-level entry in a phase's plan. The action is
// advisory for the agent; actual changes are tracked via Manifest/Diff.
type FileChangeIntent struct {
	Path        string `yaml:"path" json:"path"`
	Action      Action `yaml:"action" json:"action"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	OldPath     string `yaml:"old_path,omitempty" json:"old_path,omitempty"`
}

// PhaseStatus is the lifecycle state of a single phase.
type PhaseStatus string

const (
	PhaseStatusPending   PhaseStatus = "pending"   // "[ ]"
	PhaseStatusExecuting PhaseStatus = "executing"
	PhaseStatusCompleted PhaseStatus = "completed" // "[x]"
	PhaseStatusFailed    PhaseStatus = "failed"     // "[FAILED]"
	PhaseStatusSkipped   PhaseStatus = "skipped"    // "[SKIPPED]"
)

// Phase is an ordered unit of work within an audit (§3.1).
type Phase struct {
	ID      string `yaml:"id" json:"id"`
	Number  int    `yaml:"number" json:"number"`
	Title   string `yaml:"title" json:"title"`
	Context string `yaml:"context,omitempty" json:"context,omitempty"`
	Goal    string `yaml:"goal,omitempty" json:"goal,omitempty"`

	Files               []FileChangeIntent `yaml:"files" json:"files"`
	Plan                []string           `yaml:"plan,omitempty" json:"plan,omitempty"`
	Verification        []string           `yaml:"verification,omitempty" json:"verification,omitempty"`
	AcceptanceCriteria  []string           `yaml:"acceptance_criteria,omitempty" json:"acceptance_criteria,omitempty"`
	Rollback            []string           `yaml:"rollback,omitempty" json:"rollback,omitempty"`

	Status PhaseStatus `yaml:"status" json:"status"`

	// SplitFrom and MergedFrom are back-references by stable phase ID, set
	// once by the operation that created this phase and never mutated again.
	SplitFrom  string   `yaml:"split_from,omitempty" json:"split_from,omitempty"`
	MergedFrom []string `yaml:"merged_from,omitempty" json:"merged_from,omitempty"`

	StartedAt   *time.Time `yaml:"started_at,omitempty" json:"started_at,omitempty"`
	CompletedAt *time.Time `yaml:"completed_at,omitempty" json:"completed_at,omitempty"`

	ParseWarnings []string `yaml:"parse_warnings,omitempty" json:"parse_warnings,omitempty"`
}

// HasFileChanges reports whether the phase satisfies the "≥1 file-change
// intent" invariant (§3.1).
func (p *Phase) HasFileChanges() bool {
	return len(p.Files) > 0
}

// AuditStatus is the lifecycle state of a whole audit (§3.2).
type AuditStatus string

const (
	AuditStatusPending     AuditStatus = "pending"
	AuditStatusInProgress  AuditStatus = "in_progress"
	AuditStatusCompleted   AuditStatus = "completed"
	AuditStatusPartial     AuditStatus = "partial"
	AuditStatusAbandoned   AuditStatus = "abandoned"
)

// Audit is an ordered graph of phases parsed from one Markdown document (§3.1).
type Audit struct {
	ID     string `yaml:"id" json:"id"`
	Slug   string `yaml:"slug" json:"slug"`
	Title  string `yaml:"title" json:"title"`
	Source string `yaml:"source" json:"source"` // path to the audit document
	Status AuditStatus `yaml:"status" json:"status"`

	Phases []Phase `yaml:"phases" json:"phases"`

	ProjectName string `yaml:"project_name,omitempty" json:"project_name,omitempty"`
	ProjectPath string `yaml:"project_path,omitempty" json:"project_path,omitempty"`

	StartedAt   *time.Time `yaml:"started_at,omitempty" json:"started_at,omitempty"`
	CompletedAt *time.Time `yaml:"completed_at,omitempty" json:"completed_at,omitempty"`

	PhasesCompleted int `yaml:"phases_completed" json:"phases_completed"`
	PhasesFailed    int `yaml:"phases_failed" json:"phases_failed"`
	PhasesSkipped   int `yaml:"phases_skipped" json:"phases_skipped"`

	ParseWarnings []string `yaml:"parse_warnings,omitempty" json:"parse_warnings,omitempty"`

	// Version is the schema_version used by Store migrations (§4.1).
	Version int `yaml:"version" json:"version"`
}

// EventType enumerates the 12 known lifecycle events (§3.1).
type EventType string

const (
	EventAuditStarted       EventType = "audit_started"
	EventAuditCompleted     EventType = "audit_completed"
	EventAuditAbandoned     EventType = "audit_abandoned"
	EventPhaseStarted       EventType = "phase_started"
	EventPhaseCompleted     EventType = "phase_completed"
	EventPhaseFailed        EventType = "phase_failed"
	EventPhaseSkipped       EventType = "phase_skipped"
	EventVerificationPassed EventType = "verification_passed"
	EventVerificationFailed EventType = "verification_failed"
	EventFileCreated        EventType = "file_created"
	EventFileModified       EventType = "file_modified"
	EventFileDeleted        EventType = "file_deleted"
)

// KnownEventTypes lists every EventType the dispatch in EventBus/Store handles;
// this is the closed tag set referenced in spec §9.
var KnownEventTypes = []EventType{
	EventAuditStarted, EventAuditCompleted, EventAuditAbandoned,
	EventPhaseStarted, EventPhaseCompleted, EventPhaseFailed, EventPhaseSkipped,
	EventVerificationPassed, EventVerificationFailed,
	EventFileCreated, EventFileModified, EventFileDeleted,
}

// Event is an immutable, typed record of something that happened during a
// phase or audit lifecycle (§3.1).
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	AuditID   string                 `json:"audit_id"`
	Phase     *int                   `json:"phase,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// eventTimeLayout is the §6.1 wire format for events.json timestamps:
// ISO-8601 with exactly millisecond precision and a trailing Z for UTC.
const eventTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// MarshalJSON pins the timestamp to the fixed millisecond form; Go's default
// RFC3339Nano encoding drops trailing zeros and would emit whole seconds or
// nanoseconds depending on the instant.
func (e Event) MarshalJSON() ([]byte, error) {
	type alias Event
	return json.Marshal(struct {
		alias
		Timestamp string `json:"timestamp"`
	}{alias(e), e.Timestamp.UTC().Format(eventTimeLayout)})
}

// UnmarshalJSON accepts the fixed millisecond form and, for forward
// compatibility, any RFC3339 timestamp.
func (e *Event) UnmarshalJSON(data []byte) error {
	type alias Event
	aux := struct {
		*alias
		Timestamp string `json:"timestamp"`
	}{alias: (*alias)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Timestamp == "" {
		e.Timestamp = time.Time{}
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, aux.Timestamp)
	if err != nil {
		return err
	}
	e.Timestamp = t
	return nil
}

// FileKind classifies a captured file as text or binary (§3.1, §4.3).
type FileKind string

const (
	FileKindText   FileKind = "text"
	FileKindBinary FileKind = "binary"
)

// FileEntry is one row of a Manifest (§3.1).
type FileEntry struct {
	Path         string   `yaml:"path" json:"path"`
	Type         FileKind `yaml:"type" json:"type"`
	Size         int64    `yaml:"size" json:"size"`
	SHA256       *string  `yaml:"sha256" json:"sha256"`
	Content      string   `yaml:"content,omitempty" json:"content,omitempty"`
	IsExecutable bool     `yaml:"is_executable" json:"is_executable"`
	Unreadable   bool     `yaml:"unreadable,omitempty" json:"unreadable,omitempty"`
}

// Manifest is a deterministic, content-addressed snapshot of a directory
// tree (§3.1, §4.3). Field order matches the spec's required YAML key order.
type Manifest struct {
	Root           string      `yaml:"root" json:"root"`
	Timestamp      time.Time   `yaml:"timestamp" json:"timestamp"`
	FileCount      int         `yaml:"file_count" json:"file_count"`
	TotalSizeBytes int64       `yaml:"total_size_bytes" json:"total_size_bytes"`
	Files          []FileEntry `yaml:"files" json:"files"`
}

// ChangeType classifies one entry of a DiffResult (§3.1).
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeDeleted  ChangeType = "deleted"
)

// FileChange is one path's before/after comparison (§3.1).
type FileChange struct {
	Path        string     `json:"path"`
	ChangeType  ChangeType `json:"change_type"`
	BeforeHash  *string    `json:"before_hash,omitempty"`
	AfterHash   *string    `json:"after_hash,omitempty"`
	BeforeSize  *int64     `json:"before_size,omitempty"`
	AfterSize   *int64     `json:"after_size,omitempty"`
	DiffLines   []string   `json:"diff_lines,omitempty"`
}

// DiffResult holds the three disjoint change buckets produced by comparing
// two manifests (§3.1, §4.3).
type DiffResult struct {
	Added    []FileChange `json:"added"`
	Modified []FileChange `json:"modified"`
	Deleted  []FileChange `json:"deleted"`
}

// Severity is the enforcement level of a contract rule (§3.1).
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// RuleType enumerates the six known contract rule kinds (§3.1, §4.8).
type RuleType string

const (
	RuleForbidPattern    RuleType = "forbid_pattern"
	RuleRequirePattern   RuleType = "require_pattern"
	RuleFileExists       RuleType = "file_exists"
	RuleFileNotExists    RuleType = "file_not_exists"
	RuleFileContains     RuleType = "file_contains"
	RuleFileNotContains  RuleType = "file_not_contains"
)

// PatternRuleTypes are the rule kinds that require a compiled pattern.
var PatternRuleTypes = map[RuleType]bool{
	RuleForbidPattern:  true,
	RuleRequirePattern: true,
}

// Rule is one declarative contract rule (§3.1).
type Rule struct {
	ID        string   `yaml:"id" json:"id"`
	Type      RuleType `yaml:"type" json:"type"`
	Severity  Severity `yaml:"severity" json:"severity"`
	Pattern   string   `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	FileGlob  string   `yaml:"file_glob" json:"file_glob"`
	Message   string   `yaml:"message" json:"message"`
	Rationale string   `yaml:"rationale,omitempty" json:"rationale,omitempty"`
}

// AuditSource identifies which audit/phase produced a contract (§3.1).
type AuditSource struct {
	ID    string `yaml:"id" json:"id"`
	Slug  string `yaml:"slug" json:"slug"`
	Date  string `yaml:"date" json:"date"`
	Phase int    `yaml:"phase" json:"phase"`
}

// Contract is a loaded, versioned rule definition (§3.1).
type Contract struct {
	Version     int         `yaml:"version" json:"version"`
	AuditSource AuditSource `yaml:"audit_source" json:"audit_source"`
	Rule        Rule        `yaml:"rule" json:"rule"`
	CreatedAt   time.Time   `yaml:"created_at" json:"created_at"`
	Enabled     bool        `yaml:"enabled" json:"enabled"`

	// Scope records which directory this contract was loaded from ("project"
	// or "user"), used for §4.8 precedence but never persisted.
	Scope string `yaml:"-" json:"-"`
}

// Violation is one contract breach found against proposed or on-disk content (§3.1).
type Violation struct {
	RuleID      string   `json:"rule_id"`
	FilePath    string   `json:"file_path"`
	LineNumber  *int     `json:"line_number,omitempty"`
	MatchedText string   `json:"matched_text"`
	Message     string   `json:"message"`
	Severity    Severity `json:"severity"`
}

// NegotiationOp is one append-only entry in a negotiation session's operation
// log (§3.1, §4.11).
type NegotiationOp struct {
	OpType      string                 `yaml:"op_type" json:"op_type"`
	Timestamp   time.Time              `yaml:"timestamp" json:"timestamp"`
	TargetIDs   []string               `yaml:"target_ids" json:"target_ids"`
	Params      map[string]interface{} `yaml:"params,omitempty" json:"params,omitempty"`
	Description string                 `yaml:"description" json:"description"`
}

// NegotiationState is the persisted, non-destructive editing session over a
// parsed phase list (§3.1, §4.11).
type NegotiationState struct {
	SourceFile     string          `yaml:"source_file" json:"source_file"`
	SourceHash     string          `yaml:"source_hash" json:"source_hash"`
	CreatedAt      time.Time       `yaml:"created_at" json:"created_at"`
	ModifiedAt     time.Time       `yaml:"modified_at" json:"modified_at"`
	OriginalPhases []Phase         `yaml:"original_phases" json:"original_phases"`
	CurrentPhases  []Phase         `yaml:"current_phases" json:"current_phases"`
	Operations     []NegotiationOp `yaml:"operations" json:"operations"`
	SkippedIDs     []string        `yaml:"skipped_ids" json:"skipped_ids"`

	Version int `yaml:"version" json:"version"`
}

// SimulationContext is the persisted state of one active sandbox run (§3.1, §4.6).
type SimulationContext struct {
	AuditID        string    `yaml:"audit_id" json:"audit_id"`
	Root           string    `yaml:"root" json:"root"`
	OriginalBranch string    `yaml:"original_branch" json:"original_branch"`
	StashRef       string    `yaml:"stash_ref,omitempty" json:"stash_ref,omitempty"`
	CreatedFiles   []string  `yaml:"created_files" json:"created_files"`
	ModifiedFiles  []string  `yaml:"modified_files" json:"modified_files"`
	DeletedFiles   []string  `yaml:"deleted_files" json:"deleted_files"`
	StartedAt      time.Time `yaml:"started_at" json:"started_at"`
	Active         bool      `yaml:"active" json:"active"`

	Version int `yaml:"version" json:"version"`
}

// BranchInfo is one phase's branch record within a BranchContext (§3.1, §4.7).
type BranchInfo struct {
	PhaseNum   int       `yaml:"phase_num" json:"phase_num"`
	PhaseSlug  string    `yaml:"phase_slug" json:"phase_slug"`
	BranchName string    `yaml:"branch_name" json:"branch_name"`
	CreatedAt  time.Time `yaml:"created_at" json:"created_at"`
	CommitSHA  string    `yaml:"commit_sha,omitempty" json:"commit_sha,omitempty"`
	Merged     bool      `yaml:"merged" json:"merged"`
}

// BranchContext is the persisted state of one active branch-mode run (§3.1, §4.7).
type BranchContext struct {
	AuditID      string       `yaml:"audit_id" json:"audit_id"`
	AuditSlug    string       `yaml:"audit_slug" json:"audit_slug"`
	Root         string       `yaml:"root" json:"root"`
	BaseBranch   string       `yaml:"base_branch" json:"base_branch"`
	CurrentPhase *int         `yaml:"current_phase,omitempty" json:"current_phase,omitempty"`
	Branches     []BranchInfo `yaml:"branches" json:"branches"`
	Active       bool         `yaml:"active" json:"active"`

	Version int `yaml:"version" json:"version"`
}

// ExecutionStatus is the outcome recorded for one analytics run (§3.1).
type ExecutionStatus string

const (
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionPartial ExecutionStatus = "partial"
	ExecutionFailed  ExecutionStatus = "failed"
)

// PhaseRecord is one phase's row within an ExecutionRecord (§3.1).
type PhaseRecord struct {
	Number   int    `json:"number"`
	Title    string `json:"title"`
	Status   string `json:"status"` // "completed", "failed", "skipped"
	CommitSHA string `json:"commit_sha,omitempty"`
}

// ExecutionRecord is a post-hoc analytics record parsed from an execution
// report (§3.1, §4.13).
type ExecutionRecord struct {
	ExecutionID     string        `json:"execution_id"`
	AuditDocument   string        `json:"audit_document"`
	DocumentTitle   string        `json:"document_title"`
	ProjectName     string        `json:"project_name"`
	ProjectPath     string        `json:"project_path"`
	Branch          string        `json:"branch"`
	StartedAt       time.Time     `json:"started_at"`
	CompletedAt     time.Time     `json:"completed_at"`
	PhaserVersion   string        `json:"phaser_version"`
	Status          ExecutionStatus `json:"status"`
	PhasesPlanned   int           `json:"phases_planned"`
	PhasesCompleted int           `json:"phases_completed"`
	BaselineTests   int           `json:"baseline_tests"`
	FinalTests      int           `json:"final_tests"`
	BaseCommit      string        `json:"base_commit"`
	FinalCommit     string        `json:"final_commit"`
	CommitCount     int           `json:"commit_count"`
	FilesChanged    int           `json:"files_changed"`
	Phases          []PhaseRecord `json:"phases"`
	ReportPath      string        `json:"report_path"`
	ImportedAt      time.Time     `json:"imported_at"`

	// Metadata preserves report rows that have no typed field of their own,
	// so unknown keys survive an import round-trip (§4.13 Import).
	Metadata map[string]string `json:"metadata,omitempty"`

	// ParsedDurationSeconds is the report's own duration_seconds metadata, if
	// any. DurationSeconds() below is authoritative; this is advisory only
	// (open question resolved in SPEC_FULL.md §Open Questions #3).
	ParsedDurationSeconds *float64 `json:"parsed_duration_seconds,omitempty"`

	SchemaVersion string `json:"schema_version"`
}

// DurationSeconds returns the authoritative wall-clock duration, computed
// from timestamps rather than any value parsed from the report.
func (r *ExecutionRecord) DurationSeconds() float64 {
	if r.CompletedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt).Seconds()
}

// TestDelta is FinalTests - BaselineTests.
func (r *ExecutionRecord) TestDelta() int {
	return r.FinalTests - r.BaselineTests
}
