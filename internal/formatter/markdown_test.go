package formatter

import (
	"bytes"
	"strings"
	"testing"

	"github.com/jpsweeney97/phaser/internal/types"
)

func TestMarkdownFormatterExtension(t *testing.T) {
	mf := NewMarkdownFormatter()
	if ext := mf.Extension(); ext != ".md" {
		t.Errorf("Extension() = %q, want .md", ext)
	}
}

func TestMarkdownFormatterRendersPhases(t *testing.T) {
	mf := NewMarkdownFormatter()
	doc := &PhaseDocument{
		Title: "Reverse Audit",
		Phases: []types.Phase{
			{
				ID:     "phase-1",
				Number: 1,
				Title:  "Add logging",
				Goal:   "Improve observability",
				Files: []types.FileChangeIntent{
					{Path: "main.go", Action: types.ActionModify, Description: "add logger"},
				},
				Verification: []string{"go test ./..."},
			},
		},
	}

	var buf bytes.Buffer
	if err := mf.Format(&buf, doc); err != nil {
		t.Fatalf("Format: %v", err)
	}
	out := buf.String()

	for _, want := range []string{"# Reverse Audit", "## Phase 1: Add logging", "Modify `main.go`: add logger", "go test ./..."} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q, got:\n%s", want, out)
		}
	}
}

func TestMarkdownFormatterOperationHeader(t *testing.T) {
	mf := NewMarkdownFormatter()
	doc := &PhaseDocument{
		Title:           "Negotiated Audit",
		OperationHeader: []string{"split phase-2 at [1,2]"},
		Phases:          []types.Phase{{ID: "phase-1", Number: 1, Title: "Only phase"}},
	}

	var buf bytes.Buffer
	if err := mf.Format(&buf, doc); err != nil {
		t.Fatalf("Format: %v", err)
	}
	if !strings.Contains(buf.String(), "split phase-2 at [1,2]") {
		t.Errorf("expected operation header in output, got:\n%s", buf.String())
	}
}

func TestMarkdownFormatterSkippedPhases(t *testing.T) {
	mf := NewMarkdownFormatter()
	doc := &PhaseDocument{
		Title:          "Audit",
		Phases:         []types.Phase{{ID: "phase-1", Number: 1, Title: "Kept"}},
		Skipped:        []types.Phase{{ID: "phase-2", Title: "Dropped"}},
		IncludeSkipped: true,
	}

	var buf bytes.Buffer
	if err := mf.Format(&buf, doc); err != nil {
		t.Fatalf("Format: %v", err)
	}
	if !strings.Contains(buf.String(), "skipped: phase-2 Dropped") {
		t.Errorf("expected skipped phase comment, got:\n%s", buf.String())
	}
}
