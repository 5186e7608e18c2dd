package store

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jpsweeney97/phaser/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(storageDirEnv, dir)
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestSaveAndGetAudit(t *testing.T) {
	s := newTestStore(t)

	audit := &types.Audit{Slug: "my-audit", Title: "My Audit", Status: types.AuditStatusPending}
	id, err := s.SaveAudit(audit)
	if err != nil {
		t.Fatalf("SaveAudit: %v", err)
	}
	if id == "" {
		t.Fatal("expected generated ID")
	}

	got, ok, err := s.GetAudit(id)
	if err != nil {
		t.Fatalf("GetAudit: %v", err)
	}
	if !ok {
		t.Fatal("expected audit to be found")
	}
	if got.Slug != "my-audit" {
		t.Errorf("Slug = %q, want my-audit", got.Slug)
	}
}

func TestGetAuditUnknownIDReturnsFalse(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.GetAudit("does-not-exist")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for unknown ID")
	}
}

func TestUpdateAuditPreservesUnknownFields(t *testing.T) {
	s := newTestStore(t)
	id, err := s.SaveAudit(&types.Audit{Slug: "a"})
	if err != nil {
		t.Fatalf("SaveAudit: %v", err)
	}

	ok, err := s.UpdateAudit(id, map[string]interface{}{"status": "in_progress"})
	if err != nil {
		t.Fatalf("UpdateAudit: %v", err)
	}
	if !ok {
		t.Fatal("expected update to find the audit")
	}

	got, _, err := s.GetAudit(id)
	if err != nil {
		t.Fatalf("GetAudit: %v", err)
	}
	if got.Status != types.AuditStatusInProgress {
		t.Errorf("Status = %q, want in_progress", got.Status)
	}
	if got.Slug != "a" {
		t.Errorf("Slug = %q, want a (should be preserved)", got.Slug)
	}
}

func TestListAuditsSortedDescending(t *testing.T) {
	s := newTestStore(t)
	older := time.Now().Add(-time.Hour)
	newer := time.Now()

	if _, err := s.SaveAudit(&types.Audit{Slug: "older", StartedAt: &older}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SaveAudit(&types.Audit{Slug: "newer", StartedAt: &newer}); err != nil {
		t.Fatal(err)
	}

	list, err := s.ListAudits("")
	if err != nil {
		t.Fatalf("ListAudits: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len(list) = %d, want 2", len(list))
	}
	if list[0].Slug != "newer" {
		t.Errorf("list[0].Slug = %q, want newer", list[0].Slug)
	}
}

func TestAppendAndGetEventsOrdering(t *testing.T) {
	s := newTestStore(t)
	base := time.Now().UTC()

	for i, et := range []types.EventType{types.EventAuditStarted, types.EventPhaseStarted, types.EventPhaseCompleted} {
		_, err := s.AppendEvent(types.Event{
			Type:      et,
			AuditID:   "audit-1",
			Timestamp: base.Add(time.Duration(i) * time.Millisecond),
		})
		if err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}

	events, err := s.GetEvents(EventFilter{AuditID: "audit-1"})
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("len(events) = %d, want 3", len(events))
	}
	if events[0].Type != types.EventAuditStarted || events[2].Type != types.EventPhaseCompleted {
		t.Errorf("unexpected event order: %v", events)
	}
}

func TestEventTimestampWireFormat(t *testing.T) {
	s := newTestStore(t)

	nano := time.Date(2026, 7, 1, 10, 0, 0, 123456789, time.UTC)
	whole := time.Date(2026, 7, 1, 10, 0, 5, 0, time.UTC)
	for _, ts := range []time.Time{nano, whole} {
		if _, err := s.AppendEvent(types.Event{Type: types.EventAuditStarted, AuditID: "a", Timestamp: ts}); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}

	raw, err := os.ReadFile(s.path(eventsFile))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	// Always exactly three fractional digits and a trailing Z, regardless of
	// the instant's native precision.
	if !strings.Contains(string(raw), `"2026-07-01T10:00:00.123Z"`) {
		t.Errorf("nanosecond instant not truncated to milliseconds:\n%s", raw)
	}
	if !strings.Contains(string(raw), `"2026-07-01T10:00:05.000Z"`) {
		t.Errorf("whole-second instant missing .000 fraction:\n%s", raw)
	}

	events, err := s.GetEvents(EventFilter{AuditID: "a"})
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(events) != 2 || !events[0].Timestamp.Equal(nano.Truncate(time.Millisecond)) {
		t.Errorf("round trip mismatch: %+v", events)
	}
}

func TestClearEventsRetention(t *testing.T) {
	s := newTestStore(t)
	old := time.Now().Add(-48 * time.Hour)
	recent := time.Now()

	if _, err := s.AppendEvent(types.Event{Type: types.EventAuditStarted, AuditID: "a", Timestamp: old}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AppendEvent(types.Event{Type: types.EventAuditCompleted, AuditID: "a", Timestamp: recent}); err != nil {
		t.Fatal(err)
	}

	removed, err := s.ClearEvents(nil, 1, 0)
	if err != nil {
		t.Fatalf("ClearEvents: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	events, err := s.GetEvents(EventFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
}

func TestConfigRoundTrip(t *testing.T) {
	s := newTestStore(t)

	cfg, err := s.GetConfig()
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if cfg["output"] != "table" {
		t.Errorf("default output = %v, want table", cfg["output"])
	}

	if err := s.SetConfig("simulation.auto_stash", false); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}

	cfg, err = s.GetConfig()
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	sim, ok := cfg["simulation"].(map[string]interface{})
	if !ok {
		t.Fatalf("simulation section missing or wrong type: %#v", cfg["simulation"])
	}
	if sim["auto_stash"] != false {
		t.Errorf("auto_stash = %v, want false", sim["auto_stash"])
	}

	if err := s.ResetConfig(); err != nil {
		t.Fatalf("ResetConfig: %v", err)
	}
	cfg, err = s.GetConfig()
	if err != nil {
		t.Fatal(err)
	}
	sim, _ = cfg["simulation"].(map[string]interface{})
	if sim["auto_stash"] != true {
		t.Errorf("after reset auto_stash = %v, want true", sim["auto_stash"])
	}
}
