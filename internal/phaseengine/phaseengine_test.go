package phaseengine

import (
	"context"
	"errors"
	"testing"

	"github.com/jpsweeney97/phaser/internal/types"
)

func newTestAudit(phases int) *types.Audit {
	audit := &types.Audit{ID: "audit-1", Slug: "test", Status: types.AuditStatusPending}
	for i := 0; i < phases; i++ {
		audit.Phases = append(audit.Phases, types.Phase{
			Number: i + 1,
			ID:     "phase-" + string(rune('1'+i)),
			Status: types.PhaseStatusPending,
		})
	}
	return audit
}

func TestRunCompletesAllPhasesOnSuccess(t *testing.T) {
	e := New(nil, nil)
	audit := newTestAudit(2)

	res, err := e.Run(audit, "", Options{}, func(ctx context.Context, a *types.Audit, p *types.Phase) error {
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != types.AuditStatusCompleted {
		t.Errorf("Status = %s, want completed", res.Status)
	}
	if res.PhasesCompleted != 2 {
		t.Errorf("PhasesCompleted = %d, want 2", res.PhasesCompleted)
	}
	for _, p := range audit.Phases {
		if p.Status != types.PhaseStatusCompleted {
			t.Errorf("phase %s status = %s, want completed", p.ID, p.Status)
		}
	}
}

func TestRunRetriesBeforeFailing(t *testing.T) {
	e := New(nil, nil)
	audit := newTestAudit(1)

	attempts := 0
	res, err := e.Run(audit, "", Options{Retries: 2}, func(ctx context.Context, a *types.Audit, p *types.Phase) error {
		attempts++
		return errors.New("boom")
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 1 initial attempt + 2 retries = 3 calls, got %d", attempts)
	}
	if res.PhasesFailed != 1 {
		t.Errorf("PhasesFailed = %d, want 1", res.PhasesFailed)
	}
	if res.Status != types.AuditStatusPartial {
		t.Errorf("Status = %s, want partial", res.Status)
	}
}

func TestRunFailFastStopsAfterFirstFailure(t *testing.T) {
	e := New(nil, nil)
	audit := newTestAudit(3)

	var executed []int
	_, err := e.Run(audit, "", Options{FailFast: true, Retries: 1}, func(ctx context.Context, a *types.Audit, p *types.Phase) error {
		executed = append(executed, p.Number)
		if p.Number == 1 {
			return errors.New("fail phase 1")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, n := range executed {
		if n != 1 {
			t.Fatalf("expected FailFast to stop after phase 1, ran %v", executed)
		}
	}
	if audit.Phases[1].Status != types.PhaseStatusPending || audit.Phases[2].Status != types.PhaseStatusPending {
		t.Errorf("phases after the failure should remain pending")
	}
}

func TestRunSkipsNonPendingPhases(t *testing.T) {
	e := New(nil, nil)
	audit := newTestAudit(2)
	audit.Phases[0].Status = types.PhaseStatusSkipped

	var executed []int
	_, err := e.Run(audit, "", Options{}, func(ctx context.Context, a *types.Audit, p *types.Phase) error {
		executed = append(executed, p.Number)
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(executed) != 1 || executed[0] != 2 {
		t.Errorf("expected only phase 2 to execute, got %v", executed)
	}
}

func TestRunDefaultsRetriesWhenUnset(t *testing.T) {
	e := New(nil, nil)
	audit := newTestAudit(1)

	attempts := 0
	_, err := e.Run(audit, "", Options{Retries: 0}, func(ctx context.Context, a *types.Audit, p *types.Phase) error {
		attempts++
		return errors.New("always fails")
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if attempts != defaultRetries+1 {
		t.Errorf("expected %d attempts with default retry budget, got %d", defaultRetries+1, attempts)
	}
}
