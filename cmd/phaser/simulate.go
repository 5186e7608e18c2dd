package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jpsweeney97/phaser/internal/eventbus"
	"github.com/jpsweeney97/phaser/internal/phaseengine"
	"github.com/jpsweeney97/phaser/internal/phaserr"
	"github.com/jpsweeney97/phaser/internal/simulation"
	"github.com/jpsweeney97/phaser/internal/store"
	"github.com/jpsweeney97/phaser/internal/types"
)

var (
	simulatePhaseRange     string
	simulateCommitOnSuccess bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Sandboxed execution control",
}

var simulateRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the most recent pending audit inside a git-stash sandbox",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, root, err := openStore()
		if err != nil {
			return err
		}
		audit, err := mostRecentRunnableAudit(s)
		if err != nil {
			return err
		}
		lo, hi, err := parsePhaseRange(simulatePhaseRange)
		if err != nil {
			return err
		}
		restrictPhases(audit, lo, hi)

		sim := simulation.New(s, root)
		bus := eventbus.New(s)
		engine := phaseengine.New(s, bus).WithSimulator(sim)

		var result *phaseengine.Result
		runErr := sim.RunInContext(audit.ID, func(scope *simulation.Scope) error {
			noop := func(ctx context.Context, a *types.Audit, p *types.Phase) error { return nil }
			var err error
			result, err = engine.Run(audit, root, phaseengine.Options{Simulate: true, Emit: true}, noop)
			if err != nil {
				return err
			}
			if simulateCommitOnSuccess && result.Status == types.AuditStatusCompleted {
				scope.SetTeardown(simulation.TeardownCommit)
			}
			return nil
		})
		if runErr != nil {
			return runErr
		}
		fmt.Printf("simulation finished: %s (%d completed, %d failed)\n", result.Status, result.PhasesCompleted, result.PhasesFailed)
		return nil
	},
}

var simulateRollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Roll back the active simulation",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, root, err := openStore()
		if err != nil {
			return err
		}
		sim := simulation.New(s, root)
		ok, failed, err := sim.Rollback()
		if err != nil {
			return err
		}
		if !ok {
			return phaserr.New(phaserr.Resource, "rollback incomplete; could not restore: %s", strings.Join(failed, ", "))
		}
		fmt.Println("simulation rolled back")
		return nil
	},
}

var simulateCommitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Keep the active simulation's changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, root, err := openStore()
		if err != nil {
			return err
		}
		sim := simulation.New(s, root)
		if err := sim.Commit(); err != nil {
			return err
		}
		fmt.Println("simulation committed")
		return nil
	},
}

var simulateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active simulation context, if any",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, root, err := openStore()
		if err != nil {
			return err
		}
		sim := simulation.New(s, root)
		ctx, found, err := sim.Load()
		if err != nil {
			return err
		}
		if !found || !ctx.Active {
			fmt.Println("no active simulation")
			return nil
		}
		fmt.Printf("audit %s: %d created, %d modified, %d deleted (since %s)\n",
			ctx.AuditID, len(ctx.CreatedFiles), len(ctx.ModifiedFiles), len(ctx.DeletedFiles), ctx.StartedAt.Format("2006-01-02 15:04:05"))
		return nil
	},
}

func mostRecentRunnableAudit(s *store.Store) (*types.Audit, error) {
	audits, err := s.ListAudits("")
	if err != nil {
		return nil, err
	}
	var best *types.Audit
	for _, a := range audits {
		if a.Status != types.AuditStatusPending && a.Status != types.AuditStatusPartial {
			continue
		}
		if best == nil || (a.StartedAt != nil && (best.StartedAt == nil || a.StartedAt.After(*best.StartedAt))) {
			best = a
		}
	}
	if best == nil {
		return nil, phaserr.New(phaserr.Usage, "no pending audit found; run `phaser prepare` first")
	}
	return best, nil
}

func parsePhaseRange(r string) (lo, hi int, err error) {
	if r == "" {
		return 0, 0, nil
	}
	parts := strings.SplitN(r, "-", 2)
	lo, err = strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, phaserr.New(phaserr.Usage, "invalid --phases range %q", r)
	}
	if len(parts) == 1 {
		return lo, lo, nil
	}
	hi, err = strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, phaserr.New(phaserr.Usage, "invalid --phases range %q", r)
	}
	return lo, hi, nil
}

// restrictPhases marks phases outside [lo, hi] skipped so the engine leaves
// them untouched. lo == 0 means "no restriction".
func restrictPhases(audit *types.Audit, lo, hi int) {
	if lo == 0 {
		return
	}
	for i := range audit.Phases {
		n := audit.Phases[i].Number
		if n < lo || n > hi {
			audit.Phases[i].Status = types.PhaseStatusSkipped
		}
	}
}

func init() {
	simulateRunCmd.Flags().StringVar(&simulatePhaseRange, "phases", "", "Restrict to a phase range, e.g. 2-4")
	simulateRunCmd.Flags().BoolVar(&simulateCommitOnSuccess, "commit-on-success", false, "Keep changes automatically if every phase completes")
	simulateCmd.AddCommand(simulateRunCmd, simulateRollbackCmd, simulateCommitCmd, simulateStatusCmd)
	rootCmd.AddCommand(simulateCmd)
}
