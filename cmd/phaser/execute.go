package main

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jpsweeney97/phaser/internal/branchmode"
	"github.com/jpsweeney97/phaser/internal/eventbus"
	"github.com/jpsweeney97/phaser/internal/phaseengine"
	"github.com/jpsweeney97/phaser/internal/types"
)

var (
	executeNoPermissions bool
	executeForce         bool
)

var executeCmd = &cobra.Command{
	Use:   "execute <file>",
	Short: "Prepare an audit, then hand each phase off to the agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, root, err := openStore()
		if err != nil {
			return err
		}
		audit, phasesDir, err := prepareAudit(s, root, args[0], executeForce)
		if err != nil {
			return err
		}

		cfg, err := loadConfig(s)
		if err != nil {
			return err
		}

		bus := eventbus.New(s)
		bm := branchmode.New(s, root)
		engine := phaseengine.New(s, bus).WithBranchManager(bm)

		branchActive := false
		if ctx, found, err := bm.Load(); err == nil && found && ctx.Active {
			branchActive = true
		}

		reader := bufio.NewReader(os.Stdin)
		handoff := func(ctx context.Context, a *types.Audit, phase *types.Phase) error {
			fmt.Printf("\n--- phase %d: %s ---\n", phase.Number, phase.Title)
			fmt.Printf("agent input: %s/phase-%02d.md\n", phasesDir, phase.Number)
			if executeNoPermissions {
				return nil
			}
			fmt.Print("press Enter once the agent has applied this phase... ")
			_, _ = reader.ReadString('\n')
			return nil
		}

		result, err := engine.Run(audit, root, phaseengine.Options{Retries: cfg.Retries, Emit: true, Branch: branchActive}, handoff)
		if err != nil {
			return err
		}

		fmt.Printf("audit %s: %s (%d completed, %d failed, %d skipped)\n",
			audit.ID, result.Status, result.PhasesCompleted, result.PhasesFailed, result.PhasesSkipped)

		after, err := captureManifest(root)
		if err == nil {
			_ = s.WriteYAML(after, s.ManifestPath(audit.ID, "post")...)
		}
		return nil
	},
}

func init() {
	executeCmd.Flags().BoolVar(&executeNoPermissions, "no-permissions", false, "Do not pause for confirmation between phases")
	executeCmd.Flags().BoolVar(&executeForce, "force", false, "Overwrite an existing prepared workspace")
	rootCmd.AddCommand(executeCmd)
}
