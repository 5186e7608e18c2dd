package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpsweeney97/phaser/internal/branchmode"
	"github.com/jpsweeney97/phaser/internal/phaserr"
)

var (
	branchStrategy string
	branchAll      bool
)

var branchesCmd = &cobra.Command{
	Use:   "branches",
	Short: "Per-phase branch mode control",
}

var branchesEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Begin branch mode for the most recent pending audit",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, root, err := openStore()
		if err != nil {
			return err
		}
		audit, err := mostRecentRunnableAudit(s)
		if err != nil {
			return err
		}
		m := branchmode.New(s, root)
		ctx, err := m.Begin(audit.ID, audit.Slug, "")
		if err != nil {
			return err
		}
		fmt.Printf("branch mode enabled for audit %s on base %s\n", ctx.AuditID, ctx.BaseBranch)
		return nil
	},
}

var branchesStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active branch-mode context, if any",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, root, err := openStore()
		if err != nil {
			return err
		}
		m := branchmode.New(s, root)
		ctx, found, err := m.Load()
		if err != nil {
			return err
		}
		if !found || !ctx.Active {
			fmt.Println("branch mode not active")
			return nil
		}
		fmt.Printf("audit %s on base %s: %d phase branch(es)\n", ctx.AuditID, ctx.BaseBranch, len(ctx.Branches))
		for _, b := range ctx.Branches {
			merged := "pending"
			if b.Merged {
				merged = "merged"
			}
			fmt.Printf("  phase %d: %s [%s]\n", b.PhaseNum, b.BranchName, merged)
		}
		return nil
	},
}

var branchesMergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge every phase branch into the base branch",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, root, err := openStore()
		if err != nil {
			return err
		}
		m := branchmode.New(s, root)
		ctx, found, err := m.Load()
		if err != nil {
			return err
		}
		if !found || !ctx.Active {
			return phaserr.New(phaserr.Usage, "branch mode not active")
		}
		strategy := branchmode.Strategy(branchStrategy)
		if strategy == "" {
			strategy = branchmode.StrategySquash
		}
		if err := m.MergeAll(strategy, ctx.BaseBranch); err != nil {
			return err
		}
		fmt.Printf("merged %d phase branch(es) into %s via %s\n", len(ctx.Branches), ctx.BaseBranch, strategy)
		return nil
	},
}

var branchesCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete merged (or all, with --all) phase branches",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, root, err := openStore()
		if err != nil {
			return err
		}
		m := branchmode.New(s, root)
		deleted, err := m.Cleanup(branchAll)
		if err != nil {
			return err
		}
		fmt.Printf("deleted %d branch(es)\n", len(deleted))
		for _, b := range deleted {
			fmt.Println("  " + b)
		}
		return nil
	},
}

func init() {
	branchesMergeCmd.Flags().StringVar(&branchStrategy, "strategy", "squash", "Merge strategy: squash, rebase, or merge")
	branchesCleanupCmd.Flags().BoolVar(&branchAll, "all", false, "Delete every phase branch, not just merged ones")
	branchesCmd.AddCommand(branchesEnableCmd, branchesStatusCmd, branchesMergeCmd, branchesCleanupCmd)
	rootCmd.AddCommand(branchesCmd)
}
