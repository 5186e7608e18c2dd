package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jpsweeney97/phaser/internal/contractstore"
	"github.com/jpsweeney97/phaser/internal/formatter"
	"github.com/jpsweeney97/phaser/internal/phaserr"
	"github.com/jpsweeney97/phaser/internal/replay"
	"github.com/jpsweeney97/phaser/internal/store"
	"github.com/jpsweeney97/phaser/internal/types"
)

var (
	replayScope            string
	replayFailOnRegression bool
)

var replayCmd = &cobra.Command{
	Use:   "replay <slug>",
	Short: "Re-check a completed audit's final state against the current working tree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, root, err := openStore()
		if err != nil {
			return err
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return phaserr.Wrap(phaserr.Resource, err)
		}

		audit, err := resolveAuditBySlug(s, args[0])
		if err != nil {
			return err
		}

		cs := contractstore.New(root, home)
		res, err := replay.Run(s, cs, root, audit.ID, replay.Scope(replayScope))
		if err != nil {
			return err
		}
		if err := replay.Log(s, res); err != nil {
			return err
		}

		if err := renderReplayResult(res, GetFormat()); err != nil {
			return err
		}
		if replayFailOnRegression && !res.Passed {
			return phaserr.New(phaserr.Validation, "replay found %d file regression(s) and %d contract violation(s)", len(res.FileRegressions), len(res.Violations))
		}
		return nil
	},
}

// resolveAuditBySlug finds the most recently started audit whose Slug
// matches slug (§6.3 `replay <slug>`).
func resolveAuditBySlug(s *store.Store, slug string) (*types.Audit, error) {
	audits, err := s.ListAudits("")
	if err != nil {
		return nil, err
	}
	for _, a := range audits {
		if a.Slug == slug {
			return a, nil
		}
	}
	return nil, phaserr.New(phaserr.Usage, "no audit found with slug %q", slug)
}

func renderReplayResult(res *replay.Result, format string) error {
	if format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return phaserr.Wrap(phaserr.Internal, enc.Encode(res))
	}

	fmt.Printf("audit: %s  scope: %s  passed: %v\n", res.AuditID, res.Scope, res.Passed)
	if len(res.FileRegressions) > 0 {
		fmt.Println("\nfile regressions:")
		table := formatter.NewTable(os.Stdout, "CHANGE", "PATH")
		for _, c := range res.FileRegressions {
			table.AddRow(string(c.ChangeType), c.Path)
		}
		if err := table.Render(); err != nil {
			return err
		}
	}
	if len(res.Violations) > 0 {
		fmt.Println("\ncontract violations:")
		return renderViolations(res.Violations, format)
	}
	return nil
}

func init() {
	replayCmd.Flags().StringVar(&replayScope, "scope", string(replay.ScopeAll), "Regression scope: all, contracts, or files")
	replayCmd.Flags().BoolVar(&replayFailOnRegression, "fail-on-regression", false, "Exit non-zero if any regression is found")
	rootCmd.AddCommand(replayCmd)
}
