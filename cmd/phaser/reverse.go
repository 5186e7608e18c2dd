package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jpsweeney97/phaser/internal/formatter"
	"github.com/jpsweeney97/phaser/internal/phaserr"
	"github.com/jpsweeney97/phaser/internal/reverseaudit"
	"github.com/jpsweeney97/phaser/internal/types"
)

var (
	reverseStrategy      string
	reverseFormat        string
	reverseMaxPhases     int
	reverseIncludeMerges bool
	reverseConcurrency   int
)

var reverseCmd = &cobra.Command{
	Use:   "reverse <range>",
	Short: "Mine a git commit range into a synthetic audit document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		phases, err := reverseMine(args[0])
		if err != nil {
			return err
		}
		return renderPhasesAsAudit(phases, args[0], reverseFormat)
	},
}

var reverseCommitsCmd = &cobra.Command{
	Use:   "commits <range>",
	Short: "List the raw commits in range without grouping them into phases",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := GetProjectRoot()
		if err != nil {
			return err
		}
		reader := reverseaudit.New(root)
		hashes, err := reader.CommitHashes(args[0], reverseIncludeMerges)
		if err != nil {
			return err
		}
		commits, err := reader.ParseCommits(hashes, reverseConcurrency)
		if err != nil {
			return err
		}
		commits, err = reader.RefineChangeTypes(commits)
		if err != nil {
			return err
		}
		table := formatter.NewTable(os.Stdout, "HASH", "SUBJECT", "FILES")
		table.SetAlign(2, formatter.AlignRight)
		for _, c := range commits {
			short := c.ShortHash
			if short == "" {
				short = c.Hash
			}
			table.AddRow(short, c.Message, fmt.Sprintf("%d", len(c.Files)))
		}
		return table.Render()
	},
}

var reversePreviewCmd = &cobra.Command{
	Use:   "preview <range>",
	Short: "Preview the phases that `reverse` would synthesize, without writing a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		phases, err := reverseMine(args[0])
		if err != nil {
			return err
		}
		table := formatter.NewTable(os.Stdout, "#", "TITLE", "FILES")
		table.SetAlign(0, formatter.AlignRight)
		table.SetAlign(2, formatter.AlignRight)
		for _, p := range phases {
			table.AddRow(fmt.Sprintf("%d", p.Number), p.Title, fmt.Sprintf("%d", len(p.Files)))
		}
		return table.Render()
	},
}

var reverseDiffCmd = &cobra.Command{
	Use:   "diff <range>",
	Short: "Print the unified diff of what changed across the given commit range",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := GetProjectRoot()
		if err != nil {
			return err
		}
		reader := reverseaudit.New(root)
		out, err := reader.Diff(args[0])
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	},
}

// reverseMine runs the full §4.12 pipeline: commit discovery, parsing,
// change-type refinement, and grouping into phases by --strategy.
func reverseMine(commitRange string) ([]types.Phase, error) {
	root, err := GetProjectRoot()
	if err != nil {
		return nil, err
	}
	reader := reverseaudit.New(root)
	hashes, err := reader.CommitHashes(commitRange, reverseIncludeMerges)
	if err != nil {
		return nil, err
	}
	if len(hashes) == 0 {
		return nil, phaserr.New(phaserr.Usage, "no commits found in range %q", commitRange)
	}
	commits, err := reader.ParseCommits(hashes, reverseConcurrency)
	if err != nil {
		return nil, err
	}
	commits, err = reader.RefineChangeTypes(commits)
	if err != nil {
		return nil, err
	}
	return reverseaudit.Group(commits, reverseaudit.Strategy(reverseStrategy), reverseMaxPhases), nil
}

func renderPhasesAsAudit(phases []types.Phase, rangeLabel, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return phaserr.Wrap(phaserr.Internal, enc.Encode(phases))
	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		defer enc.Close()
		return phaserr.Wrap(phaserr.Internal, enc.Encode(phases))
	default:
		doc := formatter.PhaseDocument{
			Title:           fmt.Sprintf("Reverse audit: %s", rangeLabel),
			OperationHeader: []string{fmt.Sprintf("reverse %s --strategy %s", rangeLabel, reverseStrategy)},
			Phases:          phases,
		}
		return formatter.NewMarkdownFormatter().Format(os.Stdout, &doc)
	}
}

func init() {
	reverseCmd.PersistentFlags().StringVar(&reverseStrategy, "strategy", string(reverseaudit.StrategySemantic), "Grouping strategy: commits, directories, filetypes, or semantic")
	reverseCmd.PersistentFlags().StringVar(&reverseFormat, "format", "markdown", "Output format: markdown, yaml, or json")
	reverseCmd.PersistentFlags().IntVar(&reverseMaxPhases, "max-phases", 20, "Maximum number of synthesized phases")
	reverseCmd.PersistentFlags().BoolVar(&reverseIncludeMerges, "include-merges", false, "Include merge commits")
	reverseCmd.PersistentFlags().IntVar(&reverseConcurrency, "concurrency", 0, "Commit-parsing concurrency (0 = NumCPU)")

	reverseCmd.AddCommand(reverseCommitsCmd, reversePreviewCmd, reverseDiffCmd)
	rootCmd.AddCommand(reverseCmd)
}
