package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jpsweeney97/phaser/internal/auditparser"
	"github.com/jpsweeney97/phaser/internal/formatter"
	"github.com/jpsweeney97/phaser/internal/negotiation"
	"github.com/jpsweeney97/phaser/internal/phaserr"
	"github.com/jpsweeney97/phaser/internal/store"
	"github.com/jpsweeney97/phaser/internal/types"
)

var (
	negotiateIncludeSkipped bool
	negotiateOpsFile        string
	negotiateOutFile        string
	negotiateUnskip         bool
	negotiateStrategy       string
)

var negotiateCmd = &cobra.Command{
	Use:   "negotiate <file>",
	Short: "Open (or resume) a non-destructive editing session over an audit's phases",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := openStore()
		if err != nil {
			return err
		}
		sess, resumed, err := openNegotiation(s, args[0])
		if err != nil {
			return err
		}
		if !resumed {
			if err := applyNegotiateStrategy(sess, negotiateStrategy); err != nil {
				return err
			}
		}
		if err := sess.Save(); err != nil {
			return err
		}
		if resumed {
			fmt.Println("resumed negotiation session for", args[0])
		} else {
			fmt.Println("opened new negotiation session for", args[0])
		}
		return printPhaseTable(sess.State())
	},
}

var negotiateStatusCmd = &cobra.Command{
	Use:   "status <file>",
	Short: "Show the current phase list and applied operations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := openStore()
		if err != nil {
			return err
		}
		sess, resumed, err := openNegotiation(s, args[0])
		if err != nil {
			return err
		}
		if !resumed {
			return phaserr.New(phaserr.Usage, "no negotiation session open for %s; run `phaser negotiate %s` first", args[0], args[0])
		}
		for _, op := range sess.State().Operations {
			fmt.Printf("[%s] %s: %s\n", op.Timestamp.Format("2006-01-02 15:04:05"), op.OpType, op.Description)
		}
		return printPhaseTable(sess.State())
	},
}

var negotiatePreviewCmd = &cobra.Command{
	Use:   "preview <file>",
	Short: "Show the current phase list without persisting a new session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := openStore()
		if err != nil {
			return err
		}
		sess, _, err := openNegotiation(s, args[0])
		if err != nil {
			return err
		}
		return printPhaseTable(sess.State())
	},
}

var negotiateSkipCmd = &cobra.Command{
	Use:   "skip <file> <phase-id>",
	Short: "Toggle a phase's skipped status",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := openStore()
		if err != nil {
			return err
		}
		sess, _, err := openNegotiation(s, args[0])
		if err != nil {
			return err
		}
		if negotiateUnskip {
			err = sess.Unskip(args[1])
		} else {
			err = sess.Skip(args[1])
		}
		if err != nil {
			return err
		}
		if err := sess.Save(); err != nil {
			return err
		}
		fmt.Printf("%s: skipped=%v\n", args[1], !negotiateUnskip)
		return nil
	},
}

// negotiateOpSpec is one entry in an --ops YAML file, applied by `negotiate
// apply` in order (§4.11 Operations, §6.3 `--ops <yaml>`).
type negotiateOpSpec struct {
	Type        string      `yaml:"type"`
	PhaseID     string      `yaml:"phase_id,omitempty"`
	PhaseIDs    []string    `yaml:"phase_ids,omitempty"`
	SplitAt     []int       `yaml:"split_at,omitempty"`
	Force       bool        `yaml:"force,omitempty"`
	NewPosition int         `yaml:"new_position,omitempty"`
	Field       string      `yaml:"field,omitempty"`
	Value       interface{} `yaml:"value,omitempty"`
	Scope       string      `yaml:"scope,omitempty"`
}

var negotiateApplyCmd = &cobra.Command{
	Use:   "apply <file>",
	Short: "Apply a batch of split/merge/reorder/skip/modify/reset operations from --ops",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if negotiateOpsFile == "" {
			return phaserr.New(phaserr.Usage, "--ops <yaml> is required")
		}
		s, _, err := openStore()
		if err != nil {
			return err
		}
		sess, _, err := openNegotiation(s, args[0])
		if err != nil {
			return err
		}

		data, err := os.ReadFile(negotiateOpsFile)
		if err != nil {
			return phaserr.Wrap(phaserr.Usage, err)
		}
		var specs []negotiateOpSpec
		if err := yaml.Unmarshal(data, &specs); err != nil {
			return phaserr.New(phaserr.Validation, "%s: %v", negotiateOpsFile, err)
		}

		for i, spec := range specs {
			if err := applyNegotiateOp(sess, spec); err != nil {
				return phaserr.New(phaserr.Validation, "op %d (%s): %v", i, spec.Type, err)
			}
		}
		if err := sess.Validate(); err != nil {
			return err
		}
		if err := sess.Save(); err != nil {
			return err
		}
		fmt.Printf("applied %d operation(s)\n", len(specs))
		return printPhaseTable(sess.State())
	},
}

// applyNegotiateStrategy seeds a fresh session with an automatic initial
// restructure: "per-file" splits every multi-file phase into one phase per
// file; "none" (default) leaves the parsed phases as-is.
func applyNegotiateStrategy(sess *negotiation.Session, strategy string) error {
	switch strategy {
	case "", "none":
		return nil
	case "per-file":
		var targets []string
		for _, p := range sess.State().CurrentPhases {
			if len(p.Files) > 1 {
				targets = append(targets, p.ID)
			}
		}
		for _, id := range targets {
			if err := sess.Split(id, nil); err != nil {
				return err
			}
		}
		return sess.Validate()
	default:
		return phaserr.New(phaserr.Usage, "unknown --strategy %q (want none or per-file)", strategy)
	}
}

func applyNegotiateOp(sess *negotiation.Session, spec negotiateOpSpec) error {
	switch spec.Type {
	case "split":
		return sess.Split(spec.PhaseID, spec.SplitAt)
	case "merge":
		return sess.Merge(spec.PhaseIDs, spec.Force)
	case "reorder":
		return sess.Reorder(spec.PhaseID, spec.NewPosition)
	case "skip":
		return sess.Skip(spec.PhaseID)
	case "unskip":
		return sess.Unskip(spec.PhaseID)
	case "modify":
		return sess.Modify(spec.PhaseID, negotiation.ModifiableField(spec.Field), spec.Value)
	case "reset":
		scope := spec.Scope
		if scope == "" {
			scope = spec.PhaseID
		}
		return sess.Reset(scope)
	default:
		return phaserr.New(phaserr.Usage, "unknown op type %q", spec.Type)
	}
}

var negotiateExportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Render the current session as a Markdown audit document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := openStore()
		if err != nil {
			return err
		}
		sess, _, err := openNegotiation(s, args[0])
		if err != nil {
			return err
		}

		w := os.Stdout
		if negotiateOutFile != "" {
			f, err := os.Create(negotiateOutFile)
			if err != nil {
				return phaserr.Wrap(phaserr.Resource, err)
			}
			defer f.Close()
			return sess.Export(f, strings.TrimSuffix(args[0], ".md"), negotiateIncludeSkipped)
		}
		return sess.Export(w, strings.TrimSuffix(args[0], ".md"), negotiateIncludeSkipped)
	},
}

// openNegotiation parses file and opens (or resumes) its negotiation
// session (§4.11 Persistence).
func openNegotiation(s *store.Store, file string) (*negotiation.Session, bool, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, false, phaserr.Wrap(phaserr.Usage, err)
	}
	result := auditparser.Parse(string(data))
	return negotiation.Open(s, file, string(data), result.Phases)
}

func printPhaseTable(state *types.NegotiationState) error {
	skipped := map[string]bool{}
	for _, id := range state.SkippedIDs {
		skipped[id] = true
	}
	table := formatter.NewTable(os.Stdout, "#", "ID", "TITLE", "FILES", "SKIPPED", "SPLIT FROM", "MERGED FROM")
	for _, p := range state.CurrentPhases {
		table.AddRow(
			strconv.Itoa(p.Number),
			p.ID,
			p.Title,
			strconv.Itoa(len(p.Files)),
			fmt.Sprintf("%v", skipped[p.ID]),
			p.SplitFrom,
			strings.Join(p.MergedFrom, ","),
		)
	}
	return table.Render()
}

func init() {
	negotiateCmd.Flags().StringVar(&negotiateStrategy, "strategy", "none", "Initial restructure for a fresh session: none or per-file")
	negotiateExportCmd.Flags().BoolVar(&negotiateIncludeSkipped, "include-skipped", false, "Render skipped phases as a comment block instead of omitting them")
	negotiateExportCmd.Flags().StringVarP(&negotiateOutFile, "output", "o", "", "Write to a file instead of stdout")
	negotiateApplyCmd.Flags().StringVar(&negotiateOpsFile, "ops", "", "Path to a YAML list of operations to apply in order")
	negotiateSkipCmd.Flags().BoolVar(&negotiateUnskip, "unskip", false, "Unskip instead of skip")

	negotiateCmd.AddCommand(negotiateStatusCmd, negotiatePreviewCmd, negotiateSkipCmd, negotiateApplyCmd, negotiateExportCmd)
	rootCmd.AddCommand(negotiateCmd)
}
