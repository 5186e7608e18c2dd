package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jpsweeney97/phaser/internal/contractstore"
	"github.com/jpsweeney97/phaser/internal/enforcer"
	"github.com/jpsweeney97/phaser/internal/formatter"
	"github.com/jpsweeney97/phaser/internal/phaserr"
	"github.com/jpsweeney97/phaser/internal/types"
)

var (
	contractCreateType      string
	contractCreatePattern   string
	contractCreateGlob      string
	contractCreateMessage   string
	contractCreateRationale string
	contractCreateSeverity  string
	contractCreateUser      bool

	contractsCheckFailOnError bool

	checkFailOnError bool
	checkFormat      string
)

var contractsCmd = &cobra.Command{
	Use:   "contracts",
	Short: "Contract rule management",
}

var contractsCreateCmd = &cobra.Command{
	Use:   "create <rule-id>",
	Short: "Write a new contract rule YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ruleID := args[0]
		if contractCreateGlob == "" {
			return phaserr.New(phaserr.Usage, "--file-glob is required")
		}
		if contractCreateMessage == "" {
			return phaserr.New(phaserr.Usage, "--message is required")
		}
		rt := types.RuleType(contractCreateType)
		if types.PatternRuleTypes[rt] && contractCreatePattern == "" {
			return phaserr.New(phaserr.Usage, "--pattern is required for rule type %q", rt)
		}

		c := &types.Contract{
			Version: 1,
			Rule: types.Rule{
				ID:        ruleID,
				Type:      rt,
				Severity:  types.Severity(contractCreateSeverity),
				Pattern:   contractCreatePattern,
				FileGlob:  contractCreateGlob,
				Message:   contractCreateMessage,
				Rationale: contractCreateRationale,
			},
			CreatedAt: time.Now().UTC(),
			Enabled:   true,
		}

		root, err := GetProjectRoot()
		if err != nil {
			return err
		}
		dir := filepath.Join(root, ".claude", "contracts")
		if contractCreateUser {
			home, err := os.UserHomeDir()
			if err != nil {
				return phaserr.Wrap(phaserr.Resource, err)
			}
			dir = filepath.Join(home, ".phaser", "contracts")
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return phaserr.Wrap(phaserr.Resource, err)
		}

		data, err := yaml.Marshal(c)
		if err != nil {
			return phaserr.Wrap(phaserr.Internal, err)
		}
		path := filepath.Join(dir, ruleID+".yaml")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return phaserr.Wrap(phaserr.Resource, err)
		}
		fmt.Println("created", path)
		return nil
	},
}

var contractsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every loaded contract, project and user scope",
	RunE: func(cmd *cobra.Command, args []string) error {
		contracts, warnings, err := loadMergedContracts()
		if err != nil {
			return err
		}
		for _, w := range warnings {
			fmt.Fprintln(os.Stderr, "warning:", w)
		}
		return renderContracts(contracts, GetFormat())
	},
}

var contractsShowCmd = &cobra.Command{
	Use:   "show <rule-id>",
	Short: "Show one contract's full definition, including rationale",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		contracts, _, err := loadMergedContracts()
		if err != nil {
			return err
		}
		for _, c := range contracts {
			if c.Rule.ID == args[0] {
				return renderContracts([]*types.Contract{c}, GetFormat())
			}
		}
		return phaserr.New(phaserr.Usage, "no contract with rule_id %q", args[0])
	},
}

var contractsEnableCmd = &cobra.Command{
	Use:   "enable <rule-id>",
	Short: "Set enabled: true on a project-scope contract file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setContractEnabled(args[0], true)
	},
}

var contractsDisableCmd = &cobra.Command{
	Use:   "disable <rule-id>",
	Short: "Set enabled: false on a project-scope contract file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setContractEnabled(args[0], false)
	},
}

var contractsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check every tracked text file in the project against loaded contracts",
	RunE: func(cmd *cobra.Command, args []string) error {
		violations, err := checkProject()
		if err != nil {
			return err
		}
		if err := renderViolations(violations, GetFormat()); err != nil {
			return err
		}
		if contractsCheckFailOnError {
			for _, v := range violations {
				if v.Severity == types.SeverityError {
					return phaserr.New(phaserr.Validation, "%d error-severity violation(s) found", countErrors(violations))
				}
			}
		}
		return nil
	},
}

// checkCmd is the top-level CI gate alias for `contracts check` (§6.3).
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "CI gate: run all contracts against the project",
	RunE: func(cmd *cobra.Command, args []string) error {
		violations, err := checkProject()
		if err != nil {
			return err
		}
		if err := renderViolations(violations, checkFormat); err != nil {
			return err
		}
		if checkFailOnError {
			for _, v := range violations {
				if v.Severity == types.SeverityError {
					return phaserr.New(phaserr.Validation, "%d error-severity violation(s) found", countErrors(violations))
				}
			}
		}
		return nil
	},
}

func countErrors(violations []types.Violation) int {
	n := 0
	for _, v := range violations {
		if v.Severity == types.SeverityError {
			n++
		}
	}
	return n
}

func loadMergedContracts() ([]*types.Contract, []string, error) {
	root, err := GetProjectRoot()
	if err != nil {
		return nil, nil, err
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, nil, phaserr.Wrap(phaserr.Resource, err)
	}
	cs := contractstore.New(root, home)
	result, err := cs.Load()
	if err != nil {
		return nil, nil, err
	}
	return result.Contracts, result.Warnings, nil
}

// checkProject loads every contract and checks it against the current text
// content of every file its glob matches (§6.3 `check`/`contracts check`).
func checkProject() ([]types.Violation, error) {
	root, err := GetProjectRoot()
	if err != nil {
		return nil, err
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, phaserr.Wrap(phaserr.Resource, err)
	}
	cs := contractstore.New(root, home)
	result, err := cs.Load()
	if err != nil {
		return nil, err
	}
	for _, w := range result.Warnings {
		fmt.Fprintln(os.Stderr, "warning:", w)
	}

	m, err := captureManifest(root)
	if err != nil {
		return nil, err
	}

	var violations []types.Violation
	for _, f := range m.Files {
		if f.Type != types.FileKindText || f.Unreadable {
			continue
		}
		res := enforcer.Check(cs, result.Contracts, f.Path, f.Content, false)
		violations = append(violations, res.Violations...)
	}
	return violations, nil
}

func setContractEnabled(ruleID string, enabled bool) error {
	root, err := GetProjectRoot()
	if err != nil {
		return err
	}
	path := filepath.Join(root, ".claude", "contracts", ruleID+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return phaserr.New(phaserr.Usage, "no project-scope contract %q: %v", ruleID, err)
	}
	var c types.Contract
	if err := yaml.Unmarshal(data, &c); err != nil {
		return phaserr.Wrap(phaserr.Validation, err)
	}
	c.Enabled = enabled
	out, err := yaml.Marshal(&c)
	if err != nil {
		return phaserr.Wrap(phaserr.Internal, err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return phaserr.Wrap(phaserr.Resource, err)
	}
	fmt.Printf("%s: enabled=%v\n", ruleID, enabled)
	return nil
}

func renderContracts(contracts []*types.Contract, format string) error {
	if format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return phaserr.Wrap(phaserr.Internal, enc.Encode(contracts))
	}
	if format == "yaml" {
		enc := yaml.NewEncoder(os.Stdout)
		defer enc.Close()
		return phaserr.Wrap(phaserr.Internal, enc.Encode(contracts))
	}
	table := formatter.NewTable(os.Stdout, "RULE ID", "TYPE", "SEVERITY", "GLOB", "ENABLED", "SCOPE", "RATIONALE")
	for _, c := range contracts {
		table.AddRow(c.Rule.ID, string(c.Rule.Type), string(c.Rule.Severity), c.Rule.FileGlob,
			fmt.Sprintf("%v", c.Enabled), c.Scope, c.Rule.Rationale)
	}
	return table.Render()
}

func renderViolations(violations []types.Violation, format string) error {
	if format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return phaserr.Wrap(phaserr.Internal, enc.Encode(violations))
	}
	table := formatter.NewTable(os.Stdout, "SEVERITY", "RULE ID", "FILE", "LINE", "MESSAGE")
	for _, v := range violations {
		line := ""
		if v.LineNumber != nil {
			line = fmt.Sprintf("%d", *v.LineNumber)
		}
		table.AddRow(string(v.Severity), v.RuleID, v.FilePath, line, v.Message)
	}
	return table.Render()
}

func init() {
	contractsCreateCmd.Flags().StringVar(&contractCreateType, "type", "", "Rule type (forbid_pattern, require_pattern, file_exists, file_not_exists, file_contains, file_not_contains)")
	contractsCreateCmd.Flags().StringVar(&contractCreatePattern, "pattern", "", "Pattern (required for pattern-based rule types)")
	contractsCreateCmd.Flags().StringVar(&contractCreateGlob, "file-glob", "", "Glob selecting which files the rule applies to")
	contractsCreateCmd.Flags().StringVar(&contractCreateMessage, "message", "", "Violation message")
	contractsCreateCmd.Flags().StringVar(&contractCreateRationale, "rationale", "", "Optional rationale")
	contractsCreateCmd.Flags().StringVar(&contractCreateSeverity, "severity", "error", "Severity: error or warning")
	contractsCreateCmd.Flags().BoolVar(&contractCreateUser, "user", false, "Write to the user scope (~/.phaser/contracts/) instead of project scope")

	contractsCheckCmd.Flags().BoolVar(&contractsCheckFailOnError, "fail-on-error", false, "Exit 1 if any error-severity violation is found")
	checkCmd.Flags().BoolVar(&checkFailOnError, "fail-on-error", false, "Exit 1 if any error-severity violation is found")
	checkCmd.Flags().StringVar(&checkFormat, "format", "table", "Output format: table or json")

	contractsCmd.AddCommand(contractsCreateCmd, contractsListCmd, contractsShowCmd, contractsEnableCmd, contractsDisableCmd, contractsCheckCmd)
	rootCmd.AddCommand(contractsCmd, checkCmd)
}
