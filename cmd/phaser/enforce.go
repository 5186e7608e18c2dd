package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpsweeney97/phaser/embedded"
	"github.com/jpsweeney97/phaser/internal/contractstore"
	"github.com/jpsweeney97/phaser/internal/enforcer"
	"github.com/jpsweeney97/phaser/internal/phaserr"
)

var (
	enforceStdin    bool
	enforceSeverity string

	enforceInstallScope   string
	enforceInstallDryRun  bool
	enforceInstallForce   bool
)

var enforceCmd = &cobra.Command{
	Use:   "enforce",
	Short: "Synchronous hook entry point: decide allow/deny/warn for a proposed edit",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !enforceStdin {
			return phaserr.New(phaserr.Usage, "enforce requires --stdin")
		}
		return runEnforce()
	},
}

// runEnforce implements §4.10 end-to-end: stdin decode, state reconstruction,
// contract checking, ignore filtering, severity filter, single-JSON stdout,
// exit code 0 or 3. It never returns a cobra error for a produced decision —
// only for the internal-error class (§4.10 Exit codes), which os.Exit(3)s
// directly because the decision path's exit code (0) diverges from the
// general CLI convention cmd/phaser/root.go otherwise applies.
func runEnforce() error {
	in, err := enforcer.ReadInput(os.Stdin)
	if err != nil {
		exitEnforceInternal(err)
	}

	reconstructed, err := enforcer.Reconstruct(in)
	if err != nil {
		exitEnforceInternal(err)
	}
	if reconstructed.Skip {
		printHookOutput(enforcer.HookOutput{})
		return nil
	}

	root, err := GetProjectRoot()
	if err != nil {
		exitEnforceInternal(err)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		exitEnforceInternal(err)
	}
	cs := contractstore.New(root, home)
	loaded, err := cs.Load()
	if err != nil {
		exitEnforceInternal(err)
	}
	for _, w := range loaded.Warnings {
		fmt.Fprintln(os.Stderr, "warning:", w)
	}

	check := enforcer.Check(cs, loaded.Contracts, reconstructed.Path, reconstructed.Content, reconstructed.IsNew)
	for _, w := range check.Warnings {
		fmt.Fprintln(os.Stderr, "warning:", w)
	}
	violations := enforcer.FilterSeverity(check.Violations, enforcer.SeverityFilter(enforceSeverity))

	switch in.HookEventName {
	case "PostToolUse":
		printHookOutput(enforcer.DecidePostToolUse(violations))
	default:
		printHookOutput(enforcer.DecidePreToolUse(violations))
	}
	return nil
}

func printHookOutput(out enforcer.HookOutput) {
	enc := json.NewEncoder(os.Stdout)
	_ = enc.Encode(out)
}

// exitEnforceInternal is the §4.10 internal-error path: nothing on stdout
// (stdout carries decisions only), the cause on stderr, exit code 3.
func exitEnforceInternal(err error) {
	fmt.Fprintln(os.Stderr, "enforce:", err)
	os.Exit(3)
}

var enforceInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the phaser enforce hook into a Claude Code settings.json",
	RunE: func(cmd *cobra.Command, args []string) error {
		settingsPath, err := enforceSettingsPath(enforceInstallScope)
		if err != nil {
			return err
		}

		existing, err := readSettings(settingsPath)
		if err != nil {
			return err
		}

		if hasPhaserHook(existing) && !enforceInstallForce {
			fmt.Println("phaser hooks already installed at", settingsPath, "(pass --force to overwrite)")
			return nil
		}

		var defaults map[string]interface{}
		if err := json.Unmarshal(embedded.HooksJSON, &defaults); err != nil {
			return phaserr.Wrap(phaserr.Internal, err)
		}

		hooksMap, _ := existing["hooks"].(map[string]interface{})
		if hooksMap == nil {
			hooksMap = map[string]interface{}{}
		}
		for event, groups := range defaults {
			hooksMap[event] = groups
		}
		existing["hooks"] = hooksMap

		if enforceInstallDryRun {
			data, err := json.MarshalIndent(existing, "", "  ")
			if err != nil {
				return phaserr.Wrap(phaserr.Internal, err)
			}
			fmt.Println("[dry-run] would write to", settingsPath)
			fmt.Println(string(data))
			return nil
		}

		if err := backupSettings(settingsPath); err != nil {
			return err
		}
		if err := writeSettings(settingsPath, existing); err != nil {
			return err
		}
		fmt.Println("installed phaser enforce hooks to", settingsPath)
		return nil
	},
}

// enforceSettingsPath resolves the target settings.json for --scope
// user|project|local (§6.3 `enforce install`).
func enforceSettingsPath(scope string) (string, error) {
	switch scope {
	case "user", "":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", phaserr.Wrap(phaserr.Resource, err)
		}
		return filepath.Join(home, ".claude", "settings.json"), nil
	case "project":
		root, err := GetProjectRoot()
		if err != nil {
			return "", err
		}
		return filepath.Join(root, ".claude", "settings.json"), nil
	case "local":
		root, err := GetProjectRoot()
		if err != nil {
			return "", err
		}
		return filepath.Join(root, ".claude", "settings.local.json"), nil
	default:
		return "", phaserr.New(phaserr.Usage, "unknown --scope %q (want user, project, or local)", scope)
	}
}

func readSettings(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]interface{}{}, nil
	}
	if err != nil {
		return nil, phaserr.Wrap(phaserr.Resource, err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, phaserr.New(phaserr.Validation, "%s is not valid JSON: %v", path, err)
	}
	return m, nil
}

func hasPhaserHook(settings map[string]interface{}) bool {
	hooks, ok := settings["hooks"].(map[string]interface{})
	if !ok {
		return false
	}
	_, hasPre := hooks["PreToolUse"]
	return hasPre
}

func backupSettings(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return phaserr.Wrap(phaserr.Resource, err)
	}
	backup := fmt.Sprintf("%s.backup.%s", path, time.Now().UTC().Format("20060102-150405"))
	if err := os.WriteFile(backup, data, 0o644); err != nil {
		return phaserr.Wrap(phaserr.Resource, err)
	}
	fmt.Println("backed up existing settings to", backup)
	return nil
}

func writeSettings(path string, settings map[string]interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return phaserr.Wrap(phaserr.Resource, err)
	}
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return phaserr.Wrap(phaserr.Internal, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return phaserr.Wrap(phaserr.Resource, err)
	}
	return nil
}

func init() {
	enforceCmd.Flags().BoolVar(&enforceStdin, "stdin", false, "Read the hook input JSON object from stdin")
	enforceCmd.Flags().StringVar(&enforceSeverity, "severity", "error", "Severity filter: error, warning, or all")

	enforceInstallCmd.Flags().StringVar(&enforceInstallScope, "scope", "user", "Settings scope: user, project, or local")
	enforceInstallCmd.Flags().BoolVar(&enforceInstallDryRun, "dry-run", false, "Print the settings that would be written instead of writing them")
	enforceInstallCmd.Flags().BoolVar(&enforceInstallForce, "force", false, "Overwrite an existing phaser hook installation")

	enforceCmd.AddCommand(enforceInstallCmd)
	rootCmd.AddCommand(enforceCmd)
}
