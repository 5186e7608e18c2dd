package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jpsweeney97/phaser/internal/auditparser"
	"github.com/jpsweeney97/phaser/internal/phaserr"
)

var (
	validateStrict bool
	validateJSON   bool
)

var validateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Parse and sanity-check an audit document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return phaserr.Wrap(phaserr.Usage, err)
		}

		result := auditparser.Parse(string(data))

		var phaseWarnings []string
		for i := range result.Phases {
			phaseWarnings = append(phaseWarnings, result.Phases[i].ParseWarnings...)
			if !result.Phases[i].HasFileChanges() {
				phaseWarnings = append(phaseWarnings, fmt.Sprintf("phase-%d: no file-change intents", result.Phases[i].Number))
			}
		}
		allWarnings := append(append([]string{}, result.Warnings...), phaseWarnings...)

		if validateJSON {
			out := map[string]interface{}{
				"phase_count": len(result.Phases),
				"phases":      result.Phases,
				"warnings":    allWarnings,
				"valid":       len(result.Phases) > 0 && (!validateStrict || len(allWarnings) == 0),
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return phaserr.Wrap(phaserr.Internal, err)
			}
		} else {
			fmt.Printf("%d phase(s) parsed\n", len(result.Phases))
			for _, p := range result.Phases {
				fmt.Printf("  phase-%d: %s (%d files)\n", p.Number, p.Title, len(p.Files))
			}
			for _, w := range allWarnings {
				fmt.Println("  warning:", w)
			}
		}

		if len(result.Phases) == 0 {
			return phaserr.New(phaserr.Validation, "no phases found in %s", args[0])
		}
		if validateStrict && len(allWarnings) > 0 {
			return phaserr.New(phaserr.Validation, "%d warning(s) found in strict mode", len(allWarnings))
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().BoolVar(&validateStrict, "strict", false, "Fail on any parse warning")
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "Emit JSON instead of a human-readable summary")
	rootCmd.AddCommand(validateCmd)
}
