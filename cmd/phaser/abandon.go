package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpsweeney97/phaser/internal/eventbus"
	"github.com/jpsweeney97/phaser/internal/types"
)

// abandonCmd destroys an audit record's lifecycle: audits leave
// in_progress/pending only through completion or an explicit abandon.
var abandonCmd = &cobra.Command{
	Use:   "abandon <slug>",
	Short: "Abandon an audit, marking it terminal without completing it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := openStore()
		if err != nil {
			return err
		}
		audit, err := resolveAuditBySlug(s, args[0])
		if err != nil {
			return err
		}

		ok, err := s.UpdateAudit(audit.ID, map[string]interface{}{
			"status": string(types.AuditStatusAbandoned),
		})
		if err != nil {
			return err
		}
		if !ok {
			// resolveAuditBySlug just returned it; losing it here means a
			// concurrent mutation, which UpdateAudit reports rather than fails.
			fmt.Println("audit record vanished before it could be abandoned")
			return nil
		}

		bus := eventbus.New(s)
		bus.Emit(types.EventAuditAbandoned, audit.ID, nil, map[string]interface{}{
			"slug": audit.Slug,
		})
		fmt.Printf("abandoned audit %s (%s)\n", audit.Slug, audit.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(abandonCmd)
}
