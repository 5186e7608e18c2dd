package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpsweeney97/phaser/internal/analytics"
	"github.com/jpsweeney97/phaser/internal/phaserr"
	"github.com/jpsweeney97/phaser/internal/store"
	"github.com/jpsweeney97/phaser/internal/types"
)

var (
	analyticsLast     int
	analyticsSince    string
	analyticsUntil    string
	analyticsStatus   string
	analyticsDocument string
	analyticsGlobal   bool
)

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Post-hoc analytics over imported execution reports",
}

var analyticsShowCmd = &cobra.Command{
	Use:   "show [execution-id]",
	Short: "Show one execution record, or an aggregate summary over matching records",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := openStore()
		if err != nil {
			return err
		}
		if len(args) == 1 {
			rec, ok, err := analytics.Get(s, args[0])
			if err != nil {
				return err
			}
			if !ok {
				return phaserr.New(phaserr.Usage, "no execution record %q", args[0])
			}
			return analytics.Export(os.Stdout, []*types.ExecutionRecord{rec}, analyticsFormat())
		}

		q, err := buildAnalyticsQuery()
		if err != nil {
			return err
		}
		records, err := listRecords(s, q)
		if err != nil {
			return err
		}
		agg := analytics.Aggregate(records)
		return analytics.ExportAggregation(os.Stdout, agg, analyticsFormat())
	},
}

var analyticsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export matching execution records as a table or JSON array",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := openStore()
		if err != nil {
			return err
		}
		q, err := buildAnalyticsQuery()
		if err != nil {
			return err
		}
		records, err := listRecords(s, q)
		if err != nil {
			return err
		}
		return analytics.Export(os.Stdout, records, analyticsFormat())
	},
}

var analyticsImportCmd = &cobra.Command{
	Use:   "import <report-file>",
	Short: "Parse and persist an execution report Markdown file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := openStore()
		if err != nil {
			return err
		}
		content, err := os.ReadFile(args[0])
		if err != nil {
			return phaserr.Wrap(phaserr.Usage, err)
		}
		rec, err := analytics.Import(s, string(content), args[0])
		if err != nil {
			return err
		}

		if home, err := os.UserHomeDir(); err == nil {
			root, _ := GetProjectRoot()
			name := rec.ProjectName
			if name == "" {
				name = filepath.Base(root)
			}
			if err := analytics.RegisterProject(home, name, root, rec.ImportedAt); err != nil {
				fmt.Fprintln(os.Stderr, "warning: could not update global project registry:", err)
			}
		}

		fmt.Println("imported", rec.ExecutionID, "("+rec.DocumentTitle+")")
		return nil
	},
}

var analyticsClearCmd = &cobra.Command{
	Use:   "clear <execution-id>",
	Short: "Delete one execution record and rebuild the index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := openStore()
		if err != nil {
			return err
		}
		if err := analytics.Clear(s, args[0]); err != nil {
			return err
		}
		fmt.Println("cleared", args[0])
		return nil
	},
}

// listRecords answers the query against this project's store, or, with
// --global, against every project in the ~/.phaser/projects.json registry.
func listRecords(s *store.Store, q analytics.Query) ([]*types.ExecutionRecord, error) {
	if !analyticsGlobal {
		return analytics.List(s, q)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, phaserr.Wrap(phaserr.Resource, err)
	}
	projects, err := analytics.ListProjects(home)
	if err != nil {
		return nil, err
	}
	perProject := q
	perProject.Limit = 0

	var out []*types.ExecutionRecord
	for _, p := range projects {
		ps, err := store.Open(p.Path)
		if err != nil {
			fmt.Fprintln(os.Stderr, "warning: skipping project", p.Path+":", err)
			continue
		}
		records, err := analytics.List(ps, perProject)
		if err != nil {
			fmt.Fprintln(os.Stderr, "warning: skipping project", p.Path+":", err)
			continue
		}
		out = append(out, records...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func analyticsFormat() analytics.Format {
	if GetFormat() == "json" {
		return analytics.FormatJSON
	}
	return analytics.FormatTable
}

func buildAnalyticsQuery() (analytics.Query, error) {
	q := analytics.Query{Limit: analyticsLast, Status: types.ExecutionStatus(analyticsStatus), Document: analyticsDocument}
	if analyticsSince != "" {
		t, err := time.Parse("2006-01-02", analyticsSince)
		if err != nil {
			return q, phaserr.New(phaserr.Usage, "--since: %v", err)
		}
		q.Since = &t
	}
	if analyticsUntil != "" {
		t, err := time.Parse("2006-01-02", analyticsUntil)
		if err != nil {
			return q, phaserr.New(phaserr.Usage, "--until: %v", err)
		}
		q.Until = &t
	}
	return q, nil
}

func init() {
	for _, c := range []*cobra.Command{analyticsShowCmd, analyticsExportCmd} {
		c.Flags().IntVar(&analyticsLast, "last", 0, "Limit to the N most recent records")
		c.Flags().StringVar(&analyticsSince, "since", "", "Only records started on or after this date (YYYY-MM-DD)")
		c.Flags().StringVar(&analyticsUntil, "until", "", "Only records started on or before this date (YYYY-MM-DD)")
		c.Flags().StringVar(&analyticsStatus, "status", "", "Filter by execution status")
		c.Flags().StringVar(&analyticsDocument, "document", "", "Filter by source audit document path")
		c.Flags().BoolVar(&analyticsGlobal, "global", false, "Query every project in the global registry")
	}

	analyticsCmd.AddCommand(analyticsShowCmd, analyticsExportCmd, analyticsImportCmd, analyticsClearCmd)
	rootCmd.AddCommand(analyticsCmd)
}
