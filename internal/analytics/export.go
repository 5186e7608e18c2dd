package analytics

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jpsweeney97/phaser/internal/formatter"
	"github.com/jpsweeney97/phaser/internal/types"
)

// Format selects the rendering of Export/Show output.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
)

// Export writes records to w in the requested format (§4.13, `analytics
// show/export` CLI surface).
func Export(w io.Writer, records []*types.ExecutionRecord, format Format) error {
	if format == FormatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	table := formatter.NewTable(w, "STATUS", "TITLE", "STARTED", "PHASES", "TESTS", "EXECUTION ID")
	for _, r := range records {
		table.AddRow(
			renderStatusSymbol(string(r.Status)),
			r.DocumentTitle,
			r.StartedAt.Format("2006-01-02 15:04"),
			fmt.Sprintf("%d/%d", r.PhasesCompleted, r.PhasesPlanned),
			fmt.Sprintf("%+d", r.TestDelta()),
			r.ExecutionID,
		)
	}
	return table.Render()
}

// ExportAggregation writes a summary of agg to w in the requested format.
func ExportAggregation(w io.Writer, agg Aggregation, format Format) error {
	if format == FormatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(agg)
	}

	table := formatter.NewTable(w, "METRIC", "VALUE")
	table.AddRow("total", fmt.Sprintf("%d", agg.Total))
	table.AddRow("successful", fmt.Sprintf("%d", agg.Successful))
	table.AddRow("partial", fmt.Sprintf("%d", agg.Partial))
	table.AddRow("failed", fmt.Sprintf("%d", agg.Failed))
	table.AddRow("success_rate", fmt.Sprintf("%.2f%%", agg.SuccessRate*100))
	table.AddRow("duration_min_s", fmt.Sprintf("%.1f", agg.DurationMinSeconds))
	table.AddRow("duration_avg_s", fmt.Sprintf("%.1f", agg.DurationAvgSeconds))
	table.AddRow("duration_max_s", fmt.Sprintf("%.1f", agg.DurationMaxSeconds))
	table.AddRow("total_test_delta", fmt.Sprintf("%+d", agg.TotalTestDelta))
	table.AddRow("avg_test_delta", fmt.Sprintf("%.1f", agg.AvgTestDelta))
	table.AddRow("phase_success_rate", fmt.Sprintf("%.2f%%", agg.PhaseSuccessRate*100))
	return table.Render()
}
