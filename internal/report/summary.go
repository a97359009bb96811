package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/sells-group/lobbyharvest/internal/model"
)

// WriteSummary renders one row per source outcome.
func WriteSummary(w io.Writer, rep *model.ResultReport) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetTitle(fmt.Sprintf("%s: %d records", rep.FirmName, len(rep.Records)))
	tw.AppendHeader(table.Row{"Source", "Status", "Records", "Attempts", "Elapsed", "Error"})
	for _, o := range rep.Outcomes {
		tw.AppendRow(table.Row{
			o.SourceID,
			statusLabel(o),
			len(o.Records),
			o.Attempts,
			o.Duration.Round(time.Millisecond).String(),
			errorLabel(o.Error),
		})
	}
	tw.SetStyle(table.StyleRounded)
	tw.Render()
}

// WriteFailures writes one line per failed source, for stderr when no
// source succeeded.
func WriteFailures(w io.Writer, rep *model.ResultReport) {
	failed := rep.Failed()
	fmt.Fprintf(w, "all %d selected sources failed for %q:\n", len(failed), rep.FirmName)
	for _, o := range failed {
		fmt.Fprintf(w, "  %s: %s\n", o.SourceID, errorLabel(o.Error))
	}
}

func statusLabel(o model.SourceOutcome) string {
	if o.NotFound {
		return string(o.Status) + " (not found)"
	}
	return string(o.Status)
}

func errorLabel(e *model.OutcomeError) string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if len(msg) > 80 {
		msg = msg[:77] + "..."
	}
	return strings.TrimSpace(string(e.Kind) + ": " + msg)
}
