package main

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lobbyharvest/internal/harvest"
	"github.com/sells-group/lobbyharvest/internal/model"
	"github.com/sells-group/lobbyharvest/internal/report"
)

var (
	harvestFirm    string
	harvestSources []string
	harvestFormat  string
	harvestOut     outputOptions
)

// outputOptions controls where a harvest report goes.
type outputOptions struct {
	Path  string
	Dir   string
	Quiet bool
}

// errAllFailed makes the command exit non-zero once the failures have been
// printed.
var errAllFailed = eris.New("all selected sources failed")

var harvestCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Query lobbying registries for a firm's clients",
	Example: `  lobbyharvest harvest --firm "FTI Consulting"
  lobbyharvest harvest -f "Brunswick Group" --sources uk_lobbying,lobbyfacts --format csv --output-dir out/`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := report.ParseFormat(harvestFormat)
		if err != nil {
			return err
		}

		h, err := initHarvester(cfg)
		if err != nil {
			return err
		}

		q := harvest.Query{FirmName: harvestFirm, Sources: harvestSources}
		return runHarvest(cmd.Context(), h, q, format, harvestOut, cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

// runHarvest runs one query, writes the report and prints the per-source
// summary to errOut. The report is written even when every source failed,
// so the outcomes stay auditable; the command then exits non-zero.
func runHarvest(ctx context.Context, h *harvest.Harvester, q harvest.Query, format report.Format, opts outputOptions, out, errOut io.Writer) error {
	rep, err := h.Run(ctx, q)
	if err != nil {
		return err
	}

	path, err := writeReport(rep, format, opts, out)
	if err != nil {
		return err
	}
	if path != "" {
		zap.L().Info("report written", zap.String("path", path), zap.Int("records", len(rep.Records)))
	}

	if len(rep.Outcomes) > 0 && !rep.AnySucceeded() {
		report.WriteFailures(errOut, rep)
		return errAllFailed
	}
	if !opts.Quiet {
		report.WriteSummary(errOut, rep)
	}
	return nil
}

// writeReport writes rep to opts.Path, to a generated file under opts.Dir,
// or to stdout when neither is set. It returns the path written, if any.
func writeReport(rep *model.ResultReport, format report.Format, opts outputOptions, stdout io.Writer) (string, error) {
	path := opts.Path
	if path == "" && opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return "", eris.Wrapf(err, "create output dir %s", opts.Dir)
		}
		path = filepath.Join(opts.Dir, report.DefaultFilename(rep.FirmName, format, rep.GeneratedAt))
	}
	if path == "" {
		return "", report.Write(stdout, rep, format)
	}

	f, err := os.Create(path)
	if err != nil {
		return "", eris.Wrapf(err, "create output file %s", path)
	}
	if err := report.Write(f, rep, format); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", eris.Wrapf(err, "close output file %s", path)
	}
	return path, nil
}

func init() {
	harvestCmd.Flags().StringVarP(&harvestFirm, "firm", "f", "", "name of the lobbying firm to search for (required)")
	harvestCmd.Flags().StringSliceVarP(&harvestSources, "sources", "s", nil, "source ids to query, in order (default: all enabled)")
	harvestCmd.Flags().StringVar(&harvestFormat, "format", "json", "output format: json or csv")
	harvestCmd.Flags().StringVarP(&harvestOut.Path, "output", "o", "", "output file path (default: stdout)")
	harvestCmd.Flags().StringVar(&harvestOut.Dir, "output-dir", "", "write to a timestamped file in this directory")
	harvestCmd.Flags().BoolVarP(&harvestOut.Quiet, "quiet", "q", false, "skip the per-source summary on stderr")
	_ = harvestCmd.MarkFlagRequired("firm")
	harvestCmd.MarkFlagsMutuallyExclusive("output", "output-dir")
	rootCmd.AddCommand(harvestCmd)
}
