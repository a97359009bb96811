package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lobbyharvest/internal/harvest"
	"github.com/sells-group/lobbyharvest/internal/model"
	"github.com/sells-group/lobbyharvest/internal/report"
	"github.com/sells-group/lobbyharvest/internal/source"
)

func testReport() *model.ResultReport {
	return &model.ResultReport{
		RunID:    "run-1",
		FirmName: "Acme Co.",
		Records: []model.Record{
			{FirmName: "Acme Co.", ClientName: "Globex", SourceIDs: []string{"a"}, Confidence: model.Exact},
		},
		GeneratedAt: fixedNow,
	}
}

func TestRunHarvest_WritesReportAndSummary(t *testing.T) {
	h := newTestHarvester(t,
		stubAdapter{id: "a", clients: []string{"Globex", "Initech"}},
		stubAdapter{id: "b", err: source.Parsef("layout changed")},
	)

	var out, errOut bytes.Buffer
	err := runHarvest(t.Context(), h, harvest.Query{FirmName: "Acme"}, report.FormatJSON, outputOptions{}, &out, &errOut)
	require.NoError(t, err)

	var rep model.ResultReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &rep))
	assert.Equal(t, "Acme", rep.FirmName)
	assert.Len(t, rep.Records, 2)
	require.Len(t, rep.Outcomes, 2)

	summary := errOut.String()
	assert.Contains(t, summary, "Acme: 2 records")
	assert.Contains(t, summary, "success")
	assert.Contains(t, summary, "parse")
}

func TestRunHarvest_Quiet(t *testing.T) {
	h := newTestHarvester(t, stubAdapter{id: "a", clients: []string{"Globex"}})

	var out, errOut bytes.Buffer
	err := runHarvest(t.Context(), h, harvest.Query{FirmName: "Acme"}, report.FormatCSV, outputOptions{Quiet: true}, &out, &errOut)
	require.NoError(t, err)

	assert.Empty(t, errOut.String())
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "firm_name,"))
	assert.Contains(t, lines[1], "Globex")
}

func TestRunHarvest_AllFailed(t *testing.T) {
	h := newTestHarvester(t,
		stubAdapter{id: "a", err: source.Parsef("layout changed")},
		stubAdapter{id: "b", err: source.Parsef("no table")},
	)

	var out, errOut bytes.Buffer
	err := runHarvest(t.Context(), h, harvest.Query{FirmName: "Acme"}, report.FormatJSON, outputOptions{}, &out, &errOut)
	require.ErrorIs(t, err, errAllFailed)

	// The report is still written.
	var rep model.ResultReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &rep))
	assert.Len(t, rep.Outcomes, 2)

	assert.Contains(t, errOut.String(), `all 2 selected sources failed for "Acme"`)
	assert.Contains(t, errOut.String(), "a: parse")
	assert.Contains(t, errOut.String(), "b: parse")
}

func TestRunHarvest_InvalidQuery(t *testing.T) {
	h := newTestHarvester(t, stubAdapter{id: "a"})

	var out, errOut bytes.Buffer
	err := runHarvest(t.Context(), h, harvest.Query{FirmName: "Acme", Sources: []string{"nope"}}, report.FormatJSON, outputOptions{}, &out, &errOut)
	assert.Error(t, err)
	assert.Empty(t, out.String())

	err = runHarvest(t.Context(), h, harvest.Query{FirmName: "  "}, report.FormatJSON, outputOptions{}, &out, &errOut)
	assert.Error(t, err)
}

func TestWriteReport_Stdout(t *testing.T) {
	var buf bytes.Buffer
	path, err := writeReport(testReport(), report.FormatCSV, outputOptions{}, &buf)
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Contains(t, buf.String(), "Acme Co.,,Globex")
}

func TestWriteReport_Path(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")

	var buf bytes.Buffer
	got, err := writeReport(testReport(), report.FormatJSON, outputOptions{Path: path}, &buf)
	require.NoError(t, err)
	assert.Equal(t, path, got)
	assert.Empty(t, buf.String())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"run_id": "run-1"`)
}

func TestWriteReport_OutputDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "out")

	got, err := writeReport(testReport(), report.FormatCSV, outputOptions{Dir: dir}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Acme_Co._20240501_130405.csv"), got)

	_, err = os.Stat(got)
	assert.NoError(t, err)
}

func TestWriteReport_BadPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "out.json")
	_, err := writeReport(testReport(), report.FormatJSON, outputOptions{Path: path}, &bytes.Buffer{})
	assert.Error(t, err)
}
