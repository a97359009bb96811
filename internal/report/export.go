package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lobbyharvest/internal/model"
)

// Format is an export serialization.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat converts a flag value into a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "csv":
		return FormatCSV, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", eris.Errorf("unknown format: %q (valid: csv, json)", s)
	}
}

// ContentType returns the HTTP content type of the format.
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv; charset=utf-8"
	}
	return "application/json"
}

// Write serializes rep to w in the given format.
func Write(w io.Writer, rep *model.ResultReport, f Format) error {
	switch f {
	case FormatCSV:
		return WriteCSV(w, rep.Records)
	case FormatJSON:
		return WriteJSON(w, rep)
	default:
		return eris.Errorf("report: unsupported format %q", f)
	}
}

// csvRow is the flat CSV shape of a record.
type csvRow struct {
	FirmName                 string `csv:"firm_name"`
	FirmRegistrationNumber   string `csv:"firm_registration_number"`
	ClientName               string `csv:"client_name"`
	ClientRegistrationNumber string `csv:"client_registration_number"`
	ClientStartDate          string `csv:"client_start_date"`
	ClientEndDate            string `csv:"client_end_date"`
	SourceIDs                string `csv:"source_ids"`
	Confidence               string `csv:"confidence"`
}

// SourceIDSeparator joins multiple source ids in one CSV cell.
const SourceIDSeparator = ";"

func toRow(r model.Record) csvRow {
	return csvRow{
		FirmName:                 r.FirmName,
		FirmRegistrationNumber:   r.FirmRegistrationNumber,
		ClientName:               r.ClientName,
		ClientRegistrationNumber: r.ClientRegistrationNumber,
		ClientStartDate:          dateString(r.ClientStartDate),
		ClientEndDate:            dateString(r.ClientEndDate),
		SourceIDs:                strings.Join(r.SourceIDs, SourceIDSeparator),
		Confidence:               r.Confidence.String(),
	}
}

func dateString(d *model.Date) string {
	if d == nil {
		return ""
	}
	return d.String()
}

// WriteCSV writes records as CSV with a fixed header. The header is written
// even when there are no records.
func WriteCSV(w io.Writer, records []model.Record) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)
	enc.AutoHeader = false
	if err := enc.EncodeHeader(csvRow{}); err != nil {
		return eris.Wrap(err, "report: write csv header")
	}
	for _, r := range records {
		if err := enc.Encode(toRow(r)); err != nil {
			return eris.Wrap(err, "report: write csv row")
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "report: flush csv")
	}
	return nil
}

// WriteJSON writes the full report, outcomes included, as indented JSON.
func WriteJSON(w io.Writer, rep *model.ResultReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return eris.Wrap(err, "report: encode json")
	}
	return nil
}

var unsafeName = regexp.MustCompile(`[^\p{L}\p{N}_.-]+`)

// DefaultFilename names an output file after the firm and generation time:
// "Acme Co." at 2024-05-01 13:04:05 UTC becomes
// "Acme_Co._20240501_130405.csv".
func DefaultFilename(firm string, f Format, at time.Time) string {
	name := unsafeName.ReplaceAllString(strings.TrimSpace(firm), "_")
	name = strings.Trim(name, "_")
	if name == "" {
		name = "report"
	}
	return fmt.Sprintf("%s_%s.%s", name, at.UTC().Format("20060102_150405"), f)
}
