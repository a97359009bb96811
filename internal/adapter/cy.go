package adapter

import (
	"context"
	"regexp"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/sells-group/lobbyharvest/internal/fetcher"
	"github.com/sells-group/lobbyharvest/internal/model"
	"github.com/sells-group/lobbyharvest/internal/normalize"
	"github.com/sells-group/lobbyharvest/internal/source"
)

// CYBaseURL is the Cyprus Anti-Corruption Authority, which keeps the
// lobbying register.
const CYBaseURL = "https://www.iaac.org.cy"

const cyRegisterPath = "/iaac/iaac.nsf/table3_el/table3_el?openform"

// Register table columns.
const (
	cyColFirm    = 1
	cyColRegDate = 3
	cyColRegNo   = 4
	cyColClients = 6
	cyMinCols    = 7
)

var listNumbering = regexp.MustCompile(`^\d+[.)]\s*`)

// CY reads the Cyprus lobbying register: one Greek-language table whose
// rows hold the firm, its registration date and number, and its clients in
// a single cell.
type CY struct {
	base
}

// NewCY creates the cy_lobbying adapter.
func NewCY(c *fetcher.Client) *CY {
	return &CY{base{
		id:      "cy_lobbying",
		client:  c,
		layouts: normalize.Layouts(normalize.DayFirst, normalize.TwoDigitYear, normalize.ISO),
	}}
}

// Fetch implements source.Adapter.
func (c *CY) Fetch(ctx context.Context, firm string, _ time.Duration) (*source.RawResult, error) {
	doc, err := c.client.GetHTML(ctx, cyRegisterPath, nil)
	if err != nil {
		return nil, err
	}

	var entries []*goquery.Selection
	var names []string
	doc.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td")
		if cells.Length() < cyMinCols {
			return
		}
		entries = append(entries, cells)
		names = append(names, fetcher.Text(cells.Eq(cyColFirm)))
	})
	if len(entries) == 0 {
		return nil, source.Parsef("cy_lobbying: register table missing")
	}

	_, best := Best(firm, names)
	if best == model.Unverified {
		return nil, source.NotFound("cy_lobbying: no registered lobbyist matching %q", firm)
	}

	raw := newResult(firm)
	for i, cells := range entries {
		// A firm can be registered more than once; keep every row that
		// matches as well as the best one.
		if Match(firm, names[i]) != best {
			continue
		}
		if raw.EntityName == "" {
			raw.EntityName = names[i]
		}
		regNo := fetcher.Text(cells.Eq(cyColRegNo))
		regDate := fetcher.Text(cells.Eq(cyColRegDate))
		for _, line := range fetcher.Lines(cells.Eq(cyColClients)) {
			raw.Records = append(raw.Records, source.RawRecord{
				KeyClient:  listNumbering.ReplaceAllString(line, ""),
				KeyFirmReg: regNo,
				KeyStart:   regDate,
				KeyEntity:  names[i],
			})
		}
	}
	return raw, nil
}
